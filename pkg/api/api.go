package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/weberc2/blockfs/pkg/filesystem"
	. "github.com/weberc2/blockfs/pkg/types"
	pz "github.com/weberc2/httpeasy"
)

type logging struct {
	Message   string `json:"message"`
	Path      string `json:"path,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Service exposes a mounted file system over HTTP. Paths are passed in the
// `path` query parameter.
type Service struct {
	FS *filesystem.FileSystem
}

type Volume struct {
	Name        string `json:"name"`
	UUID        string `json:"uuid"`
	Blocks      Block  `json:"blocks"`
	FreeBlocks  int    `json:"freeBlocks"`
	RootDir     Block  `json:"rootDir"`
	OpenInodes  int    `json:"openInodes"`
	CachedPaths int    `json:"cachedPaths"`
}

func (s *Service) Routes() []pz.Route {
	return []pz.Route{
		s.VolumeRoute(),
		s.CacheRoute(),
		s.GetFileRoute(),
		s.PutFileRoute(),
		s.DeleteFileRoute(),
		s.ListDirRoute(),
		s.MakeDirRoute(),
	}
}

func (s *Service) VolumeRoute() pz.Route {
	return pz.Route{
		Path:   "/api/volume",
		Method: "GET",
		Handler: func(r pz.Request) pz.Response {
			sb := s.FS.Superblock()
			return pz.Ok(pz.JSON(&Volume{
				Name:        sb.VolumeName,
				UUID:        sb.UUID.String(),
				Blocks:      sb.BlockCount,
				FreeBlocks:  s.FS.FreeBlocks(),
				RootDir:     sb.RootDir,
				OpenInodes:  s.FS.OpenInodes(),
				CachedPaths: s.FS.CachedPaths(),
			}))
		},
	}
}

func (s *Service) CacheRoute() pz.Route {
	return pz.Route{
		Path:   "/api/cache",
		Method: "GET",
		Handler: func(r pz.Request) pz.Response {
			stats := s.FS.CacheStats()
			return pz.Ok(pz.JSON(&stats))
		},
	}
}

func (s *Service) GetFileRoute() pz.Route {
	return pz.Route{
		Path:   "/api/files",
		Method: "GET",
		Handler: withPath(func(r pz.Request, p string) pz.Response {
			f, err := s.FS.OpenFile(p)
			if err != nil {
				return errorResponse("opening file", p, err)
			}
			defer f.Close()

			data, err := ioutil.ReadAll(f)
			if err != nil {
				return errorResponse("reading file", p, err)
			}
			return pz.Ok(
				func() (io.WriterTo, error) { return bytes.NewReader(data), nil },
				&logging{
					Message: "read file",
					Path:    p,
					Bytes:   int64(len(data)),
				},
			)
		}),
	}
}

// PutFileRoute creates a file from the request body. Existing files are
// never overwritten.
func (s *Service) PutFileRoute() pz.Route {
	return pz.Route{
		Path:   "/api/files",
		Method: "PUT",
		Handler: withPath(func(r pz.Request, p string) pz.Response {
			if err := s.FS.Create(p, 0); err != nil {
				return errorResponse("creating file", p, err)
			}
			f, err := s.FS.OpenFile(p)
			if err != nil {
				return errorResponse("opening file", p, err)
			}
			defer f.Close()

			n, err := io.Copy(f, r.Body)
			if err != nil {
				return errorResponse("writing file", p, err)
			}
			return pz.Created(pz.Stringf("wrote %d bytes", n), &logging{
				Message: "wrote file",
				Path:    p,
				Bytes:   n,
			})
		}),
	}
}

func (s *Service) DeleteFileRoute() pz.Route {
	return pz.Route{
		Path:   "/api/files",
		Method: "DELETE",
		Handler: withPath(func(r pz.Request, p string) pz.Response {
			if err := s.FS.Remove(p); err != nil {
				return errorResponse("removing", p, err)
			}
			return pz.Ok(pz.String("removed"), &logging{
				Message: "removed",
				Path:    p,
			})
		}),
	}
}

func (s *Service) ListDirRoute() pz.Route {
	return pz.Route{
		Path:   "/api/dirs",
		Method: "GET",
		Handler: withPath(func(r pz.Request, p string) pz.Response {
			infos, err := s.FS.ReadDir(p)
			if err != nil {
				return errorResponse("listing directory", p, err)
			}
			return pz.Ok(pz.JSON(infos), &logging{
				Message: "listed directory",
				Path:    p,
			})
		}),
	}
}

func (s *Service) MakeDirRoute() pz.Route {
	return pz.Route{
		Path:   "/api/dirs",
		Method: "POST",
		Handler: withPath(func(r pz.Request, p string) pz.Response {
			if err := s.FS.CreateDir(p); err != nil {
				return errorResponse("creating directory", p, err)
			}
			return pz.Created(pz.String("created"), &logging{
				Message: "created directory",
				Path:    p,
			})
		}),
	}
}

func withPath(handler func(pz.Request, string) pz.Response) pz.Handler {
	return func(r pz.Request) pz.Response {
		var p string
		if r.URL != nil {
			p = r.URL.Query().Get("path")
		}
		if p == "" {
			return pz.BadRequest(
				pz.String("missing `path` query parameter"),
				&logging{Message: "missing `path` query parameter"},
			)
		}
		return handler(r, p)
	}
}

func errorResponse(message, p string, err error) pz.Response {
	l := logging{
		Message:   message,
		Path:      p,
		ErrorType: fmt.Sprintf("%T", err),
		Error:     err.Error(),
	}
	body := pz.String(err.Error())
	switch {
	case errors.Is(err, NotFoundErr):
		return pz.NotFound(body, &l)
	case errors.Is(err, ExistsErr),
		errors.Is(err, DirectoryNotEmptyErr),
		errors.Is(err, DirectoryBusyErr):
		return pz.Conflict(body, &l)
	case errors.Is(err, InvalidPathErr),
		errors.Is(err, NameTooLongErr),
		errors.Is(err, NotDirectoryErr),
		errors.Is(err, IsDirectoryErr):
		return pz.BadRequest(body, &l)
	case errors.Is(err, OutOfBlocksErr), errors.Is(err, FileTooLargeErr):
		return pz.Response{
			Status: http.StatusInsufficientStorage,
			Data:   body,
		}.WithLogging(&l)
	default:
		return pz.InternalServerError(&l)
	}
}

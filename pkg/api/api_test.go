package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/weberc2/blockfs/pkg/blockstore"
	"github.com/weberc2/blockfs/pkg/filesystem"
	pz "github.com/weberc2/httpeasy"
	pztest "github.com/weberc2/httpeasy/testsupport"
)

func newService(t *testing.T) *Service {
	t.Helper()
	store := blockstore.NewMemoryBlockStore(256)
	if _, err := filesystem.Format(store, filesystem.FormatOptions{
		Blocks:     256,
		VolumeName: "api",
	}); err != nil {
		t.Fatalf("Format(): unexpected err: %v", err)
	}
	fs, err := filesystem.Mount(store, filesystem.DefaultMountOptions())
	if err != nil {
		t.Fatalf("Mount(): unexpected err: %v", err)
	}
	t.Cleanup(func() { fs.Close() })
	return &Service{FS: fs}
}

func request(t *testing.T, p string, body string) pz.Request {
	t.Helper()
	u, err := url.Parse("/api?path=" + url.QueryEscape(p))
	if err != nil {
		t.Fatalf("url.Parse(): unexpected err: %v", err)
	}
	return pz.Request{URL: u, Body: strings.NewReader(body)}
}

func expectStatus(t *testing.T, rsp pz.Response, wanted int) {
	t.Helper()
	if rsp.Status != wanted {
		data, err := json.Marshal(rsp.Logging)
		if err != nil {
			t.Logf("failed to marshal handler logs: %v", err)
		}
		t.Logf("request logs: %s", data)
		t.Fatalf("Status: wanted `%d`; found `%d`", wanted, rsp.Status)
	}
}

func TestService_Files(t *testing.T) {
	s := newService(t)

	expectStatus(t, s.MakeDirRoute().Handler(request(t, "/docs", "")), http.StatusCreated)
	expectStatus(
		t,
		s.PutFileRoute().Handler(request(t, "/docs/readme", "hello, world")),
		http.StatusCreated,
	)
	expectStatus(
		t,
		s.PutFileRoute().Handler(request(t, "/docs/readme", "again")),
		http.StatusConflict,
	)

	rsp := s.GetFileRoute().Handler(request(t, "/docs/readme", ""))
	expectStatus(t, rsp, http.StatusOK)
	data, err := pztest.ReadAll(rsp.Data)
	if err != nil {
		t.Fatalf("ReadAll(): unexpected err: %v", err)
	}
	if string(data) != "hello, world" {
		t.Fatalf("GetFile: wanted `hello, world`; found `%s`", data)
	}

	rsp = s.ListDirRoute().Handler(request(t, "/docs", ""))
	expectStatus(t, rsp, http.StatusOK)
	if data, err = pztest.ReadAll(rsp.Data); err != nil {
		t.Fatalf("ReadAll(): unexpected err: %v", err)
	}
	var infos []filesystem.FileInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		t.Fatalf("json.Unmarshal(): unexpected err: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "readme" || infos[0].Length != 12 {
		t.Fatalf("ListDir: unexpected entries: `%+v`", infos)
	}

	expectStatus(t, s.DeleteFileRoute().Handler(request(t, "/docs", "")), http.StatusConflict)
	expectStatus(t, s.DeleteFileRoute().Handler(request(t, "/docs/readme", "")), http.StatusOK)
	expectStatus(t, s.GetFileRoute().Handler(request(t, "/docs/readme", "")), http.StatusNotFound)
}

func TestService_BadRequests(t *testing.T) {
	s := newService(t)

	for _, testCase := range []struct {
		name    string
		route   func(*Service) pz.Route
		request pz.Request
		wanted  int
	}{
		{
			name:    "missing path",
			route:   (*Service).GetFileRoute,
			request: pz.Request{URL: &url.URL{Path: "/api/files"}},
			wanted:  http.StatusBadRequest,
		},
		{
			name:    "directory as file",
			route:   (*Service).GetFileRoute,
			request: request(t, "/", ""),
			wanted:  http.StatusBadRequest,
		},
		{
			name:    "name too long",
			route:   (*Service).MakeDirRoute,
			request: request(t, "/a-very-long-directory-name", ""),
			wanted:  http.StatusBadRequest,
		},
		{
			name:    "missing parent",
			route:   (*Service).PutFileRoute,
			request: request(t, "/nope/file", "x"),
			wanted:  http.StatusNotFound,
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			expectStatus(t, testCase.route(s).Handler(testCase.request), testCase.wanted)
		})
	}
}

func TestService_Volume(t *testing.T) {
	s := newService(t)
	rsp := s.VolumeRoute().Handler(pz.Request{})
	expectStatus(t, rsp, http.StatusOK)

	data, err := pztest.ReadAll(rsp.Data)
	if err != nil {
		t.Fatalf("ReadAll(): unexpected err: %v", err)
	}
	var volume Volume
	if err := json.Unmarshal(data, &volume); err != nil {
		t.Fatalf("json.Unmarshal(): unexpected err: %v", err)
	}
	if volume.Name != "api" || volume.Blocks != 256 || volume.OpenInodes != 1 {
		t.Fatalf("Volume: unexpected payload: `%+v`", volume)
	}

	expectStatus(t, s.CacheRoute().Handler(pz.Request{}), http.StatusOK)
}

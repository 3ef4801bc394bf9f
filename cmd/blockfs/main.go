package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/gosimple/slug"
	"github.com/urfave/cli/v2"
	"github.com/weberc2/blockfs/pkg/api"
	"github.com/weberc2/blockfs/pkg/blockstore"
	"github.com/weberc2/blockfs/pkg/filesystem"
	. "github.com/weberc2/blockfs/pkg/types"
	pz "github.com/weberc2/httpeasy"
)

var (
	flagBlocks = slug.Make("Blocks")
	flagVolume = slug.Make("Volume Name")
	flagLength = slug.Make("Length")
)

func main() {
	app := cli.App{
		Name:        appName,
		Description: "a block-addressed file system over memory, files, S3 or postgres",
		Commands: []*cli.Command{{
			Name:        "format",
			Aliases:     []string{"mkfs"},
			Description: "lay out an empty file system on the configured store",
			Flags: []cli.Flag{
				&cli.UintFlag{
					Name:  flagBlocks,
					Usage: "volume size in blocks; defaults to the config",
				},
				&cli.StringFlag{
					Name:  flagVolume,
					Usage: "volume name; defaults to the config",
				},
			},
			Action: withConfig(func(c *Config, ctx *cli.Context) error {
				if ctx.IsSet(flagBlocks) {
					c.Blocks = uint32(ctx.Uint(flagBlocks))
				}
				if ctx.IsSet(flagVolume) {
					c.Volume = ctx.String(flagVolume)
				}
				if err := c.Validate(); err != nil {
					return err
				}
				store, closeStore, err := c.OpenStore()
				if err != nil {
					return err
				}
				defer closeStore()
				sb, err := filesystem.Format(store, c.FormatOptions())
				if err != nil {
					return err
				}
				return printJSON(&sb)
			}),
		}, {
			Name:        "put",
			Description: "copy a local file (or stdin, given `-`) into the file system",
			ArgsUsage:   "<local file> <path>",
			Action: withFS(func(fs *filesystem.FileSystem, ctx *cli.Context) error {
				if ctx.Args().Len() != 2 {
					return fmt.Errorf("usage: put <local file> <path>")
				}
				var src io.Reader = os.Stdin
				if name := ctx.Args().Get(0); name != "-" {
					f, err := os.Open(name)
					if err != nil {
						return fmt.Errorf("opening local file: %w", err)
					}
					defer f.Close()
					src = f
				}
				dst := ctx.Args().Get(1)
				if err := fs.Create(dst, 0); err != nil {
					return err
				}
				f, err := fs.OpenFile(dst)
				if err != nil {
					return err
				}
				defer f.Close()
				if _, err := io.Copy(f, src); err != nil {
					return fmt.Errorf("copying into `%s`: %w", dst, err)
				}
				return nil
			}),
		}, {
			Name:        "get",
			Aliases:     []string{"cat"},
			Description: "write a file's contents to stdout",
			ArgsUsage:   "<path>",
			Action: withFS(func(fs *filesystem.FileSystem, ctx *cli.Context) error {
				f, err := fs.OpenFile(ctx.Args().First())
				if err != nil {
					return err
				}
				defer f.Close()
				if _, err := io.Copy(os.Stdout, f); err != nil {
					return fmt.Errorf("writing to stdout: %w", err)
				}
				return nil
			}),
		}, {
			Name:        "touch",
			Description: "create a file of zero bytes",
			ArgsUsage:   "<path>",
			Flags: []cli.Flag{
				&cli.Int64Flag{
					Name:  flagLength,
					Usage: "preallocate this many zero bytes",
				},
			},
			Action: withFS(func(fs *filesystem.FileSystem, ctx *cli.Context) error {
				return fs.Create(ctx.Args().First(), Byte(ctx.Int64(flagLength)))
			}),
		}, {
			Name:        "ls",
			Description: "list a directory",
			ArgsUsage:   "[path]",
			Action: withFS(func(fs *filesystem.FileSystem, ctx *cli.Context) error {
				p := "/"
				if ctx.Args().Present() {
					p = ctx.Args().First()
				}
				infos, err := fs.ReadDir(p)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				for _, info := range infos {
					kind := "-"
					if info.IsDir {
						kind = "d"
					}
					fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", kind, info.Inode, info.Length, info.Name)
				}
				return w.Flush()
			}),
		}, {
			Name:        "mkdir",
			Description: "create a directory",
			ArgsUsage:   "<path>",
			Action: withFS(func(fs *filesystem.FileSystem, ctx *cli.Context) error {
				return fs.CreateDir(ctx.Args().First())
			}),
		}, {
			Name:        "rm",
			Aliases:     []string{"remove", "delete"},
			Description: "remove a file or an empty directory",
			ArgsUsage:   "<path>",
			Action: withFS(func(fs *filesystem.FileSystem, ctx *cli.Context) error {
				return fs.Remove(ctx.Args().First())
			}),
		}, {
			Name:        "stat",
			Description: "print volume, cache and (optionally) file details",
			ArgsUsage:   "[path]",
			Action: withFS(func(fs *filesystem.FileSystem, ctx *cli.Context) error {
				sb := fs.Superblock()
				out := struct {
					Volume     string               `json:"volume"`
					UUID       string               `json:"uuid"`
					Blocks     uint32               `json:"blocks"`
					FreeBlocks int                  `json:"freeBlocks"`
					Cache      interface{}          `json:"cache"`
					File       *filesystem.FileInfo `json:"file,omitempty"`
				}{
					Volume:     sb.VolumeName,
					UUID:       sb.UUID.String(),
					Blocks:     uint32(sb.BlockCount),
					FreeBlocks: fs.FreeBlocks(),
					Cache:      fs.CacheStats(),
				}
				if ctx.Args().Present() {
					info, err := fs.Stat(ctx.Args().First())
					if err != nil {
						return err
					}
					out.File = &info
				}
				return printJSON(&out)
			}),
		}, {
			Name:        "serve",
			Description: "serve the file system over HTTP",
			Action: withConfig(func(c *Config, ctx *cli.Context) error {
				return mount(c, func(fs *filesystem.FileSystem) error {
					service := api.Service{FS: fs}
					log.Printf(`{"message": "listening on %s"}`, c.Addr)
					if err := http.ListenAndServe(
						c.Addr,
						pz.Register(pz.JSONLog(os.Stderr), service.Routes()...),
					); err != nil {
						return fmt.Errorf("starting server: %w", err)
					}
					return nil
				})
			}),
		}, {
			Name:        "destroy",
			Description: "delete every block of the configured s3 or postgres volume",
			Action: withConfig(func(c *Config, ctx *cli.Context) error {
				if err := c.Validate(); err != nil {
					return err
				}
				store, closeStore, err := c.OpenStore()
				if err != nil {
					return err
				}
				defer closeStore()
				switch store := store.(type) {
				case *blockstore.ObjectBlockStore:
					return store.Destroy()
				case *blockstore.PGBlockStore:
					return store.ClearVolume()
				default:
					return fmt.Errorf(
						"destroying volume: unsupported for store `%s`",
						c.Store,
					)
				}
			}),
		}, {
			Name:        "table",
			Description: "commands for the postgres block table",
			Subcommands: []*cli.Command{{
				Name:        "ensure",
				Aliases:     []string{"make", "create"},
				Description: "create the table if it doesn't already exist",
				Action: withPGStore(func(store *blockstore.PGBlockStore, ctx *cli.Context) error {
					return store.EnsureTable()
				}),
			}, {
				Name:        "drop",
				Aliases:     []string{"delete", "destroy"},
				Description: "drop the postgres table",
				Action: withPGStore(func(store *blockstore.PGBlockStore, ctx *cli.Context) error {
					return store.DropTable()
				}),
			}, {
				Name:        "reset",
				Description: "delete and recreate the postgres table",
				Action: withPGStore(func(store *blockstore.PGBlockStore, ctx *cli.Context) error {
					return store.ResetTable()
				}),
			}, {
				Name:        "clear",
				Description: "delete the configured volume's blocks without dropping the table",
				Action: withPGStore(func(store *blockstore.PGBlockStore, ctx *cli.Context) error {
					return store.ClearVolume()
				}),
			}},
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withConfig(f func(*Config, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		c, err := LoadConfig()
		if err != nil {
			return err
		}
		return f(c, ctx)
	}
}

func withFS(f func(*filesystem.FileSystem, *cli.Context) error) cli.ActionFunc {
	return withConfig(func(c *Config, ctx *cli.Context) error {
		return mount(c, func(fs *filesystem.FileSystem) error {
			return f(fs, ctx)
		})
	})
}

// mount mounts the configured volume for the duration of `f` and always
// unmounts it afterwards so that dirty blocks reach the store. A memory
// store is formatted first since it starts out empty.
func mount(c *Config, f func(*filesystem.FileSystem) error) (err error) {
	if err := c.Validate(); err != nil {
		return err
	}
	store, closeStore, err := c.OpenStore()
	if err != nil {
		return err
	}
	defer closeStore()

	if c.Store == StoreMemory {
		if _, err := filesystem.Format(store, c.FormatOptions()); err != nil {
			return err
		}
	}

	fs, err := filesystem.Mount(store, c.MountOptions())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := fs.Close(); err == nil {
			err = closeErr
		}
	}()
	return f(fs)
}

func withPGStore(f func(*blockstore.PGBlockStore, *cli.Context) error) cli.ActionFunc {
	return withConfig(func(c *Config, ctx *cli.Context) error {
		store, db, err := c.openPGStore()
		if err != nil {
			return fmt.Errorf("opening PGBlockStore: %w", err)
		}
		defer db.Close()
		return f(store, ctx)
	})
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling to JSON: %w", err)
	}
	if _, err := fmt.Printf("%s\n", data); err != nil {
		return fmt.Errorf("writing JSON to stdout: %w", err)
	}
	return nil
}

package main

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "blockfs.yaml")
	if err := ioutil.WriteFile(configFile, []byte(`
store: s3
bucket: my-bucket
volume: My Volume
cacheLines: 128
`), 0644); err != nil {
		t.Fatalf("WriteFile(): unexpected err: %v", err)
	}
	t.Setenv("BLOCKFS_CONFIG_FILE", configFile)
	t.Setenv("BLOCKFS_BLOCKS", "1024")

	c, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig(): unexpected err: %v", err)
	}
	if c.Store != StoreS3 || c.Bucket != "my-bucket" || c.Volume != "My Volume" {
		t.Fatalf("LoadConfig(): file values not applied: `%+v`", c)
	}
	if c.CacheLines != 128 || c.Blocks != 1024 {
		t.Fatalf("LoadConfig(): wanted cacheLines `128`, blocks `1024`; found `%+v`", c)
	}
	if c.WriteBackThreshold != 400 || c.Addr != "127.0.0.1:8080" {
		t.Fatalf("LoadConfig(): defaults not applied: `%+v`", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate(): unexpected err: %v", err)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "blockfs.yaml")
	if err := ioutil.WriteFile(configFile, []byte("unknown: 1\n"), 0644); err != nil {
		t.Fatalf("WriteFile(): unexpected err: %v", err)
	}
	t.Setenv("BLOCKFS_CONFIG_FILE", configFile)
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig(): wanted err for unknown field; found `nil`")
	}

	t.Setenv("BLOCKFS_CONFIG_FILE", filepath.Join(dir, "missing.yaml"))
	t.Setenv("BLOCKFS_STORE", "floppy")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig(): wanted err for invalid store; found `nil`")
	}
}

func TestConfig_Validate(t *testing.T) {
	for _, testCase := range []struct {
		name   string
		modify func(*Config)
		wanted string
	}{
		{"file without path", func(c *Config) {}, "path / BLOCKFS_PATH"},
		{"s3 without bucket", func(c *Config) { c.Store = StoreS3 }, "bucket / BLOCKFS_BUCKET"},
		{"unsluggable volume", func(c *Config) {
			c.Store = StoreMemory
			c.Volume = "!!!"
		}, "volume / BLOCKFS_VOLUME"},
		{"no blocks", func(c *Config) {
			c.Store = StoreMemory
			c.Blocks = 0
		}, "blocks / BLOCKFS_BLOCKS"},
		{"valid", func(c *Config) { c.Path = "/tmp/volume.img" }, ""},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			c := DefaultConfig()
			testCase.modify(&c)
			err := c.Validate()
			if testCase.wanted == "" {
				if err != nil {
					t.Fatalf("Validate(): unexpected err: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), testCase.wanted) {
				t.Fatalf("Validate(): wanted `%s`; found `%v`", testCase.wanted, err)
			}
		})
	}
}

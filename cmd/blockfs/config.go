package main

import (
	"database/sql"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/gosimple/slug"
	"github.com/kelseyhightower/envconfig"
	"github.com/weberc2/blockfs/pkg/bcache"
	"github.com/weberc2/blockfs/pkg/blockstore"
	"github.com/weberc2/blockfs/pkg/filesystem"
	"github.com/weberc2/blockfs/pkg/objectstore"
	. "github.com/weberc2/blockfs/pkg/types"
	"gopkg.in/yaml.v2"
)

const (
	envVarPrefix = "BLOCKFS"
	appName      = "blockfs"
)

type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StoreFile     StoreKind = "file"
	StoreS3       StoreKind = "s3"
	StorePostgres StoreKind = "postgres"
)

func (kind *StoreKind) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return kind.Decode(s)
}

// Decode implements envconfig.Decoder.
func (kind *StoreKind) Decode(s string) error {
	switch k := StoreKind(s); k {
	case StoreMemory, StoreFile, StoreS3, StorePostgres:
		*kind = k
		return nil
	default:
		return fmt.Errorf(
			"invalid store `%s`: must be one of `memory`, `file`, `s3` "+
				"or `postgres`",
			s,
		)
	}
}

type Config struct {
	Store              StoreKind `envconfig:"BLOCKFS_STORE"                yaml:"store"`
	Path               string    `envconfig:"BLOCKFS_PATH"                 yaml:"path"`
	Bucket             string    `envconfig:"BLOCKFS_BUCKET"               yaml:"bucket"`
	Region             string    `envconfig:"BLOCKFS_REGION"               yaml:"region"`
	Compress           bool      `envconfig:"BLOCKFS_COMPRESS"             yaml:"compress"`
	Volume             string    `envconfig:"BLOCKFS_VOLUME"               yaml:"volume"`
	Blocks             uint32    `envconfig:"BLOCKFS_BLOCKS"               yaml:"blocks"`
	CacheLines         int       `envconfig:"BLOCKFS_CACHE_LINES"          yaml:"cacheLines"`
	WriteBackThreshold int       `envconfig:"BLOCKFS_WRITE_BACK_THRESHOLD" yaml:"writeBackThreshold"`
	Addr               string    `envconfig:"BLOCKFS_ADDR"                 yaml:"addr"`
}

func DefaultConfig() Config {
	return Config{
		Store:              StoreFile,
		Volume:             "default",
		Blocks:             8192,
		CacheLines:         bcache.DefaultLines,
		WriteBackThreshold: bcache.DefaultWriteBackThreshold,
		Addr:               "127.0.0.1:8080",
	}
}

// LoadConfig starts from the defaults, applies the YAML file named by
// BLOCKFS_CONFIG_FILE (if it exists) and then the BLOCKFS_* environment
// variables.
func LoadConfig() (*Config, error) {
	configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE")
	if configFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating config file: %w", err)
		}
		configFile = filepath.Join(home, ".config", appName+".yaml")
	}

	c := DefaultConfig()
	data, err := ioutil.ReadFile(configFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshaling config file: %w", err)
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	return &c, nil
}

func (c *Config) Validate() error {
	if y, e := func() (string, string) {
		if c.Store == "" {
			return "store", "STORE"
		}
		if c.Store == StoreFile && c.Path == "" {
			return "path", "PATH"
		}
		if c.Store == StoreS3 && c.Bucket == "" {
			return "bucket", "BUCKET"
		}
		if c.Volume == "" || slug.Make(c.Volume) == "" {
			return "volume", "VOLUME"
		}
		if len(c.Volume) > VolumeNameMax {
			return "volume", "VOLUME"
		}
		if c.Blocks == 0 {
			return "blocks", "BLOCKS"
		}
		if c.Addr == "" {
			return "addr", "ADDR"
		}
		return "", ""
	}(); y != "" {
		return fmt.Errorf(
			"missing or invalid configuration: %s / %s_%s",
			y,
			envVarPrefix,
			e,
		)
	}
	return nil
}

func (c *Config) MountOptions() filesystem.MountOptions {
	return filesystem.MountOptions{Cache: bcache.Options{
		Lines:              c.CacheLines,
		WriteBackThreshold: c.WriteBackThreshold,
		Pinned:             []Block{SuperblockBlock},
	}}
}

func (c *Config) FormatOptions() filesystem.FormatOptions {
	return filesystem.FormatOptions{
		Blocks:     Block(c.Blocks),
		VolumeName: c.Volume,
	}
}

// OpenStore opens the configured block store. The returned function
// releases whatever the store holds open.
func (c *Config) OpenStore() (blockstore.BlockStore, func() error, error) {
	nop := func() error { return nil }
	switch c.Store {
	case StoreMemory:
		return blockstore.NewMemoryBlockStore(Block(c.Blocks)), nop, nil
	case StoreFile:
		store, f, err := blockstore.OpenFile(c.Path, Block(c.Blocks))
		if err != nil {
			return nil, nil, err
		}
		return store, f.Close, nil
	case StoreS3:
		var awsConfig aws.Config
		if c.Region != "" {
			awsConfig.Region = aws.String(c.Region)
		}
		sess, err := session.NewSession(&awsConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("creating AWS session: %w", err)
		}
		var objects objectstore.ObjectStore = &objectstore.S3ObjectStore{
			Client: s3.New(sess),
		}
		if c.Compress {
			objects = &objectstore.GzipObjectStore{ObjectStore: objects}
		}
		return &blockstore.ObjectBlockStore{
			Objects: objects,
			Bucket:  c.Bucket,
			Prefix:  slug.Make(c.Volume),
		}, nop, nil
	case StorePostgres:
		store, db, err := c.openPGStore()
		if err != nil {
			return nil, nil, err
		}
		return store, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("invalid store `%s`", c.Store)
	}
}

func (c *Config) openPGStore() (*blockstore.PGBlockStore, *sql.DB, error) {
	db, err := blockstore.OpenPGEnv()
	if err != nil {
		return nil, nil, err
	}
	return blockstore.NewPGBlockStore(db, slug.Make(c.Volume)), db, nil
}

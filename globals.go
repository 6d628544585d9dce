package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/RiemaLabs/modular-block-committer/checkpoint/aws_s3"
	"github.com/RiemaLabs/modular-block-committer/checkpoint/nubit_da"
	"github.com/RiemaLabs/modular-block-committer/getter"
)

const (
	SourceRPC      = "rpc"
	SourceDatabase = "database"

	StorageMySQL    = "mysql"
	StoragePostgres = "postgres"
	StorageLevelDB  = "leveldb"

	DefaultBlockWatcherInterval = 30 * time.Second
)

type Config struct {
	CommitInterval       uint32 `json:"commitInterval" toml:"commitInterval"`
	BlockWatcherInterval string `json:"blockWatcherInterval" toml:"blockWatcherInterval"`
	HandoffCapacity      int    `json:"handoffCapacity" toml:"handoffCapacity"`
	Source               struct {
		Kind     string                `json:"kind" toml:"kind"`
		RPC      getter.RPCConfig      `json:"rpc" toml:"rpc"`
		Database getter.DatabaseConfig `json:"database" toml:"database"`
	} `json:"source" toml:"source"`
	Destination nubit_da.Config `json:"destination" toml:"destination"`
	Storage     struct {
		Kind string `json:"kind" toml:"kind"`
		DSN  string `json:"dsn" toml:"dsn"`
		Path string `json:"path" toml:"path"`
	} `json:"storage" toml:"storage"`
	Archive aws_s3.Config `json:"archive" toml:"archive"`
	Service struct {
		Addr        string `json:"addr" toml:"addr"`
		Name        string `json:"name" toml:"name"`
		EnablePprof bool   `json:"enablePprof" toml:"enablePprof"`
	} `json:"service" toml:"service"`
	MetricAddr string `json:"metricAddr" toml:"metricAddr"`
	Log        struct {
		Level       string `json:"level" toml:"level"`
		Development bool   `json:"development" toml:"development"`
	} `json:"log" toml:"log"`
}

// LoadConfig reads a JSON or TOML config, picked by the file extension.
// Overrides run before validation.
func LoadConfig(path string, overrides ...func(*Config)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	config.setDefaults()
	for _, override := range overrides {
		override(&config)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func (c *Config) setDefaults() {
	if c.HandoffCapacity == 0 {
		c.HandoffCapacity = 1
	}
	if c.Source.Kind == "" {
		c.Source.Kind = SourceRPC
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = StorageLevelDB
	}
	if c.Service.Name == "" {
		c.Service.Name = "block-committer"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) WatchInterval() time.Duration {
	d, err := time.ParseDuration(c.BlockWatcherInterval)
	if err != nil || d <= 0 {
		return DefaultBlockWatcherInterval
	}
	return d
}

func isDuration(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("must be a duration such as 30s")
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.CommitInterval, validation.Required),
		validation.Field(&c.BlockWatcherInterval, validation.By(isDuration)),
		validation.Field(&c.HandoffCapacity, validation.Min(1)),
	); err != nil {
		return err
	}

	source := &c.Source
	if err := validation.ValidateStruct(source,
		validation.Field(&source.Kind, validation.Required, validation.In(SourceRPC, SourceDatabase)),
	); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if source.Kind == SourceRPC {
		if err := validation.ValidateStruct(&source.RPC,
			validation.Field(&source.RPC.URL, validation.Required),
			validation.Field(&source.RPC.Timeout, validation.By(isDuration)),
		); err != nil {
			return fmt.Errorf("source.rpc: %w", err)
		}
	} else {
		if err := validation.ValidateStruct(&source.Database,
			validation.Field(&source.Database.Host, validation.Required),
			validation.Field(&source.Database.DBname, validation.Required),
		); err != nil {
			return fmt.Errorf("source.database: %w", err)
		}
	}

	destination := &c.Destination
	if err := validation.ValidateStruct(destination,
		validation.Field(&destination.RPC, validation.Required),
		validation.Field(&destination.Namespace, validation.By(func(value interface{}) error {
			if ns, _ := value.(string); ns != "" && !nubit_da.IsValidNamespaceID(ns) {
				return fmt.Errorf("must be at most 10 bytes")
			}
			return nil
		})),
		validation.Field(&destination.FetchTimeout, validation.By(isDuration)),
		validation.Field(&destination.SubmitTimeout, validation.By(isDuration)),
		validation.Field(&destination.PollInterval, validation.By(isDuration)),
	); err != nil {
		return fmt.Errorf("destination: %w", err)
	}

	storage := &c.Storage
	if err := validation.ValidateStruct(storage,
		validation.Field(&storage.Kind, validation.Required, validation.In(StorageMySQL, StoragePostgres, StorageLevelDB)),
		validation.Field(&storage.DSN, validation.When(storage.Kind != StorageLevelDB, validation.Required)),
		validation.Field(&storage.Path, validation.When(storage.Kind == StorageLevelDB, validation.Required)),
	); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if c.Archive.Enabled {
		archive := &c.Archive
		if err := validation.ValidateStruct(archive,
			validation.Field(&archive.Bucket, validation.Required),
			validation.Field(&archive.Region, validation.Required),
			validation.Field(&archive.Timeout, validation.By(isDuration)),
		); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}
	return nil
}

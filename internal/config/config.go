// Package config mirrors the teacher's internal/config/config.go: a
// package-level Keys struct with baked-in defaults, optionally
// overridden by a JSON file read at startup and validated before use.
// Where the teacher's Keys describes an HTTP job-monitoring service
// (listen address, DB driver, UI defaults), this Keys describes one
// chunked graph table: its dataset geometry, its backend store, and
// the ambient lock/bus tuning every edit goes through.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/seung-lab/chunkedgraph-go/pkg/cglog"
)

// StoreConfig selects and parameterizes a store.BackendStore. Driver
// is "sqlite3" or "memory"; DSN is the sqlite3 file path and is
// ignored for "memory".
type StoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// GraphMetaConfig is the JSON shape of graphmeta.New's arguments.
type GraphMetaConfig struct {
	NumLayers          int        `json:"num_layers"`
	LayerIDBits        uint       `json:"layer_id_bits"`
	BaseBitsPerDim     uint       `json:"base_bits_per_dim"`
	FanOut             uint       `json:"fan_out"`
	ChunkSize          [3]float64 `json:"chunk_size"`
	Resolution         [3]float64 `json:"resolution"`
	UseSkipConnections bool       `json:"use_skip_connections"`
}

// LockConfig overrides rootlock.DefaultOptions' timings, in
// milliseconds for JSON friendliness.
type LockConfig struct {
	LeaseMillis        int64 `json:"lease_millis"`
	RenewEveryMillis   int64 `json:"renew_every_millis"`
	MaxAttempts        int   `json:"max_attempts"`
	RetryBackoffMillis int64 `json:"retry_backoff_millis"`
}

// ProgramConfig is the full, validated configuration for one
// chunkedgraph process.
type ProgramConfig struct {
	TableID   string          `json:"table_id"`
	LogLevel  string          `json:"log_level"`
	Store     StoreConfig     `json:"store"`
	GraphMeta GraphMetaConfig `json:"graph_meta"`
	Lock      LockConfig      `json:"lock"`
	BusAddr   string          `json:"bus_addr"`
}

// Keys holds the process-wide configuration, starting from the
// defaults below and optionally overridden by Init.
var Keys = ProgramConfig{
	TableID:  "default",
	LogLevel: "info",
	Store: StoreConfig{
		Driver: "memory",
	},
	GraphMeta: GraphMetaConfig{
		NumLayers:      6,
		LayerIDBits:    8,
		BaseBitsPerDim: 10,
		FanOut:         2,
		ChunkSize:      [3]float64{512, 512, 512},
		Resolution:     [3]float64{4, 4, 40},
	},
	Lock: LockConfig{
		LeaseMillis:        30_000,
		RenewEveryMillis:   10_000,
		MaxAttempts:        5,
		RetryBackoffMillis: 200,
	},
}

// Init overrides Keys with flagConfigFile's contents, if it exists. A
// missing file is not an error (Keys keeps its defaults); a present
// but malformed file is fatal, matching the teacher's own Init.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			cglog.Fatalf("config: read %s: %v", flagConfigFile, err)
		}
		return
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		cglog.Fatalf("config: decode %s: %v", flagConfigFile, err)
	}

	if err := validate(Keys); err != nil {
		cglog.Fatalf("config: %v", err)
	}
}

func validate(c ProgramConfig) error {
	if c.TableID == "" {
		return fmt.Errorf("table_id is required")
	}
	if c.Store.Driver != "memory" && c.Store.Driver != "sqlite3" {
		return fmt.Errorf("store.driver %q is not one of memory, sqlite3", c.Store.Driver)
	}
	if c.Store.Driver == "sqlite3" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required when store.driver is sqlite3")
	}
	return nil
}

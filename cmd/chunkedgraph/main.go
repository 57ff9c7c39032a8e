// Command chunkedgraph is the process entry point: load config, open
// the configured store, build the graphmeta/codec pair, connect the
// bus, and register the resulting handle so package registry's
// GetOrInit callers (operation handlers, whatever transport a
// deployment puts in front of this process) can find it by table ID.
// It carries no HTTP server of its own, matching spec.md's Non-goals
// ("no wire protocol/API framing").
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/seung-lab/chunkedgraph-go/internal/bus"
	"github.com/seung-lab/chunkedgraph-go/internal/config"
	"github.com/seung-lab/chunkedgraph-go/internal/graphmeta"
	"github.com/seung-lab/chunkedgraph-go/internal/registry"
	"github.com/seung-lab/chunkedgraph-go/internal/store"
	"github.com/seung-lab/chunkedgraph-go/internal/store/memstore"
	"github.com/seung-lab/chunkedgraph-go/internal/store/sqlitestore"
	"github.com/seung-lab/chunkedgraph-go/pkg/cglog"
)

func main() {
	var flagConfigFile, flagEnvFile string
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default config options by those specified in `config.json`")
	flag.StringVar(&flagEnvFile, "env", "./.env", "Load environment variable overrides from `.env` before reading -config")
	flag.Parse()

	// A missing .env is normal for most deployments (env vars come from
	// the process environment directly), so only log load failures that
	// aren't simply "file does not exist".
	if err := godotenv.Load(flagEnvFile); err != nil && !os.IsNotExist(err) {
		cglog.Warnf("main: load %s: %v", flagEnvFile, err)
	}

	config.Init(flagConfigFile)
	cglog.SetLevel(config.Keys.LogLevel)

	g, err := buildGraph(config.Keys)
	if err != nil {
		cglog.Fatalf("main: %v", err)
	}

	reg := registry.NewRegistry()
	reg.Register(g)
	cglog.Infof("main: table %q ready (store=%s)", g.TableID, config.Keys.Store.Driver)

	// No wire protocol is part of this process (spec.md's Non-goals);
	// it exists to hold the table's store/bus/lock handles open for an
	// embedding caller until told to stop.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	cglog.Info("main: shutting down")
}

func buildGraph(cfg config.ProgramConfig) (*registry.Graph, error) {
	meta, err := graphmeta.New(
		cfg.GraphMeta.NumLayers,
		cfg.GraphMeta.LayerIDBits,
		cfg.GraphMeta.BaseBitsPerDim,
		cfg.GraphMeta.FanOut,
		cfg.GraphMeta.ChunkSize,
		cfg.GraphMeta.Resolution,
		cfg.GraphMeta.UseSkipConnections,
	)
	if err != nil {
		return nil, err
	}

	var st store.BackendStore
	switch cfg.Store.Driver {
	case "sqlite3":
		st, err = sqlitestore.Open(cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
	default:
		st = memstore.New()
	}

	pub, err := bus.Connect(bus.Config{Address: cfg.BusAddr})
	if err != nil {
		return nil, err
	}

	g := registry.New(cfg.TableID, st, meta, pub)
	g.Lock = registry.LockOptions{
		Lease:        time.Duration(cfg.Lock.LeaseMillis) * time.Millisecond,
		RenewEvery:   time.Duration(cfg.Lock.RenewEveryMillis) * time.Millisecond,
		MaxAttempts:  cfg.Lock.MaxAttempts,
		RetryBackoff: time.Duration(cfg.Lock.RetryBackoffMillis) * time.Millisecond,
	}
	return g, nil
}

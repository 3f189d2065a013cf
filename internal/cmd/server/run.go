package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/adyach/nakadi/internal/config"
	"github.com/adyach/nakadi/internal/runtime"
	httpserver "github.com/adyach/nakadi/internal/server/http"
	pebblestore "github.com/adyach/nakadi/internal/storage/pebble"
	logpkg "github.com/adyach/nakadi/pkg/log"
)

type Options struct {
	DataDir       string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Run starts the HTTP API and the retention scheduler and blocks until ctx
// is cancelled or one of them fails.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}

	procLogger, err := logpkg.ApplyConfig(&opts.Config.Log)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(sctx, runtime.Options{
		DataDir:       filepath.Join(opts.DataDir, "store"),
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
		Logger:        procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("Starting nakadi server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Str("metadata", opts.Config.Metadata.Backend),
		logpkg.Str("default_storage", opts.Config.DefaultStorage),
		logpkg.Str("level", opts.Config.Log.Level),
	)

	hsrv := httpserver.New(rt, procLogger)
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		return hsrv.ListenAndServe(gctx, opts.HTTPAddr)
	})
	g.Go(func() error {
		return rt.Retention().Run(gctx)
	})
	err = g.Wait()
	hsrv.Close()
	if err != nil && sctx.Err() == nil {
		return err
	}
	return nil
}

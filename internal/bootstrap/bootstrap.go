// Package bootstrap assembles the storybook runtime from configuration. The
// API server, the worker and storyctl share it so every process builds the
// job store, object store and providers the same way.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"storybook/internal/adapter/repo"
	"storybook/internal/bus"
	"storybook/internal/dispatch"
	"storybook/internal/document"
	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/infra/credentials"
	"storybook/internal/intake"
	"storybook/internal/orchestrator"
	"storybook/internal/storage"
)

// Runtime holds every long-lived component of a process.
type Runtime struct {
	Config *infra.Config
	Logger *infra.Logger

	Jobs        domain.JobRepository
	SQL         *infra.SQLRunner
	Credentials *credentials.Store
	Store       storage.ObjectStore
	// StaticDir is the filesystem storage root, empty for remote storage.
	StaticDir string

	Orchestrator *orchestrator.Orchestrator
	Local        *dispatch.InProcess
	Dispatcher   dispatch.Dispatcher
	Bus          *bus.Client
	Intake       *intake.Service
	Sweeper      *orchestrator.Sweeper

	ready   func(ctx context.Context) error
	closers []func()
}

// OpenJobs opens the configured job store. Postgres also returns its SQL
// runner so the credentials store can share the pool.
func OpenJobs(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}
	switch cfg.StoreDriver {
	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.SQL = infra.NewSQLRunner(pool, *logger)
		pg := repo.NewJobRepository(rt.SQL)
		if err := pg.Migrate(ctx); err != nil {
			rt.Close()
			return nil, err
		}
		rt.Jobs = pg
		rt.Credentials = credentials.NewStore(rt.SQL)
		rt.ready = pool.Ping
	case infra.StoreDriverSQLite:
		store, err := repo.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = store.Close() })
		rt.Jobs = store
	case infra.StoreDriverMemory:
		rt.Jobs = repo.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	return rt, nil
}

// Build wires the full pipeline on top of the job store.
func Build(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Runtime, error) {
	rt, err := OpenJobs(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := rt.build(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context) error {
	cfg, logger := rt.Config, rt.Logger

	if err := rt.openStore(ctx); err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 3 * time.Minute}
	narrator, err := NewNarrator(ctx, cfg, rt.Credentials, httpClient, logger)
	if err != nil {
		return err
	}
	illustrator, err := NewIllustrator(ctx, cfg, rt.Credentials, httpClient, logger)
	if err != nil {
		return err
	}

	rt.Orchestrator, err = orchestrator.New(orchestrator.Deps{
		Jobs:        rt.Jobs,
		Narrator:    narrator,
		Illustrator: illustrator,
		Assembler:   document.NewAssembler(document.Options{Title: "My Storybook"}),
		Store:       rt.Store,
		Logger:      logger,
		Timeouts: orchestrator.Timeouts{
			Narrative:    cfg.NarrativeTimeout,
			Illustration: cfg.IllustrationTimeout,
			Upload:       cfg.UploadTimeout,
			Run:          cfg.RunTimeout,
		},
		Concurrency: cfg.IllustrationConcurrency,
	})
	if err != nil {
		return err
	}
	rt.Local = dispatch.NewInProcess(rt.Orchestrator, logger)
	rt.Dispatcher = rt.Local

	if cfg.DispatchMode == infra.DispatchModeNATS {
		client, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			return err
		}
		rt.Bus = client
		rt.closers = append(rt.closers, client.Close)
		rt.Dispatcher = dispatch.NewNATS(client, cfg.NATSSubject)
	}

	rt.Intake, err = intake.NewService(intake.Deps{
		Jobs:          rt.Jobs,
		Store:         rt.Store,
		Dispatcher:    rt.Dispatcher,
		Logger:        logger,
		MaxPhotoBytes: cfg.MaxPhotoBytes,
		NewID:         uuid.NewString,
	})
	if err != nil {
		return err
	}
	rt.Sweeper = orchestrator.NewSweeper(rt.Jobs, cfg.StuckAfter, cfg.SweepInterval, logger)
	return nil
}

func (rt *Runtime) openStore(ctx context.Context) error {
	cfg := rt.Config
	switch cfg.StorageDriver {
	case infra.StorageDriverGCS:
		gcs, err := storage.NewGCSStore(ctx, storage.GCSOptions{
			Bucket:          cfg.GCSBucket,
			PublicBaseURL:   cfg.GCSPublicBaseURL,
			CredentialsFile: cfg.GCSCredentials,
		})
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() { _ = gcs.Close() })
		rt.Store = gcs
	default:
		path := cfg.StoragePath
		if !filepath.IsAbs(path) {
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
		}
		fs, err := storage.NewFileStore(path, cfg.StorageBaseURL)
		if err != nil {
			return fmt.Errorf("configure storage: %w", err)
		}
		rt.Store = fs
		rt.StaticDir = fs.BasePath()
	}
	return nil
}

// Ready reports whether the job store is reachable.
func (rt *Runtime) Ready(ctx context.Context) error {
	if rt.ready == nil {
		return nil
	}
	return rt.ready(ctx)
}

// Shutdown drains in-process runs. Runs still active when ctx expires are
// cancelled and recorded as interrupted.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if rt.Local == nil {
		return nil
	}
	err := rt.Local.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		rt.Logger.Warn().Msg("bootstrap: runs cancelled before completion")
	}
	return err
}

// Close releases connections in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

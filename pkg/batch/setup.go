package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/FranciscoCL13/carga-masiva/pkg/config"
	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
	"github.com/FranciscoCL13/carga-masiva/pkg/kie"
	"github.com/FranciscoCL13/carga-masiva/pkg/policy"
	"github.com/FranciscoCL13/carga-masiva/pkg/stores"
	"github.com/FranciscoCL13/carga-masiva/pkg/telemetry"
)

// Runtime is a Service built from configuration together with the resources
// it owns.
type Runtime struct {
	Service *Service
	Policy  *policy.Engine
	Journal *stores.SQLiteStore

	kie *kie.Client
}

// SetupOptions selects which parts of the configuration are wired.
type SetupOptions struct {
	// Offline skips the engine client; Prepare works, Run does not.
	Offline bool
}

// Setup builds the engine client, row transform, policy engine and journal
// described by cfg. Close releases them.
func Setup(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, so SetupOptions) (*Runtime, error) {
	logger := tel.Logger.Zerolog()
	rt := &Runtime{}

	layout := cfg.Layout()
	transform, err := cfg.LoadTransform()
	if err != nil {
		return nil, err
	}
	layout.Transform = transform

	opts := Options{
		Layout:      layout,
		Read:        cfg.ReadOptions(),
		Concurrency: cfg.Batch.Concurrency,
		Polling:     cfg.EnginePolling(),
		RunTimeout:  cfg.Batch.RunTimeout,
		Telemetry:   tel,
		Logger:      logger,
	}

	if !so.Offline {
		client, err := kie.NewClient(cfg.KIE(), tel.Logger.NewComponentLogger("kie").Zerolog())
		if err != nil {
			return nil, err
		}
		rt.kie = client
		opts.Client = client
	}

	if cfg.Policy.Enabled {
		pe, err := policy.NewEngine(cfg.Policy.Rule, logger)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		if err := pe.Load(ctx, cfg.Policy.Paths); err != nil {
			_ = rt.Close()
			return nil, engine.NewInputError("cannot load policies", err)
		}
		rt.Policy = pe
		opts.Admission = pe
	}

	if cfg.Journal.Enabled {
		journal, err := OpenJournal(ctx, cfg.Journal.Path)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.Journal = journal
		opts.Journal = journal
	}

	rt.Service = NewService(opts)
	return rt, nil
}

// OpenJournal opens and migrates the journal at path.
func OpenJournal(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	journal, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := journal.Init(ctx); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	if err := journal.Migrate(ctx); err != nil {
		_ = journal.Close()
		return nil, fmt.Errorf("journal: %w", err)
	}
	return journal, nil
}

// WatchPolicies reloads policy files on change until ctx is done. It does
// nothing when policies are disabled.
func (rt *Runtime) WatchPolicies(ctx context.Context, paths []string) error {
	if rt.Policy == nil {
		return nil
	}
	return rt.Policy.Watch(ctx, paths)
}

// Close releases the engine client and the journal.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.kie != nil {
		rt.kie.Close()
		rt.kie = nil
	}
	if rt.Journal != nil {
		errs = append(errs, rt.Journal.Close())
		rt.Journal = nil
	}
	return errors.Join(errs...)
}

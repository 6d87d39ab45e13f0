// Package batch runs uploaded workbooks end to end: parse, build work units,
// admit them through policy, drive them on the engine and journal the report.
package batch

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
	"github.com/FranciscoCL13/carga-masiva/pkg/policy"
	"github.com/FranciscoCL13/carga-masiva/pkg/sheet"
	"github.com/FranciscoCL13/carga-masiva/pkg/stores"
	"github.com/FranciscoCL13/carga-masiva/pkg/telemetry"
)

// Admission decides whether a batch of units may run.
type Admission interface {
	Check(ctx context.Context, units []engine.WorkUnit, source string) (*policy.Result, error)
}

// Options configures a Service.
type Options struct {
	// Client is the engine the units are driven on.
	Client engine.EngineClient

	// Layout maps workbook sheets to work units.
	Layout sheet.Layout

	// Read controls cell normalization.
	Read sheet.ReadOptions

	// Concurrency is the maximum number of units driven at once.
	Concurrency int

	// Polling bounds task discovery.
	Polling engine.PollingConfig

	// RunTimeout bounds one batch; zero means no limit.
	RunTimeout time.Duration

	// Admission is optional.
	Admission Admission

	// Journal is optional.
	Journal stores.Journal

	// Telemetry is optional. When set, the client is instrumented and the
	// orchestrator reports to its observer.
	Telemetry *telemetry.Telemetry

	// Logger receives service logs.
	Logger zerolog.Logger
}

// Prepared is a parsed and admitted upload, ready to run.
type Prepared struct {
	Source   string             `json:"source"`
	Units    []engine.WorkUnit  `json:"units"`
	Warnings []policy.Violation `json:"warnings,omitempty"`
}

// Result is the outcome of one upload.
type Result struct {
	Report   *engine.BatchReport `json:"report"`
	Warnings []policy.Violation  `json:"warnings,omitempty"`
}

// Service runs uploads. It is safe for concurrent use; every Run gets its own
// orchestrator.
type Service struct {
	opts   Options
	client engine.EngineClient
	logger zerolog.Logger
}

// NewService creates a new batch service.
func NewService(opts Options) *Service {
	client := opts.Client
	if opts.Telemetry != nil && client != nil {
		client = opts.Telemetry.InstrumentClient(client)
	}
	return &Service{
		opts:   opts,
		client: client,
		logger: opts.Logger.With().Str("component", "batch").Logger(),
	}
}

// Journal returns the configured journal, or nil.
func (s *Service) Journal() stores.Journal {
	return s.opts.Journal
}

// Prepare reads the workbook, builds the work units and checks them against
// policy without calling the engine. Every failure is an input error.
func (s *Service) Prepare(ctx context.Context, r io.Reader, source string) (*Prepared, error) {
	prepared, err := s.prepare(ctx, r, source)
	if err != nil {
		s.rejected(ctx, source, err)
		return nil, err
	}
	return prepared, nil
}

func (s *Service) prepare(ctx context.Context, r io.Reader, source string) (*Prepared, error) {
	wb, err := sheet.Read(r, s.opts.Read)
	if err != nil {
		return nil, err
	}

	units, err := sheet.Build(wb, s.opts.Layout)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, engine.NewInputError("workbook has no records", nil).WithCode(engine.ErrCodeMissingRecord)
	}

	prepared := &Prepared{Source: source, Units: units}
	if s.opts.Admission == nil {
		return prepared, nil
	}

	result, err := s.opts.Admission.Check(ctx, units, source)
	if result != nil {
		prepared.Warnings = result.Warnings
	}
	if err != nil {
		return prepared, err
	}

	for _, w := range prepared.Warnings {
		s.logger.Warn().
			Str("policy", w.Policy).
			Str("unit", w.Label).
			Msg(w.Message)
	}
	return prepared, nil
}

// Run prepares the upload, drives every unit and journals the report.
// Input errors abort before any engine call; engine failures are recorded
// per unit and stage in the report.
func (s *Service) Run(ctx context.Context, r io.Reader, source string) (*Result, error) {
	prepared, err := s.Prepare(ctx, r, source)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, prepared), nil
}

// Execute drives prepared units and journals the report.
func (s *Service) Execute(ctx context.Context, prepared *Prepared) *Result {
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	opts := engine.Options{
		Concurrency: s.opts.Concurrency,
		Polling:     s.opts.Polling,
		Logger:      s.opts.Logger,
	}
	if s.opts.Telemetry != nil {
		opts.Observer = s.opts.Telemetry.NewObserver()
	}

	report := engine.NewOrchestrator(s.client, opts).RunAll(ctx, prepared.Units)

	if s.opts.Journal != nil {
		// The report is complete even if the run context is done.
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := s.opts.Journal.SaveReport(jctx, prepared.Source, report); err != nil {
			s.logger.Error().Err(err).Str("batch_id", report.ID).Msg("Failed to journal batch report")
		}
	}

	return &Result{Report: report, Warnings: prepared.Warnings}
}

// rejected records an aborted upload in metrics and the journal.
func (s *Service) rejected(ctx context.Context, source string, err error) {
	engErr := engine.Classify(err)

	if s.opts.Telemetry != nil {
		s.opts.Telemetry.Metrics.RecordRejectedUpload(engErr.Code)
	}
	s.logger.Warn().Err(err).Str("source", source).Str("code", engErr.Code).Msg("Upload rejected")

	if s.opts.Journal == nil || !engine.IsInput(err) {
		return
	}

	event := &stores.Event{
		Level:   stores.EventLevelWarning,
		Message: engErr.Message,
	}
	details := map[string]interface{}{
		"source": source,
		"code":   engErr.Code,
	}
	for k, v := range engErr.Details {
		details[k] = v
	}
	if blob, mErr := sonic.MarshalString(details); mErr == nil {
		event.Details = &blob
	}

	if jErr := s.opts.Journal.AppendEvent(context.WithoutCancel(ctx), event); jErr != nil {
		s.logger.Error().Err(jErr).Msg("Failed to journal rejected upload")
	}
}

// Ready reports whether the service can accept uploads.
func (s *Service) Ready(ctx context.Context) error {
	if s.client == nil {
		return errors.New("engine client not configured")
	}
	if s.opts.Journal != nil {
		return s.opts.Journal.HealthCheck(ctx)
	}
	return nil
}

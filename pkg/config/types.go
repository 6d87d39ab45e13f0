package config

import (
	"time"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
	"github.com/FranciscoCL13/carga-masiva/pkg/kie"
	"github.com/FranciscoCL13/carga-masiva/pkg/sheet"
	"github.com/FranciscoCL13/carga-masiva/pkg/telemetry"
)

// Config is the complete driver configuration.
type Config struct {
	Engine    EngineConfig     `yaml:"engine"`
	Polling   PollingConfig    `yaml:"polling"`
	Batch     BatchConfig      `yaml:"batch"`
	Server    ServerConfig     `yaml:"server"`
	Policy    PolicyConfig     `yaml:"policy"`
	Journal   JournalConfig    `yaml:"journal"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// EngineConfig locates the KIE server and the process every unit starts.
type EngineConfig struct {
	// BaseURL is the KIE server REST root.
	BaseURL string `yaml:"base_url" env:"ENGINE_BASE_URL" validate:"required,url"`

	// ContainerID is the deployed KIE container.
	ContainerID string `yaml:"container_id" env:"ENGINE_CONTAINER_ID" validate:"required"`

	// ProcessID is the process definition started per unit.
	ProcessID string `yaml:"process_id" env:"ENGINE_PROCESS_ID" validate:"required"`

	// Username is the acting user for every call.
	Username string `yaml:"username" env:"ENGINE_USERNAME" validate:"required"`

	// Password is the basic auth password.
	Password string `yaml:"password" env:"ENGINE_PASSWORD"`

	// RequestTimeout bounds a single HTTP request.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"ENGINE_REQUEST_TIMEOUT" validate:"gt=0"`

	// PageSize caps task listings; zero lets the server decide.
	PageSize int `yaml:"page_size" env:"ENGINE_PAGE_SIZE" validate:"gte=0"`
}

// PollingConfig is the task discovery budget.
type PollingConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"POLL_MAX_ATTEMPTS" validate:"gte=1"`
	Interval    time.Duration `yaml:"interval" env:"POLL_INTERVAL" validate:"gte=0"`
}

// BatchConfig controls how workbooks become work units and how they run.
type BatchConfig struct {
	// Concurrency is the number of units processed at once.
	Concurrency int `yaml:"concurrency" env:"BATCH_CONCURRENCY" validate:"gte=1,lte=64"`

	// RunTimeout bounds a whole batch; zero means no limit.
	RunTimeout time.Duration `yaml:"run_timeout" env:"BATCH_RUN_TIMEOUT" validate:"gte=0"`

	// Layout selects how sheets map to units: rows, sheets or stages.
	Layout string `yaml:"layout" env:"BATCH_LAYOUT" validate:"oneof=rows sheets stages"`

	// InstanceSheet holds the instance records; empty means the first sheet.
	InstanceSheet string `yaml:"instance_sheet" env:"BATCH_INSTANCE_SHEET"`

	// Sheets restricts the sheets layout.
	Sheets []string `yaml:"sheets,omitempty" env:"BATCH_SHEETS"`

	// DateColumns are coerced to ISO-8601 timestamps even when they hold text.
	DateColumns []string `yaml:"date_columns,omitempty" env:"BATCH_DATE_COLUMNS"`

	// Transform is a Starlark script applied to every record.
	Transform string `yaml:"transform,omitempty" env:"BATCH_TRANSFORM"`

	// TransformTimeout bounds one transform evaluation.
	TransformTimeout time.Duration `yaml:"transform_timeout" validate:"gte=0"`

	// Selector picks the task of rows and sheets layouts.
	Selector engine.Selector `yaml:"selector"`

	// Stages configures the stages layout.
	Stages []StageConfig `yaml:"stages,omitempty" validate:"dive"`
}

// StageConfig is one stage of the stages layout.
type StageConfig struct {
	Name     string          `yaml:"name"`
	Sheet    string          `yaml:"sheet"`
	NodeID   string          `yaml:"node_id"`
	Required bool            `yaml:"required"`
	Selector engine.Selector `yaml:"selector"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Address         string        `yaml:"address" env:"SERVER_ADDRESS" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// BodyLimit is the maximum upload size in bytes.
	BodyLimit int `yaml:"body_limit" env:"SERVER_BODY_LIMIT" validate:"gt=0"`

	// APIKey, when set, is required in the X-API-Key header of batch routes.
	APIKey string `yaml:"api_key" env:"SERVER_API_KEY"`
}

// PolicyConfig configures Rego row admission.
type PolicyConfig struct {
	Enabled bool     `yaml:"enabled" env:"POLICY_ENABLED"`
	Paths   []string `yaml:"paths,omitempty" env:"POLICY_PATHS" validate:"required_if=Enabled true"`

	// Rule is the set rule read from every policy package, data.<package>.<rule>.
	Rule string `yaml:"rule" env:"POLICY_RULE" validate:"required"`

	// Watch reloads policies when files change.
	Watch bool `yaml:"watch" env:"POLICY_WATCH"`
}

// JournalConfig configures the batch report journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" env:"JOURNAL_ENABLED"`
	Path    string `yaml:"path" env:"JOURNAL_PATH" validate:"required_if=Enabled true"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	kc := kie.DefaultConfig()
	pc := engine.DefaultPollingConfig()
	return &Config{
		Engine: EngineConfig{
			BaseURL:        kc.BaseURL,
			Username:       kc.Username,
			RequestTimeout: kc.RequestTimeout,
		},
		Polling: PollingConfig{
			MaxAttempts: pc.MaxAttempts,
			Interval:    pc.Interval,
		},
		Batch: BatchConfig{
			Concurrency:      1,
			Layout:           string(sheet.LayoutRows),
			TransformTimeout: 5 * time.Second,
		},
		Server: ServerConfig{
			Address:         ":5000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			BodyLimit:       32 << 20,
		},
		Policy: PolicyConfig{
			Rule: "deny",
		},
		Journal: JournalConfig{
			Path: "carga.db",
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// KIE returns the KIE client configuration.
func (c *Config) KIE() *kie.Config {
	return &kie.Config{
		BaseURL:        c.Engine.BaseURL,
		ContainerID:    c.Engine.ContainerID,
		ProcessID:      c.Engine.ProcessID,
		Username:       c.Engine.Username,
		Password:       c.Engine.Password,
		RequestTimeout: c.Engine.RequestTimeout,
		PageSize:       c.Engine.PageSize,
	}
}

// EnginePolling returns the poller configuration.
func (c *Config) EnginePolling() engine.PollingConfig {
	return engine.PollingConfig{
		MaxAttempts: c.Polling.MaxAttempts,
		Interval:    c.Polling.Interval,
	}
}

// Layout returns the sheet layout. Transform is left nil; see LoadTransform.
func (c *Config) Layout() sheet.Layout {
	stages := make([]sheet.StageSpec, len(c.Batch.Stages))
	for i, s := range c.Batch.Stages {
		stages[i] = sheet.StageSpec{
			Name:     s.Name,
			Sheet:    s.Sheet,
			NodeID:   s.NodeID,
			Required: s.Required,
			Selector: s.Selector,
		}
	}
	return sheet.Layout{
		Kind:          sheet.LayoutKind(c.Batch.Layout),
		InstanceSheet: c.Batch.InstanceSheet,
		Sheets:        c.Batch.Sheets,
		Stages:        stages,
		Selector:      c.Batch.Selector,
	}
}

// ReadOptions returns the workbook read options.
func (c *Config) ReadOptions() sheet.ReadOptions {
	return sheet.ReadOptions{DateColumns: c.Batch.DateColumns}
}

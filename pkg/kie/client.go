// Package kie implements engine.EngineClient against the KIE server REST API
// using the Fiber HTTP client.
package kie

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
)

// maxExcerpt bounds the response body kept in rejected errors.
const maxExcerpt = 512

// Config holds the configuration for the KIE client.
type Config struct {
	// BaseURL is the KIE server REST root
	// (e.g., "http://localhost:8080/kie-server/services/rest/server").
	BaseURL string

	// ContainerID is the deployed KIE container.
	ContainerID string

	// ProcessID is the process definition started for every work unit.
	ProcessID string

	// Username is the acting user, also used for basic auth.
	Username string

	// Password is the basic auth password.
	Password string

	// RequestTimeout is the timeout for a single HTTP request.
	RequestTimeout time.Duration

	// PageSize caps task listings. Zero lets the server decide.
	PageSize int
}

// DefaultConfig returns a default client configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:8080/kie-server/services/rest/server",
		Username:       "wbadmin",
		RequestTimeout: 30 * time.Second,
	}
}

// Client talks to one KIE server container. It is safe for concurrent use.
type Client struct {
	config *Config
	agent  *fiber.Client
	logger zerolog.Logger
}

var _ engine.EngineClient = (*Client)(nil)

// NewClient creates a new KIE client.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		return nil, engine.NewInputError("kie base url is required", nil)
	}
	if config.ContainerID == "" || config.ProcessID == "" {
		return nil, engine.NewInputError("kie container and process ids are required", nil)
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	agent := fiber.AcquireClient()
	agent.JSONEncoder = sonic.Marshal
	agent.JSONDecoder = sonic.Unmarshal

	return &Client{
		config: config,
		agent:  agent,
		logger: logger,
	}, nil
}

// Close returns the underlying fiber client to its pool.
func (c *Client) Close() {
	fiber.ReleaseClient(c.agent)
}

// CreateInstance starts a process instance and returns its id.
func (c *Client) CreateInstance(ctx context.Context, vars engine.VariableSet) (int64, error) {
	u := fmt.Sprintf("%s/containers/%s/processes/%s/instances",
		c.config.BaseURL, url.PathEscape(c.config.ContainerID), url.PathEscape(c.config.ProcessID))

	body, err := c.do(ctx, engine.OpCreateInstance, fiber.MethodPost, u, "", vars.Compact())
	if err != nil {
		return 0, err
	}

	id, err := parseInstanceID(body)
	if err != nil {
		return 0, engine.NewRejectedError("unexpected instance id in response", fiber.StatusOK, err).
			WithCode(engine.ErrCodeDecode).
			WithOperation(engine.OpCreateInstance)
	}
	return id, nil
}

// ListCandidateTasks lists the tasks of an instance the acting user is a
// potential owner of, in server order.
func (c *Client) ListCandidateTasks(ctx context.Context, filter engine.TaskFilter) ([]engine.TaskHandle, error) {
	q := url.Values{}
	q.Set("processInstanceId", strconv.FormatInt(filter.ProcessInstanceID, 10))
	for _, s := range filter.Statuses {
		q.Add("status", s)
	}
	pageSize := filter.PageSize
	if pageSize == 0 {
		pageSize = c.config.PageSize
	}
	if pageSize > 0 {
		q.Set("page", "0")
		q.Set("pageSize", strconv.Itoa(pageSize))
	}

	u := c.config.BaseURL + "/queries/tasks/instances/pot-owners"
	body, err := c.do(ctx, engine.OpListTasks, fiber.MethodGet, u, q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var list taskSummaryList
	if len(bytes.TrimSpace(body)) > 0 {
		if err := sonic.Unmarshal(body, &list); err != nil {
			return nil, engine.NewRejectedError("malformed task listing", fiber.StatusOK, err).
				WithCode(engine.ErrCodeDecode).
				WithOperation(engine.OpListTasks)
		}
	}

	tasks := make([]engine.TaskHandle, 0, len(list.Tasks))
	for _, t := range list.Tasks {
		h := t.handle()
		if h.ProcessInstanceID == 0 {
			h.ProcessInstanceID = filter.ProcessInstanceID
		}
		tasks = append(tasks, h)
	}
	return tasks, nil
}

// SetTaskState moves a task to the given state on behalf of the acting user.
func (c *Client) SetTaskState(ctx context.Context, taskID int64, state engine.TaskState, payload engine.VariableSet) error {
	if err := state.Validate(); err != nil {
		return engine.NewInputError("unsupported task state", err).WithOperation(engine.OpSetTaskState)
	}

	u := fmt.Sprintf("%s/containers/%s/tasks/%d/states/%s",
		c.config.BaseURL, url.PathEscape(c.config.ContainerID), taskID, state)

	change := stateChange{User: c.config.Username}
	if state == engine.TaskStateCompleted {
		change.TaskOutput = payload.Compact()
	}

	_, err := c.do(ctx, engine.OpSetTaskState, fiber.MethodPut, u, "", change)
	if err != nil {
		var ee *engine.EngineError
		if errors.As(err, &ee) {
			ee.WithDetail("task_id", taskID).WithDetail("state", string(state))
		}
	}
	return err
}

// TriggerNode starts a process node on an instance.
func (c *Client) TriggerNode(ctx context.Context, instanceID int64, nodeID string) error {
	u := fmt.Sprintf("%s/containers/%s/processes/instances/%d/nodeInstances",
		c.config.BaseURL, url.PathEscape(c.config.ContainerID), instanceID)

	_, err := c.do(ctx, engine.OpTriggerNode, fiber.MethodPost, u, "", nodeTrigger{NodeID: nodeID})
	return err
}

// do performs one request. fasthttp has no context support, so the context is
// checked before the call and its deadline caps the request timeout.
func (c *Client) do(ctx context.Context, op, method, u, query string, payload interface{}) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, engine.NewCancelledError("request not sent", err).WithOperation(op)
	}

	timeout := c.config.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	var req *fiber.Agent
	switch method {
	case fiber.MethodGet:
		req = c.agent.Get(u)
	case fiber.MethodPut:
		req = c.agent.Put(u)
	default:
		req = c.agent.Post(u)
	}
	req.BasicAuth(c.config.Username, c.config.Password)
	req.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	req.Timeout(timeout)
	if query != "" {
		req.QueryString(query)
	}
	if payload != nil {
		req.JSON(payload)
	}

	start := time.Now()
	statusCode, body, errs := req.Bytes()
	logger := c.logger.With().
		Str("operation", op).
		Str("method", method).
		Str("url", u).
		Dur("duration", time.Since(start)).
		Logger()

	if len(errs) > 0 {
		logger.Debug().Err(errs[0]).Msg("KIE request failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, engine.NewCancelledError("request cancelled", ctxErr).WithOperation(op)
		}
		return nil, engine.NewTransportError("kie server unreachable", errs[0]).WithOperation(op)
	}

	logger.Debug().Int("status", statusCode).Msg("KIE request")
	if statusCode < fiber.StatusOK || statusCode >= fiber.StatusMultipleChoices {
		return nil, engine.NewRejectedError(
			fmt.Sprintf("kie server returned %d", statusCode),
			statusCode,
			errors.New(excerpt(body)),
		).WithOperation(op)
	}
	return body, nil
}

// parseInstanceID accepts a bare integer, a quoted integer or a JSON object
// carrying the id.
func parseInstanceID(body []byte) (int64, error) {
	s := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, nil
	}

	var wrapped map[string]flexInt64
	if err := sonic.Unmarshal(body, &wrapped); err == nil {
		for _, key := range []string{"process-instance-id", "processInstanceId", "value"} {
			if id, ok := wrapped[key]; ok {
				return int64(id), nil
			}
		}
	}
	return 0, fmt.Errorf("cannot parse %q", excerpt(body))
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxExcerpt {
		return s[:maxExcerpt] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}

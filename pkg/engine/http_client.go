package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/otelhelper"
	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIKeyHeader = "X-N8N-API-KEY"
	maxBodySnippet      = 2048
)

type Config struct {
	BaseURL      string        `validate:"required,url"`
	APIKey       string
	APIKeyHeader string
	// RequestsPerSecond limits outgoing calls; zero disables the limiter.
	RequestsPerSecond float64 `validate:"min=0"`
	Timeout           time.Duration
}

type HTTPClient struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	httpClient   *http.Client
	limiter      *rate.Limiter
	tracer       trace.Tracer
	logger       *slog.Logger
}

func NewHTTPClient(cfg Config, tracer trace.Tracer, logger *slog.Logger) (*HTTPClient, error) {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	header := cfg.APIKeyHeader
	if header == "" {
		header = DefaultAPIKeyHeader
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}

	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &HTTPClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		apiKeyHeader: header,
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      limiter,
		tracer:       tracer,
		logger:       logger.With("module", "engine_client"),
	}, nil
}

func (c *HTTPClient) ListWorkflows(ctx context.Context) ([]models.WorkflowSummary, error) {
	body, err := c.do(ctx, "list_workflows", http.MethodGet, "/workflows", nil)
	if err != nil {
		return nil, err
	}

	// Paginated responses wrap the list in "data".
	list := gjson.GetBytes(body, "data")
	if !list.Exists() {
		list = gjson.ParseBytes(body)
	}

	var workflows []models.WorkflowSummary

	err = json.Unmarshal([]byte(list.Raw), &workflows)
	if err != nil {
		return nil, fmt.Errorf("engine list_workflows: decode: %w", err)
	}

	return workflows, nil
}

func (c *HTTPClient) GetWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	body, err := c.do(ctx, "get_workflow", http.MethodGet, "/workflows/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var definition models.WorkflowDefinition

	err = json.Unmarshal(body, &definition)
	if err != nil {
		return nil, fmt.Errorf("engine get_workflow: decode: %w", err)
	}

	return &definition, nil
}

func (c *HTTPClient) UpdateWorkflow(ctx context.Context, definition *models.WorkflowDefinition) error {
	_, err := c.do(ctx, "update_workflow", http.MethodPut, "/workflows/"+url.PathEscape(definition.ID), definition)

	return err
}

func (c *HTTPClient) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any) (string, error) {
	payload := map[string]any{"input": input}

	body, err := c.do(ctx, "execute_workflow", http.MethodPost, "/workflows/"+url.PathEscape(workflowID)+"/execute", payload)
	if err != nil {
		return "", err
	}

	id := gjson.GetBytes(body, "executionId").String()
	if id == "" {
		id = gjson.GetBytes(body, "data.executionId").String()
	}

	if id == "" {
		return "", ErrMissingExecutionID
	}

	return id, nil
}

func (c *HTTPClient) GetExecution(ctx context.Context, externalID string) (*ExecutionState, error) {
	body, err := c.do(ctx, "get_execution", http.MethodGet, "/executions/"+url.PathEscape(externalID)+"?includeData=true", nil)
	if err != nil {
		return nil, err
	}

	return parseExecution(externalID, body), nil
}

func parseExecution(externalID string, body []byte) *ExecutionState {
	doc := gjson.ParseBytes(body)

	state := &ExecutionState{
		ID:       externalID,
		Status:   strings.ToLower(doc.Get("status").String()),
		Finished: doc.Get("finished").Bool(),
	}

	if raw := doc.Get("data.resultData.runData"); raw.IsObject() {
		_ = json.Unmarshal([]byte(raw.Raw), &state.Output)
	}

	failure := doc.Get("data.resultData.error")
	if !failure.Exists() {
		failure = doc.Get("error")
	}

	switch {
	case failure.IsObject():
		state.Error = &models.ExecutionError{
			Message:    failure.Get("message").String(),
			NodeName:   failure.Get("node.name").String(),
			NodeType:   failure.Get("node.type").String(),
			Stack:      failure.Get("stack").String(),
			HTTPStatus: int(failure.Get("httpCode").Int()),
		}
		if state.Error.NodeName == "" {
			state.Error.NodeName = doc.Get("data.resultData.lastNodeExecuted").String()
		}
	case failure.Type == gjson.String && failure.String() != "":
		state.Error = &models.ExecutionError{
			Message:  failure.String(),
			NodeName: doc.Get("data.resultData.lastNodeExecuted").String(),
		}
	}

	return state
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "engine."+op,
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
	)
	defer span.End()

	err := c.limiter.Wait(ctx)
	if err != nil {
		transportErr := &TransportError{Op: op, Err: err}
		otelhelper.SetError(span, transportErr)

		return nil, transportErr
	}

	var reader io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("engine %s: encode: %w", op, err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("engine %s: create request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		transportErr := &TransportError{Op: op, Err: err}
		otelhelper.SetError(span, transportErr)

		return nil, transportErr
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int(otelhelper.HTTPStatusKey, resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		transportErr := &TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
		otelhelper.SetError(span, transportErr)

		return nil, transportErr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := body
		if len(snippet) > maxBodySnippet {
			snippet = snippet[:maxBodySnippet]
		}

		statusErr := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(snippet)}
		otelhelper.SetError(span, statusErr, attribute.Int(otelhelper.HTTPStatusKey, resp.StatusCode))
		c.logger.DebugContext(ctx, "Engine returned an error status", "op", op, "status", resp.StatusCode)

		return nil, statusErr
	}

	return body, nil
}

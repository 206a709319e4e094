package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/flowmedic/pkg/classifier"
	"github.com/dukex/flowmedic/pkg/healing"
	"github.com/dukex/flowmedic/pkg/metrics"
	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/dukex/flowmedic/pkg/persistence/file"
	"github.com/dukex/flowmedic/pkg/scheduler"
	"github.com/dukex/flowmedic/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealer struct {
	requests []healing.FixRequest
	err      error
}

func (f *fakeHealer) Preview(_ context.Context, req healing.FixRequest) (*healing.ManualFix, error) {
	f.requests = append(f.requests, req)

	if f.err != nil {
		return nil, f.err
	}

	return &healing.ManualFix{Result: &models.FixResult{StrategyID: "adjust_timeout", Status: models.FixStatusPending}}, nil
}

func (f *fakeHealer) Apply(_ context.Context, req healing.FixRequest) (*healing.ManualFix, error) {
	f.requests = append(f.requests, req)

	if f.err != nil {
		return nil, f.err
	}

	return &healing.ManualFix{
		Result: &models.FixResult{StrategyID: "adjust_timeout", Status: models.FixStatusFixed},
		Entry:  &models.HealingEntry{ExecutionID: req.ExecutionID, Outcome: models.HealingOutcomeFixed},
	}, nil
}

type testAPI struct {
	app    *fiber.App
	store  persistence.Persistence
	healer *fakeHealer
}

func setupTestApp(t *testing.T) *testAPI {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := file.NewPersistence(t.TempDir())
	sched := scheduler.New(store.Executions(), nil, nil, nil, logger)
	t.Cleanup(sched.Close)

	healer := &fakeHealer{}
	handlers := web.NewAPIHandlers(
		sched,
		store,
		classifier.New(nil, nil, logger),
		healer,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	return &testAPI{app: web.NewApp(handlers, metrics.New().Handler()), store: store, healer: healer}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

type problemBody struct {
	Type     string `json:"type"`
	Status   int    `json:"status"`
	Instance string `json:"instance"`
	Detail   string `json:"detail"`
}

func decodeProblem(t *testing.T, data []byte) problemBody {
	t.Helper()

	var p problemBody
	require.NoError(t, json.Unmarshal(data, &p))

	return p
}

func TestAPI_CreateAndCancelExecution(t *testing.T) {
	api := setupTestApp(t)

	resp, data := api.do(t, http.MethodPost, "/executions", map[string]any{
		"workflow_id": "wf-1",
		"priority":    "urgent",
		"input":       map[string]any{"order": 42},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(data))

	var created models.Execution
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, models.ExecutionStatusQueued, created.Status)
	assert.Equal(t, models.PriorityUrgent, created.Priority)
	assert.Equal(t, models.ExecutionModeManual, created.Mode)
	assert.Equal(t, 5, created.MaxAttempts)

	resp, data = api.do(t, http.MethodGet, "/executions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data = api.do(t, http.MethodDelete, "/executions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var canceled models.Execution
	require.NoError(t, json.Unmarshal(data, &canceled))
	assert.Equal(t, models.ExecutionStatusCanceled, canceled.Status)

	resp, _ = api.do(t, http.MethodDelete, "/executions/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data = api.do(t, http.MethodGet, "/executions?status=canceled", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list web.ExecutionListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Equal(t, 1, list.Count)
}

func TestAPI_CreateExecution_Invalid(t *testing.T) {
	api := setupTestApp(t)

	tests := []struct {
		name string
		body any
	}{
		{name: "missing workflow", body: map[string]any{"priority": "high"}},
		{name: "unknown priority", body: map[string]any{"workflow_id": "wf-1", "priority": "asap"}},
		{name: "validation mode", body: map[string]any{"workflow_id": "wf-1", "mode": "healing-validation"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := api.do(t, http.MethodPost, "/executions", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)

			p := decodeProblem(t, data)
			assert.Equal(t, "validation_error", p.Type)
			assert.Equal(t, "/executions", p.Instance)
		})
	}
}

func TestAPI_GetExecution_NotFound(t *testing.T) {
	api := setupTestApp(t)

	resp, data := api.do(t, http.MethodGet, "/executions/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "execution_not_found", decodeProblem(t, data).Type)
}

func TestAPI_Classify(t *testing.T) {
	api := setupTestApp(t)

	resp, data := api.do(t, http.MethodPost, "/classify", web.ClassifyRequest{Message: "connection timeout after 30000ms"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var result web.ClassifyResponse
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, models.ErrorTypeTimeout, result.Classification.ErrorType)
	assert.InDelta(t, 0.7, result.Classification.Confidence, 1e-9)
	require.NotNil(t, result.Strategy)
	assert.Equal(t, classifier.StrategyAdjustTimeout, result.Strategy.ID)

	resp, data = api.do(t, http.MethodPost, "/classify", web.ClassifyRequest{Message: "something odd"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, models.ErrorTypeUnknown, result.Classification.ErrorType)

	resp, _ = api.do(t, http.MethodPost, "/classify", web.ClassifyRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Fixes(t *testing.T) {
	api := setupTestApp(t)

	resp, data := api.do(t, http.MethodPost, "/fixes/preview", healing.FixRequest{ExecutionID: "exec-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	resp, data = api.do(t, http.MethodPost, "/fixes/apply", healing.FixRequest{
		ExecutionID: "exec-1",
		Parameters:  map[string]any{"credential_id": "cred-2"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var fix healing.ManualFix
	require.NoError(t, json.Unmarshal(data, &fix))
	assert.Equal(t, models.HealingOutcomeFixed, fix.Entry.Outcome)
	require.Len(t, api.healer.requests, 2)
	assert.Equal(t, "cred-2", api.healer.requests[1].Parameters["credential_id"])

	resp, _ = api.do(t, http.MethodPost, "/fixes/apply", healing.FixRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	api.healer.err = healing.ErrNotHealable
	resp, data = api.do(t, http.MethodPost, "/fixes/apply", healing.FixRequest{ExecutionID: "exec-2"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", decodeProblem(t, data).Type)
}

func TestAPI_HealingHistory(t *testing.T) {
	api := setupTestApp(t)
	ctx := context.Background()

	for i, outcome := range []models.HealingOutcome{models.HealingOutcomeFixed, models.HealingOutcomeFailed} {
		require.NoError(t, api.store.HealingHistory().Append(ctx, &models.HealingEntry{
			ID:          "entry-" + string(outcome),
			ExecutionID: "exec-1",
			WorkflowID:  "wf-1",
			Outcome:     outcome,
			CreatedAt:   time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	resp, data := api.do(t, http.MethodGet, "/healing/history?workflow_id=wf-1&outcome=fixed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history web.HealingHistoryResponse
	require.NoError(t, json.Unmarshal(data, &history))
	require.Equal(t, 1, history.Count)
	assert.Equal(t, models.HealingOutcomeFixed, history.Entries[0].Outcome)

	resp, _ = api.do(t, http.MethodGet, "/healing/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_AlertRules(t *testing.T) {
	api := setupTestApp(t)

	for _, rule := range models.DefaultAlertRules() {
		require.NoError(t, api.store.AlertRules().Save(context.Background(), rule))
	}

	resp, data := api.do(t, http.MethodGet, "/alerts/rules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rules []*models.AlertRule
	require.NoError(t, json.Unmarshal(data, &rules))
	assert.Len(t, rules, len(models.DefaultAlertRules()))

	enabled := false
	window := "15m"
	resp, data = api.do(t, http.MethodPut, "/alerts/rules/high-failure-rate", web.UpdateAlertRuleRequest{Enabled: &enabled, TimeWindow: &window})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	stored, err := api.store.AlertRules().Get(context.Background(), "high-failure-rate")
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.Equal(t, 15*time.Minute, stored.TimeWindow)

	bad := "soon"
	resp, _ = api.do(t, http.MethodPut, "/alerts/rules/high-failure-rate", web.UpdateAlertRuleRequest{Cooldown: &bad})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = api.do(t, http.MethodPut, "/alerts/rules/missing", web.UpdateAlertRuleRequest{Enabled: &enabled})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "alert_rule_not_found", decodeProblem(t, data).Type)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	api := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		resp, _ := api.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, data := api.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "flowmedic_queue_depth")
}

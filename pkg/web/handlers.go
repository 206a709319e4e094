package web

import (
	"context"
	"strconv"

	"github.com/dukex/flowmedic/pkg/classifier"
	"github.com/dukex/flowmedic/pkg/healing"
	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/dukex/flowmedic/pkg/scheduler"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const defaultListLimit = 50

// Scheduler accepts and cancels executions; satisfied by *scheduler.Scheduler.
type Scheduler interface {
	Enqueue(ctx context.Context, req scheduler.EnqueueRequest) (string, error)
	Cancel(ctx context.Context, executionID string) error
}

// Healer previews and applies operator fixes; satisfied by *healing.Loop.
type Healer interface {
	Preview(ctx context.Context, req healing.FixRequest) (*healing.ManualFix, error)
	Apply(ctx context.Context, req healing.FixRequest) (*healing.ManualFix, error)
}

type APIHandlers struct {
	scheduler  Scheduler
	store      persistence.Persistence
	classifier *classifier.Classifier
	healer     Healer
	validator  *validator.Validate
}

func NewAPIHandlers(
	sched Scheduler,
	store persistence.Persistence,
	clf *classifier.Classifier,
	healer Healer,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		scheduler:  sched,
		store:      store,
		classifier: clf,
		healer:     healer,
		validator:  validator,
	}
}

func (h *APIHandlers) CreateExecution(c fiber.Ctx) error {
	var req scheduler.EnqueueRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	if req.Mode == models.ExecutionModeHealingValidation {
		return badRequest(c, "healing-validation executions are started by the fixer")
	}

	id, err := h.scheduler.Enqueue(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	execution, err := h.store.Executions().Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return badRequest(c, "Invalid limit: "+err.Error())
	}

	filter := persistence.ExecutionFilter{WorkflowID: c.Query("workflow_id")}

	if status := models.ExecutionStatus(c.Query("status")); status != "" {
		if !status.Valid() {
			return badRequest(c, "Unknown status: "+string(status))
		}

		filter.Statuses = []models.ExecutionStatus{status}
	}

	executions, err := h.store.Executions().Find(c.Context(), filter, limit, persistence.NewestFirst)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ExecutionListResponse{Executions: executions, Count: len(executions)})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.store.Executions().Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// CancelExecution is idempotent; terminal executions are returned unchanged.
func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")

	err := h.scheduler.Cancel(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	execution, err := h.store.Executions().Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) Classify(c fiber.Ctx) error {
	var req ClassifyRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	classification := h.classifier.Classify(c.Context(), req.executionError())
	response := ClassifyResponse{Classification: classification}

	if classification.Matched() {
		strategy, err := h.classifier.Catalog().StrategyFor(classification)
		if err == nil {
			response.Strategy = &strategy
		}
	}

	return c.JSON(response)
}

func (h *APIHandlers) PreviewFix(c fiber.Ctx) error {
	return h.fix(c, h.healer.Preview)
}

func (h *APIHandlers) ApplyFix(c fiber.Ctx) error {
	return h.fix(c, h.healer.Apply)
}

func (h *APIHandlers) fix(c fiber.Ctx, run func(context.Context, healing.FixRequest) (*healing.ManualFix, error)) error {
	var req healing.FixRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	fix, err := run(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fix)
}

func (h *APIHandlers) HealingHistory(c fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return badRequest(c, "Invalid limit: "+err.Error())
	}

	filter := persistence.HealingFilter{
		WorkflowID:  c.Query("workflow_id"),
		ExecutionID: c.Query("execution_id"),
	}

	if outcome := c.Query("outcome"); outcome != "" {
		filter.Outcomes = []models.HealingOutcome{models.HealingOutcome(outcome)}
	}

	entries, err := h.store.HealingHistory().Find(c.Context(), filter, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(HealingHistoryResponse{Entries: entries, Count: len(entries)})
}

func (h *APIHandlers) ListAlertRules(c fiber.Ctx) error {
	rules, err := h.store.AlertRules().List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(rules)
}

func (h *APIHandlers) UpdateAlertRule(c fiber.Ctx) error {
	var req UpdateAlertRuleRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	rule, err := h.store.AlertRules().Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if err := req.apply(rule); err != nil {
		return badRequest(c, "Invalid duration: "+err.Error())
	}

	if err := h.validator.Struct(rule); err != nil {
		return badRequest(c, err.Error())
	}

	err = h.store.AlertRules().Save(c.Context(), rule)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(rule)
}

// HealthCheck reports whether the store is reachable.
func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.store.HealthCheck(c.Context())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "unhealthy",
			"message": err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}

func queryLimit(c fiber.Ctx) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, nil
	}

	return strconv.Atoi(raw)
}

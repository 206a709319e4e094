package web

import (
	"errors"
	"net/http"

	"github.com/dukex/flowmedic/pkg/classifier"
	"github.com/dukex/flowmedic/pkg/engine"
	"github.com/dukex/flowmedic/pkg/fixer"
	"github.com/dukex/flowmedic/pkg/healing"
	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/dukex/flowmedic/pkg/scheduler"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleServiceError maps domain errors onto problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	var statusErr *engine.StatusError

	var transportErr *engine.TransportError

	switch {
	case errors.Is(err, scheduler.ErrInvalidRequest),
		errors.Is(err, fixer.ErrInvalidRequest),
		errors.Is(err, fixer.ErrMissingParameter),
		errors.Is(err, fixer.ErrUnknownAction):
		return badRequest(c, err.Error())
	case persistence.IsExecutionNotFound(err):
		return problem(c, fiber.StatusNotFound, "execution_not_found", "execution not found")
	case persistence.IsAlertRuleNotFound(err):
		return problem(c, fiber.StatusNotFound, "alert_rule_not_found", "alert rule not found")
	case errors.Is(err, fixer.ErrNodeNotFound):
		return problem(c, fiber.StatusNotFound, "node_not_found", err.Error())
	case errors.Is(err, healing.ErrNotHealable), persistence.IsStatusConflict(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())
	case errors.Is(err, healing.ErrNoStrategy), errors.Is(err, classifier.ErrUnknownStrategy), errors.Is(err, fixer.ErrNoChange):
		return problem(c, fiber.StatusUnprocessableEntity, "no_applicable_fix", err.Error())
	case errors.Is(err, fixer.ErrApprovalRequired):
		return problem(c, fiber.StatusForbidden, "approval_required", err.Error())
	case errors.Is(err, scheduler.ErrClosed):
		return problem(c, fiber.StatusServiceUnavailable, "unavailable", err.Error())
	case errors.As(err, &statusErr):
		if statusErr.StatusCode == http.StatusNotFound {
			return problem(c, fiber.StatusNotFound, "workflow_not_found", err.Error())
		}

		return problem(c, fiber.StatusBadGateway, "engine_error", err.Error())
	case errors.As(err, &transportErr):
		return problem(c, fiber.StatusBadGateway, "engine_unreachable", err.Error())
	default:
		return internalError(c, err)
	}
}

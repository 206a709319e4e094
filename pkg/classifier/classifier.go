// Package classifier maps execution failures onto the error taxonomy using a data-driven pattern catalog.
package classifier

import (
	"context"
	"log/slog"
	"slices"

	"github.com/dukex/flowmedic/pkg/metrics"
	"github.com/dukex/flowmedic/pkg/models"
)

// Confidence is calibrated on the number of matched patterns.
func Confidence(matches int) float64 {
	switch {
	case matches <= 0:
		return 0.1
	case matches == 1:
		return 0.7
	case matches == 2:
		return 0.85
	default:
		return 0.95
	}
}

type Classifier struct {
	catalog *Catalog
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(catalog *Catalog, m *metrics.Metrics, logger *slog.Logger) *Classifier {
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	return &Classifier{
		catalog: catalog,
		metrics: m,
		logger:  logger.With("module", "classifier"),
	}
}

func (c *Classifier) Catalog() *Catalog {
	return c.catalog
}

// Classify scans every pattern against the failure message. The most severe
// match decides the type, earlier patterns win ties. Failures nothing matches
// are Unknown and never auto-fixable.
func (c *Classifier) Classify(ctx context.Context, failure *models.ExecutionError) *models.Classification {
	if failure == nil {
		failure = &models.ExecutionError{}
	}

	var (
		primary     *compiledPattern
		matched     []string
		suggested   []string
		autoFixable bool
	)

	for i := range c.catalog.patterns {
		pattern := &c.catalog.patterns[i]
		if !pattern.matcher.MatchString(failure.Message) {
			continue
		}

		matched = append(matched, pattern.ID)
		autoFixable = autoFixable || pattern.AutoFixable

		if pattern.FixStrategyID != "" && !slices.Contains(suggested, pattern.FixStrategyID) {
			suggested = append(suggested, pattern.FixStrategyID)
		}

		if primary == nil || pattern.Severity.Weight() > primary.Severity.Weight() {
			primary = pattern
		}
	}

	if primary == nil {
		c.metrics.Classified(string(models.ErrorTypeUnknown))
		c.logger.WarnContext(ctx, "Unclassified failure needs human triage",
			"node", failure.NodeName,
			"message", failure.Message,
		)

		return &models.Classification{
			ErrorType:         models.ErrorTypeUnknown,
			Severity:          models.SeverityMedium,
			MatchedPatternIDs: []string{},
			RootCause:         rootCause("No known pattern matches this failure", failure.NodeName),
			SuggestedFixes:    []string{},
			Confidence:        Confidence(0),
			Detail:            models.UnknownError{Node: failure.NodeName, Message: failure.Message},
		}
	}

	// The primary pattern's strategy is suggested first.
	if primary.FixStrategyID != "" {
		suggested = slices.DeleteFunc(suggested, func(id string) bool { return id == primary.FixStrategyID })
		suggested = slices.Insert(suggested, 0, primary.FixStrategyID)
	}

	c.metrics.Classified(string(primary.ErrorType))

	classification := &models.Classification{
		ErrorType:         primary.ErrorType,
		Severity:          primary.Severity,
		MatchedPatternIDs: matched,
		RootCause:         rootCause(primary.Description, failure.NodeName),
		SuggestedFixes:    suggested,
		Confidence:        Confidence(len(matched)),
		AutoFixable:       autoFixable,
		Detail:            buildDetail(primary.ErrorType, failure),
	}

	c.logger.DebugContext(ctx, "Classified failure",
		"error_type", classification.ErrorType,
		"severity", classification.Severity,
		"matched", matched,
		"confidence", classification.Confidence,
	)

	return classification
}

func rootCause(description, node string) string {
	if description == "" {
		description = "Matched a known failure pattern"
	}

	if node == "" {
		return description
	}

	return description + " (node " + node + ")"
}

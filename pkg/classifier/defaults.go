package classifier

import "github.com/dukex/flowmedic/pkg/models"

// Strategy identifiers shipped with the built-in catalog.
const (
	StrategyAdjustTimeout      = "adjust_timeout"
	StrategyEnableRetry        = "enable_retry"
	StrategyContinueOnFail     = "continue_on_fail"
	StrategyRefreshCredentials = "refresh_credentials"
	StrategyRewriteExpression  = "rewrite_expression"
)

// Step actions understood by the fixer.
const (
	ActionIncreaseTimeout    = "increase_timeout"
	ActionSetRetryOnFail     = "set_retry_on_fail"
	ActionSetContinueOnFail  = "set_continue_on_fail"
	ActionRefreshCredentials = "refresh_credentials"
	ActionRewriteExpression  = "rewrite_expression"
)

func defaultPatterns() []models.ErrorPattern {
	return []models.ErrorPattern{
		{
			ID:            "credential-missing",
			Signature:     `(?i)credentials? (?:not found|missing|could not be found|not set)|no credentials`,
			ErrorType:     models.ErrorTypeCredentialMissing,
			Severity:      models.SeverityCritical,
			FixStrategyID: StrategyRefreshCredentials,
			Description:   "The node references credentials that do not exist",
		},
		{
			ID:            "authentication-rejected",
			Signature:     `(?i)invalid api key|unauthori[sz]ed|authentication failed|invalid credentials|access denied|forbidden`,
			ErrorType:     models.ErrorTypeAuthentication,
			Severity:      models.SeverityHigh,
			FixStrategyID: StrategyRefreshCredentials,
			Description:   "The remote service rejected the configured credentials",
		},
		{
			ID:            "connection-refused",
			Signature:     `(?i)ECONNREFUSED|ECONNRESET|ENOTFOUND|EHOSTUNREACH|connection refused|socket hang up|getaddrinfo`,
			ErrorType:     models.ErrorTypeNodeConnection,
			Severity:      models.SeverityHigh,
			AutoFixable:   true,
			FixStrategyID: StrategyEnableRetry,
			Description:   "The node could not reach its remote host",
		},
		{
			ID:            "invalid-expression",
			Signature:     `(?i)invalid (?:syntax|expression)|ExpressionError|cannot evaluate expression|is not defined \[line`,
			ErrorType:     models.ErrorTypeInvalidExpression,
			Severity:      models.SeverityHigh,
			FixStrategyID: StrategyRewriteExpression,
			Description:   "A parameter expression could not be evaluated",
		},
		{
			ID:            "connection-timeout",
			Signature:     `(?i)\btimeout\b|timed out|ETIMEDOUT|ESOCKETTIMEDOUT`,
			ErrorType:     models.ErrorTypeTimeout,
			Severity:      models.SeverityMedium,
			AutoFixable:   true,
			FixStrategyID: StrategyAdjustTimeout,
			Description:   "The node gave up waiting for a response",
		},
		{
			ID:            "rate-limited",
			Signature:     `(?i)rate limit|too many requests|\b429\b`,
			ErrorType:     models.ErrorTypeAPIError,
			Severity:      models.SeverityMedium,
			AutoFixable:   true,
			FixStrategyID: StrategyEnableRetry,
			Description:   "The remote API throttled the node",
		},
		{
			ID:            "upstream-server-error",
			Signature:     `(?i)internal server error|bad gateway|service unavailable|responded 5\d\d|status code 5\d\d`,
			ErrorType:     models.ErrorTypeAPIError,
			Severity:      models.SeverityMedium,
			AutoFixable:   true,
			FixStrategyID: StrategyEnableRetry,
			Description:   "The remote API failed with a server error",
		},
		{
			ID:            "malformed-data",
			Signature:     `(?i)unexpected token|invalid json|cannot read propert(?:y|ies) of (?:undefined|null)|is not a valid`,
			ErrorType:     models.ErrorTypeDataFormat,
			Severity:      models.SeverityLow,
			AutoFixable:   true,
			FixStrategyID: StrategyContinueOnFail,
			Description:   "The node received data in an unexpected shape",
		},
	}
}

func defaultStrategies() []models.FixStrategy {
	return []models.FixStrategy{
		{
			ID:        StrategyAdjustTimeout,
			ErrorType: models.ErrorTypeTimeout,
			Steps: []models.FixStep{
				{
					Order:        1,
					Action:       ActionIncreaseTimeout,
					Parameters:   map[string]any{"factor": 2, "max_ms": 300000},
					Rollbackable: true,
					Description:  "Double the failing node's timeout",
				},
			},
			EstimatedDurationSeconds: 30,
			Description:              "Give slow nodes more time",
		},
		{
			ID:        StrategyEnableRetry,
			ErrorType: models.ErrorTypeNodeConnection,
			Steps: []models.FixStep{
				{
					Order:        1,
					Action:       ActionSetRetryOnFail,
					Parameters:   map[string]any{"max_tries": 3, "wait_ms": 5000},
					Rollbackable: true,
					Description:  "Let the engine retry the failing node",
				},
			},
			EstimatedDurationSeconds: 20,
			Description:              "Retry flaky remote calls inside the engine",
		},
		{
			ID:        StrategyContinueOnFail,
			ErrorType: models.ErrorTypeDataFormat,
			Steps: []models.FixStep{
				{
					Order:        1,
					Action:       ActionSetContinueOnFail,
					Rollbackable: true,
					Description:  "Let the workflow continue past malformed items",
				},
			},
			EstimatedDurationSeconds: 20,
			Description:              "Tolerate malformed input items",
		},
		{
			ID:        StrategyRefreshCredentials,
			ErrorType: models.ErrorTypeAuthentication,
			Steps: []models.FixStep{
				{
					Order:       1,
					Action:      ActionRefreshCredentials,
					Description: "Point the node at the replacement credential",
				},
			},
			RequiresApproval:         true,
			EstimatedDurationSeconds: 60,
			Description:              "Swap the node's credential for an operator-supplied one",
		},
		{
			ID:        StrategyRewriteExpression,
			ErrorType: models.ErrorTypeInvalidExpression,
			Steps: []models.FixStep{
				{
					Order:       1,
					Action:      ActionRewriteExpression,
					Description: "Replace the broken expression",
				},
			},
			RequiresApproval:         true,
			EstimatedDurationSeconds: 60,
			Description:              "Rewrite a parameter expression supplied by an operator",
		},
	}
}

package models

// ErrorType is the taxonomy entry a failure is classified into.
type ErrorType string

const (
	ErrorTypeNodeConnection    ErrorType = "NodeConnection"
	ErrorTypeAuthentication    ErrorType = "Authentication"
	ErrorTypeCredentialMissing ErrorType = "CredentialMissing"
	ErrorTypeTimeout           ErrorType = "Timeout"
	ErrorTypeDataFormat        ErrorType = "DataFormat"
	ErrorTypeAPIError          ErrorType = "ApiError"
	ErrorTypeInvalidExpression ErrorType = "InvalidExpression"
	ErrorTypeUnknown           ErrorType = "Unknown"
)

// ErrorTypes lists every known error type.
var ErrorTypes = []ErrorType{
	ErrorTypeNodeConnection,
	ErrorTypeAuthentication,
	ErrorTypeCredentialMissing,
	ErrorTypeTimeout,
	ErrorTypeDataFormat,
	ErrorTypeAPIError,
	ErrorTypeInvalidExpression,
	ErrorTypeUnknown,
}

// Valid reports whether t is a known error type.
func (t ErrorType) Valid() bool {
	for _, known := range ErrorTypes {
		if t == known {
			return true
		}
	}

	return false
}

// Severity ranks how urgent a classified failure is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Weight orders severities; higher is more severe. Unknown severities weigh zero.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Weight() > 0
}

// ErrorPattern maps an error message signature to a taxonomy entry.
type ErrorPattern struct {
	ID            string    `json:"id"              yaml:"id"              validate:"required"`
	Signature     string    `json:"signature"       yaml:"signature"       validate:"required"`
	ErrorType     ErrorType `json:"error_type"      yaml:"error_type"      validate:"required"`
	Severity      Severity  `json:"severity"        yaml:"severity"        validate:"required,oneof=critical high medium low"`
	AutoFixable   bool      `json:"auto_fixable"    yaml:"auto_fixable"`
	FixStrategyID string    `json:"fix_strategy_id" yaml:"fix_strategy_id"`
	Description   string    `json:"description"     yaml:"description"`
}

// Classification is the outcome of matching one failure against the pattern catalog.
type Classification struct {
	ErrorType         ErrorType   `json:"error_type"`
	Severity          Severity    `json:"severity"`
	MatchedPatternIDs []string    `json:"matched_pattern_ids"`
	RootCause         string      `json:"root_cause"`
	SuggestedFixes    []string    `json:"suggested_fixes"`
	Confidence        float64     `json:"confidence"`
	AutoFixable       bool        `json:"auto_fixable"`
	Detail            ErrorDetail `json:"-"`
}

// Matched reports whether any pattern matched.
func (c *Classification) Matched() bool {
	return len(c.MatchedPatternIDs) > 0
}

package classifier

var errorTypeEnum = []any{
	"NodeConnection", "Authentication", "CredentialMissing", "Timeout",
	"DataFormat", "ApiError", "InvalidExpression", "Unknown",
}

// catalogSchema is the JSON schema every catalog file must satisfy.
var catalogSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"patterns": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "signature", "error_type", "severity"},
				"properties": map[string]any{
					"id":              map[string]any{"type": "string", "minLength": 1},
					"signature":       map[string]any{"type": "string", "minLength": 1},
					"error_type":      map[string]any{"enum": errorTypeEnum},
					"severity":        map[string]any{"enum": []any{"critical", "high", "medium", "low"}},
					"auto_fixable":    map[string]any{"type": "boolean"},
					"fix_strategy_id": map[string]any{"type": "string"},
					"description":     map[string]any{"type": "string"},
				},
			},
		},
		"strategies": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "error_type", "steps"},
				"properties": map[string]any{
					"id":                         map[string]any{"type": "string", "minLength": 1},
					"error_type":                 map[string]any{"enum": errorTypeEnum},
					"requires_approval":          map[string]any{"type": "boolean"},
					"estimated_duration_seconds": map[string]any{"type": "integer", "minimum": 0},
					"description":                map[string]any{"type": "string"},
					"steps": map[string]any{
						"type":     "array",
						"minItems": 1,
						"items": map[string]any{
							"type":     "object",
							"required": []any{"order", "action"},
							"properties": map[string]any{
								"order":        map[string]any{"type": "integer", "minimum": 1},
								"action":       map[string]any{"type": "string", "minLength": 1},
								"parameters":   map[string]any{"type": "object"},
								"rollbackable": map[string]any{"type": "boolean"},
								"description":  map[string]any{"type": "string"},
							},
						},
					},
				},
			},
		},
	},
}

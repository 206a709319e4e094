package models

import "time"

// ErrorDetail carries the fields a specific taxonomy entry needs. The set of
// implementations is closed; switch on the concrete type.
type ErrorDetail interface {
	Type() ErrorType
	// TargetNode names the workflow node the failure is attributed to, if known.
	TargetNode() string

	errorDetail()
}

type NodeConnectionError struct {
	Node string `json:"node,omitempty"`
	Host string `json:"host,omitempty"`
}

type AuthenticationError struct {
	Node       string `json:"node,omitempty"`
	Credential string `json:"credential,omitempty"`
}

type CredentialMissingError struct {
	Node           string `json:"node,omitempty"`
	CredentialType string `json:"credential_type,omitempty"`
}

type TimeoutError struct {
	Node  string        `json:"node,omitempty"`
	Limit time.Duration `json:"limit,omitempty"`
}

type DataFormatError struct {
	Node  string `json:"node,omitempty"`
	Field string `json:"field,omitempty"`
}

type APIError struct {
	Node       string `json:"node,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

type InvalidExpressionError struct {
	Node       string `json:"node,omitempty"`
	Expression string `json:"expression,omitempty"`
}

type UnknownError struct {
	Node    string `json:"node,omitempty"`
	Message string `json:"message"`
}

func (NodeConnectionError) Type() ErrorType    { return ErrorTypeNodeConnection }
func (AuthenticationError) Type() ErrorType    { return ErrorTypeAuthentication }
func (CredentialMissingError) Type() ErrorType { return ErrorTypeCredentialMissing }
func (TimeoutError) Type() ErrorType           { return ErrorTypeTimeout }
func (DataFormatError) Type() ErrorType        { return ErrorTypeDataFormat }
func (APIError) Type() ErrorType               { return ErrorTypeAPIError }
func (InvalidExpressionError) Type() ErrorType { return ErrorTypeInvalidExpression }
func (UnknownError) Type() ErrorType           { return ErrorTypeUnknown }

func (d NodeConnectionError) TargetNode() string    { return d.Node }
func (d AuthenticationError) TargetNode() string    { return d.Node }
func (d CredentialMissingError) TargetNode() string { return d.Node }
func (d TimeoutError) TargetNode() string           { return d.Node }
func (d DataFormatError) TargetNode() string        { return d.Node }
func (d APIError) TargetNode() string               { return d.Node }
func (d InvalidExpressionError) TargetNode() string { return d.Node }
func (d UnknownError) TargetNode() string           { return d.Node }

func (NodeConnectionError) errorDetail()    {}
func (AuthenticationError) errorDetail()    {}
func (CredentialMissingError) errorDetail() {}
func (TimeoutError) errorDetail()           {}
func (DataFormatError) errorDetail()        {}
func (APIError) errorDetail()               {}
func (InvalidExpressionError) errorDetail() {}
func (UnknownError) errorDetail()           {}

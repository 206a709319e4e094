package classifier

import (
	"regexp"
	"strconv"
	"time"

	"github.com/dukex/flowmedic/pkg/models"
)

var (
	hostPattern       = regexp.MustCompile(`(?:ECONNREFUSED|ECONNRESET|ENOTFOUND|EHOSTUNREACH|getaddrinfo \w+)\s+([\w.\-]+(?::\d+)?)`)
	limitPattern      = regexp.MustCompile(`(\d+)\s*ms\b`)
	statusPattern     = regexp.MustCompile(`\b([45]\d\d)\b`)
	expressionPattern = regexp.MustCompile(`\{\{.*?\}\}`)
	fieldPattern      = regexp.MustCompile(`(?:propert(?:y|ies) of (?:undefined|null) \(reading '|field ')([^']+)'`)
)

// buildDetail extracts the typed fields each error type carries from the failure.
func buildDetail(errorType models.ErrorType, failure *models.ExecutionError) models.ErrorDetail {
	node := failure.NodeName
	message := failure.Message

	switch errorType {
	case models.ErrorTypeNodeConnection:
		return models.NodeConnectionError{Node: node, Host: submatch(hostPattern, message)}
	case models.ErrorTypeAuthentication:
		return models.AuthenticationError{Node: node, Credential: contextString(failure, "credential")}
	case models.ErrorTypeCredentialMissing:
		return models.CredentialMissingError{Node: node, CredentialType: contextString(failure, "credential_type")}
	case models.ErrorTypeTimeout:
		detail := models.TimeoutError{Node: node}
		if ms, err := strconv.Atoi(submatch(limitPattern, message)); err == nil {
			detail.Limit = time.Duration(ms) * time.Millisecond
		}

		return detail
	case models.ErrorTypeDataFormat:
		return models.DataFormatError{Node: node, Field: submatch(fieldPattern, message)}
	case models.ErrorTypeAPIError:
		detail := models.APIError{Node: node, StatusCode: failure.HTTPStatus}
		if detail.StatusCode == 0 {
			detail.StatusCode, _ = strconv.Atoi(submatch(statusPattern, message))
		}

		return detail
	case models.ErrorTypeInvalidExpression:
		return models.InvalidExpressionError{Node: node, Expression: expressionPattern.FindString(message)}
	default:
		return models.UnknownError{Node: node, Message: message}
	}
}

func submatch(re *regexp.Regexp, s string) string {
	match := re.FindStringSubmatch(s)
	if len(match) < 2 {
		return ""
	}

	return match[1]
}

func contextString(failure *models.ExecutionError, key string) string {
	value, _ := failure.Context[key].(string)

	return value
}

package apirouter

import (
	"fmt"
	"net/http"
	"strings"
)

// Failure classifications attached by callers that inspected the error
// body or the transport failure.
const (
	ClassTimeout            = "timeout"
	ClassNetwork            = "network"
	ClassRateLimit          = "rate_limit"
	ClassProviderAuth       = "provider_auth"
	ClassProviderModel      = "provider_model"
	ClassProviderBadRequest = "provider_bad_request"
	ClassBadGateway         = "bad_gateway"
	ClassGatewayTimeout     = "gateway_timeout"
	ClassInvalidResponse    = "invalid_response"
)

// Structured error codes the backend emits.
const (
	CodeNotAllowlisted   = "not_allowlisted"
	CodeValidationError  = "validation_error"
	CodeInvalidPayload   = "invalid_payload"
	CodePlatformRejected = "platform_rejected"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIErrorInput collects everything known about one failed request:
// the HTTP status (0 when no response arrived), the structured error
// body, and the transport-level classification.
type APIErrorInput struct {
	Status         int
	Code           string
	Message        string
	FieldErrors    []FieldError
	Classification string
	Problem        string
	Warning        string
	Tip            string
}

// HumanizeAPIError maps a failed request to one user-facing message.
// It is pure and total: every input combination yields a non-empty
// string, selected by priority.
func HumanizeAPIError(in APIErrorInput) string {
	classification := strings.ToLower(strings.TrimSpace(in.Classification))
	code := strings.ToLower(strings.TrimSpace(in.Code))
	message := strings.TrimSpace(in.Message)
	lowerMessage := strings.ToLower(message)

	if in.Status == 0 {
		if classification == ClassTimeout || strings.Contains(lowerMessage, "timeout") || strings.Contains(lowerMessage, "timed out") {
			return "The request timed out. The backend may be busy, try again in a moment."
		}
		return "Could not reach the backend. Check your connection and the configured backend address."
	}

	switch in.Status {
	case http.StatusUnauthorized:
		return "Your session has expired. Sign in again to continue."
	case http.StatusForbidden:
		if code == CodeNotAllowlisted {
			return "This account is not allow-listed for generation. Ask an administrator to add it."
		}
	case http.StatusTooManyRequests:
		return "Rate limit reached. Wait a little and retry."
	case http.StatusServiceUnavailable:
		switch {
		case strings.Contains(lowerMessage, "api key"):
			return "The backend is running without a provider API key. Add one to its configuration and restart it."
		case strings.Contains(lowerMessage, "model not configured"):
			return "The backend has no generation model configured. Set a default model in its configuration."
		default:
			return "The service is temporarily unavailable. Try again shortly."
		}
	}

	if classification == ClassRateLimit {
		return "Rate limit reached. Wait a little and retry."
	}

	switch code {
	case CodeValidationError, CodeInvalidPayload:
		if len(in.FieldErrors) > 0 {
			parts := make([]string, 0, len(in.FieldErrors))
			for _, fieldError := range in.FieldErrors {
				parts = append(parts, fmt.Sprintf("%s: %s", fieldError.Field, fieldError.Message))
			}
			prefix := message
			if prefix == "" {
				prefix = "The request was rejected"
			}
			return prefix + " (" + strings.Join(parts, "; ") + ")"
		}
		if message != "" {
			return message
		}
		return "The request was rejected as invalid. Review the entry and retry."
	case CodePlatformRejected:
		parts := []string{}
		if problem := strings.TrimSpace(in.Problem); problem != "" {
			parts = append(parts, problem)
		}
		if warning := strings.TrimSpace(in.Warning); warning != "" {
			parts = append(parts, warning)
		}
		if tip := strings.TrimSpace(in.Tip); tip != "" {
			parts = append(parts, "Tip: "+tip)
		}
		if len(parts) == 0 {
			return "The platform rejected this content. Adjust it and retry."
		}
		return "The platform rejected this content. " + strings.Join(parts, " ")
	}

	switch classification {
	case ClassProviderAuth:
		return "The provider rejected our credentials. Update the provider API key in settings."
	case ClassProviderModel:
		return "The requested model is unavailable on this provider. Pick a different model and retry."
	case ClassProviderBadRequest:
		return "The provider rejected the request. Adjust the prompt or parameters and retry."
	case ClassBadGateway, ClassGatewayTimeout, ClassTimeout:
		return "The backend could not get an answer from the provider in time. Try again in a moment."
	case ClassInvalidResponse:
		return "The provider returned an unreadable response. Retry, and report it if this keeps happening."
	case ClassNetwork:
		return "Could not reach the backend. Check your connection and the configured backend address."
	}

	if message != "" {
		return message
	}
	return "Something went wrong. Try again."
}

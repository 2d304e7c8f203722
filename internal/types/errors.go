package types

import (
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
)

// Kind classifies a request failure. Kinds, not Go types, are the unit of
// the taxonomy: they drive the HTTP status, the dialect error body, and the
// error_kind field of the audit record.
type Kind string

const (
	KindConfig            Kind = "ConfigError"
	KindModelNotFound     Kind = "ModelNotFound"
	KindBadRequest        Kind = "BadRequest"
	KindUpstreamTimeout   Kind = "UpstreamTimeout"
	KindUpstreamTransport Kind = "UpstreamTransport"
	KindUpstreamStatus    Kind = "UpstreamStatus"
	KindTransform         Kind = "TransformError"
	KindStreamAborted     Kind = "StreamAborted"
	KindRetriesExhausted  Kind = "RetriesExhausted"
)

// Dialect identifies the inbound endpoint's wire dialect, which determines
// the shape of client-visible error bodies.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
)

// ProxyError is the one error type crossing component boundaries. Status is
// the upstream status code for KindUpstreamStatus, the last attempt's status
// (if any) for KindRetriesExhausted, and zero otherwise.
type ProxyError struct {
	Kind    Kind
	Message string
	Status  int
}

func (e *ProxyError) Error() string {
	if e.Kind == KindUpstreamStatus {
		return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Message)
	}
	return e.Message
}

// NotFound reports an unroutable model name.
func NotFound(model string) *ProxyError {
	return &ProxyError{Kind: KindModelNotFound, Message: fmt.Sprintf("model %q is not configured", model)}
}

// BadRequest reports invalid inbound JSON or a missing model field.
func BadRequest(format string, args ...any) *ProxyError {
	return &ProxyError{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Timeout reports total-timeout expiry while awaiting upstream headers.
func Timeout(message string) *ProxyError {
	return &ProxyError{Kind: KindUpstreamTimeout, Message: message}
}

// Transport reports a connection-level upstream failure.
func Transport(message string) *ProxyError {
	return &ProxyError{Kind: KindUpstreamTransport, Message: message}
}

// UpstreamStatus reports a non-2xx upstream response.
func UpstreamStatus(status int, message string) *ProxyError {
	return &ProxyError{Kind: KindUpstreamStatus, Status: status, Message: message}
}

// Transform reports a regex or JSONPath failure.
func Transform(format string, args ...any) *ProxyError {
	return &ProxyError{Kind: KindTransform, Message: fmt.Sprintf(format, args...)}
}

// Exhausted wraps the last error observed when the retry budget ran out.
func Exhausted(last *ProxyError, attempts int) *ProxyError {
	return &ProxyError{
		Kind:    KindRetriesExhausted,
		Status:  last.Status,
		Message: fmt.Sprintf("retries exhausted after %d attempts: %s", attempts, last.Error()),
	}
}

// HTTPStatus maps the kind to the client-visible status code. Upstream
// statuses are proxied through by the handler before this is consulted, so
// the transport-class kinds all collapse to 502 here.
func (e *ProxyError) HTTPStatus() int {
	switch e.Kind {
	case KindModelNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUpstreamTimeout, KindUpstreamTransport, KindRetriesExhausted:
		return http.StatusBadGateway
	case KindUpstreamStatus:
		if e.Status > 0 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// apiType maps the kind to the dialect error body's type field.
func (e *ProxyError) apiType() string {
	switch e.Kind {
	case KindModelNotFound:
		return "not_found_error"
	case KindBadRequest:
		return "invalid_request_error"
	case KindUpstreamTimeout:
		return "timeout_error"
	default:
		return "api_error"
	}
}

// openai-shaped and anthropic-shaped error envelopes.
type openAIError struct {
	Error openAIErrorBody `json:"error"`
}

type openAIErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type anthropicError struct {
	Type  string             `json:"type"`
	Error anthropicErrorBody `json:"error"`
}

type anthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WriteError renders e as a JSON error response in the given dialect. The
// model_not_found case keeps its legacy type value so existing clients can
// keep matching on it.
func WriteError(w http.ResponseWriter, dialect Dialect, e *ProxyError) {
	status := e.HTTPStatus()
	apiType := e.apiType()
	if e.Kind == KindModelNotFound {
		apiType = "model_not_found"
	}

	var body any
	if dialect == DialectAnthropic {
		body = anthropicError{
			Type:  "error",
			Error: anthropicErrorBody{Type: apiType, Message: e.Message},
		}
	} else {
		body = openAIError{
			Error: openAIErrorBody{Message: e.Message, Type: apiType, Code: status},
		}
	}

	payload, err := sonic.Marshal(body)
	if err != nil {
		http.Error(w, e.Message, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}

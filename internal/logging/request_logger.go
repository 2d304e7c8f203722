package logging

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"modelrelay/internal/config"
	"modelrelay/internal/types"
)

// maxLoggedBody bounds how much of a body goes into an audit record.
const maxLoggedBody = 64 * 1024

const redactedValue = "[REDACTED]"

// Record is one completed request's audit entry. Model is the client-visible
// (pre-rewrite) name; BackendModel is what actually went upstream.
type Record struct {
	RequestID      string
	ClientIP       string
	Method         string
	Path           string
	Model          string
	BackendModel   string
	UpstreamURL    string
	UpstreamStatus int
	Duration       time.Duration
	BytesIn        int64
	BytesOut       int64
	RetryCount     int
	ErrorKind      types.Kind
	Headers        http.Header
	Body           []byte
}

// Auditor emits one structured record per completed request, with secrets
// redacted from headers and bodies when the config asks for them.
type Auditor struct {
	log *zap.Logger
	cfg config.LoggingConfig
}

// NewAuditor wraps the process logger with the audit config.
func NewAuditor(log *zap.Logger, cfg config.LoggingConfig) *Auditor {
	return &Auditor{log: log, cfg: cfg}
}

// Log writes the record. Server failures log at error, client failures at
// warn, everything else at info; a downstream disconnect mid-stream gets its
// own message so it is not mistaken for an upstream fault.
func (a *Auditor) Log(rec Record) {
	if !a.cfg.IsEnabled() {
		return
	}

	fields := []zap.Field{
		zap.String("request_id", rec.RequestID),
		zap.String("client_ip", rec.ClientIP),
		zap.String("method", rec.Method),
		zap.String("path", rec.Path),
		zap.String("model", rec.Model),
		zap.String("backend_model", rec.BackendModel),
		zap.String("upstream_url", rec.UpstreamURL),
		zap.Int("upstream_status", rec.UpstreamStatus),
		zap.Int64("duration_ms", rec.Duration.Milliseconds()),
		zap.Int64("bytes_in", rec.BytesIn),
		zap.Int64("bytes_out", rec.BytesOut),
		zap.Int("retry_count", rec.RetryCount),
	}
	if rec.ErrorKind != "" {
		fields = append(fields, zap.String("error_kind", string(rec.ErrorKind)))
	}
	if a.cfg.HeadersIncluded() && rec.Headers != nil {
		fields = append(fields, zap.Any("headers", RedactHeaders(rec.Headers)))
	}
	if a.cfg.BodyIncluded() && rec.Body != nil {
		fields = append(fields, zap.String("body", string(truncate(RedactBody(rec.Body)))))
	}

	msg := "request completed"
	if rec.ErrorKind == types.KindStreamAborted {
		msg = "client_disconnect"
	}

	status := rec.UpstreamStatus
	if status == 0 && rec.ErrorKind != "" && rec.ErrorKind != types.KindStreamAborted {
		// No upstream status: classify by the status the proxy answered with.
		status = (&types.ProxyError{Kind: rec.ErrorKind}).HTTPStatus()
	}

	switch {
	case status >= 500:
		a.log.Error(msg, fields...)
	case status >= 400:
		a.log.Warn(msg, fields...)
	default:
		a.log.Info(msg, fields...)
	}
}

// LogUpstreamAttempt traces one upstream call at debug level.
func (a *Auditor) LogUpstreamAttempt(model, endpoint string, attempt int) {
	if !a.cfg.IsEnabled() {
		return
	}
	a.log.Debug("upstream request",
		zap.String("model", model),
		zap.String("endpoint", endpoint),
		zap.Int("attempt", attempt),
	)
}

// IsSensitiveName reports whether a header or JSON key carries a secret.
// Comparison is case-insensitive against the fixed pattern set:
// authorization, api-key, apikey, *-api-key, *-token, *-password, *-secret.
func IsSensitiveName(name string) bool {
	lower := strings.ToLower(name)
	switch lower {
	case "authorization", "api-key", "apikey":
		return true
	}
	for _, suffix := range []string{"-api-key", "-token", "-password", "-secret"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// RedactHeaders flattens headers into a loggable map, replacing sensitive
// values.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if IsSensitiveName(name) {
			out[name] = redactedValue
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// RedactBody replaces the values of sensitive JSON keys at any depth.
// Non-JSON bodies are returned unchanged.
func RedactBody(body []byte) []byte {
	var doc any
	if err := sonic.Unmarshal(body, &doc); err != nil {
		return body
	}
	redacted, err := sonic.Marshal(redactValue(doc))
	if err != nil {
		return body
	}
	return redacted
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, vv := range t {
			if IsSensitiveName(k) {
				t[k] = redactedValue
			} else {
				t[k] = redactValue(vv)
			}
		}
		return t
	case []any:
		for i := range t {
			t[i] = redactValue(t[i])
		}
		return t
	default:
		return v
	}
}

// truncate caps a logged body at maxLoggedBody, marking how much was cut.
func truncate(body []byte) []byte {
	if len(body) <= maxLoggedBody {
		return body
	}
	marker := fmt.Sprintf("[TRUNCATED %d bytes]", len(body)-maxLoggedBody)
	out := make([]byte, 0, maxLoggedBody+len(marker))
	out = append(out, body[:maxLoggedBody]...)
	return append(out, marker...)
}

package logging

import (
	"net/http"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"modelrelay/internal/config"
	"modelrelay/internal/types"
)

func boolPtr(b bool) *bool { return &b }

func TestIsSensitiveName(t *testing.T) {
	sensitive := []string{
		"Authorization", "authorization",
		"X-API-Key", "x-api-key", "Api-Key", "ApiKey",
		"X-Auth-Token", "Session-Token",
		"DB-Password", "Client-Secret",
	}
	for _, name := range sensitive {
		if !IsSensitiveName(name) {
			t.Errorf("Expected %q to be sensitive", name)
		}
	}

	benign := []string{"Content-Type", "User-Agent", "Accept", "X-Request-Id", "tokenizer"}
	for _, name := range benign {
		if IsSensitiveName(name) {
			t.Errorf("Expected %q to be benign", name)
		}
	}
}

func TestRedactHeaders(t *testing.T) {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer sk-123")
	h.Set("X-Api-Key", "secret")

	got := RedactHeaders(h)
	if got["Content-Type"] != "application/json" {
		t.Errorf("Expected benign header preserved, got %q", got["Content-Type"])
	}
	if got["Authorization"] != "[REDACTED]" || got["X-Api-Key"] != "[REDACTED]" {
		t.Errorf("Expected sensitive headers redacted, got %v", got)
	}
}

func TestRedactBody(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4",
		"api_key": "keep",
		"apikey": "sk-1",
		"auth": {"access-token": "t", "nested": [{"db-password": "p"}]}
	}`)

	got := RedactBody(body)
	if gjson.GetBytes(got, "apikey").String() != "[REDACTED]" {
		t.Errorf("Expected apikey redacted, got %s", got)
	}
	if gjson.GetBytes(got, "auth.access-token").String() != "[REDACTED]" {
		t.Errorf("Expected nested token redacted, got %s", got)
	}
	if gjson.GetBytes(got, "auth.nested.0.db-password").String() != "[REDACTED]" {
		t.Errorf("Expected password inside array redacted, got %s", got)
	}
	if gjson.GetBytes(got, "model").String() != "gpt-4" {
		t.Errorf("Expected benign field preserved, got %s", got)
	}
	// api_key uses an underscore, which is not in the pattern set.
	if gjson.GetBytes(got, "api_key").String() != "keep" {
		t.Errorf("Expected non-matching key untouched, got %s", got)
	}
}

func TestRedactBodyNonJSON(t *testing.T) {
	body := []byte("not json at all")
	if got := RedactBody(body); string(got) != "not json at all" {
		t.Errorf("Expected non-JSON body unchanged, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	small := []byte("short")
	if got := truncate(small); string(got) != "short" {
		t.Errorf("Expected small body untouched, got %q", got)
	}

	big := []byte(strings.Repeat("a", maxLoggedBody+100))
	got := string(truncate(big))
	if len(got) >= len(big) {
		t.Error("Expected truncation")
	}
	if !strings.HasSuffix(got, "[TRUNCATED 100 bytes]") {
		t.Errorf("Expected truncation marker, got suffix %q", got[len(got)-30:])
	}
}

func newObservedAuditor(cfg config.LoggingConfig) (*Auditor, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewAuditor(zap.New(core), cfg), logs
}

func TestAuditorLogFields(t *testing.T) {
	a, logs := newObservedAuditor(config.LoggingConfig{})

	a.Log(Record{
		RequestID:      "req-1",
		ClientIP:       "10.0.0.1",
		Method:         "POST",
		Path:           "/v1/chat/completions",
		Model:          "gpt-4",
		BackendModel:   "llama3",
		UpstreamURL:    "https://u/e",
		UpstreamStatus: 200,
		BytesIn:        42,
		BytesOut:       128,
		RetryCount:     1,
		Headers:        http.Header{"Authorization": {"Bearer x"}},
		Body:           []byte(`{"model":"gpt-4"}`),
	})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Message != "request completed" {
		t.Errorf("Expected completion message, got %q", entry.Message)
	}

	fields := entry.ContextMap()
	if fields["model"] != "gpt-4" || fields["backend_model"] != "llama3" {
		t.Errorf("Expected model fields, got %v", fields)
	}
	if fields["retry_count"] != int64(1) {
		t.Errorf("Expected retry_count, got %v", fields["retry_count"])
	}
	headers, ok := fields["headers"].(map[string]string)
	if !ok || headers["Authorization"] != "[REDACTED]" {
		t.Errorf("Expected redacted headers in record, got %v", fields["headers"])
	}
}

func TestAuditorLevels(t *testing.T) {
	a, logs := newObservedAuditor(config.LoggingConfig{})

	a.Log(Record{UpstreamStatus: 200})
	a.Log(Record{UpstreamStatus: 404})
	a.Log(Record{UpstreamStatus: 502, ErrorKind: types.KindRetriesExhausted})

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel || entries[2].Level != zap.ErrorLevel {
		t.Errorf("Expected info/warn/error, got %v %v %v", entries[0].Level, entries[1].Level, entries[2].Level)
	}
}

func TestAuditorDisconnectMessage(t *testing.T) {
	a, logs := newObservedAuditor(config.LoggingConfig{})
	a.Log(Record{UpstreamStatus: 200, ErrorKind: types.KindStreamAborted, BytesOut: 77})

	entries := logs.All()
	if len(entries) != 1 || entries[0].Message != "client_disconnect" {
		t.Fatalf("Expected client_disconnect record, got %v", entries)
	}
	if entries[0].ContextMap()["bytes_out"] != int64(77) {
		t.Error("Expected partial byte count in disconnect record")
	}
}

func TestAuditorDisabled(t *testing.T) {
	a, logs := newObservedAuditor(config.LoggingConfig{Enabled: boolPtr(false)})
	a.Log(Record{UpstreamStatus: 200})
	if logs.Len() != 0 {
		t.Error("Expected no records when disabled")
	}
}

func TestAuditorOmitsHeadersAndBodyWhenConfigured(t *testing.T) {
	a, logs := newObservedAuditor(config.LoggingConfig{
		IncludeHeaders: boolPtr(false),
		IncludeBody:    boolPtr(false),
	})
	a.Log(Record{
		UpstreamStatus: 200,
		Headers:        http.Header{"X": {"y"}},
		Body:           []byte("{}"),
	})

	fields := logs.All()[0].ContextMap()
	if _, ok := fields["headers"]; ok {
		t.Error("Expected headers omitted")
	}
	if _, ok := fields["body"]; ok {
		t.Error("Expected body omitted")
	}
}

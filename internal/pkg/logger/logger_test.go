package logger

import "testing"

func TestLoggerNew(t *testing.T) {
	testCases := []struct {
		name  string
		level string
	}{
		{"debug level", "debug"},
		{"info level", "info"},
		{"warn level", "warn"},
		{"error level", "error"},
		{"empty level defaults to info", ""},
		{"invalid level defaults to info", "verbose"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			log, err := New(tc.level)
			if err != nil {
				t.Errorf("Expected no error for level %q, got %v", tc.level, err)
			}
			if log == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

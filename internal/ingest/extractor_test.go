package ingest

import (
	"testing"
	"time"

	"github.com/tinytelemetry/sage/internal/model"
)

func extractOne(t *testing.T, line string) *model.LogEvent {
	t.Helper()
	events, ok := NewExtractor().ExtractLogEvents(line, "test", time.Now())
	if !ok {
		t.Fatalf("ExtractLogEvents did not recognize %q as JSON", line)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	return events[0]
}

func TestExtractLogEvents_Pino(t *testing.T) {
	t.Parallel()
	line := `{"level":30,"time":1705314645000,"msg":"request processed","hostname":"web1","pid":1234,"responseTime":123.4}`
	event := extractOne(t, line)

	if event.Level != model.LevelInfo {
		t.Errorf("level = %q, want INFO (pino level 30)", event.Level)
	}
	if event.Message != "request processed" {
		t.Errorf("message = %q, want 'request processed'", event.Message)
	}
	if event.Attributes["hostname"] != "web1" {
		t.Errorf("hostname attr = %q, want 'web1'", event.Attributes["hostname"])
	}
	if event.Attributes["pid"] != "1234" {
		t.Errorf("pid attr = %q, want '1234'", event.Attributes["pid"])
	}
	if event.ResponseTime == nil || *event.ResponseTime != 123.4 {
		t.Errorf("responseTime = %v, want 123.4", event.ResponseTime)
	}
	if event.OrigTimestamp.Year() != 2024 {
		t.Errorf("orig timestamp year = %d, want 2024 (unix millis)", event.OrigTimestamp.Year())
	}
}

func TestExtractLogEvents_Winston(t *testing.T) {
	t.Parallel()
	line := `{"level":"error","message":"connection refused","timestamp":"2024-01-15T10:30:45.000Z","service":"api"}`
	event := extractOne(t, line)

	if event.Level != model.LevelError {
		t.Errorf("level = %q, want ERROR", event.Level)
	}
	if event.Message != "connection refused" {
		t.Errorf("message = %q, want 'connection refused'", event.Message)
	}
	if event.Service != "api" {
		t.Errorf("service = %q, want 'api'", event.Service)
	}
	if event.OrigTimestamp.Year() != 2024 {
		t.Errorf("orig timestamp year = %d, want 2024", event.OrigTimestamp.Year())
	}
}

func TestExtractLogEvents_NotJSON(t *testing.T) {
	t.Parallel()
	e := NewExtractor()
	for _, line := range []string{
		"this is not json",
		"",
		"   ",
		`[1, 2, 3]`,
		`"just a string"`,
	} {
		if _, ok := e.ExtractLogEvents(line, "test", time.Now()); ok {
			t.Errorf("ExtractLogEvents(%q) ok = true, want false", line)
		}
	}
}

func TestExtractLogEvents_LevelClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		line string
		want model.Level
	}{
		{"string level", `{"level":"error","msg":"x"}`, model.LevelError},
		{"warn", `{"level":"warn","msg":"x"}`, model.LevelWarn},
		{"numeric level 30", `{"level":30,"msg":"x"}`, model.LevelInfo},
		{"numeric level 50", `{"level":50,"msg":"x"}`, model.LevelError},
		{"severity field", `{"severity":"warning","msg":"x"}`, model.LevelWarn},
		{"lvl field", `{"lvl":"debug","msg":"x"}`, model.LevelDebug},
		{"short form err", `{"level":"err","msg":"x"}`, model.LevelError},
		{"no level", `{"msg":"x"}`, model.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := extractOne(t, tt.line).Level; got != tt.want {
				t.Errorf("level = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractLogEvents_Timestamps(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		line string
		zero bool
		year int
	}{
		{"RFC3339", `{"timestamp":"2024-01-15T10:30:45Z","msg":"x"}`, false, 2024},
		{"unix seconds", `{"ts":946684800,"msg":"x"}`, false, 2000},
		{"at-timestamp", `{"@timestamp":"2024-01-15T10:30:45Z","msg":"x"}`, false, 2024},
		{"no timestamp", `{"other":"value","msg":"x"}`, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := extractOne(t, tt.line).OrigTimestamp
			if tt.zero != ts.IsZero() {
				t.Fatalf("orig timestamp = %v, want zero=%v", ts, tt.zero)
			}
			if !tt.zero && ts.Year() != tt.year {
				t.Errorf("year = %d, want %d", ts.Year(), tt.year)
			}
		})
	}
}

func TestExtractLogEvents_ReceiveTimestamp(t *testing.T) {
	t.Parallel()
	received := time.Date(2026, time.August, 24, 12, 0, 0, 0, time.UTC)
	events, ok := NewExtractor().ExtractLogEvents(`{"msg":"x"}`, "tcp", received)
	if !ok || len(events) != 1 {
		t.Fatalf("events = %v ok = %v, want one event", events, ok)
	}
	if !events[0].Timestamp.Equal(received) {
		t.Errorf("timestamp = %v, want receive time %v", events[0].Timestamp, received)
	}
	if events[0].Source != "tcp" {
		t.Errorf("source = %q, want 'tcp'", events[0].Source)
	}
}

func TestExtractLogEvents_ResponseTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		line string
		want *float64
	}{
		{"number", `{"msg":"x","response_time":250.5}`, ptrFloat(250.5)},
		{"numeric string", `{"msg":"x","duration_ms":"42"}`, ptrFloat(42)},
		{"absent", `{"msg":"x"}`, nil},
		{"non-numeric string", `{"msg":"x","responseTime":"fast"}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := extractOne(t, tt.line).ResponseTime
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("responseTime = %v, want nil", *got)
			case tt.want != nil && got == nil:
				t.Errorf("responseTime = nil, want %v", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("responseTime = %v, want %v", *got, *tt.want)
			}
		})
	}
}

func TestExtractLogEvents_Attributes(t *testing.T) {
	t.Parallel()
	line := `{"level":"info","msg":"x","time":"2024-01-15T10:30:45Z","active":true,"count":3,"meta":{"a":1},"missing":null}`
	event := extractOne(t, line)

	for _, consumed := range []string{"level", "msg", "time"} {
		if _, ok := event.Attributes[consumed]; ok {
			t.Errorf("consumed field %q should not appear in attributes", consumed)
		}
	}
	if event.Attributes["active"] != "true" {
		t.Errorf("active attr = %q, want 'true'", event.Attributes["active"])
	}
	if event.Attributes["count"] != "3" {
		t.Errorf("count attr = %q, want '3'", event.Attributes["count"])
	}
	if event.Attributes["meta"] != `{"a":1}` {
		t.Errorf("meta attr = %q, want raw JSON", event.Attributes["meta"])
	}
	if _, ok := event.Attributes["missing"]; ok {
		t.Error("null field should be dropped from attributes")
	}
}

func TestFallbackEvent(t *testing.T) {
	t.Parallel()
	e := NewExtractor()
	event := e.FallbackEvent("2024-01-15 ERROR: connection refused", "stdin", time.Now())

	if event.Level != model.LevelError {
		t.Errorf("level = %q, want ERROR", event.Level)
	}
	if event.Service != "unknown" {
		t.Errorf("service = %q, want 'unknown'", event.Service)
	}
	if event.Source != "stdin" {
		t.Errorf("source = %q, want 'stdin'", event.Source)
	}
}

func TestFallbackEvent_TimestampPrefix(t *testing.T) {
	t.Parallel()
	e := NewExtractor()
	event := e.FallbackEvent("2024-01-15T10:30:45Z ERROR: connection refused", "stdin", time.Now())

	if event.OrigTimestamp.Year() != 2024 {
		t.Errorf("orig timestamp year = %d, want 2024", event.OrigTimestamp.Year())
	}
	if event.Message != "connection refused" {
		t.Errorf("message = %q, want 'connection refused'", event.Message)
	}
}

func TestFallbackEvent_CleansTabs(t *testing.T) {
	t.Parallel()
	e := NewExtractor()
	event := e.FallbackEvent("message\twith\ttabs\nand\nnewlines", "stdin", time.Now())

	if event.Message != "message with tabs and newlines" {
		t.Errorf("message = %q, should have tabs/newlines replaced", event.Message)
	}
}

func TestExtractLogEvents_OTLPEnvelope(t *testing.T) {
	t.Parallel()
	line := `{"resourceLogs":[{"resource":{"attributes":[` +
		`{"key":"service.name","value":{"stringValue":"checkout"}},` +
		`{"key":"deployment.environment","value":{"stringValue":"prod"}}]},` +
		`"scopeLogs":[{"scope":{"name":"app.logger"},"logRecords":[` +
		`{"timeUnixNano":"1705314645000000000","severityNumber":17,"severityText":"ERROR",` +
		`"body":{"stringValue":"payment failed"},` +
		`"attributes":[{"key":"order.id","value":{"intValue":"9912"}}]},` +
		`{"severityNumber":9,"body":{"stringValue":"retry scheduled"}}]}]}]}`

	events, ok := NewExtractor().ExtractLogEvents(line, "tcp", time.Now())
	if !ok {
		t.Fatal("OTLP envelope not recognized as JSON")
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	first := events[0]
	if first.Level != model.LevelError {
		t.Errorf("first level = %q, want ERROR (severityNumber 17)", first.Level)
	}
	if first.Message != "payment failed" {
		t.Errorf("first message = %q, want 'payment failed'", first.Message)
	}
	if first.Service != "checkout" {
		t.Errorf("first service = %q, want 'checkout' from resource attrs", first.Service)
	}
	if first.Attributes["order.id"] != "9912" {
		t.Errorf("order.id attr = %q, want '9912'", first.Attributes["order.id"])
	}
	if first.Attributes["deployment.environment"] != "prod" {
		t.Errorf("resource attr not merged: %v", first.Attributes)
	}
	if first.Attributes["scope.name"] != "app.logger" {
		t.Errorf("scope.name attr = %q, want 'app.logger'", first.Attributes["scope.name"])
	}
	if first.OrigTimestamp.Year() != 2024 {
		t.Errorf("first orig timestamp year = %d, want 2024", first.OrigTimestamp.Year())
	}

	second := events[1]
	if second.Level != model.LevelInfo {
		t.Errorf("second level = %q, want INFO (severityNumber 9)", second.Level)
	}
	if second.Service != "checkout" {
		t.Errorf("second service = %q, want 'checkout'", second.Service)
	}
	if !second.OrigTimestamp.IsZero() {
		t.Errorf("second orig timestamp = %v, want zero", second.OrigTimestamp)
	}
}

func TestExtractLogEvents_OTLPSingleRecord(t *testing.T) {
	t.Parallel()
	line := `{"severityNumber":13,"body":{"stringValue":"disk nearly full"},` +
		`"attributes":[{"key":"service.name","value":{"stringValue":"storage"}}]}`
	event := extractOne(t, line)

	if event.Level != model.LevelWarn {
		t.Errorf("level = %q, want WARN (severityNumber 13)", event.Level)
	}
	if event.Message != "disk nearly full" {
		t.Errorf("message = %q, want 'disk nearly full'", event.Message)
	}
	if event.Service != "storage" {
		t.Errorf("service = %q, want 'storage'", event.Service)
	}
}

func TestExtractLogEvents_OTLPSeverityText(t *testing.T) {
	t.Parallel()
	event := extractOne(t, `{"severityText":"warn","body":{"stringValue":"x"}}`)
	if event.Level != model.LevelWarn {
		t.Errorf("level = %q, want WARN from severityText", event.Level)
	}
}

func TestExtractLogEvents_OTLPEmptyEnvelope(t *testing.T) {
	t.Parallel()
	events, ok := NewExtractor().ExtractLogEvents(`{"resourceLogs":[]}`, "tcp", time.Now())
	if !ok {
		t.Fatal("empty envelope should still be recognized as OTLP")
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}

func TestExtractService(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		attrs    map[string]string
		expected string
	}{
		{"service.name", map[string]string{"service.name": "api"}, "api"},
		{"service", map[string]string{"service": "web"}, "web"},
		{"serviceName", map[string]string{"serviceName": "auth"}, "auth"},
		{"app", map[string]string{"app": "myapp"}, "myapp"},
		{"name", map[string]string{"name": "svc"}, "svc"},
		{"priority", map[string]string{"service.name": "api", "app": "myapp"}, "api"},
		{"unknown", map[string]string{"foo": "bar"}, "unknown"},
		{"empty", map[string]string{}, "unknown"},
		{"nil", nil, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractService(tt.attrs); got != tt.expected {
				t.Errorf("ExtractService = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCountJSONDepth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line     string
		expected int
	}{
		{`{`, 1},
		{`}`, -1},
		{`{"key": "value"}`, 0},
		{`{"nested": {`, 2},
		{`"key": "val with { brace"`, 0}, // braces inside strings
		{`}}`, -2},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			if got := CountJSONDepth(tt.line); got != tt.expected {
				t.Errorf("CountJSONDepth(%q) = %d, want %d", tt.line, got, tt.expected)
			}
		})
	}
}

func ptrFloat(v float64) *float64 { return &v }

package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tinytelemetry/sage/internal/logparse"
	"github.com/tinytelemetry/sage/internal/model"
	"github.com/tinytelemetry/sage/internal/timestamp"
)

// Field names probed on generic structured log lines, in priority order.
// These cover pino, bunyan, winston, zerolog, zap and logrus output.
var (
	levelFieldNames   = []string{"level", "severity", "lvl", "loglevel"}
	messageFieldNames = []string{"msg", "message", "log", "text"}
	timeFieldNames    = []string{"time", "timestamp", "ts", "@timestamp", "datetime"}

	// Response time fields, expected in milliseconds.
	responseTimeFieldNames = []string{
		"responseTime", "response_time", "responseTimeMs", "response_time_ms",
		"durationMs", "duration_ms", "latencyMs", "latency_ms",
	}

	// Attribute keys consulted for the owning service, in priority order.
	serviceAttrNames = []string{"service.name", "service", "serviceName", "app", "name"}
)

// Extractor classifies raw log lines into model.LogEvents. Three shapes
// are recognized: OTLP/JSON export envelopes (resourceLogs trees), generic
// structured JSON logs, and plain text via the fallback path.
type Extractor struct {
	ts *timestamp.Parser
}

// NewExtractor returns a ready Extractor.
func NewExtractor() *Extractor {
	return &Extractor{ts: timestamp.NewParser()}
}

// ExtractLogEvents classifies a structured line. The second return is false
// when the line is not a JSON object at all; callers should then build a
// fallback event. A recognized OTLP envelope with no records yields an
// empty slice with ok=true.
func (e *Extractor) ExtractLogEvents(line, source string, received time.Time) ([]*model.LogEvent, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !gjson.Valid(trimmed) {
		return nil, false
	}
	doc := gjson.Parse(trimmed)
	if !doc.IsObject() {
		return nil, false
	}

	if doc.Get("resourceLogs").IsArray() {
		return e.parseOTLPEnvelope(doc, source, received), true
	}

	fields := topLevelFields(doc)
	if isOTLPRecord(fields) {
		return []*model.LogEvent{e.otlpRecordEvent(doc, nil, "", source, received)}, true
	}
	return []*model.LogEvent{e.parseGenericJSON(fields, trimmed, source, received)}, true
}

// FallbackEvent builds an event from a plain text line: a leading
// timestamp is recognized when present, the severity is pulled from the
// text, and the message is the line minus both.
func (e *Extractor) FallbackEvent(line, source string, received time.Time) *model.LogEvent {
	event := &model.LogEvent{
		Timestamp: received,
		Level:     logparse.ExtractSeverityFromText(line),
		Message:   SanitizeMessage(e.ts.ExtractLogMessage(line)),
		RawLine:   line,
		Service:   ExtractService(nil),
		Source:    source,
	}
	if res := e.ts.ParseFromText(line); res.Found {
		event.OrigTimestamp = res.Timestamp
	}
	return event
}

// parseGenericJSON classifies one structured log object. Consumed fields
// (the matched level, message, timestamp and response time keys) are
// excluded from the attribute map; everything else is kept.
func (e *Extractor) parseGenericJSON(fields map[string]gjson.Result, line, source string, received time.Time) *model.LogEvent {
	consumed := make(map[string]bool, 4)

	level := model.LevelInfo
	for _, name := range levelFieldNames {
		f, ok := fields[name]
		if !ok {
			continue
		}
		if f.Type == gjson.Number {
			level = logparse.PinoLevelToLevel(int(f.Int()))
			consumed[name] = true
			break
		}
		if f.Type == gjson.String && f.Str != "" {
			level = logparse.NormalizeSeverity(f.Str)
			consumed[name] = true
			break
		}
	}

	message := ""
	for _, name := range messageFieldNames {
		if f, ok := fields[name]; ok && f.Type == gjson.String {
			message = f.Str
			consumed[name] = true
			break
		}
	}
	if message == "" {
		message = line
	}

	var orig time.Time
	for _, name := range timeFieldNames {
		f, ok := fields[name]
		if !ok {
			continue
		}
		var ts time.Time
		var found bool
		switch f.Type {
		case gjson.String:
			ts, found = e.ts.ParseTimestamp(f.Str)
		case gjson.Number:
			ts, found = e.ts.ParseTimestamp(f.Num)
		}
		if found {
			orig = ts
			consumed[name] = true
			break
		}
	}

	var responseTime *float64
	for _, name := range responseTimeFieldNames {
		f, ok := fields[name]
		if !ok {
			continue
		}
		if v, ok := numericValue(f); ok {
			responseTime = &v
			consumed[name] = true
			break
		}
	}

	attrs := make(map[string]string, len(fields))
	for name, f := range fields {
		if consumed[name] {
			continue
		}
		if s, ok := stringifyValue(f); ok {
			attrs[name] = s
		}
	}

	return &model.LogEvent{
		Timestamp:     received,
		OrigTimestamp: orig,
		Level:         level,
		Message:       SanitizeMessage(message),
		RawLine:       line,
		Service:       ExtractService(attrs),
		Attributes:    attrs,
		Source:        source,
		ResponseTime:  responseTime,
	}
}

// parseOTLPEnvelope walks an OTLP/JSON logs export payload and emits one
// event per log record. Resource attributes are merged into every record
// under that resource; scopeLogs and the legacy instrumentationLibraryLogs
// spelling are both accepted.
func (e *Extractor) parseOTLPEnvelope(doc gjson.Result, source string, received time.Time) []*model.LogEvent {
	var events []*model.LogEvent
	doc.Get("resourceLogs").ForEach(func(_, rl gjson.Result) bool {
		resourceAttrs := parseOTLPAttributes(rl.Get("resource.attributes"))
		scopes := rl.Get("scopeLogs")
		if !scopes.IsArray() {
			scopes = rl.Get("instrumentationLibraryLogs")
		}
		scopes.ForEach(func(_, sl gjson.Result) bool {
			scopeName := sl.Get("scope.name").Str
			sl.Get("logRecords").ForEach(func(_, rec gjson.Result) bool {
				events = append(events, e.otlpRecordEvent(rec, resourceAttrs, scopeName, source, received))
				return true
			})
			return true
		})
		return true
	})
	return events
}

// otlpRecordEvent converts one OTLP log record. severityNumber wins over
// severityText when both are present.
func (e *Extractor) otlpRecordEvent(rec gjson.Result, resourceAttrs map[string]string, scopeName, source string, received time.Time) *model.LogEvent {
	attrs := make(map[string]string, len(resourceAttrs)+8)
	for k, v := range resourceAttrs {
		attrs[k] = v
	}
	for k, v := range parseOTLPAttributes(rec.Get("attributes")) {
		attrs[k] = v
	}
	if scopeName != "" {
		attrs["scope.name"] = scopeName
	}
	if tid := rec.Get("traceId").Str; tid != "" {
		attrs["trace.id"] = tid
	}
	if sid := rec.Get("spanId").Str; sid != "" {
		attrs["span.id"] = sid
	}

	level := model.LevelInfo
	if n := int(rec.Get("severityNumber").Int()); n > 0 {
		if lv, ok := logparse.SeverityFromOTELNumber(n); ok {
			level = lv
		}
	} else if txt := rec.Get("severityText").Str; txt != "" {
		level = logparse.NormalizeSeverity(txt)
	}

	var orig time.Time
	if ns := rec.Get("timeUnixNano").Int(); ns > 0 {
		orig = time.Unix(0, ns)
	} else if ns := rec.Get("observedTimeUnixNano").Int(); ns > 0 {
		orig = time.Unix(0, ns)
	}

	return &model.LogEvent{
		Timestamp:     received,
		OrigTimestamp: orig,
		Level:         level,
		Message:       SanitizeMessage(anyValueString(rec.Get("body"))),
		RawLine:       rec.Raw,
		Service:       ExtractService(attrs),
		Attributes:    attrs,
		Source:        source,
		ResponseTime:  ResponseTimeFromAttrs(attrs),
	}
}

// isOTLPRecord reports whether a bare JSON object is a single OTLP log
// record rather than a generic structured log line.
func isOTLPRecord(fields map[string]gjson.Result) bool {
	if _, ok := fields["severityNumber"]; ok {
		return true
	}
	if _, ok := fields["severityText"]; ok {
		return true
	}
	_, hasBody := fields["body"]
	_, hasTime := fields["timeUnixNano"]
	return hasBody && hasTime
}

// parseOTLPAttributes flattens an OTLP attribute list ([{key, value}, ...])
// into a string map.
func parseOTLPAttributes(list gjson.Result) map[string]string {
	if !list.IsArray() {
		return nil
	}
	attrs := make(map[string]string)
	list.ForEach(func(_, kv gjson.Result) bool {
		key := kv.Get("key").Str
		if key == "" {
			return true
		}
		if v, ok := anyValue(kv.Get("value")); ok {
			attrs[key] = v
		}
		return true
	})
	return attrs
}

// anyValue renders an OTLP AnyValue wrapper as a string. Proto3 JSON
// serializes int64 as a quoted string; gjson's Int handles both forms.
// Array and kvlist values keep their raw JSON.
func anyValue(v gjson.Result) (string, bool) {
	switch {
	case v.Get("stringValue").Exists():
		return v.Get("stringValue").Str, true
	case v.Get("intValue").Exists():
		return strconv.FormatInt(v.Get("intValue").Int(), 10), true
	case v.Get("doubleValue").Exists():
		return strconv.FormatFloat(v.Get("doubleValue").Float(), 'f', -1, 64), true
	case v.Get("boolValue").Exists():
		return strconv.FormatBool(v.Get("boolValue").Bool()), true
	case v.Get("bytesValue").Exists():
		return v.Get("bytesValue").Str, true
	case v.Get("arrayValue").Exists(), v.Get("kvlistValue").Exists():
		return v.Raw, true
	}
	return "", false
}

// anyValueString extracts a log record body. Senders that skip the
// AnyValue wrapper and put a bare string in body are accepted too.
func anyValueString(body gjson.Result) string {
	if !body.Exists() {
		return ""
	}
	if s, ok := anyValue(body); ok {
		return s
	}
	if body.Type == gjson.String {
		return body.Str
	}
	return ""
}

// ExtractService resolves the owning service from an attribute map,
// checking the usual keys in priority order. Events with no service
// attribution report "unknown".
func ExtractService(attrs map[string]string) string {
	for _, key := range serviceAttrNames {
		if v, ok := attrs[key]; ok && v != "" {
			return v
		}
	}
	return "unknown"
}

// ResponseTimeFromAttrs probes a flattened attribute map for a response
// time value. The attribute itself is left in place.
func ResponseTimeFromAttrs(attrs map[string]string) *float64 {
	for _, name := range responseTimeFieldNames {
		raw, ok := attrs[name]
		if !ok {
			continue
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return &v
		}
	}
	return nil
}

// topLevelFields collects the members of a JSON object so lookups avoid
// path syntax entirely (keys like "@timestamp" would otherwise need
// escaping).
func topLevelFields(doc gjson.Result) map[string]gjson.Result {
	fields := make(map[string]gjson.Result)
	doc.ForEach(func(key, value gjson.Result) bool {
		fields[key.Str] = value
		return true
	})
	return fields
}

// numericValue reads a float from a JSON number or a numeric string.
func numericValue(f gjson.Result) (float64, bool) {
	switch f.Type {
	case gjson.Number:
		return f.Num, true
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(f.Str), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// stringifyValue renders a JSON scalar for the attribute map. Nested
// objects and arrays keep their raw JSON; nulls are dropped.
func stringifyValue(f gjson.Result) (string, bool) {
	switch f.Type {
	case gjson.String:
		return f.Str, true
	case gjson.Number:
		return strconv.FormatFloat(f.Num, 'f', -1, 64), true
	case gjson.True:
		return "true", true
	case gjson.False:
		return "false", true
	case gjson.JSON:
		return f.Raw, true
	}
	return "", false
}

// SanitizeMessage flattens tabs and newlines so one event is one line on
// every output surface.
func SanitizeMessage(s string) string {
	if !strings.ContainsAny(s, "\t\n\r") {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(s), " ")
}

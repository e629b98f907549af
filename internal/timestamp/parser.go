package timestamp

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Result reports a timestamp found at the start of a log line.
type Result struct {
	Timestamp time.Time
	Found     bool
	Remaining string // line content after the timestamp, original line if none found
}

// Parser extracts timestamps from log line prefixes and from structured
// field values (strings and unix numerics at any precision).
type Parser struct{}

// NewParser returns a ready Parser.
func NewParser() *Parser {
	return &Parser{}
}

type textPattern struct {
	re      *regexp.Regexp
	layouts []string
	// syslog lines omit the year; time-only lines omit the date
	fillYear bool
	fillDate bool
}

var textPatterns = []textPattern{
	{
		// 2024-01-15T10:30:45.123Z, 2024-01-15 10:30:45,123+05:00 and friends
		re: regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d{1,9})?(?:Z|[+-]\d{2}:?\d{2})?)\s*`),
		layouts: []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05.999999999",
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05.999999999Z07:00",
			"2006-01-02 15:04:05.999999999",
			"2006-01-02 15:04:05Z07:00",
			"2006-01-02 15:04:05",
		},
	},
	{
		// Syslog: Jan 15 10:30:45
		re:       regexp.MustCompile(`^([A-Z][a-z]{2}\s+\d{1,2}\s\d{2}:\d{2}:\d{2})\s*`),
		layouts:  []string{"Jan _2 15:04:05", "Jan 2 15:04:05"},
		fillYear: true,
	},
	{
		// Bare time: 10:30:45.123
		re:       regexp.MustCompile(`^(\d{2}:\d{2}:\d{2}(?:[.,]\d{1,9})?)\s*`),
		layouts:  []string{"15:04:05.999999999", "15:04:05"},
		fillDate: true,
	},
}

var severityPrefix = regexp.MustCompile(`^\[?\s*(?i:TRACE|DEBUG|INFO|WARN|WARNING|ERROR|FATAL|CRITICAL)\s*\]?\s*[:\-]?\s*`)

// ParseFromText looks for a timestamp at the start of a log line.
func (p *Parser) ParseFromText(line string) Result {
	for _, pat := range textPatterns {
		m := pat.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		candidate := strings.Replace(m[1], ",", ".", 1)
		for _, layout := range pat.layouts {
			ts, err := time.Parse(layout, candidate)
			if err != nil {
				continue
			}
			now := time.Now()
			if pat.fillYear {
				ts = ts.AddDate(now.Year(), 0, 0)
			}
			if pat.fillDate {
				ts = time.Date(now.Year(), now.Month(), now.Day(),
					ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), time.Local)
			}
			return Result{
				Timestamp: ts,
				Found:     true,
				Remaining: strings.TrimSpace(line[len(m[0]):]),
			}
		}
	}
	return Result{Remaining: line}
}

// ParseTimestamp parses a structured field value into a time. Strings are
// tried against the known layouts and as stringified unix numerics; numeric
// values are interpreted by magnitude.
func (p *Parser) ParseTimestamp(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range textPatterns[0].layouts {
			if ts, err := time.Parse(layout, strings.Replace(s, ",", ".", 1)); err == nil {
				return ts, true
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return p.parseUnixTimestamp(n)
		}
		return time.Time{}, false
	case float64:
		return p.parseUnixTimestamp(v)
	case int:
		return p.parseUnixTimestamp(float64(v))
	case int64:
		return p.parseUnixTimestamp(float64(v))
	case uint64:
		return p.parseUnixTimestamp(float64(v))
	default:
		return time.Time{}, false
	}
}

// parseUnixTimestamp guesses the precision of a unix timestamp from its
// magnitude: below 1e10 seconds, below 1e13 milliseconds, below 1e16
// microseconds, above that nanoseconds. The bands keep every precision
// unambiguous for dates between 1971 and 2286.
func (p *Parser) parseUnixTimestamp(n float64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	switch {
	case n < 1e10:
		return time.Unix(int64(n), 0), true
	case n < 1e13:
		return time.UnixMilli(int64(n)), true
	case n < 1e16:
		return time.UnixMicro(int64(n)), true
	default:
		return time.Unix(0, int64(n)), true
	}
}

// ExtractLogMessage strips a leading timestamp and severity tag from a log
// line, returning the human part of the message.
func (p *Parser) ExtractLogMessage(line string) string {
	rest := p.ParseFromText(line).Remaining
	rest = severityPrefix.ReplaceAllString(rest, "")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return strings.TrimSpace(line)
	}
	return rest
}

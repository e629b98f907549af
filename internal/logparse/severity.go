package logparse

import (
	"regexp"
	"strings"

	"github.com/tinytelemetry/sage/internal/model"
)

// SeverityRegex matches common severity levels in log text.
var SeverityRegex = regexp.MustCompile(`(?i)\b(TRACE|DEBUG|INFO|WARN|WARNING|ERROR|FATAL|CRITICAL)\b`)

// NormalizeSeverity converts the many severity spellings seen in the wild
// to a canonical Level. Unrecognized input normalizes to INFO, which keeps
// ingestion lossless; the coordinator applies the strict contract via
// model.ParseLevel.
func NormalizeSeverity(severity string) model.Level {
	normalized := strings.ToUpper(strings.TrimSpace(severity))

	switch normalized {
	case "TRACE", "TRAC", "TRC":
		return model.LevelTrace
	case "DEBUG", "DEBU", "DBG", "DEB":
		return model.LevelDebug
	case "INFO", "INFORMATION", "INF":
		return model.LevelInfo
	case "WARN", "WARNING", "WRNG", "WRN":
		return model.LevelWarn
	case "ERROR", "ERR", "ERRO":
		return model.LevelError
	case "FATAL", "FATL", "FTL", "CRITICAL", "CRIT", "CRT":
		return model.LevelFatal
	case "PANIC", "PNC":
		return model.LevelFatal
	default:
		if len(normalized) >= 4 {
			switch normalized[:4] {
			case "INFO":
				return model.LevelInfo
			case "WARN":
				return model.LevelWarn
			case "ERRO":
				return model.LevelError
			case "DEBU":
				return model.LevelDebug
			case "TRAC":
				return model.LevelTrace
			case "FATA", "CRIT":
				return model.LevelFatal
			}
		}
		return model.LevelInfo
	}
}

// ExtractSeverityFromText extracts a severity level from free-form log text.
func ExtractSeverityFromText(message string) model.Level {
	matches := SeverityRegex.FindStringSubmatch(message)
	if len(matches) > 1 {
		return NormalizeSeverity(matches[1])
	}
	return model.LevelInfo
}

// PinoLevelToLevel converts pino/bunyan numeric levels to Levels.
func PinoLevelToLevel(level int) model.Level {
	switch level {
	case 10:
		return model.LevelTrace
	case 20:
		return model.LevelDebug
	case 30:
		return model.LevelInfo
	case 40:
		return model.LevelWarn
	case 50:
		return model.LevelError
	case 60:
		return model.LevelFatal
	default:
		if level < 20 {
			return model.LevelTrace
		} else if level < 30 {
			return model.LevelDebug
		} else if level < 40 {
			return model.LevelInfo
		} else if level < 50 {
			return model.LevelWarn
		} else if level < 60 {
			return model.LevelError
		}
		return model.LevelFatal
	}
}

// SeverityFromOTELNumber maps an OTEL severityNumber (1-24) to a Level.
// Zero and out-of-range numbers report no match.
func SeverityFromOTELNumber(number int) (model.Level, bool) {
	switch {
	case number >= 1 && number <= 4:
		return model.LevelTrace, true
	case number >= 5 && number <= 8:
		return model.LevelDebug, true
	case number >= 9 && number <= 12:
		return model.LevelInfo, true
	case number >= 13 && number <= 16:
		return model.LevelWarn, true
	case number >= 17 && number <= 20:
		return model.LevelError, true
	case number >= 21 && number <= 24:
		return model.LevelFatal, true
	default:
		return "", false
	}
}

// DefaultOTELSeverityNumber returns the lowest severityNumber of the
// band matching the given level.
func DefaultOTELSeverityNumber(level model.Level) int {
	switch level {
	case model.LevelTrace:
		return 1
	case model.LevelDebug:
		return 5
	case model.LevelInfo:
		return 9
	case model.LevelWarn:
		return 13
	case model.LevelError:
		return 17
	case model.LevelFatal:
		return 21
	default:
		return 9
	}
}

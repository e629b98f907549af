package model

import "strings"

// Level is the closed set of recognized log severities.
type Level string

const (
	LevelTrace Level = "TRACE"
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

// AllLevels lists every recognized level in ascending severity order.
func AllLevels() []Level {
	return []Level{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal}
}

// ParseLevel maps a level name to its canonical Level. It accepts any
// casing of the canonical names plus the common long forms. Free-form
// variant handling (warning, err, panic, ...) lives in logparse; this is
// the strict contract used by the coordinator.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace, true
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	}
	return "", false
}

// Lower returns the lowercase form used in stream names ("levels.error").
func (l Level) Lower() string { return strings.ToLower(string(l)) }

// InsightType is the closed set of insight categories a coordinator can track.
type InsightType string

const (
	InsightErrorRate     InsightType = "errorRate"
	InsightLogLevels     InsightType = "logLevels"
	InsightResponseTimes InsightType = "responseTimes"
	InsightWarningRate   InsightType = "warningRate"
)

// AllInsightTypes lists every recognized insight type.
func AllInsightTypes() []InsightType {
	return []InsightType{InsightErrorRate, InsightLogLevels, InsightResponseTimes, InsightWarningRate}
}

// ParseInsightType maps a config string to its InsightType.
func ParseInsightType(s string) (InsightType, bool) {
	for _, t := range AllInsightTypes() {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

// AggregationKind is the closed set of statistical summaries the
// aggregation engine knows how to compute.
type AggregationKind string

const (
	AggregationAverage      AggregationKind = "average"
	AggregationSum          AggregationKind = "sum"
	AggregationCount        AggregationKind = "count"
	AggregationMin          AggregationKind = "min"
	AggregationMax          AggregationKind = "max"
	AggregationMedian       AggregationKind = "median"
	AggregationMode         AggregationKind = "mode"
	AggregationStdDev       AggregationKind = "standardDeviation"
	AggregationPercentile   AggregationKind = "percentile"
	AggregationRange        AggregationKind = "range"
	AggregationWindow       AggregationKind = "rollingWindow"
	AggregationVariance     AggregationKind = "variance"
	AggregationSumOfSquares AggregationKind = "sumOfSquares"
)

// AllAggregationKinds lists every supported aggregation kind.
func AllAggregationKinds() []AggregationKind {
	return []AggregationKind{
		AggregationAverage, AggregationSum, AggregationCount,
		AggregationMin, AggregationMax, AggregationMedian,
		AggregationMode, AggregationStdDev, AggregationPercentile,
		AggregationRange, AggregationWindow, AggregationVariance,
		AggregationSumOfSquares,
	}
}

// ParseAggregationKind maps a config string to its AggregationKind.
func ParseAggregationKind(s string) (AggregationKind, bool) {
	for _, k := range AllAggregationKinds() {
		if strings.EqualFold(s, string(k)) {
			return k, true
		}
	}
	return "", false
}

// FrequencyType selects which scheduling policy family is in effect.
type FrequencyType string

const (
	FrequencyEveryUnit      FrequencyType = "everyUnit"
	FrequencyPeriodically   FrequencyType = "periodically"
	FrequencyAfterTotalLogs FrequencyType = "afterTotalLogs"
)

// ParseFrequencyType maps a config string to its FrequencyType.
func ParseFrequencyType(s string) (FrequencyType, bool) {
	switch {
	case strings.EqualFold(s, string(FrequencyEveryUnit)):
		return FrequencyEveryUnit, true
	case strings.EqualFold(s, string(FrequencyPeriodically)):
		return FrequencyPeriodically, true
	case strings.EqualFold(s, string(FrequencyAfterTotalLogs)):
		return FrequencyAfterTotalLogs, true
	}
	return "", false
}

// TimeUnit is the closed set of units accepted by the everyUnit policy.
type TimeUnit string

const (
	UnitSeconds TimeUnit = "seconds"
	UnitMinutes TimeUnit = "minutes"
	UnitHours   TimeUnit = "hours"
	UnitDays    TimeUnit = "days"
	UnitWeeks   TimeUnit = "weeks"
	UnitMonths  TimeUnit = "months"
	UnitYears   TimeUnit = "years"
)

// ParseTimeUnit maps a unit name, singular or plural, to its TimeUnit.
func ParseTimeUnit(s string) (TimeUnit, bool) {
	u := strings.ToLower(strings.TrimSpace(s))
	u = strings.TrimSuffix(u, "s")
	switch u {
	case "second", "sec":
		return UnitSeconds, true
	case "minute", "min":
		return UnitMinutes, true
	case "hour", "hr":
		return UnitHours, true
	case "day":
		return UnitDays, true
	case "week":
		return UnitWeeks, true
	case "month":
		return UnitMonths, true
	case "year":
		return UnitYears, true
	}
	return "", false
}

// CalendarPeriod is the closed set of named periods accepted by the
// periodically policy.
type CalendarPeriod string

const (
	PeriodDaily   CalendarPeriod = "daily"
	PeriodWeekly  CalendarPeriod = "weekly"
	PeriodMonthly CalendarPeriod = "monthly"
	PeriodYearly  CalendarPeriod = "yearly"
)

// ParseCalendarPeriod maps a period name to its CalendarPeriod.
func ParseCalendarPeriod(s string) (CalendarPeriod, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return PeriodDaily, true
	case "weekly":
		return PeriodWeekly, true
	case "monthly":
		return PeriodMonthly, true
	case "yearly":
		return PeriodYearly, true
	}
	return "", false
}

// StateFailurePolicy decides how the coordinator treats a scheduler
// bookkeeping failure: skip scheduling for the event, or fail the event.
type StateFailurePolicy string

const (
	SkipOnStateFailure StateFailurePolicy = "skip"
	FailOnStateFailure StateFailurePolicy = "fail"
)

// ParseStateFailurePolicy maps a config string to its policy.
func ParseStateFailurePolicy(s string) (StateFailurePolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip":
		return SkipOnStateFailure, true
	case "fail":
		return FailOnStateFailure, true
	}
	return "", false
}

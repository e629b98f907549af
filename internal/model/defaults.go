package model

// Keys the insight scheduler persists through a StateStore.
const (
	StateKeyLastGeneration = "lastInsightGeneration" // stringified epoch millis
	StateKeyTotalLogs      = "totalLogs"             // stringified integer
)

// Shared defaults used across the server wiring.
const (
	DefaultLineBuffer      = 1000
	DefaultPercentile      = 90.0
	DefaultRollingWindow   = 2
	DefaultRetentionDays   = 30
	DefaultSnapshotHistory = 50
)

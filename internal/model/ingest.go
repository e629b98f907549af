package model

// IngestEnvelope carries one raw log line with source metadata.
// It is the transport contract between ingestion plugins and processing.
//
// Sources that already classified their payload (the OTLP receiver gets
// structured records, not text lines) set Event; the processor then skips
// line extraction. Line still carries the body text for diagnostics.
type IngestEnvelope struct {
	Source string
	Line   string
	Event  *LogEvent
}

package ftp

import "time"

// MetricsCollector is an optional interface for collecting client metrics.
// Implementations can send metrics to monitoring systems like Prometheus;
// the metrics subpackage provides one.
//
// Methods are called from the client's internal goroutines and should be
// non-blocking.
type MetricsCollector interface {
	// RecordCommand records a completed command. code is the completion
	// reply code, or 0 when the command failed without a reply.
	RecordCommand(verb string, code int, duration time.Duration)

	// RecordTransfer records a data transfer. verb is RETR, STOR, APPE,
	// LIST or MLSD.
	RecordTransfer(verb string, bytes int64, duration time.Duration)

	// RecordDataConnection records a passive data connection attempt.
	// outcome is "connected", "timeout" or "error".
	RecordDataConnection(outcome string, duration time.Duration)

	// RecordConnection records a control connection attempt.
	// reason provides context (e.g., "connected", "timeout", "handshake").
	RecordConnection(success bool, reason string)
}

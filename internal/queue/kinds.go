package queue

// Job kinds understood by the worker.
const (
	KindDetectAbandoned   = "detect-abandoned"
	KindSendReminder      = "send-reminder"
	KindProcessEmailQueue = "process-email-queue"
	KindCleanupOldRecords = "cleanup-old-records"
	KindWeeklyReport      = "weekly-report"
)

// Kinds lists every registered job kind.
var Kinds = []string{
	KindDetectAbandoned,
	KindSendReminder,
	KindProcessEmailQueue,
	KindCleanupOldRecords,
	KindWeeklyReport,
}

// IsKnownKind reports whether kind has a handler in the standard worker.
func IsKnownKind(kind string) bool {
	for _, candidate := range Kinds {
		if candidate == kind {
			return true
		}
	}
	return false
}

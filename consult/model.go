package consult

// RecordingState is the lifecycle of one consultation session. Ended is
// terminal and reached exactly once.
type RecordingState string

const (
	StateIdle      RecordingState = "idle"
	StateRecording RecordingState = "recording"
	StatePaused    RecordingState = "paused"
	StateEnded     RecordingState = "ended"
)

// ConsultationStatus is the persisted status of a consultation record.
const (
	ConsultationActive    = "active"
	ConsultationCompleted = "completed"
)

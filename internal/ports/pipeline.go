package ports

// PipelineEvent is broadcast to dashboard clients while the pipeline and the
// recorder advance.
type PipelineEvent struct {
	RoomID        string `json:"-"`
	Type          string `json:"type"` // stage | progress | recorder
	Stage         string `json:"stage,omitempty"`
	Progress      *int   `json:"progress,omitempty"`
	RecorderState string `json:"recorderState,omitempty"`
	Elapsed       *int   `json:"elapsed,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	Error         string `json:"error,omitempty"`
	Recovery      string `json:"recovery,omitempty"`
}

const (
	EventStage    = "stage"
	EventProgress = "progress"
	EventRecorder = "recorder"
)

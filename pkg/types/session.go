package types

// Settings holds everything a detection session needs at start time.
// Created from caller input, immutable once detection is running.
// JSON field names match the browser client's start payload.
type Settings struct {
	CameraURL             string `json:"ipCameraUrl"`
	CameraPort            string `json:"ipCameraPort"`
	NtfyTopic             string `json:"ntfyTopic"`
	NtfyPriority          string `json:"ntfyPriority"`
	EnablePersonDetection bool   `json:"enablePersonDetection"`
	EnableLogging         bool   `json:"enableLogging"`
	UserID                string `json:"userId"`
	SupabaseURL           string `json:"supabaseUrl"`
	SupabaseKey           string `json:"supabaseKey"`
}

// SessionState is the supervisor's externally visible state
type SessionState int32

const (
	StateStopped SessionState = iota
	StateRunning
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return "stopped"
	}
}

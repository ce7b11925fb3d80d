package core

import "time"

// Phase is the lifecycle state reported for one offered update.
type Phase string

const (
	PhaseEvaluating  Phase = "evaluating"
	PhaseDownloading Phase = "downloading"
	PhaseReady       Phase = "ready"
	PhaseRejected    Phase = "rejected"
	PhaseFailed      Phase = "failed"
	PhaseLaunched    Phase = "launched"
)

// StatusReport is published on every lifecycle transition of an offered update.
type StatusReport struct {
	RequestID string    `json:"requestId"`
	DeviceID  string    `json:"deviceId"`
	UpdateID  string    `json:"updateId"`
	Phase     Phase     `json:"phase"`
	Check     string    `json:"check,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Registration announces the device, its runtime version and what it currently runs.
type Registration struct {
	DeviceID       string    `json:"deviceId"`
	RuntimeVersion string    `json:"runtimeVersion"`
	LaunchedID     string    `json:"launchedId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// OnlineStatus is retained on the online topic. The offline variant doubles as the last will
// and carries no timestamp, so the receiver's reception time is authoritative.
type OnlineStatus struct {
	DeviceID string `json:"deviceId"`
	Online   bool   `json:"online"`
	Reason   string `json:"reason,omitempty"`
}

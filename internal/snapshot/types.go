package snapshot

import "time"

// ConsentOutcome reports what the consent suppressor did during a run. It is
// advisory only: every outcome lets the run proceed.
type ConsentOutcome int

// Consent outcomes.
const (
	ConsentNotFound ConsentOutcome = iota
	ConsentSuppressed
	ConsentFailed
)

func (o ConsentOutcome) String() string {
	switch o {
	case ConsentSuppressed:
		return "suppressed"
	case ConsentFailed:
		return "failed"
	default:
		return "not_found"
	}
}

// Capture is the raw screenshot handed from the renderer to the annotator.
type Capture struct {
	PNG     []byte
	Width   int
	Height  int
	Consent ConsentOutcome
}

// Snapshot is the published image as read back from a Store.
type Snapshot struct {
	Data    []byte
	ModTime time.Time
}

// ProbeResult captures the pre-flight reachability check.
type ProbeResult struct {
	URL        string
	StatusCode int
	Duration   time.Duration
}

// PublishedEvent is emitted after a snapshot replaced the previous one.
type PublishedEvent struct {
	RunID       string    `json:"run_id"`
	Label       string    `json:"label"`
	Digest      string    `json:"digest"`
	Bytes       int       `json:"bytes"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	PublishedAt time.Time `json:"published_at"`
}

// Result describes one successful pipeline run.
type Result struct {
	RunID    string
	Label    string
	Digest   string
	Bytes    int
	Width    int
	Height   int
	Consent  ConsentOutcome
	Started  time.Time
	Finished time.Time
}

// RunStatus is the externally visible state of the most recent run.
type RunStatus struct {
	RunID       string     `json:"run_id,omitempty"`
	State       string     `json:"state"`
	Started     *time.Time `json:"started_at,omitempty"`
	Finished    *time.Time `json:"finished_at,omitempty"`
	Label       string     `json:"label,omitempty"`
	Digest      string     `json:"digest,omitempty"`
	Bytes       int        `json:"bytes,omitempty"`
	Consent     string     `json:"consent,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	ErrorText   string     `json:"error_text,omitempty"`
	LastSuccess *time.Time `json:"last_success_at,omitempty"`
}

// Run states reported by RunStatus.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

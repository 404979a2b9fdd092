package snapshot

import "errors"

// Error classes for a pipeline run. Stage errors wrap one of these so callers
// can classify failures with errors.Is.
var (
	ErrBrowser       = errors.New("browser session unavailable")
	ErrNavigation    = errors.New("navigation failed")
	ErrCapture       = errors.New("capture failed")
	ErrAnnotate      = errors.New("annotate failed")
	ErrPublish       = errors.New("publish failed")
	ErrProbe         = errors.New("target probe failed")
	ErrNotFound      = errors.New("snapshot not published yet")
	ErrRunInProgress = errors.New("snapshot run already in progress")
)

// FailureKind maps a run error to a short label for metrics and status output.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRunInProgress):
		return "skipped"
	case errors.Is(err, ErrBrowser):
		return "browser"
	case errors.Is(err, ErrProbe), errors.Is(err, ErrNavigation):
		return "navigation"
	case errors.Is(err, ErrCapture):
		return "capture"
	case errors.Is(err, ErrAnnotate):
		return "annotate"
	case errors.Is(err, ErrPublish):
		return "publish"
	default:
		return "unknown"
	}
}

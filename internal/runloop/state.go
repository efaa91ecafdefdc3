package runloop

// Phase is the run loop's lifecycle position.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseRunning           Phase = "running"
	PhaseCompleted         Phase = "completed"
	PhaseError             Phase = "error"
	PhaseThresholdExceeded Phase = "threshold_exceeded"
	PhaseRetrying          Phase = "retrying"
)

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError || p == PhaseThresholdExceeded
}

// State is a snapshot of the loop's progress.
type State struct {
	Phase           Phase
	Completed       int
	Total           int
	InterruptReason string
	StopReason      StopReason
	RetryRound      int
}

func phaseFor(r StopReason) Phase {
	switch r {
	case StopCompleted:
		return PhaseCompleted
	case StopThresholdExceeded:
		return PhaseThresholdExceeded
	}
	return PhaseError
}

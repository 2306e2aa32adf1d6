package runtime

// ServiceState is the lifecycle state of a registered service.
type ServiceState int

const (
	StateRegistered ServiceState = iota // Registered, not yet started
	StateRunning                        // Start() succeeded
	StateStopped                        // Stop() completed during shutdown
	StateFailed                         // Start() failed
)

func (s ServiceState) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the state cannot transition further in normal flow.
func (s ServiceState) IsTerminal() bool {
	return s == StateFailed || s == StateStopped
}

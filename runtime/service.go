package runtime

import "context"

// Service is a long-lived component managed by the Runtime. Start must not
// block; background loops run until the context passed to Start is canceled.
type Service interface {
	Name() string
	Dependencies() []string
	Start(ctx context.Context) error
}

// Stopper is implemented by services that release resources on shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// HealthReporter contributes to the /healthz report.
type HealthReporter interface {
	HealthCheck(ctx context.Context) error
}

// Consumer marks a service that handles bus events. Shutdown drains the bus
// before stopping the first Consumer.
type Consumer interface {
	ConsumesEvents() bool
}

// Optional marks a service whose start failure does not abort Start.
type Optional interface {
	Optional() bool
}

// ServiceFunc adapts plain functions into a Service.
type ServiceFunc struct {
	ServiceName string
	DependsOn   []string
	OnStart     func(ctx context.Context) error
	OnStop      func(ctx context.Context) error
}

func (s *ServiceFunc) Name() string           { return s.ServiceName }
func (s *ServiceFunc) Dependencies() []string { return s.DependsOn }

func (s *ServiceFunc) Start(ctx context.Context) error {
	if s.OnStart == nil {
		return nil
	}
	return s.OnStart(ctx)
}

func (s *ServiceFunc) Stop(ctx context.Context) error {
	if s.OnStop == nil {
		return nil
	}
	return s.OnStop(ctx)
}

package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/leeforge/imageresize/logging"
	"go.uber.org/zap"
)

// Config holds configuration for creating a new Runtime.
type Config struct {
	Logger          logging.Logger
	EventBuffer     int           // default 1024
	ShutdownTimeout time.Duration // default 30s
}

// Runtime starts services in dependency order, owns the event bus and stops
// everything in reverse order on shutdown.
type Runtime struct {
	logger          logging.Logger
	shutdownTimeout time.Duration

	services      map[string]Service
	serviceState  map[string]ServiceState
	serviceErrors map[string]error
	mu            sync.RWMutex

	bootOrder []string
	eventBus  *eventBus

	runCtx    context.Context
	runCancel context.CancelFunc
	// per-service start contexts, canceled one by one during Shutdown
	cancels map[string]context.CancelFunc

	healthChecks map[string]func(context.Context) error
}

func NewRuntime(cfg Config) *Runtime {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	return &Runtime{
		logger:          cfg.Logger.Named("runtime"),
		shutdownTimeout: cfg.ShutdownTimeout,
		services:        make(map[string]Service),
		serviceState:    make(map[string]ServiceState),
		serviceErrors:   make(map[string]error),
		eventBus:        newEventBus(cfg.EventBuffer, cfg.Logger),
		runCtx:          runCtx,
		runCancel:       runCancel,
		cancels:         make(map[string]context.CancelFunc),
		healthChecks:    make(map[string]func(context.Context) error),
	}
}

func (r *Runtime) Bus() EventBus {
	return r.eventBus
}

// Register adds a service. Must be called before Start.
func (r *Runtime) Register(s Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.services[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}

	r.services[name] = s
	r.serviceState[name] = StateRegistered
	r.logger.Debug("service registered", zap.String("name", name))
	return nil
}

// Start launches every registered service in dependency order. Each service
// receives its own context, canceled by Shutdown right before its Stop.
func (r *Runtime) Start(ctx context.Context) error {
	startTime := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}

	order, err := r.resolveDependencies()
	if err != nil {
		return fmt.Errorf("dependency resolution failed: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.bootOrder = order
	r.logger.Info("dependency resolution completed", zap.Strings("order", order))

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("start canceled: %w", err)
		}

		if depErr := r.checkDependenciesHealthy(name); depErr != nil {
			if abortErr := r.handleServiceError(name, depErr); abortErr != nil {
				return abortErr
			}
			continue
		}

		svcCtx, svcCancel := context.WithCancel(r.runCtx)
		r.cancels[name] = svcCancel
		if err := r.services[name].Start(svcCtx); err != nil {
			svcCancel()
			if abortErr := r.handleServiceError(name, fmt.Errorf("start failed: %w", err)); abortErr != nil {
				return abortErr
			}
			continue
		}
		r.serviceState[name] = StateRunning

		if hr, ok := r.services[name].(HealthReporter); ok {
			r.healthChecks[name] = hr.HealthCheck
		}
	}

	r.logger.Info("runtime started",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("services", len(r.services)),
	)
	return nil
}

// Shutdown stops services in reverse dependency order, so trigger sources
// stop before the services they publish to. The event bus is drained right
// before the first Consumer stops; handlers keep their context until the
// shutdown deadline passes. The run context is canceled last.
func (r *Runtime) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, r.shutdownTimeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	drained := false
	drain := func() {
		if drained {
			return
		}
		drained = true
		if err := r.eventBus.Drain(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	for _, name := range reverseSlice(r.bootOrder) {
		svc := r.services[name]
		if c, ok := svc.(Consumer); ok && c.ConsumesEvents() {
			drain()
		}
		if svcCancel, ok := r.cancels[name]; ok {
			svcCancel()
		}
		if r.serviceState[name] != StateRunning {
			continue
		}
		if s, ok := svc.(Stopper); ok {
			if err := s.Stop(shutdownCtx); err != nil {
				r.logger.Error("service stop failed", zap.String("service", name), zap.Error(err))
				errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			}
		}
		r.serviceState[name] = StateStopped
	}
	drain()
	r.runCancel()

	r.logger.Info("shutdown completed")
	return errors.Join(errs...)
}

func (r *Runtime) Publish(ctx context.Context, event Event) error {
	return r.eventBus.Publish(ctx, event)
}

// Health runs every registered health check; a nil map value means healthy.
func (r *Runtime) Health(ctx context.Context) map[string]error {
	r.mu.RLock()
	checks := make(map[string]func(context.Context) error, len(r.healthChecks))
	for name, check := range r.healthChecks {
		checks[name] = check
	}
	states := make(map[string]ServiceState, len(r.serviceState))
	for name, state := range r.serviceState {
		states[name] = state
	}
	startErrs := make(map[string]error, len(r.serviceErrors))
	for name, err := range r.serviceErrors {
		startErrs[name] = err
	}
	r.mu.RUnlock()

	result := make(map[string]error, len(states))
	for name, state := range states {
		switch state {
		case StateRunning:
			result[name] = nil
		case StateFailed:
			result[name] = startErrs[name]
		default:
			result[name] = fmt.Errorf("service %s is %s", name, state)
		}
	}
	for name, check := range checks {
		if result[name] != nil {
			continue
		}
		result[name] = check(ctx)
	}
	return result
}

func (r *Runtime) State(name string) (ServiceState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.serviceState[name]
	return state, ok
}

// States returns a snapshot of all service states.
func (r *Runtime) States() map[string]ServiceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]ServiceState, len(r.serviceState))
	for k, v := range r.serviceState {
		result[k] = v
	}
	return result
}

func (r *Runtime) BootOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.bootOrder...)
}

func (r *Runtime) resolveDependencies() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inDegree := make(map[string]int, len(r.services))
	dependents := make(map[string][]string)

	for name := range r.services {
		inDegree[name] = 0
	}

	for name, s := range r.services {
		for _, dep := range s.Dependencies() {
			if _, exists := r.services[dep]; !exists {
				return nil, fmt.Errorf("service %q depends on %q which is not registered", name, dep)
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	// Kahn's algorithm
	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
				sort.Strings(queue)
			}
		}
	}

	if len(order) != len(r.services) {
		return nil, errors.New("circular dependency detected")
	}

	return order, nil
}

func (r *Runtime) handleServiceError(name string, err error) error {
	r.serviceState[name] = StateFailed
	r.serviceErrors[name] = err

	if opt, ok := r.services[name].(Optional); ok && opt.Optional() {
		r.logger.Warn("optional service failed, continuing",
			zap.String("service", name), zap.Error(err))
		return nil
	}

	return fmt.Errorf("required service %q failed: %w", name, err)
}

func (r *Runtime) checkDependenciesHealthy(name string) error {
	for _, dep := range r.services[name].Dependencies() {
		if r.serviceState[dep] == StateFailed {
			return fmt.Errorf("dependency %q is in failed state", dep)
		}
	}
	return nil
}

func reverseSlice(s []string) []string {
	n := len(s)
	reversed := make([]string, n)
	for i, v := range s {
		reversed[n-1-i] = v
	}
	return reversed
}

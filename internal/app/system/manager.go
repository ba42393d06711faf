package system

import (
	"context"
	"fmt"

	core "github.com/R3E-Network/service_layer/internal/app/core/service"
)

// Manager owns a fixed set of Services, starting them in registration order
// and stopping them in reverse, so later-registered services (which tend to
// depend on earlier ones) never outlive their dependencies.
type Manager struct {
	services []Service
}

// NewManager constructs a Manager over the given services.
func NewManager(services ...Service) *Manager {
	return &Manager{services: services}
}

// Register appends a service, to be started after everything already
// registered and stopped before it.
func (m *Manager) Register(s Service) {
	m.services = append(m.services, s)
}

// Start starts every registered service in order. If one fails, the
// services already started are stopped in reverse order before returning.
func (m *Manager) Start(ctx context.Context) error {
	for i, s := range m.services {
		if err := s.Start(ctx); err != nil {
			m.stopFrom(ctx, i-1)
			return fmt.Errorf("start %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Stop stops every registered service in reverse order, collecting (not
// short-circuiting on) individual errors.
func (m *Manager) Stop(ctx context.Context) error {
	return m.stopFrom(ctx, len(m.services)-1)
}

func (m *Manager) stopFrom(ctx context.Context, from int) error {
	var firstErr error
	for i := from; i >= 0; i-- {
		if err := m.services[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s: %w", m.services[i].Name(), err)
		}
	}
	return firstErr
}

// Descriptors returns descriptors for every registered service that
// implements DescriptorProvider.
func (m *Manager) Descriptors() []core.Descriptor {
	var providers []DescriptorProvider
	for _, s := range m.services {
		if dp, ok := s.(DescriptorProvider); ok {
			providers = append(providers, dp)
		}
	}
	return CollectDescriptors(providers)
}

// NoopService is a placeholder Service implementation, useful in tests and
// for optional lifecycle slots that aren't wired to anything yet.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string {
	if n.ServiceName == "" {
		return "noop"
	}
	return n.ServiceName
}
func (NoopService) Start(context.Context) error { return nil }
func (NoopService) Stop(context.Context) error  { return nil }

package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/R3E-Network/service_layer/internal/app/collaborators"
	core "github.com/R3E-Network/service_layer/internal/app/core/service"
	"github.com/R3E-Network/service_layer/internal/app/metrics"
	"github.com/R3E-Network/service_layer/internal/app/services/dataplane"
	"github.com/R3E-Network/service_layer/internal/app/services/negotiation"
	"github.com/R3E-Network/service_layer/internal/app/services/peerclient"
	"github.com/R3E-Network/service_layer/internal/app/services/transfer"
	"github.com/R3E-Network/service_layer/internal/app/storage"
	"github.com/R3E-Network/service_layer/internal/app/system"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

// Backend is the storage surface the connector's three engines need. Both
// the in-memory and Postgres stores satisfy it in full.
type Backend interface {
	storage.Transactor
	storage.AgreementStore
	storage.TransferStore
	storage.DataPlaneSessionStore
	storage.TransferEventStore
}

// Collaborators bundles the connector's pluggable external boundaries. Any
// nil field falls back to a stub suitable for standalone operation.
type Collaborators struct {
	Policy  collaborators.PolicyEvaluator
	Catalog collaborators.Catalog
	Mates   collaborators.MateDirectory
	Wallet  collaborators.Wallet
}

func (c *Collaborators) applyDefaults() {
	if c.Policy == nil {
		c.Policy = collaborators.AllowAllPolicyEvaluator{}
	}
	if c.Catalog == nil {
		c.Catalog = collaborators.NewStaticCatalog()
	}
	if c.Mates == nil {
		c.Mates = collaborators.NewStaticMateDirectory()
	}
	if c.Wallet == nil {
		c.Wallet = collaborators.NoopWallet{}
	}
}

// RuntimeConfig captures environment-dependent wiring that was previously
// sourced directly from OS variables. It allows callers to supply explicit
// configuration when embedding the application or running tests.
type RuntimeConfig struct {
	MateDirectoryPath string
}

// Option customises the application runtime.
type Option func(*builderConfig)

// Environment exposes a simple lookup mechanism which callers can implement
// to inject custom environment sources (for example when testing).
type Environment interface {
	Lookup(key string) string
}

type builderConfig struct {
	httpClient     *http.Client
	environment    Environment
	tracer         core.Tracer
	runtime        RuntimeConfig
	runtimeDefined bool
}

type resolvedBuilder struct {
	httpClient *http.Client
	tracer     core.Tracer
	runtime    RuntimeConfig
}

// WithRuntimeConfig overrides the runtime configuration used when wiring
// collaborators. When omitted, environment variables are consulted.
func WithRuntimeConfig(cfg RuntimeConfig) Option {
	return func(b *builderConfig) {
		b.runtime = cfg
		b.runtimeDefined = true
	}
}

// WithHTTPClient injects the shared HTTP client used to reach peer
// connectors. A nil client falls back to a 10-second timeout client.
func WithHTTPClient(client *http.Client) Option {
	return func(b *builderConfig) {
		b.httpClient = client
	}
}

// WithEnvironment provides a custom environment lookup used when no
// explicit runtime configuration was supplied. Passing nil retains the
// default (os.Getenv).
func WithEnvironment(env Environment) Option {
	return func(b *builderConfig) {
		if env != nil {
			b.environment = env
		}
	}
}

// WithTracer overrides the tracer shared by every engine. Passing nil
// retains core.NoopTracer.
func WithTracer(tracer core.Tracer) Option {
	return func(b *builderConfig) {
		b.tracer = tracer
	}
}

// Application wires the Contract Negotiation engine, Transfer Process
// engine, and Data Plane Coordinator+Proxy together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Negotiation *negotiation.Engine
	Transfer    *transfer.Engine
	DataPlane   *dataplane.Coordinator
	Proxy       *dataplane.Proxy
	Mates       collaborators.MateDirectory
	Wallet      collaborators.Wallet

	descriptors []core.Descriptor
}

// New builds a fully wired Application over the given backend and
// collaborators.
func New(backend Backend, collabs Collaborators, log *logger.Logger, opts ...Option) (*Application, error) {
	if backend == nil {
		return nil, fmt.Errorf("app: backend is required")
	}
	options := resolveBuilderOptions(opts...)
	if log == nil {
		log = logger.NewDefault("app")
	}
	collabs.applyDefaults()

	if path := options.runtime.MateDirectoryPath; path != "" {
		if dir, ok := collabs.Mates.(*collaborators.StaticMateDirectory); ok {
			if err := dir.LoadFile(path); err != nil {
				log.WithError(err).Warn("load mate directory")
			}
		}
	}

	manager := system.NewManager()
	base := func(hooks core.ObservationHooks) core.Base {
		return core.NewBase(options.tracer, hooks)
	}

	client := peerclient.New(options.httpClient, collabs.Mates, log)

	resolver := dataplane.NewCatalogResolver(backend, collabs.Catalog)
	coordinator := dataplane.New(backend, backend, resolver, base(metrics.DataPlaneHooks()))
	proxy := dataplane.NewProxy(coordinator)

	negotiationEngine := negotiation.New(backend, collabs.Policy, peerclient.NegotiationPeer{Client: client}, base(metrics.NegotiationHooks()))
	transferEngine := transfer.New(backend, backend, coordinator, peerclient.TransferPeer{Client: client}, base(metrics.TransferHooks()))

	manager.Register(system.NoopService{ServiceName: "negotiation"})
	manager.Register(system.NoopService{ServiceName: "transfer"})
	manager.Register(system.NoopService{ServiceName: "dataplane"})

	descriptors := manager.Descriptors()

	return &Application{
		manager:     manager,
		log:         log,
		Negotiation: negotiationEngine,
		Transfer:    transferEngine,
		DataPlane:   coordinator,
		Proxy:       proxy,
		Mates:       collabs.Mates,
		Wallet:      collabs.Wallet,
		descriptors: descriptors,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) {
	a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Descriptors returns advertised service descriptors for orchestration/CLI
// introspection.
func (a *Application) Descriptors() []core.Descriptor {
	out := make([]core.Descriptor, len(a.descriptors))
	copy(out, a.descriptors)
	return out
}

func resolveBuilderOptions(opts ...Option) resolvedBuilder {
	cfg := builderConfig{environment: osEnvironment{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.environment == nil {
		cfg.environment = osEnvironment{}
	}
	if cfg.httpClient == nil {
		cfg.httpClient = defaultHTTPClient()
	}
	if cfg.tracer == nil {
		cfg.tracer = core.NoopTracer
	}
	runtimeCfg := cfg.runtime
	if !cfg.runtimeDefined {
		runtimeCfg = runtimeConfigFromEnv(cfg.environment)
	}
	return resolvedBuilder{
		httpClient: cfg.httpClient,
		tracer:     cfg.tracer,
		runtime:    runtimeCfg,
	}
}

func runtimeConfigFromEnv(env Environment) RuntimeConfig {
	if env == nil {
		env = osEnvironment{}
	}
	return RuntimeConfig{
		MateDirectoryPath: strings.TrimSpace(env.Lookup("MATE_DIRECTORY_PATH")),
	}
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

type osEnvironment struct{}

func (osEnvironment) Lookup(key string) string {
	return os.Getenv(key)
}

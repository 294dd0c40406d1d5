package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NodLabs/xviz/errors"
	"github.com/NodLabs/xviz/metric"
)

// ErrFrozen is returned by Register once the registration phase has ended.
var ErrFrozen = stderrors.New("registry frozen")

// MatchFunc decides whether an entry serves req. The key identifies the
// provider instance; requests with equal keys share one instance.
type MatchFunc func(req Request) (key string, ok bool)

// Factory creates the provider for key. options is the Entry's Options value.
type Factory func(ctx context.Context, key string, options any) (Provider, error)

// Entry is one registered provider variant.
type Entry struct {
	Name         string
	Capabilities Capabilities
	Options      any
	Match        MatchFunc
	Factory      Factory
}

type leaseKey struct {
	entry string
	key   string
}

type shared struct {
	provider Provider
	refs     int
}

// Registry resolves requests to providers. Entries are appended during a
// single-threaded startup phase and read-only after Freeze.
type Registry struct {
	entries []Entry
	frozen  bool

	mu      sync.Mutex // guards leases, and entries/frozen during startup
	leases  map[leaseKey]*shared
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(logger *slog.Logger, metrics *metric.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		leases:  make(map[leaseKey]*shared),
		logger:  logger.With("component", "provider-registry"),
		metrics: metrics,
	}
}

// Register appends an entry. Order of registration is resolution order.
func (r *Registry) Register(e Entry) error {
	if e.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "entry name validation")
	}
	if e.Match == nil || e.Factory == nil {
		return errors.WrapInvalid(
			fmt.Errorf("entry %q needs Match and Factory", e.Name),
			"Registry", "Register", "entry validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.WrapInvalid(ErrFrozen, "Registry", "Register", fmt.Sprintf("register %q", e.Name))
	}
	for _, existing := range r.entries {
		if existing.Name == e.Name {
			return errors.WrapInvalid(
				fmt.Errorf("entry %q is already registered", e.Name),
				"Registry", "Register", "duplicate entry check")
		}
	}

	r.entries = append(r.entries, e)
	r.logger.Debug("Provider registered", "name", e.Name, "capabilities", e.Capabilities.String())
	return nil
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Entries returns the registered entries in order.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Registry) snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return r.entries
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Resolve returns a lease on the first registered entry that covers
// req.Require and whose Match accepts req.
func (r *Registry) Resolve(ctx context.Context, req Request) (*Lease, error) {
	for _, e := range r.snapshot() {
		if !e.Capabilities.Covers(req.Require) {
			continue
		}
		key, ok := e.Match(req)
		if !ok {
			continue
		}
		return r.acquire(ctx, e, key)
	}

	return nil, errors.ProviderResolution(
		fmt.Errorf("no provider for log %q (require %s)", req.Log, req.Require.String()),
		"Registry", "Resolve", "match request")
}

func (r *Registry) acquire(ctx context.Context, e Entry, key string) (*Lease, error) {
	lk := leaseKey{entry: e.Name, key: key}

	r.mu.Lock()
	if s, ok := r.leases[lk]; ok {
		s.refs++
		r.recordLeases()
		r.mu.Unlock()
		return &Lease{Provider: s.provider, Entry: e.Name, registry: r, key: lk}, nil
	}
	r.mu.Unlock()

	// Factories open files and dial upstreams, so they run unlocked. Requests
	// racing on a new key may each build one; the first inserted is kept.
	p, err := e.Factory(ctx, key, e.Options)
	if err != nil {
		if errors.IsConfiguration(err) {
			return nil, err
		}
		return nil, errors.ProviderIO(err, "Registry", "Resolve", fmt.Sprintf("create %s provider", e.Name))
	}

	r.mu.Lock()
	s, raced := r.leases[lk]
	if !raced {
		s = &shared{provider: p}
		r.leases[lk] = s
		r.logger.Info("Provider created", "entry", e.Name, "key", key, "id", p.ID())
	}
	s.refs++
	r.recordLeases()
	r.mu.Unlock()

	if raced {
		if err := p.Close(); err != nil {
			r.logger.Warn("Failed to close duplicate provider", "entry", e.Name, "key", key, "error", err)
		}
	}
	return &Lease{Provider: s.provider, Entry: e.Name, registry: r, key: lk}, nil
}

func (r *Registry) release(lk leaseKey) error {
	r.mu.Lock()
	s, ok := r.leases[lk]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	s.refs--
	if s.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.leases, lk)
	r.recordLeases()
	r.mu.Unlock()

	r.logger.Info("Provider released", "entry", lk.entry, "key", lk.key)
	if err := s.provider.Close(); err != nil {
		return errors.Wrap(err, "Registry", "release", "close provider")
	}
	return nil
}

// Active returns the number of live provider instances.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.leases)
}

// recordLeases expects r.mu held.
func (r *Registry) recordLeases() {
	if r.metrics != nil {
		r.metrics.RecordLeases(len(r.leases))
	}
}

// Lease is a session's reference to a shared provider.
type Lease struct {
	Provider Provider
	Entry    string

	registry *Registry
	key      leaseKey
	once     sync.Once
}

// Release drops the reference; the last release closes the provider.
// Further calls are no-ops.
func (l *Lease) Release() error {
	var err error
	l.once.Do(func() {
		if l.registry == nil {
			err = l.Provider.Close()
			return
		}
		err = l.registry.release(l.key)
	})
	return err
}

// Detached returns a lease tracked by no registry. Release closes p.
func Detached(p Provider) *Lease {
	return &Lease{Provider: p, Entry: p.ID()}
}

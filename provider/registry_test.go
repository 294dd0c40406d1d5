package provider_test

import (
	"context"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodLabs/xviz/errors"
	"github.com/NodLabs/xviz/metric"
	"github.com/NodLabs/xviz/provider"
	xviztest "github.com/NodLabs/xviz/testutil"
)

type countingFactory struct {
	mu      sync.Mutex
	created map[string]*xviztest.StubProvider
	all     []*xviztest.StubProvider
}

func (f *countingFactory) factory(id string) provider.Factory {
	return func(_ context.Context, key string, _ any) (provider.Provider, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		p := xviztest.NewStubProvider(nil)
		p.IDValue = id + ":" + key
		if f.created == nil {
			f.created = make(map[string]*xviztest.StubProvider)
		}
		f.created[p.IDValue] = p
		f.all = append(f.all, p)
		return p, nil
	}
}

func matchLog(log string) provider.MatchFunc {
	return func(req provider.Request) (string, bool) {
		return req.Log, req.Log == log
	}
}

func TestRegistry_FirstRegisteredWins(t *testing.T) {
	f := &countingFactory{}
	reg := provider.NewRegistry(nil, nil)

	require.NoError(t, reg.Register(provider.Entry{
		Name: "first", Capabilities: provider.NewCapabilities(provider.StaticArchive),
		Match: matchLog("shared"), Factory: f.factory("first"),
	}))
	require.NoError(t, reg.Register(provider.Entry{
		Name: "second", Capabilities: provider.NewCapabilities(provider.StaticArchive),
		Match: matchLog("shared"), Factory: f.factory("second"),
	}))
	reg.Freeze()

	lease, err := reg.Resolve(context.Background(), provider.Request{Log: "shared"})
	require.NoError(t, err)
	defer lease.Release()

	assert.Equal(t, "first", lease.Entry)
	assert.Equal(t, "first:shared", lease.Provider.ID())
}

func TestRegistry_RequireFiltersByCapability(t *testing.T) {
	f := &countingFactory{}
	reg := provider.NewRegistry(nil, nil)

	require.NoError(t, reg.Register(provider.Entry{
		Name: "archive", Capabilities: provider.NewCapabilities(provider.StaticArchive),
		Match: matchLog("x"), Factory: f.factory("archive"),
	}))
	require.NoError(t, reg.Register(provider.Entry{
		Name: "scenario", Capabilities: provider.NewCapabilities(provider.StaticArchive, provider.SyntheticGenerated),
		Match: matchLog("x"), Factory: f.factory("scenario"),
	}))

	lease, err := reg.Resolve(context.Background(), provider.Request{
		Log:     "x",
		Require: provider.NewCapabilities(provider.SyntheticGenerated),
	})
	require.NoError(t, err)
	defer lease.Release()
	assert.Equal(t, "scenario", lease.Entry)

	_, err = reg.Resolve(context.Background(), provider.Request{
		Log:     "x",
		Require: provider.NewCapabilities(provider.LiveSimulated),
	})
	assert.True(t, errors.IsProviderResolution(err))
}

func TestRegistry_NoMatchIsResolutionError(t *testing.T) {
	reg := provider.NewRegistry(nil, nil)
	reg.Freeze()

	_, err := reg.Resolve(context.Background(), provider.Request{Log: "missing"})
	require.Error(t, err)
	assert.True(t, errors.IsProviderResolution(err))
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "Registry.Resolve")
}

func TestRegistry_RegisterValidation(t *testing.T) {
	reg := provider.NewRegistry(nil, nil)
	f := &countingFactory{}

	assert.Error(t, reg.Register(provider.Entry{}))
	assert.Error(t, reg.Register(provider.Entry{Name: "no-match", Factory: f.factory("x")}))

	entry := provider.Entry{Name: "dup", Match: matchLog("a"), Factory: f.factory("dup")}
	require.NoError(t, reg.Register(entry))
	assert.Error(t, reg.Register(entry))

	reg.Freeze()
	err := reg.Register(provider.Entry{Name: "late", Match: matchLog("b"), Factory: f.factory("late")})
	assert.ErrorIs(t, err, provider.ErrFrozen)
	assert.Len(t, reg.Entries(), 1)
}

func TestRegistry_LeasesShareAndClose(t *testing.T) {
	f := &countingFactory{}
	metrics := metric.NewMetrics()
	reg := provider.NewRegistry(nil, metrics)
	require.NoError(t, reg.Register(provider.Entry{
		Name: "e", Match: matchLog("log"), Factory: f.factory("e"),
	}))
	reg.Freeze()

	ctx := context.Background()
	a, err := reg.Resolve(ctx, provider.Request{Log: "log"})
	require.NoError(t, err)
	b, err := reg.Resolve(ctx, provider.Request{Log: "log"})
	require.NoError(t, err)

	assert.Same(t, a.Provider, b.Provider)
	assert.Len(t, f.created, 1)
	assert.Equal(t, 1, reg.Active())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProvidersLeased))

	stub := f.created["e:log"]
	require.NoError(t, a.Release())
	require.NoError(t, a.Release())
	assert.False(t, stub.Closed())

	require.NoError(t, b.Release())
	assert.True(t, stub.Closed())
	assert.Equal(t, 0, reg.Active())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ProvidersLeased))

	// A new resolve creates a fresh instance
	c, err := reg.Resolve(ctx, provider.Request{Log: "log"})
	require.NoError(t, err)
	defer c.Release()
	assert.NotSame(t, stub, c.Provider)
}

func TestRegistry_ConcurrentResolve(t *testing.T) {
	f := &countingFactory{}
	reg := provider.NewRegistry(nil, nil)
	require.NoError(t, reg.Register(provider.Entry{Name: "e", Match: matchLog("log"), Factory: f.factory("e")}))
	reg.Freeze()

	var wg sync.WaitGroup
	leases := make([]*provider.Lease, 16)
	for i := range leases {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := reg.Resolve(context.Background(), provider.Request{Log: "log"})
			assert.NoError(t, err)
			leases[i] = l
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, reg.Active())
	kept := leases[0].Provider
	for _, l := range leases {
		assert.Same(t, kept, l.Provider)
	}
	// Instances built by requests that lost the race are closed at once.
	for _, p := range f.all {
		if p != kept {
			assert.True(t, p.Closed())
		}
	}
	for _, l := range leases {
		require.NoError(t, l.Release())
	}
	assert.Equal(t, 0, reg.Active())
}

func TestRegistry_SlowFactoryDoesNotBlockOtherEntries(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	f := &countingFactory{}
	slow := f.factory("slow")

	reg := provider.NewRegistry(nil, nil)
	require.NoError(t, reg.Register(provider.Entry{
		Name:  "slow",
		Match: matchLog("slow"),
		Factory: func(ctx context.Context, key string, options any) (provider.Provider, error) {
			close(entered)
			<-unblock
			return slow(ctx, key, options)
		},
	}))
	require.NoError(t, reg.Register(provider.Entry{Name: "fast", Match: matchLog("fast"), Factory: f.factory("fast")}))
	reg.Freeze()

	slowDone := make(chan *provider.Lease, 1)
	go func() {
		l, err := reg.Resolve(context.Background(), provider.Request{Log: "slow"})
		assert.NoError(t, err)
		slowDone <- l
	}()
	<-entered

	fastDone := make(chan *provider.Lease, 1)
	go func() {
		l, err := reg.Resolve(context.Background(), provider.Request{Log: "fast"})
		assert.NoError(t, err)
		fastDone <- l
	}()

	select {
	case l := <-fastDone:
		require.NotNil(t, l)
		require.NoError(t, l.Release())
	case <-time.After(2 * time.Second):
		t.Fatal("resolve of another entry waited for a slow factory")
	}

	close(unblock)
	l := <-slowDone
	require.NotNil(t, l)
	require.NoError(t, l.Release())
	assert.Equal(t, 0, reg.Active())
}

func TestRegistry_RacingFactoriesKeepOneProvider(t *testing.T) {
	f := &countingFactory{}
	build := f.factory("e")
	var arrived sync.WaitGroup
	arrived.Add(2)

	reg := provider.NewRegistry(nil, nil)
	require.NoError(t, reg.Register(provider.Entry{
		Name:  "e",
		Match: matchLog("log"),
		Factory: func(ctx context.Context, key string, options any) (provider.Provider, error) {
			// Both requests are inside the factory before either inserts.
			arrived.Done()
			arrived.Wait()
			return build(ctx, key, options)
		},
	}))
	reg.Freeze()

	leases := make([]*provider.Lease, 2)
	var wg sync.WaitGroup
	for i := range leases {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := reg.Resolve(context.Background(), provider.Request{Log: "log"})
			assert.NoError(t, err)
			leases[i] = l
		}(i)
	}
	wg.Wait()

	require.Len(t, f.all, 2)
	assert.Same(t, leases[0].Provider, leases[1].Provider)
	assert.Equal(t, 1, reg.Active())

	closed := 0
	for _, p := range f.all {
		if p.Closed() {
			closed++
		}
	}
	assert.Equal(t, 1, closed)

	require.NoError(t, leases[0].Release())
	require.NoError(t, leases[1].Release())
	for _, p := range f.all {
		assert.True(t, p.Closed())
	}
}

func TestDetachedLease(t *testing.T) {
	stub := xviztest.NewStubProvider(nil)
	lease := provider.Detached(stub)
	require.NoError(t, lease.Release())
	assert.True(t, stub.Closed())
}

func TestRequestFromHTTP(t *testing.T) {
	r := httptest.NewRequest("GET", "/logs/run-1?format=BINARY_GLB&require=static-archive,synthetic-generated", nil)
	req := provider.RequestFromHTTP(r)

	assert.Equal(t, "logs/run-1", req.Log)
	assert.True(t, req.Require.Has(provider.StaticArchive))
	assert.True(t, req.Require.Has(provider.SyntheticGenerated))
	assert.Equal(t, "BINARY_GLB", req.Params.Get("format"))

	r = httptest.NewRequest("GET", "/?log=scenario_circle", nil)
	req = provider.RequestFromHTTP(r)
	assert.Equal(t, "scenario_circle", req.Log)
	assert.Nil(t, req.Require)
	assert.Equal(t, url.Values{"log": {"scenario_circle"}}, req.Params)
}

func TestCapabilities(t *testing.T) {
	c := provider.NewCapabilities(provider.SyntheticGenerated, provider.StaticArchive)
	assert.True(t, c.Covers(nil))
	assert.True(t, c.Covers(provider.NewCapabilities(provider.StaticArchive)))
	assert.False(t, c.Covers(provider.NewCapabilities(provider.LiveSimulated)))
	assert.Equal(t, "static-archive,synthetic-generated", c.String())
}

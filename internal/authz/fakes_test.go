package authz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/cache"
	"github.com/odyssey-erp/odyssey-authz/internal/policy"
)

type stubResolver struct {
	mu    sync.Mutex
	calls int
	roles []string
	err   error
}

func (s *stubResolver) ResolveRoles(context.Context, string, string, string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]string(nil), s.roles...), nil
}

func (s *stubResolver) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeEvaluator struct {
	mu     sync.Mutex
	inputs []policy.Input
	decide func(policy.Input) (bool, error)
}

func (f *fakeEvaluator) Evaluate(_ context.Context, in policy.Input) (bool, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	decide := f.decide
	f.mu.Unlock()
	if decide == nil {
		return false, nil
	}
	return decide(in)
}

func (f *fakeEvaluator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func (f *fakeEvaluator) Roles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.inputs))
	for i, in := range f.inputs {
		out[i] = in.Role
	}
	return out
}

func allowRoles(roles ...string) func(policy.Input) (bool, error) {
	set := make(map[string]bool, len(roles))
	for _, r := range roles {
		set[r] = true
	}
	return func(in policy.Input) (bool, error) {
		return set[in.Role], nil
	}
}

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (r *recordingSink) LogPermissionDenied(_ context.Context, entry audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return r.err
}

func (r *recordingSink) Entries() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errCacheDown = errors.New("cache unavailable")

type brokenCache struct {
	getErr error
	setErr error
	sets   int
}

func (b *brokenCache) Get(context.Context, string) (bool, bool, error) {
	return false, false, b.getErr
}

func (b *brokenCache) Set(context.Context, string, bool, time.Duration) error {
	b.sets++
	return b.setErr
}

func (b *brokenCache) DeletePattern(context.Context, string) (int, error) {
	return 0, errCacheDown
}

type fixture struct {
	engine    *Engine
	resolver  *stubResolver
	evaluator *fakeEvaluator
	cache     *cache.Memory
	sink      *recordingSink
	clock     *testClock
}

func newFixture(roles []string, decide func(policy.Input) (bool, error), mutate ...func(*Options)) *fixture {
	clock := newTestClock()
	f := &fixture{
		resolver:  &stubResolver{roles: roles},
		evaluator: &fakeEvaluator{decide: decide},
		cache:     cache.NewMemory(cache.WithClock(clock.Now)),
		sink:      &recordingSink{},
		clock:     clock,
	}
	opts := DefaultOptions()
	opts.LogPermissionDenials = true
	for _, m := range mutate {
		m(&opts)
	}
	engine, err := New(Dependencies{
		Roles:  f.resolver,
		Policy: f.evaluator,
		Cache:  f.cache,
		Audit:  f.sink,
		Clock:  clock.Now,
	}, opts)
	if err != nil {
		panic(err)
	}
	f.engine = engine
	return f
}

func request() Request {
	return Request{Principal: "u1", Tenant: "org1", Resource: "posts", Action: "read"}
}

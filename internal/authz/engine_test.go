package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/policy"
)

func TestNewRequiresRoleStoreAndEvaluator(t *testing.T) {
	_, err := New(Dependencies{Policy: &fakeEvaluator{}}, DefaultOptions())
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = New(Dependencies{Roles: &stubResolver{}}, DefaultOptions())
	require.ErrorIs(t, err, ErrNotConfigured)

	opts := DefaultOptions()
	opts.KeyPrefix = "authz:v2"
	_, err = New(Dependencies{Roles: &stubResolver{}, Policy: &fakeEvaluator{}}, opts)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewAppliesDefaults(t *testing.T) {
	engine, err := New(Dependencies{Roles: &stubResolver{}, Policy: &fakeEvaluator{}}, Options{})
	require.NoError(t, err)

	opts := engine.Options()
	assert.Equal(t, 300*time.Second, opts.CacheTTL)
	assert.Equal(t, "default", opts.Application)
	assert.Equal(t, "authz", opts.KeyPrefix)
	assert.Equal(t, 4, opts.BatchConcurrency)
	assert.Equal(t, "user", opts.ImplicitRole)
	assert.Equal(t, "super_admin", opts.SuperAdminRole)
}

func TestZeroOptionsKeepSuperAdminBypass(t *testing.T) {
	evaluator := &fakeEvaluator{}
	engine, err := New(Dependencies{
		Roles:  &stubResolver{roles: []string{"super_admin"}},
		Policy: evaluator,
	}, Options{CacheTTL: time.Minute})
	require.NoError(t, err)

	allowed, err := engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, evaluator.Calls())
}

func TestDisabledSuperAdminBypassEvaluatesRole(t *testing.T) {
	f := newFixture([]string{"super_admin"}, allowRoles(), func(o *Options) { o.DisableSuperAdminBypass = true })

	allowed, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, []string{"super_admin", "user"}, f.evaluator.Roles())
	assert.Empty(t, f.engine.Options().SuperAdminRole)
}

func TestUnconfiguredEngineReturnsError(t *testing.T) {
	var nilEngine *Engine
	_, err := nilEngine.Authorize(context.Background(), request())
	require.ErrorIs(t, err, ErrNotConfigured)

	allowed, err := (&Engine{}).Authorize(context.Background(), request())
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, allowed)

	_, err = (&Engine{}).BatchAuthorize(context.Background(), request(), map[string]string{"p1": ""})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestSuperAdminBypassesEvaluator(t *testing.T) {
	f := newFixture([]string{"super_admin"}, allowRoles())

	for _, action := range []string{"read", "delete", "approve"} {
		req := request()
		req.Action = action
		allowed, err := f.engine.Authorize(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, allowed, action)
	}
	assert.Zero(t, f.evaluator.Calls())
	assert.Equal(t, 3, f.cache.Len())
	assert.Empty(t, f.sink.Entries())
}

func TestMemberThenUserShortCircuits(t *testing.T) {
	f := newFixture([]string{"member", "user"}, allowRoles("user"))

	allowed, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, []string{"member", "user"}, f.evaluator.Roles())
}

func TestFirstAllowStopsRoleLoop(t *testing.T) {
	f := newFixture([]string{"admin", "member"}, allowRoles("admin", "member"))

	allowed, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, []string{"admin"}, f.evaluator.Roles())
}

func TestImplicitRoleIsAppended(t *testing.T) {
	f := newFixture(nil, allowRoles("user"))

	allowed, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, []string{"user"}, f.evaluator.Roles())
}

func TestBaselineRoleWithoutGrantDenies(t *testing.T) {
	f := newFixture(nil, allowRoles())

	allowed, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, []string{"user"}, f.evaluator.Roles())
	require.Len(t, f.sink.Entries(), 1)
}

func TestEmptyRoleSetDeniesAndCaches(t *testing.T) {
	f := newFixture(nil, allowRoles("user"), func(o *Options) { o.DisableImplicitRole = true })

	allowed, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, f.evaluator.Calls())
	assert.Equal(t, 1, f.cache.Len())

	entries := f.sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "u1", entries[0].Principal)
	assert.Equal(t, "org1", entries[0].Tenant)
}

func TestDuplicateRolesEvaluatedOnce(t *testing.T) {
	f := newFixture([]string{"member", "member", "user"}, allowRoles())

	_, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, []string{"member", "user"}, f.evaluator.Roles())
}

func TestRepeatedCallsServedFromCache(t *testing.T) {
	for _, granted := range []bool{true, false} {
		decide := allowRoles()
		if granted {
			decide = allowRoles("member")
		}
		f := newFixture([]string{"member"}, decide)

		first, err := f.engine.Authorize(context.Background(), request())
		require.NoError(t, err)
		resolves, evaluations := f.resolver.Calls(), f.evaluator.Calls()

		second, err := f.engine.Authorize(context.Background(), request())
		require.NoError(t, err)
		assert.Equal(t, granted, first)
		assert.Equal(t, first, second)
		assert.Equal(t, resolves, f.resolver.Calls())
		assert.Equal(t, evaluations, f.evaluator.Calls())
	}
}

func TestCachedDenialIsAuditedOnce(t *testing.T) {
	f := newFixture([]string{"member"}, allowRoles())

	for i := 0; i < 3; i++ {
		allowed, err := f.engine.Authorize(context.Background(), request())
		require.NoError(t, err)
		assert.False(t, allowed)
	}
	entries := f.sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "posts", entries[0].Resource)
	assert.Equal(t, "read", entries[0].Action)
	assert.Equal(t, f.clock.Now(), entries[0].Timestamp)
	assert.Equal(t, "default", entries[0].Context["application"])
	assert.Equal(t, []string{"member", "user"}, entries[0].Context["roles"])
}

func TestDenialAuditDisabled(t *testing.T) {
	f := newFixture([]string{"member"}, allowRoles(), func(o *Options) { o.LogPermissionDenials = false })

	allowed, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Empty(t, f.sink.Entries())
}

func TestAuditFailureDoesNotChangeDecision(t *testing.T) {
	f := newFixture([]string{"member"}, allowRoles())
	f.sink.err = errors.New("audit store down")

	allowed, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 1, f.cache.Len())
}

func TestEvaluatorErrorFailsClosedWithoutCacheWrite(t *testing.T) {
	f := newFixture([]string{"member", "user"}, func(in policy.Input) (bool, error) {
		if in.Role == "member" {
			return false, errors.New("policy backend timeout")
		}
		return true, nil
	})

	allowed, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, []string{"member"}, f.evaluator.Roles())
	assert.Zero(t, f.cache.Len())
	assert.Empty(t, f.sink.Entries())

	_, err = f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, 2, f.resolver.Calls())
}

func TestResolverErrorFailsClosed(t *testing.T) {
	f := newFixture(nil, allowRoles("user"))
	f.resolver.err = errors.New("connection reset")

	allowed, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, f.evaluator.Calls())
	assert.Zero(t, f.cache.Len())
}

func TestEvaluatorPanicFailsClosed(t *testing.T) {
	f := newFixture([]string{"member"}, func(policy.Input) (bool, error) {
		panic("nil rule")
	})

	allowed, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, f.cache.Len())
}

func TestCachedDecisionExpiresAfterTTL(t *testing.T) {
	f := newFixture([]string{"member"}, allowRoles("member"))

	_, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)

	f.clock.Advance(299 * time.Second)
	_, err = f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, 1, f.resolver.Calls())

	f.clock.Advance(2 * time.Second)
	allowed, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2, f.resolver.Calls())
}

func TestCacheErrorsAreNotFatal(t *testing.T) {
	broken := &brokenCache{getErr: errCacheDown, setErr: errCacheDown}
	evaluator := &fakeEvaluator{decide: allowRoles("member")}
	resolver := &stubResolver{roles: []string{"member"}}
	engine, err := New(Dependencies{Roles: resolver, Policy: evaluator, Cache: broken}, DefaultOptions())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		allowed, err := engine.Authorize(context.Background(), request())
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.Equal(t, 2, resolver.Calls())
	assert.Equal(t, 2, broken.sets)
}

func TestWithoutCacheEveryCallEvaluates(t *testing.T) {
	resolver := &stubResolver{roles: []string{"member"}}
	engine, err := New(Dependencies{Roles: resolver, Policy: &fakeEvaluator{decide: allowRoles("member")}}, DefaultOptions())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		allowed, err := engine.Authorize(context.Background(), request())
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.Equal(t, 3, resolver.Calls())
	require.NoError(t, engine.InvalidateAll(context.Background()))
}

func TestOwnerReachesEvaluatorButNotKey(t *testing.T) {
	f := newFixture([]string{"member"}, func(in policy.Input) (bool, error) {
		return in.Owner != "" && in.Owner == in.Principal, nil
	})

	req := request()
	req.Owner = "u1"
	allowed, err := f.engine.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, allowed)

	req.Owner = "u2"
	allowed, err = f.engine.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, allowed, "single-check key ignores the owner")
	assert.Equal(t, 1, f.evaluator.Calls())
}

func TestOwnerScopedKeys(t *testing.T) {
	f := newFixture([]string{"member"}, func(in policy.Input) (bool, error) {
		return in.Owner == in.Principal, nil
	}, func(o *Options) { o.OwnerScopedKeys = true })

	req := request()
	req.Owner = "u1"
	allowed, err := f.engine.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, allowed)

	req.Owner = "u2"
	allowed, err = f.engine.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 2, f.cache.Len())

	require.NoError(t, f.engine.InvalidateForUser(context.Background(), "u1", "org1"))
	assert.Zero(t, f.cache.Len())
}

func TestApplicationIsPassedToEvaluator(t *testing.T) {
	f := newFixture([]string{"member"}, allowRoles("member"), func(o *Options) { o.Application = "billing" })

	_, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, 1, f.evaluator.Calls())
	assert.Equal(t, "billing", f.evaluator.inputs[0].Application)
	assert.Equal(t, "org1", f.evaluator.inputs[0].Tenant)
	assert.Empty(t, f.evaluator.inputs[0].Owner)
}

func TestSingleFlightCollapsesConcurrentMisses(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	f := newFixture([]string{"member"}, func(policy.Input) (bool, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-gate
		return true, nil
	}, func(o *Options) { o.SingleFlight = true })

	const callers = 8
	results := make([]bool, callers)
	var wg sync.WaitGroup
	run := func(i int) {
		defer wg.Done()
		allowed, err := f.engine.Authorize(context.Background(), request())
		assert.NoError(t, err)
		results[i] = allowed
	}
	wg.Add(1)
	go run(0)
	<-started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go run(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, allowed := range results {
		assert.True(t, allowed, "caller %d", i)
	}
	assert.Equal(t, 1, f.resolver.Calls())
	assert.Equal(t, 1, f.evaluator.Calls())
}

func TestSingleFlightWaiterHonoursCancellation(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	f := newFixture([]string{"member"}, func(policy.Input) (bool, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-gate
		return true, nil
	}, func(o *Options) { o.SingleFlight = true })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		allowed, _ := f.engine.Authorize(ctx, request())
		done <- allowed
	}()
	<-started
	cancel()
	assert.False(t, <-done)

	close(gate)
	require.Eventually(t, func() bool { return f.cache.Len() == 1 }, time.Second, 5*time.Millisecond)
	allowed, err := f.engine.Authorize(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, f.resolver.Calls())
}

package ha

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/pkg/logging"
)

// fakeLockStore is an in-memory LockStore with scriptable failures.
type fakeLockStore struct {
	mu     sync.Mutex
	value  string
	err    error
	setErr error
}

func (s *fakeLockStore) Get(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.value, nil
}

func (s *fakeLockStore) SetNX(_ context.Context, _, value string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || s.setErr != nil {
		return false, errors.Join(s.err, s.setErr)
	}
	if s.value != "" {
		return false, nil
	}
	s.value = value
	return true, nil
}

func (s *fakeLockStore) SetXX(_ context.Context, _, value string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || s.setErr != nil {
		return false, errors.Join(s.err, s.setErr)
	}
	if s.value != value {
		return false, nil
	}
	return true, nil
}

func (s *fakeLockStore) DelIfValue(_ context.Context, _, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == value {
		s.value = ""
	}
	return nil
}

func newElector(t *testing.T, store LockStore) *Elector {
	t.Helper()
	e, err := NewElector(Config{
		Key: "grinder:leader", InstanceID: "i-1",
		LockTTLMs: 10_000, RenewIntervalMs: 3000,
	}, store, core.NewManualClock(0), nil, logging.NewNop())
	require.NoError(t, err)
	return e
}

func TestConfigInvariants(t *testing.T) {
	_, err := NewElector(Config{Key: "k", InstanceID: "i", LockTTLMs: 500, RenewIntervalMs: 100},
		&fakeLockStore{}, core.NewManualClock(0), nil, logging.NewNop())
	assert.Error(t, err, "ttl below minimum refuses startup")

	_, err = NewElector(Config{Key: "k", InstanceID: "i", LockTTLMs: 2000, RenewIntervalMs: 2000},
		&fakeLockStore{}, core.NewManualClock(0), nil, logging.NewNop())
	assert.Error(t, err, "renew interval must be strictly below ttl")
}

func TestAcquireWhenFree(t *testing.T) {
	store := &fakeLockStore{}
	e := newElector(t, store)

	assert.Equal(t, RoleUnknown, e.Role())
	assert.Equal(t, RoleActive, e.Attempt(context.Background()))
	assert.True(t, e.IsActive())
}

func TestStandbyWhenHeldByOther(t *testing.T) {
	store := &fakeLockStore{value: "i-2"}
	e := newElector(t, store)

	assert.Equal(t, RoleStandby, e.Attempt(context.Background()))
}

func TestRenewKeepsActive(t *testing.T) {
	store := &fakeLockStore{}
	e := newElector(t, store)

	require.Equal(t, RoleActive, e.Attempt(context.Background()))
	assert.Equal(t, RoleActive, e.Attempt(context.Background()), "holder renews with XX")
}

func TestNetworkErrorDemotesImmediately(t *testing.T) {
	store := &fakeLockStore{}
	e := newElector(t, store)
	require.Equal(t, RoleActive, e.Attempt(context.Background()))

	store.mu.Lock()
	store.err = errors.New("connection refused")
	store.mu.Unlock()

	assert.Equal(t, RoleStandby, e.Attempt(context.Background()), "fail-safe demotion")
}

func TestRenewalFailureDemotes(t *testing.T) {
	store := &fakeLockStore{}
	e := newElector(t, store)
	require.Equal(t, RoleActive, e.Attempt(context.Background()))

	// Another instance stole the key between renewals.
	store.mu.Lock()
	store.value = "i-2"
	store.mu.Unlock()

	assert.Equal(t, RoleStandby, e.Attempt(context.Background()))
}

func TestStopReleasesOnlyOwnLock(t *testing.T) {
	store := &fakeLockStore{}
	e := newElector(t, store)
	require.Equal(t, RoleActive, e.Attempt(context.Background()))

	e.Stop()
	assert.Equal(t, RoleStandby, e.Role())
	assert.Equal(t, "", store.value, "check-and-delete released the lease")

	// A standby stop must not clobber another holder.
	store.value = "i-2"
	e2 := newElector(t, store)
	e2.Attempt(context.Background())
	e2.Stop()
	assert.Equal(t, "i-2", store.value)
}

type roleEvents struct {
	mu    sync.Mutex
	roles []string
}

func (r *roleEvents) HARole(role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles = append(r.roles, role)
}

func TestObserverSeesRoleChanges(t *testing.T) {
	store := &fakeLockStore{}
	events := &roleEvents{}
	e, err := NewElector(Config{
		Key: "grinder:leader", InstanceID: "i-1",
		LockTTLMs: 10_000, RenewIntervalMs: 3000,
	}, store, core.NewManualClock(0), events, logging.NewNop())
	require.NoError(t, err)

	e.Attempt(context.Background())
	assert.Equal(t, []string{"unknown", "active"}, events.roles)
}

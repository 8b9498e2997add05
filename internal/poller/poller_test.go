package poller

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "lead-router/internal/common/errors"
	"lead-router/internal/locks"
	"lead-router/internal/routing"
	"lead-router/internal/storage/sqlite"
)

type stubLock struct {
	key      string
	released bool
}

func (l *stubLock) Key() string { return l.key }
func (l *stubLock) Extend(ctx context.Context, exp time.Duration) error { return nil }
func (l *stubLock) Release(ctx context.Context) error { l.released = true; return nil }
func (l *stubLock) IsHeld() bool { return !l.released }

type stubLockManager struct {
	held bool
	lock *stubLock
}

func (m *stubLockManager) AcquireLock(ctx context.Context, key string, exp time.Duration) (locks.Lock, error) {
	if m.held {
		return nil, apperrors.ConflictError("lock already held: " + key)
	}
	m.lock = &stubLock{key: key}
	return m.lock, nil
}

func (m *stubLockManager) AcquireRouteLock(ctx context.Context, contactID string) (locks.Lock, error) {
	return m.AcquireLock(ctx, "route:"+contactID, 30*time.Second)
}

func (m *stubLockManager) AcquirePollerLock(ctx context.Context) (locks.Lock, error) {
	return m.AcquireLock(ctx, "poller:unrouted", 5*time.Minute)
}

func (m *stubLockManager) Close() error { return nil }

func newSweepFixture(t *testing.T) (*Poller, *sqlite.Adapter) {
	t.Helper()

	store, err := sqlite.NewAdapter(&sqlite.Config{
		DatabasePath: filepath.Join(t.TempDir(), "poller_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	orchestrator := routing.NewOrchestrator(store, routing.NewMatcher(), routing.NewRecorder(store), routing.OrchestratorOptions{})
	return New(orchestrator, nil, "* * * * *", 50), store
}

func seedRouting(t *testing.T, store *sqlite.Adapter) {
	t.Helper()

	group := &routing.Group{Name: "web team", DistributionMode: routing.DistributionEqual, IsActive: true}
	require.NoError(t, store.CreateGroup(group))
	agent := &routing.Agent{Name: "Agent One", Status: routing.AgentActive}
	require.NoError(t, store.CreateAgent(agent))
	require.NoError(t, store.AddGroupMember(&routing.GroupMember{GroupID: group.ID, UserID: agent.ID, Weight: 1}))

	ruleset := &routing.Ruleset{Name: "inbound", IsActive: true, Triggers: []string{routing.TriggerContactCreated}}
	require.NoError(t, store.CreateRuleset(ruleset))
	require.NoError(t, store.CreateRule(&routing.Rule{
		RulesetID: ruleset.ID,
		GroupID:   group.ID,
		Name:      "catch all",
		Priority:  -1,
		IsActive:  true,
		CatchAll:  true,
	}))
}

func TestSweep_RoutesUnroutedContacts(t *testing.T) {
	p, store := newSweepFixture(t)
	seedRouting(t, store)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateContact(&routing.Contact{
			Fields: routing.Record{"LeadSource": "Web"},
		}))
	}

	p.sweep()

	unrouted, err := store.ListUnroutedContacts(10)
	require.NoError(t, err)
	assert.Empty(t, unrouted)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalAssignments)
}

func TestSweep_LeavesUnmatchedContacts(t *testing.T) {
	p, store := newSweepFixture(t)
	// No rules configured: sweeping must not assign anything

	require.NoError(t, store.CreateContact(&routing.Contact{
		Fields: routing.Record{"LeadSource": "Web"},
	}))

	p.sweep()

	unrouted, err := store.ListUnroutedContacts(10)
	require.NoError(t, err)
	assert.Len(t, unrouted, 1)
}

func TestSweep_IsIdempotent(t *testing.T) {
	p, store := newSweepFixture(t)
	seedRouting(t, store)

	require.NoError(t, store.CreateContact(&routing.Contact{
		Fields: routing.Record{"LeadSource": "Web"},
	}))

	p.sweep()
	p.sweep()

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAssignments)
}

func TestSweep_SkipsWhenLockHeldElsewhere(t *testing.T) {
	p, store := newSweepFixture(t)
	seedRouting(t, store)
	p.lockManager = &stubLockManager{held: true}

	require.NoError(t, store.CreateContact(&routing.Contact{
		Fields: routing.Record{"LeadSource": "Web"},
	}))

	p.sweep()

	unrouted, err := store.ListUnroutedContacts(10)
	require.NoError(t, err)
	assert.Len(t, unrouted, 1, "losing the election must leave contacts untouched")
}

func TestSweep_ReleasesLock(t *testing.T) {
	p, store := newSweepFixture(t)
	seedRouting(t, store)
	lm := &stubLockManager{}
	p.lockManager = lm

	p.sweep()

	require.NotNil(t, lm.lock)
	assert.Equal(t, "poller:unrouted", lm.lock.key)
	assert.True(t, lm.lock.released)
}

func TestNew_DefaultBatchSize(t *testing.T) {
	p := New(nil, nil, "* * * * *", 0)
	assert.Equal(t, 50, p.batchSize)

	p = New(nil, nil, "* * * * *", 25)
	assert.Equal(t, 25, p.batchSize)
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	p, _ := newSweepFixture(t)
	p.schedule = "not a cron expression"

	assert.Error(t, p.Start())
}

func TestStartStop(t *testing.T) {
	p, _ := newSweepFixture(t)

	require.NoError(t, p.Start())
	p.Stop()
}

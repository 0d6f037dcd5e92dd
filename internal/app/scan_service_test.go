package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconpoint/api/internal/app"
	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/shared"
	"github.com/reconpoint/api/pkg/domain/target"
	"github.com/reconpoint/api/pkg/logger"
)

type memScanRepo struct {
	mu    sync.Mutex
	scans map[shared.ID]*scan.Scan
}

func newMemScanRepo() *memScanRepo {
	return &memScanRepo{scans: make(map[shared.ID]*scan.Scan)}
}

func (r *memScanRepo) Create(_ context.Context, s *scan.Scan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.scans[s.ID] = &cp
	return nil
}

func (r *memScanRepo) GetByID(_ context.Context, id shared.ID) (*scan.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[id]
	if !ok {
		return nil, shared.NewDomainError("NOT_FOUND", "scan not found", shared.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (r *memScanRepo) Update(_ context.Context, s *scan.Scan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scans[s.ID]; !ok {
		return shared.NewDomainError("NOT_FOUND", "scan not found", shared.ErrNotFound)
	}
	cp := *s
	r.scans[s.ID] = &cp
	return nil
}

func (r *memScanRepo) List(_ context.Context, filter scan.Filter) ([]*scan.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*scan.Scan
	for _, s := range r.scans {
		if filter.TargetID != nil && s.TargetID != *filter.TargetID {
			continue
		}
		if filter.Status != nil && s.Status != *filter.Status {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memScanRepo) CountNonTerminal(_ context.Context, targetID shared.ID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.scans {
		if s.TargetID == targetID && s.Status.IsActive() {
			n++
		}
	}
	return n, nil
}

func (r *memScanRepo) ListStaleRunning(_ context.Context, cutoff time.Time) ([]*scan.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*scan.Scan
	for _, s := range r.scans {
		if s.Status == scan.StatusRunning && s.UpdatedAt.Before(cutoff) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memActivityRepo struct {
	mu      sync.Mutex
	entries []*scan.ActivityEntry
}

func (r *memActivityRepo) Append(_ context.Context, e *scan.ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *memActivityRepo) ListByScan(_ context.Context, scanID shared.ID) ([]*scan.ActivityEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*scan.ActivityEntry
	for _, e := range r.entries {
		if e.ScanID == scanID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memTargetRepo struct {
	mu      sync.Mutex
	targets map[shared.ID]*target.Target
	touched int
}

func newMemTargetRepo() *memTargetRepo {
	return &memTargetRepo{targets: make(map[shared.ID]*target.Target)}
}

func (r *memTargetRepo) Create(_ context.Context, t *target.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[t.ID] = t
	return nil
}

func (r *memTargetRepo) GetByID(_ context.Context, id shared.ID) (*target.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[id]
	if !ok {
		return nil, shared.NewDomainError("NOT_FOUND", "target not found", shared.ErrNotFound)
	}
	return t, nil
}

func (r *memTargetRepo) GetByName(_ context.Context, name string) (*target.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.targets {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, shared.NewDomainError("NOT_FOUND", "target not found", shared.ErrNotFound)
}

func (r *memTargetRepo) List(_ context.Context, _, _ int) ([]*target.Target, error) {
	return nil, nil
}

func (r *memTargetRepo) Exists(_ context.Context, id shared.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.targets[id]
	return ok, nil
}

func (r *memTargetRepo) TouchLastScanned(_ context.Context, id shared.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[id]
	if !ok {
		return shared.NewDomainError("NOT_FOUND", "target not found", shared.ErrNotFound)
	}
	t.TouchLastScanned()
	r.touched++
	return nil
}

// memGuard mimics the Redis SETNX guard.
type memGuard struct {
	mu       sync.Mutex
	held     map[shared.ID]bool
	releases int
}

func newMemGuard() *memGuard {
	return &memGuard{held: make(map[shared.ID]bool)}
}

func (g *memGuard) TryReserve(_ context.Context, targetID shared.ID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[targetID] {
		return false, nil
	}
	g.held[targetID] = true
	return true, nil
}

func (g *memGuard) Release(_ context.Context, targetID shared.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, targetID)
	g.releases++
	return nil
}

type fakeExecutor struct {
	mu        sync.Mutex
	submitted []scan.WorkUnit
	cancelled []string
	failAfter int // fail submissions after this many, 0 = never
	cancelErr error
	seq       int
}

func (e *fakeExecutor) Submit(_ context.Context, unit scan.WorkUnit) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failAfter > 0 && len(e.submitted) >= e.failAfter {
		return "", errors.New("queue unavailable")
	}
	e.submitted = append(e.submitted, unit)
	e.seq++
	return unit.TaskName + "-handle", nil
}

func (e *fakeExecutor) Cancel(_ context.Context, handleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = append(e.cancelled, handleID)
	return e.cancelErr
}

type fakePublisher struct {
	mu     sync.Mutex
	events []scan.Event
}

func (p *fakePublisher) Publish(_ context.Context, event scan.Event, _ map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) published() []scan.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]scan.Event(nil), p.events...)
}

type fixture struct {
	svc       *app.ScanService
	scans     *memScanRepo
	activity  *memActivityRepo
	targets   *memTargetRepo
	guard     *memGuard
	executor  *fakeExecutor
	publisher *fakePublisher
	targetID  shared.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tgt, err := target.NewTarget("example.com", "")
	require.NoError(t, err)

	f := &fixture{
		scans:     newMemScanRepo(),
		activity:  &memActivityRepo{},
		targets:   newMemTargetRepo(),
		guard:     newMemGuard(),
		executor:  &fakeExecutor{},
		publisher: &fakePublisher{},
		targetID:  tgt.ID,
	}
	require.NoError(t, f.targets.Create(context.Background(), tgt))

	f.svc = app.NewScanService(f.scans, f.activity, f.targets, f.guard, f.executor, f.publisher, logger.NewNop())
	return f
}

func (f *fixture) createScan(t *testing.T, tasks ...string) *scan.Scan {
	t.Helper()
	sc, err := f.svc.CreateScan(context.Background(), app.CreateScanInput{
		TargetID:      f.targetID,
		EngineName:    "full",
		DeclaredTasks: tasks,
	})
	require.NoError(t, err)
	return sc
}

func TestScanService_CreateScan(t *testing.T) {
	ctx := context.Background()

	t.Run("creates running scan with handles", func(t *testing.T) {
		f := newFixture(t)
		sc := f.createScan(t, "subdomain_discovery", "port_scan")

		assert.Equal(t, scan.StatusRunning, sc.Status)
		assert.Equal(t, []string{"subdomain_discovery-handle", "port_scan-handle"}, sc.ExecutionHandles)
		assert.Len(t, f.executor.submitted, 2)
		assert.Equal(t, 1, f.targets.touched)
		assert.Equal(t, []scan.Event{scan.EventScanStarted}, f.publisher.published())
	})

	t.Run("rejects second scan for same target", func(t *testing.T) {
		f := newFixture(t)
		f.createScan(t, "port_scan")

		_, err := f.svc.CreateScan(ctx, app.CreateScanInput{
			TargetID:      f.targetID,
			EngineName:    "full",
			DeclaredTasks: []string{"port_scan"},
		})
		require.Error(t, err)
		assert.True(t, shared.IsConflict(err))
	})

	t.Run("unknown target", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateScan(ctx, app.CreateScanInput{
			TargetID:   shared.NewID(),
			EngineName: "full",
		})
		assert.True(t, shared.IsNotFound(err))
		assert.Equal(t, 0, f.guard.releases) // never reserved
	})

	t.Run("slot freed after terminal state", func(t *testing.T) {
		f := newFixture(t)
		sc := f.createScan(t, "port_scan")

		_, err := f.svc.Transition(ctx, sc.ID, scan.StatusCompleted, "")
		require.NoError(t, err)

		// The target accepts a new scan again.
		sc2 := f.createScan(t, "port_scan")
		assert.NotEqual(t, sc.ID, sc2.ID)
	})

	t.Run("submit failure fails scan and cancels submitted tasks", func(t *testing.T) {
		f := newFixture(t)
		f.executor.failAfter = 1

		_, err := f.svc.CreateScan(ctx, app.CreateScanInput{
			TargetID:      f.targetID,
			EngineName:    "full",
			DeclaredTasks: []string{"a", "b"},
		})
		require.Error(t, err)

		assert.Equal(t, []string{"a-handle"}, f.executor.cancelled)
		assert.Equal(t, 1, f.guard.releases)

		scans, _ := f.scans.List(ctx, scan.Filter{})
		require.Len(t, scans, 1)
		assert.Equal(t, scan.StatusFailed, scans[0].Status)
		assert.Contains(t, f.publisher.published(), scan.EventScanFailed)
	})
}

func TestScanService_Transition(t *testing.T) {
	ctx := context.Background()

	t.Run("terminal transition releases guard once", func(t *testing.T) {
		f := newFixture(t)
		sc := f.createScan(t, "port_scan")

		_, err := f.svc.Transition(ctx, sc.ID, scan.StatusCompleted, "")
		require.NoError(t, err)
		assert.Equal(t, 1, f.guard.releases)

		// Idempotent re-application does not release again.
		_, err = f.svc.Transition(ctx, sc.ID, scan.StatusCompleted, "")
		require.NoError(t, err)
		assert.Equal(t, 1, f.guard.releases)
	})

	t.Run("publishes terminal events", func(t *testing.T) {
		f := newFixture(t)
		sc := f.createScan(t, "port_scan")

		_, err := f.svc.Transition(ctx, sc.ID, scan.StatusFailed, "tool crashed")
		require.NoError(t, err)
		assert.Equal(t, []scan.Event{scan.EventScanStarted, scan.EventScanFailed}, f.publisher.published())

		got, err := f.svc.GetScan(ctx, sc.ID)
		require.NoError(t, err)
		assert.Equal(t, "tool crashed", got.ErrorMessage)
		assert.NotNil(t, got.StoppedAt)
	})

	t.Run("invalid transition rejected", func(t *testing.T) {
		f := newFixture(t)
		sc := f.createScan(t, "port_scan")

		_, err := f.svc.Transition(ctx, sc.ID, scan.StatusCompleted, "")
		require.NoError(t, err)

		_, err = f.svc.Transition(ctx, sc.ID, scan.StatusFailed, "late")
		assert.True(t, shared.IsValidation(err))
	})
}

func TestScanService_AbortScan(t *testing.T) {
	ctx := context.Background()
	actor := shared.NewID()

	t.Run("aborts running scan and cancels handles", func(t *testing.T) {
		f := newFixture(t)
		sc := f.createScan(t, "subdomain_discovery", "port_scan")

		aborted, err := f.svc.AbortScan(ctx, sc.ID, actor)
		require.NoError(t, err)

		assert.Equal(t, scan.StatusAborted, aborted.Status)
		require.NotNil(t, aborted.AbortedBy)
		assert.Equal(t, actor, *aborted.AbortedBy)
		assert.ElementsMatch(t, []string{"subdomain_discovery-handle", "port_scan-handle"}, f.executor.cancelled)
		assert.Equal(t, 1, f.guard.releases)
		assert.Contains(t, f.publisher.published(), scan.EventScanAborted)
	})

	t.Run("cancel failure does not block abort", func(t *testing.T) {
		f := newFixture(t)
		f.executor.cancelErr = errors.New("broker down")
		sc := f.createScan(t, "port_scan")

		aborted, err := f.svc.AbortScan(ctx, sc.ID, actor)
		require.NoError(t, err)
		assert.Equal(t, scan.StatusAborted, aborted.Status)
	})

	t.Run("cannot abort finished scan", func(t *testing.T) {
		f := newFixture(t)
		sc := f.createScan(t, "port_scan")

		_, err := f.svc.Transition(ctx, sc.ID, scan.StatusCompleted, "")
		require.NoError(t, err)

		_, err = f.svc.AbortScan(ctx, sc.ID, actor)
		assert.True(t, shared.IsValidation(err))
	})
}

func TestScanService_HandleStepUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("records activity and reports progress", func(t *testing.T) {
		f := newFixture(t)
		sc := f.createScan(t, "a", "b")

		require.NoError(t, f.svc.HandleStepUpdate(ctx, sc.ID, "a", scan.StepStarted, ""))
		require.NoError(t, f.svc.HandleStepUpdate(ctx, sc.ID, "a", scan.StepCompleted, ""))

		p, err := f.svc.GetProgress(ctx, sc.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, p.TotalTasks)
		assert.Equal(t, 1, p.CompletedTasks)
		assert.Equal(t, 50.0, p.Percentage)
	})

	t.Run("auto-completes when all declared tasks finish", func(t *testing.T) {
		f := newFixture(t)
		sc := f.createScan(t, "a", "b")

		require.NoError(t, f.svc.HandleStepUpdate(ctx, sc.ID, "a", scan.StepCompleted, ""))
		require.NoError(t, f.svc.HandleStepUpdate(ctx, sc.ID, "b", scan.StepFailed, "timeout"))

		got, err := f.svc.GetScan(ctx, sc.ID)
		require.NoError(t, err)
		assert.Equal(t, scan.StatusCompleted, got.Status)
		assert.Contains(t, f.publisher.published(), scan.EventScanCompleted)
	})

	t.Run("stale updates after terminal state are dropped", func(t *testing.T) {
		f := newFixture(t)
		sc := f.createScan(t, "a")

		_, err := f.svc.AbortScan(ctx, sc.ID, shared.NewID())
		require.NoError(t, err)

		require.NoError(t, f.svc.HandleStepUpdate(ctx, sc.ID, "a", scan.StepCompleted, ""))

		entries, err := f.activity.ListByScan(ctx, sc.ID)
		require.NoError(t, err)
		assert.Empty(t, entries)

		got, _ := f.svc.GetScan(ctx, sc.ID)
		assert.Equal(t, scan.StatusAborted, got.Status)
	})
}

func TestScanService_FailStaleScans(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	sc := f.createScan(t, "a")

	// Backdate the scan so the watchdog sees it as stale.
	f.scans.mu.Lock()
	f.scans.scans[sc.ID].UpdatedAt = time.Now().Add(-3 * time.Hour)
	f.scans.mu.Unlock()

	failed, err := f.svc.FailStaleScans(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	got, err := f.svc.GetScan(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "no progress")

	// A second sweep finds nothing.
	failed, err = f.svc.FailStaleScans(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, failed)
}

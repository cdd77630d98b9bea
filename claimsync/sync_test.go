package claimsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type persistCall struct {
	id    string
	patch map[string]any
	full  Record
}

// fakeRemote is an in-memory RemoteStore for orchestrator tests.
type fakeRemote struct {
	rows       []RemoteRow
	fetchErr   error
	persistErr error
	persisted  []persistCall
	onFetch    func() // runs after the fetch result is decided, before it returns
}

func (f *fakeRemote) FetchAll(ctx context.Context, _ Filter) ([]RemoteRow, error) {
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.fetchErr != nil {
		return nil, &RemoteUnavailableError{Err: f.fetchErr}
	}
	return f.rows, nil
}

func (f *fakeRemote) PersistPatch(ctx context.Context, id string, patch map[string]any, full Record) error {
	if f.persistErr != nil {
		return f.persistErr
	}
	f.persisted = append(f.persisted, persistCall{id: id, patch: patch, full: full})
	return nil
}

func newTestEngine(t *testing.T, remote RemoteStore) (*Engine, *SQLiteCache) {
	t.Helper()
	cache := newTestCache(t)
	engine, err := NewEngine(cache, remote, DefaultConfig("pengajuan"), nil)
	require.NoError(t, err)
	return engine, cache
}

func TestSubmitCreatesLocalRecord(t *testing.T) {
	engine, cache := newTestEngine(t, &fakeRemote{})

	rec, err := engine.Submit(context.Background(), Record{Template: "survei-luka", NamaKorban: "Budi"})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, StatusSubmitted, rec.Status)
	require.Equal(t, TemplateSurveyInjury, rec.TemplateKind)
	require.NotEmpty(t, rec.SubmissionTime)

	stored := cache.Load("pengajuan")
	require.Len(t, stored, 1)
	require.Equal(t, rec.ID, stored[0].ID)

	hint, ok := engine.LastSubmittedID()
	require.True(t, ok)
	require.Equal(t, rec.ID, hint)
}

func TestSubmitSameIDUpdatesInPlace(t *testing.T) {
	engine, cache := newTestEngine(t, &fakeRemote{})

	first, err := engine.Submit(context.Background(), Record{ID: "dup-1", Template: "survei-luka", NamaKorban: "Budi"})
	require.NoError(t, err)
	second, err := engine.Submit(context.Background(), Record{ID: "dup-1", Template: "survei-luka", NamaKorban: "Budi Santoso"})
	require.NoError(t, err)
	require.Equal(t, int64(2), second.LocalSeq, "a retried submit is a fresh local write")
	require.Equal(t, first.CreatedAt, second.CreatedAt, "original creation time survives a retried submit")

	stored := cache.Load("pengajuan")
	require.Len(t, stored, 1, "same id must update in place, never coexist")
	require.Equal(t, "Budi Santoso", stored[0].NamaKorban)

	records, err := engine.PullAndMerge(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "dup-1", records[0].ID)
}

func TestApplyVerificationHappyPath(t *testing.T) {
	remote := &fakeRemote{}
	engine, cache := newTestEngine(t, remote)

	rec, err := engine.Submit(context.Background(), Record{Template: "survei-luka"})
	require.NoError(t, err)

	out, err := engine.ApplyVerification(context.Background(), VerificationRequest{
		ID:        rec.ID,
		Action:    ActionVerify,
		Checks:    fullChecks(),
		Timestamp: "2024-06-01T10:00:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, StatusInReview, out.Status)

	stored := cache.Load("pengajuan")
	require.Equal(t, StatusInReview, stored[0].Status)
	require.Equal(t, "2024-06-01T10:00:00Z", stored[0].Audit.VerifiedAt)

	require.Len(t, remote.persisted, 1)
	require.Equal(t, rec.ID, remote.persisted[0].id)
	require.Equal(t, StatusInReview, remote.persisted[0].patch["status"])
}

func TestApplyVerificationUnknownID(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeRemote{})
	_, err := engine.ApplyVerification(context.Background(), VerificationRequest{
		ID: "missing", Action: ActionFinish,
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyVerificationValidationPerformsNoWrites(t *testing.T) {
	remote := &fakeRemote{}
	engine, cache := newTestEngine(t, remote)
	rec, err := engine.Submit(context.Background(), Record{Template: "survei-luka"})
	require.NoError(t, err)
	before, _ := cache.GetRaw("pengajuan")

	_, err = engine.ApplyVerification(context.Background(), VerificationRequest{
		ID: rec.ID, Action: ActionVerify, // checklist incomplete
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	after, _ := cache.GetRaw("pengajuan")
	require.Equal(t, before, after)
	require.Empty(t, remote.persisted)
}

func TestApplyVerificationQuotaRollsBackByteForByte(t *testing.T) {
	remote := &fakeRemote{}
	engine, cache := newTestEngine(t, remote)
	rec, err := engine.Submit(context.Background(), Record{Template: "survei-luka"})
	require.NoError(t, err)
	before, _ := cache.GetRaw("pengajuan")

	cache.MaxValueBytes = 10
	_, err = engine.ApplyVerification(context.Background(), VerificationRequest{
		ID: rec.ID, Action: ActionFinish, Timestamp: "2024-06-01T10:00:00Z",
	})
	var quota *StorageQuotaError
	require.ErrorAs(t, err, &quota)

	after, _ := cache.GetRaw("pengajuan")
	require.Equal(t, before, after, "failed verify must leave storage byte-for-byte identical")
	require.Empty(t, remote.persisted, "no remote write after a local rollback")
}

func TestApplyVerificationRemoteFailureKeepsLocalState(t *testing.T) {
	remote := &fakeRemote{persistErr: &RemoteSyncError{ID: "a1", Attempts: []string{"update:pengajuan_santunan"}}}
	engine, cache := newTestEngine(t, remote)
	rec, err := engine.Submit(context.Background(), Record{Template: "survei-luka"})
	require.NoError(t, err)

	out, err := engine.ApplyVerification(context.Background(), VerificationRequest{
		ID: rec.ID, Action: ActionFinish, Timestamp: "2024-06-01T10:00:00Z",
	})
	var rserr *RemoteSyncError
	require.ErrorAs(t, err, &rserr)
	require.Equal(t, StatusDone, out.Status, "the returned record is the applied one")

	stored := cache.Load("pengajuan")
	require.Equal(t, StatusDone, stored[0].Status, "local optimistic change is kept")
}

func TestPullAndMergeDegradesToCacheOnly(t *testing.T) {
	remote := &fakeRemote{fetchErr: errors.New("connection refused")}
	engine, cache := newTestEngine(t, remote)
	require.NoError(t, cache.Save("pengajuan", []Record{{ID: "a1", Status: StatusSubmitted}}))

	records, err := engine.PullAndMerge(context.Background())
	var unavailable *RemoteUnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Len(t, records, 1)
	require.Equal(t, "a1", records[0].ID)
}

func TestPullAndMergeKeepsLocalOnlyRecords(t *testing.T) {
	remote := &fakeRemote{rows: []RemoteRow{
		{"local_key": "r1", "status": "done", "nama_korban": "Siti"},
	}}
	engine, cache := newTestEngine(t, remote)
	require.NoError(t, cache.Save("pengajuan", []Record{{ID: "l1", Status: StatusSubmitted}}))

	records, err := engine.PullAndMerge(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	ids := map[string]bool{}
	for _, rec := range records {
		ids[rec.ID] = true
	}
	require.True(t, ids["r1"])
	require.True(t, ids["l1"], "local record pending first sync must survive")
}

func TestPullAndMergeMergesCounterparts(t *testing.T) {
	remote := &fakeRemote{rows: []RemoteRow{
		{"local_key": "a1", "nama_korban": "Budi S.", "status": "submitted"},
	}}
	engine, cache := newTestEngine(t, remote)
	require.NoError(t, cache.Save("pengajuan", []Record{{
		ID:         "a1",
		NamaKorban: "Budi",
		Attachments: map[string][]AttachmentRef{
			DocKTP: {{Name: "ktp.png", Path: "local/ktp.png"}},
		},
	}}))

	records, err := engine.PullAndMerge(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1, "same id must merge, never coexist")
	require.Equal(t, "Budi S.", records[0].NamaKorban)
	require.Len(t, records[0].Attachments[DocKTP], 1, "local attachments survive an empty remote map")
}

func TestPullAndMergePersistsMergedSet(t *testing.T) {
	remote := &fakeRemote{rows: []RemoteRow{{"local_key": "r1", "status": "done"}}}
	engine, cache := newTestEngine(t, remote)

	_, err := engine.PullAndMerge(context.Background())
	require.NoError(t, err)

	stored := cache.Load("pengajuan")
	require.Len(t, stored, 1)
	require.Equal(t, StatusDone, stored[0].Status)
}

func TestPullAndMergeDedupesLocalDuplicates(t *testing.T) {
	engine, cache := newTestEngine(t, &fakeRemote{})
	// A cache written by an older build may hold two entries for one id.
	require.NoError(t, cache.Save("pengajuan", []Record{
		{ID: "dup-1", Status: StatusSubmitted, NamaKorban: "Budi"},
		{ID: "dup-1", Status: StatusSubmitted, NamaKorban: "Budi"},
	}))

	records, err := engine.PullAndMerge(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "dup-1", records[0].ID)

	stored := cache.Load("pengajuan")
	require.Len(t, stored, 1, "the deduped set is what gets persisted")
}

func TestPullAndMergeInFlightWriteGuard(t *testing.T) {
	// A verification lands while the fetch is in flight. The stale remote
	// row must not clobber the fresher local state.
	engine, cache := newTestEngine(t, nil)
	require.NoError(t, cache.Save("pengajuan", []Record{{ID: "a1", Status: StatusSubmitted, LocalSeq: 1}}))

	remote := &fakeRemote{
		rows: []RemoteRow{{"local_key": "a1", "status": "submitted"}},
		onFetch: func() {
			// Simulates the optimistic write committing mid-pull.
			records := cache.Load("pengajuan")
			records[0].Status = StatusInReview
			records[0].Audit.VerifiedAt = "2024-06-01T10:00:00Z"
			records[0].LocalSeq = 2
			require.NoError(t, cache.Save("pengajuan", records))
		},
	}
	engine.remote = remote

	records, err := engine.PullAndMerge(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, StatusInReview, records[0].Status)
	require.Equal(t, int64(2), records[0].LocalSeq)
}

func TestEndToEndScenario(t *testing.T) {
	remote := &fakeRemote{}
	engine, cache := newTestEngine(t, remote)

	// Submit locally with one attachment; remote has no matching row yet.
	rec, err := engine.Submit(context.Background(), Record{
		Template: "survei-luka",
		Attachments: map[string][]AttachmentRef{
			DocKTP: {{Name: "ktp.png", Path: "local/ktp.png"}},
		},
	})
	require.NoError(t, err)

	records, err := engine.PullAndMerge(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, StatusSubmitted, records[0].Status)
	require.Len(t, records[0].Attachments[DocKTP], 1)

	// Remote acquires the row (same id, verified=false).
	remote.rows = []RemoteRow{{
		"local_key": rec.ID,
		"status":    "submitted",
		"verified":  false,
		"template":  "survei-luka",
	}}
	records, err = engine.PullAndMerge(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, StatusSubmitted, records[0].Status)
	require.Len(t, records[0].Attachments[DocKTP], 1, "local attachment kept")

	// Verify with a fully-checked checklist.
	out, err := engine.ApplyVerification(context.Background(), VerificationRequest{
		ID:        rec.ID,
		Action:    ActionVerify,
		Checks:    fullChecks(),
		Timestamp: "2024-06-01T10:00:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, StatusInReview, out.Status)
	require.Equal(t, "2024-06-01T10:00:00Z", out.Audit.VerifiedAt)

	// The remote row is still eventually-consistent (stale status); the
	// optimistic local value persists until the remote catches up.
	records, err = engine.PullAndMerge(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, StatusInReview, records[0].Status)
	require.Equal(t, "2024-06-01T10:00:00Z", records[0].Audit.VerifiedAt)

	stored := cache.Load("pengajuan")
	require.Len(t, stored, 1)
	require.Equal(t, StatusInReview, stored[0].Status, "merged set was persisted")
}

// gatedRemote blocks every fetch until released, so scheduler tests can
// observe the loop mid-pull without sleeping on timing guesses.
type gatedRemote struct {
	mu      sync.Mutex
	fetches int
	started chan struct{}
	release chan struct{}
}

func (g *gatedRemote) FetchAll(ctx context.Context, _ Filter) ([]RemoteRow, error) {
	g.mu.Lock()
	g.fetches++
	g.mu.Unlock()
	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return nil, nil
}

func (g *gatedRemote) PersistPatch(context.Context, string, map[string]any, Record) error {
	return nil
}

func (g *gatedRemote) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches
}

func TestRunSyncCoalescesKicks(t *testing.T) {
	remote := &gatedRemote{started: make(chan struct{}), release: make(chan struct{})}
	engine, _ := newTestEngine(t, remote)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		engine.RunSync(ctx)
		close(done)
	}()

	engine.Kick()
	<-remote.started // first pull is in flight

	// All of these land while the pull runs and must collapse into a
	// single follow-up pull.
	engine.Kick()
	engine.Kick()
	engine.Kick()

	remote.release <- struct{}{}
	<-remote.started // the one coalesced pull
	remote.release <- struct{}{}

	select {
	case <-remote.started:
		t.Fatal("coalesced kicks must trigger exactly one extra pull")
	case <-time.After(100 * time.Millisecond):
	}
	require.Equal(t, 2, remote.fetchCount())

	cancel()
	<-done
}

func TestRunSyncPauseSuppressesPulls(t *testing.T) {
	remote := &gatedRemote{started: make(chan struct{}, 1), release: make(chan struct{}, 1)}
	engine, _ := newTestEngine(t, remote)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		engine.RunSync(ctx)
		close(done)
	}()

	engine.PauseSync()
	engine.Kick()
	select {
	case <-remote.started:
		t.Fatal("paused scheduler must not pull")
	case <-time.After(100 * time.Millisecond):
	}
	require.Equal(t, 0, remote.fetchCount())

	// A kick consumed while paused is dropped; resuming takes a new one.
	engine.ResumeSync()
	engine.Kick()
	<-remote.started
	remote.release <- struct{}{}
	require.Equal(t, 1, remote.fetchCount())

	cancel()
	<-done
}

func TestRecordsSortedByUpdateCandidate(t *testing.T) {
	engine, cache := newTestEngine(t, &fakeRemote{})
	require.NoError(t, cache.Save("pengajuan", []Record{
		{ID: "old", SubmissionTime: "2024-01-01T00:00:00Z"},
		{ID: "new", UpdatedAt: "2024-06-01T00:00:00Z"},
		{ID: "mid", Audit: VerificationAudit{VerifiedAt: "2024-03-01T00:00:00Z"}},
	}))

	records := engine.Records()
	require.Equal(t, []string{"new", "mid", "old"}, []string{records[0].ID, records[1].ID, records[2].ID})
}

package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbridge/mailbridge/internal/provider"
	"github.com/mailbridge/mailbridge/internal/store"
)

type fakeAPI struct {
	startResponses []*provider.SyncStartResponse
	startCalls     int

	deltaPages map[string]*provider.SyncUpdatedResponse
	pagePages  map[string]*provider.SyncUpdatedResponse

	fetchGate chan struct{}
}

func (f *fakeAPI) StartSync(ctx context.Context, cred provider.Credential, daysWithin int) (*provider.SyncStartResponse, error) {
	resp := f.startResponses[f.startCalls]
	if f.startCalls < len(f.startResponses)-1 {
		f.startCalls++
	}
	return resp, nil
}

func (f *fakeAPI) FetchUpdated(ctx context.Context, cred provider.Credential, page provider.Page) (*provider.SyncUpdatedResponse, error) {
	if f.fetchGate != nil {
		<-f.fetchGate
	}
	if page.DeltaToken != "" {
		if resp, ok := f.deltaPages[page.DeltaToken]; ok {
			return resp, nil
		}
		return nil, &provider.RequestError{Status: 400, Body: "unknown delta token"}
	}
	if resp, ok := f.pagePages[page.PageToken]; ok {
		return resp, nil
	}
	return nil, &provider.RequestError{Status: 400, Body: "unknown page token"}
}

type fakeSyncStore struct {
	cursors    map[string]string
	saveCalls  int
	applied    []store.MessageUpsert
	applyErr   error
	applyAfter int // fail once this many records have been applied
}

func newFakeSyncStore() *fakeSyncStore {
	return &fakeSyncStore{cursors: map[string]string{}}
}

func (f *fakeSyncStore) Cursor(ctx context.Context, accountID string) (string, error) {
	return f.cursors[accountID], nil
}

func (f *fakeSyncStore) SaveCursor(ctx context.Context, accountID, cursor string) error {
	f.saveCalls++
	f.cursors[accountID] = cursor
	return nil
}

func (f *fakeSyncStore) ApplyMessage(ctx context.Context, accountID string, m store.MessageUpsert, evt *store.OutboxEntry) (bool, error) {
	if f.applyErr != nil && len(f.applied) >= f.applyAfter {
		return false, f.applyErr
	}
	f.applied = append(f.applied, m)
	return true, nil
}

func (f *fakeSyncStore) DequeueOutbox(ctx context.Context, limit int) ([]store.OutboxMessage, error) {
	return nil, nil
}

func (f *fakeSyncStore) MarkPublished(ctx context.Context, id int64) error { return nil }

func (f *fakeSyncStore) MarkRetry(ctx context.Context, id int64, backoff time.Duration) error {
	return nil
}

func testRunner(api MailAPI, st Store) *Runner {
	log := logrus.NewEntry(logrus.New())
	return &Runner{
		API:             api,
		Store:           st,
		Reconciler:      &Reconciler{Store: st, Log: log},
		Log:             log,
		WindowDays:      3,
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 5,
	}
}

func record(id, threadID string) provider.Message {
	return provider.Message{
		ID:       id,
		ThreadID: threadID,
		From:     provider.EmailAddress{Address: "sender@example.com"},
		SentAt:   time.Now(),
	}
}

func testAccount() *store.Account {
	return &store.Account{ID: "acct-1", UserID: "user-1", Token: "tok"}
}

func TestIncrementalSyncAccumulatesAllPages(t *testing.T) {
	api := &fakeAPI{
		deltaPages: map[string]*provider.SyncUpdatedResponse{
			"D0": {
				Records:       []provider.Message{record("m1", "t1"), record("m2", "t1")},
				NextPageToken: "p1",
			},
		},
		pagePages: map[string]*provider.SyncUpdatedResponse{
			"p1": {
				Records:       []provider.Message{record("m3", "t2"), record("m4", "t2")},
				NextPageToken: "p2",
			},
			"p2": {
				Records:        []provider.Message{record("m5", "t3"), record("m6", "t3")},
				NextDeltaToken: "D1",
			},
		},
	}

	st := newFakeSyncStore()
	st.cursors["acct-1"] = "D0"

	require.NoError(t, testRunner(api, st).IncrementalSync(context.Background(), testAccount()))

	assert.Len(t, st.applied, 6)
	assert.Equal(t, "D1", st.cursors["acct-1"])
}

func TestIncrementalSyncKeepsEarlyDeltaToken(t *testing.T) {
	api := &fakeAPI{
		deltaPages: map[string]*provider.SyncUpdatedResponse{
			"D0": {
				Records:        []provider.Message{record("m1", "t1")},
				NextDeltaToken: "D1",
				NextPageToken:  "p1",
			},
		},
		pagePages: map[string]*provider.SyncUpdatedResponse{
			"p1": {Records: []provider.Message{record("m2", "t1")}},
		},
	}

	st := newFakeSyncStore()
	st.cursors["acct-1"] = "D0"

	require.NoError(t, testRunner(api, st).IncrementalSync(context.Background(), testAccount()))

	// The later page carried no delta token; the captured one must survive.
	assert.Equal(t, "D1", st.cursors["acct-1"])
}

func TestIncrementalSyncEmptyPageRetainsCursor(t *testing.T) {
	api := &fakeAPI{
		deltaPages: map[string]*provider.SyncUpdatedResponse{
			"D0": {},
		},
	}

	st := newFakeSyncStore()
	st.cursors["acct-1"] = "D0"

	require.NoError(t, testRunner(api, st).IncrementalSync(context.Background(), testAccount()))

	assert.Empty(t, st.applied)
	assert.Equal(t, "D0", st.cursors["acct-1"])
}

func TestIncrementalSyncCursorUnchangedOnReconcileFailure(t *testing.T) {
	api := &fakeAPI{
		deltaPages: map[string]*provider.SyncUpdatedResponse{
			"D0": {
				Records:        []provider.Message{record("m1", "t1"), record("m2", "t1")},
				NextDeltaToken: "D1",
			},
		},
	}

	st := newFakeSyncStore()
	st.cursors["acct-1"] = "D0"
	st.applyErr = errors.New("write failed")
	st.applyAfter = 1

	err := testRunner(api, st).IncrementalSync(context.Background(), testAccount())
	require.Error(t, err)

	assert.Equal(t, "D0", st.cursors["acct-1"], "cursor must not advance on a failed cycle")
	assert.Zero(t, st.saveCalls)
}

func TestIncrementalSyncRequiresCursor(t *testing.T) {
	st := newFakeSyncStore()

	err := testRunner(&fakeAPI{}, st).IncrementalSync(context.Background(), testAccount())
	require.ErrorIs(t, err, ErrMissingCursor)
	assert.Zero(t, st.saveCalls)
}

func TestInitialSyncPollsUntilReady(t *testing.T) {
	api := &fakeAPI{
		startResponses: []*provider.SyncStartResponse{
			{Ready: false},
			{Ready: false},
			{Ready: true, SyncUpdatedToken: "T0"},
		},
		deltaPages: map[string]*provider.SyncUpdatedResponse{
			"T0": {
				Records:        []provider.Message{record("m1", "t1")},
				NextDeltaToken: "D1",
			},
		},
	}

	st := newFakeSyncStore()

	require.NoError(t, testRunner(api, st).InitialSync(context.Background(), testAccount()))

	assert.Equal(t, 2, api.startCalls)
	assert.Len(t, st.applied, 1)
	assert.Equal(t, "D1", st.cursors["acct-1"])
}

func TestInitialSyncTimesOutWhenNeverReady(t *testing.T) {
	api := &fakeAPI{
		startResponses: []*provider.SyncStartResponse{{Ready: false}},
	}

	st := newFakeSyncStore()

	err := testRunner(api, st).InitialSync(context.Background(), testAccount())
	require.ErrorIs(t, err, ErrSyncTimeout)
	assert.Zero(t, st.saveCalls)
}

func TestManagerSerializesPerAccount(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{
		deltaPages: map[string]*provider.SyncUpdatedResponse{
			"D0": {NextDeltaToken: "D1"},
		},
		fetchGate: gate,
	}

	st := newFakeSyncStore()
	st.cursors["acct-1"] = "D0"

	m := NewManager(testRunner(api, st), logrus.NewEntry(logrus.New()))

	done := make(chan error, 1)
	go func() {
		done <- m.RunIncremental(context.Background(), testAccount())
	}()

	// Wait for the first cycle to hold the account slot.
	require.Eventually(t, func() bool {
		return m.IsRunning("acct-1")
	}, time.Second, time.Millisecond)

	err := m.RunIncremental(context.Background(), testAccount())
	require.ErrorIs(t, err, ErrSyncRunning)

	// A different account is unaffected.
	assert.False(t, m.IsRunning("acct-2"))

	close(gate)
	require.NoError(t, <-done)
	assert.False(t, m.IsRunning("acct-1"))
}

package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaszengool/puppydiary-sub001/internal/protocol"
	"github.com/lucaszengool/puppydiary-sub001/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []BalanceEvent
}

func (n *recordingNotifier) Publish(ev BalanceEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func newTestLedger(t *testing.T) (*Ledger, *fakeClock, *recordingNotifier) {
	t.Helper()
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	cfg := DefaultConfig()
	cfg.PublicBaseURL = "https://petpo.example/"
	l := New(store.NewMemoryStore(), cfg, WithClock(clock.Now), WithNotifier(notifier))
	return l, clock, notifier
}

func TestLookupAccountDoesNotCreate(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.LookupAccount(ctx, "user_1")
	require.ErrorIs(t, err, ErrAccountNotFound)
	_, err = l.LookupAccount(ctx, "user_1")
	require.ErrorIs(t, err, ErrAccountNotFound)

	_, err = l.Consume(ctx, "user_1", 2)
	require.NoError(t, err)
	acct, err := l.LookupAccount(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), acct.Bones)
}

func TestSnapshotHoldsCurrentBalance(t *testing.T) {
	l, _, notifier := newTestLedger(t)
	ctx := context.Background()

	var seen int64
	require.NoError(t, l.Snapshot(ctx, "user_1", func(acct store.Account) { seen = acct.Bones }))
	assert.Equal(t, int64(5), seen)
	assert.Empty(t, notifier.events)

	require.Error(t, l.Snapshot(ctx, "", func(store.Account) { t.Fatal("fn must not run") }))
}

func TestGetBalanceCreatesDefaultOnce(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	acct, err := l.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), acct.Bones)
	assert.Nil(t, acct.LastShareReward)

	_, err = l.Consume(ctx, "user_1", 1)
	require.NoError(t, err)

	acct, err = l.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), acct.Bones, "second read must return the stored value, not a fresh default")
}

func TestConsumeScenario(t *testing.T) {
	l, _, notifier := newTestLedger(t)
	ctx := context.Background()

	res, err := l.Consume(ctx, "user_1", 3)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(2), res.Bones)

	res, err = l.Consume(ctx, "user_1", 3)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.False(t, res.Success)
	assert.Equal(t, int64(2), res.Bones)
	assert.Equal(t, protocol.ErrInsufficientBones, res.Code)

	acct, err := l.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), acct.Bones)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, protocol.ReasonConsume, notifier.events[0].Reason)
	assert.Equal(t, int64(2), notifier.events[0].Bones)
}

func TestConsumeRejectsBadInput(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	for _, amount := range []int64{0, -1} {
		_, err := l.Consume(ctx, "user_1", amount)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "amount", verr.Field)
		assert.ErrorIs(t, err, ErrValidation)
	}

	_, err := l.Consume(ctx, "", 1)
	require.ErrorIs(t, err, ErrValidation)
}

func TestConsumeNeverGoesNegative(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	amounts := []int64{2, 4, 1, 1, 3, 1, 1, 2}
	for _, a := range amounts {
		before, err := l.GetBalance(ctx, "user_1")
		require.NoError(t, err)

		res, err := l.Consume(ctx, "user_1", a)
		if before.Bones < a {
			require.ErrorIs(t, err, ErrInsufficientBalance)
			assert.Equal(t, before.Bones, res.Bones)
		} else {
			require.NoError(t, err)
			assert.Equal(t, before.Bones-a, res.Bones)
		}
		assert.GreaterOrEqual(t, res.Bones, int64(0))
	}
}

func TestConcurrentConsumeConservesBalance(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Consume(ctx, "user_1", 1)
			if err == nil && res.Success {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, successes)
	acct, err := l.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Bones)
}

func TestAwardShareRewardOncePerWindow(t *testing.T) {
	l, clock, notifier := newTestLedger(t)
	ctx := context.Background()

	res, err := l.AwardShareReward(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(6), res.Bones)

	clock.Advance(23 * time.Hour)
	res, err = l.AwardShareReward(ctx, "user_1")
	require.NoError(t, err, "a repeat claim is an outcome, not an error")
	assert.False(t, res.Success)
	assert.Equal(t, protocol.ErrRewardAlreadyClaimed, res.Code)
	assert.Equal(t, int64(6), res.Bones)
	assert.Contains(t, res.Message, "1h")

	clock.Advance(time.Hour)
	res, err = l.AwardShareReward(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(7), res.Bones)

	acct, err := l.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	require.NotNil(t, acct.LastShareReward)
	assert.True(t, acct.LastShareReward.Equal(clock.Now()))

	require.Len(t, notifier.events, 2)
	assert.Equal(t, protocol.ReasonShareReward, notifier.events[1].Reason)
}

func TestShareRecordLifecycle(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	rec, err := l.CreateShareRecord(ctx, ShareInput{
		UserID:   "u",
		ImageURL: "https://x/img.png",
		Title:    "Title",
		Style:    "ghibli",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.ViewCount)
	assert.Len(t, rec.ShareID, 24)
	assert.Equal(t, "https://petpo.example/share/"+rec.ShareID, rec.ShareURL)
	assert.Equal(t, "ghibli pet portrait", rec.Description)

	got, err := l.GetShareRecord(ctx, rec.ShareID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ViewCount)
	assert.Equal(t, "Title", got.Title)

	_, err = l.GetShareRecord(ctx, "nope")
	require.ErrorIs(t, err, ErrShareNotFound)
	_, err = l.GetShareRecord(ctx, "")
	require.ErrorIs(t, err, ErrShareNotFound)
}

func TestCreateShareRecordValidation(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    ShareInput
		field string
	}{
		{"missing image", ShareInput{UserID: "u", Title: "t", Style: "s"}, "imageUrl"},
		{"blank title", ShareInput{UserID: "u", ImageURL: "i", Title: "  ", Style: "s"}, "title"},
		{"missing style", ShareInput{UserID: "u", ImageURL: "i", Title: "t"}, "style"},
		{"missing user", ShareInput{ImageURL: "i", Title: "t", Style: "s"}, "userId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.CreateShareRecord(ctx, tt.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestShareIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := newShareID()
		require.False(t, seen[id])
		seen[id] = true
	}
}

type failingStore struct {
	*store.MemoryStore
	err error
}

func (f *failingStore) LoadAccount(ctx context.Context, userID string) (store.Account, error) {
	return store.Account{}, f.err
}

func TestStoreFailureSurfaces(t *testing.T) {
	boom := errors.New("connection refused")
	l := New(&failingStore{MemoryStore: store.NewMemoryStore(), err: boom}, DefaultConfig())
	ctx := context.Background()

	_, err := l.GetBalance(ctx, "u")
	require.ErrorIs(t, err, boom)

	_, err = l.Consume(ctx, "u", 1)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInsufficientBalance)

	_, err = l.AwardShareReward(ctx, "u")
	require.ErrorIs(t, err, boom)
}

package tab_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/election-session/activity"
	"github.com/jrsteele09/election-session/credentials"
	"github.com/jrsteele09/election-session/crosstab"
	"github.com/jrsteele09/election-session/events"
	"github.com/jrsteele09/election-session/expiry"
	"github.com/jrsteele09/election-session/gateway/fakegateway"
	"github.com/jrsteele09/election-session/internal/clock/fakeclock"
	"github.com/jrsteele09/election-session/internal/config"
	"github.com/jrsteele09/election-session/internal/errors"
	"github.com/jrsteele09/election-session/sessions"
	"github.com/jrsteele09/election-session/tab"
	"github.com/jrsteele09/election-session/timers"
	"github.com/jrsteele09/election-session/users"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "results@elections.example"
	testPassword = "s3cret-p4ss"
)

var epoch = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

// countingChannel records every publish made on the shared hub.
type countingChannel struct {
	*crosstab.LocalHub
	mu        sync.Mutex
	published []crosstab.Signal
}

func (c *countingChannel) Publish(ctx context.Context, sig crosstab.Signal) error {
	c.mu.Lock()
	c.published = append(c.published, sig)
	c.mu.Unlock()
	return c.LocalHub.Publish(ctx, sig)
}

func (c *countingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

type testFixture struct {
	clock   *fakeclock.Clock
	gateway *fakegateway.Gateway
	store   credentials.Store
	channel *countingChannel
	cfg     config.SessionConfig
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	c := fakeclock.New(epoch)
	g := fakegateway.New(fakegateway.WithClock(c))
	_, err := g.AddUser(testEmail, testPassword, users.Principal{
		Role:   users.RoleResultsPublisher,
		Status: users.StatusActive,
	})
	require.NoError(t, err)

	return &testFixture{
		clock:   c,
		gateway: g,
		store:   credentials.NewMemoryStore(),
		channel: &countingChannel{LocalHub: crosstab.NewLocalHub()},
		cfg:     config.Session{},
	}
}

type openedTab struct {
	*tab.Tab
	feed    *activity.Feed
	mu      sync.Mutex
	expired []events.SessionExpired
}

func (o *openedTab) expiredEvents() []events.SessionExpired {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]events.SessionExpired(nil), o.expired...)
}

func (f *testFixture) open(t *testing.T, id string) *openedTab {
	t.Helper()
	feed := activity.NewFeed()
	tb, err := tab.Open(context.Background(), f.cfg, tab.Deps{
		Gateway: f.gateway,
		Store:   f.store,
		Channel: f.channel,
		Clock:   f.clock,
		ID:      id,
	}, feed)
	require.NoError(t, err)
	t.Cleanup(tb.Close)

	o := &openedTab{Tab: tb, feed: feed}
	tb.Events.Subscribe(func(e events.SessionExpired) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.expired = append(o.expired, e)
	})
	return o
}

func TestOpen_Validation(t *testing.T) {
	_, err := tab.Open(context.Background(), nil, tab.Deps{})
	require.Error(t, err)
	_, err = tab.Open(context.Background(), config.Session{}, tab.Deps{})
	require.Error(t, err)
}

func TestCrossTab_LogoutConvergesWithoutRebroadcast(t *testing.T) {
	f := setupTestFixture(t)
	a := f.open(t, "tab-a")
	require.NoError(t, a.Manager.Login(context.Background(), testEmail, testPassword))

	// The second tab shares the credential store and picks the session up.
	b := f.open(t, "tab-b")
	require.True(t, b.Manager.IsAuthenticated())

	require.NoError(t, a.Manager.Logout(context.Background()))

	require.False(t, a.Manager.IsAuthenticated())
	require.False(t, b.Manager.IsAuthenticated())
	require.False(t, b.Timers.Running())
	require.Equal(t, 1, f.channel.count(), "only the originating tab broadcasts")
	require.Equal(t, 1, f.gateway.Calls(fakegateway.OpLogout))
	require.Empty(t, b.expiredEvents())
	require.Equal(t, 0, f.clock.Pending())
}

func TestCrossTab_InactivityExpiryConverges(t *testing.T) {
	f := setupTestFixture(t)
	a := f.open(t, "tab-a")
	require.NoError(t, a.Manager.Login(context.Background(), testEmail, testPassword))
	b := f.open(t, "tab-b")

	// The user keeps working in tab b only.
	f.clock.Advance(10 * time.Minute)
	b.feed.Publish(activity.Event{Kind: activity.KindKeyPress})

	f.clock.Advance(20 * time.Minute)

	require.False(t, a.Manager.IsAuthenticated())
	require.False(t, b.Manager.IsAuthenticated())
	require.Equal(t, 1, f.channel.count())

	gotA := a.expiredEvents()
	require.Len(t, gotA, 1)
	require.Equal(t, events.ReasonUserInactivity, gotA[0].Reason)
	gotB := b.expiredEvents()
	require.Len(t, gotB, 1)
	require.Equal(t, events.ReasonUnknown, gotB[0].Reason)

	require.Equal(t, expiry.PhaseExpired, a.Notifier.Status().Phase)
	require.Equal(t, expiry.PhaseExpired, b.Notifier.Status().Phase)
	require.Equal(t, 0, f.clock.Pending())
}

func TestActivity_ThrottledResetsThroughTab(t *testing.T) {
	f := setupTestFixture(t)
	a := f.open(t, "tab-a")
	require.NoError(t, a.Manager.Login(context.Background(), testEmail, testPassword))

	f.clock.Advance(10 * time.Minute)
	for i := 0; i < 50; i++ {
		a.feed.Publish(activity.Event{Kind: activity.KindPointerPress})
		f.clock.Advance(20 * time.Millisecond)
	}

	deadline, ok := a.Manager.InactivityDeadline()
	require.True(t, ok)
	require.Equal(t, epoch.Add(40*time.Minute), deadline, "only the first event of the burst resets")
}

func TestWarningThenReconnect(t *testing.T) {
	f := setupTestFixture(t)
	a := f.open(t, "tab-a")
	require.NoError(t, a.Manager.Login(context.Background(), testEmail, testPassword))

	f.clock.Advance(25 * time.Minute)
	st := a.Notifier.Evaluate()
	require.Equal(t, expiry.PhaseWarning, st.Phase)
	require.Equal(t, 300*time.Second, st.Remaining)

	require.NoError(t, a.Notifier.Extend(context.Background()))
	st = a.Notifier.Status()
	require.Equal(t, expiry.PhaseNormal, st.Phase)
	require.Equal(t, 30*time.Minute, st.Remaining)

	f.clock.Advance(24 * time.Minute)
	require.Equal(t, expiry.PhaseNormal, a.Notifier.Evaluate().Phase)

	f.clock.Advance(5*time.Minute + 59*time.Second)
	require.True(t, a.Manager.IsAuthenticated())
	require.Empty(t, a.expiredEvents())
}

func TestExtend_FailureForcesExpiry(t *testing.T) {
	f := setupTestFixture(t)
	a := f.open(t, "tab-a")
	require.NoError(t, a.Manager.Login(context.Background(), testEmail, testPassword))

	f.clock.Advance(26 * time.Minute)
	require.Equal(t, expiry.PhaseWarning, a.Notifier.Evaluate().Phase)
	f.gateway.SetError(fakegateway.OpRefresh, errors.ErrTransient)
	require.Error(t, a.Notifier.Extend(context.Background()))

	require.False(t, a.Manager.IsAuthenticated())
	got := a.expiredEvents()
	require.Len(t, got, 1)
	require.Equal(t, events.ReasonTokenRefreshFailed, got[0].Reason)
	require.Equal(t, expiry.PhaseExpired, a.Notifier.Status().Phase)
}

// blockRefresh holds the next refresh call at the gateway until release is
// closed.
func (f *testFixture) blockRefresh() (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	blocked := f.gateway.Calls(fakegateway.OpRefresh) + 1
	f.gateway.SetHook(fakegateway.OpRefresh, func(_ context.Context, n int) {
		if n == blocked {
			close(entered)
			<-release
		}
	})
	return entered, release
}

func TestExtend_OverlappingPeriodicRefresh(t *testing.T) {
	requireExtended := func(t *testing.T, f *testFixture, a *openedTab) {
		t.Helper()
		require.True(t, a.Manager.IsAuthenticated())
		require.True(t, f.store.HasCredential())
		require.Equal(t, expiry.PhaseNormal, a.Notifier.Status().Phase)
		require.Empty(t, a.expiredEvents())
		deadline, ok := a.Manager.InactivityDeadline()
		require.True(t, ok)
		require.Equal(t, f.clock.Now().Add(30*time.Minute), deadline)
	}

	t.Run("refresh issued while extend is in flight", func(t *testing.T) {
		f := setupTestFixture(t)
		a := f.open(t, "tab-a")
		ctx := context.Background()
		require.NoError(t, a.Manager.Login(ctx, testEmail, testPassword))
		f.clock.Advance(26 * time.Minute)
		require.Equal(t, expiry.PhaseWarning, a.Notifier.Evaluate().Phase)

		entered, release := f.blockRefresh()
		extended := make(chan error, 1)
		go func() { extended <- a.Notifier.Extend(ctx) }()
		<-entered

		require.NoError(t, a.Manager.HandleTrigger(ctx, timers.TriggerRefresh))
		close(release)

		require.NoError(t, <-extended)
		requireExtended(t, f, a)
	})

	t.Run("extend issued while refresh is in flight", func(t *testing.T) {
		f := setupTestFixture(t)
		a := f.open(t, "tab-a")
		ctx := context.Background()
		require.NoError(t, a.Manager.Login(ctx, testEmail, testPassword))
		f.clock.Advance(26 * time.Minute)
		require.Equal(t, expiry.PhaseWarning, a.Notifier.Evaluate().Phase)

		entered, release := f.blockRefresh()
		refreshed := make(chan error, 1)
		go func() { refreshed <- a.Manager.HandleTrigger(ctx, timers.TriggerRefresh) }()
		<-entered

		require.NoError(t, a.Notifier.Extend(ctx))
		close(release)

		require.NoError(t, <-refreshed, "the superseded periodic answer is dropped quietly")
		requireExtended(t, f, a)
	})
}

func TestClose_ReleasesEverything(t *testing.T) {
	f := setupTestFixture(t)
	a := f.open(t, "tab-a")
	require.NoError(t, a.Manager.Login(context.Background(), testEmail, testPassword))
	require.Equal(t, 1, f.channel.Subscribers())
	require.Equal(t, 1, a.feed.Listeners())

	a.Close()
	a.Close()

	require.Equal(t, 0, f.channel.Subscribers())
	require.Equal(t, 0, a.feed.Listeners())
	require.False(t, a.Timers.Running())
	require.True(t, f.store.HasCredential(), "closing a tab is not a logout")
	require.Equal(t, sessions.StateAuthenticated, a.Manager.State())
}

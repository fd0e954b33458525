// Package tab assembles the session components of one browsing context and
// owns their teardown.
package tab

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/election-session/activity"
	"github.com/jrsteele09/election-session/credentials"
	"github.com/jrsteele09/election-session/crosstab"
	"github.com/jrsteele09/election-session/events"
	"github.com/jrsteele09/election-session/expiry"
	"github.com/jrsteele09/election-session/gateway"
	"github.com/jrsteele09/election-session/internal/clock"
	"github.com/jrsteele09/election-session/internal/config"
	"github.com/jrsteele09/election-session/internal/errors"
	"github.com/jrsteele09/election-session/sessions"
	"github.com/jrsteele09/election-session/timers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Deps holds what a tab shares with the outside world. Gateway and Store
// are required; a nil Channel gives a tab that is alone.
type Deps struct {
	Gateway   gateway.Gateway
	Store     credentials.Store
	Channel   crosstab.Channel
	Clock     clock.Clock
	Navigator sessions.Navigator
	Logger    *zerolog.Logger
	// ID names the tab in logs and cross-tab signals; generated when empty.
	ID string
}

// Tab is one browsing context.
type Tab struct {
	ID       string
	Manager  *sessions.Manager
	Timers   *timers.Coordinator
	Monitor  *activity.Monitor
	Sync     *crosstab.Synchronizer
	Notifier *expiry.Notifier
	Events   *events.Bus

	log       zerolog.Logger
	mu        sync.Mutex
	teardowns []func()
	closed    bool
}

// Open wires a tab, attaches the activity sources and resolves the start
// state through Manager.Init.
func Open(ctx context.Context, cfg config.SessionConfig, deps Deps, sources ...activity.Source) (*Tab, error) {
	if cfg == nil {
		return nil, errors.New("[tab.Open] config is required")
	}
	if deps.Gateway == nil || deps.Store == nil {
		return nil, errors.New("[tab.Open] gateway and store are required")
	}

	id := deps.ID
	if id == "" {
		id = uuid.NewString()
	}
	base := log.Logger
	if deps.Logger != nil {
		base = *deps.Logger
	}
	base = base.With().Str("tab", id).Logger()
	component := func(name string) zerolog.Logger {
		return base.With().Str("component", name).Logger()
	}
	clk := clock.OrDefault(deps.Clock)

	t := &Tab{ID: id, Events: events.NewBus(), log: component("tab")}

	var err error
	t.Timers, err = timers.New(timers.Intervals{
		Refresh:    cfg.GetRefreshInterval(),
		Verify:     cfg.GetVerifyInterval(),
		Inactivity: cfg.GetInactivityTimeout(),
	}, func(ctx context.Context, tr timers.Trigger) error {
		return t.Manager.HandleTrigger(ctx, tr)
	},
		timers.WithClock(clk),
		timers.WithLogger(component("timers")),
		timers.WithCallTimeout(cfg.GetCallTimeout()),
	)
	if err != nil {
		return nil, err
	}

	options := []sessions.Option{
		sessions.WithClock(clk),
		sessions.WithLogger(component("sessions")),
		sessions.WithDispatcher(t.Events),
		sessions.WithRefreshSkew(cfg.GetRefreshSkew()),
	}
	if deps.Navigator != nil {
		options = append(options, sessions.WithNavigator(deps.Navigator))
	}
	if deps.Channel != nil {
		t.Sync, err = crosstab.NewSynchronizer(deps.Channel,
			crosstab.WithTabID(id),
			crosstab.WithClock(clk),
			crosstab.WithDebounce(cfg.GetCrossTabDebounce()),
			crosstab.WithLogger(component("crosstab")),
		)
		if err != nil {
			return nil, err
		}
		options = append(options, sessions.WithBroadcaster(t.Sync))
	}

	t.Manager, err = sessions.NewManager(sessions.Deps{
		Gateway: deps.Gateway,
		Store:   deps.Store,
		Timers:  t.Timers,
	}, options...)
	if err != nil {
		return nil, err
	}

	t.Notifier, err = expiry.NewNotifier(t.Manager,
		expiry.WithClock(clk),
		expiry.WithLogger(component("expiry")),
		expiry.WithWarningLead(cfg.GetExpiryWarningLead()),
		expiry.WithReconnectTTL(cfg.GetReconnectMarkerTTL()),
	)
	if err != nil {
		return nil, err
	}

	t.Monitor = activity.NewMonitor(t.Timers, cfg.GetActivityThrottle(), cfg.GetLongAbsenceThreshold(),
		activity.WithClock(clk),
		activity.WithLogger(component("activity")),
	)

	if t.Sync != nil {
		teardown, err := t.Sync.Activate(t.Manager)
		if err != nil {
			return nil, err
		}
		t.teardowns = append(t.teardowns, teardown)
	}
	t.teardowns = append(t.teardowns, t.Notifier.Watch(t.Events, t.Manager))
	t.teardowns = append(t.teardowns, t.Monitor.Activate(sources...))

	if err := t.Manager.Init(ctx); err != nil {
		t.Close()
		return nil, err
	}
	t.log.Debug().Stringer("state", t.Manager.State()).Msg("tab opened")
	return t, nil
}

// Close releases every listener and stops the timers. The session itself is
// left alone: closing a tab is not a logout.
func (t *Tab) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	teardowns := t.teardowns
	t.teardowns = nil
	t.mu.Unlock()

	for i := len(teardowns) - 1; i >= 0; i-- {
		teardowns[i]()
	}
	t.Timers.Stop()
	t.log.Debug().Msg("tab closed")
}

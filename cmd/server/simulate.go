package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/election-session/activity"
	"github.com/jrsteele09/election-session/credentials"
	"github.com/jrsteele09/election-session/crosstab"
	"github.com/jrsteele09/election-session/events"
	"github.com/jrsteele09/election-session/gateway/fakegateway"
	"github.com/jrsteele09/election-session/sessions"
	"github.com/jrsteele09/election-session/tab"
	"github.com/jrsteele09/election-session/users"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// simulationTimings compresses the session policy to seconds so the whole
// lifecycle plays out in under a minute.
type simulationTimings struct {
	inactivity time.Duration
}

func (s simulationTimings) GetRefreshInterval() time.Duration     { return s.inactivity / 3 }
func (s simulationTimings) GetVerifyInterval() time.Duration      { return s.inactivity / 4 }
func (s simulationTimings) GetInactivityTimeout() time.Duration   { return s.inactivity }
func (s simulationTimings) GetActivityThrottle() time.Duration    { return 200 * time.Millisecond }
func (s simulationTimings) GetLongAbsenceThreshold() time.Duration { return s.inactivity / 2 }
func (s simulationTimings) GetCrossTabDebounce() time.Duration    { return 200 * time.Millisecond }
func (s simulationTimings) GetReconnectMarkerTTL() time.Duration  { return time.Second }
func (s simulationTimings) GetExpiryWarningLead() time.Duration   { return s.inactivity / 3 }
func (s simulationTimings) GetRefreshSkew() time.Duration         { return time.Second }
func (s simulationTimings) GetCallTimeout() time.Duration         { return time.Second }

const (
	simulationEmail    = "admin@elections.example"
	simulationPassword = "simulation"
)

var simulateInactivity time.Duration

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Play two tabs sharing one session against an in-memory gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		return runSimulation(cmd.Context(), simulationTimings{inactivity: simulateInactivity})
	},
}

func init() {
	simulateCmd.Flags().DurationVar(&simulateInactivity, "inactivity", 6*time.Second, "compressed inactivity timeout")
}

type simulatedTab struct {
	*tab.Tab
	feed    *activity.Feed
	expired chan events.SessionExpired
}

func openSimulatedTab(ctx context.Context, timings simulationTimings, g *fakegateway.Gateway, store credentials.Store, hub *crosstab.LocalHub, name string) (*simulatedTab, error) {
	feed := activity.NewFeed()
	t, err := tab.Open(ctx, timings, tab.Deps{
		Gateway: g,
		Store:   store,
		Channel: hub,
		ID:      name,
		Navigator: sessions.NavigatorFunc(func(route string) {
			log.Info().Str("tab", name).Str("route", route).Msg("navigate")
		}),
	}, feed)
	if err != nil {
		return nil, err
	}
	st := &simulatedTab{Tab: t, feed: feed, expired: make(chan events.SessionExpired, 4)}
	t.Events.Subscribe(func(e events.SessionExpired) {
		log.Warn().Str("tab", name).Str("reason", string(e.Reason)).Msg("session expired")
		st.expired <- e
	})
	return st, nil
}

func runSimulation(ctx context.Context, timings simulationTimings) error {
	g := fakegateway.New(fakegateway.WithAccessTTL(timings.inactivity))
	if _, err := g.AddUser(simulationEmail, simulationPassword, users.Principal{
		Role:        users.RoleAdmin,
		Status:      users.StatusActive,
		DisplayName: "Simulation Admin",
	}); err != nil {
		return err
	}
	store := credentials.NewMemoryStore()
	hub := crosstab.NewLocalHub()

	log.Info().Msg("scenario 1: logout in one tab signs every tab out")
	a, err := openSimulatedTab(ctx, timings, g, store, hub, "tab-a")
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Manager.Login(ctx, simulationEmail, simulationPassword); err != nil {
		return err
	}
	b, err := openSimulatedTab(ctx, timings, g, store, hub, "tab-b")
	if err != nil {
		return err
	}
	if err := a.Manager.Logout(ctx); err != nil {
		return err
	}
	log.Info().Stringer("tab-a", a.Manager.State()).Stringer("tab-b", b.Manager.State()).Msg("after logout")
	b.Close()

	log.Info().Dur("inactivity", timings.inactivity).Msg("scenario 2: activity in one tab, inactivity expiry in both")
	if err := a.Manager.Login(ctx, simulationEmail, simulationPassword); err != nil {
		return err
	}
	b, err = openSimulatedTab(ctx, timings, g, store, hub, "tab-b")
	if err != nil {
		return err
	}
	defer b.Close()

	typing := time.NewTicker(timings.inactivity / 4)
	defer typing.Stop()
	stopTyping := time.After(timings.inactivity)
	for typed := false; !typed; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-typing.C:
			b.feed.Publish(activity.Event{Kind: activity.KindKeyPress})
		case <-stopTyping:
			typed = true
		}
	}
	log.Info().Msg("typing stopped in tab-b")

	deadline := time.After(2 * timings.inactivity)
	for _, st := range []*simulatedTab{a, b} {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("tab %s did not expire", st.ID)
		case e := <-st.expired:
			log.Info().Str("tab", st.ID).Str("reason", string(e.Reason)).Str("notice", string(st.Notifier.Status().Phase)).Msg("expiry observed")
		}
	}
	log.Info().Int("refreshes", g.Calls(fakegateway.OpRefresh)).Int("verifies", g.Calls(fakegateway.OpVerify)).Msg("simulation finished")
	return nil
}

// Package sessions is the session state machine of one browsing context.
//
// The Manager is the single owner of AuthState and the Principal. It drives
// the timer set, the credential store, the cross-tab broadcaster and the
// expiry event bus; none of those make a session decision on their own.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/election-session/credentials"
	"github.com/jrsteele09/election-session/crosstab"
	"github.com/jrsteele09/election-session/events"
	"github.com/jrsteele09/election-session/gateway"
	"github.com/jrsteele09/election-session/internal/clock"
	"github.com/jrsteele09/election-session/internal/errors"
	"github.com/jrsteele09/election-session/timers"
	"github.com/jrsteele09/election-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TimerSet is the part of timers.Coordinator the manager drives.
type TimerSet interface {
	Start()
	Reset()
	Stop()
	InactivityDeadline() (time.Time, bool)
}

// Broadcaster tells other tabs this one left the authenticated state.
type Broadcaster interface {
	Broadcast(ctx context.Context, kind crosstab.Kind) error
}

// Dispatcher publishes session-expired events.
type Dispatcher interface {
	Dispatch(e events.SessionExpired)
}

// Deps holds the required collaborators of a Manager.
type Deps struct {
	Gateway gateway.Gateway
	Store   credentials.Store
	Timers  TimerSet
}

// Manager is the session state machine.
type Manager struct {
	gateway     gateway.Gateway
	store       credentials.Store
	timers      TimerSet
	broadcaster Broadcaster
	dispatcher  Dispatcher
	navigator   Navigator
	clock       clock.Clock
	refreshSkew time.Duration
	log         zerolog.Logger

	mu            sync.Mutex
	state         AuthState
	principal     *users.Principal
	errMsg        string
	initialised   bool
	transitioning bool
	// epoch changes on every exit from AUTHENTICATED; a gateway answer
	// issued under an older epoch is stale.
	epoch         uint64
	refreshIssued uint64
	nextSub       uint64
	subs          map[uint64]func(Snapshot)
}

// Option configures a Manager.
type Option func(*Manager)

// WithBroadcaster sets the cross-tab broadcaster.
func WithBroadcaster(b Broadcaster) Option {
	return func(m *Manager) {
		m.broadcaster = b
	}
}

// WithDispatcher sets the session-expired event sink.
func WithDispatcher(d Dispatcher) Option {
	return func(m *Manager) {
		m.dispatcher = d
	}
}

// WithNavigator sets the navigation target.
func WithNavigator(n Navigator) Option {
	return func(m *Manager) {
		m.navigator = n
	}
}

// WithClock sets the clock (primarily for testing)
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithRefreshSkew sets how close to expiry EnsureValidCredential refreshes.
func WithRefreshSkew(d time.Duration) Option {
	return func(m *Manager) {
		m.refreshSkew = d
	}
}

// NewManager creates a manager in IDLE.
func NewManager(deps Deps, options ...Option) (*Manager, error) {
	if deps.Gateway == nil {
		return nil, errors.New("[NewManager] Gateway is required")
	}
	if deps.Store == nil {
		return nil, errors.New("[NewManager] Store is required")
	}
	if deps.Timers == nil {
		return nil, errors.New("[NewManager] Timers is required")
	}

	m := &Manager{
		gateway:     deps.Gateway,
		store:       deps.Store,
		timers:      deps.Timers,
		navigator:   noopNavigator{},
		clock:       clock.New(),
		refreshSkew: time.Minute,
		log:         log.Logger.With().Str("component", "sessions").Logger(),
		state:       StateIdle,
		subs:        make(map[uint64]func(Snapshot)),
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Init resolves the IDLE state at application start: LOADING then
// AUTHENTICATED when a credential is held and the profile fetch succeeds,
// UNAUTHENTICATED otherwise.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.initialised {
		m.mu.Unlock()
		return errors.ErrAlreadyInitialised
	}
	m.initialised = true

	if !m.store.HasCredential() {
		m.setStateLocked(StateUnauthenticated)
		snap := m.snapshotLocked()
		m.mu.Unlock()
		m.notify(snap)
		return nil
	}

	m.setStateLocked(StateLoading)
	epoch := m.epoch
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)

	p, err := m.gateway.GetProfile(ctx)
	if err == nil {
		err = p.Validate()
		if err != nil {
			err = errors.Wrap(errors.ErrMalformedResponse, err.Error())
		}
	}

	m.mu.Lock()
	if epoch != m.epoch || m.state != StateLoading {
		m.mu.Unlock()
		return errors.ErrStaleResponse
	}
	if err != nil {
		m.setStateLocked(StateUnauthenticated)
		snap = m.snapshotLocked()
		m.mu.Unlock()
		m.log.Info().Str("kind", errors.KindOf(err).String()).Err(err).Msg("stored credential rejected at start")
		m.notify(snap)
		return nil
	}
	m.principal = p.Clone()
	m.setStateLocked(StateAuthenticated)
	m.timers.Start()
	snap = m.snapshotLocked()
	m.mu.Unlock()

	m.log.Info().Str("principal", p.ID).Msg("session restored")
	m.notify(snap)
	return nil
}

// Login authenticates with the gateway. It is only allowed while
// unauthenticated; a failure never touches an existing session.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	m.mu.Lock()
	if m.transitioning {
		m.mu.Unlock()
		return errors.ErrTransitionInFlight
	}
	switch m.state {
	case StateLoading:
		m.mu.Unlock()
		return errors.ErrLoginInProgress
	case StateAuthenticated:
		m.mu.Unlock()
		return errors.ErrAlreadyAuthenticated
	}
	m.initialised = true
	m.errMsg = ""
	m.setStateLocked(StateLoading)
	epoch := m.epoch
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)

	res, err := m.gateway.Login(ctx, email, password)
	if err == nil {
		err = res.ValidateLogin()
	}

	m.mu.Lock()
	if epoch != m.epoch || m.state != StateLoading {
		m.mu.Unlock()
		return errors.ErrStaleResponse
	}
	if err == nil {
		err = m.store.SetCredentials(res.AccessCredential, res.RefreshCredential, credentials.AttributesOf(res.Principal))
	}
	if err != nil {
		m.errMsg = errors.UserMessage(err)
		m.setStateLocked(StateError)
		snap = m.snapshotLocked()
		m.mu.Unlock()
		m.log.Info().Str("kind", errors.KindOf(err).String()).Msg("login failed")
		m.notify(snap)
		return errors.Wrap(err, "[Manager.Login]")
	}
	m.principal = res.Principal.Clone()
	m.setStateLocked(StateAuthenticated)
	m.timers.Start()
	snap = m.snapshotLocked()
	m.mu.Unlock()

	m.log.Info().Str("principal", res.Principal.ID).Msg("logged in")
	m.notify(snap)
	m.navigator.Navigate(RouteLanding)
	return nil
}

// Logout ends the session on explicit user request. Other tabs are told
// through a logout signal; no session-expired event is raised.
func (m *Manager) Logout(ctx context.Context) error {
	return m.expire(ctx, exit{broadcast: crosstab.KindLogout, callGateway: true})
}

// ExpireNow forces the session out with reason. Other tabs are told through
// an unauthorized signal and a session-expired event is raised.
func (m *Manager) ExpireNow(ctx context.Context, reason events.Reason) error {
	return m.expire(ctx, exit{
		reason:      reason,
		broadcast:   crosstab.KindUnauthorized,
		callGateway: true,
		dispatch:    true,
	})
}

// ApplyRemoteSignal runs the logout path for a decision taken by another
// tab. Nothing is re-broadcast and the gateway is not called again.
func (m *Manager) ApplyRemoteSignal(ctx context.Context, sig crosstab.Signal) bool {
	ex := exit{reason: events.ReasonUnknown}
	if sig.Kind == crosstab.KindUnauthorized {
		ex.dispatch = true
	}
	err := m.expire(ctx, ex)
	if err != nil {
		m.log.Debug().Err(err).Msg("remote signal not applied")
		return false
	}
	return true
}

// Refresh performs a silent refresh. Only the most recently issued refresh
// may write credentials; an answer from an older one, or one arriving after
// the session ended, returns ErrStaleResponse and changes nothing. A failed
// refresh leaves the session as it was.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateAuthenticated || m.transitioning {
		m.mu.Unlock()
		return errors.ErrNotAuthenticated
	}
	refresh, ok := m.store.RefreshCredential()
	if !ok {
		m.mu.Unlock()
		return errors.ErrNoRefreshCredential
	}
	m.refreshIssued++
	seq := m.refreshIssued
	epoch := m.epoch
	m.mu.Unlock()

	res, err := m.gateway.Refresh(ctx, refresh)
	if err == nil {
		err = res.ValidateRefresh()
	}

	m.mu.Lock()
	if epoch != m.epoch || m.state != StateAuthenticated || seq != m.refreshIssued {
		m.mu.Unlock()
		return errors.ErrStaleResponse
	}
	if err != nil {
		m.mu.Unlock()
		return errors.Wrap(err, "[Manager.Refresh]")
	}
	if err := m.store.SetCredentials(res.AccessCredential, res.RefreshCredential, credentials.AttributesOf(res.Principal)); err != nil {
		m.mu.Unlock()
		return errors.Wrap(err, "[Manager.Refresh] store credentials")
	}
	m.principal = res.Principal.Clone()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Debug().Msg("credentials refreshed")
	m.notify(snap)
	return nil
}

// Extend refreshes and, on success, restarts the inactivity countdown.
// A refresh issued while the extend was in flight supersedes its answer; the
// session was still renewed, so that counts as success.
func (m *Manager) Extend(ctx context.Context) error {
	err := m.Refresh(ctx)
	if errors.Is(err, errors.ErrStaleResponse) && m.IsAuthenticated() {
		m.log.Debug().Msg("extend answer superseded by a newer refresh")
		err = nil
	}
	if err != nil {
		return err
	}
	m.timers.Reset()
	return nil
}

// Verify asks the gateway whether the session is still valid. A negative or
// authoritative failing answer forces expiry; a transient failure is
// returned and the session kept.
func (m *Manager) Verify(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateAuthenticated || m.transitioning {
		m.mu.Unlock()
		return nil
	}
	epoch := m.epoch
	m.mu.Unlock()

	valid, err := m.gateway.Verify(ctx)
	if err != nil && errors.IsTransient(err) {
		return errors.Wrap(err, "[Manager.Verify]")
	}
	if err == nil && valid {
		return nil
	}

	m.log.Info().Err(err).Msg("session rejected by verify")
	err = m.expire(ctx, exit{
		reason:      events.ReasonTokenRefreshFailed,
		broadcast:   crosstab.KindUnauthorized,
		callGateway: true,
		dispatch:    true,
		onlyEpoch:   true,
		epoch:       epoch,
	})
	if errors.Is(err, errors.ErrStaleResponse) || errors.Is(err, errors.ErrNotAuthenticated) {
		return nil
	}
	return err
}

// EnsureValidCredential guarantees a usable access credential before a
// critical action, refreshing when it is missing or about to expire.
// Unlike the silent refresh, failure here ends the session.
func (m *Manager) EnsureValidCredential(ctx context.Context) error {
	if !m.IsAuthenticated() {
		return errors.ErrNotAuthenticated
	}
	exp, err := credentials.AccessExpiry(m.store)
	if err == nil && m.clock.Now().Add(m.refreshSkew).Before(exp) {
		return nil
	}

	err = m.Refresh(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errors.ErrStaleResponse), errors.Is(err, errors.ErrNotAuthenticated):
		return err
	}

	m.log.Info().Err(err).Msg("credential could not be renewed before a critical action")
	if expErr := m.ExpireNow(ctx, events.ReasonTokenRefreshFailed); expErr != nil && !errors.Is(expErr, errors.ErrNotAuthenticated) {
		m.log.Warn().Err(expErr).Msg("forced expiry did not run")
	}
	return errors.Wrap(errors.ErrSessionExpired, err.Error())
}

// HandleTrigger routes a timer firing. It is the timers.Handler of the tab.
func (m *Manager) HandleTrigger(ctx context.Context, t timers.Trigger) error {
	switch t {
	case timers.TriggerRefresh:
		err := m.Refresh(ctx)
		if errors.Is(err, errors.ErrStaleResponse) || errors.Is(err, errors.ErrNotAuthenticated) {
			return nil
		}
		return err
	case timers.TriggerVerify:
		return m.Verify(ctx)
	case timers.TriggerInactivity:
		err := m.ExpireNow(ctx, events.ReasonUserInactivity)
		if errors.Is(err, errors.ErrNotAuthenticated) || errors.Is(err, errors.ErrTransitionInFlight) {
			return nil
		}
		return err
	}
	return errors.Errorf("[Manager.HandleTrigger] unknown trigger %v", t)
}

// IsAuthenticated reports whether the tab holds a principal.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateAuthenticated && m.principal != nil
}

// HasRole is an exact role check; false while no principal is held.
func (m *Manager) HasRole(role users.RoleType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.principal.HasRole(role)
}

// Principal returns a copy of the current principal, or nil.
func (m *Manager) Principal() *users.Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.principal.Clone()
}

// State returns the current authentication state.
func (m *Manager) State() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the session for rendering.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// InactivityDeadline returns when the inactivity timer fires.
func (m *Manager) InactivityDeadline() (time.Time, bool) {
	return m.timers.InactivityDeadline()
}

// Subscribe registers fn for every state change. fn runs outside the
// manager lock and may call back into the manager.
func (m *Manager) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// exit describes one way out of AUTHENTICATED.
type exit struct {
	reason      events.Reason
	broadcast   crosstab.Kind
	callGateway bool
	dispatch    bool
	// onlyEpoch aborts the exit when the session changed since epoch.
	onlyEpoch bool
	epoch     uint64
}

// expire is the logout path. The guard flag makes it the only transition
// in flight; every other operation sees ErrTransitionInFlight or
// ErrNotAuthenticated until it completes.
func (m *Manager) expire(ctx context.Context, ex exit) error {
	m.mu.Lock()
	if m.transitioning {
		m.mu.Unlock()
		return errors.ErrTransitionInFlight
	}
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return errors.ErrNotAuthenticated
	}
	if ex.onlyEpoch && ex.epoch != m.epoch {
		m.mu.Unlock()
		return errors.ErrStaleResponse
	}
	m.transitioning = true
	m.epoch++
	m.timers.Stop()
	principalID := m.principal.ID
	m.mu.Unlock()

	if ex.callGateway {
		if err := m.gateway.Logout(ctx); err != nil {
			m.log.Warn().Str("kind", errors.KindOf(err).String()).Err(err).Msg("gateway logout failed, clearing local session anyway")
		}
	}
	if err := m.store.ClearCredentials(); err != nil {
		m.log.Error().Err(err).Msg("failed to clear credentials")
	}

	m.mu.Lock()
	m.principal = nil
	m.errMsg = ""
	m.setStateLocked(StateUnauthenticated)
	m.mu.Unlock()

	if ex.broadcast != "" && m.broadcaster != nil {
		if err := m.broadcaster.Broadcast(ctx, ex.broadcast); err != nil {
			m.log.Warn().Err(err).Msg("cross-tab broadcast failed")
		}
	}
	if ex.dispatch && m.dispatcher != nil {
		m.dispatcher.Dispatch(events.NewSessionExpired(ex.reason, m.clock.Now(), principalID))
	}

	m.mu.Lock()
	m.transitioning = false
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if ex.dispatch {
		m.log.Info().Str("reason", string(ex.reason)).Str("principal", principalID).Msg("session expired")
	} else {
		m.log.Info().Str("principal", principalID).Msg("logged out")
	}
	m.notify(snap)
	m.navigator.Navigate(RouteLogin)
	return nil
}

func (m *Manager) setStateLocked(to AuthState) {
	if !canTransition(m.state, to) {
		m.log.Warn().Stringer("from", m.state).Stringer("to", to).Msg("unexpected state transition")
	}
	m.state = to
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		State:         m.state,
		Principal:     m.principal.Clone(),
		Error:         m.errMsg,
		Transitioning: m.transitioning,
	}
}

func (m *Manager) notify(snap Snapshot) {
	m.mu.Lock()
	fns := make([]func(Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

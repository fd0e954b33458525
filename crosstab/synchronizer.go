package crosstab

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/election-session/debounce"
	"github.com/jrsteele09/election-session/internal/clock"
	"github.com/jrsteele09/election-session/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Receiver is the local session a Synchronizer drives.
type Receiver interface {
	IsAuthenticated() bool
	// ApplyRemoteSignal runs the logout path without re-broadcasting. It
	// reports whether a transition happened.
	ApplyRemoteSignal(ctx context.Context, sig Signal) bool
}

// Synchronizer publishes this tab's logout decisions and applies those of
// the other tabs.
type Synchronizer struct {
	channel  Channel
	tabID    string
	clock    clock.Clock
	debounce time.Duration
	log      *zerolog.Logger
	received *debounce.Throttle
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock sets the clock (primarily for testing)
func WithClock(c clock.Clock) Option {
	return func(s *Synchronizer) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Synchronizer) {
		s.log = &l
	}
}

// WithDebounce sets the window within which a second received signal is
// dropped.
func WithDebounce(d time.Duration) Option {
	return func(s *Synchronizer) {
		s.debounce = d
	}
}

// WithTabID overrides the generated tab identifier.
func WithTabID(id string) Option {
	return func(s *Synchronizer) {
		s.tabID = id
	}
}

func NewSynchronizer(ch Channel, options ...Option) (*Synchronizer, error) {
	if ch == nil {
		return nil, errors.New("[crosstab.NewSynchronizer] channel is required")
	}
	s := &Synchronizer{
		channel:  ch,
		tabID:    uuid.NewString(),
		clock:    clock.New(),
		debounce: 2 * time.Second,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.log == nil {
		l := log.Logger.With().Str("component", "crosstab").Str("tab", s.tabID).Logger()
		s.log = &l
	}
	s.received = debounce.NewThrottle(s.clock, s.debounce)
	return s, nil
}

// TabID identifies this tab as a signal origin.
func (s *Synchronizer) TabID() string {
	return s.tabID
}

// Broadcast tells the other tabs this tab has left the authenticated state.
func (s *Synchronizer) Broadcast(ctx context.Context, kind Kind) error {
	sig := Signal{
		Key:    LogoutKey,
		Value:  s.clock.Now().UnixMilli(),
		Kind:   kind,
		Origin: s.tabID,
	}
	if err := sig.Validate(); err != nil {
		return errors.Wrap(err, "[Synchronizer.Broadcast]")
	}
	if err := s.channel.Publish(ctx, sig); err != nil {
		return errors.Wrap(err, "[Synchronizer.Broadcast] publish")
	}
	return nil
}

// Activate subscribes r to the channel. The returned teardown is safe to
// call more than once.
func (s *Synchronizer) Activate(r Receiver) (teardown func(), err error) {
	release, err := s.channel.Subscribe(func(sig Signal) { s.handle(r, sig) })
	if err != nil {
		return nil, errors.Wrap(err, "[Synchronizer.Activate] subscribe")
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (s *Synchronizer) handle(r Receiver, sig Signal) {
	if err := sig.Validate(); err != nil {
		s.log.Debug().Err(err).Msg("ignoring foreign message")
		return
	}
	if sig.Origin == s.tabID {
		return
	}
	if !r.IsAuthenticated() {
		return
	}
	if !s.received.Allow() {
		s.log.Debug().Str("origin", sig.Origin).Msg("dropping signal inside debounce window")
		return
	}
	if r.ApplyRemoteSignal(context.Background(), sig) {
		s.log.Info().Str("origin", sig.Origin).Str("kind", string(sig.Kind)).Msg("session ended by another tab")
	}
}

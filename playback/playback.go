// Package playback loops a signal onto the pins in the background.
//
// At most one session runs at a time. Starting a session first stops the
// running one and waits for its goroutine to return, so two sessions
// never write to the pins concurrently.
package playback

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"

	"gregoryjjb/vgpio/pubsub"
	"gregoryjjb/vgpio/signals"
)

// plog returns the component logger. It is derived on every call so it
// follows changes to the global logger made after package init.
func plog() *zerolog.Logger {
	l := log.With().Str("component", "playback").Logger()
	return &l
}

var ErrInvalidDelay = errors.New("delay must be a positive number of seconds")

// Setter drives a single pin
type Setter interface {
	Set(pin int, value bool) (string, error)
}

type EventKind string

const (
	EventStarted EventKind = "started"
	EventSample  EventKind = "sample"
	EventStopped EventKind = "stopped"
	EventFailed  EventKind = "failed"
)

type Event struct {
	Kind   EventKind `json:"kind"`
	Signal string    `json:"signal"`
	Pin    int       `json:"pin"`
	Value  bool      `json:"value"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// Status describes the running session, if any
type Status struct {
	Active    bool          `json:"active"`
	Signal    string        `json:"signal,omitempty"`
	Delay     time.Duration `json:"delay,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
}

type session struct {
	signal    signals.Signal
	delay     time.Duration
	startedAt time.Time
	tomb      tomb.Tomb
}

type Engine struct {
	setter Setter
	events *pubsub.Pubsub[Event]

	// mu serializes session replacement
	mu      sync.Mutex
	session *session
}

func NewEngine(setter Setter) *Engine {
	return &Engine{
		setter: setter,
		events: pubsub.New[Event](64),
	}
}

// ParseDelay converts an operator supplied number of seconds.
func ParseDelay(seconds float64) (time.Duration, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDelay, seconds)
	}
	d := time.Duration(seconds * float64(time.Second))
	if d <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDelay, seconds)
	}
	return d, nil
}

// Start replaces any running session with one looping sig, pausing
// delay after every sample.
func (e *Engine) Start(sig signals.Signal, delay time.Duration) error {
	if delay <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDelay, delay)
	}
	if len(sig.Samples) == 0 {
		return fmt.Errorf("%w: %q has no samples", signals.ErrValidation, sig.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()

	s := &session{
		signal:    sig,
		delay:     delay,
		startedAt: time.Now(),
	}
	e.session = s
	s.tomb.Go(func() error {
		return e.loop(s)
	})

	return nil
}

// Stop ends the running session and waits for it to finish.
// It does nothing when no session is running.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()
}

func (e *Engine) stopLocked() {
	s := e.session
	if s == nil {
		return
	}
	e.session = nil

	s.tomb.Kill(nil)
	if err := s.tomb.Wait(); err != nil {
		plog().Debug().Err(err).Str("signal", s.signal.Name).Msg("Session had ended with error")
	}
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if s == nil || !s.tomb.Alive() {
		return Status{}
	}
	return Status{
		Active:    true,
		Signal:    s.signal.Name,
		Delay:     s.delay,
		StartedAt: s.startedAt,
	}
}

// Subscribe returns a channel of playback events and a function to cancel it
func (e *Engine) Subscribe() (func(), <-chan Event) {
	id, ch := e.events.Subscribe()
	return func() {
		e.events.Unsubscribe(id)
	}, ch
}

// Listeners is the number of live subscriptions
func (e *Engine) Listeners() int {
	return e.events.Len()
}

// Close stops any session and ends all subscriptions.
func (e *Engine) Close() {
	e.Stop()
	e.events.Close()
}

func (e *Engine) publish(kind EventKind, s *session, sample signals.Sample, err error) {
	ev := Event{
		Kind:   kind,
		Signal: s.signal.Name,
		Time:   time.Now(),
	}
	if kind == EventSample {
		ev.Pin = sample.Pin
		ev.Value = sample.Value
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.events.Publish(ev)
}

func (e *Engine) loop(s *session) error {
	name := s.signal.Name
	plog().Info().Str("signal", name).Str("delay", s.delay.String()).Msg("Looping signal")
	e.publish(EventStarted, s, signals.Sample{}, nil)

	cursor := signals.NewCursor(s.signal)

	for {
		// Cancellation is only observed between samples
		select {
		case <-s.tomb.Dying():
			plog().Info().Str("signal", name).Int("passes", cursor.Passes()).Msg("Stopped looping signal")
			e.publish(EventStopped, s, signals.Sample{}, nil)
			return nil
		default:
		}

		sample := cursor.Current()
		if _, err := e.setter.Set(sample.Pin, sample.Value); err != nil {
			plog().Err(err).Str("signal", name).Int("pin", sample.Pin).Msg("Playback write failed")
			e.publish(EventFailed, s, sample, err)
			return err
		}
		e.publish(EventSample, s, sample, nil)

		if cursor.Advance() {
			plog().Debug().Str("signal", name).Int("passes", cursor.Passes()).Msg("Signal wrapped")
		}

		timer := time.NewTimer(s.delay)
		select {
		case <-s.tomb.Dying():
			timer.Stop()
		case <-timer.C:
		}
	}
}

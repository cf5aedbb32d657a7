// Package dictation keeps transcript and listening state in sync with a
// recognition session.
package dictation

import (
	"strings"

	"bolo/recognition"
)

type State int

const (
	Idle State = iota
	Listening
)

func (s State) String() string {
	if s == Listening {
		return "listening"
	}
	return "idle"
}

type Option func(*Adapter)

// WithObserver registers fn to see every event the adapter applies.
func WithObserver(fn func(recognition.Event)) Option {
	return func(a *Adapter) { a.observe = fn }
}

// Adapter owns at most one recognition session. It is not safe for concurrent
// use: operations and Handle must run on the same event loop.
type Adapter struct {
	svc     recognition.Service
	cfg     recognition.Config
	observe func(recognition.Event)

	session   recognition.Session
	stoppedID string // results from this session still apply

	listening bool
	text      string
	err       *Error
	started   int
}

// New returns an adapter for svc. A nil svc means recognition is unsupported.
// cfg.Lang is passed through; the session always runs continuous with interim
// results.
func New(svc recognition.Service, cfg recognition.Config, opts ...Option) *Adapter {
	cfg.Continuous = true
	cfg.InterimResults = true
	a := &Adapter{svc: svc, cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Supported() bool { return a.svc != nil }
func (a *Adapter) Listening() bool { return a.listening }
func (a *Adapter) Text() string    { return a.text }
func (a *Adapter) Lang() string    { return a.cfg.Lang }

// Err returns the last recognition error, or nil.
func (a *Adapter) Err() *Error { return a.err }

func (a *Adapter) State() State {
	if a.listening {
		return Listening
	}
	return Idle
}

// Sessions reports how many sessions have been opened.
func (a *Adapter) Sessions() int { return a.started }

// Events returns the current session's event channel, or nil.
func (a *Adapter) Events() <-chan recognition.Event {
	if a.session == nil {
		return nil
	}
	return a.session.Events()
}

// StartListening opens a new session. It is a no-op, returning false, when
// recognition is unsupported, already listening, or a session is pending.
func (a *Adapter) StartListening() bool {
	if !a.Supported() || a.listening || a.session != nil {
		return false
	}
	s := a.svc.NewSession(a.cfg)
	a.session = s
	a.stoppedID = ""
	a.started++
	if err := s.Start(); err != nil {
		a.Handle(recognition.Event{
			Kind:      recognition.EventError,
			SessionID: s.ID(),
			Error:     recognition.CodeOf(err),
			Message:   err.Error(),
		})
		return false
	}
	return true
}

// StopListening asks the session to stop and lets go of it. Results it
// still delivers are applied until the text is reset or a new session starts.
func (a *Adapter) StopListening() {
	if a.session == nil {
		return
	}
	a.session.Stop()
	a.stoppedID = a.session.ID()
	a.session = nil
	a.listening = false
}

// ResetText stops listening and clears the transcript.
func (a *Adapter) ResetText() {
	a.StopListening()
	a.stoppedID = ""
	a.text = ""
}

// Close stops any open session. Call it when the consumer goes away.
func (a *Adapter) Close() {
	a.StopListening()
	a.stoppedID = ""
}

// Handle applies one recognition event and reports whether visible state
// changed. Events from sessions the adapter no longer owns are dropped.
func (a *Adapter) Handle(ev recognition.Event) bool {
	current := a.session != nil && ev.SessionID == a.session.ID()
	stopped := a.stoppedID != "" && ev.SessionID == a.stoppedID

	changed := false
	switch ev.Kind {
	case recognition.EventStart:
		if !current {
			return false
		}
		a.listening = true
		a.err = nil
		changed = true

	case recognition.EventResult:
		if !current && !stopped {
			return false
		}
		text := transcript(ev.Results)
		changed = text != a.text
		a.text = text

	case recognition.EventError:
		if !current {
			return false
		}
		a.err = newError(ev.Error)
		a.listening = false
		a.session = nil
		changed = true

	case recognition.EventEnd:
		if stopped {
			a.stoppedID = ""
		}
		if !current {
			return false
		}
		a.listening = false
		a.session = nil
		changed = true

	default:
		return false
	}

	if a.observe != nil {
		a.observe(ev)
	}
	return changed
}

// transcript joins the top alternative of every result, in order. The
// whole text is rebuilt each time so later alternatives replace earlier guesses.
func transcript(results []recognition.Result) string {
	var b strings.Builder
	for _, r := range results {
		b.WriteString(r.Top())
	}
	return b.String()
}

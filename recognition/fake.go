package recognition

import (
	"fmt"
	"sync"
)

// Fake is a scripted Service for tests. Sessions never emit on their own;
// callers drive them with the Emit* methods.
type Fake struct {
	mu       sync.Mutex
	sessions []*FakeSession
	startErr error
}

func NewFake() *Fake {
	return &Fake{}
}

// FailStart makes every later session's Start return err.
func (f *Fake) FailStart(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) NewSession(cfg Config) Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &FakeSession{
		id:       fmt.Sprintf("fake-%d", len(f.sessions)+1),
		cfg:      cfg,
		startErr: f.startErr,
		events:   make(chan Event, 256),
	}
	f.sessions = append(f.sessions, s)
	return s
}

func (f *Fake) Sessions() []*FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeSession(nil), f.sessions...)
}

// Last returns the most recently created session, or nil.
func (f *Fake) Last() *FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

type FakeSession struct {
	id       string
	cfg      Config
	startErr error
	events   chan Event

	mu      sync.Mutex
	started bool
	stopped bool
	aborted bool
	ended   bool
}

func (s *FakeSession) ID() string           { return s.id }
func (s *FakeSession) Config() Config       { return s.cfg }
func (s *FakeSession) Events() <-chan Event { return s.events }

func (s *FakeSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	return s.startErr
}

func (s *FakeSession) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *FakeSession) Abort() {
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
}

func (s *FakeSession) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *FakeSession) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *FakeSession) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

func (s *FakeSession) EmitStart() Event {
	return s.emit(Event{Kind: EventStart, SessionID: s.id})
}

// EmitResults publishes the full result list as the service currently sees it.
func (s *FakeSession) EmitResults(index int, results ...Result) Event {
	return s.emit(Event{Kind: EventResult, SessionID: s.id, ResultIndex: index, Results: cloneResults(results)})
}

func (s *FakeSession) EmitError(code ErrorCode, msg string) Event {
	return s.emit(Event{Kind: EventError, SessionID: s.id, Error: code, Message: msg})
}

// EmitEnd publishes EventEnd and closes the event channel.
func (s *FakeSession) EmitEnd() Event {
	ev := s.emit(Event{Kind: EventEnd, SessionID: s.id})
	s.mu.Lock()
	if !s.ended {
		s.ended = true
		close(s.events)
	}
	s.mu.Unlock()
	return ev
}

func (s *FakeSession) emit(ev Event) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.events <- ev
	}
	return ev
}

// Interim builds a non-final result with the given ranked alternatives.
func Interim(texts ...string) Result {
	return Result{Alternatives: alternatives(texts)}
}

// Final builds a final result with the given ranked alternatives.
func Final(texts ...string) Result {
	return Result{Alternatives: alternatives(texts), IsFinal: true}
}

func alternatives(texts []string) []Alternative {
	alts := make([]Alternative, len(texts))
	for i, t := range texts {
		alts[i] = Alternative{Transcript: t}
	}
	return alts
}

package recognition

import (
	"errors"
	"fmt"
	"strings"
)

var ErrAlreadyStarted = errors.New("recognition session already started")

// ErrorCode is the closed set of failure codes a recognition service reports.
type ErrorCode string

const (
	ErrNoSpeech             ErrorCode = "no-speech"
	ErrAborted              ErrorCode = "aborted"
	ErrAudioCapture         ErrorCode = "audio-capture"
	ErrNetwork              ErrorCode = "network"
	ErrNotAllowed           ErrorCode = "not-allowed"
	ErrServiceNotAllowed    ErrorCode = "service-not-allowed"
	ErrBadGrammar           ErrorCode = "bad-grammar"
	ErrLanguageNotSupported ErrorCode = "language-not-supported"
)

type Alternative struct {
	Transcript string
	Confidence float64
}

// Result is one recognition unit: ranked alternatives plus a finality flag.
type Result struct {
	Alternatives []Alternative
	IsFinal      bool
}

// Top returns the best alternative's transcript, or "" if there is none.
func (r Result) Top() string {
	if len(r.Alternatives) == 0 {
		return ""
	}
	return r.Alternatives[0].Transcript
}

type EventKind int

const (
	EventStart EventKind = iota
	EventResult
	EventError
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is delivered on Session.Events. Result events carry a snapshot of the
// whole result list seen so far in the session, not a delta.
type Event struct {
	Kind        EventKind
	SessionID   string
	ResultIndex int // first result that changed (EventResult)
	Results     []Result
	Error       ErrorCode // EventError
	Message     string    // EventError detail, may be empty
}

type Config struct {
	Lang            string
	Continuous      bool
	InterimResults  bool
	MaxAlternatives int
}

// Session is one open connection to a recognition service. Events arrive in
// order on a single channel, which is closed after exactly one EventEnd.
type Session interface {
	ID() string
	Start() error
	Stop()
	Abort()
	Events() <-chan Event
}

type Service interface {
	Name() string
	NewSession(cfg Config) Session
}

// LookupConfig describes how to reach a recognition service.
type LookupConfig struct {
	Provider string
	Deepgram DeepgramConfig
}

// Lookup returns the configured service, or nil when the host cannot offer
// speech recognition (no credentials, no microphone).
func Lookup(cfg LookupConfig) Service {
	switch strings.ToLower(cfg.Provider) {
	case "", "deepgram":
		if cfg.Deepgram.APIKey == "" || cfg.Deepgram.Audio == nil {
			return nil
		}
		return NewDeepgram(cfg.Deepgram)
	}
	return nil
}

func cloneResults(in []Result) []Result {
	out := make([]Result, len(in))
	for i, r := range in {
		out[i] = Result{
			Alternatives: append([]Alternative(nil), r.Alternatives...),
			IsFinal:      r.IsFinal,
		}
	}
	return out
}

// CodeError lets a synchronous Start failure carry an error code.
type CodeError struct {
	Code ErrorCode
	Err  error
}

func (e *CodeError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Err.Error()
}

func (e *CodeError) Unwrap() error { return e.Err }

// CodeOf returns the code carried by err, or ErrAborted when there is none:
// a session that failed to start never began listening.
func CodeOf(err error) ErrorCode {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrAborted
}

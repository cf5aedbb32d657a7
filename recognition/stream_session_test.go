package recognition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bolo/audio"
)

type fakeStream struct {
	updates chan streamUpdate
	recvErr chan error
	closed  chan struct{}

	mu         sync.Mutex
	sent       int
	finalizes  int
	closeOnce  sync.Once
	onFinalize func(*fakeStream)
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		updates: make(chan streamUpdate, 16),
		recvErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (f *fakeStream) Send(pcm []byte) error {
	select {
	case <-f.closed:
		return errors.New("send on closed stream")
	default:
	}
	f.mu.Lock()
	f.sent += len(pcm)
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	f.finalizes++
	hook := f.onFinalize
	f.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	return nil
}

func (f *fakeStream) Recv() (streamUpdate, error) {
	select {
	case u := <-f.updates:
		return u, nil
	case err := <-f.recvErr:
		return streamUpdate{}, err
	case <-f.closed:
		return streamUpdate{}, errors.New("use of closed connection")
	}
}

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) finalizeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalizes
}

type failingAudio struct{ err error }

func (a failingAudio) Devices() ([]audio.DeviceInfo, error) { return nil, nil }
func (a failingAudio) Close()                               {}
func (a failingAudio) NewCapture(*audio.DeviceInfo, audio.CaptureConfig) (audio.CaptureDevice, error) {
	return nil, a.err
}

func interim(text string) streamUpdate {
	return streamUpdate{Type: "Results", Alternatives: []Alternative{{Transcript: text}}}
}

func final(text string) streamUpdate {
	return streamUpdate{Type: "Results", Alternatives: []Alternative{{Transcript: text}}, IsFinal: true}
}

func testSession(t *testing.T, cfg Config, stream *fakeStream, dialErr error) *streamSession {
	t.Helper()
	return newStreamSession("test", cfg, streamOptions{
		Provider: "test",
		Dial: func(ctx context.Context) (rawStreamSession, error) {
			if dialErr != nil {
				return nil, dialErr
			}
			return stream, nil
		},
		Audio:           audio.NewPCMContext(make([]byte, audio.SampleRate)),
		NoSpeechTimeout: 5 * time.Second,
		FinalizeTimeout: 300 * time.Millisecond,
	})
}

func next(t *testing.T, s Session) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func expectClosed(t *testing.T, s Session) {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if ok {
			t.Fatalf("expected closed channel, got %v event", ev.Kind)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event channel not closed")
	}
}

func expectKind(t *testing.T, ev Event, kind EventKind) {
	t.Helper()
	if ev.Kind != kind {
		t.Fatalf("got %v event, want %v (%+v)", ev.Kind, kind, ev)
	}
}

func tops(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Top()
	}
	return out
}

func TestApplyInterimThenFinal(t *testing.T) {
	s := newStreamSession("x", Config{Continuous: true, InterimResults: true}, streamOptions{})

	ev, ok := s.apply(interim("আমি"))
	if !ok || ev.ResultIndex != 0 || len(ev.Results) != 1 || ev.Results[0].IsFinal {
		t.Fatalf("interim: ok=%v ev=%+v", ok, ev)
	}
	ev, ok = s.apply(final("আমি ভাত"))
	if !ok || ev.ResultIndex != 0 || !ev.Results[0].IsFinal || ev.Results[0].Top() != "আমি ভাত" {
		t.Fatalf("final: ok=%v ev=%+v", ok, ev)
	}
	ev, ok = s.apply(interim("খাই"))
	if !ok || ev.ResultIndex != 1 {
		t.Fatalf("second interim: ok=%v ev=%+v", ok, ev)
	}
	got := tops(ev.Results)
	if len(got) != 2 || got[1] != " খাই" {
		t.Errorf("results = %q, want second slot space-prefixed", got)
	}
}

func TestApplyEmptyFinalRetractsInterim(t *testing.T) {
	s := newStreamSession("x", Config{Continuous: true, InterimResults: true}, streamOptions{})
	s.apply(final("one"))
	s.apply(interim("two"))

	ev, ok := s.apply(final(""))
	if !ok {
		t.Fatal("expected retraction to publish")
	}
	if got := tops(ev.Results); len(got) != 1 || got[0] != "one" {
		t.Errorf("results = %q, want [one]", got)
	}
	if _, ok := s.apply(final("")); ok {
		t.Error("empty final with no open slot should not publish")
	}
	if _, ok := s.apply(interim("   ")); ok {
		t.Error("blank interim should not publish")
	}
}

func TestApplyInterimSuppressed(t *testing.T) {
	s := newStreamSession("x", Config{Continuous: true}, streamOptions{})
	if _, ok := s.apply(interim("hello")); ok {
		t.Fatal("interim published with InterimResults off")
	}
	ev, ok := s.apply(final("hello world"))
	if !ok || ev.ResultIndex != 0 {
		t.Fatalf("final: ok=%v ev=%+v", ok, ev)
	}
	if got := tops(ev.Results); len(got) != 1 || got[0] != "hello world" {
		t.Errorf("results = %q", got)
	}
}

func TestApplyMaxAlternatives(t *testing.T) {
	s := newStreamSession("x", Config{Continuous: true, MaxAlternatives: 2}, streamOptions{})
	ev, _ := s.apply(streamUpdate{IsFinal: true, Alternatives: []Alternative{
		{Transcript: "a", Confidence: 0.9},
		{Transcript: ""},
		{Transcript: "b", Confidence: 0.5},
		{Transcript: "c", Confidence: 0.1},
	}})
	alts := ev.Results[0].Alternatives
	if len(alts) != 2 || alts[0].Transcript != "a" || alts[1].Transcript != "b" {
		t.Errorf("alternatives = %+v", alts)
	}
}

func TestApplySingleUtterance(t *testing.T) {
	s := newStreamSession("x", Config{InterimResults: true}, streamOptions{})
	s.apply(final("first"))
	select {
	case <-s.utterDone:
	default:
		t.Fatal("utterance not marked done after first final")
	}
	if _, ok := s.apply(final("second")); ok {
		t.Error("result after first final published in single-utterance mode")
	}
}

func TestApplyMetadataIgnored(t *testing.T) {
	if (streamUpdate{Type: "Metadata"}).isResult() {
		t.Error("Metadata treated as result")
	}
	if !(streamUpdate{}).isResult() {
		t.Error("untyped update should be a result")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"no speech", errNoSpeech, ErrNoSpeech},
		{"unauthorized", &HandshakeError{StatusCode: 401, Err: errors.New("bad handshake")}, ErrServiceNotAllowed},
		{"forbidden", &HandshakeError{StatusCode: 403, Err: errors.New("bad handshake")}, ErrServiceNotAllowed},
		{"bad request", &HandshakeError{StatusCode: 400, Err: errors.New("bad handshake")}, ErrLanguageNotSupported},
		{"server error", &HandshakeError{StatusCode: 502, Err: errors.New("bad handshake")}, ErrNetwork},
		{"permission", &captureError{fmt.Errorf("x: %w", audio.ErrPermission)}, ErrNotAllowed},
		{"permission text", &captureError{errors.New("Operation not permitted: permission")}, ErrNotAllowed},
		{"capture", &captureError{errors.New("device busy")}, ErrAudioCapture},
		{"network", errors.New("connection reset by peer"), ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStreamSession("x", Config{}, streamOptions{})
			if got, _ := s.classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyAbortWins(t *testing.T) {
	s := newStreamSession("x", Config{}, streamOptions{})
	s.aborted.Store(true)
	if got, _ := s.classify(errors.New("connection reset")); got != ErrAborted {
		t.Errorf("got %q, want aborted", got)
	}
}

func TestStreamSessionStopFinalizes(t *testing.T) {
	stream := newFakeStream()
	stream.onFinalize = func(f *fakeStream) {
		f.updates <- streamUpdate{Type: "Results", Alternatives: []Alternative{{Transcript: "ভাত খাই"}}, IsFinal: true, FromFinalize: true}
	}
	s := testSession(t, Config{Continuous: true, InterimResults: true}, stream, nil)

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	expectKind(t, next(t, s), EventStart)

	stream.updates <- interim("আমি")
	ev := next(t, s)
	expectKind(t, ev, EventResult)
	if got := tops(ev.Results); len(got) != 1 || got[0] != "আমি" {
		t.Fatalf("results = %q", got)
	}
	stream.updates <- final("আমি")
	expectKind(t, next(t, s), EventResult)

	s.Stop()
	ev = next(t, s)
	expectKind(t, ev, EventResult)
	if got := tops(ev.Results); len(got) != 2 || got[1] != " ভাত খাই" {
		t.Errorf("results after finalize = %q", got)
	}
	expectKind(t, next(t, s), EventEnd)
	expectClosed(t, s)

	if stream.finalizeCount() != 1 {
		t.Errorf("finalize sent %d times, want 1", stream.finalizeCount())
	}
}

func TestStreamSessionAbort(t *testing.T) {
	stream := newFakeStream()
	s := testSession(t, Config{Continuous: true}, stream, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	expectKind(t, next(t, s), EventStart)

	s.Abort()
	ev := next(t, s)
	expectKind(t, ev, EventError)
	if ev.Error != ErrAborted {
		t.Errorf("error = %q, want aborted", ev.Error)
	}
	expectKind(t, next(t, s), EventEnd)
	expectClosed(t, s)
	if stream.finalizeCount() != 0 {
		t.Error("abort should not request finalize")
	}
}

func TestStreamSessionNoSpeech(t *testing.T) {
	stream := newFakeStream()
	s := testSession(t, Config{Continuous: true}, stream, nil)
	s.opts.NoSpeechTimeout = 50 * time.Millisecond
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	expectKind(t, next(t, s), EventStart)
	ev := next(t, s)
	expectKind(t, ev, EventError)
	if ev.Error != ErrNoSpeech {
		t.Errorf("error = %q, want no-speech", ev.Error)
	}
	expectKind(t, next(t, s), EventEnd)
	expectClosed(t, s)
}

func TestStreamSessionHeardDisarmsNoSpeech(t *testing.T) {
	stream := newFakeStream()
	s := testSession(t, Config{Continuous: true}, stream, nil)
	s.opts.NoSpeechTimeout = 100 * time.Millisecond
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	expectKind(t, next(t, s), EventStart)
	stream.updates <- final("হ্যালো")
	expectKind(t, next(t, s), EventResult)

	time.Sleep(250 * time.Millisecond)
	s.Stop()
	expectKind(t, next(t, s), EventEnd)
	expectClosed(t, s)
}

func TestStreamSessionDialRejected(t *testing.T) {
	s := testSession(t, Config{}, nil, &HandshakeError{StatusCode: 401, Err: errors.New("bad handshake")})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	ev := next(t, s)
	expectKind(t, ev, EventError)
	if ev.Error != ErrServiceNotAllowed {
		t.Errorf("error = %q, want service-not-allowed", ev.Error)
	}
	expectKind(t, next(t, s), EventEnd)
	expectClosed(t, s)
}

func TestStreamSessionNetworkError(t *testing.T) {
	stream := newFakeStream()
	s := testSession(t, Config{Continuous: true}, stream, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	expectKind(t, next(t, s), EventStart)
	stream.recvErr <- errors.New("connection reset by peer")

	ev := next(t, s)
	expectKind(t, ev, EventError)
	if ev.Error != ErrNetwork {
		t.Errorf("error = %q, want network", ev.Error)
	}
	expectKind(t, next(t, s), EventEnd)
	expectClosed(t, s)
}

func TestStreamSessionCapturePermission(t *testing.T) {
	stream := newFakeStream()
	s := testSession(t, Config{}, stream, nil)
	s.opts.Audio = failingAudio{err: fmt.Errorf("open: %w", audio.ErrPermission)}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	ev := next(t, s)
	expectKind(t, ev, EventError)
	if ev.Error != ErrNotAllowed {
		t.Errorf("error = %q, want not-allowed", ev.Error)
	}
	expectKind(t, next(t, s), EventEnd)
	expectClosed(t, s)
}

func TestStreamSessionSingleUtteranceEndsItself(t *testing.T) {
	stream := newFakeStream()
	s := testSession(t, Config{InterimResults: true}, stream, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	expectKind(t, next(t, s), EventStart)
	stream.updates <- final("একবার")
	expectKind(t, next(t, s), EventResult)
	expectKind(t, next(t, s), EventEnd)
	expectClosed(t, s)
}

func TestStreamSessionStopBeforeStartIgnored(t *testing.T) {
	stream := newFakeStream()
	s := testSession(t, Config{Continuous: true}, stream, nil)
	s.Stop()
	s.Abort()
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	expectKind(t, next(t, s), EventStart)
	s.Stop()
	expectKind(t, next(t, s), EventEnd)
	expectClosed(t, s)
}

package doctor

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"bolo/recognition"
)

func waitStarted(t *testing.T, fake *recognition.Fake) *recognition.FakeSession {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s := fake.Last(); s != nil && s.Started() {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Error("session never started")
	return nil
}

func TestListenCollectsTrailingResults(t *testing.T) {
	fake := recognition.NewFake()
	go func() {
		s := waitStarted(t, fake)
		if s == nil {
			return
		}
		s.EmitStart()
		s.EmitResults(0, recognition.Interim("আমার"))
		for !s.Stopped() {
			time.Sleep(time.Millisecond)
		}
		s.EmitResults(0, recognition.Final("আমার সোনার বাংলা"))
		s.EmitEnd()
	}()

	var out strings.Builder
	text, derr := Listen(fake, "bn-BD", 20*time.Millisecond, &out)
	if derr != nil {
		t.Fatalf("unexpected error: %v", derr)
	}
	if text != "আমার সোনার বাংলা" {
		t.Fatalf("text = %q", text)
	}
	if got := fake.Last().Config().Lang; got != "bn-BD" {
		t.Errorf("session lang = %q", got)
	}
	if !strings.Contains(out.String(), "done") {
		t.Errorf("expected progress output, got %q", out.String())
	}
}

func TestListenReportsError(t *testing.T) {
	fake := recognition.NewFake()
	go func() {
		s := waitStarted(t, fake)
		if s == nil {
			return
		}
		s.EmitStart()
		s.EmitError(recognition.ErrServiceNotAllowed, "401")
		s.EmitEnd()
	}()

	_, derr := Listen(fake, "en-US", time.Second, io.Discard)
	if derr == nil || derr.Code != recognition.ErrServiceNotAllowed {
		t.Fatalf("expected service-not-allowed, got %v", derr)
	}
}

func TestListenStartFailure(t *testing.T) {
	fake := recognition.NewFake()
	fake.FailStart(&recognition.CodeError{Code: recognition.ErrAudioCapture, Err: errors.New("no mic")})

	_, derr := Listen(fake, "en-US", time.Second, io.Discard)
	if derr == nil || derr.Code != recognition.ErrAudioCapture {
		t.Fatalf("expected audio-capture, got %v", derr)
	}
}

func TestListenUnsupported(t *testing.T) {
	text, derr := Listen(nil, "en-US", time.Second, io.Discard)
	if text != "" || derr != nil {
		t.Fatalf("expected empty result, got %q %v", text, derr)
	}
}

package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"bolo/dictation"
	"bolo/recognition"
)

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Errorf("timed out waiting for %s", what)
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func runScript(t *testing.T, dict *dictation.Adapter, script string, opts headlessOptions) string {
	t.Helper()
	var out bytes.Buffer
	opts.in = strings.NewReader(script)
	opts.out = &out
	done := make(chan error, 1)
	go func() { done <- runHeadless(dict, opts) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runHeadless: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runHeadless did not return")
	}
	return out.String()
}

func TestHeadlessSession(t *testing.T) {
	fake := recognition.NewFake()
	dict := dictation.New(fake, recognition.Config{Lang: "bn-BD"})

	go func() {
		waitFor(t, "session", func() bool { s := fake.Last(); return s != nil && s.Started() })
		s := fake.Last()
		s.EmitStart()
		s.EmitResults(0, recognition.Interim("আমি"))
		s.EmitResults(0, recognition.Final("আমি ভাত খাই"))
		s.EmitEnd()
	}()

	out := runScript(t, dict, "START\nWAIT_END\nPRINT\nQUIT\n", headlessOptions{})

	if !strings.HasPrefix(out, "status: মাইক্রোফোন ক্লিক করে কথা বলা শুরু করুন\ntext: \n") {
		t.Errorf("expected initial idle state, got:\n%s", out)
	}
	if !strings.Contains(out, "status: শুনছি...\n") {
		t.Errorf("expected listening status, got:\n%s", out)
	}
	if !strings.HasSuffix(out, "status: মাইক্রোফোন ক্লিক করে কথা বলা শুরু করুন\ntext: আমি ভাত খাই\n") {
		t.Errorf("expected final transcript after end, got:\n%s", out)
	}
}

func TestHeadlessStopKeepsTrailingResults(t *testing.T) {
	fake := recognition.NewFake()
	dict := dictation.New(fake, recognition.Config{Lang: "en-US"})

	go func() {
		waitFor(t, "session", func() bool { s := fake.Last(); return s != nil && s.Started() })
		s := fake.Last()
		s.EmitStart()
		waitFor(t, "stop", s.Stopped)
		s.EmitResults(0, recognition.Final("hello there"))
		s.EmitEnd()
	}()

	out := runScript(t, dict, "START\nSLEEP 20\nSTOP\nWAIT_END\nPRINT\nQUIT\n", headlessOptions{})

	if !strings.HasSuffix(out, "text: hello there\n") {
		t.Errorf("expected trailing result after stop, got:\n%s", out)
	}
	if dict.Listening() {
		t.Error("adapter still listening after quit")
	}
}

func TestHeadlessCopy(t *testing.T) {
	fake := recognition.NewFake()
	dict := dictation.New(fake, recognition.Config{Lang: "en-US"})

	var copied []string
	var outcomes []bool
	go func() {
		waitFor(t, "session", func() bool { s := fake.Last(); return s != nil && s.Started() })
		s := fake.Last()
		s.EmitStart()
		s.EmitResults(0, recognition.Final("copy me"))
		s.EmitEnd()
	}()

	out := runScript(t, dict, "START\nWAIT_END\nCOPY\nQUIT\n", headlessOptions{
		copy:      func(s string) error { copied = append(copied, s); return nil },
		onCopy:    func(ok bool) { outcomes = append(outcomes, ok) },
		copyDelay: time.Minute,
	})

	if len(copied) != 1 || copied[0] != "copy me" {
		t.Fatalf("copied = %q", copied)
	}
	if len(outcomes) != 1 || !outcomes[0] {
		t.Fatalf("outcomes = %v", outcomes)
	}
	if !strings.Contains(out, "status: Copied to clipboard!\n") {
		t.Errorf("expected copy confirmation, got:\n%s", out)
	}
}

func TestHeadlessCopyFailure(t *testing.T) {
	fake := recognition.NewFake()
	dict := dictation.New(fake, recognition.Config{Lang: "en-US"})

	go func() {
		waitFor(t, "session", func() bool { s := fake.Last(); return s != nil && s.Started() })
		s := fake.Last()
		s.EmitStart()
		s.EmitResults(0, recognition.Final("x"))
		s.EmitEnd()
	}()

	out := runScript(t, dict, "START\nWAIT_END\nCOPY\nQUIT\n", headlessOptions{
		copy: func(string) error { return errors.New("no clipboard") },
	})
	if !strings.Contains(out, "status: Failed to copy text.\n") {
		t.Errorf("expected copy failure, got:\n%s", out)
	}
}

func TestHeadlessErrorAndReset(t *testing.T) {
	fake := recognition.NewFake()
	dict := dictation.New(fake, recognition.Config{Lang: "en-US"})

	go func() {
		waitFor(t, "session", func() bool { s := fake.Last(); return s != nil && s.Started() })
		s := fake.Last()
		s.EmitStart()
		s.EmitResults(0, recognition.Interim("partial"))
		s.EmitError(recognition.ErrNetwork, "connection reset")
		s.EmitEnd()
	}()

	out := runScript(t, dict, "START\nWAIT_END\nRESET\nPRINT\nQUIT\n", headlessOptions{})

	if !strings.Contains(out, "status: An error occurred: network\ntext: partial\n") {
		t.Errorf("expected network error with partial text, got:\n%s", out)
	}
	// reset clears the text but not the error
	if !strings.HasSuffix(out, "status: An error occurred: network\ntext: \n") {
		t.Errorf("expected cleared text after reset, got:\n%s", out)
	}
}

func TestHeadlessUnsupported(t *testing.T) {
	dict := dictation.New(nil, recognition.Config{Lang: "en-US"})
	out := runScript(t, dict, "START\nWAIT_END\nQUIT\n", headlessOptions{})
	if !strings.HasPrefix(out, "status: Error: Your environment does not support speech recognition.") {
		t.Errorf("expected unsupported banner, got:\n%s", out)
	}
	if strings.Count(out, "status:") != 1 {
		t.Errorf("nothing should change when unsupported, got:\n%s", out)
	}
}

func TestHeadlessEOFEnds(t *testing.T) {
	dict := dictation.New(recognition.NewFake(), recognition.Config{Lang: "en-US"})
	out := runScript(t, dict, "PRINT\nBOGUS\nSLEEP nope\n", headlessOptions{})
	if strings.Count(out, "status:") != 2 {
		t.Errorf("expected initial and PRINT output, got:\n%s", out)
	}
}

func TestHeadlessQuitReleasesSession(t *testing.T) {
	fake := recognition.NewFake()
	dict := dictation.New(fake, recognition.Config{Lang: "en-US"})
	runScript(t, dict, "START\nQUIT\nPRINT\nPRINT\n", headlessOptions{})

	s := fake.Last()
	if s == nil || !s.Stopped() {
		t.Fatal("expected quit to stop the session")
	}
	// more events than every buffer between the session and the driver
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			s.EmitResults(0, recognition.Interim("late"))
		}
		s.EmitEnd()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session blocked after the driver returned")
	}
}

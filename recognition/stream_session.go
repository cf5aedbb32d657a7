package recognition

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bolo/audio"
	"bolo/log"

	"golang.org/x/sync/errgroup"
)

const (
	streamChunkMs          = 100
	streamChunkBytes       = audio.SampleRate * audio.Channels * (audio.BitsPerSample / 8) * streamChunkMs / 1000
	streamFinalizeIdle     = 200 * time.Millisecond
	defaultNoSpeechTimeout = 8 * time.Second
	defaultFinalizeTimeout = 1000 * time.Millisecond
)

var errNoSpeech = errors.New("no speech detected")

type rawStreamSession interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (streamUpdate, error)
	Close() error
}

type streamUpdate struct {
	Type         string // "Results" or a metadata message; empty is treated as Results
	Alternatives []Alternative
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
}

func (u streamUpdate) isResult() bool {
	return u.Type == "" || u.Type == "Results"
}

// captureError marks failures from the microphone rather than the network.
type captureError struct{ err error }

func (e *captureError) Error() string { return "audio capture: " + e.err.Error() }
func (e *captureError) Unwrap() error { return e.err }

type streamOptions struct {
	Provider        string
	Dial            func(ctx context.Context) (rawStreamSession, error)
	Audio           audio.Context
	Device          *audio.DeviceInfo
	NoSpeechTimeout time.Duration
	FinalizeTimeout time.Duration
}

type streamStats struct {
	ConnectDur   time.Duration
	SentChunks   int
	SentBytes    uint64
	RecvMessages int
	RecvFinal    int
	RecvInterim  int
	FinalizeWait time.Duration
	SessionDur   time.Duration
}

func (s streamStats) audioDuration() float64 {
	return float64(s.SentBytes) / float64(audio.SampleRate*audio.Channels*(audio.BitsPerSample/8))
}

// streamSession runs one recognition session: dial, capture, stream PCM up,
// turn server updates into result events, and end exactly once.
type streamSession struct {
	id     string
	cfg    Config
	opts   streamOptions
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	started  atomic.Bool
	aborted  atomic.Bool
	closing  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	emitMu sync.Mutex
	ended  bool

	ws        rawStreamSession
	audioCh   chan []byte
	sendDone  chan struct{}
	feedMu    sync.Mutex
	feedBuf   []byte
	feedDone  bool
	feedQuit  <-chan struct{}
	heard     chan struct{}
	heardOnce sync.Once
	utterDone chan struct{} // first final in single-utterance mode
	utterOnce sync.Once
	finalized chan struct{}
	finalOnce sync.Once

	mu        sync.Mutex
	results   []Result
	open      bool // trailing result is still interim
	sawFinal  bool
	startedAt time.Time
	stats     streamStats
}

func newStreamSession(id string, cfg Config, opts streamOptions) *streamSession {
	if opts.NoSpeechTimeout <= 0 {
		opts.NoSpeechTimeout = defaultNoSpeechTimeout
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = defaultFinalizeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &streamSession{
		id:        id,
		cfg:       cfg,
		opts:      opts,
		events:    make(chan Event, 64),
		ctx:       ctx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
		audioCh:   make(chan []byte, 128),
		sendDone:  make(chan struct{}),
		heard:     make(chan struct{}),
		utterDone: make(chan struct{}),
		finalized: make(chan struct{}),
	}
}

func (s *streamSession) ID() string           { return s.id }
func (s *streamSession) Events() <-chan Event { return s.events }

func (s *streamSession) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.startedAt = time.Now()
	log.RecognitionStart(s.id, s.opts.Provider, s.cfg.Lang, s.cfg.Continuous, s.cfg.InterimResults)
	go s.run()
	return nil
}

// Stop ends capture and waits for the server to finalize what it has heard.
func (s *streamSession) Stop() {
	if !s.started.Load() {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Abort tears the session down without waiting for pending results.
func (s *streamSession) Abort() {
	if !s.started.Load() {
		return
	}
	s.aborted.Store(true)
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.cancel()
}

func (s *streamSession) run() {
	defer s.finish()

	connectStart := time.Now()
	ws, err := s.opts.Dial(s.ctx)
	s.mu.Lock()
	s.stats.ConnectDur = time.Since(connectStart)
	s.mu.Unlock()
	if err != nil {
		s.fail(err)
		return
	}
	s.ws = ws

	select {
	case <-s.stopCh:
		s.closing.Store(true)
		ws.Close()
		if s.aborted.Load() {
			s.fail(context.Canceled)
		}
		return
	default:
	}

	if s.opts.Audio == nil {
		ws.Close()
		s.fail(&captureError{errors.New("no audio context")})
		return
	}
	capture, err := s.opts.Audio.NewCapture(s.opts.Device, audio.DefaultCaptureConfig())
	if err != nil {
		ws.Close()
		s.fail(&captureError{err})
		return
	}
	defer capture.Close()

	groupCtx, groupCancel := context.WithCancel(s.ctx)
	defer groupCancel()
	g, gctx := errgroup.WithContext(groupCtx)
	s.feedQuit = gctx.Done()

	g.Go(func() error { return s.runSender(gctx) })

	capture.SetCallback(func(data []byte, _ uint32) { s.feed(data) })
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		groupCancel()
		_ = g.Wait()
		s.closing.Store(true)
		ws.Close()
		s.fail(&captureError{err})
		return
	}

	s.emit(Event{Kind: EventStart, SessionID: s.id})

	g.Go(s.runReceiver)
	g.Go(func() error { return s.watch(gctx, capture) })

	if err := g.Wait(); err != nil || s.aborted.Load() {
		s.fail(err)
	}
}

func (s *streamSession) feed(pcm []byte) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.feedDone {
		return
	}
	s.feedBuf = append(s.feedBuf, pcm...)
	for len(s.feedBuf) >= streamChunkBytes {
		chunk := make([]byte, streamChunkBytes)
		copy(chunk, s.feedBuf[:streamChunkBytes])
		s.feedBuf = s.feedBuf[streamChunkBytes:]
		select {
		case s.audioCh <- chunk:
		case <-s.feedQuit:
			s.feedDone = true
			s.feedBuf = nil
			return
		}
	}
}

// closeFeed flushes buffered PCM and closes the audio channel so the sender
// can finish with a Finalize request.
func (s *streamSession) closeFeed() {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.feedDone {
		return
	}
	s.feedDone = true
	if len(s.feedBuf) > 0 {
		tail := make([]byte, len(s.feedBuf))
		copy(tail, s.feedBuf)
		s.feedBuf = nil
		select {
		case s.audioCh <- tail:
		case <-s.feedQuit:
			return
		}
	}
	close(s.audioCh)
}

func (s *streamSession) runSender(ctx context.Context) error {
	defer close(s.sendDone)
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-s.audioCh:
			if !ok {
				return s.ws.CloseSend()
			}
			if err := s.ws.Send(chunk); err != nil {
				if s.closing.Load() {
					return nil
				}
				return err
			}
			s.mu.Lock()
			s.stats.SentChunks++
			s.stats.SentBytes += uint64(len(chunk))
			s.mu.Unlock()
		}
	}
}

func (s *streamSession) runReceiver() error {
	for {
		update, err := s.ws.Recv()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			return err
		}
		if !update.isResult() {
			continue
		}
		if update.FromFinalize {
			s.finalOnce.Do(func() { close(s.finalized) })
		}
		if ev, ok := s.apply(update); ok {
			s.emit(ev)
		}
	}
}

// apply folds a server update into the result list. An interim replaces the
// trailing open slot; a final closes it. It reports whether to publish.
func (s *streamSession) apply(u streamUpdate) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	isFinal := u.IsFinal || u.SpeechFinal || u.FromFinalize
	s.stats.RecvMessages++
	if isFinal {
		s.stats.RecvFinal++
	} else {
		s.stats.RecvInterim++
	}

	if !s.cfg.Continuous && s.sawFinal {
		return Event{}, false
	}

	alts := s.alternatives(u.Alternatives)
	if len(alts) == 0 {
		if !isFinal || !s.open {
			return Event{}, false
		}
		// Speech turned out to be nothing; retract the pending interim.
		s.results = s.results[:len(s.results)-1]
		s.open = false
		if !s.cfg.InterimResults {
			return Event{}, false
		}
		return s.snapshot(len(s.results)), true
	}

	s.heardOnce.Do(func() { close(s.heard) })

	idx := len(s.results)
	if s.open {
		idx--
	}
	if idx > 0 {
		for i := range alts {
			alts[i].Transcript = " " + alts[i].Transcript
		}
	}
	r := Result{Alternatives: alts, IsFinal: isFinal}
	if s.open {
		s.results[idx] = r
	} else {
		s.results = append(s.results, r)
	}
	s.open = !isFinal

	if isFinal {
		s.sawFinal = true
		if !s.cfg.Continuous {
			s.utterOnce.Do(func() { close(s.utterDone) })
		}
	} else if !s.cfg.InterimResults {
		return Event{}, false
	}
	return s.snapshot(idx), true
}

func (s *streamSession) alternatives(in []Alternative) []Alternative {
	limit := s.cfg.MaxAlternatives
	if limit < 1 {
		limit = 1
	}
	var out []Alternative
	for _, a := range in {
		t := strings.TrimSpace(a.Transcript)
		if t == "" {
			continue
		}
		out = append(out, Alternative{Transcript: t, Confidence: a.Confidence})
		if len(out) == limit {
			break
		}
	}
	return out
}

// snapshot must be called with s.mu held.
func (s *streamSession) snapshot(index int) Event {
	return Event{
		Kind:        EventResult,
		SessionID:   s.id,
		ResultIndex: index,
		Results:     cloneResults(s.results),
	}
}

func (s *streamSession) watch(ctx context.Context, capture audio.CaptureDevice) error {
	defer func() {
		s.closing.Store(true)
		s.ws.Close()
	}()

	timer := time.NewTimer(s.opts.NoSpeechTimeout)
	defer timer.Stop()
	heard := s.heard

	for {
		select {
		case <-ctx.Done():
			capture.Stop()
			return nil
		case <-s.stopCh:
			s.drain(ctx, capture)
			return nil
		case <-s.utterDone:
			s.drain(ctx, capture)
			return nil
		case <-heard:
			heard = nil
			timer.Stop()
		case <-timer.C:
			capture.Stop()
			return errNoSpeech
		}
	}
}

func (s *streamSession) drain(ctx context.Context, capture audio.CaptureDevice) {
	capture.Stop()
	capture.ClearCallback()
	s.closeFeed()

	finalizeStart := time.Now()
	defer func() {
		s.mu.Lock()
		s.stats.FinalizeWait = time.Since(finalizeStart)
		s.mu.Unlock()
	}()

	select {
	case <-s.sendDone:
	case <-ctx.Done():
		return
	}

	timeout := time.NewTimer(s.opts.FinalizeTimeout)
	defer timeout.Stop()
	select {
	case <-s.finalized:
		idle := time.NewTimer(streamFinalizeIdle)
		defer idle.Stop()
		select {
		case <-idle.C:
		case <-ctx.Done():
		}
	case <-timeout.C:
		log.Warnf("session %s: finalize timeout after %s", s.id, s.opts.FinalizeTimeout)
	case <-ctx.Done():
	}
}

func (s *streamSession) fail(err error) {
	code, msg := s.classify(err)
	log.RecognitionError(s.id, string(code), msg)
	s.emit(Event{Kind: EventError, SessionID: s.id, Error: code, Message: msg})
}

func (s *streamSession) classify(err error) (ErrorCode, string) {
	if s.aborted.Load() {
		return ErrAborted, ""
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	var hs *HandshakeError
	var ce *captureError
	switch {
	case errors.Is(err, errNoSpeech):
		return ErrNoSpeech, ""
	case errors.As(err, &hs):
		switch hs.StatusCode {
		case 401, 403:
			return ErrServiceNotAllowed, msg
		case 400:
			return ErrLanguageNotSupported, msg
		}
		return ErrNetwork, msg
	case errors.Is(err, audio.ErrPermission):
		return ErrNotAllowed, msg
	case errors.As(err, &ce):
		if isPermissionText(ce.err.Error()) {
			return ErrNotAllowed, msg
		}
		return ErrAudioCapture, msg
	}
	return ErrNetwork, msg
}

func isPermissionText(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "permission") || strings.Contains(lower, "not authorized")
}

// emit delivers events in order. Nothing is sent after EventEnd.
func (s *streamSession) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

func (s *streamSession) finish() {
	s.cancel()

	s.mu.Lock()
	stats := s.stats
	stats.SessionDur = time.Since(s.startedAt)
	count := len(s.results)
	s.mu.Unlock()

	log.StreamMetrics(log.StreamMetricsData{
		ID:           s.id,
		ConnectMs:    float64(stats.ConnectDur.Milliseconds()),
		FinalizeMs:   float64(stats.FinalizeWait.Milliseconds()),
		TotalMs:      float64(stats.SessionDur.Milliseconds()),
		AudioS:       stats.audioDuration(),
		SentChunks:   stats.SentChunks,
		SentKB:       float64(stats.SentBytes) / 1024,
		RecvMessages: stats.RecvMessages,
		RecvFinal:    stats.RecvFinal,
		RecvInterim:  stats.RecvInterim,
	})
	log.RecognitionEnd(s.id, count, stats.SessionDur)

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.events <- Event{Kind: EventEnd, SessionID: s.id}
	close(s.events)
}

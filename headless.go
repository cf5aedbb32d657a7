package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"bolo/dictation"
	"bolo/log"
	"bolo/recognition"
)

type headlessOptions struct {
	in        io.Reader
	out       io.Writer
	copy      func(string) error
	onCopy    func(ok bool)
	copyDelay time.Duration
}

// sessionEvent is one event forwarded from a session channel; closed marks
// the channel's end.
type sessionEvent struct {
	ev     recognition.Event
	closed bool
}

type headless struct {
	dict *dictation.Adapter
	msgs dictation.Messages
	opts headlessOptions

	events chan sessionEvent
	open   int           // session channels not yet closed
	done   chan struct{} // closed when the driver returns

	copyStatus string
	copyClear  <-chan time.Time

	lastStatus, lastText string
	printed              bool
}

// runHeadless drives the adapter from line commands on opts.in:
//
//	START, STOP, RESET, COPY, PRINT, QUIT
//	WAIT_END     block until no session is open
//	SLEEP <ms>   pause command processing
//
// Status and transcript are written to opts.out whenever they change. Events
// keep flowing while commands are paused.
func runHeadless(dict *dictation.Adapter, opts headlessOptions) error {
	if opts.copyDelay <= 0 {
		opts.copyDelay = 2500 * time.Millisecond
	}
	h := &headless{
		dict:   dict,
		msgs:   dictation.MessagesFor(dict.Lang()),
		opts:   opts,
		events: make(chan sessionEvent, 64),
		done:   make(chan struct{}),
	}
	defer dict.Close()
	defer close(h.done)

	cmds := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(opts.in)
		for scanner.Scan() {
			select {
			case cmds <- strings.TrimSpace(scanner.Text()):
			case <-h.done:
				return
			}
		}
		readErr <- scanner.Err()
		close(cmds)
	}()

	h.print(true)

	var (
		pause   <-chan time.Time
		waiting bool
	)
	for {
		in := cmds
		if pause != nil || (waiting && h.busy()) {
			in = nil
		} else {
			waiting = false
		}

		select {
		case se := <-h.events:
			if se.closed {
				h.open--
			} else {
				h.dict.Handle(se.ev)
			}

		case <-pause:
			pause = nil

		case <-h.copyClear:
			h.copyClear = nil
			h.copyStatus = ""

		case line, ok := <-in:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("reading commands: %w", err)
				}
				return nil
			}
			cmd, arg, _ := strings.Cut(line, " ")
			switch strings.ToUpper(cmd) {
			case "":
			case "START":
				h.start()
			case "STOP":
				h.dict.StopListening()
			case "RESET":
				h.dict.ResetText()
			case "COPY":
				h.copyText()
			case "WAIT_END":
				waiting = true
			case "SLEEP":
				ms, err := strconv.Atoi(strings.TrimSpace(arg))
				if err != nil || ms < 0 {
					log.Warnf("headless: bad SLEEP argument %q", arg)
					break
				}
				pause = time.After(time.Duration(ms) * time.Millisecond)
			case "PRINT":
				h.print(true)
			case "QUIT":
				return nil
			default:
				log.Warnf("headless: unknown command %q", line)
			}
		}
		h.print(false)
	}
}

// busy reports whether a session is listening, pending or still draining.
func (h *headless) busy() bool {
	return h.dict.Listening() || h.dict.Events() != nil || h.open > 0
}

func (h *headless) start() {
	if !h.dict.StartListening() {
		return
	}
	h.open++
	go forward(h.dict.Events(), h.events, h.done)
}

// forward copies a session's events into out. Once done is closed the rest
// of the session is drained and dropped so the service never blocks.
func forward(ch <-chan recognition.Event, out chan<- sessionEvent, done <-chan struct{}) {
	for ev := range ch {
		select {
		case out <- sessionEvent{ev: ev}:
		case <-done:
		}
	}
	select {
	case out <- sessionEvent{closed: true}:
	case <-done:
	}
}

func (h *headless) copyText() {
	text := h.dict.Text()
	if text == "" || h.opts.copy == nil {
		return
	}
	err := h.opts.copy(text)
	ok := err == nil
	if ok {
		h.copyStatus = h.msgs.Copied
	} else {
		log.Warnf("copy failed: %v", err)
		h.copyStatus = h.msgs.CopyFailed
	}
	log.CopyResult(ok, len([]rune(text)))
	if h.opts.onCopy != nil {
		h.opts.onCopy(ok)
	}
	h.copyClear = time.After(h.opts.copyDelay)
}

func (h *headless) status() string {
	if !h.dict.Supported() {
		return "Error: " + h.msgs.Unsupported
	}
	errMsg := ""
	if err := h.dict.Err(); err != nil {
		errMsg = err.Message
	}
	return dictation.StatusMessage(errMsg, h.copyStatus, h.dict.Listening(), h.msgs)
}

func (h *headless) print(force bool) {
	status, text := h.status(), h.dict.Text()
	if !force && h.printed && status == h.lastStatus && text == h.lastText {
		return
	}
	h.lastStatus, h.lastText, h.printed = status, text, true
	fmt.Fprintf(h.opts.out, "status: %s\n", status)
	fmt.Fprintf(h.opts.out, "text: %s\n", text)
}

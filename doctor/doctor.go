package doctor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"bolo/audio"
	"bolo/clipboard"
	"bolo/dictation"
	"bolo/hotkey"
	"bolo/recognition"
	"bolo/shutdown"
)

// Options carries the resolved configuration the checks run against.
type Options struct {
	Lang     string
	Device   string
	Deepgram recognition.DeepgramConfig // Audio and Device are filled in by Run
	Hotkey   bool                       // also check the global hotkey
}

const listenFor = 3 * time.Second

// Run executes interactive diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("bolo doctor - interactive system diagnostics")
	fmt.Println("============================================")

	total := 3
	if opts.Hotkey {
		total = 4
	}
	reader := bufio.NewReader(os.Stdin)

	allPass := true
	ctx, device, ok := checkAudio(1, total, opts.Device)
	if ok {
		defer ctx.Close()
		if !checkRecognition(2, total, reader, ctx, device, opts) {
			allPass = false
		}
	} else {
		allPass = false
	}
	if !checkClipboard(3, total) {
		allPass = false
	}
	if opts.Hotkey && !checkHotkey(4, total) {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func setupInterruptHandler() {
	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		resetTerminal()
		fmt.Println("\nInterrupted")
		os.Exit(1)
	}()
}

func header(n, total int, title string) {
	fmt.Println()
	fmt.Printf("[%d/%d] %s\n", n, total, title)
}

func checkAudio(n, total int, name string) (audio.Context, *audio.DeviceInfo, bool) {
	header(n, total, "Microphone")

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return nil, nil, false
	}

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		ctx.Close()
		return nil, nil, false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		ctx.Close()
		return nil, nil, false
	}
	for _, d := range devices {
		bt := ""
		if audio.IsBluetooth(d.Name) {
			bt = "  (bluetooth: expect lower accuracy)"
		}
		fmt.Printf("  - %s%s\n", d.Name, bt)
	}

	device, err := audio.FindDevice(ctx, name)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		ctx.Close()
		return nil, nil, false
	}
	if device != nil {
		fmt.Printf("  PASS: using %s\n", device.Name)
	} else {
		fmt.Println("  PASS: using system default")
	}
	return ctx, device, true
}

func checkRecognition(n, total int, reader *bufio.Reader, ctx audio.Context, device *audio.DeviceInfo, opts Options) bool {
	header(n, total, "Speech recognition")

	cfg := opts.Deepgram
	cfg.Audio = ctx
	cfg.Device = device
	svc := recognition.Lookup(recognition.LookupConfig{Provider: "deepgram", Deepgram: cfg})
	if svc == nil {
		fmt.Println("  FAIL: recognition unavailable: set DEEPGRAM_API_KEY")
		return false
	}

	fmt.Printf("Press Enter and speak (%s) for %.0f seconds...", opts.Lang, listenFor.Seconds())
	reader.ReadString('\n')

	text, derr := Listen(svc, opts.Lang, listenFor, os.Stdout)
	fmt.Println()
	if derr != nil && derr.Code != recognition.ErrNoSpeech {
		fmt.Printf("  FAIL: %s (%s)\n", derr.Message, derr.Code)
		return false
	}
	if text == "" {
		text = "(no speech detected)"
	}
	fmt.Printf("\n  Transcribed text: %s\n\n", text)

	fmt.Print("Is this correct? [y/n]: ")
	confirm, _ := reader.ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))
	if confirm == "y" || confirm == "yes" {
		fmt.Println("  PASS: transcription verified by user")
		return true
	}
	fmt.Println("  FAIL: transcription not confirmed")
	return false
}

// Listen runs one dictation session for d, then stops it and waits for the
// trailing results. It returns the transcript and the session error, if any.
// Progress dots go to w.
func Listen(svc recognition.Service, lang string, d time.Duration, w io.Writer) (string, *dictation.Error) {
	dict := dictation.New(svc, recognition.Config{Lang: lang})
	defer dict.Close()

	if !dict.StartListening() {
		return dict.Text(), dict.Err()
	}
	events := dict.Events()

	fmt.Fprint(w, "  Listening")
	stop := time.After(d)
	dots := time.NewTicker(500 * time.Millisecond)
	defer dots.Stop()
	// bounds the wait for a service that never closes its channel
	deadline := time.After(d + 5*time.Second)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				fmt.Fprintln(w, " done")
				return dict.Text(), dict.Err()
			}
			dict.Handle(ev)
		case <-stop:
			stop = nil
			dict.StopListening()
		case <-dots.C:
			fmt.Fprint(w, ".")
		case <-deadline:
			fmt.Fprintln(w, " timed out")
			return dict.Text(), dict.Err()
		}
	}
}

func checkClipboard(n, total int) bool {
	header(n, total, "Clipboard")

	if !clipboard.Available() {
		fmt.Printf("  FAIL: %v\n", clipboard.ErrUnavailable)
		fmt.Println("  Install xclip, xsel or wl-clipboard")
		return false
	}

	const sentinel = "বলো-doctor-test"
	previous, _ := clipboard.Read()
	if err := clipboard.Copy(sentinel); err != nil {
		fmt.Printf("  FAIL: clipboard copy failed: %v\n", err)
		return false
	}
	got, err := clipboard.Read()
	if previous != "" {
		_ = clipboard.Copy(previous)
	}
	if err != nil {
		fmt.Printf("  FAIL: could not read clipboard: %v\n", err)
		return false
	}
	if got != sentinel {
		fmt.Printf("  FAIL: clipboard round-trip mismatch (got %q, want %q)\n", got, sentinel)
		return false
	}
	fmt.Println("  PASS: clipboard round-trip verified")
	return true
}

func checkHotkey(n, total int) bool {
	header(n, total, "Global hotkey")
	fmt.Printf("Press %s...\n", hotkey.Combo)

	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		fmt.Printf("  FAIL: could not register hotkey: %v\n", err)
		if _, derr := hotkey.Diagnose(); derr != nil {
			fmt.Printf("  %v\n", derr)
		}
		return false
	}
	defer hk.Unregister()

	select {
	case <-hk.Pressed():
		fmt.Println("  PASS: hotkey detected")
		// the hotkey may leave the terminal in raw mode
		resetTerminal()
		return true
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for hotkey")
		return false
	}
}

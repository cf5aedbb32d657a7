package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"bolo/audio"
	"bolo/beep"
	"bolo/clipboard"
	"bolo/config"
	"bolo/dictation"
	"bolo/doctor"
	"bolo/hotkey"
	"bolo/log"
	"bolo/metrics"
	"bolo/recognition"
	"bolo/shutdown"
)

var version = "dev"

var crashFile *os.File

// initCrashLog points runtime crash output at crash_log.txt in the default
// log directory. run moves it once -logpath is known.
func initCrashLog() {
	dir, err := log.ResolveDir("")
	if err != nil {
		return
	}
	setCrashLog(dir)
}

func setCrashLog(dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	path := filepath.Join(dir, "crash_log.txt")
	if crashFile != nil && crashFile.Name() == path {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	if err := debug.SetCrashOutput(f, debug.CrashOptions{}); err != nil {
		f.Close()
		return
	}
	if crashFile != nil {
		crashFile.Close()
	}
	crashFile = f
}

func deviceLineText(wav string, dev *audio.DeviceInfo) string {
	if wav != "" {
		return "wav: " + filepath.Base(wav)
	}
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func run() {
	configFlag := flag.String("config", "", "YAML config file")
	langFlag := flag.String("lang", "", "Recognition language as a BCP 47 tag (default bn-BD)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	wavFlag := flag.String("wav", "", "Replay a 16 kHz WAV file instead of the microphone")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	headlessFlag := flag.Bool("headless", false, "Run without the TUI, reading commands from stdin")
	hotkeyFlag := flag.Bool("hotkey", false, "Toggle the microphone with "+hotkey.Combo+" from any window")
	noBeepFlag := flag.Bool("nobeep", false, "Disable audible cues")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	metricsFlag := flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g., :9090)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("bolo %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fatalf("%v", err)
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["lang"] {
		cfg.Language = *langFlag
	}
	if set["device"] {
		cfg.Audio.Device = *deviceFlag
	}
	if set["wav"] {
		cfg.Audio.WAV = *wavFlag
	}
	if set["logpath"] {
		cfg.Log.Path = *logPathFlag
	}
	if set["metrics"] {
		cfg.Metrics.Bind = *metricsFlag
	}
	if *noBeepFlag || *headlessFlag {
		cfg.UI.Beep = false
	}
	if err := cfg.Validate(); err != nil {
		fatalf("%v", err)
	}

	logPath, err := log.ResolveDir(cfg.Log.Path)
	if err != nil {
		fatalf("failed to resolve log directory: %v", err)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fatalf("could not create log directory: %v", err)
	}
	setCrashLog(log.Dir())
	if err := log.Init(cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	dgCfg := recognition.DeepgramConfig{
		APIKey:          cfg.Recognition.APIKey,
		URL:             cfg.Recognition.URL,
		Model:           cfg.Recognition.Model,
		SmartFormat:     true,
		NoSpeechTimeout: cfg.NoSpeechTimeout(),
		FinalizeTimeout: cfg.FinalizeTimeout(),
	}

	if *doctorFlag {
		os.Exit(doctor.Run(doctor.Options{
			Lang:     cfg.Language,
			Device:   cfg.Audio.Device,
			Deepgram: dgCfg,
			Hotkey:   *hotkeyFlag,
		}))
	}

	if cfg.UI.Beep {
		beep.Init()
	} else {
		beep.Disable()
	}

	var audioCtx audio.Context
	if cfg.Audio.WAV != "" {
		fileCtx, err := audio.NewFileContext(cfg.Audio.WAV)
		if err != nil {
			fatalf("loading WAV: %v", err)
		}
		audioCtx = fileCtx
	} else if ctx, err := audio.NewContext(); err != nil {
		// no microphone means no recognition; the view reports it
		log.Errorf("audio context init error: %v", err)
	} else {
		audioCtx = ctx
	}
	if audioCtx != nil {
		defer audioCtx.Close()
	}

	var device *audio.DeviceInfo
	if audioCtx != nil && cfg.Audio.WAV == "" {
		if *setupFlag && cfg.Audio.Device == "" {
			device, err = audio.SelectDevice(audioCtx)
			if err != nil {
				log.Warnf("device selection failed: %v", err)
				fmt.Printf("Warning: device selection failed: %v\n", err)
				fmt.Println("Falling back to default device")
				device = nil
			}
		} else if device, err = audio.FindDevice(audioCtx, cfg.Audio.Device); err != nil {
			log.Warnf("%v, using default device", err)
			fmt.Fprintf(os.Stderr, "Warning: %v, using default device\n", err)
		}
	}

	dgCfg.Audio = audioCtx
	dgCfg.Device = device
	var svc recognition.Service
	if audioCtx != nil {
		svc = recognition.Lookup(recognition.LookupConfig{
			Provider: cfg.Recognition.Provider,
			Deepgram: dgCfg,
		})
	}
	provider := "none"
	if svc != nil {
		provider = svc.Name()
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Bind != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Bind); err != nil {
				log.Errorf("metrics server: %v", err)
				fmt.Fprintf(os.Stderr, "Warning: metrics server: %v\n", err)
			}
		}()
	}

	dict := dictation.New(svc, recognition.Config{Lang: cfg.Language}, dictation.WithObserver(m.Observe))
	log.SessionStart(provider, cfg.Language, dict.Supported())
	defer func() { log.SessionEnd(dict.Sessions()) }()

	if *headlessFlag {
		// stop also cancels ctx; only a signal should exit from here
		finished := make(chan struct{})
		defer close(finished)
		go func() {
			select {
			case <-ctx.Done():
			case <-finished:
				return
			}
			select {
			case <-finished:
				return
			default:
			}
			log.SessionEnd(dict.Sessions())
			log.Close()
			os.Exit(0)
		}()
		err := runHeadless(dict, headlessOptions{
			in:        os.Stdin,
			out:       os.Stdout,
			copy:      clipboard.Copy,
			onCopy:    m.Copy,
			copyDelay: cfg.CopyStatusDelay(),
		})
		if err != nil {
			log.Errorf("headless: %v", err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return
	}

	hotkeyHint := ""
	if *hotkeyFlag {
		hotkeyHint = hotkey.Combo + " toggles mic"
	}
	model := newTUIModel(dict, tuiOptions{
		copy:      clipboard.Copy,
		onCopy:    m.Copy,
		copyDelay: cfg.CopyStatusDelay(),
		cues: cues{
			start: beep.PlayStart,
			end:   beep.PlayEnd,
			err:   beep.PlayError,
		},
		device:     deviceLineText(cfg.Audio.WAV, device),
		provider:   provider,
		hotkeyHint: hotkeyHint,
	})
	p := tea.NewProgram(model, tea.WithAltScreen())

	if *hotkeyFlag {
		hk := hotkey.New()
		if err := hk.Register(); err != nil {
			log.Warnf("hotkey registration failed: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: hotkey unavailable: %v\n", err)
		} else {
			defer hk.Unregister()
			go func() {
				for range hk.Pressed() {
					p.Send(hotkeyMsg{})
				}
			}()
		}
	}

	go func() {
		<-ctx.Done()
		p.Send(shutdownMsg{})
	}()

	if _, err := p.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

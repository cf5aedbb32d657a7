package recognition

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bolo/audio"

	"github.com/google/uuid"
)

const (
	DefaultDeepgramURL   = "wss://api.deepgram.com/v1/listen"
	DefaultDeepgramModel = "nova-2"
)

// Tags Deepgram accepts with a region subtag. Everything else is sent as the
// bare primary language.
var deepgramRegional = map[string]bool{
	"en-us": true, "en-gb": true, "en-au": true, "en-in": true, "en-nz": true,
	"es-419": true, "fr-ca": true, "pt-br": true, "pt-pt": true,
	"zh-cn": true, "zh-tw": true, "nl-be": true, "de-ch": true, "hi-latn": true,
}

type DeepgramConfig struct {
	APIKey      string
	URL         string
	Model       string
	SmartFormat bool

	NoSpeechTimeout time.Duration
	FinalizeTimeout time.Duration

	Audio  audio.Context
	Device *audio.DeviceInfo
}

// Deepgram streams microphone audio to Deepgram's live transcription API.
type Deepgram struct {
	cfg  DeepgramConfig
	dial func(ctx context.Context, endpoint, apiKey string) (rawStreamSession, error)
}

func NewDeepgram(cfg DeepgramConfig) *Deepgram {
	if cfg.URL == "" {
		cfg.URL = DefaultDeepgramURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultDeepgramModel
	}
	return &Deepgram{cfg: cfg, dial: dialDeepgram}
}

func (d *Deepgram) Name() string { return "deepgram" }

func (d *Deepgram) NewSession(cfg Config) Session {
	endpoint := d.endpoint(cfg)
	return newStreamSession(uuid.NewString(), cfg, streamOptions{
		Provider: d.Name(),
		Dial: func(ctx context.Context) (rawStreamSession, error) {
			return d.dial(ctx, endpoint, d.cfg.APIKey)
		},
		Audio:           d.cfg.Audio,
		Device:          d.cfg.Device,
		NoSpeechTimeout: d.cfg.NoSpeechTimeout,
		FinalizeTimeout: d.cfg.FinalizeTimeout,
	})
}

func (d *Deepgram) endpoint(cfg Config) string {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		u = &url.URL{Scheme: "wss", Host: "api.deepgram.com", Path: "/v1/listen"}
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(audio.SampleRate))
	q.Set("channels", strconv.Itoa(audio.Channels))
	if lang := deepgramLanguage(cfg.Lang); lang != "" {
		q.Set("language", lang)
	}
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	if d.cfg.SmartFormat {
		q.Set("smart_format", "true")
	}
	if cfg.MaxAlternatives > 1 {
		q.Set("alternatives", fmt.Sprint(cfg.MaxAlternatives))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func deepgramLanguage(tag string) string {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return ""
	}
	lower := strings.ToLower(tag)
	if deepgramRegional[lower] {
		return tag
	}
	primary, _, _ := strings.Cut(lower, "-")
	return primary
}

package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

const (
	fileFrameSize     = 1024
	fileBytesPerFrame = 2 // 16-bit mono
)

// FileContext replays a WAV file as if it were a microphone. Used for headless
// runs and tests; playback is paced in real time and followed by silence.
type FileContext struct {
	path string
	pcm  []byte
}

func NewFileContext(path string) (*FileContext, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", path, err)
	}
	if int(dec.SampleRate) != SampleRate {
		return nil, fmt.Errorf("%s: sample rate %d Hz, want %d Hz", path, dec.SampleRate, SampleRate)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	shift := int(dec.BitDepth) - BitsPerSample
	frames := len(buf.Data) / channels
	pcm := make([]byte, frames*fileBytesPerFrame)
	for i := 0; i < frames; i++ {
		s := buf.Data[i*channels] // first channel only
		switch {
		case shift > 0:
			s >>= shift
		case shift < 0:
			s <<= -shift
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return &FileContext{path: path, pcm: pcm}, nil
}

// NewPCMContext replays raw PCM16 mono samples.
func NewPCMContext(pcm []byte) *FileContext {
	return &FileContext{path: "pcm", pcm: pcm}
}

func (f *FileContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: f.path, Name: "file: " + f.path}}, nil
}

func (f *FileContext) Close() {}

func (f *FileContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &FileCapture{pcm: f.pcm, name: "file: " + f.path, audioDone: make(chan struct{})}, nil
}

type FileCapture struct {
	pcm       []byte
	name      string
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone is closed once the whole file has been delivered.
func (f *FileCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FileCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FileCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FileCapture) DeviceName() string { return f.name }

func (f *FileCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FileCapture) Start() error {
	f.mu.Lock()
	if f.stopCh != nil {
		f.mu.Unlock()
		return fmt.Errorf("file capture already started")
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	f.stopCh, f.feedDone = stop, done
	f.mu.Unlock()

	chunkBytes := fileFrameSize * fileBytesPerFrame
	interval := time.Duration(fileFrameSize) * time.Second / time.Duration(SampleRate)

	go func() {
		defer close(done)
		silence := make([]byte, chunkBytes)
		pos := 0
		finished := false
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if cb := f.callback(); cb != nil {
				if pos < len(f.pcm) {
					end := min(pos+chunkBytes, len(f.pcm))
					chunk := make([]byte, end-pos)
					copy(chunk, f.pcm[pos:end])
					cb(chunk, uint32(len(chunk)/fileBytesPerFrame))
					pos = end
				} else {
					if !finished {
						finished = true
						close(f.audioDone)
					}
					cb(silence, fileFrameSize)
				}
			}
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (f *FileCapture) Stop() {
	f.mu.Lock()
	stop, done := f.stopCh, f.feedDone
	f.mu.Unlock()
	if stop == nil {
		return
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	<-done
}

func (f *FileCapture) Close() { f.Stop() }

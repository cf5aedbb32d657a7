package dictation

import (
	"fmt"
	"strings"

	"bolo/recognition"
)

// Error is a recognition failure as shown to the user.
type Error struct {
	Code    recognition.ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(code recognition.ErrorCode) *Error {
	return &Error{Code: code, Message: ErrorMessage(code)}
}

// ErrorMessage maps a recognition error code to its display text.
func ErrorMessage(code recognition.ErrorCode) string {
	switch code {
	case recognition.ErrNoSpeech:
		return "No speech was detected."
	case recognition.ErrAudioCapture:
		return "Audio capture failed. Check microphone permissions."
	case recognition.ErrNotAllowed:
		return "Microphone access denied."
	}
	return fmt.Sprintf("An error occurred: %s", code)
}

// Messages is the user-facing text for one locale.
type Messages struct {
	Title       string
	Subtitle    string
	Placeholder string
	Listening   string
	Idle        string
	Copied      string
	CopyFailed  string
	Unsupported string
}

var bengali = Messages{
	Title:       "Bangla Voice Typing",
	Subtitle:    "সহজেই ভয়েস দিয়ে বাংলা টাইপ করুন",
	Placeholder: "আপনার বলা কথা এখানে প্রদর্শিত হবে...",
	Listening:   "শুনছি...",
	Idle:        "মাইক্রোফোন ক্লিক করে কথা বলা শুরু করুন",
	Copied:      "Copied to clipboard!",
	CopyFailed:  "Failed to copy text.",
	Unsupported: "Your environment does not support speech recognition. Set DEEPGRAM_API_KEY and check your microphone.",
}

var english = Messages{
	Title:       "Voice Typing",
	Subtitle:    "Type with your voice",
	Placeholder: "What you say will appear here...",
	Listening:   "Listening...",
	Idle:        "Press space to start speaking",
	Copied:      "Copied to clipboard!",
	CopyFailed:  "Failed to copy text.",
	Unsupported: "Your environment does not support speech recognition. Set DEEPGRAM_API_KEY and check your microphone.",
}

// MessagesFor picks the catalog for a BCP 47 tag: Bengali for bn*, English otherwise.
func MessagesFor(lang string) Messages {
	primary, _, _ := strings.Cut(strings.ToLower(strings.ReplaceAll(lang, "_", "-")), "-")
	if primary == "bn" {
		return bengali
	}
	return english
}

// StatusMessage picks the status line: error, then copy status, then the
// listening indicator, then the idle prompt.
func StatusMessage(errMsg, copyStatus string, listening bool, m Messages) string {
	switch {
	case errMsg != "":
		return errMsg
	case copyStatus != "":
		return copyStatus
	case listening:
		return m.Listening
	}
	return m.Idle
}

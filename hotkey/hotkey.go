package hotkey

// Hotkey is a system-wide key combination (Ctrl+Shift+Space). Pressed fires
// once per press; auto-repeat and release are swallowed.
type Hotkey interface {
	Register() error
	Unregister()
	Pressed() <-chan struct{}
}

const Combo = "Ctrl+Shift+Space"

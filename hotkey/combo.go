package hotkey

// evdev key codes, linux/input-event-codes.h
const (
	evKey      = 1
	keyPress   = 1
	keyRelease = 0
	keyLCtrl   = 29
	keyRCtrl   = 97
	keyLShift  = 42
	keyRShift  = 54
	keySpace   = 57
)

type comboState struct {
	ctrl, shift, space bool
}

// feed applies one key event and reports whether Ctrl+Shift+Space was just pressed.
func (c *comboState) feed(code uint16, value int32) bool {
	pressed := value == keyPress
	released := value == keyRelease

	switch code {
	case keyLCtrl, keyRCtrl:
		c.ctrl = pressed || (!released && c.ctrl)
	case keyLShift, keyRShift:
		c.shift = pressed || (!released && c.shift)
	case keySpace:
		if pressed && !c.space && c.ctrl && c.shift {
			c.space = true
			return true
		}
		if released {
			c.space = false
		}
	}
	return false
}

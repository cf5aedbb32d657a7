package hotkey

type FakeHotkey struct {
	pressed    chan struct{}
	registered bool
}

func NewFake() *FakeHotkey {
	return &FakeHotkey{pressed: make(chan struct{}, 1)}
}

func (f *FakeHotkey) Register() error {
	f.registered = true
	return nil
}

func (f *FakeHotkey) Unregister()              { f.registered = false }
func (f *FakeHotkey) Pressed() <-chan struct{} { return f.pressed }
func (f *FakeHotkey) Registered() bool         { return f.registered }

func (f *FakeHotkey) SimPress() { f.pressed <- struct{}{} }

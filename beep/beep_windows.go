//go:build windows

package beep

// No audio playback on Windows; beeps are silent.

func Init()      {}
func PlayStart() {}
func PlayEnd()   {}
func PlayError() {}

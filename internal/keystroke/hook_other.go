//go:build !darwin && !linux && !windows

package keystroke

type stubHook struct{}

func newPlatformSource() Source {
	return newHookSource(stubHook{})
}

func (stubHook) available() (bool, string) {
	return false, "keyboard capture not implemented for this platform"
}

func (stubHook) run(func(Message)) error {
	return ErrNotAvailable
}

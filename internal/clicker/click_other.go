//go:build !windows

package clicker

type stubDispatcher struct{}

func newPlatformDispatcher() Dispatcher {
	return &stubDispatcher{}
}

func (d *stubDispatcher) Click(Request) error {
	return ErrUnsupportedPlatform
}

//go:build !linux

package capture

import (
	"runtime"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
)

// NewPlatformSource reports that no hook exists for this platform.
func NewPlatformSource() (EventSource, error) {
	return nil, keyerrors.NewHookUnavailable("keyboard hook not implemented on " + runtime.GOOS)
}

// NewPlatformProber returns a prober that reports an empty context.
func NewPlatformProber() WindowProber {
	return &StaticProber{}
}

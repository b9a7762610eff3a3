//go:build linux

package capture

import (
	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/logging"
)

// NewPlatformSource returns the keyboard hook for this host. Wayland
// sessions are refused up front: without the X11 window probe every
// event would carry an empty context, and the ignore filters could not
// hold.
func NewPlatformSource() (EventSource, error) {
	if SessionIsWayland() {
		return nil, keyerrors.NewHookUnavailable("wayland session: active-window probing requires X11")
	}
	return NewEvdevSource(), nil
}

// NewPlatformProber returns the active-window prober, falling back to a
// static empty context when no X server is reachable.
func NewPlatformProber() WindowProber {
	p, err := NewX11Prober()
	if err != nil {
		log := logging.Component("capture")
		log.Warn().Err(err).
			Msg("X11 unavailable, window context will be empty")
		return &StaticProber{}
	}
	return p
}

//go:build linux

package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/keys"
	"github.com/hpungsan/keyai/internal/logging"
)

// inputEventSize is sizeof(struct input_event) on 64-bit Linux:
// two int64 timestamp words plus type, code, value.
const inputEventSize = 24

// EvdevSource reads raw key events from the kernel input layer. It opens
// every keyboard-class device listed in /proc/bus/input/devices and runs
// one reader per device; Close unblocks the readers by closing the fds.
type EvdevSource struct {
	mu      sync.Mutex
	devices []*os.File
}

// NewEvdevSource returns the Linux keyboard hook.
func NewEvdevSource() *EvdevSource { return &EvdevSource{} }

// Open enumerates keyboard devices and opens their event nodes. No
// readable keyboard maps to HookUnavailable; a node we can see but not
// read maps to PermissionDenied (the usual fix is membership in the
// "input" group).
func (s *EvdevSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.devices) > 0 {
		return nil
	}

	nodes, err := keyboardEventNodes()
	if err != nil {
		return keyerrors.NewHookUnavailable(err.Error())
	}
	if len(nodes) == 0 {
		return keyerrors.NewHookUnavailable("no keyboard devices found under /dev/input")
	}

	var opened []*os.File
	var permErr error
	for _, node := range nodes {
		f, err := os.OpenFile(node, os.O_RDONLY, 0)
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				permErr = keyerrors.NewPermissionDenied(node, err)
				continue
			}
			continue
		}
		opened = append(opened, f)
	}
	if len(opened) == 0 {
		if permErr != nil {
			return permErr
		}
		return keyerrors.NewHookUnavailable("no keyboard device could be opened")
	}
	s.devices = opened
	return nil
}

// Run blocks reading events until the context is cancelled or every
// device reader fails. Key repeats (value 2) are skipped; only presses
// and releases reach emit.
func (s *EvdevSource) Run(ctx context.Context, emit func(keys.RawKeyEvent)) error {
	s.mu.Lock()
	devices := s.devices
	s.mu.Unlock()
	if len(devices) == 0 {
		return keyerrors.NewHookUnavailable("hook not open")
	}

	log := logging.Component("evdev")
	errCh := make(chan error, len(devices))
	var wg sync.WaitGroup
	for i, f := range devices {
		wg.Add(1)
		go func(dev int32, f *os.File) {
			defer wg.Done()
			errCh <- readDevice(dev, f, emit)
		}(int32(i), f)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		s.Close()
		<-done
		return ctx.Err()
	case <-done:
	}

	// All readers exited without cancellation: surface the first error.
	s.Close()
	for {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, fs.ErrClosed) {
				log.Warn().Err(err).Msg("device reader exited")
				return fmt.Errorf("evdev read: %w", err)
			}
		default:
			return fmt.Errorf("all keyboard devices closed")
		}
	}
}

// Close releases every open device node. Safe to call concurrently with
// Run; the blocked reads fail with ErrClosed.
func (s *EvdevSource) Close() error {
	s.mu.Lock()
	devices := s.devices
	s.devices = nil
	s.mu.Unlock()

	var first error
	for _, f := range devices {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// readDevice decodes input_event records from one node until the read
// fails (normally because Close pulled the fd).
func readDevice(dev int32, f *os.File, emit func(keys.RawKeyEvent)) error {
	buf := make([]byte, inputEventSize*64)
	for {
		n, err := f.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		for off := 0; off+inputEventSize <= n; off += inputEventSize {
			rec := buf[off : off+inputEventSize]
			typ := binary.LittleEndian.Uint16(rec[16:18])
			if typ != unix.EV_KEY {
				continue
			}
			value := int32(binary.LittleEndian.Uint32(rec[20:24]))
			var kind keys.Kind
			switch value {
			case 0:
				kind = keys.Release
			case 1:
				kind = keys.Press
			default:
				// autorepeat
				continue
			}
			sec := int64(binary.LittleEndian.Uint64(rec[0:8]))
			usec := int64(binary.LittleEndian.Uint64(rec[8:16]))
			emit(keys.RawKeyEvent{
				TS:     sec*1000 + usec/1000,
				Code:   binary.LittleEndian.Uint16(rec[18:20]),
				Kind:   kind,
				Device: dev,
			})
		}
	}
}

// keyboardEventNodes parses /proc/bus/input/devices for devices whose
// handler list carries both "kbd" and an eventN node.
func keyboardEventNodes() ([]string, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var nodes []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "H: Handlers=") {
			continue
		}
		handlers := strings.Fields(strings.TrimPrefix(line, "H: Handlers="))
		hasKbd := false
		event := ""
		for _, h := range handlers {
			if h == "kbd" {
				hasKbd = true
			}
			if strings.HasPrefix(h, "event") {
				event = h
			}
		}
		if hasKbd && event != "" {
			nodes = append(nodes, filepath.Join("/dev/input", event))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nodes, nil
}

// SessionIsWayland reports whether the desktop session runs on Wayland,
// where the X11 window probe cannot see the active window.
func SessionIsWayland() bool {
	if strings.EqualFold(os.Getenv("XDG_SESSION_TYPE"), "wayland") {
		return true
	}
	return os.Getenv("WAYLAND_DISPLAY") != ""
}

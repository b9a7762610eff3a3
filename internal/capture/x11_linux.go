//go:build linux

package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// X11Prober resolves the active window through the EWMH root properties.
// One X connection is held for the prober's lifetime; atoms are interned
// once and cached.
type X11Prober struct {
	mu    sync.Mutex
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom
}

var _ WindowProber = (*X11Prober)(nil)

// NewX11Prober connects to the display named by DISPLAY.
func NewX11Prober() (*X11Prober, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connect to X server: %w", err)
	}
	p := &X11Prober{
		conn:  conn,
		root:  xproto.Setup(conn).DefaultScreen(conn).Root,
		atoms: make(map[string]xproto.Atom),
	}
	for _, name := range []string{
		"_NET_ACTIVE_WINDOW", "_NET_WM_NAME", "_NET_WM_PID", "UTF8_STRING",
	} {
		if _, err := p.atom(name); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *X11Prober) atom(name string) (xproto.Atom, error) {
	if a, ok := p.atoms[name]; ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(p.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("intern atom %s: %w", name, err)
	}
	p.atoms[name] = reply.Atom
	return reply.Atom, nil
}

// Probe reads _NET_ACTIVE_WINDOW from the root, then the window's title
// (_NET_WM_NAME, falling back to WM_NAME), class, and PID.
func (p *X11Prober) Probe(ctx context.Context) (WindowContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return WindowContext{}, err
	}

	active, err := p.property(p.root, p.atoms["_NET_ACTIVE_WINDOW"], xproto.AtomWindow)
	if err != nil {
		return WindowContext{}, err
	}
	if len(active) < 4 {
		return WindowContext{}, fmt.Errorf("no active window")
	}
	win := xproto.Window(xgb.Get32(active))
	if win == 0 {
		return WindowContext{}, fmt.Errorf("no active window")
	}

	out := WindowContext{
		Title:       p.windowTitle(win),
		Application: p.windowClass(win),
	}
	if pid, err := p.property(win, p.atoms["_NET_WM_PID"], xproto.AtomCardinal); err == nil && len(pid) >= 4 {
		out.PID = int32(xgb.Get32(pid))
	}
	return out, nil
}

func (p *X11Prober) windowTitle(win xproto.Window) string {
	if v, err := p.property(win, p.atoms["_NET_WM_NAME"], p.atoms["UTF8_STRING"]); err == nil && len(v) > 0 {
		return string(v)
	}
	if v, err := p.property(win, xproto.AtomWmName, xproto.AtomString); err == nil {
		return string(v)
	}
	return ""
}

// windowClass returns the second WM_CLASS string (the class name, e.g.
// "Firefox"), falling back to the instance name.
func (p *X11Prober) windowClass(win xproto.Window) string {
	v, err := p.property(win, xproto.AtomWmClass, xproto.AtomString)
	if err != nil || len(v) == 0 {
		return ""
	}
	parts := strings.Split(strings.TrimRight(string(v), "\x00"), "\x00")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	return parts[0]
}

func (p *X11Prober) property(win xproto.Window, prop, typ xproto.Atom) ([]byte, error) {
	reply, err := xproto.GetProperty(p.conn, false, win, prop, typ, 0, 1<<16).Reply()
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (p *X11Prober) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}

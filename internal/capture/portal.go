// Package capture integrates the external capture collaborators: the
// xdg-desktop-portal ScreenCast negotiation that yields a PipeWire stream,
// the subprocess-backed raw sources, and the worker loops that stamp shared
// clock timestamps onto raw samples and feed the recorder's channels.
package capture

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/godbus/dbus/v5"
)

const (
	portalDest      = "org.freedesktop.portal.Desktop"
	portalPath      = dbus.ObjectPath("/org/freedesktop/portal/desktop")
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"
)

// Portal ScreenCast option values (org.freedesktop.portal.ScreenCast).
const (
	sourceTypeMonitor  uint32 = 1
	cursorModeEmbedded uint32 = 2
)

// PortalSession is a negotiated ScreenCast session: the PipeWire node that
// carries the screen content, its pixel size, and the connection fd handed
// out by OpenPipeWireRemote.
type PortalSession struct {
	NodeID     uint32
	Width      int
	Height     int
	PipeWireFD int

	conn *dbus.Conn
	path dbus.ObjectPath
}

// OpenPortalSession walks the portal handshake: CreateSession, SelectSources
// (full monitor, cursor embedded), Start, OpenPipeWireRemote. Start blocks
// until the user approves the screen share dialog. If log is nil,
// slog.Default() is used.
func OpenPortalSession(log *slog.Logger) (*PortalSession, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "portal")

	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("capture: connect session bus: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		return nil, fmt.Errorf("capture: subscribe portal responses: %w", err)
	}

	p := &PortalSession{conn: conn}

	results, err := p.request("CreateSession", map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(token()),
		"session_handle_token": dbus.MakeVariant(token()),
	})
	if err != nil {
		return nil, fmt.Errorf("capture: CreateSession: %w", err)
	}
	handle, ok := results["session_handle"]
	if !ok {
		return nil, fmt.Errorf("capture: CreateSession response missing session_handle")
	}
	sessionPath, ok := handle.Value().(string)
	if !ok {
		return nil, fmt.Errorf("capture: session_handle has unexpected type %T", handle.Value())
	}
	p.path = dbus.ObjectPath(sessionPath)

	_, err = p.request("SelectSources", p.path, map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(token()),
		"types":        dbus.MakeVariant(sourceTypeMonitor),
		"cursor_mode":  dbus.MakeVariant(cursorModeEmbedded),
	})
	if err != nil {
		return nil, fmt.Errorf("capture: SelectSources: %w", err)
	}

	log.Info("waiting for screen share approval")
	results, err = p.request("Start", p.path, "", map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(token()),
	})
	if err != nil {
		return nil, fmt.Errorf("capture: Start: %w", err)
	}
	if err := p.parseStreams(results); err != nil {
		return nil, err
	}

	var fd dbus.UnixFD
	call := conn.Object(portalDest, portalPath).Call(
		screenCastIface+".OpenPipeWireRemote", 0, p.path, map[string]dbus.Variant{})
	if call.Err != nil {
		return nil, fmt.Errorf("capture: OpenPipeWireRemote: %w", call.Err)
	}
	if err := call.Store(&fd); err != nil {
		return nil, fmt.Errorf("capture: OpenPipeWireRemote fd: %w", err)
	}
	p.PipeWireFD = int(fd)

	log.Info("screencast session ready",
		"node", p.NodeID, "width", p.Width, "height", p.Height)
	return p, nil
}

// request performs one portal method call and waits for the matching
// org.freedesktop.portal.Request.Response signal.
func (p *PortalSession) request(method string, args ...any) (map[string]dbus.Variant, error) {
	signals := make(chan *dbus.Signal, 16)
	p.conn.Signal(signals)
	defer p.conn.RemoveSignal(signals)

	call := p.conn.Object(portalDest, portalPath).Call(screenCastIface+"."+method, 0, args...)
	if call.Err != nil {
		return nil, call.Err
	}
	var reqPath dbus.ObjectPath
	if err := call.Store(&reqPath); err != nil {
		return nil, err
	}

	for sig := range signals {
		if sig.Name != requestIface+".Response" || sig.Path != reqPath {
			continue
		}
		if len(sig.Body) != 2 {
			return nil, fmt.Errorf("malformed portal response")
		}
		status, _ := sig.Body[0].(uint32)
		if status != 0 {
			return nil, fmt.Errorf("request cancelled (status %d)", status)
		}
		results, _ := sig.Body[1].(map[string]dbus.Variant)
		return results, nil
	}
	return nil, fmt.Errorf("signal channel closed before response")
}

// parseStreams extracts the first stream's node id and size from the Start
// response. The portal reports streams as a(ua{sv}).
func (p *PortalSession) parseStreams(results map[string]dbus.Variant) error {
	v, ok := results["streams"]
	if !ok {
		return fmt.Errorf("capture: Start response has no streams")
	}
	raw, ok := v.Value().([][]any)
	if !ok || len(raw) == 0 || len(raw[0]) < 2 {
		return fmt.Errorf("capture: streams have unexpected shape %T", v.Value())
	}

	nodeID, ok := raw[0][0].(uint32)
	if !ok {
		return fmt.Errorf("capture: stream node id has unexpected type %T", raw[0][0])
	}
	p.NodeID = nodeID

	props, _ := raw[0][1].(map[string]dbus.Variant)
	if size, ok := props["size"]; ok {
		if pair, ok := size.Value().([]any); ok && len(pair) == 2 {
			if w, ok := pair[0].(int32); ok {
				p.Width = int(w)
			}
			if h, ok := pair[1].(int32); ok {
				p.Height = int(h)
			}
		}
	}
	if p.Width == 0 || p.Height == 0 {
		return fmt.Errorf("capture: portal did not report stream size")
	}
	return nil
}

// Close ends the portal session.
func (p *PortalSession) Close() error {
	if p.path != "" {
		p.conn.Object(portalDest, p.path).Call("org.freedesktop.portal.Session.Close", 0)
	}
	return p.conn.Close()
}

func token() string {
	return fmt.Sprintf("replayd%d", rand.Uint32())
}

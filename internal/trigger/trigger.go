// Package trigger exposes the save trigger over the session D-Bus: external
// tooling (a hotkey daemon, a shell alias) calls a single method to request
// that the current rolling window be exported.
package trigger

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// Well-known bus identity of the replay service.
const (
	BusName    = "dev.replayd.Replay"
	ObjectPath = dbus.ObjectPath("/dev/replayd/Replay")
	Interface  = "dev.replayd.Replay"
)

const introspectXML = `
<node>
	<interface name="` + Interface + `">
		<method name="Save"/>
	</interface>` + introspect.IntrospectDataString + `</node>`

// Service receives save requests and forwards them on a single-slot channel.
// A trigger arriving while one is already pending is dropped: repeated
// triggers express the same intent and are not queued.
type Service struct {
	log   *slog.Logger
	saves chan struct{}
}

// NewService creates a Service. If log is nil, slog.Default() is used.
func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:   log.With("component", "trigger"),
		saves: make(chan struct{}, 1),
	}
}

// Saves returns the channel save requests are delivered on.
func (s *Service) Saves() <-chan struct{} {
	return s.saves
}

// Save is the exported D-Bus method. It returns immediately; the export
// happens asynchronously in the recorder.
func (s *Service) Save() *dbus.Error {
	select {
	case s.saves <- struct{}{}:
		s.log.Info("save trigger received")
	default:
		s.log.Debug("save already pending, dropping trigger")
	}
	return nil
}

// methodTable is the complete set of methods published on the bus, kept in
// lockstep with the introspection XML.
func (s *Service) methodTable() map[string]interface{} {
	return map[string]interface{}{"Save": s.Save}
}

// Export publishes the service on conn under the well-known name. Only the
// method table is exported, so the bus surface is exactly Save.
func (s *Service) Export(conn *dbus.Conn) error {
	if err := conn.ExportMethodTable(s.methodTable(), ObjectPath, Interface); err != nil {
		return fmt.Errorf("trigger: export object: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), ObjectPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("trigger: export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("trigger: request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("trigger: bus name %q already taken", BusName)
	}
	return nil
}

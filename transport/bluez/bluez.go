//go:build linux

// Package bluez implements the btlink transport over the BlueZ D-Bus API.
// Listening registers a server-role SPP profile; BlueZ hands each inbound
// RFCOMM connection to the profile object as a Unix file descriptor.
//
// Requires bluetoothd on the system bus and a powered adapter. Most
// environments need elevated privileges for RegisterProfile.
package bluez

import (
	"os"
	"strings"
	"sync"

	dbus "github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"btlink/transport"
	"btlink/utils"
)

const (
	bluezService        = "org.bluez"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	deviceIface         = "org.bluez.Device1"
	propsIface          = "org.freedesktop.DBus.Properties"

	// rfcommChannel is the fixed server-side RFCOMM channel of the profile.
	rfcommChannel uint16 = 22
)

// Transport registers SPP profiles with BlueZ. The zero value is usable;
// ServiceName defaults to "btlink".
type Transport struct {
	// ServiceName becomes the SDP service name of registered profiles.
	ServiceName string
}

// Listen connects a private system-bus connection, exports a Profile1
// object on a unique path and registers it with BlueZ under the given
// service tag.
func (t Transport) Listen(serviceTag string) (transport.Listener, error) {
	name := t.ServiceName
	if name == "" {
		name = "btlink"
	}
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect system bus")
	}

	l := &listener{
		bus:     bus,
		prof:    &profile{ch: make(chan utils.Result[accepted], 1)},
		path:    dbus.ObjectPath("/btlink/profile/p" + strings.ReplaceAll(uuid.New().String(), "-", "")),
		closeCh: make(chan struct{}),
	}
	if err := bus.Export(l.prof, l.path, profileIface); err != nil {
		bus.Close()
		return nil, errors.Wrap(err, "export profile")
	}
	opts := map[string]dbus.Variant{
		"Name": dbus.MakeVariant(name),
		"Role": dbus.MakeVariant("server"),
		// BlueZ expects Channel as a uint16.
		"Channel": dbus.MakeVariant(rfcommChannel),
	}
	pm := bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, l.path, serviceTag, opts); call.Err != nil {
		_ = bus.Export(nil, l.path, profileIface)
		bus.Close()
		return nil, errors.Wrap(call.Err, "RegisterProfile")
	}
	log.Debugf("registered SPP profile %s (service %s, channel %d)", l.path, serviceTag, rfcommChannel)
	return l, nil
}

type accepted struct {
	fd   int
	path dbus.ObjectPath
}

// profile implements org.bluez.Profile1 and forwards NewConnection FDs.
type profile struct {
	ch chan utils.Result[accepted]
}

// Release is called by BlueZ when the profile is being released.
func (p *profile) Release() *dbus.Error { return nil }

// Cancel may be called to indicate a canceled request.
func (p *profile) Cancel() *dbus.Error { return nil }

// RequestDisconnection is ignored; the connection owner closes the FD.
func (p *profile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

// NewConnection delivers an inbound RFCOMM FD to the pending Accept.
func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	select {
	case p.ch <- utils.Result[accepted]{Val: accepted{fd: int(fd), path: dev}}:
		return nil
	default:
		// No receiver; close the FD to avoid a leak.
		_ = os.NewFile(uintptr(fd), "rfcomm").Close()
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"no receiver"}}
	}
}

type listener struct {
	bus     *dbus.Conn
	prof    *profile
	path    dbus.ObjectPath
	closeCh chan struct{}
	once    sync.Once
}

// Accept blocks until BlueZ delivers a connection or the listener is
// closed. The returned Conn owns the file descriptor.
func (l *listener) Accept() (transport.Conn, error) {
	select {
	case res := <-l.prof.ch:
		if res.Err != nil {
			return nil, res.Err
		}
		f := os.NewFile(uintptr(res.Val.fd), "rfcomm")
		return &conn{f: f, name: resolveName(l.bus, res.Val.path)}, nil
	case <-l.closeCh:
		return nil, errors.New("listener closed")
	}
}

// Close unregisters the profile and unblocks a pending Accept. Idempotent.
func (l *listener) Close() error {
	l.once.Do(func() {
		close(l.closeCh)
		pm := l.bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
		if err := pm.Call(profileManagerIface+".UnregisterProfile", 0, l.path).Err; err != nil {
			log.Debugf("UnregisterProfile %s: %v", l.path, err)
		}
		_ = l.bus.Export(nil, l.path, profileIface)
		_ = l.bus.Close()
	})
	return nil
}

type conn struct {
	f    *os.File
	name string
}

func (c *conn) OpenStream() (transport.Stream, error) {
	return c.f, nil
}

func (c *conn) RemoteName() string {
	return c.name
}

func (c *conn) Close() error {
	return c.f.Close()
}

// resolveName reads the remote's Device1 Name (falling back to Alias, then
// to the MAC encoded in the object path).
func resolveName(bus *dbus.Conn, path dbus.ObjectPath) string {
	obj := bus.Object(bluezService, path)
	for _, prop := range []string{"Name", "Alias"} {
		var v dbus.Variant
		if call := obj.Call(propsIface+".Get", 0, deviceIface, prop); call.Err == nil {
			if err := call.Store(&v); err == nil {
				if s, ok := v.Value().(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return macFromPath(path)
}

func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	// Expect .../dev_XX_XX_XX_XX_XX_XX
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}

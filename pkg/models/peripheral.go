package models

import (
	"strings"
	"time"

	"github.com/go-ble/ble"
)

// PeripheralID is the platform assigned identity of a physical device.
// It is a MAC address on Linux and a device UUID on macOS/iOS, stable across sessions.
type PeripheralID string

// NewPeripheralID normalizes s into an identity
func NewPeripheralID(s string) PeripheralID {
	return PeripheralID(strings.ToUpper(s))
}

func (id PeripheralID) String() string { return string(id) }

// Peripheral is a remote device known to the central
type Peripheral struct {
	ID   PeripheralID
	Name string
}

// DisplayName returns the advertised name, or the identity when the device has none
func (p Peripheral) DisplayName() string {
	if p.Name == "" {
		return p.ID.String()
	}
	return p.Name
}

// Discovery is a single advertisement report for a peripheral
type Discovery struct {
	Peripheral       Peripheral
	LocalName        string
	Services         []ble.UUID
	SolicitedService []ble.UUID
	ManufacturerData []byte
	TxPowerLevel     int
	Connectable      bool
	RSSI             int
	Timestamp        time.Time
}

// Advertises reports whether the discovery lists service u in its advertisement
func (d Discovery) Advertises(u ble.UUID) bool {
	return ble.Contains(d.Services, u) || ble.Contains(d.SolicitedService, u)
}

// ConnectionEvent is raised by the platform when a registered peripheral
// connects or disconnects outside of this process' control
type ConnectionEvent int

const (
	// PeerDisconnected means the system link to the peripheral went down
	PeerDisconnected ConnectionEvent = iota
	// PeerConnected means the system link to the peripheral came up
	PeerConnected
)

func (e ConnectionEvent) String() string {
	return []string{"PeerDisconnected", "PeerConnected"}[e]
}

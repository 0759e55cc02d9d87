package platform

import (
	"time"

	. "github.com/Krajiyah/glasslink/pkg/models"
	"github.com/Krajiyah/glasslink/pkg/util"
	"github.com/go-ble/ble"
)

// ScanOptions controls an active scan
type ScanOptions struct {
	// AllowDuplicates reports every advertisement instead of one per peripheral
	AllowDuplicates bool
	// SolicitedServices also matches peripherals soliciting one of these services
	SolicitedServices []ble.UUID
}

// RegisterOptions selects the peripherals whose link changes raise connection events
type RegisterOptions struct {
	PeripheralIDs []PeripheralID
	ServiceUUIDs  []ble.UUID
}

// ConnectOptions mirrors the alerts a system may raise for a connected peripheral
type ConnectOptions struct {
	NotifyOnConnection    bool
	NotifyOnDisconnection bool
	NotifyOnNotification  bool
}

// DefaultConnectOptions enables every alert
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{NotifyOnConnection: true, NotifyOnDisconnection: true, NotifyOnNotification: true}
}

// WriteMode selects acknowledged or unacknowledged writes
type WriteMode int

const (
	WithResponse WriteMode = iota
	WithoutResponse
)

// Central is the local BLE radio in the central role. Every method returns
// immediately and reports its outcome through the Delegate.
type Central interface {
	SetDelegate(Delegate)
	State() RadioState

	Scan(filter []ble.UUID, opts ScanOptions) error
	StopScan()
	RegisterForConnectionEvents(opts RegisterOptions)
	Retrieve(ids []PeripheralID) []Peripheral

	Connect(p Peripheral, opts ConnectOptions)
	CancelConnection(p Peripheral)
	DiscoverServices(p Peripheral, filter []ble.UUID)
	DiscoverCharacteristics(p Peripheral, service ble.UUID, filter []ble.UUID)
	Write(p Peripheral, c *Characteristic, data []byte, mode WriteMode)
	SetNotify(p Peripheral, c *Characteristic, enabled bool)

	Close() error
}

// Delegate receives the asynchronous outcomes of Central calls
type Delegate interface {
	DidUpdateState(RadioState)
	DidDiscover(Discovery)
	ConnectionEventDidOccur(ConnectionEvent, Peripheral)

	DidConnect(Peripheral)
	DidFailToConnect(Peripheral, error)
	DidDisconnect(Peripheral, error)

	DidDiscoverServices(p Peripheral, services []ble.UUID, err error)
	DidDiscoverCharacteristics(p Peripheral, service ble.UUID, chars []*Characteristic, err error)
	DidUpdateNotificationState(p Peripheral, c *Characteristic, notifying bool, err error)
	DidUpdateValue(p Peripheral, c *Characteristic, data []byte, err error)
	DidWriteValue(p Peripheral, c *Characteristic, err error)
}

// Options tune GoBLECentral
type Options struct {
	// OpTimeout bounds each blocking client call
	OpTimeout time.Duration
	// StopDelay is waited after stopping the device during Reset
	StopDelay time.Duration
	// RestartDelay is waited after opening a new device during Reset
	RestartDelay time.Duration
}

// DefaultOptions returns the timeouts used by the companion tool
func DefaultOptions() Options {
	return Options{
		OpTimeout:    util.PlatformOpTimeout,
		StopDelay:    500 * time.Millisecond,
		RestartDelay: 500 * time.Millisecond,
	}
}

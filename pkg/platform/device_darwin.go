// +build darwin

package platform

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DefaultDevice opens the CoreBluetooth central
func DefaultDevice(opts ...ble.Option) (ble.Device, error) {
	d, err := darwin.NewDevice(opts...)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewDeviceFactory opens the central. CoreBluetooth applies its own dial timeout.
func NewDeviceFactory(_ time.Duration) DeviceFactory {
	return func() (ble.Device, error) {
		return DefaultDevice(ble.OptCentralRole())
	}
}

// +build linux

package platform

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// DefaultDevice opens the first HCI adapter
func DefaultDevice(opts ...ble.Option) (ble.Device, error) {
	d, err := linux.NewDevice(opts...)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewDeviceFactory opens the adapter with a dial timeout on every call
func NewDeviceFactory(dialTimeout time.Duration) DeviceFactory {
	return func() (ble.Device, error) {
		return DefaultDevice(ble.OptDialerTimeout(dialTimeout))
	}
}

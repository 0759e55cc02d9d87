package internal

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/pkg/errors"
)

// DummyDevice is a ble.Device replaying advertisements and handing out
// DummyCoreClients on Dial
type DummyDevice struct {
	mu       sync.Mutex
	advs     []ble.Advertisement
	clients  map[string]*DummyCoreClient
	failDial map[string]bool
	dials    int
	stopped  bool
	Interval time.Duration
}

func NewDummyDevice(advs ...ble.Advertisement) *DummyDevice {
	return &DummyDevice{
		advs:     advs,
		clients:  map[string]*DummyCoreClient{},
		failDial: map[string]bool{},
		Interval: 10 * time.Millisecond,
	}
}

// FailDial makes dials to addr fail
func (d *DummyDevice) FailDial(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failDial[ble.NewAddr(addr).String()] = true
}

// Client returns the client of the last dial to addr
func (d *DummyDevice) Client(addr string) *DummyCoreClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[ble.NewAddr(addr).String()]
}

// Dials counts Dial calls
func (d *DummyDevice) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *DummyDevice) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

func (d *DummyDevice) AddService(svc *ble.Service) error     { return nil }
func (d *DummyDevice) RemoveAllServices() error              { return nil }
func (d *DummyDevice) SetServices(svcs []*ble.Service) error { return nil }
func (d *DummyDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}
func (d *DummyDevice) AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error {
	return nil
}
func (d *DummyDevice) AdvertiseMfgData(ctx context.Context, id uint16, b []byte) error { return nil }
func (d *DummyDevice) AdvertiseServiceData16(ctx context.Context, id uint16, b []byte) error {
	return nil
}
func (d *DummyDevice) AdvertiseIBeaconData(ctx context.Context, b []byte) error { return nil }
func (d *DummyDevice) AdvertiseIBeacon(ctx context.Context, u ble.UUID, major, minor uint16, pwr int8) error {
	return nil
}

func (d *DummyDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	addr := ble.NewAddr(a.String()).String()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failDial[addr] {
		return nil, errors.Errorf("dial %s: connection refused", addr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cln := NewDummyCoreClient(addr)
	d.clients[addr] = cln
	return cln, nil
}

// Scan replays every advertisement until ctx is done
func (d *DummyDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	for {
		if len(d.advs) == 0 {
			<-ctx.Done()
			return ctx.Err()
		}
		for _, a := range d.advs {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.Interval):
			}
			h(a)
		}
		if !allowDup {
			<-ctx.Done()
			return ctx.Err()
		}
	}
}

package internal

import (
	"fmt"
	"sync"

	. "github.com/Krajiyah/glasslink/pkg/models"
	"github.com/Krajiyah/glasslink/pkg/platform"
	"github.com/go-ble/ble"
)

// FakeWrite is one Write call seen by FakeCentral
type FakeWrite struct {
	Peripheral Peripheral
	Char       *Characteristic
	Data       []byte
	Mode       platform.WriteMode
}

// FakeNotify is one SetNotify call seen by FakeCentral
type FakeNotify struct {
	Peripheral Peripheral
	Char       *Characteristic
	Enabled    bool
}

// FakeCentral records every Central call. With Auto set each call is
// answered by the matching success callback, otherwise tests drive the
// delegate through the helper methods.
type FakeCentral struct {
	mu       sync.Mutex
	delegate platform.Delegate
	state    RadioState
	calls    []string
	writes   []FakeWrite
	notifies []FakeNotify
	charFilt [][]ble.UUID
	known    map[PeripheralID]Peripheral
	profile  map[string][]*Characteristic

	Auto    bool
	ScanErr error
}

func NewFakeCentral() *FakeCentral {
	f := &FakeCentral{
		state:   RadioPoweredOn,
		known:   map[PeripheralID]Peripheral{},
		profile: map[string][]*Characteristic{},
	}
	for _, cfg := range []ConnectionConfig{ConfigA, ConfigB} {
		f.profile[cfg.ServiceUUID.String()] = CharsOf(cfg)
	}
	return f
}

// NewAutoCentral answers every call with success
func NewAutoCentral() *FakeCentral {
	f := NewFakeCentral()
	f.Auto = true
	return f
}

func (f *FakeCentral) record(format string, args ...interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.Auto
}

func (f *FakeCentral) d() platform.Delegate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delegate
}

// Calls returns every recorded call as "name" or "name:arg"
func (f *FakeCentral) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many recorded calls equal call
func (f *FakeCentral) Count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *FakeCentral) Writes() []FakeWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeWrite(nil), f.writes...)
}

func (f *FakeCentral) Notifies() []FakeNotify {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeNotify(nil), f.notifies...)
}

// CharacteristicFilters returns the filter of every DiscoverCharacteristics call
func (f *FakeCentral) CharacteristicFilters() [][]ble.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]ble.UUID(nil), f.charFilt...)
}

// SetProfile replaces the characteristics served for service
func (f *FakeCentral) SetProfile(service ble.UUID, chars []*Characteristic) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile[service.String()] = chars
}

// Know makes p retrievable
func (f *FakeCentral) Know(p Peripheral) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[p.ID] = p
}

func (f *FakeCentral) SetDelegate(d platform.Delegate) {
	f.mu.Lock()
	f.delegate = d
	s := f.state
	f.mu.Unlock()
	d.DidUpdateState(s)
}

func (f *FakeCentral) State() RadioState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FakeCentral) Scan(filter []ble.UUID, opts platform.ScanOptions) error {
	f.record("scan")
	return f.ScanErr
}

func (f *FakeCentral) StopScan() { f.record("stopScan") }

func (f *FakeCentral) RegisterForConnectionEvents(opts platform.RegisterOptions) {
	f.record("register:%d", len(opts.PeripheralIDs))
}

func (f *FakeCentral) Retrieve(ids []PeripheralID) []Peripheral {
	f.record("retrieve:%d", len(ids))
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := []Peripheral{}
	for _, id := range ids {
		if p, ok := f.known[id]; ok {
			ret = append(ret, p)
		}
	}
	return ret
}

func (f *FakeCentral) Connect(p Peripheral, opts platform.ConnectOptions) {
	if f.record("connect:%s", p.ID) {
		go f.Connected(p)
	}
}

func (f *FakeCentral) CancelConnection(p Peripheral) {
	if f.record("cancel:%s", p.ID) {
		go f.Disconnect(p, nil)
	}
}

func (f *FakeCentral) DiscoverServices(p Peripheral, filter []ble.UUID) {
	if !f.record("discoverServices:%s", p.ID) {
		return
	}
	f.mu.Lock()
	found := []ble.UUID{}
	for _, u := range filter {
		if _, ok := f.profile[u.String()]; ok {
			found = append(found, u)
		}
	}
	f.mu.Unlock()
	go f.ServicesFound(p, found, nil)
}

func (f *FakeCentral) DiscoverCharacteristics(p Peripheral, service ble.UUID, filter []ble.UUID) {
	f.mu.Lock()
	f.charFilt = append(f.charFilt, filter)
	f.mu.Unlock()
	if !f.record("discoverCharacteristics:%s", p.ID) {
		return
	}
	f.mu.Lock()
	chars := []*Characteristic{}
	for _, c := range f.profile[service.String()] {
		if len(filter) == 0 || ble.Contains(filter, c.UUID) {
			cp := *c
			chars = append(chars, &cp)
		}
	}
	f.mu.Unlock()
	go f.CharacteristicsFound(p, service, chars, nil)
}

func (f *FakeCentral) Write(p Peripheral, c *Characteristic, data []byte, mode platform.WriteMode) {
	f.mu.Lock()
	f.writes = append(f.writes, FakeWrite{Peripheral: p, Char: c, Data: append([]byte(nil), data...), Mode: mode})
	f.mu.Unlock()
	if f.record("write:%s", p.ID) && mode == platform.WithResponse {
		go f.WriteDone(p, c, nil)
	}
}

func (f *FakeCentral) SetNotify(p Peripheral, c *Characteristic, enabled bool) {
	f.mu.Lock()
	f.notifies = append(f.notifies, FakeNotify{Peripheral: p, Char: c, Enabled: enabled})
	f.mu.Unlock()
	if f.record("setNotify:%s:%v", p.ID, enabled) {
		go f.NotifyState(p, c, enabled, nil)
	}
}

func (f *FakeCentral) Close() error {
	f.record("close")
	f.PowerOff()
	return nil
}

func (f *FakeCentral) setState(s RadioState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
	if d := f.d(); d != nil {
		d.DidUpdateState(s)
	}
}

func (f *FakeCentral) PowerOn()  { f.setState(RadioPoweredOn) }
func (f *FakeCentral) PowerOff() { f.setState(RadioPoweredOff) }

func (f *FakeCentral) Discover(disc Discovery) { f.d().DidDiscover(disc) }
func (f *FakeCentral) ConnectionEvent(ev ConnectionEvent, p Peripheral) {
	f.d().ConnectionEventDidOccur(ev, p)
}
func (f *FakeCentral) Connected(p Peripheral)              { f.d().DidConnect(p) }
func (f *FakeCentral) FailConnect(p Peripheral, err error) { f.d().DidFailToConnect(p, err) }
func (f *FakeCentral) Disconnect(p Peripheral, err error)  { f.d().DidDisconnect(p, err) }
func (f *FakeCentral) WriteDone(p Peripheral, c *Characteristic, err error) {
	f.d().DidWriteValue(p, c, err)
}
func (f *FakeCentral) ServicesFound(p Peripheral, services []ble.UUID, err error) {
	f.d().DidDiscoverServices(p, services, err)
}
func (f *FakeCentral) CharacteristicsFound(p Peripheral, service ble.UUID, chars []*Characteristic, err error) {
	f.d().DidDiscoverCharacteristics(p, service, chars, err)
}
func (f *FakeCentral) NotifyState(p Peripheral, c *Characteristic, notifying bool, err error) {
	f.d().DidUpdateNotificationState(p, c, notifying, err)
}
func (f *FakeCentral) Value(p Peripheral, c *Characteristic, data []byte) {
	f.d().DidUpdateValue(p, c, data, nil)
}

var _ platform.Central = &FakeCentral{}

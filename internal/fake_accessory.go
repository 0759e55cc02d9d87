package internal

import (
	"net"
	"sync"

	"github.com/Krajiyah/glasslink/pkg/platform"
	"github.com/pkg/errors"
)

const TestProtocol = "com.lawk.glasses"

var (
	TestAccessory = platform.Accessory{
		Name: "LAWK One", Manufacturer: "LAWK", ModelNumber: "L1",
		SerialNumber: "SN-0001", FirmwareRevision: "1.2.0", HardwareRevision: "B",
		Protocols: []string{TestProtocol},
	}
	OtherAccessory = platform.Accessory{
		Name: "LAWK One", Manufacturer: "LAWK", ModelNumber: "L1",
		SerialNumber: "SN-0002", Protocols: []string{TestProtocol},
	}
	ForeignAccessory = platform.Accessory{
		Name: "Headset", Manufacturer: "ACME", SerialNumber: "SN-9999",
		Protocols: []string{"com.acme.audio"},
	}
)

// FakeAccessoryProvider hands out net.Pipe sessions. The accessory end of
// the latest session per serial is available through Remote.
type FakeAccessoryProvider struct {
	mu          sync.Mutex
	accessories []platform.Accessory
	watchers    map[int]func(platform.AccessoryEvent)
	next        int
	remotes     map[string]net.Conn
	opens       []string

	// FailOpen makes every OpenSession fail
	FailOpen error
	// NilStream makes OpenSession succeed without a stream
	NilStream bool
}

func NewFakeAccessoryProvider(attached ...platform.Accessory) *FakeAccessoryProvider {
	return &FakeAccessoryProvider{
		accessories: append([]platform.Accessory(nil), attached...),
		watchers:    map[int]func(platform.AccessoryEvent){},
		remotes:     map[string]net.Conn{},
	}
}

func (f *FakeAccessoryProvider) Accessories() []platform.Accessory {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Accessory(nil), f.accessories...)
}

func (f *FakeAccessoryProvider) OpenSession(a platform.Accessory, protocol string) (platform.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens = append(f.opens, a.SerialNumber)
	if f.FailOpen != nil {
		return nil, f.FailOpen
	}
	if !f.attached(a.SerialNumber) {
		return nil, errors.Errorf("%s not attached", a.SerialNumber)
	}
	if f.NilStream {
		return nil, nil
	}
	local, remote := net.Pipe()
	f.remotes[a.SerialNumber] = remote
	return local, nil
}

func (f *FakeAccessoryProvider) attached(serial string) bool {
	for _, a := range f.accessories {
		if a.SerialNumber == serial {
			return true
		}
	}
	return false
}

func (f *FakeAccessoryProvider) Watch(fn func(platform.AccessoryEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.watchers[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.watchers, id)
	}
}

// Watchers counts active watches
func (f *FakeAccessoryProvider) Watchers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

// Opens lists the serial of every OpenSession call
func (f *FakeAccessoryProvider) Opens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opens...)
}

// Remote is the accessory side of the latest session to serial
func (f *FakeAccessoryProvider) Remote(serial string) net.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remotes[serial]
}

func (f *FakeAccessoryProvider) notify(ev platform.AccessoryEvent) {
	f.mu.Lock()
	ws := []func(platform.AccessoryEvent){}
	for _, w := range f.watchers {
		ws = append(ws, w)
	}
	f.mu.Unlock()
	for _, w := range ws {
		w(ev)
	}
}

// Attach adds a and raises an attach event
func (f *FakeAccessoryProvider) Attach(a platform.Accessory) {
	f.mu.Lock()
	f.accessories = append(f.accessories, a)
	f.mu.Unlock()
	f.notify(platform.AccessoryEvent{Kind: platform.AccessoryAttached, Accessory: a})
}

// Detach removes a, closes its session and raises a detach event
func (f *FakeAccessoryProvider) Detach(a platform.Accessory) {
	f.mu.Lock()
	kept := f.accessories[:0]
	for _, o := range f.accessories {
		if o.SerialNumber != a.SerialNumber {
			kept = append(kept, o)
		}
	}
	f.accessories = kept
	remote := f.remotes[a.SerialNumber]
	delete(f.remotes, a.SerialNumber)
	f.mu.Unlock()
	f.notify(platform.AccessoryEvent{Kind: platform.AccessoryDetached, Accessory: a})
	if remote != nil {
		remote.Close()
	}
}

var _ platform.AccessoryProvider = &FakeAccessoryProvider{}

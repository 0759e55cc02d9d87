package platform

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Krajiyah/glasslink/pkg/util"
	"github.com/bradfitz/slice"
	"github.com/pkg/errors"
)

// Accessory is an external accessory attached to the system
type Accessory struct {
	Name             string
	Manufacturer     string
	ModelNumber      string
	SerialNumber     string
	FirmwareRevision string
	HardwareRevision string
	Protocols        []string
}

// Supports reports whether the accessory declares protocol
func (a Accessory) Supports(protocol string) bool {
	for _, p := range a.Protocols {
		if p == protocol {
			return true
		}
	}
	return false
}

func (a Accessory) String() string {
	return fmt.Sprintf("%s %s (%s, serial %s, fw %s, hw %s) [%s]",
		a.Manufacturer, a.Name, a.ModelNumber, a.SerialNumber,
		a.FirmwareRevision, a.HardwareRevision, strings.Join(a.Protocols, ", "))
}

// Session is an open byte stream to an accessory. Read returns io.EOF when
// the accessory ends the stream.
type Session interface {
	io.ReadWriteCloser
}

type AccessoryEventKind int

const (
	AccessoryAttached AccessoryEventKind = iota
	AccessoryDetached
)

func (k AccessoryEventKind) String() string {
	return []string{"attached", "detached"}[k]
}

// AccessoryEvent is a system attach or detach notification
type AccessoryEvent struct {
	Kind      AccessoryEventKind
	Accessory Accessory
}

// AccessoryProvider is the system accessory stack
type AccessoryProvider interface {
	// Accessories lists every attached accessory ordered by serial
	Accessories() []Accessory
	// OpenSession opens a stream to a for protocol
	OpenSession(a Accessory, protocol string) (Session, error)
	// Watch delivers attach and detach events until the returned func is called
	Watch(func(AccessoryEvent)) (stop func())
}

// NetAccessory is an accessory reached through a TCP bridge, such as a
// serial or RFCOMM port exposed on the network
type NetAccessory struct {
	Accessory
	Address string
}

// NetAccessoryProvider serves accessories behind TCP bridges. Attach and
// Detach stand in for the system notifications.
type NetAccessoryProvider struct {
	mu          sync.Mutex
	accessories map[string]NetAccessory
	watchers    map[int]func(AccessoryEvent)
	nextWatcher int
	dialTimeout time.Duration
	logger      util.Logger
}

func NewNetAccessoryProvider(dialTimeout time.Duration) *NetAccessoryProvider {
	return &NetAccessoryProvider{
		accessories: map[string]NetAccessory{},
		watchers:    map[int]func(AccessoryEvent){},
		dialTimeout: dialTimeout,
		logger:      util.ComponentLogger("net-accessory"),
	}
}

// Attach adds a and notifies watchers
func (n *NetAccessoryProvider) Attach(a NetAccessory) {
	n.mu.Lock()
	n.accessories[a.SerialNumber] = a
	n.mu.Unlock()
	n.logger.Infof("attached %s at %s", a.SerialNumber, a.Address)
	n.notify(AccessoryEvent{Kind: AccessoryAttached, Accessory: a.Accessory})
}

// Detach removes the accessory with serial and notifies watchers
func (n *NetAccessoryProvider) Detach(serial string) {
	n.mu.Lock()
	a, ok := n.accessories[serial]
	delete(n.accessories, serial)
	n.mu.Unlock()
	if !ok {
		return
	}
	n.logger.Infof("detached %s", serial)
	n.notify(AccessoryEvent{Kind: AccessoryDetached, Accessory: a.Accessory})
}

func (n *NetAccessoryProvider) notify(ev AccessoryEvent) {
	n.mu.Lock()
	ws := make([]func(AccessoryEvent), 0, len(n.watchers))
	for _, w := range n.watchers {
		ws = append(ws, w)
	}
	n.mu.Unlock()
	for _, w := range ws {
		w(ev)
	}
}

func (n *NetAccessoryProvider) Accessories() []Accessory {
	n.mu.Lock()
	defer n.mu.Unlock()
	ret := make([]Accessory, 0, len(n.accessories))
	for _, a := range n.accessories {
		ret = append(ret, a.Accessory)
	}
	slice.Sort(ret, func(i, j int) bool { return ret[i].SerialNumber < ret[j].SerialNumber })
	return ret
}

func (n *NetAccessoryProvider) OpenSession(a Accessory, protocol string) (Session, error) {
	n.mu.Lock()
	na, ok := n.accessories[a.SerialNumber]
	n.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("accessory %s is not attached", a.SerialNumber)
	}
	if !na.Supports(protocol) {
		return nil, errors.Errorf("accessory %s does not declare %s", a.SerialNumber, protocol)
	}
	conn, err := net.DialTimeout("tcp", na.Address, n.dialTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", na.Address)
	}
	return conn, nil
}

func (n *NetAccessoryProvider) Watch(fn func(AccessoryEvent)) func() {
	n.mu.Lock()
	id := n.nextWatcher
	n.nextWatcher++
	n.watchers[id] = fn
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.watchers, id)
	}
}

var _ AccessoryProvider = &NetAccessoryProvider{}

package internal

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/pkg/errors"
)

const testMTU = 23

// DummyCoreClient is a ble.Client serving GetTestServices. Writes are
// recorded and notifications are pushed with Notify.
type DummyCoreClient struct {
	mu            sync.Mutex
	addr          string
	services      []*ble.Service
	writes        [][]byte
	subs          map[string]ble.NotificationHandler
	disconnected  chan struct{}
	once          sync.Once
	FailDiscovery bool
	FailSubscribe bool
}

func NewDummyCoreClient(addr string) *DummyCoreClient {
	return &DummyCoreClient{
		addr:         addr,
		services:     GetTestServices(),
		subs:         map[string]ble.NotificationHandler{},
		disconnected: make(chan struct{}),
	}
}

// Writes returns every value written so far
func (c *DummyCoreClient) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// Subscribed reports whether char u has a notification handler
func (c *DummyCoreClient) Subscribed(u ble.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[u.String()]
	return ok
}

// Notify pushes data to the handler subscribed on u
func (c *DummyCoreClient) Notify(u ble.UUID, data []byte) bool {
	c.mu.Lock()
	h, ok := c.subs[u.String()]
	c.mu.Unlock()
	if ok {
		h(data)
	}
	return ok
}

// Drop simulates the link going away
func (c *DummyCoreClient) Drop() {
	c.once.Do(func() { close(c.disconnected) })
}

func (c *DummyCoreClient) ReadCharacteristic(char *ble.Characteristic) ([]byte, error) {
	return nil, nil
}
func (c *DummyCoreClient) WriteCharacteristic(char *ble.Characteristic, value []byte, noRsp bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), value...))
	return nil
}
func (c *DummyCoreClient) Addr() ble.Addr                                   { return ble.NewAddr(c.addr) }
func (c *DummyCoreClient) Name() string                                     { return "some name" }
func (c *DummyCoreClient) Profile() *ble.Profile                            { return &ble.Profile{Services: c.services} }
func (c *DummyCoreClient) DiscoverProfile(force bool) (*ble.Profile, error) { return c.Profile(), nil }
func (c *DummyCoreClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	if c.FailDiscovery {
		return nil, errors.New("discovery failed")
	}
	ret := []*ble.Service{}
	for _, s := range c.services {
		if len(filter) == 0 || ble.Contains(filter, s.UUID) {
			ret = append(ret, s)
		}
	}
	return ret, nil
}
func (c *DummyCoreClient) DiscoverIncludedServices(filter []ble.UUID, s *ble.Service) ([]*ble.Service, error) {
	return nil, nil
}
func (c *DummyCoreClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	ret := []*ble.Characteristic{}
	for _, ch := range s.Characteristics {
		if len(filter) == 0 || ble.Contains(filter, ch.UUID) {
			ret = append(ret, ch)
		}
	}
	return ret, nil
}
func (c *DummyCoreClient) DiscoverDescriptors(filter []ble.UUID, char *ble.Characteristic) ([]*ble.Descriptor, error) {
	d := &ble.Descriptor{UUID: ble.ClientCharacteristicConfigUUID, Handle: char.Handle + 1}
	char.CCCD = d
	return []*ble.Descriptor{d}, nil
}
func (c *DummyCoreClient) ReadLongCharacteristic(char *ble.Characteristic) ([]byte, error) {
	return nil, nil
}
func (c *DummyCoreClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error)  { return nil, nil }
func (c *DummyCoreClient) WriteDescriptor(d *ble.Descriptor, v []byte) error { return nil }
func (c *DummyCoreClient) ReadRSSI() int                                     { return TestRSSI }
func (c *DummyCoreClient) ExchangeMTU(rxMTU int) (txMTU int, err error)      { return testMTU, nil }
func (c *DummyCoreClient) Subscribe(char *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	if c.FailSubscribe {
		return errors.New("subscribe failed")
	}
	if char.CCCD == nil {
		return errors.New("cccd not found")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[char.UUID.String()] = h
	return nil
}
func (c *DummyCoreClient) Unsubscribe(char *ble.Characteristic, ind bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, char.UUID.String())
	return nil
}
func (c *DummyCoreClient) ClearSubscriptions() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = map[string]ble.NotificationHandler{}
	return nil
}
func (c *DummyCoreClient) CancelConnection() error {
	c.Drop()
	return nil
}
func (c *DummyCoreClient) Disconnected() <-chan struct{} { return c.disconnected }
func (c *DummyCoreClient) Conn() ble.Conn                { return nil }

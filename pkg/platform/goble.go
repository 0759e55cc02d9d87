package platform

import (
	"context"
	"sync"
	"time"

	. "github.com/Krajiyah/glasslink/pkg/models"
	"github.com/Krajiyah/glasslink/pkg/util"
	mapset "github.com/deckarep/golang-set"
	"github.com/go-ble/ble"
	"github.com/pkg/errors"
)

var (
	// ErrLinkLost is the disconnect reason when the link dropped without CancelConnection
	ErrLinkLost = errors.New("link lost")
	// ErrAlreadyScanning is returned by Scan while an active scan runs
	ErrAlreadyScanning = errors.New("already scanning")
	// ErrRadioNotReady is returned when the radio is not powered on
	ErrRadioNotReady = errors.New("radio not powered on")
)

const peerOpQueueSize = 32

// DeviceFactory opens the local adapter
type DeviceFactory func() (ble.Device, error)

type scanMode int

const (
	scanActive scanMode = iota
	// scanWatch only looks for registered peripherals coming into range
	scanWatch
)

type scanRun struct {
	mode   scanMode
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *scanRun) stop() {
	s.cancel()
	<-s.done
}

func (s *scanRun) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// peer is one live link. Client calls run in order on the op goroutine.
type peer struct {
	p         Peripheral
	opts      ConnectOptions
	client    ble.Client
	services  map[string]*ble.Service
	chars     map[string]*ble.Characteristic
	ops       chan func()
	done      chan struct{}
	requested bool
}

func newPeer(p Peripheral, cln ble.Client, opts ConnectOptions) *peer {
	return &peer{
		p:        p,
		opts:     opts,
		client:   cln,
		services: map[string]*ble.Service{},
		chars:    map[string]*ble.Characteristic{},
		ops:      make(chan func(), peerOpQueueSize),
		done:     make(chan struct{}),
	}
}

func (pr *peer) run() {
	for {
		select {
		case op := <-pr.ops:
			op()
		case <-pr.done:
			return
		}
	}
}

// GoBLECentral implements Central over a go-ble device. Connection events are
// synthesized: PeerConnected when a registered peripheral is seen advertising
// while not linked, PeerDisconnected when its link drops.
type GoBLECentral struct {
	mu         sync.Mutex
	opts       Options
	factory    DeviceFactory
	device     ble.Device
	delegate   Delegate
	state      RadioState
	scan       *scanRun
	dialing    map[PeripheralID]context.CancelFunc
	peers      map[PeripheralID]*peer
	known      map[PeripheralID]Peripheral
	advertised map[PeripheralID][]ble.UUID
	registered mapset.Set
	regService []ble.UUID
	present    mapset.Set
	logger     util.Logger
}

// NewGoBLECentral opens a device through factory
func NewGoBLECentral(factory DeviceFactory, opts Options) (*GoBLECentral, error) {
	device, err := factory()
	if err != nil {
		return nil, errors.Wrap(err, "open device")
	}
	return &GoBLECentral{
		opts:       opts,
		factory:    factory,
		device:     device,
		state:      RadioPoweredOn,
		dialing:    map[PeripheralID]context.CancelFunc{},
		peers:      map[PeripheralID]*peer{},
		known:      map[PeripheralID]Peripheral{},
		advertised: map[PeripheralID][]ble.UUID{},
		registered: mapset.NewSet(),
		present:    mapset.NewSet(),
		logger:     util.ComponentLogger("central"),
	}, nil
}

func (c *GoBLECentral) notify(fn func(Delegate)) {
	c.mu.Lock()
	d := c.delegate
	c.mu.Unlock()
	if d != nil {
		fn(d)
	}
}

func (c *GoBLECentral) setState(s RadioState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify(func(d Delegate) { d.DidUpdateState(s) })
}

// SetDelegate installs d and reports the current radio state to it
func (c *GoBLECentral) SetDelegate(d Delegate) {
	c.mu.Lock()
	c.delegate = d
	s := c.state
	c.mu.Unlock()
	if d != nil {
		d.DidUpdateState(s)
	}
}

func (c *GoBLECentral) State() RadioState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *GoBLECentral) runningScanLocked() *scanRun {
	if c.scan != nil && c.scan.finished() {
		c.scan = nil
	}
	return c.scan
}

func (c *GoBLECentral) startScanLocked(mode scanMode, filter []ble.UUID, opts ScanOptions) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &scanRun{mode: mode, cancel: cancel, done: make(chan struct{})}
	c.scan = s
	device := c.device
	go func() {
		defer close(s.done)
		err := util.CatchErrs(func() error {
			return device.Scan(ctx, opts.AllowDuplicates, func(a ble.Advertisement) {
				c.handleAdvertisement(s, a, filter, opts)
			})
		})
		if err != nil && errors.Cause(err) != context.Canceled {
			c.logger.Warnf("scan ended: %s", err)
		}
	}()
}

// pauseWatch stops a watch scan so the adapter is free
func (c *GoBLECentral) pauseWatch() {
	c.mu.Lock()
	s := c.runningScanLocked()
	if s == nil || s.mode != scanWatch {
		c.mu.Unlock()
		return
	}
	c.scan = nil
	c.mu.Unlock()
	s.stop()
}

func (c *GoBLECentral) resumeWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != RadioPoweredOn || c.runningScanLocked() != nil || len(c.dialing) > 0 {
		return
	}
	if c.registered.Cardinality() == 0 && len(c.regService) == 0 {
		return
	}
	c.startScanLocked(scanWatch, nil, ScanOptions{AllowDuplicates: true})
}

func (c *GoBLECentral) Scan(filter []ble.UUID, opts ScanOptions) error {
	c.mu.Lock()
	if c.state != RadioPoweredOn {
		c.mu.Unlock()
		return ErrRadioNotReady
	}
	if s := c.runningScanLocked(); s != nil && s.mode == scanActive {
		c.mu.Unlock()
		return ErrAlreadyScanning
	}
	c.mu.Unlock()
	c.pauseWatch()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runningScanLocked() != nil {
		return ErrAlreadyScanning
	}
	c.startScanLocked(scanActive, filter, opts)
	return nil
}

func (c *GoBLECentral) StopScan() {
	c.mu.Lock()
	s := c.runningScanLocked()
	if s == nil || s.mode != scanActive {
		c.mu.Unlock()
		return
	}
	c.scan = nil
	c.mu.Unlock()
	s.stop()
	c.resumeWatch()
}

func (c *GoBLECentral) isRegisteredLocked(id PeripheralID) bool {
	if c.registered.Contains(id) {
		return true
	}
	for _, u := range c.regService {
		if ble.Contains(c.advertised[id], u) {
			return true
		}
	}
	return false
}

func matchesFilter(a ble.Advertisement, filter []ble.UUID, opts ScanOptions) bool {
	if len(filter) == 0 {
		return true
	}
	for _, u := range filter {
		if ble.Contains(a.Services(), u) {
			return true
		}
	}
	for _, u := range opts.SolicitedServices {
		if ble.Contains(a.SolicitedService(), u) {
			return true
		}
	}
	return false
}

func (c *GoBLECentral) handleAdvertisement(s *scanRun, a ble.Advertisement, filter []ble.UUID, opts ScanOptions) {
	id := NewPeripheralID(a.Addr().String())

	c.mu.Lock()
	p := c.known[id]
	p.ID = id
	if name := a.LocalName(); name != "" {
		p.Name = name
	}
	c.known[id] = p
	if svcs := a.Services(); len(svcs) > 0 {
		c.advertised[id] = svcs
	}
	_, linked := c.peers[id]
	_, dialing := c.dialing[id]
	came := c.isRegisteredLocked(id) && !linked && !dialing && c.present.Add(id)
	c.mu.Unlock()

	if came {
		c.notify(func(d Delegate) { d.ConnectionEventDidOccur(PeerConnected, p) })
	}
	if s.mode != scanActive || !matchesFilter(a, filter, opts) {
		return
	}
	disc := Discovery{
		Peripheral:       p,
		LocalName:        a.LocalName(),
		Services:         a.Services(),
		SolicitedService: a.SolicitedService(),
		ManufacturerData: a.ManufacturerData(),
		TxPowerLevel:     a.TxPowerLevel(),
		Connectable:      a.Connectable(),
		RSSI:             a.RSSI(),
		Timestamp:        time.Now(),
	}
	c.notify(func(d Delegate) { d.DidDiscover(disc) })
}

func (c *GoBLECentral) RegisterForConnectionEvents(opts RegisterOptions) {
	c.mu.Lock()
	for _, id := range opts.PeripheralIDs {
		c.registered.Add(id)
	}
	for _, u := range opts.ServiceUUIDs {
		if !ble.Contains(c.regService, u) {
			c.regService = append(c.regService, u)
		}
	}
	c.mu.Unlock()
	c.resumeWatch()
}

// Retrieve resolves ids to peripherals without scanning. Any address can be
// dialed, so unknown ids come back with no name.
func (c *GoBLECentral) Retrieve(ids []PeripheralID) []Peripheral {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]Peripheral, 0, len(ids))
	for _, id := range ids {
		p := c.known[id]
		p.ID = id
		ret = append(ret, p)
	}
	return ret
}

func (c *GoBLECentral) Connect(p Peripheral, opts ConnectOptions) {
	c.mu.Lock()
	if known, ok := c.known[p.ID]; ok && p.Name == "" {
		p = known
	}
	if _, ok := c.peers[p.ID]; ok {
		c.mu.Unlock()
		c.notify(func(d Delegate) { d.DidConnect(p) })
		return
	}
	if _, ok := c.dialing[p.ID]; ok {
		c.mu.Unlock()
		c.logger.Debugf("connect %s: already dialing", p.ID)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.dialing[p.ID] = cancel
	c.mu.Unlock()

	go func() {
		c.pauseWatch()
		c.dial(ctx, p, opts)
		c.resumeWatch()
	}()
}

func (c *GoBLECentral) dial(ctx context.Context, p Peripheral, opts ConnectOptions) {
	c.mu.Lock()
	device := c.device
	c.mu.Unlock()

	var cln ble.Client
	err := util.CatchErrs(func() error {
		var e error
		cln, e = device.Dial(ctx, ble.NewAddr(p.ID.String()))
		return e
	})

	c.mu.Lock()
	_, wanted := c.dialing[p.ID]
	delete(c.dialing, p.ID)
	if !wanted {
		c.mu.Unlock()
		if err == nil && cln != nil {
			util.CatchErrs(cln.CancelConnection)
		}
		c.notify(func(d Delegate) { d.DidDisconnect(p, nil) })
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.notify(func(d Delegate) { d.DidFailToConnect(p, err) })
		return
	}
	pr := newPeer(p, cln, opts)
	c.peers[p.ID] = pr
	c.present.Remove(p.ID)
	c.mu.Unlock()

	go pr.run()
	go c.watch(pr)
	c.notify(func(d Delegate) { d.DidConnect(p) })
}

func (c *GoBLECentral) watch(pr *peer) {
	<-pr.client.Disconnected()

	c.mu.Lock()
	if c.peers[pr.p.ID] == pr {
		delete(c.peers, pr.p.ID)
	}
	requested := pr.requested
	registered := c.isRegisteredLocked(pr.p.ID)
	c.present.Remove(pr.p.ID)
	c.mu.Unlock()
	close(pr.done)

	var err error
	if !requested {
		err = ErrLinkLost
	}
	c.notify(func(d Delegate) { d.DidDisconnect(pr.p, err) })
	if registered && pr.opts.NotifyOnDisconnection {
		c.notify(func(d Delegate) { d.ConnectionEventDidOccur(PeerDisconnected, pr.p) })
	}
}

func (c *GoBLECentral) CancelConnection(p Peripheral) {
	c.mu.Lock()
	if cancel, ok := c.dialing[p.ID]; ok {
		delete(c.dialing, p.ID)
		c.mu.Unlock()
		cancel()
		return
	}
	pr, ok := c.peers[p.ID]
	if ok {
		pr.requested = true
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := util.CatchErrs(pr.client.CancelConnection); err != nil {
		c.logger.Warnf("cancel connection %s: %s", p.ID, err)
	}
}

// enqueue runs op on the peer of p, or missing when there is no link
func (c *GoBLECentral) enqueue(p Peripheral, op func(*peer), missing func(error)) {
	c.mu.Lock()
	pr, ok := c.peers[p.ID]
	c.mu.Unlock()
	if !ok {
		missing(errors.Wrapf(ErrNotConnected, "peripheral %s", p.ID))
		return
	}
	select {
	case pr.ops <- func() { op(pr) }:
	case <-pr.done:
		missing(errors.Wrapf(ErrNotConnected, "peripheral %s", p.ID))
	}
}

func (c *GoBLECentral) DiscoverServices(p Peripheral, filter []ble.UUID) {
	c.enqueue(p, func(pr *peer) {
		var svcs []*ble.Service
		err := util.Timeout(func() error {
			var e error
			svcs, e = pr.client.DiscoverServices(filter)
			return e
		}, c.opts.OpTimeout)
		uuids := []ble.UUID{}
		if err == nil {
			for _, s := range svcs {
				pr.services[s.UUID.String()] = s
				uuids = append(uuids, s.UUID)
			}
		}
		c.notify(func(d Delegate) { d.DidDiscoverServices(pr.p, uuids, err) })
	}, func(err error) {
		c.notify(func(d Delegate) { d.DidDiscoverServices(p, nil, err) })
	})
}

func (c *GoBLECentral) DiscoverCharacteristics(p Peripheral, service ble.UUID, filter []ble.UUID) {
	c.enqueue(p, func(pr *peer) {
		svc, ok := pr.services[service.String()]
		if !ok {
			err := errors.Wrapf(ErrServiceNotFound, "service %s", service)
			c.notify(func(d Delegate) { d.DidDiscoverCharacteristics(pr.p, service, nil, err) })
			return
		}
		var found []*ble.Characteristic
		err := util.Timeout(func() error {
			var e error
			found, e = pr.client.DiscoverCharacteristics(filter, svc)
			return e
		}, c.opts.OpTimeout)
		chars := []*Characteristic{}
		if err == nil {
			for _, bc := range found {
				ch := &Characteristic{ServiceUUID: service, UUID: bc.UUID, Property: bc.Property, Handle: bc.Handle}
				pr.chars[ch.Key()] = bc
				chars = append(chars, ch)
			}
		}
		c.notify(func(d Delegate) { d.DidDiscoverCharacteristics(pr.p, service, chars, err) })
	}, func(err error) {
		c.notify(func(d Delegate) { d.DidDiscoverCharacteristics(p, service, nil, err) })
	})
}

func (c *GoBLECentral) Write(p Peripheral, ch *Characteristic, data []byte, mode WriteMode) {
	report := func(pp Peripheral, err error) {
		if mode == WithResponse {
			c.notify(func(d Delegate) { d.DidWriteValue(pp, ch, err) })
		} else if err != nil {
			c.logger.Warnf("write %s to %s: %s", ch, pp.ID, err)
		}
	}
	c.enqueue(p, func(pr *peer) {
		bc, ok := pr.chars[ch.Key()]
		if !ok {
			report(pr.p, errors.Wrapf(ErrWriteFailed, "characteristic %s not discovered", ch))
			return
		}
		err := util.Timeout(func() error {
			return pr.client.WriteCharacteristic(bc, data, mode == WithoutResponse)
		}, c.opts.OpTimeout)
		report(pr.p, err)
	}, func(err error) { report(p, err) })
}

func (c *GoBLECentral) SetNotify(p Peripheral, ch *Characteristic, enabled bool) {
	c.enqueue(p, func(pr *peer) {
		bc, ok := pr.chars[ch.Key()]
		if !ok {
			err := errors.Wrapf(ErrCharacteristicDiscoveryFailed, "characteristic %s not discovered", ch)
			c.notify(func(d Delegate) { d.DidUpdateNotificationState(pr.p, ch, false, err) })
			return
		}
		var err error
		if enabled {
			err = util.Timeout(func() error {
				if bc.CCCD == nil {
					if _, e := pr.client.DiscoverDescriptors(nil, bc); e != nil {
						return errors.Wrap(e, "discover descriptors")
					}
				}
				return pr.client.Subscribe(bc, ch.Indicates(), func(data []byte) {
					v := make([]byte, len(data))
					copy(v, data)
					c.notify(func(d Delegate) { d.DidUpdateValue(pr.p, ch, v, nil) })
				})
			}, c.opts.OpTimeout)
		} else {
			err = util.Timeout(func() error {
				return pr.client.Unsubscribe(bc, ch.Indicates())
			}, c.opts.OpTimeout)
		}
		notifying := enabled && err == nil
		c.notify(func(d Delegate) { d.DidUpdateNotificationState(pr.p, ch, notifying, err) })
	}, func(err error) {
		c.notify(func(d Delegate) { d.DidUpdateNotificationState(p, ch, false, err) })
	})
}

// teardown stops scanning and drops every link and pending dial
func (c *GoBLECentral) teardown() {
	c.mu.Lock()
	s := c.scan
	c.scan = nil
	cancels := []context.CancelFunc{}
	for id, cancel := range c.dialing {
		cancels = append(cancels, cancel)
		delete(c.dialing, id)
	}
	peers := []*peer{}
	for _, pr := range c.peers {
		peers = append(peers, pr)
	}
	c.mu.Unlock()

	if s != nil {
		s.stop()
	}
	for _, cancel := range cancels {
		cancel()
	}
	for _, pr := range peers {
		util.CatchErrs(pr.client.CancelConnection)
	}
}

// Reset reopens the adapter. Links are dropped and reported as lost.
func (c *GoBLECentral) Reset() error {
	c.setState(RadioResetting)
	c.teardown()

	c.mu.Lock()
	device := c.device
	c.mu.Unlock()
	if err := util.CatchErrs(device.Stop); err != nil {
		c.logger.Warnf("stop issue: %s", err)
	}
	time.Sleep(c.opts.StopDelay)

	nd, err := c.factory()
	time.Sleep(c.opts.RestartDelay)
	if err != nil {
		c.setState(RadioPoweredOff)
		return errors.Wrap(err, "open device")
	}
	c.mu.Lock()
	c.device = nd
	c.mu.Unlock()
	c.setState(RadioPoweredOn)
	c.resumeWatch()
	return nil
}

// Close drops every link, stops the adapter and reports the radio powered off
func (c *GoBLECentral) Close() error {
	c.teardown()
	c.mu.Lock()
	device := c.device
	c.mu.Unlock()
	err := util.CatchErrs(device.Stop)
	c.setState(RadioPoweredOff)
	return err
}

package ble

import (
	"sync"
	"time"

	. "github.com/Krajiyah/glasslink/pkg/models"
	"github.com/Krajiyah/glasslink/pkg/platform"
	"github.com/Krajiyah/glasslink/pkg/registry"
	"github.com/Krajiyah/glasslink/pkg/util"
	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Options tune a Connector
type Options struct {
	// ConnectTimeout fails a handshake that has not reached Connected in time
	ConnectTimeout time.Duration
	// AwaitSubscription defers Connected until the first notify subscription
	// is confirmed. When false Connected follows characteristic discovery.
	AwaitSubscription bool
	// ConnectOptions are passed to every platform connect
	ConnectOptions platform.ConnectOptions
}

// DefaultOptions returns a 10s timeout and Connected right after characteristic discovery
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: util.ConnectTimeout,
		ConnectOptions: platform.DefaultConnectOptions(),
	}
}

// attempt is the single in-flight handshake
type attempt struct {
	id            uuid.UUID
	p             Peripheral
	cfg           ConnectionConfig
	timer         *time.Timer
	pendingNotify int
	connected     bool
	logger        util.Logger
}

// Connector drives connection handshakes against a platform.Central. All
// state is owned by one goroutine; public methods and platform callbacks are
// queued to it in order. Listeners are called from a separate goroutine so
// they may call back into the Connector.
type Connector struct {
	central  platform.Central
	registry *registry.Registry
	opts     Options
	logger   util.Logger

	box      *util.Mailbox
	dispatch *util.Mailbox
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once

	listenersMu sync.RWMutex
	listeners   []ConnectorListener

	discovered *DiscoveryMap

	// owned by the loop
	radio         RadioState
	scanStatus    ScanStatus
	registering   bool
	status        ConnectStatus
	stage         HandshakeStage
	current       Peripheral
	inFlight      *attempt
	requested     map[PeripheralID]bool
	unsubscribing map[string]bool
}

// NewConnector starts the connector loop. Call Start to attach it to the central.
func NewConnector(central platform.Central, reg *registry.Registry, opts Options) *Connector {
	if reg == nil {
		reg = registry.NewRegistry()
	}
	c := &Connector{
		central:       central,
		registry:      reg,
		opts:          opts,
		logger:        util.ComponentLogger("connector"),
		box:           util.NewMailbox(),
		dispatch:      util.NewMailbox(),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
		discovered:    NewDiscoveryMap(),
		requested:     map[PeripheralID]bool{},
		unsubscribing: map[string]bool{},
	}
	go func() {
		defer close(c.done)
		c.box.Run(c.quit)
	}()
	go c.dispatch.Run(c.quit)
	return c
}

// Start installs the connector as the central's delegate. The central
// reports its radio state right away.
func (c *Connector) Start() {
	c.central.SetDelegate(&delegate{c})
}

// Close stops the loop and the listener dispatcher. The central is not closed.
func (c *Connector) Close() {
	c.once.Do(func() {
		c.do(func() {
			if c.inFlight != nil {
				c.clearInFlight()
			}
		})
		close(c.quit)
		<-c.done
	})
}

// do runs fn on the loop and waits for it. It returns false once the loop has stopped.
func (c *Connector) do(fn func()) bool {
	fin := make(chan struct{})
	c.box.Post(func() {
		fn()
		close(fin)
	})
	select {
	case <-fin:
		return true
	case <-c.done:
		return false
	}
}

// AddListener registers l for every connector event
func (c *Connector) AddListener(l ConnectorListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, l)
}

// RemoveListener unregisters l
func (c *Connector) RemoveListener(l ConnectorListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	for i, o := range c.listeners {
		if o == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *Connector) emit(fn func(ConnectorListener)) {
	c.dispatch.Post(func() {
		c.listenersMu.RLock()
		ls := append([]ConnectorListener(nil), c.listeners...)
		c.listenersMu.RUnlock()
		for _, l := range ls {
			fn(l)
		}
	})
}

func (c *Connector) setStatus(s ConnectStatus) {
	c.status = s
	c.emit(func(l ConnectorListener) { l.OnConnectStatus(s) })
}

func (c *Connector) setScanStatus(s ScanStatus) {
	c.scanStatus = s
	c.emit(func(l ConnectorListener) { l.OnScanStatus(s) })
}

// Registry is the record store this connector writes to
func (c *Connector) Registry() *registry.Registry { return c.registry }

// StartScan begins active discovery. It is a no-op while already scanning.
func (c *Connector) StartScan(filter []ble.UUID, opts platform.ScanOptions) bool {
	ok := false
	c.do(func() {
		if c.scanStatus == Scanning {
			c.logger.Warn("scan already in progress")
			return
		}
		if err := c.central.Scan(filter, opts); err != nil {
			c.logger.Errorf("scan: %s", err)
			return
		}
		c.stage = StageScanning
		c.setScanStatus(Scanning)
		ok = true
	})
	return ok
}

// StartRegister discovers peripherals through connection events instead of
// scanning. It shares the scan status, so it is a no-op while either
// discovery path is running and StopScan ends it.
func (c *Connector) StartRegister(opts platform.RegisterOptions) bool {
	ok := false
	c.do(func() {
		if c.scanStatus == Scanning {
			c.logger.Warn("discovery already in progress")
			return
		}
		c.logger.Infof("registering for connection events of %d peripherals", len(opts.PeripheralIDs))
		c.central.RegisterForConnectionEvents(opts)
		c.registering = true
		c.stage = StageScanning
		c.setScanStatus(Scanning)
		ok = true
	})
	return ok
}

// StopScan ends active discovery
func (c *Connector) StopScan() {
	c.do(c.stopScan)
}

func (c *Connector) stopScan() {
	if c.scanStatus != Scanning {
		return
	}
	if c.registering {
		c.registering = false
	} else {
		c.central.StopScan()
	}
	if c.stage == StageScanning {
		c.stage = StageIdle
	}
	c.setScanStatus(ScanStopped)
}

// Connect starts a handshake for (p, cfg). It is rejected while another
// handshake is connecting.
func (c *Connector) Connect(p Peripheral, cfg ConnectionConfig) bool {
	ok := false
	c.do(func() {
		if c.status == Connecting {
			c.logger.Warnf("connect %s/%s rejected: %s/%s is connecting", p.ID, cfg.Identify, c.current.ID, c.inFlightIdentify())
			return
		}
		c.stopScan()
		if isNew, _ := c.registry.IsNewPair(p, cfg); isNew {
			c.registry.Add(p, cfg)
		} else {
			c.registry.Ensure(p, cfg)
		}

		a := &attempt{id: uuid.New(), p: p, cfg: cfg}
		a.logger = c.logger.ChildLogger(map[string]interface{}{
			"peripheral": p.ID.String(),
			"config":     cfg.Identify,
			"attempt":    a.id.String(),
		})
		a.timer = time.AfterFunc(c.opts.ConnectTimeout, func() {
			c.box.Post(func() { c.onTimeout(a.id) })
		})
		c.inFlight = a
		c.current = p
		delete(c.requested, p.ID)

		a.logger.Info("connecting")
		c.central.Connect(p, c.opts.ConnectOptions)
		c.stage = StageConnecting
		c.setStatus(Connecting)
		ok = true
	})
	return ok
}

func (c *Connector) inFlightIdentify() string {
	if c.inFlight == nil {
		return ""
	}
	return c.inFlight.cfg.Identify
}

// Disconnect cancels the link to p. The resulting disconnect is reported as requested.
func (c *Connector) Disconnect(p Peripheral) {
	c.do(func() {
		c.requested[p.ID] = true
		if a := c.inFlight; a != nil && a.p.ID == p.ID {
			a.logger.Info("handshake cancelled")
			c.clearInFlight()
			if c.status == Connecting {
				c.stage = StageDisconnected
				c.setStatus(Disconnected)
			}
		}
		c.central.CancelConnection(p)
	})
}

// Retrieve resolves known identities without scanning
func (c *Connector) Retrieve(ids []PeripheralID) []Peripheral {
	return c.central.Retrieve(ids)
}

// Discovered returns every discovery so far, strongest signal first
func (c *Connector) Discovered() []Discovery {
	return c.discovered.Sorted()
}

// DiscoveryMap is the live discovery table
func (c *Connector) DiscoveryMap() *DiscoveryMap {
	return c.discovered
}

func (c *Connector) ConnectStatus() ConnectStatus {
	var s ConnectStatus
	c.do(func() { s = c.status })
	return s
}

func (c *Connector) ScanStatus() ScanStatus {
	var s ScanStatus
	c.do(func() { s = c.scanStatus })
	return s
}

func (c *Connector) RadioState() RadioState {
	var s RadioState
	c.do(func() { s = c.radio })
	return s
}

// Stage is the fine grained handshake position
func (c *Connector) Stage() HandshakeStage {
	var s HandshakeStage
	c.do(func() { s = c.stage })
	return s
}

// InFlight returns the pair of the handshake in progress
func (c *Connector) InFlight() (Peripheral, ConnectionConfig, bool) {
	var (
		p   Peripheral
		cfg ConnectionConfig
		ok  bool
	)
	c.do(func() {
		if c.inFlight != nil {
			p, cfg, ok = c.inFlight.p, c.inFlight.cfg, true
		}
	})
	return p, cfg, ok
}

// IsConnected reports whether (p, cfg) finished its handshake and is linked
func (c *Connector) IsConnected(p Peripheral, cfg ConnectionConfig) bool {
	rec, ok := c.registry.Lookup(p, cfg)
	return ok && rec.Connected
}

func (c *Connector) clearInFlight() {
	if c.inFlight == nil {
		return
	}
	c.inFlight.timer.Stop()
	c.inFlight = nil
}

func (c *Connector) fail(a *attempt, err error) {
	a.logger.Errorf("handshake failed: %s", err)
	c.clearInFlight()
	c.stage = StageFailed
	c.setStatus(Failed)
	p, cfg := a.p, a.cfg
	c.emit(func(l ConnectorListener) { l.OnConnectFailed(p, cfg, err) })
}

func (c *Connector) onTimeout(id uuid.UUID) {
	a := c.inFlight
	if a == nil || a.id != id || a.connected {
		return
	}
	c.fail(a, errors.Wrapf(ErrConnectTimeout, "after %s", c.opts.ConnectTimeout))
	c.requested[a.p.ID] = true
	c.central.CancelConnection(a.p)
}

// attemptFor returns the in-flight attempt when it targets p
func (c *Connector) attemptFor(p Peripheral) *attempt {
	if c.inFlight == nil || c.inFlight.p.ID != p.ID {
		return nil
	}
	return c.inFlight
}

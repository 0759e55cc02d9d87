package client

import (
	"sync"
	"time"

	"github.com/Krajiyah/glasslink/pkg/codec"
	. "github.com/Krajiyah/glasslink/pkg/models"
	"github.com/Krajiyah/glasslink/pkg/util"
	"github.com/pkg/errors"
)

// Connector is the part of the connector a client needs
type Connector interface {
	Connect(Peripheral, ConnectionConfig) bool
	Disconnect(Peripheral)
	Send([]byte, Peripheral, ConnectionConfig) error
	IsConnected(Peripheral, ConnectionConfig) bool
	AddListener(ConnectorListener)
	RemoveListener(ConnectorListener)
}

// Reconnector remembers peripherals across disconnects
type Reconnector interface {
	Connect(Peripheral, ConnectionConfig, bool) bool
	Disconnect(Peripheral, bool)
}

// Listener receives decoded glasses events
type Listener interface {
	OnStatus(Status)
	OnFrame(*codec.Frame)
	OnLongPress(*codec.Frame)
	OnRecordData(*codec.Frame)
	OnDecodeError([]byte, error)
	OnInternalError(error)
}

type BaseListener struct{}

func (BaseListener) OnStatus(Status)             {}
func (BaseListener) OnFrame(*codec.Frame)        {}
func (BaseListener) OnLongPress(*codec.Frame)    {}
func (BaseListener) OnRecordData(*codec.Frame)   {}
func (BaseListener) OnDecodeError([]byte, error) {}
func (BaseListener) OnInternalError(error)       {}

// Options tune a GlassesClient
type Options struct {
	Config ConnectionConfig
	// HeartbeatInterval is the period of heartbeat commands while Ready, 0 disables them
	HeartbeatInterval time.Duration
	// AutoReconnect asks the reconnector to remember the peripheral
	AutoReconnect bool
	// Reassemble joins notifications split across several packets before decoding.
	// When false every notification is decoded as one frame.
	Reassemble bool
}

func DefaultOptions() Options {
	return Options{
		Config:            DefaultConnectionConfig(),
		HeartbeatInterval: util.HeartbeatInterval,
		AutoReconnect:     true,
	}
}

// GlassesClient binds one peripheral and config to a connector. It keeps the
// link alive with heartbeats and turns notifications into decoded events.
type GlassesClient struct {
	BaseConnectorListener

	connector   Connector
	reconnector Reconnector
	peripheral  Peripheral
	listener    Listener
	opts        Options
	logger      util.Logger
	reassembler codec.Reassembler

	mu    sync.Mutex
	state State
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewGlassesClient returns a stopped client. reconnector may be nil.
func NewGlassesClient(connector Connector, reconnector Reconnector, p Peripheral, listener Listener, opts Options) *GlassesClient {
	if listener == nil {
		listener = BaseListener{}
	}
	return &GlassesClient{
		connector:   connector,
		reconnector: reconnector,
		peripheral:  p,
		listener:    listener,
		opts:        opts,
		logger: util.ComponentLogger("client").ChildLogger(map[string]interface{}{
			"peripheral": p.ID.String(),
			"config":     opts.Config.Identify,
		}),
		state: State{Peripheral: p, Config: opts.Config},
	}
}

// Run subscribes to the connector and starts the heartbeat loop
func (c *GlassesClient) Run() {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return
	}
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	c.connector.AddListener(c)
	if c.opts.HeartbeatInterval > 0 {
		c.wg.Add(1)
		go c.heartbeatLoop(stop)
	}
}

// Stop ends the heartbeat loop and unsubscribes. The link is left as is.
func (c *GlassesClient) Stop() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	c.wg.Wait()
	c.connector.RemoveListener(c)
}

// Connect starts a handshake for the bound pair
func (c *GlassesClient) Connect() bool {
	prev := c.State().Status
	c.setStatus(Linking)
	var ok bool
	if c.reconnector != nil {
		ok = c.reconnector.Connect(c.peripheral, c.opts.Config, c.opts.AutoReconnect)
	} else {
		ok = c.connector.Connect(c.peripheral, c.opts.Config)
	}
	if !ok {
		c.setStatus(prev)
	}
	return ok
}

// Disconnect drops the link, forgetting the peripheral when asked
func (c *GlassesClient) Disconnect(forget bool) {
	if c.reconnector != nil {
		c.reconnector.Disconnect(c.peripheral, forget)
	} else {
		c.connector.Disconnect(c.peripheral)
	}
}

// SendCommand encodes cmd and writes it to the bound pair
func (c *GlassesClient) SendCommand(cmd codec.Command) error {
	if !c.connector.IsConnected(c.peripheral, c.opts.Config) {
		return errors.Wrapf(ErrNotConnected, "send %s", cmd)
	}
	c.logger.Debugf("send %s", cmd)
	return errors.Wrapf(c.connector.Send(codec.Encode(cmd), c.peripheral, c.opts.Config), "send %s", cmd)
}

func (c *GlassesClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *GlassesClient) setStatus(s Status) {
	c.mu.Lock()
	changed := c.state.Status != s
	c.state.Status = s
	c.mu.Unlock()
	if changed {
		c.logger.Infof("status %s", s)
		c.listener.OnStatus(s)
	}
}

func (c *GlassesClient) heartbeatLoop(stop <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.heartbeat(); err != nil {
				c.listener.OnInternalError(err)
			}
		}
	}
}

func (c *GlassesClient) heartbeat() error {
	if c.State().Status != Ready {
		return nil
	}
	if err := c.SendCommand(codec.Heartbeat()); err != nil {
		return err
	}
	c.mu.Lock()
	c.state.Heartbeats++
	c.state.LastHeartbeat = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *GlassesClient) ours(p Peripheral) bool {
	return p.ID == c.peripheral.ID
}

func (c *GlassesClient) OnNotifyStatus(p Peripheral, ch *Characteristic, s NotifyStatus) {
	if !c.ours(p) || !ch.UUID.Equal(c.opts.Config.NotifyCharUUID) {
		return
	}
	if s == NotifySuccess {
		c.setStatus(Ready)
	}
}

func (c *GlassesClient) OnConnectFailed(p Peripheral, cfg ConnectionConfig, err error) {
	if !c.ours(p) || !cfg.Equal(c.opts.Config) {
		return
	}
	c.setStatus(Offline)
	c.listener.OnInternalError(err)
}

func (c *GlassesClient) OnDisconnected(p Peripheral, err error, requested bool) {
	if !c.ours(p) {
		return
	}
	c.reassembler.Reset()
	c.setStatus(Offline)
}

func (c *GlassesClient) OnValueUpdated(p Peripheral, ch *Characteristic, data []byte) {
	if !c.ours(p) || !ch.UUID.Equal(c.opts.Config.NotifyCharUUID) {
		return
	}
	if !c.opts.Reassemble {
		c.handle(data)
		return
	}
	for _, b := range c.reassembler.Feed(data) {
		c.handle(b)
	}
}

func (c *GlassesClient) handle(b []byte) {
	f, err := codec.Decode(b)
	if err == nil {
		err = f.Validate()
	}
	if err != nil {
		c.logger.Warnf("undecodable notification % X: %s", b, err)
		c.listener.OnDecodeError(b, err)
		return
	}
	c.mu.Lock()
	c.state.Frames++
	c.mu.Unlock()

	c.listener.OnFrame(f)
	switch {
	case f.IsLongPress():
		c.listener.OnLongPress(f)
	case f.IsRecordData():
		c.listener.OnRecordData(f)
	}
}

var _ ConnectorListener = &GlassesClient{}

package reconnect

import (
	"sort"
	"sync"
	"time"

	. "github.com/Krajiyah/glasslink/pkg/models"
	"github.com/Krajiyah/glasslink/pkg/util"
	"github.com/deckarep/golang-set"
	"github.com/go-ble/ble"
	"github.com/pkg/errors"
)

// Connector is the part of the connector the policy drives
type Connector interface {
	Connect(Peripheral, ConnectionConfig) bool
	Disconnect(Peripheral)
	Retrieve([]PeripheralID) []Peripheral
	DiscoveryMap() *DiscoveryMap
	ConnectStatus() ConnectStatus
	AddListener(ConnectorListener)
	RemoveListener(ConnectorListener)
}

// Options tune a Policy
type Options struct {
	// Enabled turns every trigger on or off
	Enabled bool
	// DisconnectDelay is waited after an unexpected disconnect
	DisconnectDelay time.Duration
	// RequiredService qualifies discovered peripherals that are not remembered
	RequiredService ble.UUID
	// Config is used for peripherals connected before this process started
	Config ConnectionConfig
}

func DefaultOptions() Options {
	return Options{
		Enabled:         true,
		DisconnectDelay: util.ReconnectDelay,
		RequiredService: util.MustParseUUID(util.BaseServiceUUID),
		Config:          DefaultConnectionConfig(),
	}
}

// Policy remembers which peripherals should stay connected and reconnects
// them when the radio powers on, the app comes to the foreground, the system
// reports a remembered peripheral connected, or a link drops unexpectedly.
type Policy struct {
	BaseConnectorListener

	connector Connector
	store     Store
	opts      Options
	logger    util.Logger

	remembered mapset.Set

	mu      sync.Mutex
	state   State
	configs map[PeripheralID][]ConnectionConfig
	pending []ConnectionConfig
	dialing Peripheral
	radioOn bool
	delay   *time.Timer
}

// NewPolicy loads the remembered identities from store
func NewPolicy(connector Connector, store Store, opts Options) (*Policy, error) {
	st, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load reconnect state")
	}
	p := &Policy{
		connector:  connector,
		store:      store,
		opts:       opts,
		logger:     util.ComponentLogger("reconnect"),
		remembered: mapset.NewSet(),
		state:      st,
		configs:    map[PeripheralID][]ConnectionConfig{},
	}
	for _, id := range st.Remembered {
		p.remembered.Add(id)
	}
	return p, nil
}

// Start listens to the connector. Start before the connector so the first
// powered-on report restores remembered peripherals.
func (p *Policy) Start() {
	p.connector.AddListener(p)
}

func (p *Policy) Stop() {
	p.connector.RemoveListener(p)
	p.cancelDelay()
}

// Connect connects (per, cfg) and remembers per when autoReconnect is set
func (p *Policy) Connect(per Peripheral, cfg ConnectionConfig, autoReconnect bool) bool {
	p.cancelDelay()
	p.mu.Lock()
	p.configs[per.ID] = withConfig(p.configs[per.ID], cfg)
	p.pending = nil
	p.mu.Unlock()
	if autoReconnect {
		if err := p.Remember(per.ID); err != nil {
			p.logger.Errorf("remember %s: %s", per.ID, err)
		}
	}
	return p.dial(per, cfg)
}

// Disconnect drops the link to per and forgets it when asked
func (p *Policy) Disconnect(per Peripheral, forget bool) {
	p.cancelDelay()
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
	if forget {
		if err := p.Forget(per.ID); err != nil {
			p.logger.Errorf("forget %s: %s", per.ID, err)
		}
	}
	p.connector.Disconnect(per)
}

func (p *Policy) Remember(id PeripheralID) error {
	if !p.remembered.Add(id) {
		return nil
	}
	p.logger.Infof("remembering %s", id)
	return p.persist()
}

func (p *Policy) Forget(id PeripheralID) error {
	if !p.remembered.Contains(id) {
		return nil
	}
	p.remembered.Remove(id)
	p.mu.Lock()
	delete(p.configs, id)
	if p.state.LastConnected == id {
		p.state.LastConnected = ""
	}
	p.mu.Unlock()
	p.logger.Infof("forgetting %s", id)
	return p.persist()
}

// Remembered returns the remembered identities in order
func (p *Policy) Remembered() []PeripheralID {
	ret := []PeripheralID{}
	for _, v := range p.remembered.ToSlice() {
		ret = append(ret, v.(PeripheralID))
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// LastConnected is the last peripheral that finished a handshake
func (p *Policy) LastConnected() PeripheralID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.LastConnected
}

// persist merges the policy fields into the stored state, which other
// components may share
func (p *Policy) persist() error {
	st, err := p.store.Load()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.state.Remembered = p.Remembered()
	st.Remembered = p.state.Remembered
	st.LastConnected = p.state.LastConnected
	p.mu.Unlock()
	return p.store.Save(st)
}

// AppDidBecomeActive reconnects when the app returns to the foreground disconnected
func (p *Policy) AppDidBecomeActive() bool {
	return p.Reconnect("foreground", "")
}

// Reconnect connects the best remembered candidate unless a link is up or
// being set up. prefer, when set and reachable, wins over every other candidate.
func (p *Policy) Reconnect(reason string, prefer PeripheralID) bool {
	if !p.opts.Enabled {
		return false
	}
	if p.remembered.Cardinality() == 0 {
		p.logger.Debugf("%s: nothing remembered", reason)
		return false
	}
	switch s := p.connector.ConnectStatus(); s {
	case Connected, Connecting:
		p.logger.Debugf("%s: already %s", reason, s)
		return false
	}
	per, ok := p.candidate(prefer)
	if !ok {
		p.logger.Infof("%s: no reachable peripheral", reason)
		return false
	}
	cfgs := p.configsFor(per.ID)
	p.logger.Infof("%s: reconnecting %s with %d configs", reason, per.ID, len(cfgs))
	p.mu.Lock()
	p.pending = cfgs[1:]
	p.mu.Unlock()
	if !p.dial(per, cfgs[0]) {
		p.mu.Lock()
		p.pending = nil
		p.mu.Unlock()
		return false
	}
	return true
}

func (p *Policy) dial(per Peripheral, cfg ConnectionConfig) bool {
	p.mu.Lock()
	p.dialing = per
	p.mu.Unlock()
	return p.connector.Connect(per, cfg)
}

// configsFor returns every config id was linked under, in the order they
// were first connected
func (p *Policy) configsFor(id PeripheralID) []ConnectionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfgs := p.configs[id]; len(cfgs) > 0 {
		return append([]ConnectionConfig(nil), cfgs...)
	}
	return []ConnectionConfig{p.opts.Config}
}

func withConfig(cfgs []ConnectionConfig, cfg ConnectionConfig) []ConnectionConfig {
	for i, c := range cfgs {
		if c.Equal(cfg) {
			cfgs[i] = cfg
			return cfgs
		}
	}
	return append(cfgs, cfg)
}

// candidate picks prefer, then the last connected peripheral, then any
// other remembered one the platform still knows, then the strongest
// discovery advertising the required service
func (p *Policy) candidate(prefer PeripheralID) (Peripheral, bool) {
	ids := p.Remembered()
	order := []PeripheralID{}
	if prefer != "" {
		order = append(order, prefer)
	}
	if last := p.LastConnected(); last != "" {
		order = append(order, last)
	}
	order = append(order, ids...)

	known := map[PeripheralID]Peripheral{}
	for _, per := range p.connector.Retrieve(ids) {
		known[per.ID] = per
	}
	for _, id := range order {
		if per, ok := known[id]; ok {
			return per, true
		}
	}

	found := p.connector.DiscoveryMap().Supporting(p.opts.RequiredService)
	for _, d := range found {
		if p.remembered.Contains(d.Peripheral.ID) {
			return d.Peripheral, true
		}
	}
	if len(found) > 0 {
		return found[0].Peripheral, true
	}
	return Peripheral{}, false
}

func (p *Policy) cancelDelay() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delay != nil {
		p.delay.Stop()
		p.delay = nil
	}
}

func (p *Policy) OnRadioState(s RadioState) {
	p.mu.Lock()
	wasOn := p.radioOn
	p.radioOn = s == RadioPoweredOn
	p.mu.Unlock()
	if s != RadioPoweredOn {
		p.cancelDelay()
		return
	}
	if !wasOn {
		p.Reconnect("radio powered on", "")
	}
}

func (p *Policy) OnConnectStatus(s ConnectStatus) {
	if s != Connected {
		return
	}
	p.mu.Lock()
	per := p.dialing
	id := per.ID
	changed := id != "" && p.state.LastConnected != id
	if changed {
		p.state.LastConnected = id
	}
	var next *ConnectionConfig
	if len(p.pending) > 0 {
		next = &p.pending[0]
		p.pending = p.pending[1:]
	}
	p.mu.Unlock()
	if changed && p.remembered.Contains(id) {
		if err := p.persist(); err != nil {
			p.logger.Errorf("save last connected: %s", err)
		}
	}
	if next != nil {
		p.logger.Infof("linking %s under %s", id, next.Identify)
		p.dial(per, *next)
	}
}

func (p *Policy) OnConnectFailed(per Peripheral, cfg ConnectionConfig, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
}

func (p *Policy) OnConnectionEvent(ev ConnectionEvent, per Peripheral) {
	if ev != PeerConnected || !p.remembered.Contains(per.ID) {
		return
	}
	p.Reconnect("system connected "+per.ID.String(), per.ID)
}

func (p *Policy) OnDisconnected(per Peripheral, err error, requested bool) {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
	if requested || !p.opts.Enabled || !p.remembered.Contains(per.ID) {
		return
	}
	p.logger.Warnf("%s dropped (%v), reconnecting in %s", per.ID, err, p.opts.DisconnectDelay)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delay != nil {
		p.delay.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(p.opts.DisconnectDelay, func() {
		p.mu.Lock()
		if p.delay != t {
			p.mu.Unlock()
			return
		}
		p.delay = nil
		p.mu.Unlock()
		p.Reconnect("unexpected disconnect", per.ID)
	})
	p.delay = t
}

var _ ConnectorListener = &Policy{}

package ble

import (
	. "github.com/Krajiyah/glasslink/pkg/models"
	"github.com/Krajiyah/glasslink/pkg/platform"
	"github.com/go-ble/ble"
	"github.com/pkg/errors"
)

// delegate queues platform callbacks onto the connector loop
type delegate struct {
	c *Connector
}

func (d *delegate) DidUpdateState(s RadioState) {
	d.c.box.Post(func() { d.c.onRadioState(s) })
}

func (d *delegate) DidDiscover(disc Discovery) {
	d.c.box.Post(func() { d.c.onDiscover(disc) })
}

func (d *delegate) ConnectionEventDidOccur(ev ConnectionEvent, p Peripheral) {
	d.c.box.Post(func() {
		d.c.logger.Debugf("connection event %s for %s", ev, p.ID)
		d.c.emit(func(l ConnectorListener) { l.OnConnectionEvent(ev, p) })
	})
}

func (d *delegate) DidConnect(p Peripheral) {
	d.c.box.Post(func() { d.c.onConnect(p) })
}

func (d *delegate) DidFailToConnect(p Peripheral, err error) {
	d.c.box.Post(func() {
		if a := d.c.attemptFor(p); a != nil {
			d.c.fail(a, errors.Wrap(ErrConnectFailed, errString(err)))
		}
	})
}

func (d *delegate) DidDisconnect(p Peripheral, err error) {
	d.c.box.Post(func() { d.c.onDisconnect(p, err) })
}

func (d *delegate) DidDiscoverServices(p Peripheral, services []ble.UUID, err error) {
	d.c.box.Post(func() { d.c.onServices(p, services, err) })
}

func (d *delegate) DidDiscoverCharacteristics(p Peripheral, service ble.UUID, chars []*Characteristic, err error) {
	d.c.box.Post(func() { d.c.onCharacteristics(p, service, chars, err) })
}

func (d *delegate) DidUpdateNotificationState(p Peripheral, ch *Characteristic, notifying bool, err error) {
	d.c.box.Post(func() { d.c.onNotificationState(p, ch, notifying, err) })
}

func (d *delegate) DidUpdateValue(p Peripheral, ch *Characteristic, data []byte, err error) {
	d.c.box.Post(func() { d.c.onValue(p, ch, data, err) })
}

func (d *delegate) DidWriteValue(p Peripheral, ch *Characteristic, err error) {
	d.c.box.Post(func() { d.c.onWrite(p, ch, err) })
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func (c *Connector) onRadioState(s RadioState) {
	prev := c.radio
	c.radio = s
	c.logger.Infof("radio %s", s)
	c.emit(func(l ConnectorListener) { l.OnRadioState(s) })
	if prev == RadioPoweredOn && s != RadioPoweredOn {
		c.onRadioLost()
	}
}

// onRadioLost drops every subscription and link the radio took with it
func (c *Connector) onRadioLost() {
	peripherals := map[PeripheralID]Peripheral{}
	for _, rec := range c.registry.Records() {
		peripherals[rec.Peripheral.ID] = rec.Peripheral
	}
	for id, chars := range c.registry.AllNotifiable() {
		for _, ch := range chars {
			c.unsubscribe(peripherals[id], ch)
		}
	}
	c.registry.SetConnectedForAll(false, true)
	c.clearInFlight()
	if c.scanStatus == Scanning {
		c.registering = false
		c.setScanStatus(ScanStopped)
	}
	if c.status == Connecting || c.status == Connected {
		c.stage = StageDisconnected
		c.setStatus(Disconnected)
	}
}

func (c *Connector) onDiscover(disc Discovery) {
	c.discovered.Set(disc)
	c.emit(func(l ConnectorListener) { l.OnDiscovered(disc) })
}

func (c *Connector) onConnect(p Peripheral) {
	a := c.attemptFor(p)
	if a == nil {
		c.logger.Warnf("%s connected without a handshake, cancelling", p.ID)
		c.requested[p.ID] = true
		c.central.CancelConnection(p)
		return
	}
	a.logger.Info("link up, discovering services")
	c.central.RegisterForConnectionEvents(platform.RegisterOptions{PeripheralIDs: []PeripheralID{p.ID}})
	c.stage = StageServiceDiscovery
	c.central.DiscoverServices(p, []ble.UUID{a.cfg.ServiceUUID})
}

func (c *Connector) onServices(p Peripheral, services []ble.UUID, err error) {
	a := c.attemptFor(p)
	if a == nil {
		return
	}
	if err != nil {
		c.abort(a, errors.Wrap(ErrServiceNotFound, err.Error()))
		return
	}
	if !ble.Contains(services, a.cfg.ServiceUUID) {
		c.abort(a, errors.Wrapf(ErrServiceNotFound, "service %s", a.cfg.ServiceUUID))
		return
	}
	c.stage = StageCharacteristicDiscovery
	c.central.DiscoverCharacteristics(p, a.cfg.ServiceUUID, a.cfg.CharacteristicFilter())
}

func (c *Connector) onCharacteristics(p Peripheral, service ble.UUID, chars []*Characteristic, err error) {
	a := c.attemptFor(p)
	if a == nil || !service.Equal(a.cfg.ServiceUUID) {
		return
	}
	if err != nil {
		c.abort(a, errors.Wrap(ErrCharacteristicDiscoveryFailed, err.Error()))
		return
	}
	for _, ch := range chars {
		if !a.cfg.Matches(ch.UUID) {
			continue
		}
		c.registry.AddCharacteristic(p, a.cfg, ch)
		if ch.CanNotify() {
			a.pendingNotify++
			delete(c.unsubscribing, subscriptionKey(p, ch))
			c.central.SetNotify(p, ch, true)
		}
	}
	a.logger.Debugf("%d characteristics, %d to subscribe", len(chars), a.pendingNotify)

	if a.pendingNotify == 0 {
		// nothing to confirm
		c.registry.SetConnected(p, a.cfg, true)
		c.markConnected(a)
		c.clearInFlight()
		return
	}
	if c.opts.AwaitSubscription {
		c.stage = StageSubscribing
		return
	}
	c.markConnected(a)
}

func (c *Connector) markConnected(a *attempt) {
	if a.connected {
		return
	}
	a.connected = true
	a.timer.Stop()
	a.logger.Info("connected")
	c.stage = StageConnected
	c.setStatus(Connected)
}

func (c *Connector) onNotificationState(p Peripheral, ch *Characteristic, notifying bool, err error) {
	key := subscriptionKey(p, ch)
	if c.unsubscribing[key] && !notifying {
		delete(c.unsubscribing, key)
		return
	}

	ok := err == nil && notifying
	if ok {
		c.emit(func(l ConnectorListener) { l.OnNotifyStatus(p, ch, NotifySuccess) })
	} else {
		c.logger.Errorf("subscribe %s on %s failed: notifying=%v err=%v", ch, p.ID, notifying, err)
		c.emit(func(l ConnectorListener) { l.OnNotifyStatus(p, ch, NotifyFailed) })
	}

	a := c.attemptFor(p)
	if a == nil || !c.registry.HasCharacteristic(p, a.cfg, ch) {
		// a subscription of an earlier handshake on the same peripheral
		c.onOtherNotificationState(p, ch, ok)
		return
	}

	a.pendingNotify--
	if !ok {
		c.clearInFlight()
		if !a.connected {
			c.fail(a, errors.Wrapf(ErrConnectFailed, "subscribe %s", ch))
		}
		c.requested[p.ID] = true
		c.central.CancelConnection(p)
		return
	}
	c.registry.SetConnected(p, a.cfg, true)
	c.markConnected(a)
	if a.pendingNotify <= 0 {
		c.clearInFlight()
	}
}

// onOtherNotificationState settles a subscription whose config is no longer in flight.
// It never touches the in-flight attempt.
func (c *Connector) onOtherNotificationState(p Peripheral, ch *Characteristic, ok bool) {
	cfg, found := c.registry.Owner(p.ID, ch)
	if !found {
		c.logger.Warnf("notification state of unknown characteristic %s on %s", ch, p.ID)
		return
	}
	if ok {
		c.registry.SetConnected(p, cfg, true)
		return
	}
	c.registry.SetConnected(p, cfg, false)
	c.requested[p.ID] = true
	c.central.CancelConnection(p)
}

// abort fails a and drops the link it left behind
func (c *Connector) abort(a *attempt, err error) {
	c.fail(a, err)
	c.requested[a.p.ID] = true
	c.central.CancelConnection(a.p)
}

func subscriptionKey(p Peripheral, ch *Characteristic) string {
	return p.ID.String() + "/" + ch.Key()
}

func (c *Connector) unsubscribe(p Peripheral, ch *Characteristic) {
	c.unsubscribing[subscriptionKey(p, ch)] = true
	c.central.SetNotify(p, ch, false)
}

func (c *Connector) onDisconnect(p Peripheral, err error) {
	for _, ch := range c.registry.FindAllNotifiable(p.ID) {
		c.unsubscribe(p, ch)
	}
	c.registry.SetConnectedForPeripheral(p.ID, false, true)

	requested := c.requested[p.ID]
	delete(c.requested, p.ID)
	if a := c.attemptFor(p); a != nil {
		c.clearInFlight()
		if !a.connected {
			c.fail(a, errors.Wrap(ErrConnectFailed, "disconnected during handshake"))
		}
	}

	if p.ID == c.current.ID && (c.status == Connected || c.status == Connecting) {
		c.stage = StageDisconnected
		c.setStatus(Disconnected)
	}
	if requested {
		c.logger.Infof("%s disconnected", p.ID)
	} else {
		c.logger.Warnf("%s disconnected unexpectedly: %v", p.ID, err)
	}
	c.emit(func(l ConnectorListener) { l.OnDisconnected(p, err, requested) })
}

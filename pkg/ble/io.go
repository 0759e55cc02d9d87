package ble

import (
	. "github.com/Krajiyah/glasslink/pkg/models"
	"github.com/Krajiyah/glasslink/pkg/platform"
	"github.com/pkg/errors"
)

// Send writes data to the writable characteristic of (p, cfg). It fails
// without touching the radio when the pair is not connected.
func (c *Connector) Send(data []byte, p Peripheral, cfg ConnectionConfig) error {
	if len(data) == 0 {
		return errors.New("empty data to write")
	}
	var err error
	ok := c.do(func() {
		connected, ch := c.registry.FindWritable(p, cfg)
		if !connected {
			c.logger.Errorf("send to %s/%s: not connected", p.ID, cfg.Identify)
			err = errors.Wrapf(ErrNotConnected, "%s/%s", p.ID, cfg.Identify)
			return
		}
		if ch == nil {
			c.logger.Errorf("send to %s/%s: no writable characteristic", p.ID, cfg.Identify)
			err = errors.Wrapf(ErrWriteFailed, "%s/%s has no writable characteristic", p.ID, cfg.Identify)
			return
		}
		mode := platform.WithResponse
		if !ch.CanWriteWithResponse() {
			mode = platform.WithoutResponse
		}
		c.logger.Debugf("send % X to %s/%s", data, p.ID, cfg.Identify)
		c.central.Write(p, ch, data, mode)
	})
	if !ok {
		return errors.Wrap(ErrNotConnected, "connector closed")
	}
	return err
}

func (c *Connector) onValue(p Peripheral, ch *Characteristic, data []byte, err error) {
	if err != nil {
		c.logger.Errorf("read %s on %s: %s", ch, p.ID, err)
		return
	}
	c.emit(func(l ConnectorListener) { l.OnValueUpdated(p, ch, data) })
}

func (c *Connector) onWrite(p Peripheral, ch *Characteristic, err error) {
	if err != nil {
		c.logger.Errorf("write %s on %s: %s", ch, p.ID, err)
		return
	}
	c.logger.Debugf("write %s on %s done", ch, p.ID)
}

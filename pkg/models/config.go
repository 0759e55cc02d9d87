package models

import (
	"github.com/Krajiyah/glasslink/pkg/util"
	"github.com/go-ble/ble"
	"github.com/pkg/errors"
)

// ConnectionConfig declares which service and characteristics one logical
// connection uses. Several configs may target one physical peripheral, they
// are told apart by Identify alone.
type ConnectionConfig struct {
	Identify       string
	ServiceUUID    ble.UUID
	WriteCharUUID  ble.UUID
	NotifyCharUUID ble.UUID
}

// DefaultConnectionConfig is the glasses base command service
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Identify:       util.BaseConfigIdentify,
		ServiceUUID:    ble.MustParse(util.BaseServiceUUID),
		WriteCharUUID:  ble.MustParse(util.BaseWriteCharUUID),
		NotifyCharUUID: ble.MustParse(util.BaseNotifyCharUUID),
	}
}

// NewConnectionConfig parses string UUIDs into a config. Empty characteristic
// UUIDs are allowed and skipped during discovery.
func NewConnectionConfig(identify, service, write, notify string) (ConnectionConfig, error) {
	cfg := ConnectionConfig{Identify: identify}
	if identify == "" {
		return cfg, errors.Errorf("config identify must not be empty")
	}
	var err error
	if cfg.ServiceUUID, err = ble.Parse(service); err != nil {
		return cfg, errors.Errorf("invalid service uuid %q: %s", service, err)
	}
	if write != "" {
		if cfg.WriteCharUUID, err = ble.Parse(write); err != nil {
			return cfg, errors.Errorf("invalid write characteristic uuid %q: %s", write, err)
		}
	}
	if notify != "" {
		if cfg.NotifyCharUUID, err = ble.Parse(notify); err != nil {
			return cfg, errors.Errorf("invalid notify characteristic uuid %q: %s", notify, err)
		}
	}
	return cfg, nil
}

// Equal compares configs by Identify
func (c ConnectionConfig) Equal(o ConnectionConfig) bool {
	return c.Identify == o.Identify
}

// CharacteristicFilter lists the configured characteristic UUIDs, skipping unset ones
func (c ConnectionConfig) CharacteristicFilter() []ble.UUID {
	filter := []ble.UUID{}
	if !util.UuidIsEmpty(c.WriteCharUUID) {
		filter = append(filter, c.WriteCharUUID)
	}
	if !util.UuidIsEmpty(c.NotifyCharUUID) {
		filter = append(filter, c.NotifyCharUUID)
	}
	return filter
}

// Matches reports whether u is one of the configured characteristics
func (c ConnectionConfig) Matches(u ble.UUID) bool {
	for _, f := range c.CharacteristicFilter() {
		if f.Equal(u) {
			return true
		}
	}
	return false
}

func (c ConnectionConfig) String() string { return c.Identify }

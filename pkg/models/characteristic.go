package models

import (
	"fmt"

	"github.com/go-ble/ble"
)

// Characteristic is a discovered data endpoint of a service
type Characteristic struct {
	ServiceUUID ble.UUID
	UUID        ble.UUID
	Property    ble.Property
	Handle      uint16
}

// NewCharacteristic builds a characteristic of service with the given properties
func NewCharacteristic(service, uuid ble.UUID, prop ble.Property) *Characteristic {
	return &Characteristic{ServiceUUID: service, UUID: uuid, Property: prop}
}

// Key identifies a characteristic on a peripheral
func (c *Characteristic) Key() string {
	return fmt.Sprintf("%s/%s/%d", c.ServiceUUID.String(), c.UUID.String(), c.Handle)
}

// CanWrite reports write with or without response support
func (c *Characteristic) CanWrite() bool {
	return c.Property&(ble.CharWrite|ble.CharWriteNR) != 0
}

// CanWriteWithResponse reports acknowledged write support
func (c *Characteristic) CanWriteWithResponse() bool {
	return c.Property&ble.CharWrite != 0
}

// CanNotify reports notify or indicate support
func (c *Characteristic) CanNotify() bool {
	return c.Property&(ble.CharNotify|ble.CharIndicate) != 0
}

// Indicates reports indicate-only subscription
func (c *Characteristic) Indicates() bool {
	return c.Property&ble.CharIndicate != 0 && c.Property&ble.CharNotify == 0
}

func (c *Characteristic) String() string {
	return fmt.Sprintf("%s(%s)", c.UUID.String(), PropertyString(c.Property))
}

// PropertyString renders a property bitmask as a readable list
func PropertyString(p ble.Property) string {
	names := []struct {
		bit  ble.Property
		name string
	}{
		{ble.CharBroadcast, "broadcast"},
		{ble.CharRead, "read"},
		{ble.CharWriteNR, "writeWithoutResponse"},
		{ble.CharWrite, "write"},
		{ble.CharNotify, "notify"},
		{ble.CharIndicate, "indicate"},
		{ble.CharSignedWrite, "signedWrite"},
		{ble.CharExtended, "extended"},
	}
	s := ""
	for _, n := range names {
		if p&n.bit == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += n.name
	}
	return s
}

package models

import (
	"testing"

	"github.com/go-ble/ble"
	"gotest.tools/assert"
)

func TestConfigEqualityByIdentify(t *testing.T) {
	a := DefaultConnectionConfig()
	b := DefaultConnectionConfig()
	b.ServiceUUID = ble.MustParse("180d")
	assert.Assert(t, a.Equal(b))
	b.Identify = "ota"
	assert.Assert(t, !a.Equal(b))
}

func TestCharacteristicFilterSkipsEmpty(t *testing.T) {
	cfg, err := NewConnectionConfig("ota", "180d", "2a37", "")
	assert.NilError(t, err)
	filter := cfg.CharacteristicFilter()
	assert.Equal(t, len(filter), 1)
	assert.Assert(t, cfg.Matches(ble.MustParse("2a37")))
	assert.Assert(t, !cfg.Matches(ble.MustParse("2a38")))
}

func TestNewConnectionConfigRejectsBadInput(t *testing.T) {
	_, err := NewConnectionConfig("", "180d", "", "")
	assert.ErrorContains(t, err, "identify")
	_, err = NewConnectionConfig("x", "not-a-uuid", "", "")
	assert.ErrorContains(t, err, "invalid service uuid")
}

func TestCharacteristicProperties(t *testing.T) {
	c := NewCharacteristic(testService, ble.MustParse("2a37"), ble.CharWriteNR|ble.CharIndicate)
	assert.Assert(t, c.CanWrite())
	assert.Assert(t, !c.CanWriteWithResponse())
	assert.Assert(t, c.CanNotify())
	assert.Assert(t, c.Indicates())
	assert.Equal(t, PropertyString(c.Property), "writeWithoutResponse|indicate")
}

package registry

import (
	"testing"

	. "github.com/Krajiyah/glasslink/pkg/models"
	"github.com/go-ble/ble"
	"gotest.tools/assert"
	is "gotest.tools/assert/cmp"
)

var (
	testPeripheral  = Peripheral{ID: "11:22:33:44:55:66", Name: "glasses"}
	otherPeripheral = Peripheral{ID: "AA:BB:CC:DD:EE:FF"}
	configA         = DefaultConnectionConfig()
	configB         = ConnectionConfig{
		Identify:       "ota",
		ServiceUUID:    ble.MustParse("0000FE59-0000-1000-8000-00805F9B34FB"),
		WriteCharUUID:  ble.MustParse("8EC90003-F315-4F60-9FB8-838830DAEA50"),
		NotifyCharUUID: ble.MustParse("8EC90001-F315-4F60-9FB8-838830DAEA50"),
	}
)

func writeChar(cfg ConnectionConfig) *Characteristic {
	return NewCharacteristic(cfg.ServiceUUID, cfg.WriteCharUUID, ble.CharWrite|ble.CharWriteNR)
}

func notifyChar(cfg ConnectionConfig) *Characteristic {
	return NewCharacteristic(cfg.ServiceUUID, cfg.NotifyCharUUID, ble.CharNotify)
}

func TestIsNewPairAfterAdd(t *testing.T) {
	r := NewRegistry()
	isNew, i := r.IsNewPair(testPeripheral, configA)
	assert.Assert(t, isNew)
	assert.Equal(t, i, -1)

	r.Add(otherPeripheral, configA)
	idx := r.Add(testPeripheral, configA)
	isNew, i = r.IsNewPair(testPeripheral, configA)
	assert.Assert(t, !isNew)
	assert.Equal(t, i, idx)

	isNew, _ = r.IsNewPair(testPeripheral, configB)
	assert.Assert(t, isNew)
}

func TestPairIdentityIgnoresUUIDs(t *testing.T) {
	r := NewRegistry()
	r.Add(testPeripheral, configA)
	changed := configA
	changed.WriteCharUUID = ble.UUID16(0x2A00)
	isNew, _ := r.IsNewPair(testPeripheral, changed)
	assert.Assert(t, !isNew)
	isNew, _ = r.IsNewPair(Peripheral{ID: testPeripheral.ID}, configA)
	assert.Assert(t, !isNew)
}

func TestEnsure(t *testing.T) {
	r := NewRegistry()
	i := r.Ensure(Peripheral{ID: testPeripheral.ID}, configA)
	j := r.Ensure(testPeripheral, configA)
	assert.Equal(t, i, j)
	assert.Equal(t, r.Len(), 1)
	rec, ok := r.Lookup(testPeripheral, configA)
	assert.Assert(t, ok)
	assert.Equal(t, rec.Peripheral.Name, "glasses")
}

func TestAddCharacteristicDedup(t *testing.T) {
	r := NewRegistry()
	assert.Assert(t, !r.AddCharacteristic(testPeripheral, configA, writeChar(configA)))

	r.Add(testPeripheral, configA)
	assert.Assert(t, r.AddCharacteristic(testPeripheral, configA, writeChar(configA)))
	assert.Assert(t, r.AddCharacteristic(testPeripheral, configA, writeChar(configA)))
	assert.Assert(t, r.AddCharacteristic(testPeripheral, configA, notifyChar(configA)))

	rec, ok := r.Lookup(testPeripheral, configA)
	assert.Assert(t, ok)
	assert.Assert(t, is.Len(rec.Characteristics, 2))
}

func TestFindWritableAndNotifiable(t *testing.T) {
	r := NewRegistry()
	connected, c := r.FindWritable(testPeripheral, configA)
	assert.Assert(t, !connected)
	assert.Assert(t, c == nil)

	r.Add(testPeripheral, configA)
	r.AddCharacteristic(testPeripheral, configA, notifyChar(configA))
	connected, c = r.FindWritable(testPeripheral, configA)
	assert.Assert(t, !connected)
	assert.Assert(t, c == nil)

	r.AddCharacteristic(testPeripheral, configA, writeChar(configA))
	r.SetConnected(testPeripheral, configA, true)
	connected, c = r.FindWritable(testPeripheral, configA)
	assert.Assert(t, connected)
	assert.Assert(t, c.UUID.Equal(configA.WriteCharUUID))

	n := r.FindNotifiable(testPeripheral, configA)
	assert.Assert(t, n != nil)
	assert.Assert(t, n.UUID.Equal(configA.NotifyCharUUID))
	assert.Assert(t, r.FindNotifiable(testPeripheral, configB) == nil)
}

func TestOwnerOfCharacteristic(t *testing.T) {
	r := NewRegistry()
	r.Add(testPeripheral, configA)
	r.Add(testPeripheral, configB)
	r.AddCharacteristic(testPeripheral, configA, notifyChar(configA))
	r.AddCharacteristic(testPeripheral, configB, notifyChar(configB))

	assert.Assert(t, r.HasCharacteristic(testPeripheral, configA, notifyChar(configA)))
	assert.Assert(t, !r.HasCharacteristic(testPeripheral, configB, notifyChar(configA)))
	assert.Assert(t, !r.HasCharacteristic(otherPeripheral, configA, notifyChar(configA)))

	cfg, ok := r.Owner(testPeripheral.ID, notifyChar(configB))
	assert.Assert(t, ok)
	assert.Equal(t, cfg.Identify, configB.Identify)
	_, ok = r.Owner(testPeripheral.ID, writeChar(configA))
	assert.Assert(t, !ok)

	r.SetConnectedForPeripheral(testPeripheral.ID, false, true)
	_, ok = r.Owner(testPeripheral.ID, notifyChar(configA))
	assert.Assert(t, !ok)
}

func TestSetConnectedOnlyMatchingRecord(t *testing.T) {
	r := NewRegistry()
	r.Add(testPeripheral, configA)
	r.Add(testPeripheral, configB)
	assert.Assert(t, r.SetConnected(testPeripheral, configA, true))
	assert.Assert(t, !r.SetConnected(otherPeripheral, configA, true))

	a, _ := r.Lookup(testPeripheral, configA)
	b, _ := r.Lookup(testPeripheral, configB)
	assert.Assert(t, a.Connected)
	assert.Assert(t, !b.Connected)

	cfg, ok := r.UnconnectedConfig(testPeripheral.ID)
	assert.Assert(t, ok)
	assert.Equal(t, cfg.Identify, configB.Identify)
	assert.Assert(t, r.IsConnected(testPeripheral.ID))
}

func TestSetConnectedForPeripheralClearsEveryConfig(t *testing.T) {
	r := NewRegistry()
	for _, cfg := range []ConnectionConfig{configA, configB} {
		r.Add(testPeripheral, cfg)
		r.AddCharacteristic(testPeripheral, cfg, writeChar(cfg))
		r.AddCharacteristic(testPeripheral, cfg, notifyChar(cfg))
		r.SetConnected(testPeripheral, cfg, true)
	}
	r.Add(otherPeripheral, configA)
	r.AddCharacteristic(otherPeripheral, configA, notifyChar(configA))
	r.SetConnected(otherPeripheral, configA, true)

	assert.Assert(t, is.Len(r.FindAllNotifiable(testPeripheral.ID), 2))

	assert.Equal(t, r.SetConnectedForPeripheral(testPeripheral.ID, false, true), 2)
	for _, rec := range r.Records() {
		if rec.Peripheral.ID == testPeripheral.ID {
			assert.Assert(t, !rec.Connected, rec.Config.Identify)
			assert.Assert(t, is.Len(rec.Characteristics, 0), rec.Config.Identify)
		} else {
			assert.Assert(t, rec.Connected)
			assert.Assert(t, is.Len(rec.Characteristics, 1))
		}
	}
	assert.Assert(t, is.Len(r.FindAllNotifiable(testPeripheral.ID), 0))
}

func TestSetConnectedForAll(t *testing.T) {
	r := NewRegistry()
	r.Add(testPeripheral, configA)
	r.Add(testPeripheral, configB)
	r.Add(otherPeripheral, configA)
	r.AddCharacteristic(testPeripheral, configA, notifyChar(configA))
	r.AddCharacteristic(otherPeripheral, configA, notifyChar(configA))
	r.SetConnected(testPeripheral, configA, true)
	r.SetConnected(otherPeripheral, configA, true)

	all := r.AllNotifiable()
	assert.Equal(t, len(all), 2)

	r.SetConnectedForAll(false, true)
	for _, rec := range r.Records() {
		assert.Assert(t, !rec.Connected)
		assert.Assert(t, is.Len(rec.Characteristics, 0))
	}
	assert.Equal(t, len(r.AllNotifiable()), 0)
}

func TestSnapshotsAreCopies(t *testing.T) {
	r := NewRegistry()
	r.Add(testPeripheral, configA)
	r.AddCharacteristic(testPeripheral, configA, writeChar(configA))
	rec, _ := r.Lookup(testPeripheral, configA)
	rec.Characteristics[0].Property = 0
	_, c := r.FindWritable(testPeripheral, configA)
	assert.Assert(t, c != nil)
}

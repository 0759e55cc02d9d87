package internal

import (
	. "github.com/Krajiyah/glasslink/pkg/models"
	"github.com/go-ble/ble"
)

const (
	TestAddr      = "11:22:33:44:55:66"
	TestOtherAddr = "AA:BB:CC:DD:EE:FF"
	TestRSSI      = -60
)

var (
	TestPeripheral  = Peripheral{ID: NewPeripheralID(TestAddr), Name: "LAWK City_Air"}
	OtherPeripheral = Peripheral{ID: NewPeripheralID(TestOtherAddr), Name: "LAWK One"}

	// ConfigA is the base command service
	ConfigA = DefaultConnectionConfig()
	// ConfigB is a second service on the same device
	ConfigB = ConnectionConfig{
		Identify:       "ota",
		ServiceUUID:    ble.MustParse("0000FE59-0000-1000-8000-00805F9B34FB"),
		WriteCharUUID:  ble.MustParse("8EC90003-F315-4F60-9FB8-838830DAEA50"),
		NotifyCharUUID: ble.MustParse("8EC90001-F315-4F60-9FB8-838830DAEA50"),
	}
)

// WriteCharOf is the write characteristic of cfg as discovered
func WriteCharOf(cfg ConnectionConfig) *Characteristic {
	return &Characteristic{ServiceUUID: cfg.ServiceUUID, UUID: cfg.WriteCharUUID, Property: ble.CharWrite | ble.CharWriteNR, Handle: 0x10}
}

// NotifyCharOf is the notify characteristic of cfg as discovered
func NotifyCharOf(cfg ConnectionConfig) *Characteristic {
	return &Characteristic{ServiceUUID: cfg.ServiceUUID, UUID: cfg.NotifyCharUUID, Property: ble.CharNotify, Handle: 0x12}
}

// CharsOf is every characteristic of cfg
func CharsOf(cfg ConnectionConfig) []*Characteristic {
	return []*Characteristic{WriteCharOf(cfg), NotifyCharOf(cfg)}
}

type DummyAddr struct {
	Address string
}

func (addr DummyAddr) String() string { return addr.Address }

// DummyAdv is an advertisement report fed through DummyDevice.Scan
type DummyAdv struct {
	Address    ble.Addr
	Name       string
	Rssi       int
	NonService bool
}

func (a DummyAdv) LocalName() string              { return a.Name }
func (a DummyAdv) ManufacturerData() []byte       { return nil }
func (a DummyAdv) ServiceData() []ble.ServiceData { return nil }
func (a DummyAdv) Services() []ble.UUID {
	if a.NonService {
		return nil
	}
	return GetTestServiceUUIDs()
}
func (a DummyAdv) OverflowService() []ble.UUID  { return nil }
func (a DummyAdv) TxPowerLevel() int            { return 0 }
func (a DummyAdv) Connectable() bool            { return true }
func (a DummyAdv) SolicitedService() []ble.UUID { return nil }
func (a DummyAdv) RSSI() int                    { return a.Rssi }
func (a DummyAdv) Addr() ble.Addr               { return a.Address }

// NewDummyAdv builds an advertisement of the base service from addr
func NewDummyAdv(addr, name string, rssi int) DummyAdv {
	return DummyAdv{Address: DummyAddr{addr}, Name: name, Rssi: rssi}
}

func GetTestServiceUUIDs() []ble.UUID {
	return []ble.UUID{ConfigA.ServiceUUID}
}

// GetTestServices builds the GATT profile of the test glasses: the base
// service and the OTA service, each with a write and a notify characteristic
func GetTestServices() []*ble.Service {
	svcs := []*ble.Service{}
	for _, cfg := range []ConnectionConfig{ConfigA, ConfigB} {
		chars := []*ble.Characteristic{}
		for _, c := range CharsOf(cfg) {
			chars = append(chars, &ble.Characteristic{UUID: c.UUID, Property: c.Property, Handle: c.Handle})
		}
		svcs = append(svcs, &ble.Service{UUID: cfg.ServiceUUID, Characteristics: chars})
	}
	return svcs
}

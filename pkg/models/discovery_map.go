package models

import (
	"sync"

	"github.com/bradfitz/slice"
	"github.com/go-ble/ble"
)

// DiscoveryMap keeps the latest advertisement seen per peripheral
type DiscoveryMap struct {
	data  map[PeripheralID]Discovery
	mutex sync.RWMutex
}

// NewDiscoveryMap will return newly init struct
func NewDiscoveryMap() *DiscoveryMap {
	return &DiscoveryMap{data: map[PeripheralID]Discovery{}}
}

// Set records d, replacing any older report for the same peripheral.
// A report without a name keeps the previously advertised name.
func (dm *DiscoveryMap) Set(d Discovery) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()
	if old, ok := dm.data[d.Peripheral.ID]; ok {
		if d.Peripheral.Name == "" {
			d.Peripheral.Name = old.Peripheral.Name
		}
		if d.LocalName == "" {
			d.LocalName = old.LocalName
		}
		if len(d.Services) == 0 {
			d.Services = old.Services
		}
	}
	dm.data[d.Peripheral.ID] = d
}

// Get will get from map
func (dm *DiscoveryMap) Get(id PeripheralID) (Discovery, bool) {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()
	d, ok := dm.data[id]
	return d, ok
}

// Len returns the number of known peripherals
func (dm *DiscoveryMap) Len() int {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()
	return len(dm.data)
}

// Clear forgets every discovery
func (dm *DiscoveryMap) Clear() {
	dm.mutex.Lock()
	dm.data = map[PeripheralID]Discovery{}
	dm.mutex.Unlock()
}

// Sorted returns all discoveries strongest signal first, ties broken by identity
func (dm *DiscoveryMap) Sorted() []Discovery {
	dm.mutex.RLock()
	ret := make([]Discovery, 0, len(dm.data))
	for _, d := range dm.data {
		ret = append(ret, d)
	}
	dm.mutex.RUnlock()
	slice.Sort(ret, func(i, j int) bool {
		if ret[i].RSSI == ret[j].RSSI {
			return ret[i].Peripheral.ID < ret[j].Peripheral.ID
		}
		return ret[i].RSSI > ret[j].RSSI
	})
	return ret
}

// Supporting returns Sorted filtered to peripherals advertising service.
// A nil service matches everything.
func (dm *DiscoveryMap) Supporting(service ble.UUID) []Discovery {
	all := dm.Sorted()
	if len(service) == 0 {
		return all
	}
	ret := []Discovery{}
	for _, d := range all {
		if d.Advertises(service) {
			ret = append(ret, d)
		}
	}
	return ret
}

package registry

import (
	"sync"

	. "github.com/Krajiyah/glasslink/pkg/models"
	"github.com/Krajiyah/glasslink/pkg/util"
	mapset "github.com/deckarep/golang-set"
)

// Key is the composite identity of a record: one physical peripheral plus
// one logical config on it
type Key struct {
	Peripheral PeripheralID
	Identify   string
}

// KeyOf builds the record key of (p, cfg)
func KeyOf(p Peripheral, cfg ConnectionConfig) Key {
	return Key{Peripheral: p.ID, Identify: cfg.Identify}
}

// Record is a snapshot of one (peripheral, config) pair
type Record struct {
	Peripheral      Peripheral
	Config          ConnectionConfig
	Connected       bool
	Characteristics []*Characteristic
}

// Key returns the composite identity of r
func (r Record) Key() Key { return KeyOf(r.Peripheral, r.Config) }

type record struct {
	peripheral Peripheral
	config     ConnectionConfig
	connected  bool
	seen       mapset.Set
	chars      []*Characteristic
}

func newRecord(p Peripheral, cfg ConnectionConfig) *record {
	return &record{peripheral: p, config: cfg, seen: mapset.NewSet()}
}

func (r *record) key() Key { return KeyOf(r.peripheral, r.config) }

func (r *record) clearCharacteristics() {
	r.seen.Clear()
	r.chars = nil
}

func (r *record) snapshot() Record {
	chars := make([]*Characteristic, len(r.chars))
	for i, c := range r.chars {
		cp := *c
		chars[i] = &cp
	}
	return Record{Peripheral: r.peripheral, Config: r.config, Connected: r.connected, Characteristics: chars}
}

// Registry is the store of every (peripheral, config) pair the connector has
// attempted, with its connection flag and discovered characteristics.
// Records are never removed.
type Registry struct {
	mu      sync.RWMutex
	records []*record
	logger  util.Logger
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{logger: util.ComponentLogger("registry")}
}

func (r *Registry) indexOf(k Key) int {
	for i, rec := range r.records {
		if rec.key() == k {
			return i
		}
	}
	return -1
}

// IsNewPair reports whether no record exists for (p, cfg). When one exists
// its index is returned, otherwise -1.
func (r *Registry) IsNewPair(p Peripheral, cfg ConnectionConfig) (bool, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexOf(KeyOf(p, cfg))
	return i < 0, i
}

// Add appends a record for (p, cfg). Callers check IsNewPair first.
func (r *Registry) Add(p Peripheral, cfg ConnectionConfig) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, newRecord(p, cfg))
	return len(r.records) - 1
}

// Ensure returns the index of the record for (p, cfg), adding it when new.
// The stored peripheral is refreshed so a later advertised name is kept.
func (r *Registry) Ensure(p Peripheral, cfg ConnectionConfig) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexOf(KeyOf(p, cfg)); i >= 0 {
		if p.Name != "" {
			r.records[i].peripheral = p
		}
		r.records[i].config = cfg
		return i
	}
	r.records = append(r.records, newRecord(p, cfg))
	return len(r.records) - 1
}

// AddCharacteristic stores c under (p, cfg) unless an equal characteristic
// is already there. It returns false when no such record exists.
func (r *Registry) AddCharacteristic(p Peripheral, cfg ConnectionConfig, c *Characteristic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(KeyOf(p, cfg))
	if i < 0 {
		r.logger.Errorf("add characteristic %s: no record for %s/%s", c, p.ID, cfg.Identify)
		return false
	}
	rec := r.records[i]
	if rec.seen.Add(c.Key()) {
		cp := *c
		rec.chars = append(rec.chars, &cp)
	}
	return true
}

// HasCharacteristic reports whether c was discovered under (p, cfg)
func (r *Registry) HasCharacteristic(p Peripheral, cfg ConnectionConfig, c *Characteristic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexOf(KeyOf(p, cfg))
	return i >= 0 && r.records[i].seen.Contains(c.Key())
}

// Owner returns the config of the first record on id that discovered c
func (r *Registry) Owner(id PeripheralID, c *Characteristic) (ConnectionConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.peripheral.ID == id && rec.seen.Contains(c.Key()) {
			return rec.config, true
		}
	}
	return ConnectionConfig{}, false
}

// SetConnected updates exactly the record for (p, cfg)
func (r *Registry) SetConnected(p Peripheral, cfg ConnectionConfig, connected bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(KeyOf(p, cfg))
	if i < 0 {
		r.logger.Warnf("set connected: no record for %s/%s", p.ID, cfg.Identify)
		return false
	}
	r.records[i].connected = connected
	return true
}

// SetConnectedForPeripheral updates every record of the physical device id
func (r *Registry) SetConnectedForPeripheral(id PeripheralID, connected, clear bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.peripheral.ID != id {
			continue
		}
		rec.connected = connected
		if clear {
			rec.clearCharacteristics()
		}
		n++
	}
	return n
}

// SetConnectedForAll updates every record, used when the radio goes away
func (r *Registry) SetConnectedForAll(connected, clear bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		rec.connected = connected
		if clear {
			rec.clearCharacteristics()
		}
	}
}

// FindWritable returns the connection flag of (p, cfg) and its first
// characteristic accepting writes
func (r *Registry) FindWritable(p Peripheral, cfg ConnectionConfig) (bool, *Characteristic) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexOf(KeyOf(p, cfg))
	if i < 0 {
		return false, nil
	}
	rec := r.records[i]
	for _, c := range rec.chars {
		if c.CanWrite() {
			cp := *c
			return rec.connected, &cp
		}
	}
	return rec.connected, nil
}

// FindNotifiable returns the first characteristic of (p, cfg) supporting
// notify or indicate
func (r *Registry) FindNotifiable(p Peripheral, cfg ConnectionConfig) *Characteristic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexOf(KeyOf(p, cfg))
	if i < 0 {
		return nil
	}
	for _, c := range r.records[i].chars {
		if c.CanNotify() {
			cp := *c
			return &cp
		}
	}
	return nil
}

// FindAllNotifiable returns the notifiable characteristics of every config on id
func (r *Registry) FindAllNotifiable(id PeripheralID) []*Characteristic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notifiable(func(rec *record) bool { return rec.peripheral.ID == id })
}

// AllNotifiable groups the notifiable characteristics of every record by peripheral
func (r *Registry) AllNotifiable() map[PeripheralID][]*Characteristic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := map[PeripheralID][]*Characteristic{}
	for _, rec := range r.records {
		id := rec.peripheral.ID
		if _, ok := ret[id]; ok {
			continue
		}
		chars := r.notifiable(func(o *record) bool { return o.peripheral.ID == id })
		if len(chars) > 0 {
			ret[id] = chars
		}
	}
	return ret
}

func (r *Registry) notifiable(match func(*record) bool) []*Characteristic {
	seen := mapset.NewSet()
	ret := []*Characteristic{}
	for _, rec := range r.records {
		if !match(rec) {
			continue
		}
		for _, c := range rec.chars {
			if c.CanNotify() && seen.Add(c.Key()) {
				cp := *c
				ret = append(ret, &cp)
			}
		}
	}
	return ret
}

// Lookup returns a snapshot of the record for (p, cfg)
func (r *Registry) Lookup(p Peripheral, cfg ConnectionConfig) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexOf(KeyOf(p, cfg))
	if i < 0 {
		return Record{}, false
	}
	return r.records[i].snapshot(), true
}

// Records returns a snapshot of every record in insertion order
func (r *Registry) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]Record, len(r.records))
	for i, rec := range r.records {
		ret[i] = rec.snapshot()
	}
	return ret
}

// UnconnectedConfig returns the first config on id that is not connected
func (r *Registry) UnconnectedConfig(id PeripheralID) (ConnectionConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.peripheral.ID == id && !rec.connected {
			return rec.config, true
		}
	}
	return ConnectionConfig{}, false
}

// IsConnected reports whether any config on id is connected
func (r *Registry) IsConnected(id PeripheralID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.peripheral.ID == id && rec.connected {
			return true
		}
	}
	return false
}

// Len is the number of records
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

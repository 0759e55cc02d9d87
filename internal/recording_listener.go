package internal

import (
	"sync"

	. "github.com/Krajiyah/glasslink/pkg/models"
)

// Disconnect is one OnDisconnected event
type Disconnect struct {
	Peripheral Peripheral
	Err        error
	Requested  bool
}

// Value is one OnValueUpdated event
type Value struct {
	Peripheral Peripheral
	Char       *Characteristic
	Data       []byte
}

// RecordingListener keeps every connector event in arrival order
type RecordingListener struct {
	mu          sync.Mutex
	radio       []RadioState
	scan        []ScanStatus
	connect     []ConnectStatus
	notify      []NotifyStatus
	discovered  []Discovery
	events      []ConnectionEvent
	values      []Value
	failures    []error
	disconnects []Disconnect
}

func NewRecordingListener() *RecordingListener { return &RecordingListener{} }

func (l *RecordingListener) OnRadioState(s RadioState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.radio = append(l.radio, s)
}

func (l *RecordingListener) OnScanStatus(s ScanStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scan = append(l.scan, s)
}

func (l *RecordingListener) OnConnectStatus(s ConnectStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connect = append(l.connect, s)
}

func (l *RecordingListener) OnNotifyStatus(p Peripheral, c *Characteristic, s NotifyStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notify = append(l.notify, s)
}

func (l *RecordingListener) OnDiscovered(d Discovery) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discovered = append(l.discovered, d)
}

func (l *RecordingListener) OnConnectionEvent(e ConnectionEvent, p Peripheral) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *RecordingListener) OnValueUpdated(p Peripheral, c *Characteristic, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, Value{Peripheral: p, Char: c, Data: data})
}

func (l *RecordingListener) OnConnectFailed(p Peripheral, cfg ConnectionConfig, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, err)
}

func (l *RecordingListener) OnDisconnected(p Peripheral, err error, requested bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnects = append(l.disconnects, Disconnect{Peripheral: p, Err: err, Requested: requested})
}

func (l *RecordingListener) RadioStates() []RadioState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]RadioState(nil), l.radio...)
}

func (l *RecordingListener) ScanStatuses() []ScanStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ScanStatus(nil), l.scan...)
}

func (l *RecordingListener) ConnectStatuses() []ConnectStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConnectStatus(nil), l.connect...)
}

func (l *RecordingListener) NotifyStatuses() []NotifyStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]NotifyStatus(nil), l.notify...)
}

func (l *RecordingListener) Discoveries() []Discovery {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Discovery(nil), l.discovered...)
}

func (l *RecordingListener) ConnectionEvents() []ConnectionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConnectionEvent(nil), l.events...)
}

func (l *RecordingListener) Values() []Value {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Value(nil), l.values...)
}

func (l *RecordingListener) Failures() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.failures...)
}

func (l *RecordingListener) Disconnects() []Disconnect {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Disconnect(nil), l.disconnects...)
}

// LastConnectStatus returns the latest connect status, ConnectUnknown when none
func (l *RecordingListener) LastConnectStatus() ConnectStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.connect) == 0 {
		return ConnectUnknown
	}
	return l.connect[len(l.connect)-1]
}

var _ ConnectorListener = &RecordingListener{}

package models

// StatusListener receives connector state changes
type StatusListener interface {
	OnRadioState(RadioState)
	OnScanStatus(ScanStatus)
	OnConnectStatus(ConnectStatus)
	OnNotifyStatus(Peripheral, *Characteristic, NotifyStatus)
}

// DataListener receives discovery and data events
type DataListener interface {
	OnDiscovered(Discovery)
	OnConnectionEvent(ConnectionEvent, Peripheral)
	OnValueUpdated(Peripheral, *Characteristic, []byte)
}

// ConnectorListener is everything a connector reports. Embed
// BaseConnectorListener to implement only the callbacks you need.
type ConnectorListener interface {
	StatusListener
	DataListener
	OnConnectFailed(Peripheral, ConnectionConfig, error)
	OnDisconnected(p Peripheral, err error, requested bool)
}

// BaseConnectorListener implements ConnectorListener with no-ops
type BaseConnectorListener struct{}

func (BaseConnectorListener) OnRadioState(RadioState)                                  {}
func (BaseConnectorListener) OnScanStatus(ScanStatus)                                  {}
func (BaseConnectorListener) OnConnectStatus(ConnectStatus)                            {}
func (BaseConnectorListener) OnNotifyStatus(Peripheral, *Characteristic, NotifyStatus) {}
func (BaseConnectorListener) OnDiscovered(Discovery)                                   {}
func (BaseConnectorListener) OnConnectionEvent(ConnectionEvent, Peripheral)            {}
func (BaseConnectorListener) OnValueUpdated(Peripheral, *Characteristic, []byte)       {}
func (BaseConnectorListener) OnConnectFailed(Peripheral, ConnectionConfig, error)      {}
func (BaseConnectorListener) OnDisconnected(Peripheral, error, bool)                   {}

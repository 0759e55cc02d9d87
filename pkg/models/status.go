package models

// RadioState is the power/availability state of the local BLE radio
type RadioState int

const (
	RadioUnknown RadioState = iota
	RadioResetting
	RadioUnsupported
	RadioUnauthorized
	RadioPoweredOff
	RadioPoweredOn
)

func (s RadioState) String() string {
	return []string{"Unknown", "Resetting", "Unsupported", "Unauthorized", "PoweredOff", "PoweredOn"}[s]
}

// ScanStatus is the discovery state of a connector
type ScanStatus int

const (
	ScanUnknown ScanStatus = iota
	Scanning
	ScanStopped
)

func (s ScanStatus) String() string {
	return []string{"Unknown", "Scanning", "Stopped"}[s]
}

// ConnectStatus is the handshake state reported to listeners
type ConnectStatus int

const (
	// ConnectUnknown is the initial state, nothing attempted yet
	ConnectUnknown ConnectStatus = iota
	// Connecting means a handshake is in flight
	Connecting
	// Connected means characteristics were discovered (and subscribed, if awaited)
	Connected
	// Disconnected means the link went down
	Disconnected
	// Failed means the last handshake terminated without success
	Failed
)

func (s ConnectStatus) String() string {
	return []string{"Unknown", "Connecting", "Connected", "Disconnected", "Failed"}[s]
}

// NotifyStatus is the outcome of a characteristic subscription
type NotifyStatus int

const (
	NotifySuccess NotifyStatus = iota
	NotifyFailed
)

func (s NotifyStatus) String() string {
	return []string{"Success", "Failed"}[s]
}

// HandshakeStage is the fine grained position of the connector state machine
type HandshakeStage int

const (
	StageIdle HandshakeStage = iota
	StageScanning
	StageConnecting
	StageServiceDiscovery
	StageCharacteristicDiscovery
	StageSubscribing
	StageConnected
	StageFailed
	StageDisconnected
)

func (s HandshakeStage) String() string {
	return []string{
		"Idle", "Scanning", "Connecting", "ServiceDiscovery", "CharacteristicDiscovery",
		"Subscribing", "Connected", "Failed", "Disconnected",
	}[s]
}

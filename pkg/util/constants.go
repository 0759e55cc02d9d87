package util

import "time"

const (
	// BaseServiceUUID is the glasses command service every base connection targets
	BaseServiceUUID = "00001100-D102-11E1-9B23-00025B00A5A5"
	// BaseWriteCharUUID is the characteristic commands are written to
	BaseWriteCharUUID = "00001101-D102-11E1-9B23-00025B00A5A5"
	// BaseNotifyCharUUID is the characteristic the glasses push responses and events on
	BaseNotifyCharUUID = "00001102-D102-11E1-9B23-00025B00A5A5"
	// BaseConfigIdentify labels the default base connection config
	BaseConfigIdentify = "base"

	// ConnectTimeout bounds a whole connect handshake
	ConnectTimeout = 10 * time.Second
	// ReconnectDelay is waited after an unexpected disconnect before reconnecting
	ReconnectDelay = time.Second
	// AccessoryReconnectInterval is the fixed period of accessory reconnect attempts
	AccessoryReconnectInterval = 3 * time.Second
	// AccessoryMaxReconnectAttempts bounds accessory reconnect attempts, 0 means unbounded
	AccessoryMaxReconnectAttempts = 10
	// AccessoryReceiveBufferSize is the max chunk size delivered from an accessory stream
	AccessoryReceiveBufferSize = 1024
	// HeartbeatInterval is how often a connected client sends a heartbeat command
	HeartbeatInterval = 5 * time.Second
	// PlatformOpTimeout bounds a single blocking platform call (discovery, write, subscribe)
	PlatformOpTimeout = 5 * time.Second
)

package models

import "github.com/pkg/errors"

// Connection and session failures. Compare with errors.Cause(err) == ErrX.
var (
	ErrProtocolNotSupported          = errors.New("accessory does not support the protocol")
	ErrSessionCreationFailed         = errors.New("session creation failed")
	ErrStreamOpenFailed              = errors.New("stream open failed")
	ErrConnectTimeout                = errors.New("connect timed out")
	ErrConnectFailed                 = errors.New("connect failed")
	ErrServiceNotFound               = errors.New("service not found")
	ErrCharacteristicDiscoveryFailed = errors.New("characteristic discovery failed")
	ErrWriteFailed                   = errors.New("write failed")
	ErrReadFailed                    = errors.New("read failed")
	ErrNotConnected                  = errors.New("not connected")
	ErrDeviceNotFound                = errors.New("device not found")
	ErrMaxReconnectAttemptsReached   = errors.New("max reconnect attempts reached")
)

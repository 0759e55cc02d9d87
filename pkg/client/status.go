package client

import (
	"time"

	. "github.com/Krajiyah/glasslink/pkg/models"
)

// Status is the link state of a GlassesClient
type Status int

const (
	// Offline means the bound pair is not linked
	Offline Status = iota
	// Linking means a connect was issued and the subscription is not confirmed yet
	Linking
	// Ready means commands can be sent and events are flowing
	Ready
)

func (s Status) String() string {
	return []string{"Offline", "Linking", "Ready"}[s]
}

// State is a snapshot of a client
type State struct {
	Status        Status
	Peripheral    Peripheral
	Config        ConnectionConfig
	Heartbeats    int
	LastHeartbeat time.Time
	Frames        int
}

// Package view projects machine snapshots into the read-only shape the
// UI layer consumes. Pure functions, no mutation.
package view

import (
	"buttonlink/internal/lifecycle"
	"buttonlink/internal/peripheral"
)

// View is the derived, JSON-ready picture of the machine.
type View struct {
	Phase        string                     `json:"phase"`
	IsIdle       bool                       `json:"is_idle"`
	IsScanning   bool                       `json:"is_scanning"`
	IsConnecting bool                       `json:"is_connecting"`
	IsConnected  bool                       `json:"is_connected"`
	DeviceID     string                     `json:"device_id,omitempty"`
	DeviceName   string                     `json:"device_name,omitempty"`
	ButtonState  *bool                      `json:"button_state,omitempty"`
	LEDState     bool                       `json:"led_state"`
	Error        string                     `json:"error,omitempty"`
	Devices      []peripheral.Advertisement `json:"devices"`
	LastUpdate   int64                      `json:"last_update"`
}

// Project derives a View from a snapshot. The connected flag matches on
// the outer phase tag, so every connected sub-mode reports connected.
func Project(snap lifecycle.Snapshot) View {
	devices := snap.Discovered
	if devices == nil {
		devices = []peripheral.Advertisement{}
	}
	return View{
		Phase:        snap.Phase.String(),
		IsIdle:       snap.Phase.Kind == lifecycle.KindIdle,
		IsScanning:   snap.Phase.Kind == lifecycle.KindScanning,
		IsConnecting: snap.Phase.Kind == lifecycle.KindConnecting,
		IsConnected:  snap.Phase.IsConnected(),
		DeviceID:     snap.DeviceID,
		DeviceName:   snap.DeviceName,
		ButtonState:  snap.ButtonState,
		LEDState:     snap.LEDState,
		Error:        snap.Error,
		Devices:      devices,
		LastUpdate:   snap.LastUpdate.Unix(),
	}
}

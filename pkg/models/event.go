package models

// ProgressChanged is published after every recorded completion
type ProgressChanged struct {
	UserID   string         `json:"user_id"`
	DeviceID string         `json:"device_id"`
	Record   ProgressRecord `json:"record"`
	// Relayed is set when the event arrived from another device
	Relayed bool `json:"relayed,omitempty"`
}

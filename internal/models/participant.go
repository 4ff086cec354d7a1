package models

// Participant is the identity a client announces on join and the sender
// snapshot copied into each message.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

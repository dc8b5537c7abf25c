package models

import "time"

// Rejection records a connection attempt refused at admission.
type Rejection struct {
	ID          string    `json:"id"`
	Room        string    `json:"room"`
	DisplayName string    `json:"display_name"`
	Code        string    `json:"code"`
	Reason      string    `json:"reason"`
	RemoteAddr  string    `json:"remote_addr"`
	CreatedAt   time.Time `json:"created_at"`
}

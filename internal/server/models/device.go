package models

import "time"

// Device is an installation known to the server.
type Device struct {
	ID        string
	FirstSeen time.Time
	LastSeen  time.Time
}

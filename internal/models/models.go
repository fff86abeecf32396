package models

import "time"

// Transition records a snapshot that was dispatched to listeners.
type Transition struct {
	At       time.Time `json:"at"`
	Snapshot Snapshot  `json:"snapshot"`
}

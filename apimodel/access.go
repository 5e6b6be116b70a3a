package apimodel

import "time"

// AccessEvent is published for every badge or exit request handled by the box.
type AccessEvent struct {
	Device  string    `json:"device"`
	Badge   string    `json:"badge,omitempty"`
	Holder  string    `json:"holder,omitempty"`
	Granted bool      `json:"granted"`
	Time    time.Time `json:"time"`
}

type AccessStats struct {
	GrantedCount int64      `json:"granted_count"`
	DeniedCount  int64      `json:"denied_count"`
	LastHolder   string     `json:"last_holder,omitempty"`
	LastAccess   *time.Time `json:"last_access,omitempty"`
	DoorOpen     bool       `json:"door_open"`
}

package models

import "time"

// GroupRecord is a named, persisted group membership list.
type GroupRecord struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Members   []string  `json:"members" yaml:"members"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

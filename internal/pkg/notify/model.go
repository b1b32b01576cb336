package notify

import "time"

const Topic = "arena.events"

type Event struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	EntityID string    `json:"entity_id"`
	Actor    string    `json:"actor,omitempty"`
	At       time.Time `json:"at"`
	Payload  any       `json:"payload,omitempty"`
}

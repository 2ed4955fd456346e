package session

import "github.com/kingsgate/stakechess/internal/game"

// EventType names a message pushed to a participant.
type EventType string

const (
	EventWaiting          EventType = "waiting"
	EventPaired           EventType = "paired"
	EventState            EventType = "state"
	EventOpponentDeparted EventType = "opponent_departed"
	EventDrawOffered      EventType = "draw_offered"
	EventDrawDeclined     EventType = "draw_declined"
	EventStakeOffered     EventType = "stake_offered"
	EventStakeDeclined    EventType = "stake_declined"
	EventSystemNotice     EventType = "system_notice"
	EventChat             EventType = "chat"
)

// Event is an outbound notification. Delivery is asynchronous and separate
// from the acknowledgment of the request that caused it.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// Peer is the transport's handle on a connection. Sessions hold it as a
// weak reference: the transport owns the connection lifecycle.
type Peer interface {
	ID() string
	Alive() bool
	Send(ev Event)
}

type PairedPayload struct {
	Side     game.Side `json:"side"`
	Snapshot Snapshot  `json:"snapshot"`
}

type StatePayload struct {
	Snapshot Snapshot `json:"snapshot"`
}

type OfferPayload struct {
	ByName string `json:"byName"`
	Amount int    `json:"amount,omitempty"`
}

type NoticePayload struct {
	Text string `json:"text"`
}

type ChatPayload struct {
	DisplayName string `json:"displayName"`
	Text        string `json:"text"`
}

// Notice builds a system notice event.
func Notice(text string) Event {
	return Event{Type: EventSystemNotice, Payload: NoticePayload{Text: text}}
}

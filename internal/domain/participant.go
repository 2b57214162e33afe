package domain

import "time"

type Transport string

const (
	TransportPush Transport = "push"
	TransportPoll Transport = "poll"
)

type Participant struct {
	UserID        string
	DisplayName   string
	JoinedAt      time.Time
	LastSeen      time.Time
	IsTyping      bool
	LocalPosition *float64
	Transport     Transport
	// SessionID identifies the push connection that owns the entry so a
	// replaced connection cannot remove its successor.
	SessionID string
}

func NewParticipant(id Identity, transport Transport, sessionID string, now time.Time) Participant {
	return Participant{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		JoinedAt:    now,
		LastSeen:    now,
		Transport:   transport,
		SessionID:   sessionID,
	}
}

// Stale reports whether a polling participant has missed its heartbeats.
// Push participants are removed on disconnect instead.
func (p Participant) Stale(now time.Time, after time.Duration) bool {
	if p.Transport == TransportPush || after <= 0 {
		return false
	}
	return now.Sub(p.LastSeen) > after
}

func (p Participant) clone() Participant {
	if p.LocalPosition != nil {
		pos := *p.LocalPosition
		p.LocalPosition = &pos
	}
	return p
}

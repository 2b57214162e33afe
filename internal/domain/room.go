package domain

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	DefaultMaxParticipants = 10
	CodeLength             = 6

	codeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var (
	charsetLen  = big.NewInt(int64(len(codeChars)))
	codePattern = regexp.MustCompile(`^[A-Z0-9]{4,12}$`)
)

// ContentRef points at the shared document in the external content service.
type ContentRef struct {
	ID         string `json:"contentId"`
	TotalPages int    `json:"totalPages"`
}

// Room is the mutable room state. It is owned by the registry and only
// touched under the room's lock.
type Room struct {
	Code            string
	HostID          string
	Content         ContentRef
	Position        float64
	PageIndex       int
	SyncEnabled     bool
	Active          bool
	MaxParticipants int
	CreatedAt       time.Time
	ExpiresAt       time.Time
	UpdatedAt       time.Time
	Participants    map[string]*Participant
}

// RoomSnapshot is an immutable copy of a room handed out of the registry.
type RoomSnapshot struct {
	Code            string
	HostID          string
	Content         ContentRef
	Position        float64
	PageIndex       int
	SyncEnabled     bool
	Active          bool
	MaxParticipants int
	CreatedAt       time.Time
	ExpiresAt       time.Time
	UpdatedAt       time.Time
	Participants    []Participant
}

func NewRoom(code, hostID string, content ContentRef, maxParticipants int, ttl time.Duration, now time.Time) *Room {
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}

	room := &Room{
		Code:            code,
		HostID:          hostID,
		Content:         content,
		SyncEnabled:     true,
		Active:          true,
		MaxParticipants: maxParticipants,
		CreatedAt:       now,
		UpdatedAt:       now,
		Participants:    make(map[string]*Participant, maxParticipants),
	}
	if ttl > 0 {
		room.ExpiresAt = now.Add(ttl)
	}

	return room
}

// GenerateCode returns a random join code from an alphabet without
// look-alike characters.
func GenerateCode() (string, error) {
	var sb strings.Builder
	sb.Grow(CodeLength)

	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeChars[n.Int64()])
	}

	return sb.String(), nil
}

// NormalizeCode upper-cases a room code and checks its shape.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", NewValidationError("roomCode", "is required")
	}
	if !codePattern.MatchString(code) {
		return "", NewValidationError("roomCode", "must be 4-12 letters or digits")
	}
	return code, nil
}

func (r *Room) IsHost(userID string) bool {
	return userID != "" && r.HostID == userID
}

func (r *Room) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Writable reports ErrRoomInactive for deactivated or expired rooms.
func (r *Room) Writable(now time.Time) error {
	if !r.Active || r.Expired(now) {
		return ErrRoomInactive
	}
	return nil
}

// ClampPage keeps a page index inside the content bounds when they are known.
func (r *Room) ClampPage(page int) int {
	if page < 0 {
		return 0
	}
	if r.Content.TotalPages > 0 && page >= r.Content.TotalPages {
		return r.Content.TotalPages - 1
	}
	return page
}

// AddParticipant inserts or replaces the entry for p.UserID. A replacement
// never counts against capacity.
func (r *Room) AddParticipant(p Participant) (rejoined bool, err error) {
	if existing, ok := r.Participants[p.UserID]; ok {
		p.JoinedAt = existing.JoinedAt
		r.Participants[p.UserID] = &p
		return true, nil
	}

	if len(r.Participants) >= r.MaxParticipants {
		return false, ErrRoomFull
	}

	r.Participants[p.UserID] = &p
	return false, nil
}

func (r *Room) RemoveParticipant(userID string) (Participant, bool) {
	p, ok := r.Participants[userID]
	if !ok {
		return Participant{}, false
	}
	delete(r.Participants, userID)
	return *p, true
}

func (r *Room) Participant(userID string) (*Participant, bool) {
	p, ok := r.Participants[userID]
	return p, ok
}

func (r *Room) Snapshot() RoomSnapshot {
	participants := make([]Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		participants = append(participants, p.clone())
	}
	sort.Slice(participants, func(i, j int) bool {
		if participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].UserID < participants[j].UserID
		}
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})

	return RoomSnapshot{
		Code:            r.Code,
		HostID:          r.HostID,
		Content:         r.Content,
		Position:        r.Position,
		PageIndex:       r.PageIndex,
		SyncEnabled:     r.SyncEnabled,
		Active:          r.Active,
		MaxParticipants: r.MaxParticipants,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
		UpdatedAt:       r.UpdatedAt,
		Participants:    participants,
	}
}

func (s RoomSnapshot) IsHost(userID string) bool {
	return userID != "" && s.HostID == userID
}

func (s RoomSnapshot) Participant(userID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

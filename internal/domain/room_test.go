package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode()
	require.NoError(t, err)
	assert.Len(t, code, CodeLength)

	for _, c := range code {
		assert.Contains(t, codeChars, string(c))
	}

	normalized, err := NormalizeCode(code)
	require.NoError(t, err)
	assert.Equal(t, code, normalized)
}

func TestNormalizeCode(t *testing.T) {
	code, err := NormalizeCode(" abc123 ")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", code)

	for _, bad := range []string{"", "ab", "ABC-12", "ABCDEFGHIJKLM", "ÄBC123"} {
		_, err := NormalizeCode(bad)
		assert.ErrorIs(t, err, ErrValidation, bad)
	}
}

func TestRoomCapacityAndRejoin(t *testing.T) {
	room := NewRoom("ABC123", "u1", ContentRef{ID: "c1", TotalPages: 10}, 2, time.Hour, epoch)

	rejoined, err := room.AddParticipant(NewParticipant(Identity{UserID: "u1", DisplayName: "One"}, TransportPush, "s1", epoch))
	require.NoError(t, err)
	assert.False(t, rejoined)

	_, err = room.AddParticipant(NewParticipant(Identity{UserID: "u2", DisplayName: "Two"}, TransportPoll, "", epoch))
	require.NoError(t, err)

	_, err = room.AddParticipant(NewParticipant(Identity{UserID: "u3"}, TransportPoll, "", epoch))
	assert.True(t, errors.Is(err, ErrRoomFull))

	later := epoch.Add(time.Minute)
	rejoined, err = room.AddParticipant(NewParticipant(Identity{UserID: "u1", DisplayName: "One"}, TransportPush, "s2", later))
	require.NoError(t, err)
	assert.True(t, rejoined)

	p, ok := room.Participant("u1")
	require.True(t, ok)
	assert.Equal(t, "s2", p.SessionID)
	assert.Equal(t, epoch, p.JoinedAt)
	assert.Len(t, room.Participants, 2)
}

func TestRoomWritableAndClamp(t *testing.T) {
	room := NewRoom("ABC123", "u1", ContentRef{TotalPages: 5}, 0, time.Hour, epoch)
	assert.Equal(t, DefaultMaxParticipants, room.MaxParticipants)

	assert.NoError(t, room.Writable(epoch))
	assert.ErrorIs(t, room.Writable(epoch.Add(time.Hour)), ErrRoomInactive)

	room.Active = false
	assert.ErrorIs(t, room.Writable(epoch), ErrRoomInactive)

	assert.Equal(t, 4, room.ClampPage(9))
	assert.Equal(t, 0, room.ClampPage(-3))
	assert.Equal(t, 2, room.ClampPage(2))

	unbounded := NewRoom("ZZZZ", "u1", ContentRef{}, 0, 0, epoch)
	assert.Equal(t, 40, unbounded.ClampPage(40))
	assert.False(t, unbounded.Expired(epoch.Add(24*time.Hour)))
}

func TestSnapshotIsACopy(t *testing.T) {
	room := NewRoom("ABC123", "u1", ContentRef{}, 0, 0, epoch)
	pos := 12.5
	p := NewParticipant(Identity{UserID: "u1"}, TransportPoll, "", epoch)
	p.LocalPosition = &pos
	_, err := room.AddParticipant(p)
	require.NoError(t, err)

	snap := room.Snapshot()
	*snap.Participants[0].LocalPosition = 99

	stored, _ := room.Participant("u1")
	assert.Equal(t, 12.5, *stored.LocalPosition)
	assert.True(t, snap.IsHost("u1"))
	assert.False(t, snap.IsHost(""))
}

func TestParticipantStale(t *testing.T) {
	poll := NewParticipant(Identity{UserID: "u1"}, TransportPoll, "", epoch)
	push := NewParticipant(Identity{UserID: "u2"}, TransportPush, "s", epoch)

	now := epoch.Add(13 * time.Second)
	assert.True(t, poll.Stale(now, 12*time.Second))
	assert.False(t, push.Stale(now, 12*time.Second))
	assert.False(t, poll.Stale(epoch.Add(5*time.Second), 12*time.Second))
}

func TestErrorKinds(t *testing.T) {
	assert.ErrorIs(t, ErrCredentialExpired, ErrInvalidCredential)
	assert.ErrorIs(t, ErrSignatureMismatch, ErrInvalidCredential)
	assert.ErrorIs(t, ErrCredentialMalformed, ErrInvalidCredential)
	assert.NotErrorIs(t, ErrCredentialExpired, ErrSignatureMismatch)

	var err error = &RateLimitError{Category: "chat", RetryAfterSeconds: 3}
	assert.ErrorIs(t, err, ErrRateLimited)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3, rl.RetryAfterSeconds)

	err = NewValidationError("text", "is required")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "text: is required", err.Error())
}

func TestNewRoomAuditLog(t *testing.T) {
	log := NewRoomAuditLog(RoomEvent{
		Type:             EventMemberLeft,
		RoomCode:         "ABC123",
		UserID:           "u1",
		HostID:           "u1",
		ParticipantCount: 2,
		OccurredAt:       epoch,
	})

	assert.NotEmpty(t, log.ID)
	assert.Equal(t, epoch, log.Timestamp)
	assert.Equal(t, true, log.Metadata["was_host"])
	assert.Equal(t, 2, log.Metadata["participant_count"])
}

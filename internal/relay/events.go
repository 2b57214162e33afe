package relay

import (
	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/sanitize"
	"github.com/hilthontt/readalong/pkg/protocol"
)

// RoomState renders a snapshot as the room-state push event.
func RoomState(snap domain.RoomSnapshot) protocol.RoomStateEvent {
	participants := make([]protocol.ParticipantInfo, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		participants = append(participants, protocol.ParticipantInfo{
			UserID:   p.UserID,
			Username: p.DisplayName,
			IsHost:   snap.IsHost(p.UserID),
			IsTyping: p.IsTyping,
			JoinedAt: p.JoinedAt,
		})
	}

	return protocol.RoomStateEvent{
		RoomCode:     snap.Code,
		HostID:       snap.HostID,
		ContentID:    snap.Content.ID,
		Position:     snap.Position,
		PageIndex:    snap.PageIndex,
		TotalPages:   snap.Content.TotalPages,
		SyncEnabled:  snap.SyncEnabled,
		Active:       snap.Active,
		UpdatedAt:    snap.UpdatedAt,
		Participants: participants,
	}
}

// HistoryEvents renders stored messages as message-received events.
func HistoryEvents(msgs []domain.ChatMessage) []protocol.ServerEvent {
	out := make([]protocol.ServerEvent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, protocol.MessageReceivedEvent{
			ID:        m.ID,
			UserID:    m.UserID,
			Username:  m.Username,
			Text:      m.Text,
			Timestamp: m.CreatedAt,
		})
	}
	return out
}

// sanitizeComment checks the anchor before cleaning the text.
func sanitizeComment(in CommentInput) (string, error) {
	if err := sanitize.PageID(in.PageID); err != nil {
		return "", err
	}
	if err := sanitize.Coordinates(in.XPercent, in.YPercent); err != nil {
		return "", err
	}
	return sanitize.Comment(in.Text)
}

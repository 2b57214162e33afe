package rooms

import "github.com/hilthontt/readalong/pkg/protocol"

// createRoomRequest represents the request to open a reading room
type createRoomRequest struct {
	Code            string `json:"code,omitempty" validate:"omitempty,alphanum,min=4,max=12"` // Requested join code; generated when empty
	ContentID       string `json:"contentId" validate:"max=128"`                              // Content reference in the content service
	TotalPages      int    `json:"totalPages" validate:"gte=0,lte=100000"`                    // Page count used to clamp host page writes
	MaxParticipants int    `json:"maxParticipants,omitempty" validate:"gte=0,lte=500"`        // Defaults to the server limit
	TTLSeconds      int    `json:"ttlSeconds,omitempty" validate:"gte=0,lte=604800"`          // Room lifetime; defaults to the server TTL
}

// joinRoomRequest carries the content description used when the join
// creates the room
type joinRoomRequest struct {
	ContentID  string `json:"contentId,omitempty" validate:"max=128"`
	TotalPages int    `json:"totalPages,omitempty" validate:"gte=0,lte=100000"`
}

type joinRoomResponse struct {
	Room     protocol.RoomStateEvent `json:"room"`
	Created  bool                    `json:"created"`
	Rejoined bool                    `json:"rejoined"`
}

type updatePositionRequest struct {
	Position  *float64 `json:"position" validate:"required"`
	PageIndex *int     `json:"pageIndex" validate:"required"`
}

// updatePositionResponse is identical for hosts and non-hosts
type updatePositionResponse struct {
	Accepted bool `json:"accepted"`
}

type setSyncRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type setSyncResponse struct {
	SyncEnabled bool `json:"syncEnabled"`
}

type heartbeatRequest struct {
	LocalPosition *float64 `json:"localPosition,omitempty"`
}

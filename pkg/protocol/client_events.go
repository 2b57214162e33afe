package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event type")
)

// ClientEvent is implemented only by the event types in this file.
type ClientEvent interface {
	clientEvent()
	EventType() EventType
	// Room is the room code named in the payload, if any.
	Room() string
}

type JoinRoomEvent struct {
	RoomCode string `json:"roomCode"`
	// ContentID and TotalPages describe the content when the join creates
	// the room.
	ContentID  string `json:"contentId,omitempty"`
	TotalPages int    `json:"totalPages,omitempty"`
}

type LeaveRoomEvent struct {
	RoomCode string `json:"roomCode,omitempty"`
}

type ScrollSyncEvent struct {
	RoomCode  string  `json:"roomCode,omitempty"`
	Position  float64 `json:"position"`
	PageIndex int     `json:"pageIndex"`
}

type SyncToggleEvent struct {
	RoomCode string `json:"roomCode,omitempty"`
	Enabled  bool   `json:"enabled"`
}

type SendMessageEvent struct {
	RoomCode string `json:"roomCode"`
	Text     string `json:"text"`
}

type TypingStartEvent struct {
	RoomCode string `json:"roomCode"`
}

type TypingStopEvent struct {
	RoomCode string `json:"roomCode"`
}

type ReactMessageEvent struct {
	RoomCode  string `json:"roomCode"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type PanelCommentEvent struct {
	RoomCode string  `json:"roomCode"`
	PageID   string  `json:"pageId"`
	Text     string  `json:"text"`
	XPercent float64 `json:"xPercent"`
	YPercent float64 `json:"yPercent"`
}

type HeartbeatEvent struct {
	RoomCode      string   `json:"roomCode,omitempty"`
	LocalPosition *float64 `json:"localPosition,omitempty"`
}

func (JoinRoomEvent) clientEvent()     {}
func (LeaveRoomEvent) clientEvent()    {}
func (ScrollSyncEvent) clientEvent()   {}
func (SyncToggleEvent) clientEvent()   {}
func (SendMessageEvent) clientEvent()  {}
func (TypingStartEvent) clientEvent()  {}
func (TypingStopEvent) clientEvent()   {}
func (ReactMessageEvent) clientEvent() {}
func (PanelCommentEvent) clientEvent() {}
func (HeartbeatEvent) clientEvent()    {}

func (JoinRoomEvent) EventType() EventType     { return JoinRoom }
func (LeaveRoomEvent) EventType() EventType    { return LeaveRoom }
func (ScrollSyncEvent) EventType() EventType   { return ScrollSync }
func (SyncToggleEvent) EventType() EventType   { return SyncToggle }
func (SendMessageEvent) EventType() EventType  { return SendMessage }
func (TypingStartEvent) EventType() EventType  { return TypingStart }
func (TypingStopEvent) EventType() EventType   { return TypingStop }
func (ReactMessageEvent) EventType() EventType { return ReactMessage }
func (PanelCommentEvent) EventType() EventType { return PanelComment }
func (HeartbeatEvent) EventType() EventType    { return Heartbeat }

func (e JoinRoomEvent) Room() string     { return e.RoomCode }
func (e LeaveRoomEvent) Room() string    { return e.RoomCode }
func (e ScrollSyncEvent) Room() string   { return e.RoomCode }
func (e SyncToggleEvent) Room() string   { return e.RoomCode }
func (e SendMessageEvent) Room() string  { return e.RoomCode }
func (e TypingStartEvent) Room() string  { return e.RoomCode }
func (e TypingStopEvent) Room() string   { return e.RoomCode }
func (e ReactMessageEvent) Room() string { return e.RoomCode }
func (e PanelCommentEvent) Room() string { return e.RoomCode }
func (e HeartbeatEvent) Room() string    { return e.RoomCode }

// Inbound is a decoded client frame. RoomCode prefers the payload's room
// and falls back to the envelope's.
type Inbound struct {
	RoomCode string
	Event    ClientEvent
}

func DecodeClientEvent(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var (
		ev  ClientEvent
		err error
	)
	switch env.Type {
	case JoinRoom:
		ev, err = decodeData[JoinRoomEvent](env.Data)
	case LeaveRoom:
		ev, err = decodeData[LeaveRoomEvent](env.Data)
	case ScrollSync:
		ev, err = decodeData[ScrollSyncEvent](env.Data)
	case SyncToggle:
		ev, err = decodeData[SyncToggleEvent](env.Data)
	case SendMessage:
		ev, err = decodeData[SendMessageEvent](env.Data)
	case TypingStart:
		ev, err = decodeData[TypingStartEvent](env.Data)
	case TypingStop:
		ev, err = decodeData[TypingStopEvent](env.Data)
	case ReactMessage:
		ev, err = decodeData[ReactMessageEvent](env.Data)
	case PanelComment:
		ev, err = decodeData[PanelCommentEvent](env.Data)
	case Heartbeat:
		ev, err = decodeData[HeartbeatEvent](env.Data)
	case "":
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if err != nil {
		return Inbound{}, err
	}

	code := ev.Room()
	if code == "" {
		code = env.RoomCode
	}
	return Inbound{RoomCode: code, Event: ev}, nil
}

func decodeData[T ClientEvent](data json.RawMessage) (ClientEvent, error) {
	var ev T
	if len(data) == 0 || string(data) == "null" {
		return ev, nil
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return ev, nil
}

// EncodeClientEvent frames ev for sending to the server.
func EncodeClientEvent(ev ClientEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: ev.EventType(), RoomCode: ev.Room(), Data: data})
}

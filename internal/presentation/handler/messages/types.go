package messages

import "github.com/hilthontt/readalong/internal/domain"

type createMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

type listMessagesResponse struct {
	Messages []domain.ChatMessage `json:"messages"`
}

type reactRequest struct {
	Emoji string `json:"emoji" validate:"required,max=16"`
}

type typingRequest struct {
	Typing *bool `json:"typing" validate:"required"`
}

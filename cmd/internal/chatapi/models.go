package chatapi

import "haven/cmd/internal/conversation"

type subjectRequest struct {
	Type string `json:"type" validate:"required,max=128"`
	ID   string `json:"id" validate:"required,max=128"`
}

type createConversationRequest struct {
	// ParticipantIDs are the other members; the caller is always added.
	ParticipantIDs []string        `json:"participant_ids" validate:"required,min=1,max=63,dive,required,max=128"`
	Subject        *subjectRequest `json:"subject" validate:"omitempty"`
	Message        string          `json:"message"`
	Attachment     string          `json:"attachment" validate:"max=2048"`
}

type sendMessageRequest struct {
	Content    string `json:"content"`
	Attachment string `json:"attachment" validate:"max=2048"`
}

type conversationResponse struct {
	Conversation conversation.Conversation `json:"conversation"`
	Created      bool                      `json:"created"`
	Message      *conversation.Message     `json:"message,omitempty"`
}

type conversationListResponse struct {
	Conversations []conversation.Summary `json:"conversations"`
}

type messageResponse struct {
	Message conversation.Message `json:"message"`
}

type readResponse struct {
	Updated int `json:"updated"`
}

type unreadResponse struct {
	Unread int `json:"unread"`
}

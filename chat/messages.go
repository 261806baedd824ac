package chat

import "conference-lab/domain"

type SendChatMessageRequest struct {
	Sender  domain.Participant
	Channel string `validate:"required"`
	Content string `validate:"required"`
}

func (SendChatMessageRequest) RequestType() string { return "chat/sendMessage" }

type FetchMessagesRequest struct {
	ConferenceID string
	Channel      string
	Cursor       *string
}

func (FetchMessagesRequest) RequestType() string { return "chat/fetchMessages" }

// MessagePage is one page of channel history, newest first.
type MessagePage struct {
	Messages   []StoredMessage
	NextCursor *string
}

type SetParticipantTypingRequest struct {
	Participant domain.Participant
	Channel     string
	IsTyping    bool
}

func (SetParticipantTypingRequest) RequestType() string { return "chat/setParticipantTyping" }

type ChatMessageReceivedNotification struct {
	Message StoredMessage
}

func (ChatMessageReceivedNotification) NotificationType() string { return "chat/messageReceived" }

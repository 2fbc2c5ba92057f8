package model

// MessageKind is the type of chat message.
type MessageKind string

const (
	KindText      MessageKind = "text"
	KindLocation  MessageKind = "location"
	KindEmergency MessageKind = "emergency"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindLocation, KindEmergency:
		return true
	}
	return false
}

// MessageStatus is the delivery state of a queued chat message.
type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

// ChatMessage is a message queued on this device for delivery to a room.
// After creation only the sync path changes it.
type ChatMessage struct {
	ID         string        `json:"id"`
	RoomID     string        `json:"room_id"`
	SenderID   string        `json:"sender_id"`
	Content    string        `json:"content"`
	Kind       MessageKind   `json:"kind"`
	Status     MessageStatus `json:"status"`
	RetryCount int           `json:"retry_count"`
	LastError  string        `json:"last_error,omitempty"`
	CreatedAt  int64         `json:"created_at"`
	UpdatedAt  int64         `json:"updated_at"`
}

// AfterFailure returns the status and retry count after one more failed
// send. A message that reaches maxRetries is marked failed; maxRetries <= 0
// retries forever.
func (m *ChatMessage) AfterFailure(maxRetries int) (MessageStatus, int) {
	retries := m.RetryCount + 1
	if maxRetries > 0 && retries >= maxRetries {
		return MessageFailed, retries
	}
	return MessagePending, retries
}

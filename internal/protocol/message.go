package protocol

// MessageType enumerates the kinds of Message content. The wire Message
// carries no type field and the router persists every message as Text; the
// other values are placeholders for richer payloads (spec.md §9).
type MessageType string

const (
	MessageTypeText  MessageType = "Text"
	MessageTypeFile  MessageType = "File"
	MessageTypeImage MessageType = "Image"
	MessageTypeAudio MessageType = "Audio"
	MessageTypeVideo MessageType = "Video"
)

// MessageStatus tracks the lifecycle flags spec.md §3 attaches to a Message.
type MessageStatus struct {
	Sent   bool `json:"sent"`
	Read   bool `json:"read"`
	Edited bool `json:"edited"`
}

// MessageSides names the two participants of a Message.
type MessageSides struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}

// MessageContent carries the (already-encrypted, server-opaque) text.
type MessageContent struct {
	Text string `json:"text"`
}

// Message is the wire shape of one chat message (spec.md §6).
type Message struct {
	UUID      string        `json:"uuid"`
	Content   MessageContent `json:"content"`
	Nonce     []byte        `json:"nonce"`
	Sides     MessageSides  `json:"sides"`
	Status    MessageStatus `json:"status"`
	TTL       *int64        `json:"ttl,omitempty"`
	Secret    bool          `json:"secret"`
	Media     *MediaFileMeta `json:"media,omitempty"`
	CreatedAt int64         `json:"created_at"`
	EditedAt  *int64        `json:"edited_at,omitempty"`
}

// MessageRequest wraps a Message for the Message command body.
type MessageRequest struct {
	Message Message `json:"message"`
}

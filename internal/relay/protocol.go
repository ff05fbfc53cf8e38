package relay

// Message types for the relay WebSocket protocol.
const (
	// Bot → Relay
	TypeBotRegister  = "bot.register"
	TypeBotHeartbeat = "bot.heartbeat"
	TypeChatPost     = "chat.post"
	TypeChatReact    = "chat.react"
	TypeChatStatus   = "chat.status"

	// Relay → Bot
	TypeRegistered   = "registered"
	TypeEventMessage = "event.message"
	TypeError        = "error"
)

// Envelope wraps every WebSocket message with a type field for routing.
type Envelope struct {
	Type string `json:"type"`
}

// BotRegister is sent by the bot on connect.
type BotRegister struct {
	Type     string `json:"type"`
	BotID    string `json:"bot_id"`
	Hostname string `json:"hostname,omitempty"`
	Platform string `json:"platform,omitempty"` // runtime.GOOS
	Version  string `json:"version,omitempty"`
}

// BotHeartbeat is sent by the bot every 30s.
type BotHeartbeat struct {
	Type  string `json:"type"`
	BotID string `json:"bot_id"`
}

// RegisteredMsg is the relay's acknowledgment of a successful registration.
type RegisteredMsg struct {
	Type  string `json:"type"`
	BotID string `json:"bot_id"`
}

// MessageEvent is one chat message delivered to the bot.
type MessageEvent struct {
	Type        string `json:"type"`
	EventID     string `json:"event_id"`
	Channel     string `json:"channel"`
	Thread      string `json:"thread,omitempty"`
	UserID      string `json:"user_id"`
	Text        string `json:"text"`
	Mention     bool   `json:"mention,omitempty"`
	ChannelType string `json:"channel_type,omitempty"` // "dm" for direct messages
	Timestamp   int64  `json:"timestamp,omitempty"`    // unix millis
}

// ChatPost sends a persistent message into a conversation.
type ChatPost struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Thread  string `json:"thread,omitempty"`
	Text    string `json:"text"`
}

// ChatReact attaches an emoji reaction to a message.
type ChatReact struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Channel string `json:"channel"`
	EventID string `json:"event_id"`
	Emoji   string `json:"emoji"`
}

// ChatStatus sends an ephemeral status line into a conversation.
type ChatStatus struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Thread  string `json:"thread,omitempty"`
	Text    string `json:"text"`
}

// ErrorMsg is sent by the relay for protocol errors.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

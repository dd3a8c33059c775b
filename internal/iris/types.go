package iris

type Config struct {
	Port              int    `json:"port"`
	PollingSpeed      int    `json:"pollingSpeed"`
	MessageRate       int    `json:"messageRate"`
	WebserverEndpoint string `json:"webserverEndpoint"`
}

type ReplyRequest struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Data string `json:"data"`
}

type Message struct {
	Msg    string       `json:"msg"`
	Room   string       `json:"room"`
	Sender *string      `json:"sender,omitempty"`
	JSON   *MessageJSON `json:"json,omitempty"`
}

type MessageJSON struct {
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	Type      string `json:"type,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type SocketState string

const (
	StateConnecting   SocketState = "CONNECTING"
	StateConnected    SocketState = "CONNECTED"
	StateDisconnected SocketState = "DISCONNECTED"
	StateReconnecting SocketState = "RECONNECTING"
	StateFailed       SocketState = "FAILED"
)

func (s SocketState) String() string {
	return string(s)
}

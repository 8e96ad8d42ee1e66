package models

// Message represents a WebSocket message
type Message struct {
	Type    string      `json:"type"`
	Content interface{} `json:"content,omitempty"`
}

// Command is a client instruction sent over the watch websocket
type Command struct {
	Type     string `json:"type"`
	Query    string `json:"query,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	ID       uint   `json:"id,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

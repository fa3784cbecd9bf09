package ws

// incomingMessage is a control frame sent by an overlay page.
type incomingMessage struct {
	Type string `json:"type"`
}

// Message is a typed reply to a viewer. State pushes are sent as a bare
// voice.Snapshot so existing overlay pages can consume them unchanged.
type Message struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

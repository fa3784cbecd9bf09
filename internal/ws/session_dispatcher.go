package ws

import "go.uber.org/zap"

type incomingHandler func(incomingMessage)

func (v *viewer) dispatchIncoming(msg incomingMessage) {
	handlers := map[string]incomingHandler{
		"request-state": v.onRequestState,
		"heartbeat":     v.onNoop,
	}

	if handler, ok := handlers[msg.Type]; ok {
		handler(msg)
		return
	}
	v.logger.Debug("viewer unknown message type",
		zap.String("viewer_id", v.id),
		zap.String("type", msg.Type),
	)
	v.sendJSON(Message{Type: "error", Message: "unknown message type " + msg.Type})
}

func (v *viewer) onRequestState(_ incomingMessage) {
	v.pushSnapshot(true)
}

func (v *viewer) onNoop(_ incomingMessage) {}

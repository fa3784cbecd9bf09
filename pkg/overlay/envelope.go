package overlay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// Command names the operation carried by an Envelope.
type Command string

const (
	CommandAuthenticate        Command = "authenticate"
	CommandAuthorize           Command = "authorize"
	CommandCreateChannelInvite Command = "create_channel_invite"
	CommandDispatch            Command = "dispatch"
	CommandGetChannel          Command = "get_channel"
	CommandGetChannelList      Command = "get_channel_list"
	CommandGetGuildList        Command = "get_guild_list"
	CommandObsVoiceChange      Command = "obs_voice_change"
	CommandSubscribe           Command = "subscribe"
)

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	switch c {
	case CommandAuthenticate, CommandAuthorize, CommandCreateChannelInvite, CommandDispatch,
		CommandGetChannel, CommandGetChannelList, CommandGetGuildList, CommandObsVoiceChange,
		CommandSubscribe:
		return true
	default:
		return false
	}
}

// UnmarshalJSON rejects commands outside the protocol enumeration.
func (c *Command) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !Command(raw).Valid() {
		return fmt.Errorf("unknown command %q", raw)
	}
	*c = Command(raw)
	return nil
}

// Event names a broadcast kind pushed by the overlay service.
type Event string

const (
	EventReady                          Event = "ready"
	EventAudioChannelUserChange         Event = "audio_channel_user_change"
	EventAudioChannelUserTalk           Event = "audio_channel_user_talk"
	EventAudioChannelMicHeadersetStatus Event = "audio_channel_mic_headerset_status"
	EventGuildStatus                    Event = "guild_status"
	EventMessageCreate                  Event = "message_create"
	EventMessageUpdate                  Event = "message_update"
	EventMessageDelete                  Event = "message_delete"
)

// Valid reports whether e is a known event kind.
func (e Event) Valid() bool {
	switch e {
	case EventReady, EventAudioChannelUserChange, EventAudioChannelUserTalk,
		EventAudioChannelMicHeadersetStatus, EventGuildStatus, EventMessageCreate,
		EventMessageUpdate, EventMessageDelete:
		return true
	default:
		return false
	}
}

// UnmarshalJSON rejects event kinds outside the protocol enumeration.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !Event(raw).Valid() {
		return fmt.Errorf("unknown event %q", raw)
	}
	*e = Event(raw)
	return nil
}

// Envelope is one protocol message. Absent optional fields stay nil and are
// omitted on the wire.
type Envelope struct {
	ID   *uint32         `json:"id,omitempty"`
	Args map[string]any  `json:"args,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
	Cmd  Command         `json:"cmd"`
	Evt  *Event          `json:"evt,omitempty"`
}

// UnmarshalJSON decodes an envelope. A "data":null member is treated as
// absent so it is never re-emitted as null.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type wire Envelope
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if isNullJSON(w.Data) {
		w.Data = nil
	}
	*e = Envelope(w)
	return nil
}

func isNullJSON(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// NewRequest builds an outgoing envelope. The identifier is assigned when the
// request is sent.
func NewRequest(cmd Command, args map[string]any) Envelope {
	return Envelope{Cmd: cmd, Args: args}
}

// Identifier returns the envelope id and whether it is present.
func (e Envelope) Identifier() (uint32, bool) {
	if e.ID == nil {
		return 0, false
	}
	return *e.ID, true
}

// Event returns the event kind and whether it is present.
func (e Envelope) Event() (Event, bool) {
	if e.Evt == nil {
		return "", false
	}
	return *e.Evt, true
}

// ArgString returns a string argument.
func (e Envelope) ArgString(key string) (string, error) {
	value, ok := e.Args[key]
	if !ok {
		return "", ErrNotFound
	}
	s, ok := value.(string)
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}

// DataString returns a string field of an object payload.
func (e Envelope) DataString(key string) (string, error) {
	if len(e.Data) == 0 {
		return "", ErrNotFound
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(e.Data, &object); err != nil {
		return "", ErrNotFound
	}
	raw, ok := object[key]
	if !ok {
		return "", ErrNotFound
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", ErrNotFound
	}
	return s, nil
}

// DataArray treats the payload as an array.
func (e Envelope) DataArray() ([]json.RawMessage, bool) {
	if len(e.Data) == 0 {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(e.Data, &items); err != nil {
		return nil, false
	}
	return items, true
}

// Clone returns a copy that shares no mutable state with e.
func (e Envelope) Clone() Envelope {
	out := Envelope{Cmd: e.Cmd}
	if e.ID != nil {
		id := *e.ID
		out.ID = &id
	}
	if e.Evt != nil {
		evt := *e.Evt
		out.Evt = &evt
	}
	if e.Args != nil {
		out.Args = maps.Clone(e.Args)
	}
	if e.Data != nil && !isNullJSON(e.Data) {
		out.Data = append(json.RawMessage(nil), e.Data...)
	}
	return out
}

type frameKind int

const (
	frameReply frameKind = iota
	frameBroadcast
)

// inboundFrame is a decoded frame already classified as a reply or a
// broadcast.
type inboundFrame struct {
	kind     frameKind
	id       uint32
	event    Event
	envelope Envelope
}

var errInvalidShape = errors.New("frame is neither a reply nor a dispatch")

func decodeInbound(data []byte) (inboundFrame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return inboundFrame{}, err
	}
	if env.Cmd == "" {
		return inboundFrame{}, errors.New("frame has no cmd")
	}
	if id, ok := env.Identifier(); ok {
		return inboundFrame{kind: frameReply, id: id, envelope: env}, nil
	}
	event, ok := env.Event()
	if env.Cmd != CommandDispatch || !ok {
		return inboundFrame{}, fmt.Errorf("%w: cmd=%s", errInvalidShape, env.Cmd)
	}
	return inboundFrame{kind: frameBroadcast, event: event, envelope: env}, nil
}

func encodeEnvelope(env Envelope) ([]byte, error) {
	if isNullJSON(env.Data) {
		env.Data = nil
	}
	return json.Marshal(env)
}

func authorizeRequest(clientID string) Envelope {
	return NewRequest(CommandAuthorize, map[string]any{
		"client_id": clientID,
		"scopes":    []string{"rpc", "get_guild_info"},
		"prompt":    "none",
	})
}

func authenticateRequest(clientID string, token string) Envelope {
	return NewRequest(CommandAuthenticate, map[string]any{
		"client_id": clientID,
		"token":     token,
	})
}

func subscribeRequest(event Event, guildID string, channelID string) Envelope {
	env := NewRequest(CommandSubscribe, map[string]any{
		"guild_id":   guildID,
		"channel_id": channelID,
	})
	env.Evt = &event
	return env
}

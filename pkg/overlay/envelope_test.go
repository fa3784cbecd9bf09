package overlay

import (
	"encoding/json"
	"errors"
	"net/url"
	"testing"
)

func TestEnvelopeRoundTripKeepsAbsentFields(t *testing.T) {
	evt := EventAudioChannelUserTalk
	env := Envelope{Cmd: CommandSubscribe, Evt: &evt}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if got, want := string(data), `{"cmd":"subscribe","evt":"audio_channel_user_talk"}`; got != want {
		t.Fatalf("Marshal=%s, want %s", got, want)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded.ID != nil {
		t.Fatalf("id=%v, want absent", *decoded.ID)
	}
	if decoded.Args != nil {
		t.Fatalf("args=%v, want absent", decoded.Args)
	}
	if decoded.Data != nil {
		t.Fatalf("data=%s, want absent", decoded.Data)
	}
	if got, ok := decoded.Event(); !ok || got != evt {
		t.Fatalf("evt=%q (present=%v), want %q", got, ok, evt)
	}

	// An explicit null data member decodes as absent and stays absent.
	var nullData Envelope
	if err := json.Unmarshal([]byte(`{"id":5,"cmd":"get_channel","data":null}`), &nullData); err != nil {
		t.Fatalf("Unmarshal null data error: %v", err)
	}
	if nullData.Data != nil {
		t.Fatalf("data=%s, want absent", nullData.Data)
	}
	for name, e := range map[string]Envelope{"decoded": nullData, "clone": nullData.Clone()} {
		out, err := json.Marshal(e)
		if err != nil {
			t.Fatalf("Marshal %s error: %v", name, err)
		}
		if got, want := string(out), `{"id":5,"cmd":"get_channel"}`; got != want {
			t.Fatalf("Marshal %s=%s, want %s", name, got, want)
		}
	}
	out, err := encodeEnvelope(Envelope{Cmd: CommandGetChannel, Data: json.RawMessage(`null`)})
	if err != nil {
		t.Fatalf("encodeEnvelope error: %v", err)
	}
	if got, want := string(out), `{"cmd":"get_channel"}`; got != want {
		t.Fatalf("encodeEnvelope=%s, want %s", got, want)
	}
	if _, err := nullData.DataString("anything"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DataString on absent data error=%v, want ErrNotFound", err)
	}
}

func TestEnvelopeRejectsUnknownEnumValues(t *testing.T) {
	tests := []string{
		`{"cmd":"launch_rocket"}`,
		`{"cmd":"dispatch","evt":"weather_change"}`,
		`{"cmd":42}`,
	}
	for _, raw := range tests {
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err == nil {
			t.Fatalf("Unmarshal(%s) error=nil, want non-nil", raw)
		}
	}
}

func TestDecodeInboundClassifiesFrames(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    frameKind
		id      uint32
		event   Event
		wantErr bool
	}{
		{name: "reply", raw: `{"id":1234,"cmd":"authorize","data":{"code":"abc"}}`, kind: frameReply, id: 1234},
		{name: "broadcast", raw: `{"cmd":"dispatch","evt":"audio_channel_user_talk","data":["1"]}`, kind: frameBroadcast, event: EventAudioChannelUserTalk},
		{name: "dispatch without evt", raw: `{"cmd":"dispatch","data":[]}`, wantErr: true},
		{name: "request without id", raw: `{"cmd":"get_guild_list"}`, wantErr: true},
		{name: "no cmd", raw: `{"id":7}`, wantErr: true},
		{name: "not json", raw: `{oops`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := decodeInbound([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("decodeInbound(%s) error=nil, want non-nil", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeInbound(%s) error: %v", tt.raw, err)
			}
			if frame.kind != tt.kind {
				t.Fatalf("kind=%v, want %v", frame.kind, tt.kind)
			}
			if frame.id != tt.id {
				t.Fatalf("id=%d, want %d", frame.id, tt.id)
			}
			if frame.event != tt.event {
				t.Fatalf("event=%q, want %q", frame.event, tt.event)
			}
		})
	}
}

func TestEnvelopeFieldHelpers(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"id":1,"cmd":"authorize","args":{"client_id":"15943749139034","n":3},"data":{"code":"abc"}}`), &env); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if got, err := env.DataString("code"); err != nil || got != "abc" {
		t.Fatalf("DataString(code)=%q, %v, want abc", got, err)
	}
	if _, err := env.DataString("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DataString(missing) error=%v, want ErrNotFound", err)
	}
	if got, err := env.ArgString("client_id"); err != nil || got != "15943749139034" {
		t.Fatalf("ArgString(client_id)=%q, %v", got, err)
	}
	if _, err := env.ArgString("n"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ArgString(n) error=%v, want ErrNotFound", err)
	}
	if _, ok := env.DataArray(); ok {
		t.Fatal("DataArray on object ok=true, want false")
	}
}

func TestEnvelopeCloneIsIndependent(t *testing.T) {
	id := uint32(9)
	env := Envelope{ID: &id, Cmd: CommandDispatch, Args: map[string]any{"a": "b"}, Data: json.RawMessage(`["1"]`)}
	clone := env.Clone()

	*clone.ID = 10
	clone.Args["a"] = "c"
	clone.Data[2] = '2'

	if *env.ID != 9 || env.Args["a"] != "b" || string(env.Data) != `["1"]` {
		t.Fatalf("original mutated through clone: id=%d args=%v data=%s", *env.ID, env.Args, env.Data)
	}
}

func TestDialURLEncodesOverlayTarget(t *testing.T) {
	cfg := normalizeConfig(Config{GuildID: "1561035437838649", ChannelID: "1714016194916588"})

	raw, err := dialURL(cfg)
	if err != nil {
		t.Fatalf("dialURL error: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%s) error: %v", raw, err)
	}
	if u.Scheme != "ws" || u.Host != "127.0.0.1:5988" {
		t.Fatalf("dial url=%s, want ws://127.0.0.1:5988", raw)
	}
	want := "https://streamkit.kaiheila.cn/overlay/voice/1561035437838649/1714016194916588"
	if got := u.Query().Get("url"); got != want {
		t.Fatalf("url param=%q, want %q", got, want)
	}
	if u.RawQuery != "url="+url.QueryEscape(want) {
		t.Fatalf("raw query=%q, want percent-encoded target", u.RawQuery)
	}
}

func TestDialURLRejectsHTTPEndpoint(t *testing.T) {
	cfg := normalizeConfig(Config{Endpoint: "http://127.0.0.1:5988/", GuildID: "g", ChannelID: "c"})
	if _, err := dialURL(cfg); err == nil {
		t.Fatal("dialURL(http) error=nil, want non-nil")
	}
}

package types

import "testing"

func TestReplyPayloadMedia(t *testing.T) {
	p := ReplyPayload{MediaURL: "https://example.com/a.png"}
	if got := p.Media(); len(got) != 1 || got[0] != "https://example.com/a.png" {
		t.Errorf("single media = %v", got)
	}

	p = ReplyPayload{MediaURL: "ignored", MediaURLs: []string{"a", " ", "b"}}
	if got := p.Media(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("media list = %v", got)
	}

	if !(ReplyPayload{Text: "  "}).IsEmpty() {
		t.Error("whitespace-only payload should be empty")
	}
}

func TestSpecialTokens(t *testing.T) {
	if !IsSilentReply("  NO_REPLY\n") {
		t.Error("trimmed token should match")
	}
	if IsSilentReply("NO_REPLY please") {
		t.Error("token must match exactly")
	}
	if StripHeartbeatToken(" HEARTBEAT_OK ") != "" {
		t.Error("bare heartbeat token should be stripped")
	}
	if StripHeartbeatToken("all good HEARTBEAT_OK") == "" {
		t.Error("embedded token must not strip the text")
	}
}

func TestSenderLabel(t *testing.T) {
	m := InboundMessage{SenderName: "Alice", SenderE164: "+15550001111"}
	if m.SenderLabel() != "Alice (+15550001111)" {
		t.Errorf("label = %q", m.SenderLabel())
	}
	m = InboundMessage{From: "123@g.us"}
	if m.SenderLabel() != "123@g.us" {
		t.Errorf("fallback label = %q", m.SenderLabel())
	}
}

package activation

import (
	"testing"

	"github.com/roelfdiedericks/clawrelay/internal/types"
)

var self = types.Identity{E164: "+15550001111", JID: "15550001111@s.whatsapp.net"}

func groupMsg(body string) types.InboundMessage {
	return types.InboundMessage{
		Body:       body,
		ChatType:   types.ChatGroup,
		From:       "120363000000@g.us",
		SenderE164: "+15552223333",
		SenderJID:  "15552223333@s.whatsapp.net",
	}
}

func mustNew(t *testing.T, opts Options) *Resolver {
	t.Helper()
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestMentionGating(t *testing.T) {
	r := mustNew(t, Options{MentionPatterns: []string{`(?i)\bclawd\b`}})

	tests := []struct {
		name      string
		msg       types.InboundMessage
		respond   bool
		mentioned string
	}{
		{"plain chatter", groupMsg("lunch anyone?"), false, ""},
		{"pattern", groupMsg("hey Clawd what's up"), true, MentionPattern},
		{"pattern behind zero-width", groupMsg("hey cl\u200bawd"), true, MentionPattern},
		{"identity mention", func() types.InboundMessage {
			m := groupMsg("@15550001111 ping")
			m.MentionedIDs = []string{"15550001111:3@s.whatsapp.net"}
			return m
		}(), true, MentionIdentity},
		{"reply to us", func() types.InboundMessage {
			m := groupMsg("and then?")
			m.ReplyToSender = "15550001111@s.whatsapp.net"
			return m
		}(), true, MentionReply},
		{"digits without fallback", groupMsg("call 1 555 000 1111"), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Decide(tt.msg, self, ModeMention)
			if d.Respond != tt.respond {
				t.Fatalf("Respond = %v, want %v (%s)", d.Respond, tt.respond, d.Reason)
			}
			if d.Via != tt.mentioned {
				t.Errorf("Via = %q, want %q", d.Via, tt.mentioned)
			}
		})
	}
}

func TestDigitFallbackIsOptIn(t *testing.T) {
	r := mustNew(t, Options{DigitFallback: true})
	d := r.Decide(groupMsg("ping +1 (555) 000-1111"), self, ModeMention)
	if !d.Respond || d.Via != MentionDigits {
		t.Fatalf("decision = %+v", d)
	}
}

func TestAlwaysModeSkipsMentionDetection(t *testing.T) {
	r := mustNew(t, Options{})
	d := r.Decide(groupMsg("anything"), self, ModeAlways)
	if !d.Respond || d.Mentioned {
		t.Fatalf("decision = %+v", d)
	}
}

func TestSelfChatDisablesIdentityMentions(t *testing.T) {
	r := mustNew(t, Options{DigitFallback: true})
	m := groupMsg("note to self 15550001111")
	m.SenderE164 = "+1 555 000 1111"
	m.MentionedIDs = []string{self.JID}

	d := r.Decide(m, self, ModeMention)
	if d.Respond {
		t.Fatalf("self-chat identity/digit mention should not trigger: %+v", d)
	}
}

func TestOwnerCommands(t *testing.T) {
	r := mustNew(t, Options{Owners: []string{"+15552223333"}})

	d := r.Decide(groupMsg("/activation always"), self, ModeMention)
	if d.Command == nil || d.Command.Name != CommandActivation || d.Respond {
		t.Fatalf("decision = %+v", d)
	}
	if mode, ok := d.Command.Mode(); !ok || mode != ModeAlways {
		t.Errorf("mode = %q, %v", mode, ok)
	}

	d = r.Decide(groupMsg("@clawd /status"), self, ModeMention)
	if d.Command == nil || d.Command.Name != CommandStatus {
		t.Fatalf("status decision = %+v", d)
	}

	stranger := groupMsg("/activation always")
	stranger.SenderE164 = "+15559990000"
	stranger.SenderJID = "15559990000@s.whatsapp.net"
	d = r.Decide(stranger, self, ModeMention)
	if !d.Drop || d.Command != nil {
		t.Fatalf("non-owner activation command should be dropped: %+v", d)
	}
}

func TestSelfIsOwnerWhenNoOwnersConfigured(t *testing.T) {
	r := mustNew(t, Options{})
	m := groupMsg("/status")
	m.FromMe = true
	if d := r.Decide(m, self, ModeMention); d.Command == nil {
		t.Fatalf("own /status should be an owner command: %+v", d)
	}
}

func TestOwnerByHandle(t *testing.T) {
	r := mustNew(t, Options{Owners: []string{"@alice"}})
	m := groupMsg("/status")
	m.SenderE164 = ""
	m.SenderJID = "424242"
	m.SenderUser = "Alice"
	if !r.IsOwner(m, self) {
		t.Fatal("handle should match case-insensitively")
	}
	m.SenderUser = "mallory"
	if r.IsOwner(m, self) {
		t.Fatal("other handle must not be owner")
	}
}

func TestDirectMessagesAlwaysRespond(t *testing.T) {
	r := mustNew(t, Options{})
	m := groupMsg("hello")
	m.ChatType = types.ChatDirect
	if d := r.Decide(m, self, ModeMention); !d.Respond || d.Reason != ReasonDirect {
		t.Fatalf("decision = %+v", d)
	}
}

func TestNormalizeE164(t *testing.T) {
	tests := map[string]string{
		"+1 (555) 000-1111":             "+15550001111",
		"15550001111@s.whatsapp.net":    "+15550001111",
		"15550001111:12@s.whatsapp.net": "+15550001111",
		"whatsapp:+4915112345678":       "+4915112345678",
		"no digits":                     "",
	}
	for in, want := range tests {
		if got := NormalizeE164(in); got != want {
			t.Errorf("NormalizeE164(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	if _, ok := ParseCommand("hello /status"); ok {
		t.Error("command must lead the message")
	}
	cmd, ok := ParseCommand("/STATUS@clawd_bot")
	if !ok || cmd.Name != CommandStatus {
		t.Errorf("got %+v, %v", cmd, ok)
	}
	if _, ok := ParseCommand("/reset"); ok {
		t.Error("unknown commands are not owner commands")
	}
}

func TestBadPattern(t *testing.T) {
	if _, err := New(Options{MentionPatterns: []string{"("}}); err == nil {
		t.Fatal("expected compile error")
	}
}

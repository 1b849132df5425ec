package telegram

import (
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/roelfdiedericks/clawrelay/internal/types"
)

var (
	testMe = &tele.User{ID: 999, Username: "relay_bot", FirstName: "Relay", IsBot: true}
	alice  = &tele.User{ID: 42, Username: "alice", FirstName: "Alice", LastName: "A"}
)

func TestToInboundDirect(t *testing.T) {
	m := &tele.Message{
		ID:       10,
		Unixtime: 1700000000,
		Sender:   alice,
		Chat:     &tele.Chat{ID: 42, Type: tele.ChatPrivate},
		Text:     "hello",
	}
	msg, ok := toInbound(m, testMe)
	if !ok {
		t.Fatal("expected message")
	}
	if msg.ChatType != types.ChatDirect || msg.From != "42" || msg.ID != "10" || msg.To != "@relay_bot" {
		t.Errorf("routing = %+v", msg)
	}
	if msg.SenderJID != "42" || msg.SenderUser != "alice" || msg.SenderName != "Alice A" {
		t.Errorf("sender = %q %q %q", msg.SenderJID, msg.SenderUser, msg.SenderName)
	}
	if msg.Timestamp.Unix() != 1700000000 {
		t.Errorf("timestamp = %v", msg.Timestamp)
	}
}

func TestToInboundGroupMentions(t *testing.T) {
	// "héllo" has a two-byte rune before the entity; offsets count UTF-16 units
	text := "héllo @Relay_Bot and @bob"
	m := &tele.Message{
		ID:     11,
		Sender: alice,
		Chat:   &tele.Chat{ID: -100123, Type: tele.ChatSuperGroup, Title: "Team"},
		Text:   text,
		Entities: tele.Entities{
			{Type: tele.EntityMention, Offset: 6, Length: 10},
			{Type: tele.EntityMention, Offset: 21, Length: 4},
		},
	}
	msg, ok := toInbound(m, testMe)
	if !ok {
		t.Fatal("expected message")
	}
	if !msg.IsGroup() || msg.GroupSubject != "Team" || msg.ConversationID != "-100123" {
		t.Errorf("group = %+v", msg)
	}
	if len(msg.MentionedIDs) != 2 || msg.MentionedIDs[0] != "@Relay_Bot" || msg.MentionedIDs[1] != "@bob" {
		t.Errorf("mentions = %v", msg.MentionedIDs)
	}
}

func TestToInboundHandleWithoutEntity(t *testing.T) {
	m := &tele.Message{Sender: alice, Chat: &tele.Chat{ID: -1, Type: tele.ChatGroup}, Text: "ping @relay_bot"}
	msg, _ := toInbound(m, testMe)
	if len(msg.MentionedIDs) != 1 || msg.MentionedIDs[0] != "@relay_bot" {
		t.Errorf("mentions = %v", msg.MentionedIDs)
	}
}

func TestToInboundTextMentionAndReply(t *testing.T) {
	m := &tele.Message{
		Sender:   alice,
		Chat:     &tele.Chat{ID: -1, Type: tele.ChatGroup},
		Text:     "Relay what now",
		Entities: tele.Entities{{Type: tele.EntityTMention, Offset: 0, Length: 5, User: testMe}},
		ReplyTo:  &tele.Message{ID: 5, Sender: testMe, Text: "earlier answer"},
	}
	msg, _ := toInbound(m, testMe)
	if len(msg.MentionedIDs) != 1 || msg.MentionedIDs[0] != "@relay_bot" {
		t.Errorf("mentions = %v", msg.MentionedIDs)
	}
	if msg.ReplyToID != "5" || msg.ReplyToBody != "earlier answer" || msg.ReplyToSender != "@relay_bot" {
		t.Errorf("reply = %q %q %q", msg.ReplyToID, msg.ReplyToBody, msg.ReplyToSender)
	}
}

func TestToInboundPhotoCaption(t *testing.T) {
	m := &tele.Message{
		Sender:  alice,
		Chat:    &tele.Chat{ID: 42, Type: tele.ChatPrivate},
		Caption: "look",
		Photo:   &tele.Photo{File: tele.File{FileID: "abc"}},
	}
	msg, ok := toInbound(m, testMe)
	if !ok || msg.Body != "look" || msg.MediaType != "image/jpeg" {
		t.Errorf("msg = %+v ok=%v", msg, ok)
	}
}

func TestToInboundEmpty(t *testing.T) {
	if _, ok := toInbound(&tele.Message{Chat: &tele.Chat{ID: 1}}, testMe); ok {
		t.Error("empty message should be skipped")
	}
	if _, ok := toInbound(nil, testMe); ok {
		t.Error("nil message should be skipped")
	}
}

func TestStripBotSuffix(t *testing.T) {
	tests := map[string]string{
		"/activation@relay_bot always": "/activation always",
		"/status@Relay_Bot":            "/status",
		"/status@other_bot":            "/status@other_bot",
		"hello @relay_bot":             "hello @relay_bot",
	}
	for in, want := range tests {
		if got := stripBotSuffix(in, testMe); got != want {
			t.Errorf("stripBotSuffix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAllowed(t *testing.T) {
	dm := types.InboundMessage{ChatType: types.ChatDirect, SenderJID: "42", SenderUser: "alice"}
	tests := []struct {
		name  string
		allow []string
		want  bool
	}{
		{"empty", nil, true},
		{"wildcard", []string{"*"}, true},
		{"by id", []string{"42"}, true},
		{"by handle", []string{"@Alice"}, true},
		{"other", []string{"7", "@bob"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := allowed(tt.allow, dm); got != tt.want {
				t.Errorf("allowed = %v, want %v", got, tt.want)
			}
		})
	}
	if !allowed([]string{"7"}, types.InboundMessage{ChatType: types.ChatGroup}) {
		t.Error("groups bypass the allowlist")
	}
}

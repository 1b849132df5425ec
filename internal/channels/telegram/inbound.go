package telegram

import (
	"strconv"
	"strings"
	"unicode/utf16"

	tele "gopkg.in/telebot.v4"

	"github.com/roelfdiedericks/clawrelay/internal/types"
)

// toInbound normalizes a Bot API message. me is the bot's own account.
// Messages without text, caption or attachment report false.
func toInbound(m *tele.Message, me *tele.User) (types.InboundMessage, bool) {
	if m == nil || m.Chat == nil {
		return types.InboundMessage{}, false
	}
	body := m.Text
	entities := m.Entities
	if body == "" {
		body = m.Caption
		entities = m.CaptionEntities
	}
	_, mimeType := attachmentOf(m)
	if strings.TrimSpace(body) == "" && mimeType == "" {
		return types.InboundMessage{}, false
	}

	chatID := strconv.FormatInt(m.Chat.ID, 10)
	in := types.InboundMessage{
		ID:             strconv.Itoa(m.ID),
		Surface:        Surface,
		Timestamp:      m.Time(),
		From:           chatID,
		To:             selfHandle(me),
		ChatType:       types.ChatDirect,
		ConversationID: chatID,
		Body:           stripBotSuffix(body, me),
		MediaType:      mimeType,
	}
	if m.Chat.Type != tele.ChatPrivate {
		in.ChatType = types.ChatGroup
		in.GroupSubject = m.Chat.Title
	}
	if s := m.Sender; s != nil {
		in.SenderJID = strconv.FormatInt(s.ID, 10)
		in.SenderUser = s.Username
		in.SenderName = strings.TrimSpace(s.FirstName + " " + s.LastName)
		if in.SenderName == "" && s.Username != "" {
			in.SenderName = "@" + s.Username
		}
		in.FromMe = me != nil && s.ID == me.ID
	}

	in.MentionedIDs = mentions(entities, body, me)

	if r := m.ReplyTo; r != nil {
		in.ReplyToID = strconv.Itoa(r.ID)
		in.ReplyToBody = r.Text
		if in.ReplyToBody == "" {
			in.ReplyToBody = r.Caption
		}
		if r.Sender != nil {
			in.ReplyToSender = userAddress(r.Sender, me)
		}
	}
	return in, true
}

// mentions collects @handles and text mentions. A plain "@botname" in the
// text counts even when the client sent no entity for it.
func mentions(entities tele.Entities, body string, me *tele.User) []string {
	var out []string
	for _, e := range entities {
		switch e.Type {
		case tele.EntityMention:
			out = append(out, entityText(body, e))
		case tele.EntityTMention:
			if e.User != nil {
				out = append(out, userAddress(e.User, me))
			}
		}
	}
	if me != nil && me.Username != "" {
		handle := "@" + strings.ToLower(me.Username)
		if strings.Contains(strings.ToLower(body), handle) && !containsFold(out, handle) {
			out = append(out, "@"+me.Username)
		}
	}
	return out
}

// entityText slices an entity out of text. Offsets count UTF-16 code units.
func entityText(text string, e tele.MessageEntity) string {
	units := utf16.Encode([]rune(text))
	end := e.Offset + e.Length
	if e.Offset < 0 || end > len(units) {
		return ""
	}
	return string(utf16.Decode(units[e.Offset:end]))
}

// userAddress is "@handle" for the bot itself and users with a handle,
// otherwise the numeric id.
func userAddress(u *tele.User, me *tele.User) string {
	if me != nil && u.ID == me.ID {
		return selfHandle(me)
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}

func selfHandle(me *tele.User) string {
	if me == nil {
		return ""
	}
	if me.Username != "" {
		return "@" + me.Username
	}
	return strconv.FormatInt(me.ID, 10)
}

// stripBotSuffix turns "/status@my_bot rest" into "/status rest" so group
// commands parse like direct ones.
func stripBotSuffix(body string, me *tele.User) string {
	if me == nil || me.Username == "" || !strings.HasPrefix(body, "/") {
		return body
	}
	cmd, rest, _ := strings.Cut(body, " ")
	name, target, found := strings.Cut(cmd, "@")
	if !found || !strings.EqualFold(target, me.Username) {
		return body
	}
	if rest == "" {
		return name
	}
	return name + " " + rest
}

// attachmentOf returns the downloadable file of m and its MIME type.
func attachmentOf(m *tele.Message) (*tele.File, string) {
	switch {
	case m.Photo != nil:
		return &m.Photo.File, "image/jpeg"
	case m.Video != nil:
		return &m.Video.File, orDefault(m.Video.MIME, "video/mp4")
	case m.Voice != nil:
		return &m.Voice.File, orDefault(m.Voice.MIME, "audio/ogg")
	case m.Audio != nil:
		return &m.Audio.File, orDefault(m.Audio.MIME, "audio/mpeg")
	case m.Document != nil:
		return &m.Document.File, orDefault(m.Document.MIME, "application/octet-stream")
	}
	return nil, ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// allowed applies the DM allowlist: numeric user ids or handles, "*" for
// anyone. Groups are gated by activation; an empty list allows everyone.
func allowed(allowFrom []string, msg types.InboundMessage) bool {
	if msg.IsGroup() || len(allowFrom) == 0 {
		return true
	}
	for _, a := range allowFrom {
		a = strings.TrimSpace(a)
		switch {
		case a == "*":
			return true
		case a == msg.SenderJID && a != "":
			return true
		case msg.SenderUser != "" && strings.EqualFold(strings.TrimPrefix(a, "@"), msg.SenderUser):
			return true
		}
	}
	return false
}

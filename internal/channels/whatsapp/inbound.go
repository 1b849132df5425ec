package whatsapp

import (
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	watypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/roelfdiedericks/clawrelay/internal/activation"
	"github.com/roelfdiedericks/clawrelay/internal/types"
)

// ownIDs are the addresses WhatsApp may use for our own account. Newer
// clients address people by a hidden "lid" instead of the phone number.
type ownIDs struct {
	user string // phone number user part
	lid  string // lid user part, when known
	jid  string // canonical phone jid
	e164 string
}

func newOwnIDs(id, lid watypes.JID) ownIDs {
	o := ownIDs{user: id.User, lid: lid.User}
	if id.User != "" {
		o.jid = id.ToNonAD().String()
		o.e164 = "+" + id.User
	}
	return o
}

func (o ownIDs) is(jid watypes.JID) bool {
	return jid.User != "" && (jid.User == o.user || (o.lid != "" && jid.User == o.lid))
}

// canonical maps any of our own addresses to the phone jid and leaves other
// addresses untouched.
func (o ownIDs) canonical(raw string) string {
	jid, err := watypes.ParseJID(raw)
	if err != nil {
		return raw
	}
	if o.is(jid) {
		return o.jid
	}
	return jid.ToNonAD().String()
}

// attachment is the downloadable part of a message.
type attachment struct {
	msg      whatsmeow.DownloadableMessage
	mimeType string
}

// toInbound normalizes a message event. It reports false for events the
// relay never handles: status broadcasts, our own direct messages to
// other people, and messages with neither text nor media. Our own group
// messages pass so owner commands work there; the echo guard drops our
// own replies.
func toInbound(evt *events.Message, own ownIDs) (types.InboundMessage, *attachment, bool) {
	info := evt.Info
	msg := evt.Message
	if msg == nil || info.Chat.Server == watypes.BroadcastServer {
		return types.InboundMessage{}, nil, false
	}
	if info.IsFromMe && !info.IsGroup && !own.is(info.Chat) {
		return types.InboundMessage{}, nil, false
	}

	body := messageText(msg)
	att := attachmentOf(msg)
	if strings.TrimSpace(body) == "" && att == nil {
		return types.InboundMessage{}, nil, false
	}

	in := types.InboundMessage{
		ID:             info.ID,
		Surface:        Surface,
		Timestamp:      info.Timestamp,
		From:           info.Chat.ToNonAD().String(),
		To:             own.jid,
		ChatType:       types.ChatDirect,
		ConversationID: info.Chat.ToNonAD().String(),
		SenderE164:     e164Of(info.Sender, info.SenderAlt),
		SenderName:     info.PushName,
		SenderJID:      own.canonical(info.Sender.ToNonAD().String()),
		FromMe:         info.IsFromMe,
		Body:           body,
	}
	if info.IsGroup {
		in.ChatType = types.ChatGroup
	}
	if info.IsFromMe {
		in.SenderE164 = own.e164
	}
	if att != nil {
		in.MediaType = att.mimeType
	}

	if ci := contextInfo(msg); ci != nil {
		for _, m := range ci.GetMentionedJID() {
			in.MentionedIDs = append(in.MentionedIDs, own.canonical(m))
		}
		if id := ci.GetStanzaID(); id != "" {
			in.ReplyToID = id
			in.ReplyToBody = messageText(ci.GetQuotedMessage())
			if p := ci.GetParticipant(); p != "" {
				in.ReplyToSender = own.canonical(p)
			}
		}
	}
	return in, att, true
}

// messageText returns the text or caption carried by msg.
func messageText(msg *waE2E.Message) string {
	switch {
	case msg == nil:
		return ""
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func contextInfo(msg *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetContextInfo()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetContextInfo()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetContextInfo()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetContextInfo()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetContextInfo()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage().GetContextInfo()
	}
	return nil
}

func attachmentOf(msg *waE2E.Message) *attachment {
	switch {
	case msg.GetImageMessage() != nil:
		m := msg.GetImageMessage()
		return &attachment{msg: m, mimeType: m.GetMimetype()}
	case msg.GetVideoMessage() != nil:
		m := msg.GetVideoMessage()
		return &attachment{msg: m, mimeType: m.GetMimetype()}
	case msg.GetAudioMessage() != nil:
		m := msg.GetAudioMessage()
		return &attachment{msg: m, mimeType: m.GetMimetype()}
	case msg.GetDocumentMessage() != nil:
		m := msg.GetDocumentMessage()
		return &attachment{msg: m, mimeType: m.GetMimetype()}
	case msg.GetStickerMessage() != nil:
		m := msg.GetStickerMessage()
		return &attachment{msg: m, mimeType: m.GetMimetype()}
	}
	return nil
}

// e164Of returns the first phone-number address among jids. Senders on a
// lid address usually carry the phone jid as SenderAlt.
func e164Of(jids ...watypes.JID) string {
	for _, j := range jids {
		if j.Server == watypes.DefaultUserServer && j.User != "" {
			return "+" + j.User
		}
	}
	return ""
}

// allowed applies the DM allowlist. Groups are gated by activation instead,
// and our own self-chat always passes. An empty list allows everyone.
func allowed(allowFrom []string, msg types.InboundMessage) bool {
	if msg.IsGroup() || msg.FromMe || len(allowFrom) == 0 {
		return true
	}
	sender := activation.NormalizeE164(msg.SenderE164)
	for _, a := range allowFrom {
		a = strings.TrimSpace(a)
		if a == "*" {
			return true
		}
		if sender != "" && activation.NormalizeE164(a) == sender {
			return true
		}
	}
	return false
}

package types

import "strings"

// Special tokens a resolver may emit in reply text.
const (
	// HeartbeatToken acknowledges a heartbeat; it is stripped and never delivered.
	HeartbeatToken = "HEARTBEAT_OK"
	// SilentReplyToken means "nothing to say"; the payload is not delivered.
	SilentReplyToken = "NO_REPLY"
)

// ReplyPayload is one unit of resolver output.
// Payloads are transient: built by the resolver, consumed by delivery.
type ReplyPayload struct {
	Text      string   `json:"text,omitempty"`
	MediaURL  string   `json:"mediaUrl,omitempty"`
	MediaURLs []string `json:"mediaUrls,omitempty"`
	ReplyToID string   `json:"replyToId,omitempty"`
}

// Media returns MediaURLs, falling back to the single MediaURL.
func (p ReplyPayload) Media() []string {
	if len(p.MediaURLs) > 0 {
		out := make([]string, 0, len(p.MediaURLs))
		for _, u := range p.MediaURLs {
			if strings.TrimSpace(u) != "" {
				out = append(out, u)
			}
		}
		return out
	}
	if strings.TrimSpace(p.MediaURL) != "" {
		return []string{p.MediaURL}
	}
	return nil
}

// IsEmpty reports whether the payload carries neither text nor media.
func (p ReplyPayload) IsEmpty() bool {
	return strings.TrimSpace(p.Text) == "" && len(p.Media()) == 0
}

// IsSilentReply reports whether text is exactly the silent-reply token.
func IsSilentReply(text string) bool {
	return strings.TrimSpace(text) == SilentReplyToken
}

// StripHeartbeatToken removes a bare heartbeat acknowledgement.
// Text that merely contains the token elsewhere is left alone.
func StripHeartbeatToken(text string) string {
	if strings.TrimSpace(text) == HeartbeatToken {
		return ""
	}
	return text
}

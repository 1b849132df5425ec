// Package activation decides whether a group message should trigger a reply.
package activation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roelfdiedericks/clawrelay/internal/types"
)

// Mode is a per-conversation activation mode.
type Mode string

const (
	ModeMention Mode = "mention" // reply only when mentioned
	ModeAlways  Mode = "always"  // reply to every message
)

// ParseMode parses "mention" or "always".
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMention:
		return ModeMention, true
	case ModeAlways:
		return ModeAlways, true
	}
	return "", false
}

// DefaultMode is the mode used when nothing is persisted for a conversation.
func DefaultMode(requireMention bool) Mode {
	if requireMention {
		return ModeMention
	}
	return ModeAlways
}

// Decision reasons and mention sources.
const (
	ReasonDirect       = "direct"
	ReasonAlways       = "always"
	ReasonMentioned    = "mentioned"
	ReasonNoMention    = "no-mention"
	ReasonOwnerCommand = "owner-command"
	ReasonNotOwner     = "activation-command-not-owner"

	MentionIdentity = "identity"
	MentionPattern  = "pattern"
	MentionReply    = "reply"
	MentionDigits   = "digits"
)

// Decision is the outcome for one inbound message.
type Decision struct {
	Respond   bool     // Invoke the resolver
	Mentioned bool     // An explicit mention was detected
	Via       string   // How the mention was detected
	Command   *Command // Owner command to answer locally; bypasses history
	Drop      bool     // Ignore entirely, no history either
	Reason    string
}

// Options configure a Resolver.
type Options struct {
	MentionPatterns []string // Regular expressions matched against the cleaned body
	DigitFallback   bool     // Treat our own number appearing in the body as a mention
	Owners          []string // E.164 numbers or platform ids allowed to issue commands
}

// Resolver applies mention and activation rules. It is immutable and safe
// for concurrent use.
type Resolver struct {
	patterns      []*regexp.Regexp
	digitFallback bool
	owners        map[string]struct{}
}

// New compiles the configured patterns.
func New(opts Options) (*Resolver, error) {
	r := &Resolver{
		digitFallback: opts.DigitFallback,
		owners:        make(map[string]struct{}),
	}
	for _, p := range opts.MentionPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("mention pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	for _, o := range opts.Owners {
		if key := ownerKey(o); key != "" {
			r.owners[key] = struct{}{}
		}
	}
	return r, nil
}

// Decide applies the activation rules to msg, given our own identity and the
// conversation's current mode.
func (r *Resolver) Decide(msg types.InboundMessage, self types.Identity, mode Mode) Decision {
	body := StripControl(msg.Body)

	if cmd, ok := ParseCommand(body); ok {
		if r.IsOwner(msg, self) {
			return Decision{Command: &cmd, Reason: ReasonOwnerCommand}
		}
		if cmd.Name == CommandActivation {
			return Decision{Drop: true, Reason: ReasonNotOwner}
		}
	}

	if !msg.IsGroup() {
		return Decision{Respond: true, Reason: ReasonDirect}
	}
	if mode == ModeAlways {
		return Decision{Respond: true, Reason: ReasonAlways}
	}

	if via, ok := r.mentioned(msg, body, self); ok {
		return Decision{Respond: true, Mentioned: true, Via: via, Reason: ReasonMentioned}
	}
	return Decision{Reason: ReasonNoMention}
}

// mentioned checks identity mentions, configured patterns, reply-to-self
// and (opt-in) our own digits in the body, in that order.
func (r *Resolver) mentioned(msg types.InboundMessage, body string, self types.Identity) (string, bool) {
	selfChat := IsSelfChat(msg, self)

	if !selfChat && self.JID != "" {
		for _, id := range msg.MentionedIDs {
			if sameID(id, self.JID) {
				return MentionIdentity, true
			}
		}
	}

	for _, re := range r.patterns {
		if re.MatchString(body) {
			return MentionPattern, true
		}
	}

	if !selfChat && msg.ReplyToSender != "" && (sameID(msg.ReplyToSender, self.JID) || sameNumber(msg.ReplyToSender, self.E164)) {
		return MentionReply, true
	}

	if r.digitFallback && !selfChat {
		selfDigits := digits(self.E164)
		if len(selfDigits) >= 6 && strings.Contains(digits(body), selfDigits) {
			return MentionDigits, true
		}
	}
	return "", false
}

// IsOwner reports whether the sender may issue owner commands. With no
// configured owners only our own account qualifies.
func (r *Resolver) IsOwner(msg types.InboundMessage, self types.Identity) bool {
	if len(r.owners) == 0 {
		return msg.FromMe || IsSelfChat(msg, self)
	}
	for _, cand := range []string{msg.SenderE164, msg.SenderJID, msg.SenderUser, msg.From} {
		if key := ownerKey(cand); key != "" {
			if _, ok := r.owners[key]; ok {
				return true
			}
		}
	}
	return false
}

// IsSelfChat reports whether the sender is our own account.
func IsSelfChat(msg types.InboundMessage, self types.Identity) bool {
	sender := NormalizeE164(msg.SenderE164)
	return sender != "" && sender == NormalizeE164(self.E164)
}

// ownerKey maps phone numbers and jids to "+<digits>" and anything else to
// its lowercased user part.
func ownerKey(s string) string {
	u := idUser(s)
	if u == "" {
		return ""
	}
	if d := strings.TrimPrefix(u, "+"); d != "" && digits(d) == d {
		return "+" + d
	}
	return u
}

func sameID(a, b string) bool {
	ua, ub := idUser(a), idUser(b)
	return ua != "" && ua == ub
}

func sameNumber(id, e164 string) bool {
	d := digits(e164)
	return d != "" && digits(idUser(id)) == d
}

// idUser reduces "user:device@server", "@name" or "Name" to a comparable key.
func idUser(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.TrimPrefix(id, "@")
	if i := strings.IndexByte(id, '@'); i >= 0 {
		id = id[:i]
	}
	if i := strings.IndexByte(id, ':'); i >= 0 {
		id = id[:i]
	}
	return id
}

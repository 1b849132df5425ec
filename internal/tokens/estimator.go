// Package tokens counts tokens in the group context handed to resolvers.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	. "github.com/roelfdiedericks/clawrelay/internal/logging"
)

// DefaultEncoding approximates the models behind the bundled resolvers.
const DefaultEncoding = "cl100k_base"

// memoSize bounds the per-text memo. History lines are recounted on every
// triggered reply in a group, so most lookups hit.
const memoSize = 2048

// Estimator counts tokens with tiktoken, or estimates one token per four
// runes when no encoding is loaded.
type Estimator struct {
	encoding *tiktoken.Tiktoken

	mu    sync.Mutex
	memo  map[string]int
	order []string // insertion order, oldest first
}

var (
	shared     *Estimator
	sharedOnce sync.Once
)

// Get returns the process-wide estimator.
func Get() *Estimator {
	sharedOnce.Do(func() {
		var err error
		shared, err = New(DefaultEncoding)
		if err != nil {
			L_warn("tokens: encoding unavailable, estimating from rune count", "encoding", DefaultEncoding, "error", err)
			shared = &Estimator{}
		}
	})
	return shared
}

// New loads the named tiktoken encoding.
func New(encoding string) (*Estimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &Estimator{encoding: enc}, nil
}

// Count returns the token count of text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e == nil {
		return runeEstimate(text)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.memo[text]; ok {
		return n
	}
	n := runeEstimate(text)
	if e.encoding != nil {
		n = len(e.encoding.Encode(text, nil, nil))
	}
	e.remember(text, n)
	return n
}

func (e *Estimator) remember(text string, n int) {
	if e.memo == nil {
		e.memo = make(map[string]int)
	}
	if len(e.order) >= memoSize {
		delete(e.memo, e.order[0])
		e.order = e.order[1:]
	}
	e.memo[text] = n
	e.order = append(e.order, text)
}

func runeEstimate(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// Estimate counts text with the process-wide estimator.
func Estimate(text string) int {
	return Get().Count(text)
}

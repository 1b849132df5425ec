package telegram

import (
	"encoding/json"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"
)

const pollRetryDelay = time.Second

// poller is a long poller that reports getUpdates failures. telebot's own
// LongPoller swallows them, which leaves a dead bot looking healthy.
type poller struct {
	timeout time.Duration
	onError func(err error, consecutive int)

	lastID   int
	failures int
}

// Poll implements tele.Poller.
func (p *poller) Poll(b *tele.Bot, dest chan tele.Update, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		updates, err := p.fetch(b)
		if err != nil {
			p.failures++
			if p.onError != nil {
				p.onError(err, p.failures)
			}
			select {
			case <-stop:
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}
		p.failures = 0

		for _, u := range updates {
			p.lastID = u.ID
			select {
			case dest <- u:
			case <-stop:
				return
			}
		}
	}
}

func (p *poller) fetch(b *tele.Bot) ([]tele.Update, error) {
	params := map[string]string{
		"offset":  strconv.Itoa(p.lastID + 1),
		"timeout": strconv.Itoa(int(p.timeout / time.Second)),
	}
	data, err := b.Raw("getUpdates", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result []tele.Update `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Package telegram delivers run reports to a Telegram chat. Outbound
// only: the bot never polls for updates.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "leadscout/pkg/logx"
)

// Telegram rejects messages over 4096 characters; stay under with margin.
const textLimit = 4000

// Sender wraps one telebot instance. Token changes require a new Sender;
// chat targeting is per call so the notifier can re-target at runtime.
type Sender struct {
	log logx.Logger
	bot *tele.Bot
}

// NewSender validates the token against the Telegram API and returns a
// ready sender. Callers treat a failure as "run without notifications".
func NewSender(token string, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	log.Debug("bot ready", logx.String("username", b.Me.Username))
	return &Sender{log: log, bot: b}, nil
}

// Send delivers text to one chat, split into multiple messages when it
// exceeds the Telegram length limit.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.bot.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// splitText chunks long text, preferring newline boundaries so report
// lines stay intact. Chunks are never smaller than a third of the limit.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		if chunk != "" {
			out = append(out, chunk)
		}

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// Package notify delivers operator messages to a normal and an error channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Notifier is what the rest of the scheduler sends messages through.
type Notifier interface {
	Log(ctx context.Context, msg any) error
	Error(ctx context.Context, msg any) error
}

// Sender delivers text to a named channel.
type Sender interface {
	Send(ctx context.Context, channel, text string) error
}

type Channels struct {
	Normal string
	Error  string
}

type Service struct {
	sender   Sender
	channels Channels
	limiter  *rate.Limiter
}

// New builds a notifier. ratePerSec <= 0 disables rate limiting.
func New(sender Sender, channels Channels, ratePerSec int) *Service {
	s := &Service{sender: sender, channels: channels}
	if ratePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return s
}

func (s *Service) Log(ctx context.Context, msg any) error {
	return s.send(ctx, s.channels.Normal, msg)
}

func (s *Service) Error(ctx context.Context, msg any) error {
	return s.send(ctx, s.channels.Error, msg)
}

// Suppressed reports whether a channel value disables delivery.
func Suppressed(channel string) bool {
	return channel == "" || channel == "none"
}

// Text renders strings as-is and anything else as JSON.
func Text(msg any) string {
	switch m := msg.(type) {
	case string:
		return m
	case fmt.Stringer:
		return m.String()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Sprint(msg)
	}
	return string(b)
}

func (s *Service) send(ctx context.Context, channel string, msg any) error {
	text := Text(msg)
	if Suppressed(channel) || s.sender == nil {
		log.Info().Str("channel", channel).Msg(text)
		return nil
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	log.Debug().Str("channel", channel).Str("text", text).Msg("sending notification")
	if err := s.sender.Send(ctx, channel, text); err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("notification send failed")
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}

var _ Notifier = (*Service)(nil)

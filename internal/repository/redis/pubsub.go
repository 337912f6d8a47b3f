package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kirinyoku/flight-wizard/internal/domain"
	"github.com/redis/go-redis/v9"
)

// WizardPubSub fans wizard change notifications out over a Redis channel.
type WizardPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewWizardPubSub(rdb *redis.Client) *WizardPubSub {
	return &WizardPubSub{
		rdb:     rdb,
		channel: ChannelWizardChanged(),
	}
}

type WizardChanged struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id"`
	State     domain.WizardState `json:"state"`
	TsUnix    int64              `json:"ts_unix"`
}

func (p *WizardPubSub) PublishWizardChanged(
	ctx context.Context,
	sessionID string,
	state domain.WizardState,
) error {
	msg := WizardChanged{
		Type:      "wizard_changed",
		SessionID: sessionID,
		State:     state,
		TsUnix:    time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *WizardPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, msg WizardChanged)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg WizardChanged
			if err := json.Unmarshal([]byte(m.Payload), &msg); err == nil &&
				msg.SessionID != "" {
				handler(ctx, msg)
			}
		}
	}
}

package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CapacityPubSub broadcasts capacity changes so other instances drop
// their cached availability.
type CapacityPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewCapacityPubSub(rdb *redis.Client) *CapacityPubSub {
	return &CapacityPubSub{
		rdb:     rdb,
		channel: ChannelCapacityChanged(),
	}
}

type capacityChangedMsg struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
	TsUnix  int64  `json:"ts_unix"`
}

func (p *CapacityPubSub) PublishCapacityChanged(ctx context.Context, eventID int64) error {
	msg := capacityChangedMsg{
		Type:    "capacity_changed",
		EventID: eventID,
		TsUnix:  time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *CapacityPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, eventID int64)) error {
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
			var ev capacityChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.EventID != 0 {
				handler(ctx, ev.EventID)
			}
		}
	}
}

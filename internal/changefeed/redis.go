package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// channelPrefix はRedisのPub/Subチャネル名のプレフィックス。
const channelPrefix = "collab:project:"

// RedisFeed はRedis Pub/Subを使用したFeed実装。
// 複数のcollabdインスタンスが互いの永続化済み変更を観測できる。
type RedisFeed struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisFeed はRedisFeedを生成し、接続を確認する。
func NewRedisFeed(ctx context.Context, addr string, logger *slog.Logger) (*RedisFeed, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisFeed{client: client, logger: logger}, nil
}

// channelFor はプロジェクトIDに対応するPub/Subチャネル名を返す。
func channelFor(projectID string) string {
	return channelPrefix + projectID
}

// Publish はイベントをJSONエンコードしてRedisチャネルに発行する。
func (f *RedisFeed) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode changefeed event: %w", err)
	}
	if err := f.client.Publish(ctx, channelFor(event.ProjectID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish changefeed event: %w", err)
	}
	return nil
}

// Subscribe は指定プロジェクトのRedisチャネルを購読し、イベントチャネルを返す。
// デコードできないメッセージはログに記録して読み飛ばす。
func (f *RedisFeed) Subscribe(ctx context.Context, projectID string) (<-chan Event, func(), error) {
	pubsub := f.client.Subscribe(ctx, channelFor(projectID))

	// 購読の確立を待つ
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to changefeed: %w", err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				f.logger.Warn("failed to decode changefeed event",
					slog.String("error", err.Error()),
					slog.String("channel", msg.Channel),
				)
				continue
			}
			select {
			case out <- event:
			default:
				// 満杯の購読者は取りこぼす
			}
		}
	}()

	cancel := func() {
		pubsub.Close()
	}
	return out, cancel, nil
}

// Close はRedis接続を閉じる。
func (f *RedisFeed) Close() error {
	return f.client.Close()
}

// compile-time interface check
var _ Feed = (*RedisFeed)(nil)

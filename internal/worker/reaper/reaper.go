// Package reaper はアイドルセッションの自動クローズジョブを提供する。
// 最終アクティビティからTTL（デフォルト30分）を超過したセッションを
// 定期巡回でクローズし、リソースリークを防ぐ。
package reaper

import (
	"context"
	"log/slog"
	"time"
)

// SessionCloser はアイドルセッションのクローズ操作を抽象化するインターフェース。
// collab.SessionRegistryが実装する。
type SessionCloser interface {
	// CloseIdleSessions は最終アクティビティがttlより古いセッションを
	// クローズし、クローズした件数を返す。
	CloseIdleSessions(ttl time.Duration) int
}

// Reaper はアイドルセッションの定期クローズジョブ。
// ティッカー駆動で冪等なクローズ処理を実行する。
type Reaper struct {
	registry SessionCloser
	logger   *slog.Logger
	ttl      time.Duration
}

// NewReaper は新しいReaperを生成する。
// ttlが0以下の場合はデフォルト値30分を使用する。
func NewReaper(registry SessionCloser, logger *slog.Logger, ttl time.Duration) *Reaper {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Reaper{
		registry: registry,
		logger:   logger,
		ttl:      ttl,
	}
}

// Start は指定間隔のティッカーでリーパーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Reaper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("session reaper started",
		slog.Duration("interval", interval),
		slog.Duration("idle_ttl", r.ttl),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("session reaper stopped")
			return
		case <-ticker.C:
			r.RunOnce()
		}
	}
}

// RunOnce はアイドルセッションのクローズを1回実行する。
// クローズ対象がない場合は何もしない。
func (r *Reaper) RunOnce() {
	start := time.Now()

	closed := r.registry.CloseIdleSessions(r.ttl)
	if closed == 0 {
		return
	}

	r.logger.Info("idle sessions closed",
		slog.Int("closed_count", closed),
		slog.Duration("idle_ttl", r.ttl),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}

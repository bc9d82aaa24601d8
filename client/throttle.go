package client

import (
	"math"
	"sync"
	"time"
)

const (
	// cursorMinDistance は前回送信点からの最小ユークリッド距離（px）。
	cursorMinDistance = 10.0
	// cursorDebounceInterval はトレーリングエッジデバウンスの待機時間。
	// 入力イベント頻度によらず送信レートを約10件/秒に抑える。
	cursorDebounceInterval = 100 * time.Millisecond
)

// cursorThrottle はカーソル座標の送信を間引く。
// 最新の座標のみをバッファし、前回送信点から閾値を超えて移動し、
// かつ最後の入力から待機時間が経過したときにだけ送信する。
type cursorThrottle struct {
	minDistance float64
	interval    time.Duration
	emit        func(x, y float64)

	mu       sync.Mutex
	timer    *time.Timer
	pendingX float64
	pendingY float64
	sentX    float64
	sentY    float64
	hasSent  bool
	stopped  bool
}

// newCursorThrottle は新しいcursorThrottleを生成する。
// emitはデバウンスタイマーのゴルーチンから呼ばれる。
func newCursorThrottle(minDistance float64, interval time.Duration, emit func(x, y float64)) *cursorThrottle {
	return &cursorThrottle{
		minDistance: minDistance,
		interval:    interval,
		emit:        emit,
	}
}

// Offer は最新のカーソル座標を受け付ける。
// 前回送信点からの距離が閾値以下の場合は破棄する。
// 閾値を超える場合はデバウンスタイマーをリセットし、
// タイマー満了時点の最新座標を送信する。
func (c *cursorThrottle) Offer(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	if c.hasSent {
		dx := x - c.sentX
		dy := y - c.sentY
		if math.Sqrt(dx*dx+dy*dy) <= c.minDistance {
			return
		}
	}

	c.pendingX = x
	c.pendingY = y

	// トレーリングエッジデバウンス: 入力のたびにタイマーをリセットし、
	// 入力が止まってから一度だけ送信する
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.interval, c.flush)
}

// flush はバッファ中の座標を送信し、送信済み点を更新する。
func (c *cursorThrottle) flush() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	x, y := c.pendingX, c.pendingY
	c.sentX, c.sentY = x, y
	c.hasSent = true
	c.timer = nil
	c.mu.Unlock()

	c.emit(x, y)
}

// Stop は保留中の送信をキャンセルし、以後のOfferを無効化する。
func (c *cursorThrottle) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

package client

import (
	"sync"
	"testing"
	"time"
)

type emitRecorder struct {
	mu     sync.Mutex
	points [][2]float64
}

func (r *emitRecorder) emit(x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, [2]float64{x, y})
}

func (r *emitRecorder) snapshot() [][2]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][2]float64, len(r.points))
	copy(out, r.points)
	return out
}

// TestCursorThrottle_RapidBurstEmitsOnlyFinal は高頻度入力で
// 最後の座標だけが送信されることを検証する。
func TestCursorThrottle_RapidBurstEmitsOnlyFinal(t *testing.T) {
	rec := &emitRecorder{}
	th := newCursorThrottle(10, 20*time.Millisecond, rec.emit)
	defer th.Stop()

	// (0,0)から(50,50)まで間髪入れずに報告する
	for v := 0.0; v <= 50; v += 10 {
		th.Offer(v, v)
	}

	time.Sleep(100 * time.Millisecond)

	points := rec.snapshot()
	if len(points) != 1 {
		t.Fatalf("emitted %d points, want 1: %v", len(points), points)
	}
	if points[0] != [2]float64{50, 50} {
		t.Errorf("emitted point = %v, want [50 50]", points[0])
	}
}

// TestCursorThrottle_SmallMovementDropped は前回送信点から
// 閾値以下の移動が破棄されることを検証する。
func TestCursorThrottle_SmallMovementDropped(t *testing.T) {
	rec := &emitRecorder{}
	th := newCursorThrottle(10, 10*time.Millisecond, rec.emit)
	defer th.Stop()

	th.Offer(100, 100)
	time.Sleep(50 * time.Millisecond)

	// ユークリッド距離 ≈ 7.1px、閾値10px以下
	th.Offer(105, 105)
	time.Sleep(50 * time.Millisecond)

	points := rec.snapshot()
	if len(points) != 1 {
		t.Fatalf("emitted %d points, want 1: %v", len(points), points)
	}
}

// TestCursorThrottle_LargeMovementEmitted は閾値を超える移動が
// デバウンス後に送信されることを検証する。
func TestCursorThrottle_LargeMovementEmitted(t *testing.T) {
	rec := &emitRecorder{}
	th := newCursorThrottle(10, 10*time.Millisecond, rec.emit)
	defer th.Stop()

	th.Offer(0, 0)
	time.Sleep(50 * time.Millisecond)

	th.Offer(200, 200)
	time.Sleep(50 * time.Millisecond)

	points := rec.snapshot()
	if len(points) != 2 {
		t.Fatalf("emitted %d points, want 2: %v", len(points), points)
	}
	if points[1] != [2]float64{200, 200} {
		t.Errorf("second point = %v, want [200 200]", points[1])
	}
}

// TestCursorThrottle_StopCancelsPending はStop後に保留中の送信が
// 行われないことを検証する。
func TestCursorThrottle_StopCancelsPending(t *testing.T) {
	rec := &emitRecorder{}
	th := newCursorThrottle(10, 20*time.Millisecond, rec.emit)

	th.Offer(10, 10)
	th.Stop()

	time.Sleep(100 * time.Millisecond)

	if points := rec.snapshot(); len(points) != 0 {
		t.Errorf("emitted %d points after Stop, want 0", len(points))
	}

	// Stop後のOfferも無効
	th.Offer(300, 300)
	time.Sleep(50 * time.Millisecond)
	if points := rec.snapshot(); len(points) != 0 {
		t.Errorf("emitted %d points after Stop+Offer, want 0", len(points))
	}
}

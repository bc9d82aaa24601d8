package reaper

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type mockSessionCloser struct {
	mu     sync.Mutex
	calls  []time.Duration
	closed int
}

func (m *mockSessionCloser) CloseIdleSessions(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ttl)
	return m.closed
}

func (m *mockSessionCloser) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestNewReaper_DefaultTTL はTTL未指定時にデフォルト値が使われることを検証する。
func TestNewReaper_DefaultTTL(t *testing.T) {
	r := NewReaper(&mockSessionCloser{}, discardLogger(), 0)

	if r.ttl != 30*time.Minute {
		t.Errorf("ttl = %v, want %v", r.ttl, 30*time.Minute)
	}
}

// TestRunOnce_PassesTTL はRunOnceが設定したTTLでレジストリを呼ぶことを検証する。
func TestRunOnce_PassesTTL(t *testing.T) {
	closer := &mockSessionCloser{closed: 2}
	r := NewReaper(closer, discardLogger(), 10*time.Minute)

	r.RunOnce()

	if closer.callCount() != 1 {
		t.Fatalf("call count = %d, want 1", closer.callCount())
	}
	if closer.calls[0] != 10*time.Minute {
		t.Errorf("ttl = %v, want %v", closer.calls[0], 10*time.Minute)
	}
}

// TestStart_StopsOnContextCancel はコンテキストキャンセルで停止することを検証する。
func TestStart_StopsOnContextCancel(t *testing.T) {
	closer := &mockSessionCloser{}
	r := NewReaper(closer, discardLogger(), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx, 5*time.Millisecond)
		close(done)
	}()

	// 数ティック分の巡回を待つ
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after context cancel")
	}

	if closer.callCount() == 0 {
		t.Error("reaper never invoked CloseIdleSessions")
	}
}

package changefeed

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// 発行したイベントが同一プロジェクトの購読者に届くことを検証
func TestMemoryFeed_PublishSubscribe(t *testing.T) {
	f := NewMemoryFeed()
	defer f.Close()

	ch, cancel, err := f.Subscribe(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer cancel()

	event := Event{
		ProjectID: "proj-1",
		Field:     FieldComponents,
		Payload:   json.RawMessage(`{"hero-1":{"color":"#ff0000"}}`),
		UserID:    "user-b",
		Timestamp: time.Now(),
	}
	if err := f.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	select {
	case got := <-ch:
		if got.ProjectID != "proj-1" || got.Field != FieldComponents || got.UserID != "user-b" {
			t.Errorf("received event = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

// 別プロジェクトの購読者にはイベントが届かないことを検証
func TestMemoryFeed_ProjectIsolation(t *testing.T) {
	f := NewMemoryFeed()
	defer f.Close()

	ch, cancel, err := f.Subscribe(context.Background(), "proj-other")
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer cancel()

	f.Publish(context.Background(), Event{ProjectID: "proj-1", Field: FieldStyles})

	select {
	case got, ok := <-ch:
		if ok {
			t.Errorf("unexpected event for other project: %+v", got)
		}
	case <-time.After(50 * time.Millisecond):
		// 期待どおり何も届かない
	}
}

// 購読解除後はチャネルがクローズされることを検証
func TestMemoryFeed_Unsubscribe(t *testing.T) {
	f := NewMemoryFeed()
	defer f.Close()

	ch, cancel, err := f.Subscribe(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// 解除後の発行はパニックしない
	if err := f.Publish(context.Background(), Event{ProjectID: "proj-1"}); err != nil {
		t.Errorf("Publish after unsubscribe returned error: %v", err)
	}
}

// 二重cancelが安全であることを検証
func TestMemoryFeed_CancelTwice(t *testing.T) {
	f := NewMemoryFeed()
	defer f.Close()

	_, cancel, err := f.Subscribe(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	cancel()
	cancel() // 2回目もパニックしない
}

// Close後のPublishがエラーにならないことを検証
func TestMemoryFeed_PublishAfterClose(t *testing.T) {
	f := NewMemoryFeed()

	ch, _, err := f.Subscribe(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Close")
	}
	if err := f.Publish(context.Background(), Event{ProjectID: "proj-1"}); err != nil {
		t.Errorf("Publish after Close returned error: %v", err)
	}
}

// イベントのJSONラウンドトリップ（Redis実装のワイヤ形式）を検証
func TestEvent_JSONRoundTrip(t *testing.T) {
	event := Event{
		ProjectID: "proj-1",
		Field:     FieldAnimations,
		Payload:   json.RawMessage(`{"fade":{"duration":300}}`),
		UserID:    "user-a",
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}

	if decoded.ProjectID != event.ProjectID || decoded.Field != event.Field ||
		decoded.UserID != event.UserID || !decoded.Timestamp.Equal(event.Timestamp) {
		t.Errorf("round trip mismatch: %+v != %+v", decoded, event)
	}
	if string(decoded.Payload) != string(event.Payload) {
		t.Errorf("payload mismatch: %s != %s", decoded.Payload, event.Payload)
	}
}

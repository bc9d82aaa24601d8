// Package changefeed は永続化済み変更のフィードを提供する。
// セッションレジストリが変更をバッキングストアに書き込んだ後にイベントを発行し、
// 購読者（別インスタンスのレジストリや確認チャネルとしてのクライアント）が
// プロジェクト単位で変更を観測できるようにする。
//
// ブロードキャストの取りこぼしに対する最終的な確認チャネルであり、
// 配信保証はat-most-once（購読者が追いつけないイベントは破棄される）。
package changefeed

import (
	"context"
	"encoding/json"
	"time"
)

// Field は変更が書き込まれたプロジェクトフィールドを表す。
type Field string

const (
	FieldComponents Field = "components"
	FieldStyles     Field = "styles"
	FieldAnimations Field = "animations"
)

// Event は永続化された1件の変更を表す。
type Event struct {
	ProjectID string          `json:"projectId"`
	Field     Field           `json:"field"`
	Payload   json.RawMessage `json:"payload"`
	UserID    string          `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
}

// Feed は変更フィードのインターフェース。
type Feed interface {
	// Publish は永続化済み変更のイベントを発行する。
	Publish(ctx context.Context, event Event) error

	// Subscribe は指定プロジェクトのイベントチャネルを返す。
	// 返される関数を呼ぶと購読を解除しチャネルをクローズする。
	Subscribe(ctx context.Context, projectID string) (<-chan Event, func(), error)

	// Close はフィードを閉じ、全購読を解除する。
	Close() error
}

// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// Project は共同編集対象のプロジェクトを表す。
// Components/Styles/AnimationsはUI側が解釈する不透明なJSONドキュメントであり、
// 変更適用時はフィールド単位の完全上書きで更新される（パッチマージはしない）。
type Project struct {
	ID            string
	Name          string
	OwnerID       string
	Collaborators []string
	Components    json.RawMessage
	Styles        json.RawMessage
	Animations    json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasCollaborator は指定ユーザーがコラボレーターに含まれるかを返す。
// 所有者はコラボレーターリストに含まれない点に注意。
func (p *Project) HasCollaborator(userID string) bool {
	for _, id := range p.Collaborators {
		if id == userID {
			return true
		}
	}
	return false
}

// CanAccess は指定ユーザーがプロジェクトに参加可能かを返す。
// 所有者またはコラボレーターのみ参加できる。
func (p *Project) CanAccess(userID string) bool {
	return p.OwnerID == userID || p.HasCollaborator(userID)
}

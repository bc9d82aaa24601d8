// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"encoding/json"

	"github.com/siteforge/collab/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error
}

// ProjectRepository はプロジェクトデータの永続化インターフェース。
// components/styles/animationsの更新はフィールド単位の完全上書きで行う。
type ProjectRepository interface {
	// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Project, error)

	// Create はプロジェクトを作成する。
	Create(ctx context.Context, project *model.Project) error

	// UpdateComponents はcomponentsフィールドを完全上書きする。
	UpdateComponents(ctx context.Context, projectID string, components json.RawMessage) error

	// UpdateStyles はstylesフィールドを完全上書きする。
	UpdateStyles(ctx context.Context, projectID string, styles json.RawMessage) error

	// UpdateAnimations はanimationsフィールドを完全上書きする。
	UpdateAnimations(ctx context.Context, projectID string, animations json.RawMessage) error

	// UpdateCollaborators はコラボレーターリストを置き換える。
	UpdateCollaborators(ctx context.Context, projectID string, collaborators []string) error
}

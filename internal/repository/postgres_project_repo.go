package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/siteforge/collab/internal/model"
)

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	project := &model.Project{}
	var collaborators pq.StringArray
	var components, styles, animations []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, collaborators, components, styles, animations, created_at, updated_at
		 FROM projects WHERE id = $1`,
		id,
	).Scan(
		&project.ID, &project.Name, &project.OwnerID, &collaborators,
		&components, &styles, &animations,
		&project.CreatedAt, &project.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project by ID: %w", err)
	}

	project.Collaborators = []string(collaborators)
	project.Components = json.RawMessage(components)
	project.Styles = json.RawMessage(styles)
	project.Animations = json.RawMessage(animations)

	return project, nil
}

// Create はプロジェクトを作成する。
// components/styles/animationsが未指定の場合は空オブジェクトで初期化する。
func (r *PostgresProjectRepo) Create(ctx context.Context, project *model.Project) error {
	components := emptyObjectIfNil(project.Components)
	styles := emptyObjectIfNil(project.Styles)
	animations := emptyObjectIfNil(project.Animations)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, owner_id, collaborators, components, styles, animations, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		project.ID, project.Name, project.OwnerID, pq.Array(project.Collaborators),
		[]byte(components), []byte(styles), []byte(animations),
		project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// UpdateComponents はcomponentsフィールドを完全上書きする。
func (r *PostgresProjectRepo) UpdateComponents(ctx context.Context, projectID string, components json.RawMessage) error {
	return r.updateField(ctx, "components", projectID, components)
}

// UpdateStyles はstylesフィールドを完全上書きする。
func (r *PostgresProjectRepo) UpdateStyles(ctx context.Context, projectID string, styles json.RawMessage) error {
	return r.updateField(ctx, "styles", projectID, styles)
}

// UpdateAnimations はanimationsフィールドを完全上書きする。
func (r *PostgresProjectRepo) UpdateAnimations(ctx context.Context, projectID string, animations json.RawMessage) error {
	return r.updateField(ctx, "animations", projectID, animations)
}

// updateField は指定JSONBフィールドを完全上書きする。
// フィールド名は呼び出し側の定数に限定されるためプレースホルダ化しない。
func (r *PostgresProjectRepo) updateField(ctx context.Context, field, projectID string, value json.RawMessage) error {
	query := fmt.Sprintf(
		`UPDATE projects SET %s = $1, updated_at = now() WHERE id = $2`, field,
	)
	result, err := r.db.ExecContext(ctx, query, []byte(emptyObjectIfNil(value)), projectID)
	if err != nil {
		return fmt.Errorf("failed to update project %s: %w", field, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("project not found: %s", projectID)
	}
	return nil
}

// UpdateCollaborators はコラボレーターリストを置き換える。
func (r *PostgresProjectRepo) UpdateCollaborators(ctx context.Context, projectID string, collaborators []string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE projects SET collaborators = $1, updated_at = now() WHERE id = $2`,
		pq.Array(collaborators), projectID,
	)
	if err != nil {
		return fmt.Errorf("failed to update project collaborators: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("project not found: %s", projectID)
	}
	return nil
}

// emptyObjectIfNil はnilのJSONドキュメントを空オブジェクトに正規化する。
func emptyObjectIfNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)

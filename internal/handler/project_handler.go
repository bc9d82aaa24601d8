// Package handler はHTTP APIのハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/siteforge/collab/internal/middleware"
	"github.com/siteforge/collab/internal/model"
)

// ProjectStore はプロジェクトハンドラーが必要とする永続化インターフェース。
// repository.ProjectRepositoryの部分集合として定義する。
type ProjectStore interface {
	FindByID(ctx context.Context, id string) (*model.Project, error)
	Create(ctx context.Context, project *model.Project) error
	UpdateCollaborators(ctx context.Context, projectID string, collaborators []string) error
}

// ProjectHandler はプロジェクト管理のHTTPハンドラー。
type ProjectHandler struct {
	store ProjectStore
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(store ProjectStore) *ProjectHandler {
	return &ProjectHandler{store: store}
}

// createProjectRequest はプロジェクト作成リクエストのボディ。
type createProjectRequest struct {
	Name string `json:"name"`
}

// updateCollaboratorsRequest はコラボレーター更新リクエストのボディ。
type updateCollaboratorsRequest struct {
	Collaborators []string `json:"collaborators"`
}

// projectResponse はプロジェクト情報のAPIレスポンス。
type projectResponse struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	OwnerID       string          `json:"ownerId"`
	Collaborators []string        `json:"collaborators"`
	Components    json.RawMessage `json:"components"`
	Styles        json.RawMessage `json:"styles"`
	Animations    json.RawMessage `json:"animations"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func toProjectResponse(p *model.Project) projectResponse {
	collaborators := p.Collaborators
	if collaborators == nil {
		collaborators = []string{}
	}
	return projectResponse{
		ID:            p.ID,
		Name:          p.Name,
		OwnerID:       p.OwnerID,
		Collaborators: collaborators,
		Components:    emptyObjectIfNil(p.Components),
		Styles:        emptyObjectIfNil(p.Styles),
		Animations:    emptyObjectIfNil(p.Animations),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func emptyObjectIfNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

// CreateProject はプロジェクト作成を処理する。
// POST /api/projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}
	if req.Name == "" {
		writeInvalidRequest(w, "プロジェクト名が空です。")
		return
	}

	now := time.Now()
	project := &model.Project{
		ID:        uuid.NewString(),
		Name:      req.Name,
		OwnerID:   userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.Create(r.Context(), project); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toProjectResponse(project))
}

// GetProject はプロジェクト詳細を取得する。
// GET /api/projects/{id}
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	project, err := h.store.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if project == nil {
		handleServiceError(w, model.NewProjectNotFoundError())
		return
	}
	if !project.CanAccess(userID) {
		handleServiceError(w, model.NewAccessDeniedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toProjectResponse(project))
}

// UpdateCollaborators はコラボレーターリストを置き換える。所有者のみ実行できる。
// PUT /api/projects/{id}/collaborators
func (h *ProjectHandler) UpdateCollaborators(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	projectID := chi.URLParam(r, "id")
	project, err := h.store.FindByID(r.Context(), projectID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if project == nil {
		handleServiceError(w, model.NewProjectNotFoundError())
		return
	}
	if project.OwnerID != userID {
		handleServiceError(w, model.NewPermissionDeniedError("update collaborators"))
		return
	}

	var req updateCollaboratorsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}

	if err := h.store.UpdateCollaborators(r.Context(), projectID, req.Collaborators); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

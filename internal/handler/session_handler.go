package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/siteforge/collab/internal/collab"
	"github.com/siteforge/collab/internal/middleware"
)

// SessionRegistryInterface はセッションハンドラーが必要とするレジストリの操作。
// collab.SessionRegistryが実装する。
type SessionRegistryInterface interface {
	Info(sessionID string) (*collab.SessionInfo, error)
	SetLocked(sessionID, userID string, locked bool) error
	SessionIDForProject(projectID string) (string, bool)
}

// SessionHandler はアクティブセッションの照会・操作のHTTPハンドラー。
type SessionHandler struct {
	registry SessionRegistryInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(registry SessionRegistryInterface) *SessionHandler {
	return &SessionHandler{registry: registry}
}

// lockRequest はセッションロック変更リクエストのボディ。
type lockRequest struct {
	Locked bool `json:"locked"`
}

// GetSession はアクティブセッションのスナップショットを返す。
// GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.registry.Info(chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// GetSessionByProject はプロジェクトに対応するアクティブセッションを返す。
// GET /api/projects/{id}/session
func (h *SessionHandler) GetSessionByProject(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.registry.SessionIDForProject(chi.URLParam(r, "id"))
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"message": "no active session"})
		return
	}

	info, err := h.registry.Info(sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// SetLock はセッションのロック状態を変更する。所有者のみ実行できる。
// PUT /api/sessions/{id}/lock
func (h *SessionHandler) SetLock(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}

	if err := h.registry.SetLocked(chi.URLParam(r, "id"), userID, req.Locked); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

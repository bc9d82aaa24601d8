package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/siteforge/collab/internal/middleware"
	"github.com/siteforge/collab/internal/model"
)

// handleServiceError はサービス層のエラーをHTTPステータスに変換して書き込む。
// APIError以外のエラーは詳細をログにのみ記録し、一般的な500を返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("unexpected service error",
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	status := http.StatusInternalServerError
	switch apiErr.Code {
	case model.ErrCodeProjectNotFound, model.ErrCodeSessionNotFound, model.ErrCodeUserNotFound:
		status = http.StatusNotFound
	case model.ErrCodeAccessDenied, model.ErrCodePermissionDenied:
		status = http.StatusForbidden
	case model.ErrCodeInvalidMessage, model.ErrCodeInvalidRole:
		status = http.StatusBadRequest
	case model.ErrCodeSessionLocked, model.ErrCodeNotParticipant:
		status = http.StatusConflict
	}

	middleware.WriteErrorResponse(w, status, apiErr)
}

// writeUnauthorized は401の統一レスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "X-User-IDヘッダーを付与してください。",
	})
}

// writeInvalidRequest は400の統一レスポンスを書き込む。
func writeInvalidRequest(w http.ResponseWriter, message string) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  message,
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// コラボレーションプロトコルのerrorイベントにはMessageのみが載る。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, collab, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeProjectNotFound  = "PROJECT_NOT_FOUND"
	ErrCodeAccessDenied     = "ACCESS_DENIED"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeSessionNotFound  = "SESSION_NOT_FOUND"
	ErrCodeSessionLocked    = "SESSION_LOCKED"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeInvalidRole      = "INVALID_ROLE"
	ErrCodePersistFailed    = "PERSIST_FAILED"
	ErrCodeNotParticipant   = "NOT_A_PARTICIPANT"
)

// NewProjectNotFoundError はプロジェクト未検出エラーを生成する。
// Messageはワイヤプロトコルで固定された文字列であるため変更しないこと。
func NewProjectNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  "Project not found",
		Category: "collab",
		Action:   "プロジェクトIDを確認してください。",
	}
}

// NewAccessDeniedError はアクセス拒否エラーを生成する。
// プロジェクトの所有者でもコラボレーターでもないユーザーの参加要求に対して返す。
// Messageはワイヤプロトコルで固定された文字列であるため変更しないこと。
func NewAccessDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccessDenied,
		Message:  "Access denied",
		Category: "auth",
		Action:   "プロジェクトの所有者に招待を依頼してください。",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
// Messageはワイヤプロトコルで固定された文字列であるため変更しないこと。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewSessionNotFoundError はセッション未検出エラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("Session not found: %s", sessionID),
		Category: "collab",
		Action:   "セッションに再参加してください。",
	}
}

// NewSessionLockedError はロック中セッションへの変更拒否エラーを生成する。
func NewSessionLockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionLocked,
		Message:  "Session is locked",
		Category: "collab",
		Action:   "セッションのロックが解除されるまで待ってください。",
	}
}

// NewPermissionDeniedError は権限不足エラーを生成する。
// サーバー側で参加者レコードから再導出した権限に基づいて返す。
func NewPermissionDeniedError(action string) *APIError {
	return &APIError{
		Code:     ErrCodePermissionDenied,
		Message:  fmt.Sprintf("Permission denied: %s", action),
		Category: "auth",
		Action:   "必要なロールを持つユーザーに操作を依頼してください。",
	}
}

// NewInvalidMessageError は不正なワイヤメッセージエラーを生成する。
func NewInvalidMessageError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMessage,
		Message:  fmt.Sprintf("Invalid message: %s", reason),
		Category: "validation",
		Action:   "クライアントのバージョンを確認してください。",
	}
}

// NewInvalidRoleError は不正なロール指定エラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("Invalid role: %s", role),
		Category: "validation",
		Action:   "owner、editor、viewer のいずれかを指定してください。",
	}
}

// NewPersistFailedError は永続化失敗エラーを生成する。
// 変更元のソケットにのみ送られ、他の参加者には伝播しない。
func NewPersistFailedError() *APIError {
	return &APIError{
		Code:     ErrCodePersistFailed,
		Message:  "Failed to persist change",
		Category: "system",
		Action:   "変更を再送信してください。",
	}
}

// NewNotParticipantError はセッション参加者でないユーザーからの操作エラーを生成する。
func NewNotParticipantError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotParticipant,
		Message:  fmt.Sprintf("Not a participant: %s", userID),
		Category: "collab",
		Action:   "セッションに参加してから操作してください。",
	}
}

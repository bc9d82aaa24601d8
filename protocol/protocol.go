// Package protocol はコラボレーションセッションのワイヤプロトコルを定義する。
// サーバー（internal/collab, internal/ws）とクライアント（client）の両方から参照される。
package protocol

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// Role はセッション参加者のロールを表す。
type Role string

const (
	// RoleOwner はプロジェクト所有者。全権限を持つ。
	RoleOwner Role = "owner"
	// RoleEditor は編集者。編集とコメントが可能。
	RoleEditor Role = "editor"
	// RoleViewer は閲覧者。権限を持たない。
	RoleViewer Role = "viewer"
)

// Valid はロールが定義済みの値かを検証する。
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// Permissions はロールから決定論的に導出される権限セット。
type Permissions struct {
	Edit    bool `json:"edit"`
	Comment bool `json:"comment"`
	Share   bool `json:"share"`
	Invite  bool `json:"invite"`
}

// PermissionsForRole はロールに対応する権限セットを返す。
// owner: 全権限、editor: edit+comment、viewer: 権限なし。
func PermissionsForRole(r Role) Permissions {
	switch r {
	case RoleOwner:
		return Permissions{Edit: true, Comment: true, Share: true, Invite: true}
	case RoleEditor:
		return Permissions{Edit: true, Comment: true}
	default:
		return Permissions{}
	}
}

// Cursor は参加者のカーソル位置（絶対座標）を表す。
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Selection は参加者のテキスト選択範囲を表す。
type Selection struct {
	ElementID string `json:"elementId"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
}

// Participant はセッション内の1人の参加者を表す。
// カーソルと選択範囲は一度も報告されていない場合nil。
type Participant struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Role        Role        `json:"role"`
	Color       string      `json:"color"`
	Cursor      *Cursor     `json:"cursor,omitempty"`
	Selection   *Selection  `json:"selection,omitempty"`
	IsOnline    bool        `json:"isOnline"`
	LastSeen    time.Time   `json:"lastSeen"`
	Permissions Permissions `json:"permissions"`

	// 映像・音声・画面共有・挙手の広告的フラグ。
	// サーバーは中継するのみで強制はしない。
	VideoEnabled  bool `json:"videoEnabled"`
	AudioEnabled  bool `json:"audioEnabled"`
	ScreenSharing bool `json:"screenSharing"`
	HandRaised    bool `json:"handRaised"`
}

// ChangeType は共有プロジェクト状態への変更種別を表す。
type ChangeType string

const (
	ChangeComponentAdd    ChangeType = "component_add"
	ChangeComponentUpdate ChangeType = "component_update"
	ChangeComponentDelete ChangeType = "component_delete"
	ChangeComponentMove   ChangeType = "component_move"
	ChangeStyleUpdate     ChangeType = "style_update"
)

// Valid は変更種別が定義済みの値かを検証する。
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeComponentAdd, ChangeComponentUpdate, ChangeComponentDelete,
		ChangeComponentMove, ChangeStyleUpdate:
		return true
	}
	return false
}

// Change は共有プロジェクト状態への1回のアトミックな変更を表す。
// ComponentIDはstyle_updateの場合は空。
type Change struct {
	ID          string          `json:"id"`
	Type        ChangeType      `json:"type"`
	ComponentID string          `json:"componentId,omitempty"`
	Data        json.RawMessage `json:"data"`
	Timestamp   time.Time       `json:"timestamp"`
	UserID      string          `json:"userId"`
}

// MessageType はワイヤメッセージの種別を表す。
// クライアント→サーバーとサーバー→クライアントの両方向を含む閉じた集合。
type MessageType string

// クライアント→サーバー
const (
	MsgJoinSession       MessageType = "join_session"
	MsgLeaveSession      MessageType = "leave_session"
	MsgCursorMove        MessageType = "cursor_move"
	MsgSelectionChange   MessageType = "selection_change"
	MsgComponentChange   MessageType = "component_change"
	MsgStyleChange       MessageType = "style_change"
	MsgAnimationChange   MessageType = "animation_change"
	MsgChat              MessageType = "message"
	MsgActivity          MessageType = "activity"
	MsgVideoToggle       MessageType = "video_toggle"
	MsgAudioToggle       MessageType = "audio_toggle"
	MsgScreenShareToggle MessageType = "screen_share_toggle"
	MsgHandRaised        MessageType = "hand_raised"
	MsgInviteUser        MessageType = "invite_user"
	MsgChangeRole        MessageType = "change_role"
	MsgRemoveUser        MessageType = "remove_user"
	MsgResolveConflict   MessageType = "resolve-conflict"
)

// サーバー→クライアント
const (
	MsgSessionState      MessageType = "session_state"
	MsgUserJoined        MessageType = "user_joined"
	MsgUserLeft          MessageType = "user_left"
	MsgCursorUpdate      MessageType = "cursor_update"
	MsgSelectionUpdate   MessageType = "selection_update"
	MsgComponentUpdated  MessageType = "component-updated"
	MsgStylesUpdated     MessageType = "styles-updated"
	MsgAnimationsUpdated MessageType = "animations-updated"
	MsgRoleChanged       MessageType = "role_changed"
	MsgConflictResolved  MessageType = "conflict-resolved"
	MsgError             MessageType = "error"
)

// Envelope はワイヤレベルのメッセージ封筒。永続化されない。
type Envelope struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope はペイロードをJSONエンコードしてEnvelopeを生成する。
// ペイロードがエンコード不能な場合はエラーを返す。
func NewEnvelope(t MessageType, sessionID, userID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode payload for %s: %w", t, err)
	}
	return Envelope{
		Type:      t,
		SessionID: sessionID,
		UserID:    userID,
		Payload:   raw,
		Timestamp: time.Now(),
	}, nil
}

// --- クライアント→サーバーのペイロード ---

// JoinPayload はjoin_sessionのペイロード。
type JoinPayload struct {
	ProjectID string `json:"projectId"`
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail"`
	Role      Role   `json:"role"`
}

// CursorMovePayload はcursor_moveのペイロード。常に絶対座標。
type CursorMovePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SelectionChangePayload はselection_changeのペイロード。
type SelectionChangePayload struct {
	ElementID string `json:"elementId"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
}

// ChangeSubmitPayload はcomponent_change/style_change/animation_changeのペイロード。
// Changesは変更先フィールドを完全上書きする値。
type ChangeSubmitPayload struct {
	ProjectID   string          `json:"projectId"`
	ComponentID string          `json:"componentId,omitempty"`
	ChangeType  ChangeType      `json:"changeType,omitempty"`
	Changes     json.RawMessage `json:"changes"`
}

// ChatPayload はチャットメッセージのペイロード。
type ChatPayload struct {
	UserName  string    `json:"userName"`
	UserColor string    `json:"userColor"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TogglePayload はvideo_toggle等のブールフラグ系ペイロード。
type TogglePayload struct {
	Enabled bool `json:"enabled"`
}

// InviteUserPayload はinvite_userのペイロード。
type InviteUserPayload struct {
	Email string `json:"email"`
}

// ChangeRolePayload はchange_roleのペイロード。
type ChangeRolePayload struct {
	TargetUserID string `json:"targetUserId"`
	Role         Role   `json:"role"`
}

// RemoveUserPayload はremove_userのペイロード。
type RemoveUserPayload struct {
	TargetUserID string `json:"targetUserId"`
}

// ResolveConflictPayload はresolve-conflictのペイロード。
type ResolveConflictPayload struct {
	ConflictID string          `json:"conflictId"`
	Resolution json.RawMessage `json:"resolution"`
}

// --- サーバー→クライアントのペイロード ---

// SessionStatePayload は新規参加者に送られるセッションスナップショット。
type SessionStatePayload struct {
	Users   []Participant `json:"users"`
	Changes []Change      `json:"changes"`
}

// UserJoinedPayload はuser_joinedのペイロード。
type UserJoinedPayload struct {
	User Participant `json:"user"`
}

// UserLeftPayload はuser_leftのペイロード。
type UserLeftPayload struct {
	UserID string `json:"userId"`
}

// CursorUpdatePayload はcursor_updateのペイロード。
type CursorUpdatePayload struct {
	UserID string `json:"userId"`
	Cursor Cursor `json:"cursor"`
}

// SelectionUpdatePayload はselection_updateのペイロード。
type SelectionUpdatePayload struct {
	UserID    string    `json:"userId"`
	Selection Selection `json:"selection"`
}

// ChangeBroadcastPayload はcomponent-updated/styles-updated/animations-updatedのペイロード。
type ChangeBroadcastPayload struct {
	ComponentID string          `json:"componentId,omitempty"`
	ChangeType  ChangeType      `json:"changeType,omitempty"`
	Changes     json.RawMessage `json:"changes"`
	UserID      string          `json:"userId"`
	Timestamp   time.Time       `json:"timestamp"`
}

// RoleChangedPayload はrole_changedのペイロード。
type RoleChangedPayload struct {
	UserID      string      `json:"userId"`
	Role        Role        `json:"role"`
	Permissions Permissions `json:"permissions"`
}

// ConflictResolvedPayload はconflict-resolvedのペイロード。
// Fallbackは外部マージが失敗し、提出された解決案をそのまま適用したことを示す。
type ConflictResolvedPayload struct {
	ConflictID string          `json:"conflictId"`
	Resolution json.RawMessage `json:"resolution"`
	ResolvedBy string          `json:"resolvedBy"`
	Timestamp  time.Time       `json:"timestamp"`
	Fallback   bool            `json:"fallback,omitempty"`
}

// ErrorPayload はerrorイベントのペイロード。原因ソケットにのみ送られる。
type ErrorPayload struct {
	Message string `json:"message"`
}

// sessionCodeAlphabet はセッションコードに使用する文字集合。
const sessionCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// sessionCodeLength はセッションコードの長さ。
const sessionCodeLength = 6

// NewSessionCode は6文字の大文字英数字セッションコードを生成する。
func NewSessionCode() (string, error) {
	buf := make([]byte, sessionCodeLength)
	max := big.NewInt(int64(len(sessionCodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate session code: %w", err)
		}
		buf[i] = sessionCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

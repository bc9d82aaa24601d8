package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/siteforge/collab/protocol"
)

// transport はIntegrationが必要とするトランスポート操作。Transportが実装する。
type transport interface {
	Initialize(projectID, sessionID string) error
	Join(payload protocol.JoinPayload) error
	Send(msgType protocol.MessageType, payload any) error
	Leave() error
	State() ConnState
	SessionID() string
}

// compile-time interface check
var _ transport = (*Transport)(nil)

// changeMirrorLimit はローカルに保持する変更履歴の上限。
// サーバー側のセッション変更履歴と同じ窓に揃える。
const changeMirrorLimit = 50

// MountParams はMountに渡す参加コンテキスト。
type MountParams struct {
	ProjectID string
	SessionID string // 空の場合は新しいセッションコードを生成する
	UserID    string
	UserName  string
	UserEmail string
	Role      protocol.Role
}

// Integration はUIが対話する唯一のコンポーネント。
// ローカルイベントをプロトコル呼び出しに変換し、サーバー由来の
// セッション状態をローカルにミラーして派生クエリを提供する。
type Integration struct {
	tr     transport
	logger *slog.Logger

	cursors *cursorThrottle

	mu           sync.Mutex
	mounted      bool
	userID       string
	projectID    string
	participants map[string]*protocol.Participant
	changes      []protocol.Change
}

// NewIntegration はトランスポートを生成し、受信メッセージを
// ローカル状態ミラーに接続したIntegrationを返す。
// cfg.OnEnvelopeが指定されている場合はミラー更新後に呼ばれる。
func NewIntegration(cfg TransportConfig) *Integration {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	integ := &Integration{
		logger:       logger,
		participants: make(map[string]*protocol.Participant),
	}

	userHandler := cfg.OnEnvelope
	cfg.OnEnvelope = func(env protocol.Envelope) {
		integ.HandleEnvelope(env)
		if userHandler != nil {
			userHandler(env)
		}
	}
	integ.tr = NewTransport(cfg)
	integ.cursors = newCursorThrottle(cursorMinDistance, cursorDebounceInterval, integ.sendCursor)

	return integ
}

// Mount はトランスポートを開きセッションに参加する。
// 再レンダリングの揺れに備え、マウントごとに最大1回しか初期化しない。
func (i *Integration) Mount(params MountParams) error {
	i.mu.Lock()
	if i.mounted {
		i.mu.Unlock()
		return nil
	}
	i.mounted = true
	i.userID = params.UserID
	i.projectID = params.ProjectID
	i.mu.Unlock()

	if err := i.tr.Initialize(params.ProjectID, params.SessionID); err != nil {
		return fmt.Errorf("failed to initialize transport: %w", err)
	}

	join := protocol.JoinPayload{
		ProjectID: params.ProjectID,
		UserName:  params.UserName,
		UserEmail: params.UserEmail,
		Role:      params.Role,
	}
	if err := i.tr.Join(join); err != nil {
		return fmt.Errorf("failed to join session: %w", err)
	}
	return nil
}

// Unmount はセッションを離脱し、ローカルのコラボレーション状態をすべてリセットする。
func (i *Integration) Unmount() {
	i.mu.Lock()
	if !i.mounted {
		i.mu.Unlock()
		return
	}
	i.mounted = false
	i.participants = make(map[string]*protocol.Participant)
	i.changes = nil
	i.mu.Unlock()

	i.cursors.Stop()
	if err := i.tr.Leave(); err != nil {
		i.logger.Warn("failed to leave session",
			slog.String("error", err.Error()),
		)
	}
}

// State は現在の接続状態を返す。
func (i *Integration) State() ConnState {
	return i.tr.State()
}

// SessionID は現在のセッションIDを返す。
func (i *Integration) SessionID() string {
	return i.tr.SessionID()
}

// --- 送信操作 ---

// MoveCursor はカーソル移動を報告する。スロットリングを通して送信される。
func (i *Integration) MoveCursor(x, y float64) {
	i.cursors.Offer(x, y)
}

// sendCursor はスロットリング通過後のカーソル座標を送信する。
func (i *Integration) sendCursor(x, y float64) {
	if err := i.tr.Send(protocol.MsgCursorMove, protocol.CursorMovePayload{X: x, Y: y}); err != nil {
		i.logger.Warn("failed to send cursor position",
			slog.String("error", err.Error()),
		)
	}
}

// ChangeSelection はテキスト選択範囲の変更を報告する。
func (i *Integration) ChangeSelection(elementID string, start, end int) error {
	return i.tr.Send(protocol.MsgSelectionChange, protocol.SelectionChangePayload{
		ElementID: elementID,
		Start:     start,
		End:       end,
	})
}

// SubmitComponentChange はコンポーネント変更を送信する。
func (i *Integration) SubmitComponentChange(componentID string, changeType protocol.ChangeType, changes json.RawMessage) error {
	return i.tr.Send(protocol.MsgComponentChange, protocol.ChangeSubmitPayload{
		ProjectID:   i.currentProjectID(),
		ComponentID: componentID,
		ChangeType:  changeType,
		Changes:     changes,
	})
}

// SubmitStyleChange はスタイル変更を送信する。
func (i *Integration) SubmitStyleChange(changes json.RawMessage) error {
	return i.tr.Send(protocol.MsgStyleChange, protocol.ChangeSubmitPayload{
		ProjectID: i.currentProjectID(),
		Changes:   changes,
	})
}

// SubmitAnimationChange はアニメーション変更を送信する。
func (i *Integration) SubmitAnimationChange(changes json.RawMessage) error {
	return i.tr.Send(protocol.MsgAnimationChange, protocol.ChangeSubmitPayload{
		ProjectID: i.currentProjectID(),
		Changes:   changes,
	})
}

// SendChat はチャットメッセージを送信する。
// 表示名と色はサーバー側で参加者レコードから再導出される。
func (i *Integration) SendChat(content string) error {
	return i.tr.Send(protocol.MsgChat, protocol.ChatPayload{Content: content})
}

// SetVideoEnabled は映像フラグの変更を報告する。
func (i *Integration) SetVideoEnabled(enabled bool) error {
	return i.tr.Send(protocol.MsgVideoToggle, protocol.TogglePayload{Enabled: enabled})
}

// SetAudioEnabled は音声フラグの変更を報告する。
func (i *Integration) SetAudioEnabled(enabled bool) error {
	return i.tr.Send(protocol.MsgAudioToggle, protocol.TogglePayload{Enabled: enabled})
}

// SetScreenSharing は画面共有フラグの変更を報告する。
func (i *Integration) SetScreenSharing(enabled bool) error {
	return i.tr.Send(protocol.MsgScreenShareToggle, protocol.TogglePayload{Enabled: enabled})
}

// SetHandRaised は挙手フラグの変更を報告する。
func (i *Integration) SetHandRaised(raised bool) error {
	return i.tr.Send(protocol.MsgHandRaised, protocol.TogglePayload{Enabled: raised})
}

// ResolveConflict はコンフリクト解決を要求する。
func (i *Integration) ResolveConflict(conflictID string, resolution json.RawMessage) error {
	return i.tr.Send(protocol.MsgResolveConflict, protocol.ResolveConflictPayload{
		ConflictID: conflictID,
		Resolution: resolution,
	})
}

func (i *Integration) currentProjectID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.projectID
}

// --- 派生クエリ ---

// GetOnlineParticipants はオンラインの参加者をID順で返す。
func (i *Integration) GetOnlineParticipants() []protocol.Participant {
	i.mu.Lock()
	defer i.mu.Unlock()

	online := make([]protocol.Participant, 0, len(i.participants))
	for _, p := range i.participants {
		if p.IsOnline {
			online = append(online, *p)
		}
	}
	sort.Slice(online, func(a, b int) bool { return online[a].ID < online[b].ID })
	return online
}

// Changes は受信済みの変更履歴のコピーを返す。
func (i *Integration) Changes() []protocol.Change {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]protocol.Change, len(i.changes))
	copy(out, i.changes)
	return out
}

// CanEdit は現在のユーザーに編集権限があるかを返す。
// ローカルミラーのサーバー割り当てロールを読むだけで、送信の強制はしない
// （強制はサーバー側の変更受理時に行われる）。
func (i *Integration) CanEdit() bool { return i.selfPermissions().Edit }

// CanComment は現在のユーザーにコメント権限があるかを返す。
func (i *Integration) CanComment() bool { return i.selfPermissions().Comment }

// CanShare は現在のユーザーに共有権限があるかを返す。
func (i *Integration) CanShare() bool { return i.selfPermissions().Share }

// CanInvite は現在のユーザーに招待権限があるかを返す。
func (i *Integration) CanInvite() bool { return i.selfPermissions().Invite }

func (i *Integration) selfPermissions() protocol.Permissions {
	i.mu.Lock()
	defer i.mu.Unlock()

	if p, ok := i.participants[i.userID]; ok {
		return p.Permissions
	}
	return protocol.Permissions{}
}

// --- 受信処理 ---

// HandleEnvelope は受信メッセージをローカル状態ミラーに反映する。
// トランスポートの読み取りゴルーチンから呼ばれる。
func (i *Integration) HandleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.MsgSessionState:
		var payload protocol.SessionStatePayload
		if !i.decode(env, &payload) {
			return
		}
		i.mu.Lock()
		i.participants = make(map[string]*protocol.Participant, len(payload.Users))
		for idx := range payload.Users {
			p := payload.Users[idx]
			i.participants[p.ID] = &p
		}
		i.changes = payload.Changes
		i.mu.Unlock()

	case protocol.MsgUserJoined:
		var payload protocol.UserJoinedPayload
		if !i.decode(env, &payload) {
			return
		}
		i.mu.Lock()
		p := payload.User
		i.participants[p.ID] = &p
		i.mu.Unlock()

	case protocol.MsgUserLeft:
		var payload protocol.UserLeftPayload
		if !i.decode(env, &payload) {
			return
		}
		i.mu.Lock()
		delete(i.participants, payload.UserID)
		i.mu.Unlock()

	case protocol.MsgCursorUpdate:
		var payload protocol.CursorUpdatePayload
		if !i.decode(env, &payload) {
			return
		}
		i.updateParticipant(payload.UserID, func(p *protocol.Participant) {
			cursor := payload.Cursor
			p.Cursor = &cursor
		})

	case protocol.MsgSelectionUpdate:
		var payload protocol.SelectionUpdatePayload
		if !i.decode(env, &payload) {
			return
		}
		i.updateParticipant(payload.UserID, func(p *protocol.Participant) {
			selection := payload.Selection
			p.Selection = &selection
		})

	case protocol.MsgVideoToggle, protocol.MsgAudioToggle,
		protocol.MsgScreenShareToggle, protocol.MsgHandRaised:
		var payload protocol.TogglePayload
		if !i.decode(env, &payload) {
			return
		}
		i.updateParticipant(env.UserID, func(p *protocol.Participant) {
			switch env.Type {
			case protocol.MsgVideoToggle:
				p.VideoEnabled = payload.Enabled
			case protocol.MsgAudioToggle:
				p.AudioEnabled = payload.Enabled
			case protocol.MsgScreenShareToggle:
				p.ScreenSharing = payload.Enabled
			case protocol.MsgHandRaised:
				p.HandRaised = payload.Enabled
			}
		})

	case protocol.MsgComponentUpdated, protocol.MsgStylesUpdated, protocol.MsgAnimationsUpdated:
		var payload protocol.ChangeBroadcastPayload
		if !i.decode(env, &payload) {
			return
		}
		i.mu.Lock()
		i.changes = append(i.changes, protocol.Change{
			Type:        payload.ChangeType,
			ComponentID: payload.ComponentID,
			Data:        payload.Changes,
			Timestamp:   payload.Timestamp,
			UserID:      payload.UserID,
		})
		if len(i.changes) > changeMirrorLimit {
			i.changes = i.changes[len(i.changes)-changeMirrorLimit:]
		}
		i.mu.Unlock()

	case protocol.MsgRoleChanged:
		var payload protocol.RoleChangedPayload
		if !i.decode(env, &payload) {
			return
		}
		i.updateParticipant(payload.UserID, func(p *protocol.Participant) {
			p.Role = payload.Role
			p.Permissions = payload.Permissions
		})

	case protocol.MsgConflictResolved:
		var payload protocol.ConflictResolvedPayload
		if !i.decode(env, &payload) {
			return
		}
		i.logger.Info("conflict resolved",
			slog.String("conflict_id", payload.ConflictID),
			slog.String("resolved_by", payload.ResolvedBy),
			slog.Bool("fallback", payload.Fallback),
		)

	case protocol.MsgError:
		var payload protocol.ErrorPayload
		if !i.decode(env, &payload) {
			return
		}
		i.logger.Warn("server reported error",
			slog.String("message", payload.Message),
		)
	}
}

// updateParticipant はミラー内の参加者にfnを適用する。未知の参加者は無視する。
func (i *Integration) updateParticipant(userID string, fn func(p *protocol.Participant)) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if p, ok := i.participants[userID]; ok {
		fn(p)
	}
}

// decode はペイロードをデコードする。失敗時はログに残してfalseを返す。
func (i *Integration) decode(env protocol.Envelope, v any) bool {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		i.logger.Warn("failed to decode payload",
			slog.String("type", string(env.Type)),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

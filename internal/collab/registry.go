// Package collab はコラボレーションセッションのサーバー側中核を実装する。
// セッションの作成・参加・退出、プレゼンス中継、変更の永続化と配信を担う。
package collab

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/siteforge/collab/internal/changefeed"
	"github.com/siteforge/collab/internal/metrics"
	"github.com/siteforge/collab/internal/model"
	"github.com/siteforge/collab/internal/repository"
	"github.com/siteforge/collab/internal/security"
	"github.com/siteforge/collab/protocol"
)

// Sender はセッション内のソケットへの送信インターフェース。
// WebSocketハブが実装する。レジストリとハブの循環参照を避けるため、
// ハブ生成後にSetSenderで注入する。
type Sender interface {
	// Send は指定参加者のソケットにメッセージを送る。
	Send(sessionID, userID string, env protocol.Envelope)

	// Broadcast はセッション内の全ソケットにメッセージを送る。
	// excludeUserIDが空でない場合、そのユーザーを除外する。
	Broadcast(sessionID, excludeUserID string, env protocol.Envelope)

	// Kick は指定参加者の接続をルームから外して閉じる。
	Kick(sessionID, userID string)
}

// colorPalette は参加者カーソルの表示色。セッション参加時に擬似ランダムに割り当てる。
var colorPalette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
	"#FFEAA7", "#DDA0DD", "#98D8C8", "#F7DC6F",
}

// session は1プロジェクトに紐づくインメモリのセッション状態。
// レジストリのミューテックス保護下でのみ変更される。プロセス再起動で消失する。
type session struct {
	id           string
	projectID    string
	participants map[string]*protocol.Participant
	changeLog    []protocol.Change
	locked       bool
	lastActivity time.Time
	createdAt    time.Time
}

// SessionRegistry はセッション状態の単一の信頼できる情報源。
// 1プロセスに1インスタンスを明示的に生成して使用する。
type SessionRegistry struct {
	projects  repository.ProjectRepository
	users     repository.UserRepository
	feed      changefeed.Feed
	sanitizer security.ContentSanitizerService
	resolver  *Resolver
	collector metrics.MetricsCollector
	logger    *slog.Logger

	changeLogLimit int

	mu        sync.Mutex
	sessions  map[string]*session
	byProject map[string]string // projectID -> sessionID
	sender    Sender
}

// NewSessionRegistry は新しいSessionRegistryを生成する。
// senderはハブ生成後にSetSenderで注入すること。
func NewSessionRegistry(
	projects repository.ProjectRepository,
	users repository.UserRepository,
	feed changefeed.Feed,
	sanitizer security.ContentSanitizerService,
	resolver *Resolver,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	changeLogLimit int,
) *SessionRegistry {
	return &SessionRegistry{
		projects:       projects,
		users:          users,
		feed:           feed,
		sanitizer:      sanitizer,
		resolver:       resolver,
		collector:      collector,
		logger:         logger,
		changeLogLimit: changeLogLimit,
		sessions:       make(map[string]*session),
		byProject:      make(map[string]string),
	}
}

// SetSender は送信インターフェースを注入する。サーバー起動時に一度だけ呼ぶ。
func (r *SessionRegistry) SetSender(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sender = s
}

// Join はユーザーをセッションに参加させる。
// プロジェクトの所有者またはコラボレーターのみ参加でき、
// 認可に失敗した場合はレジストリの状態を一切変更しない。
// 成功時、他の参加者にuser_joinedを配信し、参加者本人にsession_state
// スナップショットを送る。
func (r *SessionRegistry) Join(ctx context.Context, sessionID, userID string, payload protocol.JoinPayload) error {
	// 認可と表示プロファイルの取得はレジストリに触れる前に行う
	project, err := r.projects.FindByID(ctx, payload.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to load project %s: %w", payload.ProjectID, err)
	}
	if project == nil {
		return model.NewProjectNotFoundError()
	}
	if !project.CanAccess(userID) {
		return model.NewAccessDeniedError()
	}

	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	// ロールはクライアント申告ではなくプロジェクトレコードから導出する
	role := protocol.RoleEditor
	if project.OwnerID == userID {
		role = protocol.RoleOwner
	} else if payload.Role == protocol.RoleViewer {
		role = protocol.RoleViewer
	}

	now := time.Now()

	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		sess = &session{
			id:           sessionID,
			projectID:    payload.ProjectID,
			participants: make(map[string]*protocol.Participant),
			lastActivity: now,
			createdAt:    now,
		}
		r.sessions[sessionID] = sess
		r.byProject[payload.ProjectID] = sessionID
	}

	// 再参加の場合は割り当て済みの色を維持する
	color := colorPalette[rand.Intn(len(colorPalette))]
	if existing, ok := sess.participants[userID]; ok {
		color = existing.Color
	}

	participant := &protocol.Participant{
		ID:          userID,
		Name:        user.Name,
		Email:       user.Email,
		Role:        role,
		Color:       color,
		IsOnline:    true,
		LastSeen:    now,
		Permissions: protocol.PermissionsForRole(role),
	}
	sess.participants[userID] = participant
	sess.lastActivity = now

	snapshot := r.snapshotLocked(sess)
	sender := r.sender
	r.updateGaugesLocked()
	r.mu.Unlock()

	if sender != nil {
		joined, err := protocol.NewEnvelope(protocol.MsgUserJoined, sessionID, userID,
			protocol.UserJoinedPayload{User: *participant})
		if err != nil {
			return err
		}
		sender.Broadcast(sessionID, userID, joined)

		state, err := protocol.NewEnvelope(protocol.MsgSessionState, sessionID, userID, snapshot)
		if err != nil {
			return err
		}
		sender.Send(sessionID, userID, state)
	}

	r.logger.Info("participant joined session",
		slog.String("session_id", sessionID),
		slog.String("user_id", userID),
		slog.String("project_id", payload.ProjectID),
		slog.String("role", string(role)),
	)
	return nil
}

// Leave はユーザーをセッションから退出させる。
// 最後の参加者が退出したセッションは削除される（空状態は永続化しない）。
func (r *SessionRegistry) Leave(sessionID, userID string) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := sess.participants[userID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(sess.participants, userID)
	sess.lastActivity = time.Now()

	empty := len(sess.participants) == 0
	if empty {
		delete(r.sessions, sessionID)
		delete(r.byProject, sess.projectID)
	}
	sender := r.sender
	r.updateGaugesLocked()
	r.mu.Unlock()

	if sender != nil && !empty {
		left, err := protocol.NewEnvelope(protocol.MsgUserLeft, sessionID, userID,
			protocol.UserLeftPayload{UserID: userID})
		if err == nil {
			sender.Broadcast(sessionID, userID, left)
		}
	}

	r.logger.Info("participant left session",
		slog.String("session_id", sessionID),
		slog.String("user_id", userID),
		slog.Bool("session_deleted", empty),
	)
}

// SessionInfo はセッションの現在状態を表すスナップショット。
type SessionInfo struct {
	ID           string                   `json:"id"`
	ProjectID    string                   `json:"projectId"`
	Participants []protocol.Participant   `json:"participants"`
	Changes      []protocol.Change        `json:"changes"`
	Locked       bool                     `json:"locked"`
	LastActivity time.Time                `json:"lastActivity"`
	CreatedAt    time.Time                `json:"createdAt"`
}

// Info はセッションのスナップショットを返す。
func (r *SessionRegistry) Info(sessionID string) (*SessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	snapshot := r.snapshotLocked(sess)
	return &SessionInfo{
		ID:           sess.id,
		ProjectID:    sess.projectID,
		Participants: snapshot.Users,
		Changes:      snapshot.Changes,
		Locked:       sess.locked,
		LastActivity: sess.lastActivity,
		CreatedAt:    sess.createdAt,
	}, nil
}

// SessionIDForProject はプロジェクトに対応するアクティブセッションのIDを返す。
func (r *SessionRegistry) SessionIDForProject(projectID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byProject[projectID]
	return id, ok
}

// SetLocked はセッションのロック状態を変更する。所有者のみ実行できる。
// ロック中のセッションはプレゼンス更新を受け付けるが、変更は拒否する。
func (r *SessionRegistry) SetLocked(sessionID, userID string, locked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return model.NewSessionNotFoundError(sessionID)
	}
	p, ok := sess.participants[userID]
	if !ok {
		return model.NewNotParticipantError(userID)
	}
	if p.Role != protocol.RoleOwner {
		return model.NewPermissionDeniedError("lock session")
	}
	sess.locked = locked
	sess.lastActivity = time.Now()
	return nil
}

// CloseIdleSessions は最終アクティビティからttl以上経過したセッションを削除し、
// 削除した件数を返す。リーパーから定期的に呼ばれる。
func (r *SessionRegistry) CloseIdleSessions(ttl time.Duration) int {
	now := time.Now()

	r.mu.Lock()
	var closed []string
	for id, sess := range r.sessions {
		if now.Sub(sess.lastActivity) > ttl {
			closed = append(closed, id)
			delete(r.sessions, id)
			delete(r.byProject, sess.projectID)
		}
	}
	sender := r.sender
	r.updateGaugesLocked()
	r.mu.Unlock()

	for _, id := range closed {
		if sender != nil {
			env, err := protocol.NewEnvelope(protocol.MsgError, id, "",
				protocol.ErrorPayload{Message: "Session closed due to inactivity"})
			if err == nil {
				sender.Broadcast(id, "", env)
			}
		}
		r.logger.Info("closed idle session", slog.String("session_id", id))
	}
	return len(closed)
}

// snapshotLocked は参加者リストと変更履歴のコピーを返す。要ロック保持。
func (r *SessionRegistry) snapshotLocked(sess *session) protocol.SessionStatePayload {
	users := make([]protocol.Participant, 0, len(sess.participants))
	for _, p := range sess.participants {
		users = append(users, *p)
	}
	changes := make([]protocol.Change, len(sess.changeLog))
	copy(changes, sess.changeLog)
	return protocol.SessionStatePayload{Users: users, Changes: changes}
}

// updateGaugesLocked はセッション数・参加者数ゲージを更新する。要ロック保持。
func (r *SessionRegistry) updateGaugesLocked() {
	total := 0
	for _, sess := range r.sessions {
		for _, p := range sess.participants {
			if p.IsOnline {
				total++
			}
		}
	}
	r.collector.SetActiveSessions(len(r.sessions))
	r.collector.SetActiveParticipants(total)
}

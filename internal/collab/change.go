package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/siteforge/collab/internal/changefeed"
	"github.com/siteforge/collab/internal/model"
	"github.com/siteforge/collab/protocol"
)

// changeRoute は変更メッセージの種別ごとの永続化先と配信イベントの対応。
type changeRoute struct {
	field       changefeed.Field
	broadcast   protocol.MessageType
	defaultType protocol.ChangeType
}

var changeRoutes = map[protocol.MessageType]changeRoute{
	protocol.MsgComponentChange: {changefeed.FieldComponents, protocol.MsgComponentUpdated, protocol.ChangeComponentUpdate},
	protocol.MsgStyleChange:     {changefeed.FieldStyles, protocol.MsgStylesUpdated, protocol.ChangeStyleUpdate},
	protocol.MsgAnimationChange: {changefeed.FieldAnimations, protocol.MsgAnimationsUpdated, protocol.ChangeComponentUpdate},
}

// ApplyChange は変更を永続化し、送信者以外の全参加者に配信する。
// 対象フィールドは完全上書きで更新されるため、同一変更の再適用は冪等。
// 配信順序はレジストリへの到着順（セッション単位のFIFO）。
//
// 永続化はロック外で行うため、書き込み中に退出やセッション削除が
// 割り込む可能性がある。書き込み後にセッションを再検証し、消えていた場合は
// 変更履歴への追記と配信を行わない（永続化済みの値はそのまま残る）。
func (r *SessionRegistry) ApplyChange(ctx context.Context, sessionID, userID string, msgType protocol.MessageType, payload protocol.ChangeSubmitPayload) error {
	route, ok := changeRoutes[msgType]
	if !ok {
		return model.NewInvalidMessageError("unknown change type: " + string(msgType))
	}

	r.mu.Lock()
	sess, found := r.sessions[sessionID]
	if !found {
		r.mu.Unlock()
		return model.NewSessionNotFoundError(sessionID)
	}
	p, found := sess.participants[userID]
	if !found {
		r.mu.Unlock()
		return model.NewNotParticipantError(userID)
	}
	// クライアント申告ではなく参加者レコードの権限で再検証する
	if !p.Permissions.Edit {
		r.mu.Unlock()
		return model.NewPermissionDeniedError("apply change")
	}
	if sess.locked {
		r.mu.Unlock()
		return model.NewSessionLockedError()
	}
	projectID := sess.projectID
	r.mu.Unlock()

	// 永続化はロック外で行う
	start := time.Now()
	if err := r.persistField(ctx, route.field, projectID, payload.Changes); err != nil {
		r.collector.RecordPersistFailure(string(route.field))
		r.logger.Error("failed to persist change",
			slog.String("session_id", sessionID),
			slog.String("user_id", userID),
			slog.String("field", string(route.field)),
			slog.String("error", err.Error()),
		)
		return model.NewPersistFailedError()
	}
	r.collector.RecordPersistLatency(time.Since(start))
	r.collector.RecordChangePersisted(string(route.field))

	now := time.Now()
	changeType := payload.ChangeType
	if !changeType.Valid() {
		changeType = route.defaultType
	}
	change := protocol.Change{
		ID:          uuid.NewString(),
		Type:        changeType,
		ComponentID: payload.ComponentID,
		Data:        payload.Changes,
		Timestamp:   now,
		UserID:      userID,
	}

	if err := r.feed.Publish(ctx, changefeed.Event{
		ProjectID: projectID,
		Field:     route.field,
		Payload:   payload.Changes,
		UserID:    userID,
		Timestamp: now,
	}); err != nil {
		// フィードは確認チャネルであり、失敗しても変更自体は成立している
		r.logger.Warn("failed to publish changefeed event",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
	}

	// 永続化中にセッションが消えていないか再検証する
	r.mu.Lock()
	sess, found = r.sessions[sessionID]
	if !found {
		r.mu.Unlock()
		return nil
	}
	if _, found := sess.participants[userID]; !found {
		r.mu.Unlock()
		return nil
	}
	sess.changeLog = append(sess.changeLog, change)
	if len(sess.changeLog) > r.changeLogLimit {
		sess.changeLog = sess.changeLog[len(sess.changeLog)-r.changeLogLimit:]
	}
	sess.lastActivity = now
	sender := r.sender
	r.mu.Unlock()

	if sender != nil {
		env, err := protocol.NewEnvelope(route.broadcast, sessionID, userID,
			protocol.ChangeBroadcastPayload{
				ComponentID: payload.ComponentID,
				ChangeType:  changeType,
				Changes:     payload.Changes,
				UserID:      userID,
				Timestamp:   now,
			})
		if err != nil {
			return err
		}
		// 送信者自身にはエコーしない
		sender.Broadcast(sessionID, userID, env)
	}
	r.collector.RecordMessageRelayed(string(msgType))
	return nil
}

// ResolveConflict は提出された解決案を外部マージにかけ、結果を永続化して
// 送信者を含む全参加者に配信する。他の参加者が必ず採用すべき
// 権威的な訂正であるため、通常の変更と異なり全員に配信する。
func (r *SessionRegistry) ResolveConflict(ctx context.Context, sessionID, userID string, payload protocol.ResolveConflictPayload) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return model.NewSessionNotFoundError(sessionID)
	}
	p, ok := sess.participants[userID]
	if !ok {
		r.mu.Unlock()
		return model.NewNotParticipantError(userID)
	}
	if !p.Permissions.Edit {
		r.mu.Unlock()
		return model.NewPermissionDeniedError("resolve conflict")
	}
	projectID := sess.projectID
	r.mu.Unlock()

	resolution, fallback := r.resolver.Resolve(ctx, payload.Resolution)
	outcome := "merged"
	if fallback {
		outcome = "fallback"
	}
	r.collector.RecordConflictResolution(outcome)

	if err := r.persistField(ctx, changefeed.FieldComponents, projectID, resolution); err != nil {
		r.collector.RecordPersistFailure(string(changefeed.FieldComponents))
		r.logger.Error("failed to persist conflict resolution",
			slog.String("session_id", sessionID),
			slog.String("conflict_id", payload.ConflictID),
			slog.String("error", err.Error()),
		)
		return model.NewPersistFailedError()
	}

	now := time.Now()
	r.mu.Lock()
	if sess, ok := r.sessions[sessionID]; ok {
		sess.lastActivity = now
	}
	sender := r.sender
	r.mu.Unlock()

	if sender != nil {
		env, err := protocol.NewEnvelope(protocol.MsgConflictResolved, sessionID, userID,
			protocol.ConflictResolvedPayload{
				ConflictID: payload.ConflictID,
				Resolution: resolution,
				ResolvedBy: userID,
				Timestamp:  now,
				Fallback:   fallback,
			})
		if err != nil {
			return err
		}
		sender.Broadcast(sessionID, "", env)
	}
	r.collector.RecordMessageRelayed(string(protocol.MsgResolveConflict))

	r.logger.Info("conflict resolved",
		slog.String("session_id", sessionID),
		slog.String("conflict_id", payload.ConflictID),
		slog.String("resolved_by", userID),
		slog.String("outcome", outcome),
	)
	return nil
}

// InviteUser はメールアドレスで指定したユーザーをプロジェクトの
// コラボレーターに追加する。招待権限が必要。
func (r *SessionRegistry) InviteUser(ctx context.Context, sessionID, userID, email string) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return model.NewSessionNotFoundError(sessionID)
	}
	p, ok := sess.participants[userID]
	if !ok {
		r.mu.Unlock()
		return model.NewNotParticipantError(userID)
	}
	if !p.Permissions.Invite {
		r.mu.Unlock()
		return model.NewPermissionDeniedError("invite user")
	}
	projectID := sess.projectID
	r.mu.Unlock()

	invitee, err := r.users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up user by email: %w", err)
	}
	if invitee == nil {
		return model.NewUserNotFoundError()
	}

	project, err := r.projects.FindByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	if project == nil {
		return model.NewProjectNotFoundError()
	}
	if project.CanAccess(invitee.ID) {
		return nil // 既に参加可能
	}

	collaborators := append(append([]string{}, project.Collaborators...), invitee.ID)
	if err := r.projects.UpdateCollaborators(ctx, projectID, collaborators); err != nil {
		return fmt.Errorf("failed to update collaborators: %w", err)
	}

	r.logger.Info("user invited to project",
		slog.String("project_id", projectID),
		slog.String("invited_user_id", invitee.ID),
		slog.String("invited_by", userID),
	)
	return nil
}

// ChangeRole は参加者のロールを変更し、全参加者にrole_changedを配信する。
// 所有者のみ実行でき、ownerロールの付与はできない。
func (r *SessionRegistry) ChangeRole(sessionID, userID string, payload protocol.ChangeRolePayload) error {
	if !payload.Role.Valid() || payload.Role == protocol.RoleOwner {
		return model.NewInvalidRoleError(string(payload.Role))
	}

	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return model.NewSessionNotFoundError(sessionID)
	}
	actor, ok := sess.participants[userID]
	if !ok {
		r.mu.Unlock()
		return model.NewNotParticipantError(userID)
	}
	if actor.Role != protocol.RoleOwner {
		r.mu.Unlock()
		return model.NewPermissionDeniedError("change role")
	}
	target, ok := sess.participants[payload.TargetUserID]
	if !ok {
		r.mu.Unlock()
		return model.NewNotParticipantError(payload.TargetUserID)
	}
	target.Role = payload.Role
	target.Permissions = protocol.PermissionsForRole(payload.Role)
	sess.lastActivity = time.Now()
	permissions := target.Permissions
	sender := r.sender
	r.mu.Unlock()

	if sender != nil {
		env, err := protocol.NewEnvelope(protocol.MsgRoleChanged, sessionID, userID,
			protocol.RoleChangedPayload{
				UserID:      payload.TargetUserID,
				Role:        payload.Role,
				Permissions: permissions,
			})
		if err != nil {
			return err
		}
		sender.Broadcast(sessionID, "", env)
	}
	return nil
}

// RemoveUser は参加者をセッションから強制退出させる。所有者のみ実行できる。
// 対象には退出理由を通知した上で接続を閉じ、以後のルーム配信を受け取らせない。
func (r *SessionRegistry) RemoveUser(sessionID, userID, targetUserID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return model.NewSessionNotFoundError(sessionID)
	}
	actor, ok := sess.participants[userID]
	if !ok {
		r.mu.Unlock()
		return model.NewNotParticipantError(userID)
	}
	if actor.Role != protocol.RoleOwner {
		r.mu.Unlock()
		return model.NewPermissionDeniedError("remove user")
	}
	if _, ok := sess.participants[targetUserID]; !ok {
		r.mu.Unlock()
		return model.NewNotParticipantError(targetUserID)
	}
	sender := r.sender
	r.mu.Unlock()

	// 切断前に対象本人へ通知する（user_leftは対象を除外して配信されるため）
	if sender != nil {
		env, err := protocol.NewEnvelope(protocol.MsgError, sessionID, userID,
			protocol.ErrorPayload{Message: "Removed from session"})
		if err == nil {
			sender.Send(sessionID, targetUserID, env)
		}
	}

	r.Leave(sessionID, targetUserID)

	if sender != nil {
		sender.Kick(sessionID, targetUserID)
	}

	r.logger.Info("participant removed from session",
		slog.String("session_id", sessionID),
		slog.String("removed_user_id", targetUserID),
		slog.String("removed_by", userID),
	)
	return nil
}

// persistField は対象フィールドを完全上書きで更新する。
func (r *SessionRegistry) persistField(ctx context.Context, field changefeed.Field, projectID string, value json.RawMessage) error {
	switch field {
	case changefeed.FieldComponents:
		return r.projects.UpdateComponents(ctx, projectID, value)
	case changefeed.FieldStyles:
		return r.projects.UpdateStyles(ctx, projectID, value)
	case changefeed.FieldAnimations:
		return r.projects.UpdateAnimations(ctx, projectID, value)
	default:
		return fmt.Errorf("unknown change field: %s", field)
	}
}

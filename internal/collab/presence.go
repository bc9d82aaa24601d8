package collab

import (
	"time"

	"github.com/siteforge/collab/internal/model"
	"github.com/siteforge/collab/protocol"
)

// プレゼンス系の操作は永続化されない。最新値が常に勝ち、
// 配信はat-most-once。ロック中のセッションでも受け付ける。

// UpdateCursor は参加者のカーソル位置を上書きし、他の参加者にcursor_updateを配信する。
func (r *SessionRegistry) UpdateCursor(sessionID, userID string, x, y float64) error {
	cursor := protocol.Cursor{X: x, Y: y}

	sender, err := r.touchParticipant(sessionID, userID, func(p *protocol.Participant) {
		p.Cursor = &cursor
	})
	if err != nil {
		return err
	}

	if sender != nil {
		env, err := protocol.NewEnvelope(protocol.MsgCursorUpdate, sessionID, userID,
			protocol.CursorUpdatePayload{UserID: userID, Cursor: cursor})
		if err != nil {
			return err
		}
		sender.Broadcast(sessionID, userID, env)
	}
	r.collector.RecordMessageRelayed(string(protocol.MsgCursorMove))
	return nil
}

// UpdateSelection は参加者の選択範囲を上書きし、他の参加者にselection_updateを配信する。
func (r *SessionRegistry) UpdateSelection(sessionID, userID string, sel protocol.Selection) error {
	sender, err := r.touchParticipant(sessionID, userID, func(p *protocol.Participant) {
		p.Selection = &sel
	})
	if err != nil {
		return err
	}

	if sender != nil {
		env, err := protocol.NewEnvelope(protocol.MsgSelectionUpdate, sessionID, userID,
			protocol.SelectionUpdatePayload{UserID: userID, Selection: sel})
		if err != nil {
			return err
		}
		sender.Broadcast(sessionID, userID, env)
	}
	r.collector.RecordMessageRelayed(string(protocol.MsgSelectionChange))
	return nil
}

// SetToggle は映像・音声・画面共有・挙手のフラグを更新し、そのまま他の参加者に中継する。
// サーバーはフラグを強制せず、UI表示用の広告的状態として扱う。
func (r *SessionRegistry) SetToggle(sessionID, userID string, msgType protocol.MessageType, enabled bool) error {
	var apply func(p *protocol.Participant)
	switch msgType {
	case protocol.MsgVideoToggle:
		apply = func(p *protocol.Participant) { p.VideoEnabled = enabled }
	case protocol.MsgAudioToggle:
		apply = func(p *protocol.Participant) { p.AudioEnabled = enabled }
	case protocol.MsgScreenShareToggle:
		apply = func(p *protocol.Participant) { p.ScreenSharing = enabled }
	case protocol.MsgHandRaised:
		apply = func(p *protocol.Participant) { p.HandRaised = enabled }
	default:
		return model.NewInvalidMessageError("unknown toggle type: " + string(msgType))
	}

	sender, err := r.touchParticipant(sessionID, userID, apply)
	if err != nil {
		return err
	}

	if sender != nil {
		env, err := protocol.NewEnvelope(msgType, sessionID, userID,
			protocol.TogglePayload{Enabled: enabled})
		if err != nil {
			return err
		}
		sender.Broadcast(sessionID, userID, env)
	}
	r.collector.RecordMessageRelayed(string(msgType))
	return nil
}

// Chat はチャットメッセージをサニタイズし、送信者を含む全参加者に配信する。
// コメント権限が必要。
func (r *SessionRegistry) Chat(sessionID, userID string, payload protocol.ChatPayload) error {
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
	if !p.Permissions.Comment {
		r.mu.Unlock()
		return model.NewPermissionDeniedError("send chat message")
	}
	p.LastSeen = time.Now()
	sess.lastActivity = p.LastSeen

	// 送信者情報は参加者レコードから再導出する
	payload.UserName = p.Name
	payload.UserColor = p.Color
	sender := r.sender
	r.mu.Unlock()

	payload.Content = r.sanitizer.Sanitize(payload.Content)
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	if sender != nil {
		env, err := protocol.NewEnvelope(protocol.MsgChat, sessionID, userID, payload)
		if err != nil {
			return err
		}
		sender.Broadcast(sessionID, "", env)
	}
	r.collector.RecordMessageRelayed(string(protocol.MsgChat))
	return nil
}

// Activity はlastSeenとセッションの最終アクティビティのみを更新する。
func (r *SessionRegistry) Activity(sessionID, userID string) error {
	_, err := r.touchParticipant(sessionID, userID, func(p *protocol.Participant) {})
	return err
}

// touchParticipant は参加者を検証してから更新関数を適用し、
// lastSeenとセッションの最終アクティビティを更新する。
func (r *SessionRegistry) touchParticipant(sessionID, userID string, apply func(p *protocol.Participant)) (Sender, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	p, ok := sess.participants[userID]
	if !ok {
		return nil, model.NewNotParticipantError(userID)
	}
	apply(p)
	p.LastSeen = time.Now()
	sess.lastActivity = p.LastSeen
	return r.sender, nil
}

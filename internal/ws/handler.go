package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/siteforge/collab/internal/middleware"
	"github.com/siteforge/collab/internal/model"
	"github.com/siteforge/collab/protocol"
)

// Registry はハンドラーが必要とするセッションレジストリの操作。
// collab.SessionRegistryが実装する。
type Registry interface {
	Join(ctx context.Context, sessionID, userID string, payload protocol.JoinPayload) error
	Leave(sessionID, userID string)
	UpdateCursor(sessionID, userID string, x, y float64) error
	UpdateSelection(sessionID, userID string, sel protocol.Selection) error
	SetToggle(sessionID, userID string, msgType protocol.MessageType, enabled bool) error
	Chat(sessionID, userID string, payload protocol.ChatPayload) error
	Activity(sessionID, userID string) error
	ApplyChange(ctx context.Context, sessionID, userID string, msgType protocol.MessageType, payload protocol.ChangeSubmitPayload) error
	ResolveConflict(ctx context.Context, sessionID, userID string, payload protocol.ResolveConflictPayload) error
	InviteUser(ctx context.Context, sessionID, userID, email string) error
	ChangeRole(sessionID, userID string, payload protocol.ChangeRolePayload) error
	RemoveUser(sessionID, userID, targetUserID string) error
}

// Handler はWebSocket接続の受付とメッセージディスパッチを行う。
type Handler struct {
	hub      *Hub
	registry Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler は新しいHandlerを生成する。
// allowedOriginが"*"の場合は全オリジンを許可する。
func NewHandler(hub *Hub, registry Registry, logger *slog.Logger, allowedOrigin string) *Handler {
	return &Handler{
		hub:      hub,
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
	}
}

// ServeHTTP は接続をWebSocketにアップグレードし、読み取りループを開始する。
// 認証済みユーザーIDはコンテキストから取得し、メッセージのuserIdより優先する。
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection",
			slog.String("error", err.Error()),
		)
		return
	}

	c := newClient(conn, h.logger)
	go c.writePump()

	h.readLoop(r.Context(), c, userID)
}

// readLoop は接続からメッセージを読み取り、種別ごとにレジストリへ委譲する。
// 切断時には未退出のセッションからの退出処理を行う。
func (h *Handler) readLoop(ctx context.Context, c *client, userID string) {
	var sessionID string
	joined := false

	defer func() {
		// unregisterが成功した場合のみこの接続が参加者本体。
		// 再接続で置き換えられた旧接続の後始末では退出させない。
		if joined && h.hub.unregister(sessionID, userID, c) {
			h.registry.Leave(sessionID, userID)
		}
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("connection closed unexpectedly",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendError(c, sessionID, userID, model.NewInvalidMessageError("malformed envelope"))
			continue
		}
		// クライアント申告のuserIdは信用しない
		env.UserID = userID

		switch env.Type {
		case protocol.MsgJoinSession:
			var payload protocol.JoinPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.sendError(c, env.SessionID, userID, model.NewInvalidMessageError("malformed join payload"))
				continue
			}
			id := env.SessionID
			if id == "" {
				id, err = protocol.NewSessionCode()
				if err != nil {
					h.sendError(c, "", userID, err)
					continue
				}
			}
			// 既に別セッションに参加中の場合は先に退出する
			if joined && sessionID != id {
				if h.hub.unregister(sessionID, userID, c) {
					h.registry.Leave(sessionID, userID)
				}
				joined = false
			}
			// session_stateスナップショットを受け取れるよう、参加前に登録する
			h.hub.register(id, userID, c)
			if err := h.registry.Join(ctx, id, userID, payload); err != nil {
				// 同一セッションへの再参加失敗時は既存の登録を維持する
				if !joined {
					h.hub.unregister(id, userID, c)
				}
				h.sendError(c, id, userID, err)
				continue
			}
			sessionID = id
			joined = true

		case protocol.MsgLeaveSession:
			if joined {
				if h.hub.unregister(sessionID, userID, c) {
					h.registry.Leave(sessionID, userID)
				}
				joined = false
			}

		case protocol.MsgCursorMove:
			var payload protocol.CursorMovePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.sendError(c, sessionID, userID, model.NewInvalidMessageError("malformed cursor payload"))
				continue
			}
			if err := h.registry.UpdateCursor(env.SessionID, userID, payload.X, payload.Y); err != nil {
				h.sendError(c, env.SessionID, userID, err)
			}

		case protocol.MsgSelectionChange:
			var payload protocol.SelectionChangePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.sendError(c, sessionID, userID, model.NewInvalidMessageError("malformed selection payload"))
				continue
			}
			sel := protocol.Selection{ElementID: payload.ElementID, Start: payload.Start, End: payload.End}
			if err := h.registry.UpdateSelection(env.SessionID, userID, sel); err != nil {
				h.sendError(c, env.SessionID, userID, err)
			}

		case protocol.MsgComponentChange, protocol.MsgStyleChange, protocol.MsgAnimationChange:
			var payload protocol.ChangeSubmitPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.sendError(c, sessionID, userID, model.NewInvalidMessageError("malformed change payload"))
				continue
			}
			if err := h.registry.ApplyChange(ctx, env.SessionID, userID, env.Type, payload); err != nil {
				h.sendError(c, env.SessionID, userID, err)
			}

		case protocol.MsgChat:
			var payload protocol.ChatPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.sendError(c, sessionID, userID, model.NewInvalidMessageError("malformed chat payload"))
				continue
			}
			if err := h.registry.Chat(env.SessionID, userID, payload); err != nil {
				h.sendError(c, env.SessionID, userID, err)
			}

		case protocol.MsgActivity:
			if err := h.registry.Activity(env.SessionID, userID); err != nil {
				h.sendError(c, env.SessionID, userID, err)
			}

		case protocol.MsgVideoToggle, protocol.MsgAudioToggle,
			protocol.MsgScreenShareToggle, protocol.MsgHandRaised:
			var payload protocol.TogglePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.sendError(c, sessionID, userID, model.NewInvalidMessageError("malformed toggle payload"))
				continue
			}
			if err := h.registry.SetToggle(env.SessionID, userID, env.Type, payload.Enabled); err != nil {
				h.sendError(c, env.SessionID, userID, err)
			}

		case protocol.MsgResolveConflict:
			var payload protocol.ResolveConflictPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.sendError(c, sessionID, userID, model.NewInvalidMessageError("malformed conflict payload"))
				continue
			}
			if err := h.registry.ResolveConflict(ctx, env.SessionID, userID, payload); err != nil {
				h.sendError(c, env.SessionID, userID, err)
			}

		case protocol.MsgInviteUser:
			var payload protocol.InviteUserPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.sendError(c, sessionID, userID, model.NewInvalidMessageError("malformed invite payload"))
				continue
			}
			if err := h.registry.InviteUser(ctx, env.SessionID, userID, payload.Email); err != nil {
				h.sendError(c, env.SessionID, userID, err)
			}

		case protocol.MsgChangeRole:
			var payload protocol.ChangeRolePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.sendError(c, sessionID, userID, model.NewInvalidMessageError("malformed role payload"))
				continue
			}
			if err := h.registry.ChangeRole(env.SessionID, userID, payload); err != nil {
				h.sendError(c, env.SessionID, userID, err)
			}

		case protocol.MsgRemoveUser:
			var payload protocol.RemoveUserPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.sendError(c, sessionID, userID, model.NewInvalidMessageError("malformed remove payload"))
				continue
			}
			if err := h.registry.RemoveUser(env.SessionID, userID, payload.TargetUserID); err != nil {
				h.sendError(c, env.SessionID, userID, err)
			}

		default:
			h.sendError(c, sessionID, userID, model.NewInvalidMessageError("unknown type: "+string(env.Type)))
		}
	}
}

// sendError はエラーを原因ソケットにのみ送る。他の参加者には伝播しない。
func (h *Handler) sendError(c *client, sessionID, userID string, err error) {
	message := "internal error"
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		message = apiErr.Message
	} else {
		h.logger.Error("internal error on websocket message",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	env, encErr := protocol.NewEnvelope(protocol.MsgError, sessionID, userID,
		protocol.ErrorPayload{Message: message})
	if encErr != nil {
		return
	}
	c.enqueue(env)
}

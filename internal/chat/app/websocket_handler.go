package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	errprocess "chat_sync_service/pkg/err"
	"chat_sync_service/pkg/logger"
	"chat_sync_service/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChatWebsocketHandler 每個連線建立一個 ChatSession
type ChatWebsocketHandler struct {
	deps         Dependencies
	pingInterval time.Duration
	sendLimit    rate.Limit
	sendBurst    int
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(deps Dependencies) *ChatWebsocketHandler {
	deps.Config.Normalize()
	return &ChatWebsocketHandler{
		deps:         deps,
		pingInterval: deps.Config.Websocket.PingInterval,
		sendLimit:    rate.Limit(deps.Config.RateLimit.RPS),
		sendBurst:    deps.Config.RateLimit.Burst,
	}
}

// wsClient one connection: its session, send limiter and serialized writes
type wsClient struct {
	conn     *websocket.Conn
	memberID string
	session  *ChatSession
	limiter  *rate.Limiter

	writeMu sync.Mutex
}

// HandleConnection 是 WebSocket 連線的進入點
func (h *ChatWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	memberID, _ := conn.Locals(middlewares.TokenMemberID).(string)
	displayName, _ := conn.Locals(middlewares.TokenDisplayName).(string)
	if memberID == "" {
		closeWebSocketConnection(conn, websocket.ClosePolicyViolation, "missing member id")
		return
	}
	logger.Log.Info("websocket handle memberID", zap.String("userID", memberID))

	client := &wsClient{
		conn:     conn,
		memberID: memberID,
		session:  NewChatSession(h.deps, domain.LocalUser{ID: memberID, DisplayName: displayName}),
		limiter:  rate.NewLimiter(h.sendLimit, h.sendBurst),
	}

	ticker := time.NewTicker(h.pingInterval)
	ctxClose, cancel := context.WithCancel(ctx)

	defer func() {
		ticker.Stop()
		cancel()
		client.session.Unmount()
		logger.Log.Info("websocket close", zap.String("userID", memberID))
		conn.Close()
	}()

	//client發出close
	//fiber會自動處理(在read msg 回傳err),故需要SetCloseHandler另外接出
	conn.SetCloseHandler(func(code int, text string) error {
		logger.Log.Debug("websocket closed by client", zap.String("userID", memberID), zap.Int("code", code))
		return nil
	})

	//server發出ping之後client連線正常會回pong
	conn.SetPongHandler(func(appData string) error {
		logger.Log.Debug("received pong", zap.String("userID", memberID))
		return nil
	})

	//client發出ping
	conn.SetPingHandler(func(appData string) error {
		client.writeMu.Lock()
		defer client.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	// store 有變動就推送給前端
	client.session.Store.OnChange(client.push)

	// 定期發送 Ping
	go func() {
		for {
			select {
			case <-ticker.C:
				client.writeMu.Lock()
				err := conn.WriteMessage(websocket.PingMessage, []byte("ping message"))
				client.writeMu.Unlock()
				if err != nil {
					logger.Log.Error("ping error", zap.String("userID", memberID), zap.Error(err))
					return
				}
			case <-ctxClose.Done():
				return
			}
		}
	}()

	if _, err := client.session.Mount(ctxClose); err != nil {
		client.sendResponse(domain.WSResponse{Action: string(domain.NotifyConversations), Error: err.Error()})
	}

	for {
		// 1. 讀取前端訊息
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Info("connection closed", zap.String("userID", memberID))
			} else {
				//直接斷線 1006
				logger.Log.Error("websocket read error", zap.String("userID", memberID), zap.Error(err))
			}
			return
		}
		h.execWebsocketAction(ctxClose, client, mt, message)
	}
}

func (h *ChatWebsocketHandler) execWebsocketAction(ctx context.Context, client *wsClient, mt int, msg []byte) {
	switch mt {
	case websocket.TextMessage:
		h.textMessageAction(ctx, client, msg)
	default:
		client.sendError("unsupported message type")
	}
}

func (h *ChatWebsocketHandler) textMessageAction(ctx context.Context, client *wsClient, msg []byte) {
	var req domain.WSRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		client.sendError("invalid request")
		return
	}

	session := client.session
	resp := domain.WSResponse{Action: req.Action, Success: false, Payload: map[string]interface{}{}}
	var err error

	switch domain.Action(req.Action) {
	case domain.ListConversations:
		var list []domain.Conversation
		if list, err = session.Conversations.FetchConversations(ctx); err == nil {
			resp.Payload["conversations"] = list
		}

	case domain.OpenConversation:
		var msgs []domain.Message
		if msgs, err = session.OpenConversation(ctx, req.ConversationID); err == nil {
			resp.Payload["conversation_id"] = req.ConversationID
			resp.Payload["messages"] = msgs
		}

	case domain.CloseConversation:
		session.CloseConversation(req.ConversationID)
		resp.Payload["conversation_id"] = req.ConversationID

	case domain.CreateConversation:
		var c *domain.Conversation
		c, err = session.Conversations.CreateConversation(ctx, req.Members, req.IsGroup)
		if c != nil {
			// partial write still reports the orphaned id
			resp.Payload["conversation_id"] = c.ID
			resp.Payload["conversation"] = c
		}

	case domain.StartDirect:
		var c *domain.Conversation
		if c, err = session.Conversations.StartDirectConversation(ctx, req.PeerID); err == nil {
			resp.Payload["conversation_id"] = c.ID
			resp.Payload["conversation"] = c
		}

	//傳送訊息, 先寫入 store 再寫入 db
	case domain.SendMessage:
		if !client.limiter.Allow() {
			err = errprocess.New(domain.ErrValidation, "send message", "rate limit exceeded")
			break
		}
		var m domain.Message
		m, err = session.Messages.SendMessage(ctx, req.ConversationID, req.Content)
		if !m.ID.IsZero() {
			resp.Payload["message"] = m
		}

	case domain.ResendMessage:
		if !client.limiter.Allow() {
			err = errprocess.New(domain.ErrValidation, "resend message", "rate limit exceeded")
			break
		}
		id, ok := domain.ParseTemporaryID(req.MessageID)
		if !ok {
			err = errprocess.New(domain.ErrValidation, "resend message", "not a local message id")
			break
		}
		var m domain.Message
		m, err = session.Messages.ResendFailed(ctx, req.ConversationID, id)
		if !m.ID.IsZero() {
			resp.Payload["message"] = m
		}

	//讀取訊息  將未讀訊息改為已讀
	case domain.ReadMessage:
		err = session.Conversations.MarkConversationRead(ctx, req.ConversationID)
		resp.Payload["conversation_id"] = req.ConversationID

	//進入聊天室
	case domain.EnterRoom:
		var bots []domain.BotParticipant
		if bots, err = session.EnterRoom(ctx, req.RoomID, req.TopicID); err == nil {
			resp.Payload["room_id"] = req.RoomID
			resp.Payload["bots"] = bots
			resp.Payload["messages"] = session.Store.Messages(req.RoomID)
		}

	//離開聊天室
	case domain.LeaveRoom:
		session.LeaveRoom(req.RoomID)
		resp.Payload["room_id"] = req.RoomID

	default:
		client.sendError(errprocess.Set("unknown action " + req.Action).Error())
		return
	}

	if err != nil {
		resp.Error = err.Error()
		if f, ok := errprocess.As(err); ok {
			resp.Payload["error_kind"] = f.Kind.Error()
		}
		logger.Log.Error("websocket err", zap.String("MemberID", client.memberID), zap.String("Action", req.Action), zap.Error(err))
	} else {
		resp.Success = true
	}
	client.sendResponse(resp)
}

// push read model of the changed conversation, or the list
func (c *wsClient) push(conversationID string) {
	store := c.session.Store
	resp := domain.WSResponse{Success: true, Payload: map[string]interface{}{}}
	if conversationID == ListKey {
		resp.Action = string(domain.NotifyConversations)
		resp.Payload["conversations"] = store.ListConversations()
		resp.Payload["loading"] = store.Loading(ListKey)
	} else {
		resp.Action = string(domain.NotifyMessages)
		resp.Payload["conversation_id"] = conversationID
		resp.Payload["messages"] = store.Messages(conversationID)
		resp.Payload["loading"] = store.Loading(conversationID)
	}
	if err := store.Error(conversationID); err != nil {
		resp.Payload["error"] = err.Error()
	}
	c.sendResponse(resp)
}

// sendResponse - 發送 JSON 給前端
func (c *wsClient) sendResponse(resp domain.WSResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		logger.Log.Error("marshal response error", zap.Error(err))
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		logger.Log.Debug("write message error", zap.String("userID", c.memberID), zap.Error(err))
	}
}

func (c *wsClient) sendError(errorMsg string) {
	c.sendResponse(domain.WSResponse{
		Action:  "error",
		Success: false,
		Error:   errorMsg,
	})
}

func closeWebSocketConnection(conn *websocket.Conn, code int, reason string) {
	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)); err != nil {
		logger.Log.Error("failed to send CloseMessage", zap.Error(err))
	}
	conn.Close()
}

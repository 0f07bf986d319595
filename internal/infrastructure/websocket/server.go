package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"gasfeed/internal/application/session"
	"gasfeed/internal/domain"
	"gasfeed/internal/infrastructure/config"
)

const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgBlockUpdate = "blockUpdate"
	msgAck         = "ack"
	msgError       = "error"
)

// Sessions 连接生命周期（由 session.Manager 实现）
type Sessions interface {
	Open(ctx context.Context, token string, transport session.Transport) (*session.Connection, error)
	Subscribe(ctx context.Context, connID string, topic domain.Topic) error
	Unsubscribe(ctx context.Context, connID string, topic domain.Topic) error
	SendSnapshot(ctx context.Context, connID string, topic domain.Topic) error
	InvalidateCache(ctx context.Context, connID, network string) error
	Close(connID string, reason session.CloseReason)
}

type clientMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Network   string `json:"network"`
	SubjectID string `json:"subjectId"`
}

type ackMessage struct {
	Type  string       `json:"type"`
	ID    string       `json:"id,omitempty"`
	Topic domain.Topic `json:"topic"`
}

type errorMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// Server 处理 /v1/ws 升级与入站订阅协议
type Server struct {
	cfg      config.WSConfig
	sessions Sessions
	upgrader websocket.Upgrader
}

func NewServer(cfg config.WSConfig, sessions Sessions) *Server {
	s := &Server{cfg: cfg, sessions: sessions}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回 HTTP 错误
		log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("ws upgrade failed")
		return
	}

	t := newTransport(conn, s.cfg.SendBuffer, s.cfg.WriteTimeout, s.cfg.PingInterval)
	go t.writePump()

	ctx := r.Context()
	c, err := s.sessions.Open(ctx, token, t)
	if err != nil {
		// Open 已通过 transport 发送 1008 关闭帧
		return
	}
	defer s.sessions.Close(c.ID, session.CloseNormal)

	s.readPump(ctx, c.ID, conn, t)
}

func (s *Server) readPump(ctx context.Context, connID string, conn *websocket.Conn, t *transport) {
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MessageRate), s.cfg.MessageBurst)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("conn_id", connID).Msg("ws read failed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.reply(t, connID, errorMessage{Type: msgError, Error: "malformed message"})
			continue
		}
		if !limiter.Allow() {
			s.reply(t, connID, errorMessage{Type: msgError, ID: msg.ID, Error: "rate limit exceeded"})
			continue
		}
		s.handle(ctx, connID, t, msg)
	}
}

func (s *Server) handle(ctx context.Context, connID string, t *transport, msg clientMessage) {
	topic := domain.Topic{
		Network:   strings.ToLower(strings.TrimSpace(msg.Network)),
		SubjectID: strings.TrimSpace(msg.SubjectID),
	}

	switch msg.Type {
	case msgSubscribe:
		if err := s.sessions.Subscribe(ctx, connID, topic); err != nil {
			s.reply(t, connID, errorMessage{Type: msgError, ID: msg.ID, Error: err.Error()})
			return
		}
		s.reply(t, connID, ackMessage{Type: msgAck, ID: msg.ID, Topic: topic})
		if err := s.sessions.SendSnapshot(ctx, connID, topic); err != nil {
			log.Debug().Err(err).Str("conn_id", connID).Str("topic", topic.String()).Msg("snapshot skipped")
		}

	case msgUnsubscribe:
		if err := s.sessions.Unsubscribe(ctx, connID, topic); err != nil {
			s.reply(t, connID, errorMessage{Type: msgError, ID: msg.ID, Error: err.Error()})
			return
		}
		s.reply(t, connID, ackMessage{Type: msgAck, ID: msg.ID, Topic: topic})

	case msgBlockUpdate:
		if err := s.sessions.InvalidateCache(ctx, connID, topic.Network); err != nil {
			s.reply(t, connID, errorMessage{Type: msgError, ID: msg.ID, Error: err.Error()})
			return
		}
		s.reply(t, connID, ackMessage{Type: msgAck, ID: msg.ID, Topic: domain.Topic{Network: topic.Network}})

	default:
		s.reply(t, connID, errorMessage{Type: msgError, ID: msg.ID, Error: "unknown message type " + msg.Type})
	}
}

func (s *Server) reply(t *transport, connID string, msg any) {
	if err := t.Send(msg); err != nil {
		log.Debug().Err(err).Str("conn_id", connID).Msg("reply dropped")
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// bearerToken 优先 Authorization 头，其次 ?token=
func bearerToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return h
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

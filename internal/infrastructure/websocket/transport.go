package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"gasfeed/internal/application/session"
	"gasfeed/internal/domain"
)

// transport 单条连接的出站队列；只有 writePump 写 conn
type transport struct {
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	once         sync.Once
	reason       session.CloseReason
	writeTimeout time.Duration
	pingInterval time.Duration
}

var _ session.Transport = (*transport)(nil)

func newTransport(conn *websocket.Conn, buffer int, writeTimeout, pingInterval time.Duration) *transport {
	return &transport{
		conn:         conn,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
}

// Send 非阻塞入队；缓冲区满返回 ErrSlowConsumer
func (t *transport) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-t.done:
		return domain.ErrConnectionClosed
	default:
	}

	select {
	case t.send <- data:
		return nil
	default:
		return domain.ErrSlowConsumer
	}
}

// Close 通知 writePump 发送关闭帧；可重复调用
func (t *transport) Close(reason session.CloseReason) error {
	t.once.Do(func() {
		t.reason = reason
		close(t.done)
	})
	return nil
}

func (t *transport) writePump() {
	ticker := time.NewTicker(t.pingInterval)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case data := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Msg("ws write failed")
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-t.done:
			t.flush()
			msg := websocket.FormatCloseMessage(t.reason.Code, t.reason.Text)
			_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeTimeout))
			return
		}
	}
}

// flush 关闭前把已入队的消息写完（例如认证失败前的回复）
func (t *transport) flush() {
	for {
		select {
		case data := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

package stream

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/roomsync/internal/conversations"
	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/room"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

type Service interface {
	Room() *room.Controller
	OnRoomChange(fn func(room.View)) func()
	Conversations() *conversations.Synchronizer
}

type Handler struct {
	service  Service
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler accepts any origin when allowedOrigins is empty or contains "*".
func NewHandler(service Service, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
					return true
				}
				return slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// StreamHandler pushes room views and conversation lists to a local UI.
// Only the latest snapshot of each kind is kept, so a slow reader skips
// intermediate states instead of blocking the engine.
func (h *Handler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("stream upgrade failed", zap.Error(err))
		return
	}

	c := newClient(conn)
	convs := h.service.Conversations()

	c.pushRoom(h.service.Room().View())
	list, _ := convs.Summaries()
	c.pushConversations(list)

	unsubRoom := h.service.OnRoomChange(c.pushRoom)
	unsubConvs := convs.OnChange(c.pushConversations)
	defer func() {
		unsubRoom()
		unsubConvs()
		c.close()
		_ = conn.Close()
	}()

	go c.readLoop()

	if err := c.writeLoop(); err != nil {
		h.logger.Debug("stream closed", zap.Error(err))
	}
}

type client struct {
	conn *websocket.Conn

	mu    sync.Mutex
	room  *frame
	convs *frame

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (c *client) pushRoom(v room.View) {
	c.mu.Lock()
	c.room = &frame{Type: roomFrame, Data: v}
	c.mu.Unlock()
	c.signal()
}

func (c *client) pushConversations(list []domain.ConversationSummary) {
	c.mu.Lock()
	c.convs = &frame{Type: conversationsFrame, Data: list}
	c.mu.Unlock()
	c.signal()
}

func (c *client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *client) take() []*frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*frame
	if c.room != nil {
		out = append(out, c.room)
		c.room = nil
	}
	if c.convs != nil {
		out = append(out, c.convs)
		c.convs = nil
	}
	return out
}

func (c *client) readLoop() {
	defer c.close()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writeLoop() error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.wake:
			for _, f := range c.take() {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteJSON(f); err != nil {
					return err
				}
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return nil
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// connWrapper serialises writes; gorilla allows one concurrent writer.
type connWrapper struct {
	conn  Conn
	mutex sync.Mutex
	once  sync.Once
	done  chan struct{}
}

func newConnWrapper(c Conn) *connWrapper {
	return &connWrapper{conn: c, done: make(chan struct{})}
}

func (w *connWrapper) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *connWrapper) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

// Close is safe to call more than once.
func (w *connWrapper) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		err = w.conn.Close()
	})
	return err
}

func (w *connWrapper) Done() <-chan struct{} {
	return w.done
}

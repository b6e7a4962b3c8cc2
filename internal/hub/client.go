package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	shutdownGrace  = 2 * time.Second // close frame write after the hub drops a connection
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Command is a client request over the socket.
type Command struct {
	Action string `json:"action"` // join, leave, ping
	Topic  string `json:"topic,omitempty"`
}

// ServeWS upgrades the request and runs the connection until either side
// closes it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c, err := h.Register(uuid.NewString())
	if err != nil {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()), time.Now().Add(writeWait))
		ws.Close()
		return
	}
	h.logger.Debug("websocket connected", "conn_id", c.ID, "remote", r.RemoteAddr)

	go h.writePump(ws, c)
	h.readPump(ws, c)
}

func (h *Hub) readPump(ws *websocket.Conn, c *Conn) {
	defer func() {
		h.OnDisconnect(c.ID)
		ws.Close()
		h.logger.Debug("websocket disconnected", "conn_id", c.ID)
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "conn_id", c.ID, "error", err)
			}
			return
		}
		h.handleCommand(c, data)
	}
}

func (h *Hub) handleCommand(c *Conn, data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.reply(c, Event{Type: EventError, Data: "malformed command"})
		return
	}

	switch cmd.Action {
	case "join":
		if err := h.Subscribe(c.ID, cmd.Topic); err != nil {
			h.reply(c, Event{Type: EventError, Topic: cmd.Topic, Data: err.Error()})
			return
		}
		h.reply(c, Event{Type: "joined", Topic: cmd.Topic})
	case "leave":
		if err := h.Unsubscribe(c.ID, cmd.Topic); err != nil {
			h.reply(c, Event{Type: EventError, Topic: cmd.Topic, Data: err.Error()})
			return
		}
		h.reply(c, Event{Type: "left", Topic: cmd.Topic})
	case "ping":
		h.reply(c, Event{Type: EventPong})
	default:
		h.reply(c, Event{Type: EventError, Data: "unknown action " + cmd.Action})
	}
}

func (h *Hub) reply(c *Conn, ev Event) {
	ev.Timestamp = h.clock.Now()
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if !c.trySend(msg) {
		h.metrics.HubEventsDropped.Inc()
	}
}

func (h *Hub) writePump(ws *websocket.Conn, c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send():
			if !ok {
				ws.SetWriteDeadline(time.Now().Add(shutdownGrace))
				ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

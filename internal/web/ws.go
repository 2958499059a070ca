package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/FocusGo/internal/logic/rig"
)

// Websocket frames are JSON arrays: [type, payload].
const (
	wsTypeSerial       = "serial"
	wsTypeEvent        = "event"
	wsTypeError        = "error"
	wsTypeSerialStatus = "get_serial_status"
	wsTypeConnected    = "connect_success"

	wsMaxMessageBytes = 64 * 1024
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingPeriod      = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsClient is one websocket connection. Only writePump writes to conn.
type wsClient struct {
	conn *websocket.Conn
	send chan interface{}
	done chan struct{}
	once sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan interface{}, 64),
		done: make(chan struct{}),
	}
}

// Send queues a frame. A full queue drops the frame.
func (c *wsClient) Send(msgType string, payload interface{}) {
	select {
	case c.send <- []interface{}{msgType, payload}:
	case <-c.done:
	default:
		log.Printf("web: dropping %s frame (client queue full)", msgType)
	}
}

func (c *wsClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) readPump(handle func(c *wsClient, data []byte)) {
	defer c.Close()

	c.conn.SetReadLimit(wsMaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("web: websocket read error: %v", err)
			}
			return
		}
		handle(c, message)
	}
}

func (c *wsClient) writePump(events <-chan string) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}

		case evt, ok := <-events:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			frame := []interface{}{wsTypeEvent, json.RawMessage(evt)}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// HandleWebSocket handles GET /ws. Incoming ["serial", Command] frames are
// dispatched to the rig and answered with ["serial", Reply]; broadcaster
// events are pushed as ["event", Event].
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the upgrade so no event is missed once the client
	// sees the handshake complete.
	events, unsub := h.Events.Subscribe()
	defer unsub()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}

	c := newWSClient(conn)
	go c.writePump(events)
	c.readPump(h.handleWSMessage)
}

func (h *Handlers) handleWSMessage(c *wsClient, data []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || len(frame) != 2 {
		c.Send(wsTypeError, map[string]string{"error": "expected a [type, payload] array"})
		return
	}
	var msgType string
	if err := json.Unmarshal(frame[0], &msgType); err != nil {
		c.Send(wsTypeError, map[string]string{"error": "frame type must be a string"})
		return
	}

	switch msgType {
	case wsTypeSerialStatus:
		c.Send(wsTypeConnected, map[string]string{"device": "local"})
	case wsTypeSerial:
		if h.Rig == nil {
			c.Send(wsTypeError, map[string]string{"error": "rig not configured"})
			return
		}
		var cmd rig.Command
		if err := json.Unmarshal(frame[1], &cmd); err != nil {
			c.Send(wsTypeSerial, rig.Reply{Error: fmt.Sprintf("invalid command: %v", err)})
			return
		}
		c.Send(wsTypeSerial, h.Rig.Dispatch(cmd))
	default:
		c.Send(wsTypeError, map[string]string{"error": fmt.Sprintf("unknown frame type %q", msgType)})
	}
}

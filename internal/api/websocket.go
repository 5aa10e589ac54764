package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = maxBodyBytes
)

// Frame types on the WebSocket bridge.
const (
	FrameMessage  = "message"
	FramePresence = "presence"
	FrameReply    = "reply"
	FrameIgnored  = "ignored"
	FrameError    = "error"
)

// wsInbound is a client frame. Message fields are used for "message"
// frames, Presence for "presence" frames.
type wsInbound struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"` // echoed on the response frame
	MessageRequest
	Presence *PresenceUpdate `json:"presence,omitempty"`
}

// wsOutbound is a server frame.
type wsOutbound struct {
	Type  string           `json:"type"`
	ID    string           `json:"id,omitempty"`
	Reply *MessageResponse `json:"reply,omitempty"`
	Error string           `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Adapters send no Origin; browsers must be same-origin.
	CheckOrigin: func(r *http.Request) bool {
		return r.Header.Get("Origin") == "" || sameOrigin(r)
	},
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// wsConn serializes writes to one client.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(f wsOutbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(f)
}

// handleWebSocket bridges a chat adapter. Each message frame is a turn.
// Turns run concurrently and replies echo the frame id.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn}
	log := s.logger.With("remote", r.RemoteAddr)
	log.Info("websocket client connected")

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Turns outlive a dropped socket; only the reply is lost.
	ctx := context.WithoutCancel(r.Context())

	var turns sync.WaitGroup
	stopPing := make(chan struct{})
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	defer func() {
		close(stopPing)
		<-pingDone
		turns.Wait()
		log.Info("websocket client disconnected")
	}()

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended", "error", err)
			}
			return
		}

		switch in.Type {
		case FrameMessage, "":
			turns.Add(1)
			go func() {
				defer turns.Done()
				s.wsTurn(ctx, c, in)
			}()

		case FramePresence:
			s.wsPresence(c, in)

		default:
			s.wsSend(c, wsOutbound{Type: FrameError, ID: in.ID, Error: "unknown frame type " + in.Type})
		}
	}
}

func (s *Server) wsTurn(ctx context.Context, c *wsConn, in wsInbound) {
	resp, handled, err := s.converse(ctx, in.MessageRequest)
	switch {
	case err != nil:
		s.wsSend(c, wsOutbound{Type: FrameError, ID: in.ID, Error: err.Error()})
	case !handled:
		s.wsSend(c, wsOutbound{Type: FrameIgnored, ID: in.ID})
	default:
		s.wsSend(c, wsOutbound{Type: FrameReply, ID: in.ID, Reply: &resp})
	}
}

func (s *Server) wsPresence(c *wsConn, in wsInbound) {
	s.mu.RLock()
	t := s.presence
	s.mu.RUnlock()

	switch {
	case t == nil:
		s.wsSend(c, wsOutbound{Type: FrameError, ID: in.ID, Error: "presence not configured"})
	case in.Presence == nil:
		s.wsSend(c, wsOutbound{Type: FrameError, ID: in.ID, Error: "presence frame without presence"})
	default:
		if err := s.applyPresence(t, *in.Presence); err != nil {
			s.wsSend(c, wsOutbound{Type: FrameError, ID: in.ID, Error: err.Error()})
		}
	}
}

func (s *Server) wsSend(c *wsConn, f wsOutbound) {
	if err := c.send(f); err != nil {
		s.logger.Debug("websocket write failed", "type", f.Type, "error", err)
	}
}

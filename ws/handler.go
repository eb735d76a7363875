package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/GamerOZE123/campus-social-grid-sub000/chat"
)

type SessionError int

const (
	ReadError  SessionError = 1
	WriteError SessionError = 2
	PingError  SessionError = 3
	BadRequest SessionError = 4
	ServerStop SessionError = 5
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	// Recommend configure nginx with `keep-alive_timeout` >= 65s.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Fix error: request origin not allowed by Upgrader.CheckOrigin
	CheckOrigin: func(r *http.Request) bool {
		// When the node is behind nginx: host=ws-backend.
		// TODO: possible SECURITY LEAK.
		return true
	},
}

// Session identifies one websocket connection of a signed-in user.
type Session struct {
	Sid        string `json:"sid"`
	Uid        string `json:"uid"`
	Ip         string `json:"ip,omitempty"`
	CreateTime int64  `json:"create_time"`
}

// Handler manages an active connection to an end user. Every new websocket
// connection creates a new session with its own chat engine.
type Handler struct {
	sync.Mutex

	hub    *Hub
	engine *chat.Session

	session *Session
	conn    *websocket.Conn

	dataChan chan *SessionData

	// done is closed exactly once, in close(); it unblocks any Push waiting
	// on a full dataChan so a dead connection never stalls the feed loop.
	done chan struct{}

	// unsubscribe detaches the engine from the change feed on close.
	unsubscribe func()

	closing bool
}

// SessionData is the data structure for `dataChan`.
type SessionData struct {
	Error     SessionError `json:"error,omitempty"`
	ServerMsg *ServerMsg   `json:"resp,omitempty"`
}

func (h *Handler) String() string {
	out, _ := json.Marshal(h.session)
	return string(out)
}

// Push implements `chat.Sink`: reactive state from the engine goes straight
// to the send loop.
func (h *Handler) Push(ev *chat.Event) {
	h.appendDataChan(&SessionData{ServerMsg: &ServerMsg{Event: ev}})
}

func (h *Handler) close(cause SessionError) {
	h.Lock()
	if h.closing {
		h.Unlock()
		return
	}
	h.closing = true
	close(h.done)
	h.Unlock()

	h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = h.conn.WriteMessage(websocket.CloseMessage, []byte{})
	h.conn.Close()

	h.unsubscribe()
	h.engine.Close()

	if cause != ServerStop {
		glog.V(5).Infof("session closed, cause: %d, %s", cause, h)
		h.hub.delHandler(h.session.Sid)
	}
}

// appendDataChan hands data to the send loop. `Push` is invoked inline from
// the feed dispatch loop, so this must never wedge on a session whose send
// loop is gone: once close() runs, the data is dropped.
func (h *Handler) appendDataChan(v *SessionData) {
	select {
	case h.dataChan <- v:
	case <-h.done:
	}
}

func sendServerMsg(conn *websocket.Conn, msg *ServerMsg) error {
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, out)
}

func (h *Handler) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, session: %s", h.String()) }()

	h.conn.SetReadLimit(readLimit)
	h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(s string) error {
		h.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for !h.closing {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			glog.Errorf("recvLoop(): read error: %v", err)
			h.appendDataChan(&SessionData{Error: ReadError})
			return
		}

		glog.V(5).Infof("recvLoop(): incoming client message: %v", string(msg))

		if msgType != websocket.TextMessage {
			glog.Errorf("recvLoop(): unexpected message type: %d", msgType)
			h.appendDataChan(&SessionData{ServerMsg: &ServerMsg{
				Error: newInvalidArgumentError("websocket only supports TextMessage"),
			}})
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		req := ClientMsg{}
		if err := json.Unmarshal(msg, &req); err != nil {
			glog.Errorf("recvLoop(): message error: msg: %s, err: %v", string(msg), err)
			h.appendDataChan(&SessionData{ServerMsg: &ServerMsg{
				Error: newInvalidArgumentError(fmt.Sprintf("marshal error: %v", err)),
			}})
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		if wsErr := h.dispatch(&req); wsErr != nil {
			glog.Errorf("recvLoop(): request error: %+v", wsErr)
			interceptError(wsErr)
			h.appendDataChan(&SessionData{ServerMsg: &ServerMsg{Error: wsErr}})
		}
	}
}

// dispatch routes one client request into the engine. Reactive results come
// back through the Sink; only errors are returned here.
func (h *Handler) dispatch(req *ClientMsg) *Error {
	ctx := context.Background()

	if req.ListConversations != nil {
		if err := h.engine.RefreshConversations(ctx); err != nil {
			return newInternalError(err.Error())
		}
	} else if v := req.Open; v != nil {
		switch {
		case v.PeerID != "" && v.ConversationID != "":
			return newInvalidArgumentError("open: set either peer_id or conversation_id, not both")
		case v.PeerID != "":
			if v.PeerID == h.session.Uid {
				return newInvalidArgumentError("open: cannot open a conversation with yourself")
			}
			if _, err := h.engine.OpenWith(ctx, v.PeerID); err != nil {
				return newInternalError(err.Error())
			}
		case v.ConversationID != "":
			if err := h.engine.Open(ctx, v.ConversationID); err != nil {
				if err == chat.ErrNotParticipant {
					return newInvalidArgumentError("open: not a participant")
				}
				return newInternalError(err.Error())
			}
		default:
			return newInvalidArgumentError("open: peer_id or conversation_id is required")
		}
	} else if req.Leave != nil {
		h.engine.Leave()
	} else if v := req.Send; v != nil {
		if len(v.Content) > h.hub.conf.MaxMsgSize {
			return newInvalidArgumentError(fmt.Sprintf("content: exceeds limit: %d", h.hub.conf.MaxMsgSize))
		}
		if _, err := h.engine.Send(v.Content, v.Kind, v.ReplyTo, v.MediaRef); err != nil {
			return newInvalidArgumentError(err.Error())
		}
	} else if req.LoadOlder != nil {
		if err := h.engine.LoadOlder(ctx); err != nil {
			if err == chat.ErrNoActiveConversation {
				return newInvalidArgumentError(err.Error())
			}
			return newInternalError(err.Error())
		}
	} else if v := req.React; v != nil {
		if v.MessageID == "" {
			return newInvalidArgumentError("react: message_id is required")
		}
		if err := h.engine.React(v.MessageID, v.Kind); err != nil {
			return newInvalidArgumentError(err.Error())
		}
	} else if v := req.Unreact; v != nil {
		if v.MessageID == "" {
			return newInvalidArgumentError("unreact: message_id is required")
		}
		if err := h.engine.Unreact(v.MessageID, v.Kind); err != nil {
			return newInvalidArgumentError(err.Error())
		}
	} else if req.MarkRead != nil {
		if err := h.engine.MarkRead(ctx); err != nil {
			return newInvalidArgumentError(err.Error())
		}
	} else if req.Clear != nil {
		if err := h.engine.Clear(ctx); err != nil {
			if err == chat.ErrNoActiveConversation {
				return newInvalidArgumentError(err.Error())
			}
			return newInternalError(err.Error())
		}
	} else if v := req.Delete; v != nil {
		if v.ConversationID == "" {
			return newInvalidArgumentError("delete: conversation_id is required")
		}
		if err := h.engine.Delete(ctx, v.ConversationID); err != nil {
			return newInternalError(err.Error())
		}
	} else if req.Typing != nil {
		h.engine.TypingActivity()
	} else if v := req.Presence; v != nil {
		h.engine.SetPresence(ctx, v.Online, v.StatusLabel)
	} else {
		return newInvalidArgumentError("unsupported request")
	}
	return nil
}

func (h *Handler) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, session: %s", h.String())
	}()

	for {
		select {
		case <-h.done:
			glog.V(5).Infof("sendLoop(): session closing, session: %s", h.String())
			return
		case v := <-h.dataChan:
			if glog.V(5) {
				dataJson, _ := json.Marshal(v)
				logValue := string(dataJson)
				if len(logValue) > 100 {
					logValue = logValue[:100] + " ..."
				}
				glog.Infof("sendLoop(), get from data chan, value: %s, session: %s", logValue, h.String())
			}

			if v.Error > 0 {
				h.close(v.Error)
				return
			} else if v.ServerMsg == nil {
				// should not happen.
				panic(fmt.Sprintf("sendLoop(), unknown data from dataChan: %#+v", v))
			}

			// Tear the session down right here: sendLoop is the only
			// dataChan consumer, so queueing the error would never be seen.
			if err := sendServerMsg(h.conn, v.ServerMsg); err != nil {
				glog.Errorf("sendLoop(), error write message. session: %s, err: %v", h.String(), err)
				h.close(WriteError)
				return
			}
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(), error write ping message. session: %s, err: %v", h, err)
				h.close(PingError)
				return
			}
		}
	}
}

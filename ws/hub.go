package ws

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/GamerOZE123/campus-social-grid-sub000/auth"
	"github.com/GamerOZE123/campus-social-grid-sub000/chat"
	"github.com/GamerOZE123/campus-social-grid-sub000/feed"
)

// Conf carries the per-session knobs the gateway hands to every engine.
type Conf struct {
	// MaxMsgSize caps outgoing message content, in bytes.
	MaxMsgSize int

	// PageSize is the timeline window size for initial load and backfill.
	PageSize int

	// TypingIdle is the typing auto-clear window.
	TypingIdle time.Duration
}

// Hub works as a hub that manages and serves sessions. Every accepted
// websocket connection gets its own chat engine, subscribed to the shared
// change-feed dispatcher for its whole lifetime.
type Hub struct {
	conf       *Conf
	authClient auth.Client
	store      chat.Store
	dispatcher *feed.Dispatcher
	hstore     *HandlerStore
}

// NewHub creates a `Hub`.
func NewHub(authClient auth.Client, store chat.Store, dispatcher *feed.Dispatcher, conf *Conf) *Hub {
	return &Hub{
		conf:       conf,
		authClient: authClient,
		store:      store,
		dispatcher: dispatcher,
		hstore: &HandlerStore{
			handlers: make(map[string]*Handler),
		},
	}
}

// Run blocks until ctx is canceled, then closes every live connection.
func (h *Hub) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	<-ctx.Done()
	glog.Infof("close connections ...")
	h.hstore.close()
	glog.Infof("close connections done")
	stopDoneNotifyC <- struct{}{}
}

// ServeHTTP handles websocket requests from the peer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid, err := h.authClient.Auth(r)
	if err != nil {
		glog.Errorf("ServeHTTP(): authenticate error: %v", err)
		http.Error(w, "Authenticate error", http.StatusForbidden)
		return
	}

	sess := &Session{
		Uid:        uid,
		Sid:        strings.ReplaceAll(uuid.New(), "-", ""),
		CreateTime: time.Now().Unix(),
		Ip:         getRemoteIP(r),
	}

	// If the upgrade fails, then Upgrade replies to the client with an HTTP error response.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("ServeHTTP(): upgrader.Upgrade error, uid: %s, err: %s", uid, err)
		return
	}

	// NOTE: after upgrade, `w.WriteHeader(...)` causes error `response.Write on hijacked connection`.

	handler := &Handler{
		dataChan: make(chan *SessionData, 16),
		done:     make(chan struct{}),
		session:  sess,
		conn:     conn,
		hub:      h,
	}

	engine := chat.NewSession(uid, h.store, handler, chat.Config{
		PageSize:   h.conf.PageSize,
		TypingIdle: h.conf.TypingIdle,
	})
	handler.engine = engine
	handler.unsubscribe = h.dispatcher.Subscribe(engine)

	conn.SetCloseHandler(func(code int, text string) error {
		glog.Infof("session closed by peer, session: %s, code: %d, text: %s", handler, code, text)
		h.delHandler(sess.Sid)
		return nil
	})

	h.hstore.add(handler)

	go handler.recvLoop()
	go handler.sendLoop()

	// Initial state: presence online plus the conversation list.
	go func() {
		if err := engine.Start(context.Background()); err != nil {
			glog.Errorf("ServeHTTP(): initial list load error, uid: %s, err: %v", uid, err)
			wsErr := newInternalError(err.Error())
			interceptError(wsErr)
			handler.appendDataChan(&SessionData{ServerMsg: &ServerMsg{Error: wsErr}})
		}
	}()
}

func (h *Hub) delHandler(sid string) {
	h.hstore.del(sid)
}

func getRemoteIP(r *http.Request) string {
	ip := r.Header.Get("X-REAL-IP")
	if ip == "" {
		if ips := r.Header.Get("X-FORWARDED-FOR"); ips != "" {
			slice := strings.Split(ips, ",")
			for _, x := range slice {
				if x != "" {
					ip = x
				}
			}
		}
	}
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}

	return ip
}

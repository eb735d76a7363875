package ws

import "sync"

// memory handler store for local sessions.
type HandlerStore struct {
	sync.RWMutex
	handlers map[string]*Handler
}

func (hs *HandlerStore) del(sid string) bool {
	hs.Lock()
	defer hs.Unlock()
	if _, ok := hs.handlers[sid]; ok {
		delete(hs.handlers, sid)
		return true
	}
	return false
}

func (hs *HandlerStore) add(handler *Handler) {
	hs.Lock()
	sid := handler.session.Sid
	hs.handlers[sid] = handler
	hs.Unlock()
}

func (hs *HandlerStore) shallowCopy() []*Handler {
	hs.RLock()
	defer hs.RUnlock()
	out := make([]*Handler, 0, len(hs.handlers))
	for _, h := range hs.handlers {
		out = append(out, h)
	}
	return out
}

func (hs *HandlerStore) close() {
	for _, h := range hs.shallowCopy() {
		h.close(ServerStop)
	}
}

package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/normalize"
	"github.com/R3E-Network/dapp_gateway/pkg/logger"
)

// ErrUnknownSource is returned when a response targets a tab that is gone.
var ErrUnknownSource = errors.New("bridge connection not found")

// ErrOriginMismatch is returned when a tab's page URL is not on the origin
// the browser reports for it.
var ErrOriginMismatch = errors.New("page url does not match origin")

const (
	defaultMaxFrame   = 512 * 1024
	defaultWriteWait  = 10 * time.Second
	defaultPingPeriod = 30 * time.Second
)

// Handler consumes inbound bridge frames.
type Handler interface {
	Handle(ctx context.Context, in normalize.Inbound)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, in normalize.Inbound)

func (f HandlerFunc) Handle(ctx context.Context, in normalize.Inbound) { f(ctx, in) }

// Hub accepts one websocket per webview tab, forwards its frames to the
// gateway as InApp requests and writes responses back to the same tab.
type Hub struct {
	handler  Handler
	log      *logger.Logger
	upgrader websocket.Upgrader
	maxFrame int64

	mu    sync.RWMutex
	conns map[string]*tab
}

type tab struct {
	id     string
	appURL string
	ws     *websocket.Conn
	wmu    sync.Mutex
	done   chan struct{}
}

// NewHub creates a hub delivering frames to handler.
func NewHub(handler Handler, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("bridge")
	}
	return &Hub{
		handler:  handler,
		log:      log,
		maxFrame: defaultMaxFrame,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Pages of any dApp connect. ServeHTTP binds the tab to its origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*tab),
	}
}

// ServeHTTP upgrades the request and serves the tab until it disconnects.
// The tab is bound to the browser's Origin header. A "url" query parameter
// may refine the page URL but must be on that origin.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	appURL, err := tabURL(r.Header.Get("Origin"), r.URL.Query().Get("url"))
	if err != nil {
		h.log.WithError(err).WithField("origin", r.Header.Get("Origin")).Warn("bridge connection refused")
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("bridge upgrade failed")
		return
	}
	t := &tab{id: uuid.NewString(), appURL: appURL, ws: ws, done: make(chan struct{})}
	h.register(t)
	defer h.unregister(t)

	go h.ping(t)
	h.read(r.Context(), t)
}

// tabURL resolves the page URL a tab is bound to.
func tabURL(origin, pageURL string) (string, error) {
	if origin == "" || origin == "null" {
		return "", errors.New("missing origin")
	}
	o, err := url.Parse(origin)
	if err != nil || o.Scheme == "" || o.Host == "" {
		return "", fmt.Errorf("invalid origin %q", origin)
	}
	if pageURL == "" {
		return origin, nil
	}
	p, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page url: %w", err)
	}
	if !strings.EqualFold(p.Scheme, o.Scheme) || !strings.EqualFold(p.Host, o.Host) {
		return "", fmt.Errorf("%w: %s on %s", ErrOriginMismatch, pageURL, origin)
	}
	return pageURL, nil
}

func (h *Hub) read(ctx context.Context, t *tab) {
	t.ws.SetReadLimit(h.maxFrame)
	_ = t.ws.SetReadDeadline(time.Now().Add(2 * defaultPingPeriod))
	t.ws.SetPongHandler(func(string) error {
		return t.ws.SetReadDeadline(time.Now().Add(2 * defaultPingPeriod))
	})

	for {
		kind, frame, err := t.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.WithError(err).WithField("tab", t.id).Debug("bridge read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.handler.Handle(ctx, normalize.Inbound{
			Channel: dapp.ChannelInApp,
			Body:    frame,
			AppURL:  t.appURL,
			Source:  t.id,
		})
	}
}

func (h *Hub) ping(t *tab) {
	ticker := time.NewTicker(defaultPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.wmu.Lock()
			err := t.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteWait))
			t.wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// PostMessage writes msg to the tab identified by source.
func (h *Hub) PostMessage(ctx context.Context, source string, msg dapp.Message) error {
	h.mu.RLock()
	t, ok := h.conns[source]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	deadline := time.Now().Add(defaultWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := t.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := t.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("write to tab %s: %w", source, err)
	}
	return nil
}

// Len returns the number of connected tabs.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every tab.
func (h *Hub) Close() {
	h.mu.Lock()
	tabs := make([]*tab, 0, len(h.conns))
	for _, t := range h.conns {
		tabs = append(tabs, t)
	}
	h.mu.Unlock()

	for _, t := range tabs {
		t.wmu.Lock()
		_ = t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		t.wmu.Unlock()
		_ = t.ws.Close()
	}
}

func (h *Hub) register(t *tab) {
	h.mu.Lock()
	h.conns[t.id] = t
	h.mu.Unlock()
	h.log.WithField("tab", t.id).WithField("url", t.appURL).Debug("bridge connected")
}

func (h *Hub) unregister(t *tab) {
	h.mu.Lock()
	delete(h.conns, t.id)
	h.mu.Unlock()
	close(t.done)
	_ = t.ws.Close()
	h.log.WithField("tab", t.id).Debug("bridge disconnected")
}

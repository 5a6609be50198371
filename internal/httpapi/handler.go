// Package httpapi exposes the wallet-side HTTP surface of the gateway: the
// bridge endpoint, session and approval administration, notifications and
// metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/dapp_gateway/internal/approval"
	"github.com/R3E-Network/dapp_gateway/internal/bridge"
	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/gateway"
	"github.com/R3E-Network/dapp_gateway/internal/notify"
	"github.com/R3E-Network/dapp_gateway/internal/ratelimit"
	"github.com/R3E-Network/dapp_gateway/internal/session"
	"github.com/R3E-Network/dapp_gateway/internal/wallet"
	"github.com/R3E-Network/dapp_gateway/pkg/logger"
)

const defaultNotificationLimit = 50

// Config wires the handler to the running gateway.
type Config struct {
	Gateway *gateway.Gateway
	// Bridge serves GET /bridge when set.
	Bridge http.Handler
	// BridgeURL is baked into the script served at /bridge/provider.js.
	BridgeURL     string
	Notifications *notify.RingBuffer
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	Limiter *ratelimit.Limiter
	// AdminSecret, when set, requires an operator token on admin routes.
	AdminSecret []byte
	Log         *logger.Logger
}

type handler struct {
	gw            *gateway.Gateway
	bridgeURL     string
	notifications *notify.RingBuffer
	surfaces      map[approval.Category]surface
	log           *logger.Logger
}

// NewHandler returns the router for cfg.
func NewHandler(cfg Config) http.Handler {
	log := cfg.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{
		gw:            cfg.Gateway,
		bridgeURL:     cfg.BridgeURL,
		notifications: cfg.Notifications,
		log:           log,
		surfaces: map[approval.Category]surface{
			approval.CategoryTransaction:  adapt(cfg.Gateway.Transactions()),
			approval.CategoryCertificate:  adapt(cfg.Gateway.Certificates()),
			approval.CategoryTypedData:    adapt(cfg.Gateway.TypedData()),
			approval.CategoryLogin:        adapt(cfg.Gateway.Logins()),
			approval.CategorySwitchWallet: adapt(cfg.Gateway.SwitchWallets()),
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}
	if cfg.Bridge != nil {
		r.Handle("/bridge", cfg.Bridge).Methods(http.MethodGet)
	}
	r.HandleFunc("/bridge/provider.js", h.providerScript).Methods(http.MethodGet)

	r.HandleFunc("/sessions", h.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions", h.deleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/external", h.openExternalSession).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{address}", h.removeAccount).Methods(http.MethodDelete)
	r.HandleFunc("/notifications", h.listNotifications).Methods(http.MethodGet)

	r.HandleFunc("/reconciliation", h.pendingReconciliation).Methods(http.MethodGet)
	r.HandleFunc("/reconciliation/{id}/confirm", h.confirmReconciliation).Methods(http.MethodPost)
	r.HandleFunc("/reconciliation/{id}/decline", h.declineReconciliation).Methods(http.MethodPost)

	r.HandleFunc("/approvals/{category}", h.currentApproval).Methods(http.MethodGet)
	r.HandleFunc("/approvals/{category}/dismiss", h.dismiss).Methods(http.MethodPost)
	r.HandleFunc("/approvals/{category}/{id}/approve", h.approve).Methods(http.MethodPost)
	r.HandleFunc("/approvals/{category}/{id}/cancel", h.cancel).Methods(http.MethodPost)

	var next http.Handler = r
	if len(cfg.AdminSecret) > 0 {
		next = NewAdminAuth(cfg.AdminSecret, log).Handler(next)
	}
	if cfg.Limiter != nil {
		next = cfg.Limiter.Handler(next)
	}
	return next
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) providerScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, bridge.Script(h.bridgeURL))
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.gw.Sessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []session.Session{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	origin, genesisID := q.Get("origin"), q.Get("genesisId")
	if origin == "" || genesisID == "" {
		writeError(w, http.StatusBadRequest, errors.New("origin and genesisId are required"))
		return
	}
	removed, err := h.gw.DeleteSession(r.Context(), origin, genesisID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, session.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) openExternalSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AppURL    string `json:"appUrl"`
		AppName   string `json:"appName"`
		GenesisID string `json:"genesisId"`
		Address   string `json:"address"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.AppURL == "" {
		writeError(w, http.StatusBadRequest, errors.New("appUrl is required"))
		return
	}
	err := h.gw.OpenExternalSession(r.Context(), payload.AppURL, payload.AppName, payload.GenesisID, payload.Address)
	switch {
	case errors.Is(err, wallet.ErrAccountNotFound), errors.Is(err, wallet.ErrNetworkNotFound):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusCreated)
	}
}

func (h *handler) removeAccount(w http.ResponseWriter, r *http.Request) {
	n, err := h.gw.RemoveAccount(r.Context(), mux.Vars(r)["address"])
	switch {
	case errors.Is(err, wallet.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]int{"sessionsRemoved": n})
	}
}

func (h *handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	if h.notifications == nil {
		writeJSON(w, http.StatusOK, []notify.Notification{})
		return
	}
	limit := defaultNotificationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	var list []notify.Notification
	if t := r.URL.Query().Get("type"); t != "" {
		list = h.notifications.RecentByType(notify.Type(t), limit)
	} else {
		list = h.notifications.Recent(limit)
	}
	if list == nil {
		list = []notify.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) pendingReconciliation(w http.ResponseWriter, _ *http.Request) {
	rec, ok := h.gw.PendingReconciliation()
	if !ok {
		writeError(w, http.StatusNotFound, gateway.ErrNoReconciliation)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) confirmReconciliation(w http.ResponseWriter, r *http.Request) {
	if err := h.gw.ConfirmReconciliation(context.WithoutCancel(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) declineReconciliation(w http.ResponseWriter, r *http.Request) {
	if err := h.gw.DeclineReconciliation(mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) surface(w http.ResponseWriter, r *http.Request) (surface, bool) {
	s, ok := h.surfaces[approval.Category(mux.Vars(r)["category"])]
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown approval category"))
	}
	return s, ok
}

func (h *handler) currentApproval(w http.ResponseWriter, r *http.Request) {
	s, ok := h.surface(w, r)
	if !ok {
		return
	}
	view, ok := s.current()
	if !ok {
		writeError(w, http.StatusNotFound, approval.ErrNoPending)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) approve(w http.ResponseWriter, r *http.Request) {
	s, ok := h.surface(w, r)
	if !ok {
		return
	}
	// The dApp is owed a response even if this caller goes away.
	out, err := s.approve(context.WithoutCancel(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": out})
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.surface(w, r)
	if !ok {
		return
	}
	if err := s.cancel(mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) dismiss(w http.ResponseWriter, r *http.Request) {
	category := approval.Category(mux.Vars(r)["category"])
	if _, ok := h.surfaces[category]; !ok && category != approval.CategoryReconcile {
		writeError(w, http.StatusNotFound, errors.New("unknown approval category"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"answered": h.gw.Dismiss(category)})
}

// statusFor maps gateway and surface errors onto HTTP statuses. Failures of
// the approved action itself were already answered to the dApp, so they are
// reported as 502.
func statusFor(err error) int {
	switch {
	case errors.Is(err, approval.ErrNoPending), errors.Is(err, gateway.ErrNoReconciliation):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrRequestMismatch), errors.Is(err, gateway.ErrReconciliationMismatch):
		return http.StatusConflict
	}
	switch dapp.KindOf(err) {
	case dapp.KindNotReady:
		return http.StatusConflict
	case dapp.KindUnknownAccount, dapp.KindUnknownNetwork:
		return http.StatusUnprocessableEntity
	case dapp.KindUnknown:
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}

// surface erases the type parameters of an approval surface.
type surface interface {
	current() (any, bool)
	approve(ctx context.Context, id string) (any, error)
	cancel(id string) error
}

type surfaceAdapter[In, Out any] struct {
	s *approval.Surface[In, Out]
}

func adapt[In, Out any](s *approval.Surface[In, Out]) surface {
	return surfaceAdapter[In, Out]{s: s}
}

func (a surfaceAdapter[In, Out]) current() (any, bool) {
	p, ok := a.s.Current()
	if !ok {
		return nil, false
	}
	return map[string]any{
		"category": a.s.Category(),
		"state":    p.State,
		"request":  p.Request,
		"input":    p.Input,
	}, true
}

func (a surfaceAdapter[In, Out]) approve(ctx context.Context, id string) (any, error) {
	return a.s.Approve(ctx, id, nil)
}

func (a surfaceAdapter[In, Out]) cancel(id string) error {
	return a.s.Cancel(id)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

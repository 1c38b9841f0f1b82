// Package http is the staff surface: order/member listings, on-behalf
// order placement through the same commit coordinator the bot uses, order
// completion and balance corrections.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nutritheory/merchant-bot/internal/cart"
	"github.com/nutritheory/merchant-bot/internal/catalog"
	orderapp "github.com/nutritheory/merchant-bot/internal/order/application"
	"github.com/nutritheory/merchant-bot/internal/order/domain"
)

type Handler struct {
	log        *slog.Logger
	repo       orderapp.Repository
	commits    *orderapp.Coordinator
	memberMenu *catalog.Catalog
	guestMenu  *catalog.Catalog
	tracer     trace.Tracer
}

func NewHandler(log *slog.Logger, repo orderapp.Repository, commits *orderapp.Coordinator, memberMenu, guestMenu *catalog.Catalog) *Handler {
	return &Handler{
		log:        log,
		repo:       repo,
		commits:    commits,
		memberMenu: memberMenu,
		guestMenu:  guestMenu,
		tracer:     otel.Tracer("admin-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.root)
	r.Get("/orders", h.listOrders)
	r.Get("/members", h.listMembers)
	r.Post("/place-order", h.placeOrder)
	r.Post("/complete-order/{id}", h.completeOrder)
	r.Post("/members/{id}/balance", h.setBalance)
	return r
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "merchant-bot"})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOrders")
	defer span.End()

	orders, err := h.repo.ListOrders(ctx)
	if err != nil {
		h.log.Error("list orders failed", "err", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListMembers")
	defer span.End()

	members, err := h.repo.ListMembers(ctx)
	if err != nil {
		h.log.Error("list members failed", "err", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

type placeOrderReq struct {
	MemberID     string           `json:"member_id"` // empty or "non-member" places a guest order
	Items        map[string]int   `json:"items"`
	Type         domain.OrderType `json:"type"`
	DeliveryDate string           `json:"delivery_date,omitempty"` // DD-MM-YYYY, pre-orders only
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PlaceOrder")
	defer span.End()

	var req placeOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if len(req.Items) == 0 {
		http.Error(w, "items required", http.StatusBadRequest)
		return
	}

	switch req.Type {
	case domain.TypeImmediate, domain.TypePreorder, domain.TypeTakeaway:
	default:
		http.Error(w, "invalid type, want Immediate, Pre-order or Takeaway", http.StatusBadRequest)
		return
	}

	isMember := req.MemberID != "" && !strings.EqualFold(req.MemberID, "non-member")
	menu := h.guestMenu
	if isMember {
		menu = h.memberMenu
	}

	crt := cart.New()
	for name, qty := range req.Items {
		if qty <= 0 {
			http.Error(w, "item quantities must be positive", http.StatusBadRequest)
			return
		}
		if _, ok := menu.Price(name); !ok {
			http.Error(w, "unknown item: "+name, http.StatusBadRequest)
			return
		}
		crt[name] = qty
	}

	// deliveryDate travels with Pre-order and nothing else.
	var deliveryDate *time.Time
	switch {
	case req.Type == domain.TypePreorder && req.DeliveryDate == "":
		http.Error(w, "delivery_date required for Pre-order", http.StatusBadRequest)
		return
	case req.Type != domain.TypePreorder && req.DeliveryDate != "":
		http.Error(w, "delivery_date only valid for Pre-order", http.StatusBadRequest)
		return
	case req.DeliveryDate != "":
		d, err := time.Parse("02-01-2006", req.DeliveryDate)
		if err != nil {
			http.Error(w, "invalid delivery_date, want DD-MM-YYYY", http.StatusBadRequest)
			return
		}
		deliveryDate = &d
	}
	res, err := h.commits.CommitOrder(ctx, orderapp.CommitRequest{
		OwnerID:      req.MemberID,
		Cart:         crt,
		Type:         req.Type,
		DeliveryDate: deliveryDate,
		IsMember:     isMember,
	})
	switch {
	case errors.Is(err, orderapp.ErrInsufficientFunds):
		http.Error(w, "insufficient member balance", http.StatusBadRequest)
		return
	case errors.Is(err, orderapp.ErrMemberNotFound):
		http.Error(w, "member not found", http.StatusBadRequest)
		return
	case err != nil:
		h.log.Error("place order failed", "member_id", req.MemberID, "err", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "Order Placed", "order": res.Order})
}

func (h *Handler) completeOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CompleteOrder")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	err = h.repo.SetOrderStatus(ctx, id, domain.StatusCompleted)
	switch {
	case errors.Is(err, orderapp.ErrNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
		return
	case errors.Is(err, orderapp.ErrAlreadyFinalized):
		http.Error(w, "order already processed or cancelled", http.StatusBadRequest)
		return
	case err != nil:
		h.log.Error("complete order failed", "order_id", id, "err", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Order Completed"})
}

type setBalanceReq struct {
	Coins int64 `json:"coins"`
}

func (h *Handler) setBalance(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SetBalance")
	defer span.End()

	memberID := chi.URLParam(r, "id")
	var req setBalanceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Coins < 0 {
		http.Error(w, "coins must be non-negative", http.StatusBadRequest)
		return
	}

	err := h.repo.SetBalance(ctx, memberID, req.Coins)
	switch {
	case errors.Is(err, orderapp.ErrMemberNotFound):
		http.Error(w, "member not found", http.StatusNotFound)
		return
	case err != nil:
		h.log.Error("set balance failed", "member_id", memberID, "err", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member_id": memberID, "coins": req.Coins})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

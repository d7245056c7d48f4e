package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/scentara/storefront-cart/internal/auth"
	"github.com/scentara/storefront-cart/internal/cart"
	"github.com/scentara/storefront-cart/internal/domain"
	"github.com/scentara/storefront-cart/internal/localcart"
	"github.com/scentara/storefront-cart/internal/logger"
	"github.com/scentara/storefront-cart/internal/reconcile"
	"github.com/scentara/storefront-cart/internal/servercart"
	"github.com/scentara/storefront-cart/internal/storage"
	"go.uber.org/zap"
)

const maxRequestBodySize = 1 << 20

// Deps are the process-wide collaborators shared by every request.
type Deps struct {
	Store      storage.KV
	Locks      *localcart.Locks
	Remote     func(tokens auth.TokenSource) cart.RemoteCart
	Catalog    cart.CatalogSource
	Reconciler *reconcile.Reconciler
	Currency   string
	Retention  time.Duration
	Timeout    time.Duration
	Log        *zap.Logger
}

type CartHandler struct {
	deps     Deps
	validate *validator.Validate
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewCartHandler(deps Deps) *CartHandler {
	if deps.Retention <= 0 {
		deps.Retention = localcart.DefaultRetention
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 30 * time.Second
	}
	if deps.Currency == "" {
		deps.Currency = "USD"
	}
	if deps.Reconciler == nil {
		deps.Reconciler = reconcile.New(nil, deps.Log)
	}
	if deps.Locks == nil {
		deps.Locks = localcart.NewLocks()
	}
	return &CartHandler{
		deps:     deps,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logger.OrNop(deps.Log),
	}
}

type AddItemRequestDTO struct {
	ProductID      string   `json:"productId" validate:"required"`
	PriceOptionIDs []string `json:"priceOptionIds" validate:"required,min=1,dive,required"`
	Quantity       int      `json:"quantity" validate:"min=1,max=99"`
}

type UpdateQuantityRequestDTO struct {
	PriceOptionIDs []string `json:"priceOptionIds" validate:"dive,required"`
	Quantity       int      `json:"quantity" validate:"min=0,max=99"`
}

type CartItemDTO struct {
	ID             string   `json:"id"`
	ProductID      string   `json:"productId"`
	PriceOptionID  string   `json:"priceOptionId"`
	Name           string   `json:"name"`
	UnitPrice      string   `json:"unitPrice"`
	FormattedPrice string   `json:"formattedPrice"`
	Size           string   `json:"size"`
	Image          string   `json:"image"`
	Quantity       int      `json:"quantity"`
	Tags           []string `json:"tags"`
}

type CartResponseDTO struct {
	Items          []CartItemDTO `json:"items"`
	TotalItems     int           `json:"totalItems"`
	TotalPrice     string        `json:"totalPrice"`
	FormattedTotal string        `json:"formattedTotal"`
	Currency       string        `json:"currency"`
	Authenticated  bool          `json:"authenticated"`
}

type SyncResponseDTO struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) Health(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.deps.Timeout)
	defer cancel()

	h.respondCart(ctx, w, r, http.StatusOK)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.deps.Timeout)
	defer cancel()

	var req AddItemRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service(r).AddToCart(ctx, req.ProductID, req.PriceOptionIDs, req.Quantity); err != nil {
		h.handleCartError(ctx, w, err)
		return
	}

	h.respondCart(ctx, w, r, http.StatusCreated)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.deps.Timeout)
	defer cancel()

	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		h.respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	var req UpdateQuantityRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service(r).UpdateQuantity(ctx, productID, req.PriceOptionIDs, req.Quantity); err != nil {
		h.handleCartError(ctx, w, err)
		return
	}

	h.respondCart(ctx, w, r, http.StatusOK)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.deps.Timeout)
	defer cancel()

	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		h.respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	priceOptionIDs := r.URL.Query()["price_id"]

	if err := h.service(r).RemoveItem(ctx, productID, priceOptionIDs); err != nil {
		h.handleCartError(ctx, w, err)
		return
	}

	h.respondCart(ctx, w, r, http.StatusOK)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.deps.Timeout)
	defer cancel()

	if err := h.service(r).ClearCart(ctx); err != nil {
		h.handleCartError(ctx, w, err)
		return
	}

	h.respondCart(ctx, w, r, http.StatusOK)
}

// GetSyncState reports the guest cart migration state of the caller's session.
func (h *CartHandler) GetSyncState(w http.ResponseWriter, r *http.Request) {
	token := getToken(r.Context())
	if token == "" {
		h.respondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	state := h.deps.Reconciler.State(auth.SessionID(token))
	h.respondJSON(w, http.StatusOK, SyncResponseDTO{State: state.String()})
}

// RetrySync reruns a failed migration with the guest lines that are left.
func (h *CartHandler) RetrySync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.deps.Timeout)
	defer cancel()

	token := getToken(r.Context())
	if token == "" {
		h.respondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	tokens := auth.StaticToken(token)
	state, err := h.deps.Reconciler.Retry(ctx, auth.SessionID(token), h.localStore(r), h.deps.Remote(tokens))

	resp := SyncResponseDTO{State: state.String()}
	if err != nil {
		resp.Error = err.Error()
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// EndSession forgets the migration state of the caller's session on logout.
func (h *CartHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	token := getToken(r.Context())
	if token == "" {
		h.respondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	h.deps.Reconciler.Forget(auth.SessionID(token))
	w.WriteHeader(http.StatusNoContent)
}

// service assembles the cart view model for the caller: the guest cart from
// X-Guest-ID and the server cart from the bearer token.
func (h *CartHandler) service(r *http.Request) *cart.Service {
	tokens := auth.StaticToken(getToken(r.Context()))
	return cart.NewService(h.localStore(r), h.deps.Remote(tokens), h.deps.Catalog, tokens,
		cart.WithReconciler(h.deps.Reconciler),
		cart.WithCurrency(h.deps.Currency),
		cart.WithLogger(h.log))
}

func (h *CartHandler) localStore(r *http.Request) *localcart.Store {
	return localcart.NewStore(h.deps.Store,
		localcart.WithKey(localcart.GuestKey(getGuestID(r.Context()))),
		localcart.WithRetention(h.deps.Retention),
		localcart.WithLocks(h.deps.Locks),
		localcart.WithLogger(h.log))
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, r *http.Request, status int) {
	view, err := h.service(r).View(ctx)
	if err != nil {
		h.handleCartError(ctx, w, err)
		return
	}
	h.respondJSON(w, status, toCartResponse(view, getToken(r.Context()) != ""))
}

func (h *CartHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondErrorDetails(w, http.StatusBadRequest, "validation_failed", "request validation failed", err.Error())
		return false
	}
	return true
}

func (h *CartHandler) handleCartError(ctx context.Context, w http.ResponseWriter, err error) {
	var apiErr *servercart.APIError

	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		h.respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, servercart.ErrUnauthorized), errors.Is(err, servercart.ErrNoToken):
		h.respondError(w, http.StatusUnauthorized, "unauthenticated", "cart api rejected the credentials")
	case errors.Is(err, servercart.ErrCircuitOpen):
		h.respondError(w, http.StatusServiceUnavailable, "service_unavailable", "cart api temporarily unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		h.respondError(w, http.StatusGatewayTimeout, "timeout", "cart api timed out")
	case errors.As(err, &apiErr):
		h.handleAPIError(ctx, w, apiErr)
	default:
		logger.WithTrace(ctx, h.log).Error("cart request failed", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func (h *CartHandler) handleAPIError(ctx context.Context, w http.ResponseWriter, apiErr *servercart.APIError) {
	switch {
	case apiErr.StatusCode == http.StatusNotFound:
		h.respondError(w, http.StatusNotFound, "not_found", apiErr.Message)
	case apiErr.StatusCode == http.StatusConflict:
		h.respondError(w, http.StatusConflict, "conflict", apiErr.Message)
	case apiErr.StatusCode == http.StatusTooManyRequests:
		h.respondError(w, http.StatusTooManyRequests, "rate_limit_exceeded", apiErr.Message)
	case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		h.respondError(w, http.StatusBadRequest, "invalid_argument", apiErr.Message)
	default:
		logger.WithTrace(ctx, h.log).Error("cart api error", zap.Int("status", apiErr.StatusCode), zap.String("message", apiErr.Message))
		h.respondError(w, http.StatusBadGateway, "upstream_error", "cart api error")
	}
}

func toCartResponse(view cart.View, authenticated bool) CartResponseDTO {
	items := make([]CartItemDTO, 0, len(view.Items))
	for _, it := range view.Items {
		items = append(items, toCartItemDTO(it))
	}
	return CartResponseDTO{
		Items:          items,
		TotalItems:     view.TotalItems,
		TotalPrice:     view.TotalPrice.StringFixed(2),
		FormattedTotal: view.FormattedTotal(),
		Currency:       view.Currency,
		Authenticated:  authenticated,
	}
}

func toCartItemDTO(it domain.CartItem) CartItemDTO {
	tags := it.Tags
	if tags == nil {
		tags = []string{}
	}
	return CartItemDTO{
		ID:             it.ID,
		ProductID:      it.ProductID,
		PriceOptionID:  it.PriceOptionID,
		Name:           it.DisplayName,
		UnitPrice:      it.UnitPrice.StringFixed(2),
		FormattedPrice: it.FormattedPrice(),
		Size:           it.SizeLabel,
		Image:          it.ImageURL,
		Quantity:       it.Quantity,
		Tags:           tags,
	}
}

func (h *CartHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *CartHandler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondErrorDetails(w, status, code, message, "")
}

func (h *CartHandler) respondErrorDetails(w http.ResponseWriter, status int, code, message, details string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

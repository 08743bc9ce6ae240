package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
	"github.com/earth-harvest/checkout-api/internal/platform/auth"
	"github.com/earth-harvest/checkout-api/internal/platform/httpx"
	"github.com/earth-harvest/checkout-api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes the checkout workflow endpoints for
// authenticated storefront users.
type CheckoutHandlers struct {
	sessions services.SessionService
	checkout services.CheckoutService
	// testEnabled gates the explicit development bypass route. When false
	// the route responds as if it did not exist.
	testEnabled bool
}

// NewCheckoutHandlers constructs checkout handlers over the session and
// submission services.
func NewCheckoutHandlers(sessions services.SessionService, checkout services.CheckoutService, testEnabled bool) *CheckoutHandlers {
	return &CheckoutHandlers{
		sessions:    sessions,
		checkout:    checkout,
		testEnabled: testEnabled,
	}
}

// Routes registers the checkout endpoints under the provided router. Bearer
// authentication is expected to be applied by the caller.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sessions", h.createSession)
	r.Route("/sessions/{sessionID}", func(session chi.Router) {
		session.Get("/", h.getSession)
		session.Post("/advance", h.advance)
		session.Post("/back", h.back)
		session.Patch("/fields", h.updateFields)
		session.Post("/submit", h.submit)
		session.Post("/submit-test", h.submitTest)
		session.Post("/close", h.closeSession)
	})
}

type createSessionRequest struct {
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	SizeSelected string `json:"sizeSelected"`
	UnitPrice    int64  `json:"unitPrice"`
	UnitOldPrice int64  `json:"unitOldPrice"`
	Quantity     int    `json:"quantity"`
}

type updateFieldsRequest struct {
	Name                 *string `json:"name"`
	Phone                *string `json:"phone"`
	Email                *string `json:"email"`
	Street               *string `json:"street"`
	City                 *string `json:"city"`
	State                *string `json:"state"`
	Country              *string `json:"country"`
	Zipcode              *string `json:"zipcode"`
	DeliveryInstructions *string `json:"deliveryInstructions"`
	Agreement            *bool   `json:"agreement"`
}

type contactResponse struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type addressResponse struct {
	Street               string `json:"street"`
	City                 string `json:"city"`
	State                string `json:"state"`
	Country              string `json:"country"`
	Zipcode              string `json:"zipcode"`
	DeliveryInstructions string `json:"deliveryInstructions,omitempty"`
}

type priceResponse struct {
	UnitPrice    int64 `json:"unitPrice"`
	UnitOldPrice int64 `json:"unitOldPrice,omitempty"`
	Quantity     int   `json:"quantity"`
	Subtotal     int64 `json:"subtotal"`
	Savings      int64 `json:"savings"`
	Shipping     int64 `json:"shipping"`
	Total        int64 `json:"total"`
}

type sessionResponse struct {
	ID           string            `json:"id"`
	Step         string            `json:"step"`
	ProductID    string            `json:"productId"`
	ProductName  string            `json:"productName,omitempty"`
	SizeSelected string            `json:"sizeSelected,omitempty"`
	Price        priceResponse     `json:"price"`
	Contact      contactResponse   `json:"contact"`
	Address      addressResponse   `json:"address"`
	Agreement    bool              `json:"agreement"`
	Errors       map[string]string `json:"errors"`
	ExpiresAt    string            `json:"expiresAt"`
}

type committedResponse struct {
	Contact contactResponse `json:"contact"`
	Address addressResponse `json:"address"`
}

type submitResponse struct {
	OrderID     string            `json:"orderId"`
	Provider    string            `json:"provider"`
	RedirectURL string            `json:"redirectUrl"`
	Committed   committedResponse `json:"committed"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.sessions.Create(ctx, services.CreateSessionCommand{
		UserID:       identity.UID,
		ProductID:    req.ProductID,
		ProductName:  req.ProductName,
		SizeSelected: req.SizeSelected,
		UnitPrice:    req.UnitPrice,
		UnitOldPrice: req.UnitOldPrice,
		Quantity:     req.Quantity,
	})
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toSessionResponse(session))
}

func (h *CheckoutHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.Get(r.Context(), identity.UID, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *CheckoutHandlers) advance(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.Advance(r.Context(), identity.UID, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *CheckoutHandlers) back(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.Back(r.Context(), identity.UID, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *CheckoutHandlers) updateFields(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req updateFieldsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.sessions.UpdateFields(r.Context(), services.UpdateFieldsCommand{
		UserID:               identity.UID,
		SessionID:            chi.URLParam(r, "sessionID"),
		Name:                 req.Name,
		Phone:                req.Phone,
		Email:                req.Email,
		Street:               req.Street,
		City:                 req.City,
		State:                req.State,
		Country:              req.Country,
		Zipcode:              req.Zipcode,
		DeliveryInstructions: req.DeliveryInstructions,
		Agreement:            req.Agreement,
	})
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	h.runSubmit(w, r, false)
}

// submitTest serves the development bypass. When the bypass is not
// configured the route pretends not to exist.
func (h *CheckoutHandlers) submitTest(w http.ResponseWriter, r *http.Request) {
	if !h.testEnabled {
		httpx.WriteError(r.Context(), w, httpx.NewError("route_not_found", "no route for "+r.URL.Path, http.StatusNotFound))
		return
	}
	h.runSubmit(w, r, true)
}

func (h *CheckoutHandlers) runSubmit(w http.ResponseWriter, r *http.Request, useTest bool) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	result, err := h.checkout.Submit(r.Context(), services.SubmitCommand{
		UserID:    identity.UID,
		SessionID: chi.URLParam(r, "sessionID"),
		Locale:    requestLocale(r),
		UseTest:   useTest,
	})
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, submitResponse{
		OrderID:     result.OrderID,
		Provider:    result.Provider,
		RedirectURL: result.RedirectURL,
		Committed: committedResponse{
			Contact: toContactResponse(result.Committed.Contact),
			Address: toAddressResponse(result.Committed.Address),
		},
	})
}

func (h *CheckoutHandlers) closeSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	committed, err := h.sessions.Close(r.Context(), identity.UID, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, committedResponse{
		Contact: toContactResponse(committed.Contact),
		Address: toAddressResponse(committed.Address),
	})
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCheckoutRequestBody+1))
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return false
	}
	if int64(len(body)) > maxCheckoutRequestBody {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body too large", http.StatusRequestEntityTooLarge))
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

// requestLocale picks the customer's preferred language for the PSP page.
func requestLocale(r *http.Request) string {
	header := r.Header.Get("Accept-Language")
	if header == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return ""
	}
	return tags[0].String()
}

func writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var collab *services.CollaboratorError
	message := ""
	if errors.As(err, &collab) {
		message = collab.Message
	}

	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSessionInvalidInput), errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkout input is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrSessionTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", "step change not allowed", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutNotReady):
		httpx.WriteError(ctx, w, httpx.NewError("not_ready", "session is not on the payment step", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutSubmitInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("submit_in_flight", "a submission is already in progress", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutTestDisabled):
		httpx.WriteError(ctx, w, httpx.NewError("route_not_found", "no route for "+r.URL.Path, http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutOrderFailed):
		if message == "" {
			message = "order could not be created"
		}
		httpx.WriteError(ctx, w, httpx.NewError("order_failed", message, http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		if message == "" {
			message = "payment could not be initiated"
		}
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", message, http.StatusBadGateway))
	case errors.Is(err, services.ErrSessionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "checkout is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func toSessionResponse(session domain.CheckoutSession) sessionResponse {
	breakdown := session.Price.Breakdown()
	errs := session.Errors
	if errs == nil {
		errs = map[string]string{}
	}
	return sessionResponse{
		ID:           session.ID,
		Step:         string(session.Step),
		ProductID:    session.Product.ProductID,
		ProductName:  session.Product.Name,
		SizeSelected: session.Product.SizeSelected,
		Price: priceResponse{
			UnitPrice:    session.Price.UnitPrice,
			UnitOldPrice: session.Price.UnitOldPrice,
			Quantity:     session.Price.Quantity,
			Subtotal:     breakdown.Subtotal,
			Savings:      breakdown.Savings,
			Shipping:     breakdown.Shipping,
			Total:        breakdown.Total,
		},
		Contact:   toContactResponse(session.Contact),
		Address:   toAddressResponse(session.Address),
		Agreement: session.Agreement,
		Errors:    errs,
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func toContactResponse(contact domain.Contact) contactResponse {
	return contactResponse{
		Name:  contact.Name,
		Phone: contact.Phone,
		Email: contact.Email,
	}
}

func toAddressResponse(address domain.ShippingAddress) addressResponse {
	return addressResponse{
		Street:               address.Street,
		City:                 address.City,
		State:                address.State,
		Country:              address.Country,
		Zipcode:              address.Zipcode,
		DeliveryInstructions: address.DeliveryInstructions,
	}
}

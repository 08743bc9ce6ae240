package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Sentinel errors returned by the client.
var (
	// ErrInvalidDraft indicates the order draft cannot be expressed on the wire.
	ErrInvalidDraft = errors.New("orders client: invalid order draft")
	// ErrMalformedResponse indicates the collaborator answered success without an order id.
	ErrMalformedResponse = errors.New("orders client: malformed response")
)

// DraftError reports a draft the client refused to put on the wire. No
// request is made when it is returned.
type DraftError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *DraftError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("orders client: invalid order draft: %s %s", e.Field, e.Reason)
	}
	return "orders client: invalid order draft: " + e.Reason
}

// Unwrap ties the error to ErrInvalidDraft for errors.Is.
func (e *DraftError) Unwrap() error { return ErrInvalidDraft }

// DraftField names the offending draft field when one is known.
func (e *DraftError) DraftField() string { return e.Field }

// APIError carries a rejection from the order service, preserving the
// human-readable message the collaborator returned.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("orders client: request rejected (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("orders client: request rejected (%d)", e.StatusCode)
}

// UpstreamMessage returns the collaborator's own message so callers can
// surface it to the customer.
func (e *APIError) UpstreamMessage() string {
	return e.Message
}

// Config collects the settings needed to reach the order service.
type Config struct {
	BaseURL    string
	AuthToken  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the upstream order-management REST API.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewClient validates the configuration and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("orders client: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("orders client: invalid base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(base, "/"),
		authToken:  strings.TrimSpace(cfg.AuthToken),
		httpClient: httpClient,
	}, nil
}

type createOrderAddress struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
	ZipCode int    `json:"zipCode"`
	Phone   string `json:"phone"`
}

type createOrderRequest struct {
	ProductID    string             `json:"productId"`
	SizeSelected string             `json:"sizeSelected"`
	Quantity     int                `json:"quantity"`
	Address      createOrderAddress `json:"address"`
	Amount       int64              `json:"amount"`
}

type orderEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type orderData struct {
	OrderID string `json:"orderId"`
	MongoID string `json:"_id"`
}

// CreateOrder submits the draft to the order service and returns the new order ID.
// A success envelope that carries no order identifier is treated as a failure.
func (c *Client) CreateOrder(ctx context.Context, draft domain.OrderDraft) (string, error) {
	payload, err := encodeDraft(draft)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("orders client: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders/create-order", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("orders client: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("orders client: create order: %w", err)
	}
	defer resp.Body.Close()

	envelope, err := decodeEnvelope(resp)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !envelope.Success {
		return "", &APIError{StatusCode: resp.StatusCode, Message: envelope.Message}
	}

	id := extractOrderID(envelope.Data)
	if id == "" {
		return "", ErrMalformedResponse
	}
	return id, nil
}

// CancelOrder asks the order service to cancel a stale order. Used only by reconciliation.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("orders client: order id is required")
	}

	endpoint := fmt.Sprintf("%s/orders/%s/cancel", c.baseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("orders client: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("orders client: cancel order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	envelope, err := decodeEnvelope(resp)
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: envelope.Message}
}

// Ping reports whether the order service is reachable. Any HTTP response
// counts as reachable; only transport failures are errors.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("orders client: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("orders client: ping: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

func encodeDraft(draft domain.OrderDraft) (createOrderRequest, error) {
	if draft.ProductID == "" || draft.Quantity < 1 {
		return createOrderRequest{}, &DraftError{Reason: "missing product or quantity"}
	}

	zip, err := strconv.Atoi(strings.TrimSpace(draft.Address.Zipcode))
	if err != nil {
		return createOrderRequest{}, &DraftError{Field: "zipcode", Reason: fmt.Sprintf("%q is not numeric", draft.Address.Zipcode)}
	}

	return createOrderRequest{
		ProductID:    draft.ProductID,
		SizeSelected: draft.SizeSelected,
		Quantity:     draft.Quantity,
		Address: createOrderAddress{
			Street:  draft.Address.Street,
			City:    draft.Address.City,
			State:   draft.Address.State,
			Country: draft.Address.Country,
			ZipCode: zip,
			Phone:   draft.Contact.Phone,
		},
		Amount: draft.Amount,
	}, nil
}

func decodeEnvelope(resp *http.Response) (orderEnvelope, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return orderEnvelope{}, fmt.Errorf("orders client: read response: %w", err)
	}

	var envelope orderEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return orderEnvelope{}, fmt.Errorf("orders client: decode response: %w", err)
	}
	return envelope, nil
}

func extractOrderID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var data orderData
	if err := json.Unmarshal(raw, &data); err != nil {
		return ""
	}
	if id := strings.TrimSpace(data.OrderID); id != "" {
		return id
	}
	return strings.TrimSpace(data.MongoID)
}

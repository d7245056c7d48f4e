// Package servercart is the REST client for the authenticated user's cart.
// Errors are returned to the caller unchanged in meaning; nothing is retried
// or swallowed here.
package servercart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scentara/storefront-cart/internal/auth"
	"github.com/scentara/storefront-cart/internal/domain"
	"github.com/scentara/storefront-cart/internal/logger"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxErrorBody = 4 << 10

type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	tokens     auth.TokenSource
	log        *zap.Logger
}

type addItemRequest struct {
	ProductID      string   `json:"productId"`
	PriceOptionIDs []string `json:"productPriceIds"`
	Quantity       int      `json:"quantity"`
}

type updateQuantityRequest struct {
	PriceOptionIDs []string `json:"productPriceIds"`
	Quantity       int      `json:"quantity"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	log = logger.OrNop(log)
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "cart-api",
		MaxRequests: 1,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || clientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: breaker,
		tokens:  auth.StaticToken(""),
		log:     log,
	}
}

// For returns a client that authenticates with tokens. The copy shares the
// transport and circuit breaker with c.
func (c *Client) For(tokens auth.TokenSource) *Client {
	cp := *c
	cp.tokens = tokens
	return &cp
}

func (c *Client) Fetch(ctx context.Context) (*domain.ServerCart, error) {
	body, err := c.do(ctx, http.MethodGet, "/cart", nil)
	if err != nil {
		return nil, err
	}

	var cart domain.ServerCart
	if len(bytes.TrimSpace(body)) == 0 {
		return &cart, nil
	}
	if err := json.Unmarshal(body, &cart); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return &cart, nil
}

func (c *Client) AddItem(ctx context.Context, productID string, priceOptionIDs []string, quantity int) error {
	_, err := c.do(ctx, http.MethodPost, "/cart/items", addItemRequest{
		ProductID:      productID,
		PriceOptionIDs: priceOptionIDs,
		Quantity:       quantity,
	})
	return err
}

func (c *Client) UpdateQuantity(ctx context.Context, productID string, priceOptionIDs []string, quantity int) error {
	_, err := c.do(ctx, http.MethodPut, "/cart/items/"+url.PathEscape(productID), updateQuantityRequest{
		PriceOptionIDs: priceOptionIDs,
		Quantity:       quantity,
	})
	return err
}

// RemoveItem removes every line of the product.
func (c *Client) RemoveItem(ctx context.Context, productID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/cart/items/"+url.PathEscape(productID), nil)
	return err
}

func (c *Client) Clear(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/cart", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	token := c.tokens.Token()
	if token == "" {
		return nil, ErrNoToken
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, token, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrCircuitOpen)
	}
	if err != nil {
		logger.WithTrace(ctx, c.log).Debug("cart api call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return nil, err
	}
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var er errorResponse
	if json.Unmarshal(data, &er) == nil {
		apiErr.Message = er.Message
		if apiErr.Message == "" {
			apiErr.Message = er.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

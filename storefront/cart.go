/*
Package storefront holds thin clients for the storefront platform's own
endpoints: cart state, cart mutation, and the rendered cart fragment. The
platform owns these surfaces; this package only consumes them on behalf of
the chat widget.
*/
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// CartClient reads and lazily creates the storefront cart.
type CartClient struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger

	// probeVariantID is the variant used for the zero-quantity add that
	// forces cart creation. Any sellable variant works; the line never
	// appears in the cart.
	probeVariantID string
}

// NewCartClient builds a cart client for the storefront at baseURL. Pass
// nil to use http.DefaultClient.
func NewCartClient(baseURL, probeVariantID string, httpClient *http.Client, logger *logrus.Logger) *CartClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CartClient{
		baseURL:        baseURL,
		http:           httpClient,
		logger:         logger,
		probeVariantID: probeVariantID,
	}
}

// cartState matches the /cart.js payload; only the token matters here.
type cartState struct {
	Token string `json:"token"`
}

// CartID fetches the current cart token. A storefront session with no
// cart yet returns an empty token.
func (c *CartClient) CartID(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cart.js", nil)
	if err != nil {
		return "", fmt.Errorf("build cart request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch cart: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cart endpoint returned status %d", resp.StatusCode)
	}

	var state cartState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return "", fmt.Errorf("decode cart payload: %w", err)
	}
	return state.Token, nil
}

// EnsureCart returns the cart token, creating the cart first when the
// storefront has none: a zero-quantity line item is added to force the
// platform to mint a cart, then the token is fetched again.
func (c *CartClient) EnsureCart(ctx context.Context) (string, error) {
	token, err := c.CartID(ctx)
	if err != nil {
		return "", err
	}
	if token != "" {
		return token, nil
	}

	if err := c.probeCart(ctx); err != nil {
		return "", err
	}

	token, err = c.CartID(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", fmt.Errorf("cart token still empty after creation probe")
	}

	c.logger.WithField("cartID", token).Info("Created storefront cart")
	return token, nil
}

// probeCart posts the zero-quantity add that forces cart creation.
func (c *CartClient) probeCart(ctx context.Context) error {
	payload := map[string]any{
		"items": []map[string]any{
			{"id": c.probeVariantID, "quantity": 0},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode cart probe: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cart/add.js", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build cart probe: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cart probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("cart probe returned status %d", resp.StatusCode)
	}
	return nil
}

// CartFragment fetches the rendered cart page for patching the drawer and
// count regions after a cart mutation. Rendering is the UI adapter's
// concern; this just hands back the HTML.
func (c *CartClient) CartFragment(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cart", nil)
	if err != nil {
		return "", fmt.Errorf("build cart fragment request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch cart fragment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cart fragment returned status %d", resp.StatusCode)
	}

	html, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read cart fragment: %w", err)
	}
	return string(html), nil
}

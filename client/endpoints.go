package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jmcleod/wordvault/api"
	"github.com/jmcleod/wordvault/vault"
)

var _ vault.Remote = (*Client)(nil)

// InitRegistration starts a registration and returns the issued bundle.
func (c *Client) InitRegistration(ctx context.Context) (*api.RegistrationBundle, error) {
	var bundle api.RegistrationBundle
	if err := c.doJSON(ctx, http.MethodPost, "/register/init", nil, &bundle, false); err != nil {
		return nil, err
	}
	return &bundle, nil
}

// VerifyTOTP confirms the authenticator enrolment of a pending registration.
func (c *Client) VerifyTOTP(ctx context.Context, accountUUID, code string) error {
	req := api.VerifyTOTPRequest{UUID: accountUUID, Code: code}
	return c.doJSON(ctx, http.MethodPost, "/register/verify-totp", req, nil, false)
}

// Register completes a registration.
func (c *Client) Register(ctx context.Context, req *api.RegisterRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/register", req, nil, false)
}

// LoginProof sends the step-3 payload usernameHash || proofKey.
func (c *Client) LoginProof(ctx context.Context, payload []byte) error {
	_, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/login",
		contentType: "application/octet-stream",
		body:        payload,
	})
	return err
}

// LoginCode sends the step-4 one-time code and returns the raw response:
// wrappedKey || uuid || vault JSON.
func (c *Client) LoginCode(ctx context.Context, payload []byte) ([]byte, error) {
	return c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/login",
		contentType: "application/octet-stream",
		body:        payload,
	})
}

// Logout ends the server session and drops the signing key.
func (c *Client) Logout(ctx context.Context) error {
	c.ClearSigningKey()
	_, err := c.do(ctx, request{method: http.MethodPost, path: "/logout"})
	return err
}

// ListItems fetches one page of items.
func (c *Client) ListItems(ctx context.Context, limit, offset int) (*vault.ItemPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/vault/items"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp api.ListItemsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp, false); err != nil {
		return nil, err
	}
	return &vault.ItemPage{
		Items:  resp.Items,
		Total:  resp.Pagination.TotalCount,
		Limit:  resp.Pagination.Limit,
		Offset: resp.Pagination.Offset,
	}, nil
}

// CreateItem uploads a new item.
func (c *Client) CreateItem(ctx context.Context, acct vault.Account, item *vault.Item) error {
	req := api.ItemMutationRequest{UUID: acct.UUID, UsernameHash: acct.UsernameHash, Item: *item}
	return c.doJSON(ctx, http.MethodPost, "/vault/items", req, nil, true)
}

// UpdateItem replaces an item.
func (c *Client) UpdateItem(ctx context.Context, acct vault.Account, item *vault.Item) error {
	req := api.ItemMutationRequest{UUID: acct.UUID, UsernameHash: acct.UsernameHash, Item: *item}
	return c.doJSON(ctx, http.MethodPut, "/vault/items/"+url.PathEscape(item.ID), req, nil, true)
}

// DeleteItem removes an item. The signed body names the item again.
func (c *Client) DeleteItem(ctx context.Context, acct vault.Account, itemID string) error {
	req := api.ItemMutationRequest{UUID: acct.UUID, UsernameHash: acct.UsernameHash, Item: vault.Item{ID: itemID}}
	return c.doJSON(ctx, http.MethodDelete, "/vault/items/"+url.PathEscape(itemID), req, nil, true)
}

// RotatePassword replaces the wrapped key and password verifiers.
func (c *Client) RotatePassword(ctx context.Context, req *api.PasswordChangeRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/account/password", req, nil, true)
}

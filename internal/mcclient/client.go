// Package mcclient is a thin REST client for internal/httpserver's
// control-plane API, in the style of the teacher's HTTPMCPClient: a base
// URL, a shared *http.Client and one sendRequest helper that every typed
// call funnels through.
package mcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Instance mirrors internal/registry.Instance's JSON shape.
type Instance struct {
	ID               string    `json:"ID"`
	Name             string    `json:"Name"`
	OwnerID          string    `json:"OwnerID"`
	ParentInstanceID string    `json:"ParentInstanceID"`
	Readonly         bool      `json:"Readonly"`
	Revision         uint64    `json:"Revision"`
	CreatedAt        time.Time `json:"CreatedAt"`
	UpdatedAt        time.Time `json:"UpdatedAt"`
}

// Delegate mirrors internal/httpserver's delegateView DTO. SecretHash is
// never sent over the wire; Secret is populated only by CreateDelegate's
// response, and only once.
type Delegate struct {
	ID           string     `json:"id"`
	InstanceID   string     `json:"instanceId"`
	OwnerID      string     `json:"ownerId"`
	CanRead      bool       `json:"-"`
	CanWrite     bool       `json:"-"`
	CanSystem    bool       `json:"-"`
	Capabilities uint8      `json:"capabilities"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Secret       string     `json:"-"`
}

const (
	permRead   uint8 = 1 << 0
	permWrite  uint8 = 1 << 1
	permSystem uint8 = 1 << 2
)

func (d *Delegate) decodeCapabilities() {
	d.CanRead = d.Capabilities&permRead != 0
	d.CanWrite = d.Capabilities&permWrite != 0
	d.CanSystem = d.Capabilities&permSystem != 0
}

// Client talks to one mindcache authority's REST control plane.
type Client struct {
	BaseURL string
	UserID  string
	HTTP    *http.Client
}

// New builds a Client targeting baseURL, presenting userID as X-User-Id
// on every request (the unsecure auth mode's identity header).
func New(baseURL, userID string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: baseURL,
		UserID:  userID,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("mcclient: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("mcclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.UserID != "" {
		req.Header.Set("X-User-Id", c.UserID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("mcclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		data, _ := io.ReadAll(resp.Body)
		if jsonErr := json.Unmarshal(data, &apiErr); jsonErr == nil && apiErr.Message != "" {
			return fmt.Errorf("mcclient: %s %s: %s (%s)", method, path, apiErr.Message, apiErr.Kind)
		}
		return fmt.Errorf("mcclient: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mcclient: decode response: %w", err)
	}
	return nil
}

// CreateInstance creates a new instance, generating an ID server-side
// when id is empty.
func (c *Client) CreateInstance(ctx context.Context, id, name string) (*Instance, error) {
	var inst Instance
	body := map[string]string{"id": id, "name": name}
	if err := c.do(ctx, http.MethodPost, "/api/instances", body, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstances lists every instance visible to the client's user.
func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	var list []Instance
	if err := c.do(ctx, http.MethodGet, "/api/instances", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetInstance fetches one instance by ID.
func (c *Client) GetInstance(ctx context.Context, id string) (*Instance, error) {
	var inst Instance
	if err := c.do(ctx, http.MethodGet, "/api/instances/"+id, nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// DeleteInstance deletes an instance and stops its authority session.
func (c *Client) DeleteInstance(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/instances/"+id, nil, nil)
}

// CloneInstance creates a new instance seeded from source's snapshot.
func (c *Client) CloneInstance(ctx context.Context, sourceID, newID, name string) (*Instance, error) {
	var inst Instance
	body := map[string]string{"id": newID, "name": name}
	if err := c.do(ctx, http.MethodPost, "/api/instances/"+sourceID+"/clone", body, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// CreateDelegate issues a scoped credential against instanceID. The
// returned Delegate.Secret is the only time the plaintext secret is
// ever available; the server stores only its hash.
func (c *Client) CreateDelegate(ctx context.Context, instanceID, id string, canRead, canWrite, canSystem bool, ttl time.Duration) (*Delegate, error) {
	body := map[string]any{
		"id": id, "canRead": canRead, "canWrite": canWrite, "canSystem": canSystem,
		"ttlSeconds": int(ttl.Seconds()),
	}
	var resp struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/instances/"+instanceID+"/delegates", body, &resp); err != nil {
		return nil, err
	}
	d := &Delegate{ID: resp.ID, InstanceID: instanceID, Secret: resp.Secret}
	return d, nil
}

// ListDelegates lists the delegates issued against instanceID.
func (c *Client) ListDelegates(ctx context.Context, instanceID string) ([]Delegate, error) {
	var list []Delegate
	if err := c.do(ctx, http.MethodGet, "/api/instances/"+instanceID+"/delegates", nil, &list); err != nil {
		return nil, err
	}
	for i := range list {
		list[i].decodeCapabilities()
	}
	return list, nil
}

// DeleteDelegate revokes a delegate credential.
func (c *Client) DeleteDelegate(ctx context.Context, instanceID, delegateID string) error {
	return c.do(ctx, http.MethodDelete, "/api/instances/"+instanceID+"/delegates/"+delegateID, nil, nil)
}

// GrantPermission grants actorID the given capability bits on instanceID.
func (c *Client) GrantPermission(ctx context.Context, instanceID, actorID string, canRead, canWrite, canSystem bool) error {
	body := map[string]any{"actorId": actorID, "canRead": canRead, "canWrite": canWrite, "canSystem": canSystem}
	return c.do(ctx, http.MethodPost, "/api/instances/"+instanceID+"/permissions", body, nil)
}

// RevokePermission removes actorID's permission grant on instanceID.
func (c *Client) RevokePermission(ctx context.Context, instanceID, actorID string) error {
	return c.do(ctx, http.MethodDelete, "/api/instances/"+instanceID+"/permissions/"+actorID, nil, nil)
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/cbrcs/studysession/internal/domain"
)

// SessionInfo is the registry answer a participant needs before dialing.
type SessionInfo struct {
	Group            domain.SessionView   `json:"group"`
	Members          []domain.UserID      `json:"members"`
	LiveParticipants []domain.Participant `json:"live_participants"`
	WebsocketURL     string               `json:"websocket_url"`
}

// RegistryClient talks to the session registry REST API. Its cookie jar
// carries the password-verified flag between calls.
type RegistryClient struct {
	base *url.URL
	http *http.Client
}

// NewRegistryClient targets base, e.g. "http://localhost:8080". A nil hc
// gets a client with its own cookie jar.
func NewRegistryClient(base string, hc *http.Client) (*RegistryClient, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("registry url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("registry url: unsupported scheme %q", u.Scheme)
	}
	if hc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc = &http.Client{Jar: jar, Timeout: 10 * time.Second}
	}
	return &RegistryClient{base: u, http: hc}, nil
}

func (r *RegistryClient) SessionInfo(ctx context.Context, id domain.GroupID) (SessionInfo, error) {
	var out SessionInfo
	err := r.call(ctx, http.MethodGet, r.groupPath(id, "session-info"), nil, &out)
	return out, err
}

func (r *RegistryClient) VerifyPassword(ctx context.Context, id domain.GroupID, password string) error {
	return r.call(ctx, http.MethodPost, r.groupPath(id, "verify-password"), map[string]string{"password": password}, nil)
}

func (r *RegistryClient) JoinSession(ctx context.Context, id domain.GroupID, uid domain.UserID) error {
	return r.call(ctx, http.MethodPost, r.groupPath(id, "join-session"), map[string]domain.UserID{"user_id": uid}, nil)
}

// LeaveSession reports whether the registry deleted the group because
// nobody is left.
func (r *RegistryClient) LeaveSession(ctx context.Context, id domain.GroupID, uid domain.UserID) (bool, error) {
	var out struct {
		GroupDeleted bool `json:"group_deleted"`
	}
	err := r.call(ctx, http.MethodPost, r.groupPath(id, "leave-session"), map[string]domain.UserID{"user_id": uid}, &out)
	return out.GroupDeleted, err
}

func (r *RegistryClient) KeepAlive(ctx context.Context, id domain.GroupID) error {
	return r.call(ctx, http.MethodPost, r.groupPath(id, "keep-alive"), struct{}{}, nil)
}

// WebsocketURL resolves a websocket path from session-info against the
// registry base, switching http(s) to ws(s).
func (r *RegistryClient) WebsocketURL(ref string) (string, error) {
	rel, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	u := r.base.ResolveReference(rel)
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// Header carries the registry cookies onto the websocket handshake.
func (r *RegistryClient) Header() http.Header {
	h := http.Header{}
	if r.http.Jar == nil {
		return h
	}
	for _, c := range r.http.Jar.Cookies(r.base) {
		h.Add("Cookie", c.String())
	}
	return h
}

func (r *RegistryClient) groupPath(id domain.GroupID, action string) string {
	return "/api/sessions/" + url.PathEscape(string(id)) + "/" + action
}

func (r *RegistryClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &RegistryError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("registry %s %s: decode: %w", method, path, err)
	}
	return nil
}

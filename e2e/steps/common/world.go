//go:build e2e

// Package common holds the per-scenario world shared by every step package
// and the generic steps (actors, clock, response assertions).
package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	jwttoken "practicum/internal/jwt_token"
	id "practicum/pkg/domain"
)

// Clock is the fake wall clock the server under test stamps requests with.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Suite is created once per run; scenarios share the server and isolate
// themselves by minting fresh tenant ids.
type Suite struct {
	BaseURL string
	Client  *http.Client
	Clock   *Clock
	JWT     *jwttoken.JWTService
}

type User struct {
	ID     id.UserID
	Tenant id.TenantID
	Role   id.Role
	Bearer string
}

// World is the state of one scenario.
type World struct {
	*Suite
	tenants  map[string]id.TenantID
	users    map[string]*User
	Tokens   map[string]string
	Meetings map[string]string

	Status int
	Body   []byte
}

func NewWorld(s *Suite) *World {
	return &World{
		Suite:    s,
		tenants:  make(map[string]id.TenantID),
		users:    make(map[string]*User),
		Tokens:   make(map[string]string),
		Meetings: make(map[string]string),
	}
}

func (w *World) Tenant(alias string) id.TenantID {
	t, ok := w.tenants[alias]
	if !ok {
		t = id.TenantID(uuid.New())
		w.tenants[alias] = t
	}
	return t
}

func (w *World) AddUser(alias string, role id.Role, tenantAlias string) error {
	u := &User{ID: id.UserID(uuid.New()), Tenant: w.Tenant(tenantAlias), Role: role}
	bearer, err := w.JWT.GenerateAccessToken(u.ID, u.Tenant, role, time.Hour)
	if err != nil {
		return fmt.Errorf("mint access token for %s: %w", alias, err)
	}
	u.Bearer = bearer
	w.users[alias] = u
	return nil
}

func (w *World) User(alias string) (*User, error) {
	u, ok := w.users[alias]
	if !ok {
		return nil, fmt.Errorf("unknown actor %q", alias)
	}
	return u, nil
}

// Do sends a request as actor and records the response.
func (w *World) Do(actor, method, path string, body any) error {
	u, err := w.User(actor)
	if err != nil {
		return err
	}
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, w.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+u.Bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	w.Status = resp.StatusCode
	w.Body, err = io.ReadAll(resp.Body)
	return err
}

// Decode unmarshals the last response body.
func (w *World) Decode(v any) error {
	if err := json.Unmarshal(w.Body, v); err != nil {
		return fmt.Errorf("decode response %q: %w", string(w.Body), err)
	}
	return nil
}

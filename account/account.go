// Package account authenticates an API key against the Guild Wars 2 account
// API and reads the account's achievement progress.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/jmcleod/gw2link/httpclient"
	"github.com/jmcleod/gw2link/internal/util"
)

const (
	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://api.guildwars2.com"

	authorizationHeader = "Authorization"

	pathAccount             = "/v2/account"
	pathAccountAchievements = "/v2/account/achievements"
	pathAchievements        = "/v2/achievements"
)

// State is the authorization state of a Client.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unauthenticated"
	}
}

// Identity is the account record returned by a successful lookup.
type Identity struct {
	AccountID   string
	AccountName string
	Access      []string
	AgeSeconds  int64
}

// HasAccess reports whether the account carries the entitlement tag.
func (id *Identity) HasAccess(tag string) bool {
	for _, a := range id.Access {
		if a == tag {
			return true
		}
	}
	return false
}

func (id *Identity) clone() *Identity {
	cp := *id
	cp.Access = append([]string(nil), id.Access...)
	return &cp
}

// Client holds the credential and identity of one account.
//
// callMu serializes sequences of remote calls so the bearer header installed
// by Authorize is never swapped while an achievement call is in flight. mu
// guards the fields below it and is never held across network I/O.
type Client struct {
	http    *httpclient.Client
	baseURL string
	retry   RetryPolicy
	logger  *slog.Logger

	callMu sync.Mutex

	mu          sync.RWMutex
	state       State
	lastOutcome Outcome
	identity    *Identity
	key         *memguard.Enclave
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates an unauthenticated Client issuing requests through hc.
func New(hc *httpclient.Client, opts ...Option) *Client {
	c := &Client{
		http:    hc,
		baseURL: DefaultBaseURL,
		retry:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "account")
	return c
}

type accountRecord struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Age    int64    `json:"age"`
	Access []string `json:"access"`
}

type errorBody struct {
	Text string `json:"text"`
}

// errorText extracts the "text" description from an API error body.
func errorText(body []byte) string {
	var e errorBody
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.Text
}

var errIncompleteRecord = errors.New("account record missing id or name")

func parseIdentity(body []byte) (*Identity, error) {
	var rec accountRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, err
	}
	if rec.ID == "" || rec.Name == "" {
		return nil, errIncompleteRecord
	}
	if rec.Age < 0 {
		rec.Age = 0
	}
	return &Identity{
		AccountID:   rec.ID,
		AccountName: rec.Name,
		Access:      rec.Access,
		AgeSeconds:  rec.Age,
	}, nil
}

// Authorize validates apiKey against the account endpoint. Any identity held
// from an earlier attempt is cleared first, so only a Finished outcome leaves
// an identity behind. Transport and protocol failures are reported as
// OutcomeFailed and never returned as errors.
func (c *Client) Authorize(ctx context.Context, apiKey string) Outcome {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	logger := c.logger.With("attempt", uuid.NewString())
	c.begin()

	key := util.NormalizeInput(apiKey)
	if key == "" {
		logger.Warn("authorization without api key")
		return c.fail(OutcomeFailed)
	}

	c.http.UpdateHeaders(map[string]string{authorizationHeader: "Bearer " + key})

	resp, err := c.get(ctx, pathAccount, nil)
	if err != nil {
		logger.Error("account lookup failed", "error", err)
		return c.fail(OutcomeFailed)
	}

	if resp.Status == http.StatusOK {
		identity, err := parseIdentity(resp.Body)
		if err == nil {
			c.commit(key, identity)
			logger.Info("authorized", "account_id", identity.AccountID)
			return OutcomeFinished
		}
		logger.Warn("unparseable account record", "error", err)
	}

	text := errorText(resp.Body)
	outcome, known := outcomeFromText(text)
	if !known && text != "" {
		logger.Error("unknown error description", "status", resp.Status, "text", text)
	}
	logger.Warn("authorization failed", "status", resp.Status, "outcome", outcome.String())
	return c.fail(outcome)
}

func (c *Client) begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = nil
	c.key = nil
	c.state = StateAuthenticating
}

func (c *Client) commit(key string, identity *Identity) {
	enclave := memguard.NewEnclave([]byte(key))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
	c.key = enclave
	c.state = StateAuthenticated
	c.lastOutcome = OutcomeFinished
}

func (c *Client) fail(outcome Outcome) Outcome {
	c.http.RemoveHeader(authorizationHeader)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = nil
	c.key = nil
	c.state = StateFailed
	c.lastOutcome = outcome
	return outcome
}

// State returns the current authorization state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastOutcome returns the outcome of the most recent finished attempt.
func (c *Client) LastOutcome() Outcome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastOutcome
}

// Identity returns a copy of the authorized identity, or nil.
func (c *Client) Identity() *Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return nil
	}
	return c.identity.clone()
}

// APIKey returns the authorized API key, or "" when not authorized.
func (c *Client) APIKey() string {
	c.mu.RLock()
	enclave := c.key
	c.mu.RUnlock()
	if enclave == nil {
		return ""
	}

	lb, err := enclave.Open()
	if err != nil {
		c.logger.Error("opening key enclave", "error", err)
		return ""
	}
	defer lb.Destroy()
	return string(lb.Bytes())
}

func (c *Client) authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateAuthenticated
}

// Close drops the credential and identity.
func (c *Client) Close() {
	c.http.RemoveHeader(authorizationHeader)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = nil
	c.key = nil
	c.state = StateUnauthenticated
}

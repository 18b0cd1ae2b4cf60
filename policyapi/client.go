/*
Package policyapi is the client of the remote Policy API, the system of record
for policies and their installments.

CALL STACK (every operation):
  span "policyapi.<Op>"
    -> circuit breaker (gobreaker)
       -> retry with exponential backoff
          -> HTTP request with bearer token

ERROR CLASSES:
  4xx:       permanent. Not retried, does not trip the breaker.
             404 -> ErrNotFound, 401/403 -> ErrUnauthorized, else ErrRejected.
  5xx, I/O:  transient. Retried, counted by the breaker -> ErrUnavailable.
             Create calls are never retried: a timeout may hide a commit.

SESSION:
  The client logs in with service credentials on first use and again when
  the access token's exp claim has passed or the API answers 401. The token
  is only decoded, never verified: the API is the verifier.

ENDPOINTS:
  POST /auth/login                         Login
  GET  /api/apolices                       ListPolicies
  GET  /api/apolices/{id}                  FetchPolicy
  DELETE /api/apolices/{id}                DeletePolicy
  POST /api/apolices                       CreatePolicy
  PUT  /api/apolices/{id}                  UpdatePolicy (also deletes installments)
  POST /api/apolices/{id}/parcelas         CreateInstallment
  POST /api/apolices/parcelas/{id}/pay     RecordPayment
*/
package policyapi

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
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/warp/policy-installments/installment"
	"github.com/warp/policy-installments/observability"
	"github.com/warp/policy-installments/resilience"
)

var tracer = otel.Tracer("policyapi")

// singleShot lists operations that create a record on the server. A lost
// response does not mean the write was lost, so they run exactly once.
var singleShot = map[string]bool{
	"CreatePolicy":      true,
	"CreateInstallment": true,
}

// expirySkew renews the session slightly before the token expires.
const expirySkew = 30 * time.Second

// Credentials are the service account used to log in.
type Credentials struct {
	Email    string
	Password string
}

// Session is an authenticated session with the Policy API.
type Session struct {
	UserID       ID
	Email        string
	Role         string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // zero when the token carries no exp claim
}

// Valid reports whether the session can still be used at now.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Add(expirySkew).Before(s.ExpiresAt)
}

// Options configures a Client. Zero fields get defaults.
type Options struct {
	HTTPClient  *http.Client
	Breaker     *gobreaker.CircuitBreaker
	Retry       resilience.Config
	Credentials Credentials
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// Client calls the Policy API. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	creds      Credentials
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	mu      sync.Mutex
	session *Session
}

// New creates a Client for the API at baseURL.
func New(baseURL string, opts Options) *Client {
	c := &Client{
		httpClient: opts.HTTPClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cb:         opts.Breaker,
		cfg:        opts.Retry,
		creds:      opts.Credentials,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        time.Now,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.cb == nil {
		c.cb = resilience.NewCircuitBreaker("policy-api")
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Login authenticates with the configured credentials and keeps the session.
func (c *Client) Login(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) (*Session, error) {
	if c.creds.Email == "" {
		return nil, &APIError{Op: "Login", Message: "no credentials configured", Err: ErrUnauthorized}
	}

	var resp loginResponse
	req := loginRequest{Email: c.creds.Email, Password: c.creds.Password}
	if err := c.call(ctx, "Login", http.MethodPost, "/auth/login", "", req, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, &APIError{Op: "Login", Message: "empty access token", Err: ErrMalformedResponse}
	}

	s := &Session{
		UserID:       resp.UserID,
		Email:        resp.Email,
		Role:         resp.Role,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    tokenExpiry(resp.AccessToken),
	}
	c.session = s
	c.logger.Info("policy api session established",
		zap.String("email", s.Email),
		zap.String("role", s.Role),
		zap.Time("expires_at", s.ExpiresAt),
	)
	return s, nil
}

// FetchPolicy returns the policy with its installments.
func (c *Client) FetchPolicy(ctx context.Context, id installment.PolicyID) (*Policy, error) {
	var p Policy
	if err := c.do(ctx, "FetchPolicy", http.MethodGet, "/api/apolices/"+url.PathEscape(string(id)), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPolicies returns every policy visible to the service account.
func (c *Client) ListPolicies(ctx context.Context) ([]Policy, error) {
	var ps []Policy
	if err := c.do(ctx, "ListPolicies", http.MethodGet, "/api/apolices", nil, &ps); err != nil {
		return nil, err
	}
	if ps == nil {
		ps = []Policy{}
	}
	return ps, nil
}

// DeletePolicy deletes a policy together with its installments.
func (c *Client) DeletePolicy(ctx context.Context, id installment.PolicyID) error {
	return c.do(ctx, "DeletePolicy", http.MethodDelete, "/api/apolices/"+url.PathEscape(string(id)), nil, nil)
}

// CreatePolicy creates a policy. Installments are added separately.
func (c *Client) CreatePolicy(ctx context.Context, in PolicyInput) (*Policy, error) {
	var p Policy
	if err := c.do(ctx, "CreatePolicy", http.MethodPost, "/api/apolices", in, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, &APIError{Op: "CreatePolicy", Message: "response has no idApolice", Err: ErrMalformedResponse}
	}
	return &p, nil
}

// UpdatePolicy replaces the policy fields. Installments listed in
// in.Installments with Remove set are deleted.
func (c *Client) UpdatePolicy(ctx context.Context, id installment.PolicyID, in PolicyInput) (*Policy, error) {
	var p Policy
	if err := c.do(ctx, "UpdatePolicy", http.MethodPut, "/api/apolices/"+url.PathEscape(string(id)), in, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateInstallment adds one installment to a policy.
func (c *Client) CreateInstallment(ctx context.Context, policyID installment.PolicyID, in NewInstallment) (*Installment, error) {
	var inst Installment
	path := "/api/apolices/" + url.PathEscape(string(policyID)) + "/parcelas"
	if err := c.do(ctx, "CreateInstallment", http.MethodPost, path, in, &inst); err != nil {
		return nil, err
	}
	if inst.Key() == "" {
		return nil, &APIError{Op: "CreateInstallment", Message: "response has no installment id", Err: ErrMalformedResponse}
	}
	return &inst, nil
}

// RecordPayment marks an installment as paid on paidOn.
func (c *Client) RecordPayment(ctx context.Context, id installment.PersistedID, paidOn installment.Date) (*Installment, error) {
	var inst Installment
	path := "/api/apolices/parcelas/" + url.PathEscape(string(id)) + "/pay"
	if err := c.do(ctx, "RecordPayment", http.MethodPost, path, Payment{PaymentDate: paidOn}, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

// do performs an authenticated call. A 401 drops the session and the call is
// repeated once with a fresh login.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	for attempt := 0; ; attempt++ {
		token, err := c.token(ctx)
		if err != nil {
			return err
		}

		err = c.call(ctx, op, method, path, token, body, out)
		if attempt == 0 && errors.Is(err, ErrUnauthorized) {
			c.dropSession(token)
			continue
		}
		return err
	}
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Valid(c.now()) {
		return c.session.AccessToken, nil
	}
	s, err := c.loginLocked(ctx)
	if err != nil {
		return "", err
	}
	return s.AccessToken, nil
}

// dropSession forgets the session unless another goroutine already renewed it.
func (c *Client) dropSession(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.AccessToken == token {
		c.session = nil
	}
}

// call runs one logical request through tracing, the breaker and retries.
func (c *Client) call(ctx context.Context, op, method, path, token string, body, out any) error {
	ctx, span := tracer.Start(ctx, "policyapi."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	)

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("policyapi %s: encode request: %w", op, err)
		}
	}

	retry := c.cfg
	if singleShot[op] {
		retry.MaxRetries = 0
	}

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, retry, func() error {
			return c.roundTrip(ctx, op, method, path, token, payload, out)
		})
	})
	if err == nil {
		return nil
	}

	err = classify(op, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if c.metrics != nil {
		c.metrics.IncrExternalError(op)
	}
	c.logger.Warn("policy api call failed",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Error(err),
	)
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path, token string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return resilience.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Message: readMessage(resp.Body)}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			apiErr.Err = ErrNotFound
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			apiErr.Err = ErrUnauthorized
		case resp.StatusCode < 500:
			apiErr.Err = ErrRejected
		default:
			apiErr.Err = ErrUnavailable
			return apiErr
		}
		return resilience.Permanent(apiErr)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return resilience.Permanent(&APIError{Op: op, StatusCode: resp.StatusCode, Message: err.Error(), Err: ErrMalformedResponse})
	}
	return nil
}

// classify strips the retry marker and maps transport and breaker failures
// to ErrUnavailable.
func classify(op string, err error) error {
	var perr *resilience.PermanentError
	if errors.As(err, &perr) {
		err = perr.Err
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &APIError{Op: op, Message: err.Error(), Err: errors.Join(ErrUnavailable, err)}
}

// readMessage extracts a human message from an error body.
func readMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}

// tokenExpiry reads the exp claim without verifying the signature.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

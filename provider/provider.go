package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 15 * time.Second

	// Response headers carrying a renewed pair on a recognized continuation.
	headerRenewedAccess  = "X-Renewed-Access"
	headerRenewedRefresh = "X-Renewed-Refresh"
	headerAntiForgery    = "X-CSRF-Token"

	maxResponseBody = 256 << 10
)

// Config locates the credential-issuing endpoints. Paths default to the
// engine's conventional layout; the field names on the wire must stay stable.
type Config struct {
	BaseURL string

	LoginPath       string
	RegisterPath    string
	RefreshPath     string
	LogoutPath      string
	ProbePath       string
	AntiForgeryPath string

	// AntiForgeryCookie is consulted before the dedicated endpoint.
	AntiForgeryCookie string

	Timeout   time.Duration
	UserAgent string
}

// Normalize fills unset fields with the conventional defaults. New applies
// it; callers that need to know the effective paths may apply it themselves.
func (c Config) Normalize() Config {
	if c.LoginPath == "" {
		c.LoginPath = "/auth/login"
	}
	if c.RegisterPath == "" {
		c.RegisterPath = "/auth/register"
	}
	if c.RefreshPath == "" {
		c.RefreshPath = "/auth/refresh"
	}
	if c.LogoutPath == "" {
		c.LogoutPath = "/auth/logout"
	}
	if c.ProbePath == "" {
		c.ProbePath = "/auth/user-info"
	}
	if c.AntiForgeryPath == "" {
		c.AntiForgeryPath = "/auth/csrf"
	}
	if c.AntiForgeryCookie == "" {
		c.AntiForgeryCookie = "csrf_token"
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = "goAuthClient"
	}
	return c
}

// Profile is the server's view of the authenticated user.
type Profile struct {
	ID          string `json:"id"`
	Identity    string `json:"identity,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// ProfileDraft is the registration payload.
type ProfileDraft struct {
	Identity    string `json:"identity"`
	Secret      string `json:"secret"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Pair is one freshly minted credential pair.
type Pair struct {
	Access  string
	Refresh string
}

// Result is a pair plus the profile the server returned with it.
type Result struct {
	Pair
	Profile Profile
}

// Client issues the credential lifecycle round trips. Safe for concurrent
// use after construction.
type Client struct {
	cfg  Config
	base *url.URL
	http *http.Client
	log  zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client. The replacement
// should carry a cookie jar or silent session continuation will not work.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New builds a provider Client. The default HTTP client is a pooled
// cleanhttp client with a fresh cookie jar; the jar is what lets the server
// recognize a continuing session when no bearer exists.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.Normalize()
	if cfg.BaseURL == "" {
		return nil, errors.New("provider requires a base URL")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	hc := cleanhttp.DefaultPooledClient()
	hc.Jar = jar

	c := &Client{
		cfg:  cfg,
		base: base,
		http: hc,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type loginRequest struct {
	Identity        string          `json:"identity"`
	Secret          string          `json:"secret"`
	DeviceSignature DeviceSignature `json:"deviceSignature"`
}

type registerRequest struct {
	ProfileDraft
	DeviceSignature DeviceSignature `json:"deviceSignature"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type tokenResponse struct {
	Access  string  `json:"access"`
	Refresh string  `json:"refresh"`
	User    Profile `json:"user"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields"`
}

// reply is a fully consumed HTTP response.
type reply struct {
	status int
	header http.Header
	body   []byte
}

// Login exchanges an identity/secret pair for a credential pair. The caller
// owns handing the result to the token store.
func (c *Client) Login(ctx context.Context, identity, secret string, sig DeviceSignature) (*Result, error) {
	rep, err := c.postJSON(ctx, c.cfg.LoginPath, loginRequest{Identity: identity, Secret: secret, DeviceSignature: sig})
	if err != nil {
		return nil, err
	}
	if rep.status != http.StatusOK {
		return nil, classify(rep, ErrInvalidCredentials)
	}
	return decodeResult(rep.body)
}

// Register creates an account; same token-handling contract as Login.
func (c *Client) Register(ctx context.Context, draft ProfileDraft, sig DeviceSignature) (*Result, error) {
	rep, err := c.postJSON(ctx, c.cfg.RegisterPath, registerRequest{ProfileDraft: draft, DeviceSignature: sig})
	if err != nil {
		return nil, err
	}
	if rep.status != http.StatusOK && rep.status != http.StatusCreated {
		return nil, classify(rep, ErrInvalidCredentials)
	}
	return decodeResult(rep.body)
}

// Refresh exchanges the long-lived refresh credential for a new pair. An
// explicit 401 means the server revoked or expired it ([ErrRefreshRejected]);
// everything transport-shaped stays transient.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	if refreshToken == "" {
		return nil, ErrRefreshRejected
	}
	rep, err := c.postJSON(ctx, c.cfg.RefreshPath, refreshRequest{Refresh: refreshToken})
	if err != nil {
		return nil, err
	}
	if rep.status == http.StatusUnauthorized {
		return nil, classify(rep, ErrRefreshRejected)
	}
	if rep.status != http.StatusOK {
		return nil, classify(rep, ErrUnknown)
	}

	var tr tokenResponse
	if err := json.Unmarshal(rep.body, &tr); err != nil {
		return nil, fmt.Errorf("%w: undecodable refresh response: %v", ErrUnknown, err)
	}
	if tr.Access == "" {
		return nil, fmt.Errorf("%w: refresh response missing access credential", ErrUnknown)
	}
	return &Pair{Access: tr.Access, Refresh: tr.Refresh}, nil
}

// Logout revokes the refresh credential best-effort. Callers clear local
// state regardless of the outcome here.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	rep, err := c.postJSON(ctx, c.cfg.LogoutPath, refreshRequest{Refresh: refreshToken})
	if err != nil {
		return err
	}
	if rep.status != http.StatusOK {
		return classify(rep, ErrUnknown)
	}
	return nil
}

// Probe asks the server to recognize a continuing session without a bearer.
// The device signature travels as query parameters; a recognized session
// returns the renewed pair in response headers, a plain 401 means
// [ErrNoSession].
func (c *Client) Probe(ctx context.Context, sig DeviceSignature) (*Result, error) {
	u := c.resolve(c.cfg.ProbePath)
	u.RawQuery = sig.Query().Encode()

	rep, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if rep.status == http.StatusUnauthorized {
		return nil, ErrNoSession
	}
	if rep.status != http.StatusOK {
		return nil, classify(rep, ErrNoSession)
	}

	access := rep.header.Get(headerRenewedAccess)
	refresh := rep.header.Get(headerRenewedRefresh)
	if access == "" {
		return nil, fmt.Errorf("%w: continuation response missing renewed credential", ErrNoSession)
	}

	var body struct {
		User Profile `json:"user"`
	}
	if err := json.Unmarshal(rep.body, &body); err != nil {
		c.log.Debug().Err(err).Msg("continuation profile undecodable")
	}
	return &Result{Pair: Pair{Access: access, Refresh: refresh}, Profile: body.User}, nil
}

// AntiForgeryToken fetches the token required on state-changing requests:
// the configured cookie when the jar already holds one, otherwise the
// dedicated endpoint. Callers cache the result.
func (c *Client) AntiForgeryToken(ctx context.Context) (string, error) {
	if c.http.Jar != nil {
		for _, ck := range c.http.Jar.Cookies(c.base) {
			if ck.Name == c.cfg.AntiForgeryCookie && ck.Value != "" {
				return ck.Value, nil
			}
		}
	}

	rep, err := c.do(ctx, http.MethodGet, c.resolve(c.cfg.AntiForgeryPath), nil)
	if err != nil {
		return "", err
	}
	if rep.status != http.StatusOK {
		return "", classify(rep, ErrUnknown)
	}
	if tok := rep.header.Get(headerAntiForgery); tok != "" {
		return tok, nil
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rep.body, &body); err != nil || body.Token == "" {
		return "", fmt.Errorf("%w: anti-forgery response carried no token", ErrUnknown)
	}
	return body.Token, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*reply, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, c.resolve(path), buf)
}

// do performs one round trip with the per-call timeout applied, consuming
// the body before the context is released.
func (c *Client) do(ctx context.Context, method string, u *url.URL, payload []byte) (*reply, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(callCtx, method, u.String(), rd)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, transportError(err)
	}
	return &reply{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

func (c *Client) resolve(path string) *url.URL {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := *c.base
	u.Path = strings.TrimSuffix(c.base.Path, "/") + path
	return &u
}

func decodeResult(body []byte) (*Result, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: undecodable token response: %v", ErrUnknown, err)
	}
	if tr.Access == "" {
		return nil, fmt.Errorf("%w: token response missing access credential", ErrUnknown)
	}
	return &Result{Pair: Pair{Access: tr.Access, Refresh: tr.Refresh}, Profile: tr.User}, nil
}

// classify maps a non-2xx reply to the error taxonomy. unauthorized is the
// operation-specific meaning of a 401.
func classify(rep *reply, unauthorized error) error {
	var body errorResponse
	_ = json.Unmarshal(rep.body, &body)

	switch {
	case rep.status == http.StatusBadRequest:
		ve := &ValidationError{Message: body.Error, Fields: body.Fields}
		if ve.Message == "" {
			ve.Message = body.Detail
		}
		return ve
	case rep.status == http.StatusUnauthorized:
		if body.Detail != "" {
			return fmt.Errorf("%w: %s", unauthorized, body.Detail)
		}
		return unauthorized
	case rep.status == http.StatusForbidden:
		return ErrPermissionDenied
	case rep.status >= 500:
		return fmt.Errorf("%w: status %d", ErrServiceUnavailable, rep.status)
	default:
		return fmt.Errorf("%w: status %d", ErrUnknown, rep.status)
	}
}

// transportError folds network failures into the taxonomy. Deadline
// expiration is the caller's own timeout, kept distinct from server trouble.
func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}

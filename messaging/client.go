// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/net/publicsuffix"

	"github.com/bureau-foundation/wxweb/lib/clock"
	"github.com/bureau-foundation/wxweb/lib/netutil"
)

// Defaults for ClientConfig fields left zero.
const (
	DefaultLoginURL        = "https://login.weixin.qq.com"
	DefaultAppID           = "wx782c26e4c19acffb"
	DefaultLang            = "zh_CN"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultLongPollTimeout = 35 * time.Second
	DefaultUserAgent       = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// LoginURL is the origin of the login host. Default DefaultLoginURL.
	LoginURL string
	// AppID is the web client's application id sent to jslogin.
	AppID string
	// Lang is the UI language sent with login and init calls.
	Lang string
	// UserAgent is sent on every request. The server rejects
	// requests that do not look like a browser.
	UserAgent string

	// RequestTimeout bounds every ordinary call.
	RequestTimeout time.Duration
	// LongPollTimeout bounds the login status poll and synccheck. The
	// server holds these for up to ~25 seconds, so this must be longer.
	LongPollTimeout time.Duration

	// HTTPClient is copied and given the client's cookie jar. If nil, a
	// client with a gzip/zstd decoding transport is built.
	HTTPClient *http.Client
	// Clock supplies request timestamps. If nil, clock.Real() is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is the protocol transport. It owns the HTTP client and the
// cookie jar, and performs the unauthenticated login calls. A
// successful ticket exchange yields a Session that shares the Client.
type Client struct {
	loginURL        string
	appID           string
	lang            string
	userAgent       string
	requestTimeout  time.Duration
	longPollTimeout time.Duration

	httpClient *http.Client
	jar        http.CookieJar
	clock      clock.Clock
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(config ClientConfig) (*Client, error) {
	loginURL := config.LoginURL
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}
	parsed, err := url.Parse(loginURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("messaging: invalid LoginURL %q", loginURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("messaging: creating cookie jar: %w", err)
	}

	var httpClient *http.Client
	if config.HTTPClient != nil {
		copied := *config.HTTPClient
		httpClient = &copied
	} else {
		httpClient = &http.Client{Transport: gzhttp.Transport(http.DefaultTransport)}
	}
	httpClient.Jar = jar

	client := &Client{
		loginURL:        strings.TrimRight(loginURL, "/"),
		appID:           valueOr(config.AppID, DefaultAppID),
		lang:            valueOr(config.Lang, DefaultLang),
		userAgent:       valueOr(config.UserAgent, DefaultUserAgent),
		requestTimeout:  config.RequestTimeout,
		longPollTimeout: config.LongPollTimeout,
		httpClient:      httpClient,
		jar:             jar,
		clock:           config.Clock,
		logger:          config.Logger,
	}
	if client.requestTimeout <= 0 {
		client.requestTimeout = DefaultRequestTimeout
	}
	if client.longPollTimeout <= 0 {
		client.longPollTimeout = DefaultLongPollTimeout
	}
	if client.clock == nil {
		client.clock = clock.Real()
	}
	if client.logger == nil {
		client.logger = slog.Default()
	}
	return client, nil
}

// CloseIdleConnections drops pooled connections. The engine calls this
// after a transport error so the next attempt opens a fresh socket.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Clock returns the client's time source.
func (c *Client) Clock() clock.Clock {
	return c.clock
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// request describes one HTTP exchange.
type request struct {
	op       string
	method   string
	url      string
	query    url.Values
	jsonBody any
	form     url.Values
	header   http.Header
	longPoll bool
}

// response is the raw result of a completed exchange.
type response struct {
	statusCode int
	header     http.Header
	body       []byte
}

// errPollTimeout marks a long-poll call that hit its client-side
// bound. Callers treat it as "nothing happened".
var errPollTimeout = errors.New("long-poll timeout")

// do performs the exchange under the per-call timeout. Network errors
// and 5xx responses become *TransportError; a long-poll call that times
// out returns errPollTimeout. Other statuses are returned to the caller
// with the body, because media endpoints and JSON endpoints classify
// them differently.
func (c *Client) do(ctx context.Context, req request, limit int64) (*response, error) {
	timeout := c.requestTimeout
	if req.longPoll {
		timeout = c.longPollTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := req.url
	if len(req.query) > 0 {
		separator := "?"
		if strings.Contains(target, "?") {
			separator = "&"
		}
		target += separator + req.query.Encode()
	}

	var bodyReader io.Reader
	var contentType string
	switch {
	case req.jsonBody != nil:
		encoded, err := json.Marshal(req.jsonBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: %s: encoding request body: %w", req.op, err)
		}
		bodyReader = bytes.NewReader(encoded)
		contentType = "application/json;charset=UTF-8"
	case req.form != nil:
		bodyReader = strings.NewReader(req.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	httpRequest, err := http.NewRequestWithContext(callCtx, req.method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("messaging: %s: creating request: %w", req.op, err)
	}
	for name, values := range req.header {
		for _, value := range values {
			httpRequest.Header.Add(name, value)
		}
	}
	if contentType != "" {
		httpRequest.Header.Set("Content-Type", contentType)
	}
	httpRequest.Header.Set("User-Agent", c.userAgent)

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if req.longPoll && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, errPollTimeout
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: req.op, Err: err}
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode >= 500 {
		return nil, &TransportError{
			Op:         req.op,
			StatusCode: httpResponse.StatusCode,
			Err:        errors.New(netutil.ErrorBody(httpResponse.Body)),
		}
	}

	var body []byte
	if limit > 0 {
		body, err = netutil.ReadMedia(httpResponse.Body, limit)
	} else {
		body, err = netutil.ReadResponse(httpResponse.Body)
	}
	if err != nil {
		if errors.Is(err, netutil.ErrTooLarge) {
			return nil, &ProtocolError{Op: req.op, StatusCode: httpResponse.StatusCode, Message: err.Error()}
		}
		if req.longPoll && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, errPollTimeout
		}
		return nil, &TransportError{Op: req.op, Err: fmt.Errorf("reading body: %w", err)}
	}

	return &response{
		statusCode: httpResponse.StatusCode,
		header:     httpResponse.Header,
		body:       body,
	}, nil
}

// doJSON performs a call whose reply is JSON with a BaseResponse and
// decodes it into result.
func (c *Client) doJSON(ctx context.Context, req request, result any) error {
	resp, err := c.do(ctx, req, 0)
	if err != nil {
		return err
	}
	if resp.statusCode < 200 || resp.statusCode >= 300 {
		return &ProtocolError{Op: req.op, StatusCode: resp.statusCode, Message: truncate(string(resp.body))}
	}
	if err := json.Unmarshal(resp.body, result); err != nil {
		return &ProtocolError{Op: req.op, StatusCode: resp.statusCode, Message: "malformed response: " + err.Error()}
	}
	return nil
}

// doText performs a call whose reply is a short text or script body.
func (c *Client) doText(ctx context.Context, req request) (string, error) {
	resp, err := c.do(ctx, req, 0)
	if err != nil {
		return "", err
	}
	if resp.statusCode < 200 || resp.statusCode >= 300 {
		return "", &ProtocolError{Op: req.op, StatusCode: resp.statusCode, Message: truncate(string(resp.body))}
	}
	return string(resp.body), nil
}

func truncate(s string) string {
	const limit = 200
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// millis returns the current time in milliseconds for cache-busting
// query parameters.
func (c *Client) millis() int64 {
	return c.clock.Now().UnixMilli()
}

// cookieValue returns the named cookie the jar holds for origin.
func (c *Client) cookieValue(origin, name string) string {
	parsed, err := url.Parse(origin + "/")
	if err != nil {
		return ""
	}
	for _, cookie := range c.jar.Cookies(parsed) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

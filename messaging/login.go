// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"crypto/rand"
	"encoding/xml"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// LoginUUID is a short-lived login token issued by the login host and
// encoded in the QR code the user scans.
type LoginUUID struct {
	Value    string
	IssuedAt time.Time
}

// LoginState is the outcome of one login status poll.
type LoginState int

const (
	// LoginPending means nothing has happened yet (server code 408, or
	// the poll timed out).
	LoginPending LoginState = iota
	// LoginScanned means the phone scanned the code and is waiting for
	// the user to confirm (server code 201).
	LoginScanned
	// LoginConfirmed means the user confirmed; RedirectURL is set
	// (server code 200).
	LoginConfirmed
	// LoginExpired means the uuid expired (server code 400).
	LoginExpired
	// LoginCanceled means the user declined on the phone (server code 402).
	LoginCanceled
)

func (s LoginState) String() string {
	switch s {
	case LoginPending:
		return "pending"
	case LoginScanned:
		return "scanned"
	case LoginConfirmed:
		return "confirmed"
	case LoginExpired:
		return "expired"
	case LoginCanceled:
		return "canceled"
	default:
		return "LoginState(" + strconv.Itoa(int(s)) + ")"
	}
}

// LoginStatus is the parsed reply of a login status poll.
type LoginStatus struct {
	State LoginState
	// AvatarDataURL is the scanning user's avatar as a data: URL, set
	// when State is LoginScanned and the server sent one.
	AvatarDataURL string
	// RedirectURL carries the login ticket, set when State is
	// LoginConfirmed.
	RedirectURL string
}

// Login status codes sent as window.code.
const (
	loginCodeConfirmed = 200
	loginCodeScanned   = 201
	loginCodeExpired   = 400
	loginCodeCanceled  = 402
	loginCodePending   = 408
)

var (
	uuidPattern     = regexp.MustCompile(`window\.QRLogin\.code\s*=\s*(\d+);\s*window\.QRLogin\.uuid\s*=\s*"([^"]+)"`)
	qrCodePattern   = regexp.MustCompile(`window\.QRLogin\.code\s*=\s*(\d+)`)
	codePattern     = regexp.MustCompile(`window\.code\s*=\s*(\d+)`)
	avatarPattern   = regexp.MustCompile(`window\.userAvatar\s*=\s*'([^']*)'`)
	redirectPattern = regexp.MustCompile(`window\.redirect_uri\s*=\s*"([^"]+)"`)
)

// RequestUUID asks the login host for a fresh login uuid.
func (c *Client) RequestUUID(ctx context.Context) (LoginUUID, error) {
	body, err := c.doText(ctx, request{
		op:     "jslogin",
		method: http.MethodGet,
		url:    c.loginURL + "/jslogin",
		query: url.Values{
			"appid":        {c.appID},
			"fun":          {"new"},
			"lang":         {c.lang},
			"redirect_uri": {c.loginURL + "/cgi-bin/mmwebwx-bin/webwxnewloginpage"},
			"_":            {strconv.FormatInt(c.millis(), 10)},
		},
	})
	if err != nil {
		return LoginUUID{}, err
	}

	match := uuidPattern.FindStringSubmatch(body)
	if match == nil {
		if code := qrCodePattern.FindStringSubmatch(body); code != nil {
			ret, _ := strconv.Atoi(code[1])
			return LoginUUID{}, &ProtocolError{Op: "jslogin", Ret: ret, Message: "no uuid issued"}
		}
		return LoginUUID{}, &ProtocolError{Op: "jslogin", Message: "malformed response: " + truncate(body)}
	}
	if match[1] != "200" {
		ret, _ := strconv.Atoi(match[1])
		return LoginUUID{}, &ProtocolError{Op: "jslogin", Ret: ret, Message: "uuid request refused"}
	}

	c.logger.Debug("login uuid issued", "uuid", match[2])
	return LoginUUID{Value: match[2], IssuedAt: c.clock.Now()}, nil
}

// QRCodeURL returns the URL of the QR code image for uuid.
func (c *Client) QRCodeURL(uuid LoginUUID) string {
	return c.loginURL + "/qrcode/" + uuid.Value
}

// QRCodeContent returns the text the QR code encodes, for callers that
// render the code themselves.
func (c *Client) QRCodeContent(uuid LoginUUID) string {
	return c.loginURL + "/l/" + uuid.Value
}

// PollLogin performs one long-poll of the login status for uuid. The
// server holds the request until something happens or ~25 seconds
// pass; a client-side timeout is reported as LoginPending. tip should
// be true on the first poll after issuance and false afterwards.
func (c *Client) PollLogin(ctx context.Context, uuid LoginUUID, tip bool) (LoginStatus, error) {
	tipValue := "0"
	if tip {
		tipValue = "1"
	}
	now := c.millis()
	body, err := c.doText(ctx, request{
		op:     "login",
		method: http.MethodGet,
		url:    c.loginURL + "/cgi-bin/mmwebwx-bin/login",
		query: url.Values{
			"loginicon": {"true"},
			"uuid":      {uuid.Value},
			"tip":       {tipValue},
			// The web client sends the bitwise complement of the
			// timestamp here.
			"r": {strconv.FormatInt(^now, 10)},
			"_": {strconv.FormatInt(now, 10)},
		},
		longPoll: true,
	})
	if errors.Is(err, errPollTimeout) {
		return LoginStatus{State: LoginPending}, nil
	}
	if err != nil {
		return LoginStatus{}, err
	}
	return parseLoginStatus(body)
}

func parseLoginStatus(body string) (LoginStatus, error) {
	match := codePattern.FindStringSubmatch(body)
	if match == nil {
		return LoginStatus{}, &ProtocolError{Op: "login", Message: "malformed response: " + truncate(body)}
	}
	code, _ := strconv.Atoi(match[1])

	switch code {
	case loginCodePending:
		return LoginStatus{State: LoginPending}, nil
	case loginCodeScanned:
		status := LoginStatus{State: LoginScanned}
		if avatar := avatarPattern.FindStringSubmatch(body); avatar != nil {
			status.AvatarDataURL = avatar[1]
		}
		return status, nil
	case loginCodeConfirmed:
		redirect := redirectPattern.FindStringSubmatch(body)
		if redirect == nil {
			return LoginStatus{}, &ProtocolError{Op: "login", Ret: code, Message: "confirmed without redirect_uri"}
		}
		return LoginStatus{State: LoginConfirmed, RedirectURL: redirect[1]}, nil
	case loginCodeExpired:
		return LoginStatus{State: LoginExpired}, nil
	case loginCodeCanceled:
		return LoginStatus{State: LoginCanceled}, nil
	default:
		return LoginStatus{}, &ProtocolError{Op: "login", Ret: code, Message: "unknown login code"}
	}
}

// ExchangeTicket trades the redirect URL from a confirmed login for
// session credentials. The API host is taken from the redirect URL;
// the push and file hosts are derived from it.
func (c *Client) ExchangeTicket(ctx context.Context, redirectURL string) (*Session, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil || parsed.Host == "" {
		return nil, &ProtocolError{Op: "newloginpage", Message: fmt.Sprintf("invalid redirect URL %q", redirectURL)}
	}
	query := parsed.Query()
	query.Set("fun", "new")
	query.Set("version", "v2")
	parsed.RawQuery = query.Encode()

	body, err := c.doText(ctx, request{
		op:     "newloginpage",
		method: http.MethodGet,
		url:    parsed.String(),
	})
	if err != nil {
		return nil, err
	}

	var ticket loginTicket
	if err := xml.Unmarshal([]byte(body), &ticket); err != nil {
		return nil, &ProtocolError{Op: "newloginpage", Message: "malformed response: " + err.Error()}
	}
	if err := checkRet("newloginpage", ticket.Ret, ticket.Message); err != nil {
		return nil, err
	}
	if ticket.Wxsid == "" || ticket.Wxuin == 0 {
		return nil, &ProtocolError{Op: "newloginpage", Message: "response missing wxsid or wxuin"}
	}

	deviceID, err := NewDeviceID()
	if err != nil {
		return nil, err
	}

	session := newSession(c, HostsFor(parsed.Scheme+"://"+parsed.Host), Credentials{
		Uin:        ticket.Wxuin,
		Sid:        ticket.Wxsid,
		Skey:       ticket.Skey,
		PassTicket: ticket.PassTicket,
		DeviceID:   deviceID,
	})
	c.logger.Info("login ticket exchanged", "uin", ticket.Wxuin, "api_host", session.hosts.API)
	return session, nil
}

// NewDeviceID returns a fresh client device id: "e" followed by 15
// random digits.
func NewDeviceID() (string, error) {
	var builder strings.Builder
	builder.WriteByte('e')
	for range 15 {
		digit, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("messaging: generating device id: %w", err)
		}
		builder.WriteByte(byte('0' + digit.Int64()))
	}
	return builder.String(), nil
}

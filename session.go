package combivox

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// SessionState is the state of the login handshake.
type SessionState uint8

const (
	StateDisconnected SessionState = iota
	StateAwaitingFirstAck
	StateAwaitingCookie
	StateAuthenticated
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingFirstAck:
		return "awaiting_first_ack"
	case StateAwaitingCookie:
		return "awaiting_cookie"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// session is one authenticated login: its own cookie jar and the cookie the
// panel handed out.
type session struct {
	http   *http.Client
	jar    http.CookieJar
	cookie string
}

func (s *session) close() {
	s.http.CloseIdleConnections()
}

// handshake runs login.cgi then login2.cgi until the panel sets a cookie.
func (c *Client) handshake(ctx context.Context) (*session, error) {
	cred, err := NewCredential(c.code, c.cfg.protocol, c.cfg.random)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("could not create cookie jar: %w", err)
	}
	sess := &session{
		jar: jar,
		http: &http.Client{
			Transport: c.cfg.transport,
			Timeout:   c.cfg.timeout,
			Jar:       jar,
		},
	}

	c.setState(StateAwaitingFirstAck)
	c.log.Debug("login", "user", cred.Username)
	resp, err := c.postLogin(ctx, sess, pathLogin, cred.Token)
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("%w: could not call login.cgi: %w", ErrAuthentication, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		sess.close()
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, &HTTPError{StatusCode: resp.StatusCode, Path: pathLogin})
	}

	c.setState(StateAwaitingCookie)
	for i, delay := range c.cfg.loginSchedule {
		if err := sleep(ctx, delay); err != nil {
			sess.close()
			return nil, err
		}
		resp, err := c.postLogin(ctx, sess, pathLogin2, cred.Token)
		if err != nil {
			c.log.Debug("login2 failed", "attempt", i+1, "err", err)
			continue
		}
		_ = resp.Body.Close()
		if cookie := c.firstCookie(sess, resp); cookie != "" {
			sess.cookie = cookie
			c.log.Info("authenticated", "addr", c.base.Host, "attempt", i+1)
			return sess, nil
		}
		c.log.Debug("no cookie yet", "attempt", i+1, "status", resp.StatusCode)
	}

	sess.close()
	return nil, fmt.Errorf("%w: no session cookie after %d attempts", ErrAuthentication, len(c.cfg.loginSchedule))
}

func (c *Client) postLogin(ctx context.Context, sess *session, path, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost,
		c.base.String()+loginPath(path, token),
		strings.NewReader(loginPayload(token)),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return sess.http.Do(req)
}

// firstCookie prefers the cookies of the response, then whatever the jar
// holds for the panel.
func (c *Client) firstCookie(sess *session, resp *http.Response) string {
	for _, ck := range resp.Cookies() {
		if ck.Name != "" {
			return ck.Name + "=" + ck.Value
		}
	}
	for _, ck := range sess.jar.Cookies(c.base) {
		if ck.Name != "" {
			return ck.Name + "=" + ck.Value
		}
	}
	return ""
}

// hasJarCookie reports whether the jar will send a cookie to u by itself.
func (s *session) hasJarCookie(u *url.URL) bool {
	return len(s.jar.Cookies(u)) > 0
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

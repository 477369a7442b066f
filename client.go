package combivox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/sync/cio"
	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
	"github.com/j-keck/arping"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "combivox",
})

// Client talks to the web interface of a Combivox Amica panel.
// It is safe for concurrent use.
type Client struct {
	base    *url.URL
	code    string
	cfg     *config
	log     *logp.Logger
	decoder Decoder

	// authMu serialises handshakes.
	authMu sync.Mutex

	mu      sync.RWMutex
	sess    *session
	state   SessionState
	catalog Catalog
}

// New creates a client for the panel at host:port. code is the user access
// code. Nothing is sent to the panel until the first request or Connect.
func New(host, port, code string, opts ...Option) (*Client, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	if host == "" {
		return nil, errors.New("host must not be empty")
	}
	if port == "" {
		port = "80"
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("could not create client: %w", err)
		}
	}
	logger := cfg.logger
	if logger == nil {
		logger = log
	}
	cli := &Client{
		base: &url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)},
		code: code,
		cfg:  cfg,
		log:  logger,
		decoder: Decoder{
			Layout:   cfg.layout,
			Revision: cfg.revision,
			Logger:   logger,
		},
	}
	if cfg.catalog != nil {
		cli.catalog = *cfg.catalog
	}
	return cli, nil
}

// MacAddress resolves the hardware address of the panel.
// It needs the cap_net_raw capability.
func MacAddress(ip string) (string, error) {
	hw, _, err := arping.Ping(net.ParseIP(ip))
	if err != nil {
		return "", fmt.Errorf("could not get the mac address: %w", err)
	}
	return hw.String(), nil
}

// Connect logs in and loads the catalog, unless one was given with
// WithCatalog.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.current(ctx); err != nil {
		return fmt.Errorf("could not connect: %w", err)
	}
	if !c.Catalog().Empty() {
		return nil
	}
	if _, err := c.LoadCatalog(ctx); err != nil {
		return fmt.Errorf("could not connect: %w", err)
	}
	return nil
}

// Reauthenticate drops the current session and logs in again.
func (c *Client) Reauthenticate(ctx context.Context) error {
	c.mu.RLock()
	stale := c.sess
	c.mu.RUnlock()
	_, err := c.reauthenticate(ctx, stale)
	return err
}

func (c *Client) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Close drops the session. The client can still be used afterwards, and
// will log in again on the next request.
func (c *Client) Close() error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	if sess != nil {
		sess.close()
	}
	return nil
}

func (c *Client) Catalog() Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catalog
}

func (c *Client) SetCatalog(cat Catalog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog = cat
}

func (c *Client) setState(s SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Client) current(ctx context.Context) (*session, error) {
	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()
	if sess != nil {
		return sess, nil
	}
	return c.reauthenticate(ctx, nil)
}

// reauthenticate replaces stale with a new session. When another caller
// already replaced it, that session is returned instead.
func (c *Client) reauthenticate(ctx context.Context, stale *session) (*session, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	c.mu.RLock()
	cur := c.sess
	c.mu.RUnlock()
	if cur != nil && cur != stale {
		return cur, nil
	}

	sess, err := c.handshake(ctx)
	if err != nil {
		c.mu.Lock()
		if c.sess == stale {
			c.sess = nil
		}
		c.state = StateFailed
		c.mu.Unlock()
		if stale != nil {
			stale.close()
		}
		return nil, err
	}

	c.mu.Lock()
	old := c.sess
	c.sess = sess
	c.state = StateAuthenticated
	c.mu.Unlock()
	if old != nil {
		old.close()
	}
	return sess, nil
}

// withSession runs fn with the current session, logging in again and
// retrying once when the panel reports the session as expired.
func (c *Client) withSession(ctx context.Context, fn func(sess *session) error) error {
	sess, err := c.current(ctx)
	if err != nil {
		return err
	}
	err = fn(sess)
	if !errors.Is(err, ErrSessionExpired) {
		return err
	}
	c.log.Warn("session expired, authenticating again")
	sess, err = c.reauthenticate(ctx, sess)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		return err
	}
	return nil
}

type request struct {
	method  string
	path    string
	body    string
	referer string
}

func get(path string) request {
	return request{method: http.MethodGet, path: path}
}

func post(path, body string) request {
	return request{method: http.MethodPost, path: path, body: body}
}

func (r request) withReferer(path string) request {
	r.referer = path
	return r
}

func (c *Client) do(ctx context.Context, sess *session, r request) ([]byte, error) {
	var body io.Reader
	if r.method == http.MethodPost {
		body = strings.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.base.String()+r.path, body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	if r.method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if r.referer != "" {
		req.Header.Set("Referer", c.base.String()+r.referer)
	}
	if sess.cookie != "" && !sess.hasJarCookie(req.URL) {
		req.Header.Set("Cookie", sess.cookie)
	}

	resp, err := sess.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request %s: %w", r.path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(cio.TimeoutReader(resp.Body, c.cfg.timeout))
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", r.path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, &HTTPError{StatusCode: resp.StatusCode, Path: r.path})
	case resp.StatusCode != http.StatusOK:
		return nil, &HTTPError{StatusCode: resp.StatusCode, Path: r.path}
	case strings.Contains(r.path, ".xml") && looksLikeHTML(data):
		return nil, fmt.Errorf("%w: %s returned a web page", ErrSessionExpired, r.path)
	}
	return data, nil
}

// looksLikeHTML detects the login page the panel serves instead of XML
// once the session is gone.
func looksLikeHTML(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.Contains(head, []byte("<html"))
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.retryDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.retries), ctx)
}

// retryable marks the errors a new attempt can't fix as permanent.
func retryable(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var herr *HTTPError
	switch {
	case ctx.Err() != nil,
		errors.Is(err, ErrAuthentication),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrMissingStatus),
		errors.Is(err, ErrMarkerNotFound),
		errors.As(err, &herr) && !herr.transient():
		return backoff.Permanent(err)
	}
	return err
}

// Status fetches and decodes the current panel status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	cat := c.Catalog()
	zones, areas := cat.ZoneIDs(), cat.AreaCount()

	var status Status
	err := backoff.RetryNotify(func() error {
		return retryable(ctx, c.withSession(ctx, func(sess *session) error {
			body, err := c.do(ctx, sess, get(pathStatus))
			if err != nil {
				return err
			}
			st, err := c.decoder.DecodeXML(body, zones, areas)
			if err != nil {
				return err
			}
			status = st
			return nil
		}))
	}, c.retryPolicy(ctx), func(err error, d time.Duration) {
		c.log.Warn("could not get status, retrying", "err", err, "in", d)
	})
	if err != nil {
		return Status{}, fmt.Errorf("could not get status: %w", err)
	}
	status.Updated = time.Now()
	return status, nil
}

// command sends a request that changes the panel state. It is never
// retried once the panel answered.
func (c *Client) command(ctx context.Context, name string, r request) ([]byte, error) {
	var body []byte
	err := c.withSession(ctx, func(sess *session) (err error) {
		body, err = c.do(ctx, sess, r)
		return err
	})
	var herr *HTTPError
	if errors.As(err, &herr) && !errors.Is(err, ErrAuthentication) {
		err = fmt.Errorf("%w: %w", ErrCommandRejected, err)
	}
	if err != nil {
		return nil, fmt.Errorf("could not %s: %w", name, err)
	}
	return body, nil
}

// Arm arms the given areas. Areas outside the catalog are ignored.
func (c *Client) Arm(ctx context.Context, areas []int, mode ArmMode) error {
	mask := AreaMask(areas, c.Catalog().AreaCount())
	if mask == 0 {
		return fmt.Errorf("could not arm: no valid areas in %v", areas)
	}
	c.log.Debug("arm", "areas", areas, "mask", mask, "mode", mode)
	if _, err := c.command(ctx, "arm", post(pathArm, armPayload(mask, mode))); err != nil {
		return err
	}
	c.log.Info("armed", "areas", areas, "mode", mode)
	return nil
}

// Disarm disarms the given areas, keeping the others armed.
// No areas means all of them.
func (c *Client) Disarm(ctx context.Context, areas []int) error {
	count := c.Catalog().AreaCount()
	var mask uint16
	if len(areas) > 0 {
		status, err := c.Status(ctx)
		if err != nil {
			c.log.Warn("could not get status, disarming all areas", "err", err)
		} else {
			mask = DisarmMask(status.ArmedAreas, areas, count)
		}
	}
	c.log.Debug("disarm", "areas", areas, "mask", mask)
	if _, err := c.command(ctx, "disarm", post(pathArm, armPayload(mask, ArmNormal))); err != nil {
		return err
	}
	c.log.Info("disarmed", "areas", areas, "remaining", MaskAreas(mask))
	return nil
}

// ToggleBypass flips the inclusion of a zone.
func (c *Client) ToggleBypass(ctx context.Context, zone int) error {
	if zone < 1 {
		return fmt.Errorf("could not toggle bypass: invalid zone %d", zone)
	}
	if _, err := c.command(ctx, "toggle bypass", post(pathBypass, bypassPayload(zone))); err != nil {
		return err
	}
	c.log.Info("zone bypass toggled", "zone", zone)
	return nil
}

// ExecuteMacro runs a macro (scenario).
func (c *Client) ExecuteMacro(ctx context.Context, id int) error {
	r := post(pathMacro, macroPayload(id, c.code)).withReferer(refererMacros)
	body, err := c.command(ctx, "execute macro", r)
	if err != nil {
		return err
	}
	if err := parseMacroResult(body); err != nil {
		return fmt.Errorf("could not execute macro %d: %w", id, err)
	}
	c.log.Info("macro executed", "macro", id)
	return nil
}

// SetOutput turns a command output on or off. Buttons are only turned on.
func (c *Client) SetOutput(ctx context.Context, id int, on bool) error {
	r := post(pathOutput, outputPayload(id, on)).withReferer(refererOutputs)
	if _, err := c.command(ctx, "set output", r); err != nil {
		return err
	}
	c.log.Info("output set", "command", id, "on", on)
	return nil
}

func (c *Client) ClearAlarmMemory(ctx context.Context) error {
	if _, err := c.command(ctx, "clear alarm memory", post(pathClearMemory, clearMemoryPayload())); err != nil {
		return err
	}
	c.log.Info("alarm memory cleared")
	return nil
}

// fetch reads a panel resource with the current session.
func (c *Client) fetch(ctx context.Context, r request) ([]byte, error) {
	var body []byte
	err := c.withSession(ctx, func(sess *session) (err error) {
		body, err = c.do(ctx, sess, r)
		return err
	})
	return body, err
}

// DeviceInfo reads the panel model from jscript9.js.
func (c *Client) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	body, err := c.fetch(ctx, get(pathDeviceScript))
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("could not get device info: %w", err)
	}
	info, err := ParseDeviceInfo(body)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("could not get device info: %w", err)
	}
	return info, nil
}

// ActiveTrouble returns the active trouble, if any.
func (c *Client) ActiveTrouble(ctx context.Context) (Trouble, bool, error) {
	body, err := c.fetch(ctx, get(pathTrouble))
	if err != nil {
		return 0, false, fmt.Errorf("could not get troubles: %w", err)
	}
	v, ok := FirstValue(body)
	if !ok {
		return 0, false, nil
	}
	id, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("could not get troubles: invalid id %q", v)
	}
	return Trouble(id), true, nil
}

// AlarmMemoryLog returns the latest alarm memory entry.
func (c *Client) AlarmMemoryLog(ctx context.Context) ([]MemoryEntry, error) {
	body, err := c.fetch(ctx, get(pathMemoryIDs))
	if err != nil {
		return nil, fmt.Errorf("could not get alarm memory: %w", err)
	}
	id, ok := FirstValue(body)
	if !ok {
		return nil, nil
	}
	body, err = c.fetch(ctx, post(pathMemoryLabels, "comandi="+id+";"))
	if err != nil {
		return nil, fmt.Errorf("could not get alarm memory: %w", err)
	}
	elems, err := elements(body)
	if err != nil {
		return nil, fmt.Errorf("could not get alarm memory: %w", err)
	}
	raw, ok := elems["m"+id]
	if !ok || raw == "" {
		return nil, nil
	}
	msg, err := decodeLabel(raw)
	if err != nil {
		c.log.Warn("could not decode alarm memory", "id", id, "err", err)
		msg = raw
	}
	return []MemoryEntry{{ID: id, Message: msg}}, nil
}

// Package pushkit delivers encrypted push messages to browser-registered
// subscribers via their push services.
//
// Generic Event Delivery Using HTTP Push
// https://www.rfc-editor.org/rfc/rfc8030.html
//
// Encrypted Content-Encoding for HTTP:
// https://www.rfc-editor.org/rfc/rfc8188
//
// Message Encryption for Web Push
// https://www.rfc-editor.org/rfc/rfc8291.html
//
// Voluntary Application Server Identification (VAPID) for Web Push
// https://www.rfc-editor.org/rfc/rfc8292
package pushkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Urgency directly impacts battery life.
//
// https://www.rfc-editor.org/rfc/rfc8030.html#section-5.3
type Urgency string

const (
	// UrgencyVeryLow targets "On power and Wi-Fi".
	UrgencyVeryLow Urgency = "very-low"
	// UrgencyLow targets "On either power or Wi-Fi".
	UrgencyLow Urgency = "low"
	// UrgencyNormal targets "On neither power nor Wi-Fi".
	UrgencyNormal Urgency = "normal"
	// UrgencyHigh targets any state including "Low battery".
	UrgencyHigh Urgency = "high"
)

func (u Urgency) isValid() bool {
	switch u {
	case UrgencyVeryLow, UrgencyLow, UrgencyNormal, UrgencyHigh:
		return true
	}
	return false
}

const (
	// ExpirationDropIfUndeliverable asks the push service to drop the
	// message unless it can be delivered immediately.
	ExpirationDropIfUndeliverable = time.Duration(0)

	// ExpirationRecommendedMaximum is the longest retention push services
	// are recommended to honor.
	ExpirationRecommendedMaximum = 30 * 24 * time.Hour

	defaultConnectTimeout = 10 * time.Second
	idleConnTimeout       = 12 * time.Hour

	// Response bodies are only kept as diagnostics; cap what we keep. The
	// rest of the body is read and discarded.
	responseSnippetLen = 512
)

var defaultRetryIntervals = []time.Duration{
	500 * time.Millisecond,
	2 * time.Second,
	10 * time.Second,
}

// NetworkConfiguration tunes the manager's HTTP behavior.
type NetworkConfiguration struct {
	// RetryIntervals are the sleeps between attempts on retryable statuses.
	// nil means the default of [500ms, 2s, 10s]; an explicit empty slice
	// disables retries.
	RetryIntervals []time.Duration

	// AlwaysResolveTopics mints a random topic for sends that don't supply
	// one, so the push service can collapse repeated deliveries across
	// retries.
	AlwaysResolveTopics bool

	// ConnectTimeout bounds the TCP/TLS handshake. Default 10s.
	ConnectTimeout time.Duration

	// SendTimeout, when set, bounds a single delivery attempt.
	SendTimeout time.Duration

	// ConfirmationTimeout, when set, bounds the wait for the push service's
	// response headers.
	ConfirmationTimeout time.Duration

	// Proxy routes requests through an HTTP proxy. nil uses the
	// environment's proxy settings.
	Proxy *url.URL

	// Limiter, when set, paces outgoing attempts.
	Limiter *rate.Limiter
}

func (nc *NetworkConfiguration) retryIntervals() []time.Duration {
	if nc.RetryIntervals == nil {
		return defaultRetryIntervals
	}
	return nc.RetryIntervals
}

type tokenCacheKey struct {
	id     KeyID
	origin string
}

type tokenCacheEntry struct {
	header  string
	renewal time.Time
}

// A Manager sends push messages on behalf of one VAPID configuration. It is
// intended to be a process-wide singleton, is safe for concurrent use, and
// owns the token cache and the HTTP connection pool. Construct with
// NewManager, tear down with Shutdown.
type Manager struct {
	config  *Configuration
	keys    map[KeyID]*Key
	network NetworkConfiguration
	client  *http.Client
	log     *slog.Logger

	mu     sync.Mutex
	tokens map[tokenCacheKey]tokenCacheEntry
	closed bool

	inflight sync.WaitGroup
}

// SendOptions control a single delivery.
type SendOptions struct {
	// Expiration is how long the push service should retain the message,
	// carried in the TTL header. Zero means drop-if-undeliverable. Finite
	// values between zero and ExpirationRecommendedMaximum also become a
	// wall-clock deadline for delivery, bounding retries.
	Expiration time.Duration

	// Urgency defaults to UrgencyHigh.
	Urgency Urgency

	// Topic, when set, lets the push service replace queued messages.
	Topic Topic
}

// NewManager builds a manager around config. network may be nil for
// defaults; logger may be nil for slog.Default(). Keys are looked up by ID
// across the active and deprecated sets; on duplicate IDs the first
// occurrence wins.
func NewManager(config *Configuration, network *NetworkConfiguration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	var nc NetworkConfiguration
	if network != nil {
		nc = *network
	}

	keys := make(map[KeyID]*Key, len(config.ActiveKeys())+len(config.DeprecatedKeys()))
	for _, k := range config.ActiveKeys() {
		if _, ok := keys[k.ID()]; !ok {
			keys[k.ID()] = k
		}
	}
	for _, k := range config.DeprecatedKeys() {
		if _, ok := keys[k.ID()]; !ok {
			keys[k.ID()] = k
		}
	}

	m := &Manager{
		config:  config,
		keys:    keys,
		network: nc,
		client:  newHTTPClient(&nc),
		log:     logger,
		tokens:  make(map[tokenCacheKey]tokenCacheEntry),
	}
	m.log.Info("push manager configured",
		"activeKeys", len(config.ActiveKeys()),
		"deprecatedKeys", len(config.DeprecatedKeys()),
		"contact", config.Contact().String(),
		"tokenExpiration", config.TokenExpiration(),
		"tokenValidity", config.TokenValidity(),
		"retryIntervals", nc.retryIntervals())
	return m
}

func newHTTPClient(nc *NetworkConfiguration) *http.Client {
	connect := nc.ConnectTimeout
	if connect == 0 {
		connect = defaultConnectTimeout
	}
	proxy := http.ProxyFromEnvironment
	if nc.Proxy != nil {
		proxy = http.ProxyURL(nc.Proxy)
	}
	dialer := &net.Dialer{Timeout: connect}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 proxy,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   connect,
			ResponseHeaderTimeout: nc.ConfirmationTimeout,
			IdleConnTimeout:       idleConnTimeout,
			ForceAttemptHTTP2:     true,
		},
	}
}

// Configuration returns the manager's configuration.
func (m *Manager) Configuration() *Configuration { return m.config }

// CheckSize reports ErrMessageTooLarge for plaintexts that exceed the size
// every push service is guaranteed to accept. Send does not enforce this:
// larger messages are attempted and the service decides.
func CheckSize(message []byte) error {
	if len(message) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte limit",
			ErrMessageTooLarge, len(message), MaxMessageSize)
	}
	return nil
}

// loadAuthorization returns the Authorization header for requests to
// endpoint signed by key, minting and caching a token when no cached one
// remains within its validity window.
func (m *Manager) loadAuthorization(endpoint string, key *Key) (string, error) {
	org := origin(endpoint)
	cacheKey := tokenCacheKey{id: key.ID(), origin: org}

	now := time.Now()
	expiry := now.Add(min(m.config.TokenExpiration(), maxTokenExpiration))
	renewal := now.Add(m.config.TokenValidity())
	if renewal.After(expiry) {
		renewal = expiry
	}

	m.mu.Lock()
	entry, ok := m.tokens[cacheKey]
	m.mu.Unlock()
	if ok && now.Before(entry.renewal) {
		return entry.header, nil
	}

	m.log.Debug("minting VAPID token", "origin", org, "keyID", key.ID())
	token := NewToken(endpoint, m.config.Contact(), expiry.Unix())
	header, err := token.Authorization(key)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.tokens[cacheKey] = tokenCacheEntry{header: header, renewal: renewal}
	m.mu.Unlock()
	return header, nil
}

// Send encrypts message and delivers it to the subscriber, retrying
// transient push service failures. A nil error means the push service
// accepted the message (201); it does not imply delivery to the device.
func (m *Manager) Send(ctx context.Context, message []byte, sub *Subscriber, opts *SendOptions) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.inflight.Add(1)
	m.mu.Unlock()
	defer m.inflight.Done()

	if opts == nil {
		opts = &SendOptions{}
	}

	key, ok := m.keys[sub.KeyID]
	if !ok {
		m.log.Warn("subscriber VAPID key ID is unknown to this configuration",
			"endpoint", sub.Endpoint, "keyID", sub.KeyID)
		return ErrMatchingKeyNotFound
	}

	if len(message) > MaxMessageSize {
		m.log.Warn("message exceeds the guaranteed size limit, sending anyway",
			"endpoint", sub.Endpoint, "size", len(message), "limit", MaxMessageSize)
	}

	urgency := opts.Urgency
	if urgency == "" {
		urgency = UrgencyHigh
	}
	if !urgency.isValid() {
		return fmt.Errorf("pushkit: invalid urgency %q", urgency)
	}

	expiration := opts.Expiration
	if expiration < 0 {
		m.log.Error("negative expiration clamped to zero", "expiration", expiration)
		expiration = 0
	}
	if expiration > ExpirationRecommendedMaximum {
		m.log.Warn("expiration exceeds the recommended maximum, sending unchanged",
			"expiration", expiration)
	}
	// Finite intermediate expirations bound the whole delivery, retries
	// included. Zero and the recommended maximum only set the TTL header.
	var deadline time.Time
	if expiration > 0 && expiration < ExpirationRecommendedMaximum {
		deadline = time.Now().Add(expiration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	topic := opts.Topic
	if topic == "" && m.network.AlwaysResolveTopics {
		var err error
		if topic, err = RandomTopic(); err != nil {
			return err
		}
	}

	authorization, err := m.loadAuthorization(sub.Endpoint, key)
	if err != nil {
		return err
	}

	body, err := encryptMessage(message, sub.Keys)
	if err != nil {
		return err
	}

	intervals := m.network.retryIntervals()
	for {
		err := m.attempt(ctx, sub, body, authorization, urgency, topic, expiration, deadline, len(intervals))
		var rerr *retryableError
		if err == nil || !errors.As(err, &rerr) {
			return err
		}
		if len(intervals) == 0 {
			return rerr.PushServiceError
		}
		if err := sleep(ctx, intervals[0]); err != nil {
			return err
		}
		intervals = intervals[1:]
	}
}

// SendNotification encodes the notification document and sends it.
func (m *Manager) SendNotification(ctx context.Context, n *Notification, sub *Subscriber, opts *SendOptions) error {
	message, err := n.Encode()
	if err != nil {
		return err
	}
	return m.Send(ctx, message, sub, opts)
}

// retryableError marks PushServiceErrors whose status invites another attempt.
type retryableError struct {
	*PushServiceError
}

func (e *retryableError) Error() string { return e.PushServiceError.Error() }
func (e *retryableError) Unwrap() error { return e.PushServiceError }

func (m *Manager) attempt(
	ctx context.Context,
	sub *Subscriber,
	body []byte,
	authorization string,
	urgency Urgency,
	topic Topic,
	expiration time.Duration,
	deadline time.Time,
	retriesRemaining int,
) error {
	// Each attempt recomputes the remaining TTL from the absolute deadline.
	ttl := expiration
	if !deadline.IsZero() {
		ttl = time.Until(deadline)
		if ttl <= 0 {
			return context.DeadlineExceeded
		}
	}

	if m.network.Limiter != nil {
		if err := m.network.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	attemptCtx := ctx
	if m.network.SendTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, m.network.SendTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("TTL", strconv.Itoa(int(ttl.Seconds())))
	req.Header.Set("Urgency", string(urgency))
	if topic != "" {
		req.Header.Set("Topic", string(topic))
	}

	m.log.Debug("delivering push message",
		"origin", origin(sub.Endpoint),
		"topic", topic,
		"ttl", int(ttl.Seconds()),
		"urgency", urgency,
		"retriesRemaining", retriesRemaining)

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	snippet := readSnippet(resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		return nil
	case http.StatusNotFound, http.StatusGone:
		m.log.Debug("subscriber is gone", "endpoint", sub.Endpoint, "status", resp.StatusCode)
		return ErrBadSubscriber
	case http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: rejected by push service", ErrMessageTooLarge)
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		m.log.Debug("retryable push service failure",
			"endpoint", sub.Endpoint, "status", resp.StatusCode, "retriesRemaining", retriesRemaining)
		return &retryableError{&PushServiceError{StatusCode: resp.StatusCode, Body: snippet}}
	default:
		return &PushServiceError{StatusCode: resp.StatusCode, Body: snippet}
	}
}

func readSnippet(body io.ReadCloser) string {
	defer body.Close()
	b, _ := io.ReadAll(io.LimitReader(body, responseSnippetLen))
	io.Copy(io.Discard, body)
	return string(b)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still yield a cancellation point between attempts.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
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

// Shutdown stops accepting new sends, waits for in-flight sends to finish
// or ctx to expire, then closes the connection pool.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	m.client.CloseIdleConnections()
	return err
}

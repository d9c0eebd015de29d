package tbank

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// PortfolioStream subscribes to the Invest API websocket and reports
// portfolio-change pushes. The sync layer uses it to trigger re-syncs
// instead of polling; losing the stream degrades to scheduled syncs only.
type PortfolioStream struct {
	url        string
	token      string
	httpClient *http.Client
	onChange   func(accountID string)

	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	log zerolog.Logger

	stopChan chan struct{}
	stopped  bool
}

// streamEvent is the envelope of a websocket push.
type streamEvent struct {
	Event     string `json:"event"`
	AccountID string `json:"accountId"`
}

// createHTTP1Client creates an HTTP client that forces HTTP/1.1.
// The websocket upgrade handshake requires HTTP/1.1, but the endpoint
// negotiates HTTP/2 via TLS ALPN unless it is excluded here.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewPortfolioStream creates a new portfolio stream client. onChange is
// invoked from the read loop for every portfolio-change push.
func NewPortfolioStream(url, token string, onChange func(accountID string), log zerolog.Logger) *PortfolioStream {
	return &PortfolioStream{
		url:        url,
		token:      token,
		httpClient: createHTTP1Client(),
		onChange:   onChange,
		log:        log.With().Str("component", "portfolio_stream").Logger(),
		stopChan:   make(chan struct{}),
	}
}

// Start initializes the websocket connection and starts the read loop
func (ps *PortfolioStream) Start() error {
	ps.log.Info().Msg("Starting portfolio stream client")

	if err := ps.connect(); err != nil {
		ps.log.Warn().Err(err).Msg("Initial stream connection failed, will retry in background")
		go ps.reconnectLoop()
		return err
	}

	ps.mu.RLock()
	ctx := ps.connCtx
	ps.mu.RUnlock()
	go ps.readMessages(ctx)

	return nil
}

// Stop gracefully shuts down the websocket connection
func (ps *PortfolioStream) Stop() error {
	ps.mu.Lock()
	if ps.stopped {
		ps.mu.Unlock()
		return nil
	}
	ps.stopped = true
	ps.mu.Unlock()

	ps.log.Info().Msg("Stopping portfolio stream client")
	close(ps.stopChan)
	return ps.disconnect()
}

func (ps *PortfolioStream) connect() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, ps.url, &websocket.DialOptions{
		HTTPClient: ps.httpClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + ps.token}},
	})
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	ps.conn = conn
	ps.connCtx = connCtx
	ps.cancelFunc = connCancel

	if err := ps.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		ps.conn = nil
		ps.connCtx = nil
		ps.cancelFunc = nil
		return fmt.Errorf("failed to subscribe to portfolio stream: %w", err)
	}

	ps.log.Info().Msg("Connected to portfolio stream")
	return nil
}

func (ps *PortfolioStream) disconnect() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.conn == nil {
		return nil
	}

	if ps.cancelFunc != nil {
		ps.cancelFunc()
		ps.cancelFunc = nil
	}

	err := ps.conn.Close(websocket.StatusNormalClosure, "")
	ps.conn = nil
	ps.connCtx = nil

	if err != nil {
		return fmt.Errorf("error closing websocket: %w", err)
	}
	return nil
}

func (ps *PortfolioStream) subscribe(ctx context.Context) error {
	msg := map[string]string{"event": "subscribe", "service": "portfolio"}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := ps.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send subscription message: %w", err)
	}
	return nil
}

// readMessages continuously reads pushes until the connection drops.
func (ps *PortfolioStream) readMessages(ctx context.Context) {
	defer func() {
		ps.mu.RLock()
		stopped := ps.stopped
		ps.mu.RUnlock()
		if !stopped {
			go ps.reconnectLoop()
		}
	}()

	for {
		select {
		case <-ps.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		ps.mu.RLock()
		conn := ps.conn
		ps.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			ps.log.Warn().Err(err).Msg("Stream read failed")
			return
		}

		var event streamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			ps.log.Debug().Err(err).Msg("Ignoring unparsable stream message")
			continue
		}

		if event.Event == "portfolio" && ps.onChange != nil {
			ps.log.Debug().Str("account_id", event.AccountID).Msg("Portfolio change push received")
			ps.onChange(event.AccountID)
		}
	}
}

// reconnectLoop retries the connection with exponential backoff.
func (ps *PortfolioStream) reconnectLoop() {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		delay := time.Duration(float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}

		select {
		case <-ps.stopChan:
			return
		case <-time.After(delay):
		}

		ps.log.Info().Int("attempt", attempt).Msg("Reconnecting portfolio stream")
		if err := ps.connect(); err != nil {
			ps.log.Warn().Err(err).Int("attempt", attempt).Msg("Stream reconnect failed")
			continue
		}

		ps.mu.RLock()
		ctx := ps.connCtx
		ps.mu.RUnlock()
		go ps.readMessages(ctx)
		return
	}

	ps.log.Error().Int("attempts", maxReconnectAttempts).Msg("Giving up on stream reconnection; scheduled syncs still apply")
}

// Package feed consumes raw exchange rows from a WebSocket relay and turns
// them into sequenced events for the live sequencer.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tick_book/internal/domain"
	"tick_book/internal/event"
	"tick_book/internal/infra"
	"tick_book/internal/normalize"
	"tick_book/pkg/quant"
)

const (
	maxRetries       = 10
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
)

// message is one frame from the relay. A header frame declares the column
// layout of a (symbol, category) stream; row frames follow it.
type message struct {
	Type     string   `json:"type"` // header | row
	Symbol   string   `json:"symbol"`
	Category string   `json:"category"`
	Columns  []string `json:"columns,omitempty"`
	Row      []string `json:"row,omitempty"`
}

type subscribeRequest struct {
	Type      string   `json:"type"`
	Exchange  string   `json:"exchange"`
	TradeDate string   `json:"trade_date"`
	Symbols   []string `json:"symbols"`
}

type Config struct {
	URL       string
	Exchange  string
	TradeDate string
	Symbols   []string
	Mappings  normalize.Mappings
}

type streamKey struct {
	symbol string
	cat    normalize.Category
}

// Worker handles the relay WebSocket connection. Run exactly one per
// sequencer: it is the only producer of sequence numbers.
type Worker struct {
	cfg     Config
	wanted  map[string]bool
	inbox   chan<- event.Event
	seq     *uint64
	metrics *infra.Metrics

	// owned by the read goroutine
	decoders map[streamKey]*normalize.Decoder

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ domain.ExchangeWorker = (*Worker)(nil)

// NewWorker creates a feed worker. metrics may be nil.
func NewWorker(cfg Config, inbox chan<- event.Event, seq *uint64, metrics *infra.Metrics) *Worker {
	wanted := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		wanted[s] = true
	}
	return &Worker{
		cfg:      cfg,
		wanted:   wanted,
		inbox:    inbox,
		seq:      seq,
		metrics:  metrics,
		decoders: make(map[streamKey]*normalize.Decoder),
	}
}

// Connect starts the WebSocket connection
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			if !domain.IsRetriable(err) {
				slog.Error("Feed connection rejected, giving up", slog.Any("error", err))
				return
			}
			slog.Warn("Feed connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, w.cfg.URL, make(http.Header))
	if err != nil {
		// 4xx on the upgrade means the relay refused us; retrying won't help.
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return domain.NewFatalNetworkError("dial", fmt.Errorf("status %d: %w", resp.StatusCode, err))
		}
		return domain.NewNetworkError("dial", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.IncrementConnections()
	}

	// Layouts are re-declared after every (re)subscribe.
	clear(w.decoders)
	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return domain.NewNetworkError("subscribe", err)
	}

	slog.Info("Feed Connected", slog.String("url", w.cfg.URL), slog.Int("subs", len(w.cfg.Symbols)))
	return nil
}

func (w *Worker) subscribe() error {
	b, _ := json.Marshal(subscribeRequest{
		Type:      "subscribe",
		Exchange:  w.cfg.Exchange,
		TradeDate: w.cfg.TradeDate,
		Symbols:   w.cfg.Symbols,
	})
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		if !w.handleMessage(ctx, msg) {
			return
		}
	}
}

// handleMessage returns false once ctx is cancelled while waiting on the inbox.
func (w *Worker) handleMessage(ctx context.Context, msg []byte) bool {
	var m message
	if err := json.Unmarshal(msg, &m); err != nil {
		slog.Warn("Feed message malformed", slog.Any("error", err))
		return true
	}
	if len(w.wanted) > 0 && !w.wanted[m.Symbol] {
		return true
	}
	key := streamKey{symbol: m.Symbol, cat: normalize.Category(m.Category)}

	switch m.Type {
	case "header":
		w.bind(key, m.Columns)
	case "row":
		dec, ok := w.decoders[key]
		if !ok || dec == nil {
			return true
		}
		ev, ok, err := dec.Normalize(m.Row)
		if err != nil {
			// A malformed row stops its stream for the rest of the day.
			w.decoders[key] = nil
			slog.Error("FEED_STREAM_HALTED",
				slog.String("symbol", m.Symbol),
				slog.String("category", m.Category),
				slog.Any("error", err),
			)
			return true
		}
		if !ok {
			return true
		}
		ev.Seq = quant.NextSeq(w.seq)

		// Blocking send: a dropped event would leave a sequence gap.
		select {
		case w.inbox <- ev:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (w *Worker) bind(key streamKey, columns []string) {
	exchange := strings.ToLower(w.cfg.Exchange)
	mk := normalize.MappingKey{Exchange: exchange, Category: key.cat}
	m, err := w.cfg.Mappings.Lookup(exchange, key.cat)
	if err != nil {
		slog.Error("Feed header without mapping", slog.String("mapping", mk.String()), slog.Any("error", err))
		w.decoders[key] = nil
		return
	}
	n, err := normalize.New(mk, m, key.symbol, w.cfg.TradeDate)
	if err != nil {
		slog.Error("Feed normalizer failed", slog.String("mapping", mk.String()), slog.Any("error", err))
		w.decoders[key] = nil
		return
	}
	if w.metrics != nil {
		n.OnDrop(func(reason string) { w.metrics.RecordDrop(mk.String(), reason) })
	}
	dec, err := n.Bind(columns)
	if err != nil {
		slog.Error("FEED_STREAM_HALTED", slog.String("symbol", key.symbol), slog.Any("error", err))
		w.decoders[key] = nil
		return
	}
	w.decoders[key] = dec
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	if w.connected && w.metrics != nil {
		w.metrics.DecrementConnections()
	}
	w.connected = false
}

func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}

package health

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/postalsys/muti-ping/internal/logging"
	"github.com/postalsys/muti-ping/internal/ping"
	"github.com/postalsys/muti-ping/internal/recovery"
)

// Subprotocol is the WebSocket subprotocol offered on /results.
const Subprotocol = "muti-ping"

// Feed fans echo results out to WebSocket subscribers. A subscriber that
// falls behind loses results rather than stalling the session.
type Feed struct {
	mu      sync.Mutex
	subs    map[chan ping.EchoResult]struct{}
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

// NewFeed creates a feed whose subscribers buffer up to buffer results.
func NewFeed(buffer int) *Feed {
	if buffer < 1 {
		buffer = 1
	}
	return &Feed{
		subs:   make(map[chan ping.EchoResult]struct{}),
		buffer: buffer,
	}
}

// Publish delivers r to every subscriber without blocking.
func (f *Feed) Publish(r ping.EchoResult) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for ch := range f.subs {
		select {
		case ch <- r:
		default:
			f.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The channel is closed when the feed
// closes or the returned cancel function is called.
func (f *Feed) Subscribe() (<-chan ping.EchoResult, func()) {
	ch := make(chan ping.EchoResult, f.buffer)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		close(ch)
		return ch, func() {}
	}
	f.subs[ch] = struct{}{}

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()

		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
}

// Close ends every subscription. Further Publish calls are no-ops.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		close(ch)
	}
	clear(f.subs)
}

// Subscribers returns the number of active subscribers.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}

// handleResults streams every EchoResult as a JSON text message until the
// client disconnects or the session ends.
// GET /results
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		http.Error(w, "result feed not available", http.StatusServiceUnavailable)
		return
	}

	// Long-lived stream; lift the server write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		s.logger.Debug("websocket accept failed", slog.String(logging.KeyError, err.Error()))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	defer recovery.RecoverWithCallback(s.logger, "health.results", func(any) {
		conn.Close(websocket.StatusInternalError, "internal error")
	})

	results, unsubscribe := s.feed.Subscribe()
	defer unsubscribe()

	s.logger.Debug("result subscriber connected", slog.String(logging.KeyRemoteAddr, r.RemoteAddr))

	// Clients only listen; CloseRead cancels ctx when they go away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session ended")
				return
			}
			if err := wsjson.Write(ctx, conn, res); err != nil {
				return
			}
		}
	}
}

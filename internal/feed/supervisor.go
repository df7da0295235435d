package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/event"
)

// StateObserver is notified of every connection state transition and latency sample.
// Callbacks run outside the supervisor lock and may call back into the supervisor.
type StateObserver interface {
	OnStateChange(change domain.StateChange)
	OnLatency(latency time.Duration)
}

// FrameHandler receives every raw inbound frame, in delivery order.
type FrameHandler func(raw []byte)

// SupervisorConfig holds the reconnect and heartbeat policy.
type SupervisorConfig struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

func (c *SupervisorConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
}

// transitions is the supervisor's state machine. Anything not listed is rejected.
var transitions = map[domain.ConnState][]domain.ConnState{
	domain.StateDisconnected: {domain.StateConnecting},
	domain.StateConnecting:   {domain.StateConnected, domain.StateReconnecting, domain.StateClosed, domain.StateDisconnected},
	domain.StateConnected:    {domain.StateReconnecting, domain.StateConnecting, domain.StateDisconnected},
	domain.StateReconnecting: {domain.StateConnecting, domain.StateClosed, domain.StateDisconnected},
	domain.StateClosed:       {domain.StateConnecting},
}

func canTransition(from, to domain.ConnState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Backoff returns min(base*2^attempt, maxDelay).
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay || delay <= 0 {
			return maxDelay
		}
	}
	return min(delay, maxDelay)
}

// Supervisor wraps a Channel with the reconnect state machine and heartbeat.
// Every connection attempt gets a generation number; timer and read-loop callbacks
// from an older generation are ignored.
type Supervisor struct {
	cfg        SupervisorConfig
	newChannel ChannelFactory
	clock      Clock
	onFrame    FrameHandler

	mu        sync.Mutex
	state     domain.ConnState
	attempts  int
	gen       uint64
	ch        Channel
	ctx       context.Context
	endpoint  string
	header    http.Header
	observers []StateObserver
	fatal     error

	reconnectTimer Timer
	pingTimer      Timer
	pongTimer      Timer
	lastPing       time.Time
	awaitingPong   bool
	latency        time.Duration
	hasLatency     bool

	// delivered after the lock is released
	pendingChanges []domain.StateChange
	pendingLatency []time.Duration
}

// NewSupervisor creates a supervisor in the Disconnected state.
func NewSupervisor(cfg SupervisorConfig, newChannel ChannelFactory, clock Clock) *Supervisor {
	cfg.applyDefaults()
	if clock == nil {
		clock = SystemClock{}
	}
	return &Supervisor{
		cfg:        cfg,
		newChannel: newChannel,
		clock:      clock,
		state:      domain.StateDisconnected,
	}
}

// SetFrameHandler installs the inbound frame callback. Call before Connect.
func (s *Supervisor) SetFrameHandler(fn FrameHandler) {
	s.mu.Lock()
	s.onFrame = fn
	s.mu.Unlock()
}

// Subscribe registers an observer for state transitions and latency.
func (s *Supervisor) Subscribe(o StateObserver) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// State returns the current connection state.
func (s *Supervisor) State() domain.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of reconnect attempts since the last successful connect.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Latency returns the most recent ping/pong round trip.
func (s *Supervisor) Latency() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency, s.hasLatency
}

// FatalError returns the FatalConnectivityError while Closed, nil otherwise.
func (s *Supervisor) FatalError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Connect dials the endpoint from Disconnected. header carries auth parameters.
// A dial failure is returned. A retriable one enters the reconnect path and a
// non-retriable one moves straight to Closed.
func (s *Supervisor) Connect(ctx context.Context, endpoint string, header http.Header) error {
	s.mu.Lock()
	if err := s.transitionLocked(domain.StateConnecting, nil); err != nil {
		s.mu.Unlock()
		return err
	}
	s.ctx = ctx
	s.endpoint = endpoint
	s.header = header.Clone()
	s.gen++
	gen := s.gen
	s.unlockAndNotify()

	return s.dial(gen)
}

// Reconnect drops any current connection and dials again with a fresh attempt count.
// It is the only way out of Closed.
func (s *Supervisor) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.endpoint == "" {
		s.mu.Unlock()
		return errors.New("reconnect before connect")
	}
	if s.state == domain.StateConnecting {
		s.mu.Unlock()
		return nil
	}

	s.stopTimersLocked()
	old := s.ch
	s.ch = nil
	s.attempts = 0
	s.fatal = nil
	if ctx != nil {
		s.ctx = ctx
	}

	if err := s.transitionLocked(domain.StateConnecting, nil); err != nil {
		s.mu.Unlock()
		return err
	}
	s.gen++
	gen := s.gen
	s.unlockAndNotify()

	if old != nil {
		old.Close("manual reconnect")
	}
	return s.dial(gen)
}

// Close stops timers and closes the connection. It is an intentional closure and
// never triggers a reconnect. Closed stays Closed.
func (s *Supervisor) Close(reason string) {
	s.mu.Lock()
	s.stopTimersLocked()
	s.gen++
	ch := s.ch
	s.ch = nil
	if s.state != domain.StateDisconnected && s.state != domain.StateClosed {
		s.transitionLocked(domain.StateDisconnected, nil)
	}
	s.unlockAndNotify()

	if ch != nil {
		if err := ch.Close(reason); err != nil {
			slog.Debug("Channel close error", slog.Any("error", err))
		}
	}
	slog.Info("Feed connection closed", slog.String("reason", reason))
}

// Send writes a raw frame. It fails with ErrNotConnected unless Connected; nothing is queued.
func (s *Supervisor) Send(data []byte) error {
	s.mu.Lock()
	if s.state != domain.StateConnected || s.ch == nil {
		s.mu.Unlock()
		return domain.ErrNotConnected
	}
	ch := s.ch
	s.mu.Unlock()

	return ch.Send(data)
}

// HandlePong completes the outstanding heartbeat and records latency.
// A pong with no ping outstanding is ignored.
func (s *Supervisor) HandlePong() {
	s.mu.Lock()
	if s.state != domain.StateConnected || !s.awaitingPong {
		s.mu.Unlock()
		return
	}
	s.awaitingPong = false
	if s.pongTimer != nil {
		s.pongTimer.Stop()
		s.pongTimer = nil
	}
	s.latency = s.clock.Now().Sub(s.lastPing)
	s.hasLatency = true
	s.pendingLatency = append(s.pendingLatency, s.latency)
	s.unlockAndNotify()
}

// dial opens a new channel for generation gen and either enters Connected or the reconnect path.
func (s *Supervisor) dial(gen uint64) error {
	s.mu.Lock()
	ctx, endpoint, header := s.ctx, s.endpoint, s.header
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	ch := s.newChannel()
	err := ch.Open(ctx, endpoint, header)

	s.mu.Lock()
	if gen != s.gen {
		// superseded by Close or Reconnect while dialing
		s.mu.Unlock()
		if err == nil {
			ch.Close("superseded")
		}
		return nil
	}

	if err != nil {
		slog.Warn("Feed dial failed",
			slog.String("endpoint", endpoint),
			slog.Int("attempt", s.attempts),
			slog.Any("error", err),
		)
		switch {
		case ctx.Err() != nil:
			s.transitionLocked(domain.StateDisconnected, ctx.Err())
		case !domain.IsRetriable(err):
			// e.g. a 4xx handshake: retrying with the same credentials cannot succeed
			s.gen++
			s.closeFatalLocked(err)
		default:
			s.scheduleReconnectLocked(err)
		}
		s.unlockAndNotify()
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}

	s.ch = ch
	s.attempts = 0
	s.transitionLocked(domain.StateConnected, nil)
	s.armPingLocked(gen)
	onFrame := s.onFrame
	s.unlockAndNotify()

	slog.Info("🔌 Feed connected", slog.String("endpoint", endpoint))

	go s.readLoop(gen, ch, onFrame)
	return nil
}

// readLoop delivers frames until the channel fails.
func (s *Supervisor) readLoop(gen uint64, ch Channel, onFrame FrameHandler) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Feed read loop panic recovered", slog.Any("panic", r))
			s.connectionLost(gen, fmt.Errorf("read loop panic: %v", r))
		}
	}()

	for {
		data, err := ch.Receive()
		if err != nil {
			s.connectionLost(gen, err)
			return
		}
		if onFrame != nil {
			onFrame(data)
		}
	}
}

// connectionLost handles an unexpected closure of generation gen.
func (s *Supervisor) connectionLost(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.state != domain.StateConnected {
		s.mu.Unlock()
		return
	}
	s.stopTimersLocked()
	ch := s.ch
	s.ch = nil

	slog.Warn("Feed connection lost", slog.Any("error", cause))

	if s.ctx != nil && s.ctx.Err() != nil {
		s.transitionLocked(domain.StateDisconnected, cause)
	} else {
		s.scheduleReconnectLocked(cause)
	}
	s.unlockAndNotify()

	if ch != nil {
		ch.Close("connection lost")
	}
}

// scheduleReconnectLocked enters Reconnecting with the next backoff delay,
// or Closed once attempts are exhausted.
func (s *Supervisor) scheduleReconnectLocked(cause error) {
	s.gen++
	gen := s.gen

	if s.attempts >= s.cfg.MaxAttempts {
		slog.Error("Feed reconnect attempts exhausted", slog.Int("attempts", s.attempts), slog.Any("error", cause))
		s.closeFatalLocked(cause)
		return
	}

	delay := Backoff(s.attempts, s.cfg.BaseDelay, s.cfg.MaxDelay)
	s.attempts++
	s.transitionWithDelayLocked(domain.StateReconnecting, cause, delay)

	slog.Info("Feed reconnect scheduled",
		slog.Int("attempt", s.attempts),
		slog.Duration("delay", delay),
	)

	s.reconnectTimer = s.clock.AfterFunc(delay, func() { s.redial(gen) })
}

// closeFatalLocked stops automatic recovery; only Reconnect leaves Closed.
func (s *Supervisor) closeFatalLocked(cause error) {
	s.fatal = &domain.FatalConnectivityError{Attempts: s.attempts, Err: cause}
	s.transitionLocked(domain.StateClosed, s.fatal)
}

// redial is the reconnect timer callback.
func (s *Supervisor) redial(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != domain.StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = nil
	if s.ctx != nil && s.ctx.Err() != nil {
		s.transitionLocked(domain.StateDisconnected, s.ctx.Err())
		s.unlockAndNotify()
		return
	}
	s.transitionLocked(domain.StateConnecting, nil)
	s.unlockAndNotify()

	s.dial(gen)
}

func (s *Supervisor) armPingLocked(gen uint64) {
	s.pingTimer = s.clock.AfterFunc(s.cfg.HeartbeatInterval, func() { s.sendPing(gen) })
}

// sendPing is the heartbeat timer callback.
func (s *Supervisor) sendPing(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != domain.StateConnected || s.ch == nil {
		s.mu.Unlock()
		return
	}
	ch := s.ch
	s.lastPing = s.clock.Now()
	s.awaitingPong = true
	if s.pongTimer != nil {
		s.pongTimer.Stop()
	}
	s.pongTimer = s.clock.AfterFunc(s.cfg.HeartbeatTimeout, func() { s.pongTimeout(gen) })
	s.armPingLocked(gen)
	s.mu.Unlock()

	payload, err := event.Ping().Encode()
	if err != nil {
		slog.Error("Failed to encode heartbeat ping", slog.Any("error", err))
		return
	}
	if err := ch.Send(payload); err != nil {
		s.connectionLost(gen, err)
	}
}

// pongTimeout treats a missing pong as a stalled connection.
func (s *Supervisor) pongTimeout(gen uint64) {
	s.mu.Lock()
	stalled := gen == s.gen && s.state == domain.StateConnected && s.awaitingPong
	s.mu.Unlock()

	if stalled {
		s.connectionLost(gen, domain.NewTransportError("heartbeat", errors.New("pong timeout")))
	}
}

func (s *Supervisor) stopTimersLocked() {
	for _, t := range []*Timer{&s.reconnectTimer, &s.pingTimer, &s.pongTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
	s.awaitingPong = false
}

func (s *Supervisor) transitionLocked(to domain.ConnState, err error) error {
	return s.transitionWithDelayLocked(to, err, 0)
}

func (s *Supervisor) transitionWithDelayLocked(to domain.ConnState, err error, delay time.Duration) error {
	from := s.state
	if !canTransition(from, to) {
		slog.Warn("Rejected connection state transition",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	s.state = to
	s.pendingChanges = append(s.pendingChanges, domain.StateChange{
		From:    from,
		To:      to,
		Attempt: s.attempts,
		Delay:   delay,
		Err:     err,
		At:      s.clock.Now(),
	})
	return nil
}

// unlockAndNotify releases the lock and delivers queued notifications.
func (s *Supervisor) unlockAndNotify() {
	changes := s.pendingChanges
	latencies := s.pendingLatency
	s.pendingChanges = nil
	s.pendingLatency = nil
	observers := append([]StateObserver(nil), s.observers...)
	s.mu.Unlock()

	for _, c := range changes {
		for _, o := range observers {
			o.OnStateChange(c)
		}
	}
	for _, l := range latencies {
		for _, o := range observers {
			o.OnLatency(l)
		}
	}
}

// Package live supervises one long-lived duplex session and keeps it alive
// across transient transport failures.
//
// The Manager wraps a live.Provider session behind a stable surface: callers
// send audio and text through it and read transcripts from one channel that
// survives reconnects. When the remote side drops the session, the manager
// re-establishes it with a bounded number of fixed-delay attempts and primes
// the fresh session with the most recent conversation turns so the model
// regains context. A user-initiated Close never triggers reconnection.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/auricle-audio/auricle/internal/dispatch"
	"github.com/auricle-audio/auricle/internal/history"
	"github.com/auricle-audio/auricle/pkg/provider/live"
	"github.com/auricle-audio/auricle/pkg/types"
)

// Default supervision parameters.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2 * time.Second
)

// ErrAlreadyInitialized is returned by Initialize when the manager has been
// started before. A Manager supervises exactly one session lifecycle.
var ErrAlreadyInitialized = errors.New("live: manager already initialized")

// State is the connection state of the supervised session.
type State int

const (
	// StateClosed means no session exists: never initialized, closed by the
	// user, or abandoned after reconnection failed.
	StateClosed State = iota

	// StateConnecting means the initial connection is being established.
	StateConnecting

	// StateOpen means the session is established and accepting traffic.
	StateOpen

	// StateReconnecting means the session dropped and recovery attempts are
	// in progress.
	StateReconnecting
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// EventKind classifies a status event.
type EventKind int

const (
	// EventConnected fires once after the initial connection succeeds.
	EventConnected EventKind = iota

	// EventReconnecting fires before each recovery attempt; Attempt and
	// MaxAttempts carry the n/max progress.
	EventReconnecting

	// EventReconnected fires after a recovery attempt succeeds.
	EventReconnected

	// EventReconnectFailed fires once when every recovery attempt has been
	// exhausted; Err carries the last connect error.
	EventReconnectFailed
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventReconnecting:
		return "reconnecting"
	case EventReconnected:
		return "reconnected"
	case EventReconnectFailed:
		return "reconnect-failed"
	default:
		return "unknown"
	}
}

// Event is a status notification for a UI layer to render.
type Event struct {
	Kind        EventKind
	Attempt     int
	MaxAttempts int
	Err         error
}

// Manager supervises one duplex session. All methods are safe for concurrent
// use. A Manager is single-use: after Close or a terminal reconnection
// failure it cannot be re-initialized.
type Manager struct {
	provider    live.Provider
	turns       *history.Buffer
	maxAttempts int
	retryDelay  time.Duration
	priming     int

	events      chan Event
	transcripts chan live.Transcript

	mu          sync.Mutex
	state       State
	sess        live.SessionHandle
	cfg         live.SessionConfig
	initialized bool
	userClosed  bool
	pendingUser string
	pendingResp string

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option is a functional option for Manager.
type Option func(*Manager)

// WithMaxAttempts overrides the number of recovery attempts per drop.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithRetryDelay overrides the fixed delay between recovery attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retryDelay = d
		}
	}
}

// WithPrimingTurns overrides how many recent turns are replayed into a
// recovered session.
func WithPrimingTurns(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.priming = n
		}
	}
}

// NewManager creates a Manager that opens sessions via provider and records
// completed turns into turns.
func NewManager(provider live.Provider, turns *history.Buffer, opts ...Option) *Manager {
	m := &Manager{
		provider:    provider,
		turns:       turns,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		priming:     history.DefaultPrimingTurns,
		events:      make(chan Event, 16),
		transcripts: make(chan live.Transcript, 64),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Initialize establishes the session with the given configuration. The
// configuration is retained and reused verbatim for recovery connects.
func (m *Manager) Initialize(ctx context.Context, cfg live.SessionConfig) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.initialized = true
	m.cfg = cfg
	m.state = StateConnecting
	m.mu.Unlock()

	sess, err := m.provider.Connect(ctx, cfg)
	if err != nil {
		m.mu.Lock()
		m.state = StateClosed
		m.mu.Unlock()
		close(m.transcripts)
		return fmt.Errorf("live: connect: %w", err)
	}

	m.mu.Lock()
	m.sess = sess
	m.state = StateOpen
	m.mu.Unlock()

	m.emit(Event{Kind: EventConnected})
	slog.Info("live session established")

	m.wg.Add(1)
	go m.supervise(sess)
	return nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Events returns the status event channel. Events are dropped, not blocked
// on, when the consumer falls behind.
func (m *Manager) Events() <-chan Event { return m.events }

// Transcripts returns the stable transcript channel. It stays open across
// reconnects and closes only when the session ends for good.
func (m *Manager) Transcripts() <-chan live.Transcript { return m.transcripts }

// SendAudio forwards a PCM chunk to the session. Returns an error wrapping
// dispatch.ErrNoActiveSession when the session is not open.
func (m *Manager) SendAudio(chunk []byte) error {
	sess, err := m.openSession()
	if err != nil {
		return err
	}
	return sess.SendAudio(chunk)
}

// SendText forwards a user text message to the session and records it as the
// pending user side of the next turn. Returns an error wrapping
// dispatch.ErrNoActiveSession when the session is not open.
func (m *Manager) SendText(text string) error {
	sess, err := m.openSession()
	if err != nil {
		return err
	}
	if err := sess.SendText(text); err != nil {
		return err
	}
	m.mu.Lock()
	m.pendingUser += text
	m.mu.Unlock()
	return nil
}

// Close terminates the session permanently. Reconnection is suppressed; any
// in-flight recovery wait is aborted. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.userClosed = true
	sess := m.sess
	m.sess = nil
	m.state = StateClosed
	started := m.initialized
	m.mu.Unlock()

	m.closeOnce.Do(func() { close(m.done) })

	var err error
	if sess != nil {
		err = sess.Close()
	}
	if started {
		m.wg.Wait()
	}
	return err
}

func (m *Manager) openSession() (live.SessionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen || m.sess == nil {
		return nil, fmt.Errorf("live: %s: %w", m.state, dispatch.ErrNoActiveSession)
	}
	return m.sess, nil
}

// supervise forwards transcripts from the current session and drives
// recovery when it drops. It owns the stable transcripts channel.
func (m *Manager) supervise(sess live.SessionHandle) {
	defer m.wg.Done()
	defer close(m.transcripts)

	for {
		m.pump(sess)

		if m.closedByUser() {
			return
		}

		dropErr := sess.Err()
		slog.Warn("live session dropped", "error", dropErr)

		next, ok := m.recover()
		if !ok {
			return
		}
		sess = next
	}
}

// pump forwards transcripts until the session's channel closes, assembling
// completed turns into the history buffer along the way.
func (m *Manager) pump(sess live.SessionHandle) {
	for tr := range sess.Transcripts() {
		m.accumulate(tr)

		select {
		case m.transcripts <- tr:
		case <-m.done:
			// Drain the session channel so its producer can exit.
			for range sess.Transcripts() {
			}
			return
		}
	}
}

// accumulate folds a transcript fragment into the pending turn and commits
// the turn to history when the model closes it.
func (m *Manager) accumulate(tr live.Transcript) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch tr.Source {
	case live.SourceUser:
		m.pendingUser += tr.Text
	case live.SourceModel:
		m.pendingResp += tr.Text
	}

	if tr.TurnComplete {
		if m.pendingUser != "" || m.pendingResp != "" {
			m.turns.Add(types.ConversationTurn{
				Transcription: m.pendingUser,
				Response:      m.pendingResp,
			})
		}
		m.pendingUser = ""
		m.pendingResp = ""
	}
}

// recover attempts to re-establish the session. It returns the new session
// handle, or false when recovery is abandoned (attempts exhausted or the
// user closed the manager mid-recovery).
func (m *Manager) recover() (live.SessionHandle, bool) {
	m.mu.Lock()
	if m.userClosed {
		m.mu.Unlock()
		return nil, false
	}
	m.state = StateReconnecting
	cfg := m.cfg
	m.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		m.emit(Event{Kind: EventReconnecting, Attempt: attempt, MaxAttempts: m.maxAttempts})
		slog.Info("attempting session recovery",
			"attempt", attempt,
			"max_attempts", m.maxAttempts)

		// The fixed delay precedes every attempt, the first included: the
		// remote side usually needs a moment after a drop before it accepts
		// a new session.
		select {
		case <-m.done:
			return nil, false
		case <-time.After(m.retryDelay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		sess, err := m.provider.Connect(ctx, cfg)
		cancel()
		if err == nil {
			m.prime(sess)

			m.mu.Lock()
			if m.userClosed {
				m.mu.Unlock()
				sess.Close()
				return nil, false
			}
			m.sess = sess
			m.state = StateOpen
			m.mu.Unlock()

			m.emit(Event{Kind: EventReconnected, Attempt: attempt, MaxAttempts: m.maxAttempts})
			slog.Info("session recovery successful", "attempt", attempt)
			return sess, true
		}

		lastErr = err
		slog.Warn("session recovery attempt failed",
			"attempt", attempt,
			"error", err)
	}

	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()

	m.emit(Event{Kind: EventReconnectFailed, MaxAttempts: m.maxAttempts, Err: lastErr})
	slog.Error("session recovery failed after max attempts",
		"max_attempts", m.maxAttempts,
		"error", lastErr)
	return nil, false
}

// prime replays recent conversation turns into a fresh session. Best-effort:
// a failed replay degrades context but never blocks recovery.
func (m *Manager) prime(sess live.SessionHandle) {
	recent := m.turns.Recent(m.priming)
	if len(recent) == 0 {
		return
	}
	if err := sess.InjectHistory(recent); err != nil {
		slog.Warn("live: history replay failed", "turns", len(recent), "error", err)
	}
}

func (m *Manager) closedByUser() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userClosed
}

// emit delivers a status event without ever blocking the supervision path.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		slog.Debug("live: status event dropped", "event", ev.Kind.String())
	}
}

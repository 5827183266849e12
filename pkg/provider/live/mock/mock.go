// Package mock provides a scriptable live.Provider for tests.
//
// The provider records every Connect attempt and hands out *Session values
// whose remote side the test controls: Drop simulates a transport failure,
// Say simulates model output, and all client sends are recorded for
// inspection.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/auricle-audio/auricle/pkg/provider/live"
	"github.com/auricle-audio/auricle/pkg/types"
)

// Compile-time assertions.
var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*Session)(nil)

// ErrSessionClosed is returned by send methods after the session ends.
var ErrSessionClosed = errors.New("mock: session closed")

// Provider is a scriptable live.Provider. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// ConnectErrs is consumed one entry per Connect call; a nil entry (or an
	// exhausted slice) yields a working session.
	ConnectErrs []error

	sessions []*Session
	connects int
}

// Connect implements live.Provider.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.connects++
	if len(p.ConnectErrs) > 0 {
		err := p.ConnectErrs[0]
		p.ConnectErrs = p.ConnectErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	s := &Session{
		cfg:         cfg,
		transcripts: make(chan live.Transcript, 64),
		done:        make(chan struct{}),
	}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Connects returns the total number of Connect calls, failed ones included.
func (p *Provider) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

// Sessions returns every session handed out so far, oldest first.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// LastSession returns the most recently created session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Session is a mock live session under test control.
type Session struct {
	cfg         live.SessionConfig
	transcripts chan live.Transcript

	mu       sync.Mutex
	errVal   error
	closed   bool
	done     chan struct{}
	once     sync.Once
	audio    [][]byte
	texts    []string
	injected [][]types.ConversationTurn
}

// Config returns the SessionConfig this session was opened with.
func (s *Session) Config() live.SessionConfig { return s.cfg }

// SendAudio implements live.SessionHandle.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.audio = append(s.audio, cp)
	return nil
}

// SendText implements live.SessionHandle.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.texts = append(s.texts, text)
	return nil
}

// InjectHistory implements live.SessionHandle.
func (s *Session) InjectHistory(turns []types.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	cp := make([]types.ConversationTurn, len(turns))
	copy(cp, turns)
	s.injected = append(s.injected, cp)
	return nil
}

// Transcripts implements live.SessionHandle.
func (s *Session) Transcripts() <-chan live.Transcript { return s.transcripts }

// Err implements live.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close implements live.SessionHandle. A user-initiated close ends the
// session cleanly: Err stays nil.
func (s *Session) Close() error {
	s.terminate(nil)
	return nil
}

// Say emits a model transcript fragment, optionally closing the turn.
func (s *Session) Say(text string, turnComplete bool) {
	select {
	case s.transcripts <- live.Transcript{Source: live.SourceModel, Text: text, TurnComplete: turnComplete}:
	case <-s.done:
	}
}

// Hear emits a user-speech transcript fragment.
func (s *Session) Hear(text string) {
	select {
	case s.transcripts <- live.Transcript{Source: live.SourceUser, Text: text}:
	case <-s.done:
	}
}

// Drop simulates a remote transport failure: the Transcripts channel closes
// and Err reports the given error.
func (s *Session) Drop(err error) {
	s.terminate(err)
}

// Closed reports whether the session has ended, by Close or Drop.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SentTexts returns every text sent with SendText, in order.
func (s *Session) SentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}

// SentAudio returns every chunk sent with SendAudio, in order.
func (s *Session) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.audio))
	copy(out, s.audio)
	return out
}

// InjectedHistory returns every InjectHistory payload, in order.
func (s *Session) InjectedHistory() [][]types.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]types.ConversationTurn, len(s.injected))
	copy(out, s.injected)
	return out
}

func (s *Session) terminate(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.errVal = err
		s.mu.Unlock()
		close(s.done)
		close(s.transcripts)
	})
}

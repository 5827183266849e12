package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/auricle-audio/auricle/internal/dispatch"
	"github.com/auricle-audio/auricle/internal/history"
	"github.com/auricle-audio/auricle/pkg/provider/live"
	"github.com/auricle-audio/auricle/pkg/provider/live/mock"
	"github.com/auricle-audio/auricle/pkg/types"
)

const testTimeout = 5 * time.Second

func newTestManager(p *mock.Provider, opts ...Option) (*Manager, *history.Buffer) {
	turns := history.New(0, 0)
	opts = append([]Option{WithRetryDelay(time.Millisecond)}, opts...)
	return NewManager(p, turns, opts...), turns
}

func nextEvent(t *testing.T, m *Manager) Event {
	t.Helper()
	select {
	case ev := <-m.Events():
		return ev
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for status event")
		return Event{}
	}
}

func nextTranscript(t *testing.T, m *Manager) (live.Transcript, bool) {
	t.Helper()
	select {
	case tr, ok := <-m.Transcripts():
		return tr, ok
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for transcript")
		return live.Transcript{}, false
	}
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestInitialize_EmitsConnectedAndForwardsTranscripts(t *testing.T) {
	p := &mock.Provider{}
	m, turns := newTestManager(p)
	defer m.Close()

	if err := m.Initialize(context.Background(), live.SessionConfig{Instructions: "be brief"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if ev := nextEvent(t, m); ev.Kind != EventConnected {
		t.Fatalf("event = %v, want connected", ev.Kind)
	}
	if got := m.State(); got != StateOpen {
		t.Fatalf("State = %v, want open", got)
	}

	sess := p.LastSession()
	if sess.Config().Instructions != "be brief" {
		t.Errorf("session instructions = %q", sess.Config().Instructions)
	}

	sess.Hear("hello there")
	sess.Say("hi, how can I help", true)

	if tr, _ := nextTranscript(t, m); tr.Source != live.SourceUser || tr.Text != "hello there" {
		t.Errorf("transcript = %+v, want user speech", tr)
	}
	if tr, _ := nextTranscript(t, m); tr.Source != live.SourceModel || tr.Text != "hi, how can I help" {
		t.Errorf("transcript = %+v, want model text", tr)
	}

	waitFor(t, "turn to be recorded", func() bool { return turns.Len() == 1 })
	turn := turns.All()[0]
	if turn.Transcription != "hello there" || turn.Response != "hi, how can I help" {
		t.Errorf("recorded turn = %+v", turn)
	}
}

func TestInitialize_Twice(t *testing.T) {
	p := &mock.Provider{}
	m, _ := newTestManager(p)
	defer m.Close()

	if err := m.Initialize(context.Background(), live.SessionConfig{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Initialize(context.Background(), live.SessionConfig{}); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second Initialize = %v, want ErrAlreadyInitialized", err)
	}
}

func TestInitialize_ConnectError(t *testing.T) {
	p := &mock.Provider{ConnectErrs: []error{errors.New("dial refused")}}
	m, _ := newTestManager(p)

	if err := m.Initialize(context.Background(), live.SessionConfig{}); err == nil {
		t.Fatal("Initialize succeeded, want error")
	}
	if got := m.State(); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
	if _, ok := <-m.Transcripts(); ok {
		t.Error("Transcripts channel still open after failed Initialize")
	}
}

func TestDrop_ReconnectsAndReplaysHistory(t *testing.T) {
	p := &mock.Provider{}
	m, turns := newTestManager(p)
	defer m.Close()

	turns.Add(types.ConversationTurn{Transcription: "earlier question", Response: "earlier answer"})

	if err := m.Initialize(context.Background(), live.SessionConfig{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	nextEvent(t, m) // connected

	first := p.LastSession()
	first.Drop(errors.New("connection reset"))

	if ev := nextEvent(t, m); ev.Kind != EventReconnecting || ev.Attempt != 1 || ev.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("event = %+v, want reconnecting 1/%d", ev, DefaultMaxAttempts)
	}
	if ev := nextEvent(t, m); ev.Kind != EventReconnected {
		t.Fatalf("event = %v, want reconnected", ev.Kind)
	}

	waitFor(t, "state open", func() bool { return m.State() == StateOpen })

	second := p.LastSession()
	if second == first {
		t.Fatal("no replacement session was created")
	}
	injected := second.InjectedHistory()
	if len(injected) != 1 || len(injected[0]) != 1 {
		t.Fatalf("injected history = %v, want one batch of one turn", injected)
	}
	if injected[0][0].Transcription != "earlier question" {
		t.Errorf("replayed turn = %+v", injected[0][0])
	}

	// The stable transcript channel keeps working on the new session.
	second.Say("back online", true)
	if tr, ok := nextTranscript(t, m); !ok || tr.Text != "back online" {
		t.Errorf("transcript after reconnect = %+v ok=%v", tr, ok)
	}

	if err := m.SendText("still there?"); err != nil {
		t.Errorf("SendText after reconnect: %v", err)
	}
	if got := second.SentTexts(); len(got) != 1 || got[0] != "still there?" {
		t.Errorf("SentTexts = %v", got)
	}
}

func TestDrop_ReplayCappedAtPrimingTurns(t *testing.T) {
	p := &mock.Provider{}
	m, turns := newTestManager(p, WithPrimingTurns(2))
	defer m.Close()

	for i := 0; i < 5; i++ {
		turns.Add(types.ConversationTurn{
			Transcription: string(rune('a' + i)),
			Response:      "r",
		})
	}

	if err := m.Initialize(context.Background(), live.SessionConfig{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	nextEvent(t, m)

	p.LastSession().Drop(errors.New("gone"))
	nextEvent(t, m) // reconnecting
	nextEvent(t, m) // reconnected
	waitFor(t, "state open", func() bool { return m.State() == StateOpen })

	injected := p.LastSession().InjectedHistory()
	if len(injected) != 1 || len(injected[0]) != 2 {
		t.Fatalf("injected = %v, want one batch of two turns", injected)
	}
	if injected[0][0].Transcription != "d" || injected[0][1].Transcription != "e" {
		t.Errorf("replayed turns = %+v, want the two most recent", injected[0])
	}
}

func TestDrop_RetryDelayPrecedesFirstAttempt(t *testing.T) {
	p := &mock.Provider{}
	turns := history.New(0, 0)
	m := NewManager(p, turns, WithRetryDelay(200*time.Millisecond))
	defer m.Close()

	if err := m.Initialize(context.Background(), live.SessionConfig{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	nextEvent(t, m) // connected

	p.LastSession().Drop(errors.New("connection reset"))
	if ev := nextEvent(t, m); ev.Kind != EventReconnecting {
		t.Fatalf("event = %v, want reconnecting", ev.Kind)
	}

	// The recovery connect must not fire until the fixed delay has elapsed.
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		if got := p.Connects(); got != 1 {
			t.Fatalf("Connects = %d during the retry delay, want 1", got)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if ev := nextEvent(t, m); ev.Kind != EventReconnected {
		t.Fatalf("event = %v, want reconnected", ev.Kind)
	}
	waitFor(t, "recovery connect", func() bool { return p.Connects() == 2 })
}

func TestDrop_AllAttemptsFailIsTerminal(t *testing.T) {
	p := &mock.Provider{
		ConnectErrs: []error{nil, errors.New("down"), errors.New("down"), errors.New("down")},
	}
	m, _ := newTestManager(p)
	defer m.Close()

	if err := m.Initialize(context.Background(), live.SessionConfig{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	nextEvent(t, m) // connected

	p.LastSession().Drop(errors.New("connection reset"))

	for attempt := 1; attempt <= DefaultMaxAttempts; attempt++ {
		ev := nextEvent(t, m)
		if ev.Kind != EventReconnecting || ev.Attempt != attempt {
			t.Fatalf("event = %+v, want reconnecting %d/%d", ev, attempt, DefaultMaxAttempts)
		}
	}
	ev := nextEvent(t, m)
	if ev.Kind != EventReconnectFailed {
		t.Fatalf("event = %v, want reconnect-failed", ev.Kind)
	}
	if ev.Err == nil {
		t.Error("reconnect-failed event carries no error")
	}

	waitFor(t, "transcripts channel closed", func() bool {
		select {
		case _, ok := <-m.Transcripts():
			return !ok
		default:
			return false
		}
	})
	if got := m.State(); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
	if err := m.SendText("anyone?"); !errors.Is(err, dispatch.ErrNoActiveSession) {
		t.Errorf("SendText = %v, want ErrNoActiveSession", err)
	}
}

func TestClose_SuppressesReconnect(t *testing.T) {
	p := &mock.Provider{}
	m, _ := newTestManager(p)

	if err := m.Initialize(context.Background(), live.SessionConfig{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	nextEvent(t, m) // connected

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Only the initial connect may have happened; no recovery attempts.
	if got := p.Connects(); got != 1 {
		t.Errorf("Connects = %d after user close, want 1", got)
	}
	if got := m.State(); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
	if err := m.SendAudio([]byte{0, 0}); !errors.Is(err, dispatch.ErrNoActiveSession) {
		t.Errorf("SendAudio = %v, want ErrNoActiveSession", err)
	}

	// The stable channel drains and closes.
	waitFor(t, "transcripts channel closed", func() bool {
		select {
		case _, ok := <-m.Transcripts():
			return !ok
		default:
			return false
		}
	})
}

func TestSendText_RecordsPendingUserSide(t *testing.T) {
	p := &mock.Provider{}
	m, turns := newTestManager(p)
	defer m.Close()

	if err := m.Initialize(context.Background(), live.SessionConfig{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	nextEvent(t, m)

	if err := m.SendText("typed question"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	sess := p.LastSession()
	sess.Say("typed answer", true)
	nextTranscript(t, m)

	waitFor(t, "turn recorded", func() bool { return turns.Len() == 1 })
	turn := turns.All()[0]
	if turn.Transcription != "typed question" || turn.Response != "typed answer" {
		t.Errorf("turn = %+v", turn)
	}
}

// Package live defines the Provider interface for duplex real-time session
// backends.
//
// A live provider wraps a stateful, bidirectional AI service that accepts raw
// audio and text input continuously and emits text output as the model
// produces it — bypassing the separate segment → transcribe → generate
// pipeline entirely. Sessions are long-lived (seconds to minutes); the
// continuity manager in internal/live supervises their lifecycle and
// re-establishes them after transient failures.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"

	"github.com/auricle-audio/auricle/pkg/types"
)

// Source identifies which side of the conversation a transcript belongs to.
type Source int

const (
	// SourceUser is the model's recognition of the user's speech.
	SourceUser Source = iota

	// SourceModel is text produced by the model.
	SourceModel
)

// String returns the human-readable name of the source.
func (s Source) String() string {
	switch s {
	case SourceUser:
		return "user"
	case SourceModel:
		return "model"
	default:
		return "unknown"
	}
}

// Transcript is one text fragment emitted by the session. Model text arrives
// incrementally; TurnComplete marks the last fragment of a model turn.
type Transcript struct {
	// Source is who the text belongs to.
	Source Source

	// Text is the fragment content. May be empty on a pure turn-boundary
	// marker.
	Text string

	// TurnComplete reports whether this fragment closes the current model
	// turn.
	TurnComplete bool
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Instructions is the system-level prompt for the session. Equivalent to
	// a system message in the request/response paradigm.
	Instructions string

	// SampleRate is the PCM sample rate of audio sent with SendAudio, in Hz.
	// Zero means the provider default (16000).
	SampleRate int
}

// SessionHandle represents an open duplex session. It is an interface so that
// test code can supply mock implementations without a network connection.
//
// Every method must return quickly; output is channel-based so the caller's
// audio path never blocks on the network. All methods must be safe for
// concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw PCM audio chunk to the model. The chunk must
	// match the sample rate declared in SessionConfig. Returns an error if
	// the session is closed or the transport rejects the write.
	SendAudio(chunk []byte) error

	// SendText delivers a user text message to the model and requests a
	// response turn.
	SendText(text string) error

	// InjectHistory replays prior conversation turns into the session's
	// context without requesting a response. Used after a reconnect to
	// restore conversational state.
	InjectHistory(turns []types.ConversationTurn) error

	// Transcripts returns a read-only channel that emits Transcript values
	// for both recognised user speech and model output. The channel is closed
	// when the session ends; after it closes, call Err to check whether the
	// session ended cleanly. Consumers must drain the channel promptly.
	Transcripts() <-chan Transcript

	// Err returns the error that caused the Transcripts channel to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// Close terminates the session, releases all resources, and closes the
	// Transcripts channel. Calling Close more than once is safe and returns
	// nil.
	Close() error
}

// Provider is the abstraction over any duplex session backend.
//
// Implementations must be safe for concurrent use; the continuity manager may
// open a replacement session while the previous handle is still being torn
// down.
type Provider interface {
	// Connect establishes a new session with the given configuration. The
	// returned SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, unreachable endpoint, or ctx already cancelled). The caller
	// owns the SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}

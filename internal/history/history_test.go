package history

import (
	"testing"
	"time"

	"github.com/auricle-audio/auricle/pkg/types"
)

func turn(text string, ts time.Time) types.ConversationTurn {
	return types.ConversationTurn{
		Timestamp:     ts,
		Transcription: text,
		Response:      "re: " + text,
	}
}

func TestRecent_ReturnsChronologicalTail(t *testing.T) {
	b := New(0, 0)
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		b.Add(turn(string(rune('a'+i)), base.Add(time.Duration(i)*time.Second)))
	}

	got := b.Recent(3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []string{"c", "d", "e"}
	for i, w := range want {
		if got[i].Transcription != w {
			t.Errorf("Recent[%d].Transcription = %q, want %q", i, got[i].Transcription, w)
		}
	}
}

func TestRecent_FewerTurnsThanRequested(t *testing.T) {
	b := New(0, 0)
	b.Add(turn("only", time.Now()))

	if got := b.Recent(DefaultPrimingTurns); len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
	if got := b.Recent(0); got != nil {
		t.Errorf("Recent(0) = %v, want nil", got)
	}
}

func TestAdd_SizeEviction(t *testing.T) {
	b := New(3, 0)
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		b.Add(turn(string(rune('a'+i)), base.Add(time.Duration(i)*time.Second)))
	}

	all := b.All()
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Transcription != "c" || all[2].Transcription != "e" {
		t.Errorf("retained = [%q..%q], want [c..e]", all[0].Transcription, all[2].Transcription)
	}
}

func TestAdd_AgeEviction(t *testing.T) {
	b := New(0, time.Minute)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	b.Add(turn("old", now.Add(-2*time.Minute)))
	b.Add(turn("fresh", now))

	all := b.All()
	if len(all) != 1 {
		t.Fatalf("len = %d, want 1", len(all))
	}
	if all[0].Transcription != "fresh" {
		t.Errorf("retained = %q, want %q", all[0].Transcription, "fresh")
	}
}

func TestAdd_StampsZeroTimestamp(t *testing.T) {
	b := New(0, 0)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	b.Add(types.ConversationTurn{Transcription: "hi"})

	if got := b.All()[0].Timestamp; !got.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", got, now)
	}
}

func TestClear(t *testing.T) {
	b := New(0, 0)
	b.Add(turn("a", time.Now()))
	b.Clear()
	if b.Len() != 0 {
		t.Errorf("Len = %d after Clear, want 0", b.Len())
	}
}

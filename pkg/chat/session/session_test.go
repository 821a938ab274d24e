package session

import (
	"fmt"
	"testing"

	"github.com/kindred-labs/kin/pkg/chat/protocol"
)

func TestSessionDefaults(t *testing.T) {
	s := newSession("c_abc", DefaultHistoryWindow)

	rm, cm := s.Modes()
	if rm != protocol.ResponseModeBoth {
		t.Errorf("default responseMode = %q, want both", rm)
	}
	if cm != protocol.ModeNeutral {
		t.Errorf("default mode = %q, want neutral", cm)
	}
	if turns := s.RecentTurns(); len(turns) != 0 {
		t.Errorf("fresh session has %d turns", len(turns))
	}
}

func TestSessionInvalidModeRetained(t *testing.T) {
	s := newSession("c_abc", DefaultHistoryWindow)

	if !s.SetResponseMode(protocol.ResponseModeAudio) {
		t.Fatal("valid responseMode rejected")
	}
	if s.SetResponseMode("loud") {
		t.Error("invalid responseMode accepted")
	}
	if s.SetMode("grumpy") {
		t.Error("invalid mode accepted")
	}

	rm, cm := s.Modes()
	if rm != protocol.ResponseModeAudio {
		t.Errorf("responseMode = %q, want retained audio", rm)
	}
	if cm != protocol.ModeNeutral {
		t.Errorf("mode = %q, want retained neutral", cm)
	}
}

func TestSessionHistoryWindowEviction(t *testing.T) {
	s := newSession("c_abc", 3)

	for i := 0; i < 5; i++ {
		s.AppendTurn(Turn{Question: fmt.Sprintf("q%d", i), Reply: fmt.Sprintf("r%d", i)})
	}

	turns := s.RecentTurns()
	if len(turns) != 3 {
		t.Fatalf("window holds %d turns, want 3", len(turns))
	}
	for i, want := range []string{"q2", "q3", "q4"} {
		if turns[i].Question != want {
			t.Errorf("turns[%d].Question = %q, want %q (oldest first)", i, turns[i].Question, want)
		}
	}
}

func TestSessionRecentTurnsIsACopy(t *testing.T) {
	s := newSession("c_abc", DefaultHistoryWindow)
	s.AppendTurn(Turn{Question: "q", Reply: "r"})

	turns := s.RecentTurns()
	turns[0].Question = "mutated"

	if got := s.RecentTurns()[0].Question; got != "q" {
		t.Errorf("session history mutated through the returned slice: %q", got)
	}
}

func TestRegistryGetOrCreateIsIdempotent(t *testing.T) {
	r := NewRegistry(NewCancels(), DefaultHistoryWindow)

	a := r.GetOrCreate("c_1")
	b := r.GetOrCreate("c_1")
	if a != b {
		t.Error("GetOrCreate returned distinct sessions for one id")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
}

func TestRegistryDisconnectReleasesCancellation(t *testing.T) {
	cancels := NewCancels()
	r := NewRegistry(cancels, DefaultHistoryWindow)

	sess := r.GetOrCreate("c_1")
	token := cancels.Begin(sess.ID)

	r.Disconnect("c_1")

	if r.Count() != 0 {
		t.Errorf("Count = %d after disconnect, want 0", r.Count())
	}
	if cancels.IsCurrent(sess.ID, token) {
		t.Error("disconnect must stale the in-flight token")
	}

	// Idempotent.
	r.Disconnect("c_1")
}

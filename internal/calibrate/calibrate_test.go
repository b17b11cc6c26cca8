package calibrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
	audiomock "github.com/earshot-audio/earshot/pkg/audio/mock"
	"github.com/earshot-audio/earshot/pkg/provider/diarize"
	diarizemock "github.com/earshot-audio/earshot/pkg/provider/diarize/mock"
)

// frameChannel returns a buffered channel preloaded with n tone frames.
func frameChannel(n int) chan audio.Frame {
	ch := make(chan audio.Frame, n)
	for _, f := range audiomock.Tone(n, 20, 16000, 0.1, 0) {
		ch <- f
	}
	return ch
}

// pick returns a Selector that always chooses id.
func pick(id string) Selector {
	return SelectorFunc(func(context.Context, []SpeakerSummary) (string, error) {
		return id, nil
	})
}

// twoSpeakers is a window with A dominant over B.
var twoSpeakers = []diarize.Segment{
	{Start: 0, End: 2 * time.Second, SpeakerID: "A"},
	{Start: 2 * time.Second, End: 3 * time.Second, SpeakerID: "B"},
	{Start: 4 * time.Second, End: 6 * time.Second, SpeakerID: "A"},
}

// ── Summarize ─────────────────────────────────────────────────────────────────

// TestSummarize_TwoSpeakers checks aggregation and ordering.
func TestSummarize_TwoSpeakers(t *testing.T) {
	got := Summarize(twoSpeakers)
	if len(got) != 2 {
		t.Fatalf("expected 2 speakers, got %d", len(got))
	}

	a := got[0]
	if a.SpeakerID != "A" {
		t.Fatalf("dominant speaker = %q, want A", a.SpeakerID)
	}
	if a.Segments != 2 {
		t.Errorf("A segments = %d, want 2", a.Segments)
	}
	if a.TotalSpeech != 4*time.Second {
		t.Errorf("A total = %v, want 4s", a.TotalSpeech)
	}
	if a.First != 0 || a.Last != 6*time.Second {
		t.Errorf("A range = [%v, %v], want [0, 6s]", a.First, a.Last)
	}

	b := got[1]
	if b.SpeakerID != "B" || b.Segments != 1 || b.TotalSpeech != time.Second {
		t.Errorf("unexpected B summary: %+v", b)
	}
}

// TestSummarize_TieOrdersBySpeakerID checks deterministic ordering on equal
// speech totals.
func TestSummarize_TieOrdersBySpeakerID(t *testing.T) {
	got := Summarize([]diarize.Segment{
		{Start: 0, End: time.Second, SpeakerID: "B"},
		{Start: time.Second, End: 2 * time.Second, SpeakerID: "A"},
	})
	if got[0].SpeakerID != "A" || got[1].SpeakerID != "B" {
		t.Errorf("tie order = %q, %q; want A, B", got[0].SpeakerID, got[1].SpeakerID)
	}
}

// TestSummarize_Empty checks the empty-input contract.
func TestSummarize_Empty(t *testing.T) {
	got := Summarize(nil)
	if got == nil {
		t.Fatal("expected non-nil slice")
	}
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %d entries", len(got))
	}
}

// ── Engine.Run ────────────────────────────────────────────────────────────────

// TestEngine_BindsSelectedSpeaker checks the happy path end to end.
func TestEngine_BindsSelectedSpeaker(t *testing.T) {
	provider := &diarizemock.Provider{Segments: twoSpeakers}
	e := NewEngine(provider, pick("B"), Config{
		Window:      200 * time.Millisecond,
		DisplayName: "Dexter",
	})

	binding, err := e.Run(context.Background(), frameChannel(10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if binding.SpeakerID != "B" {
		t.Errorf("bound speaker = %q, want B", binding.SpeakerID)
	}
	if binding.DisplayName != "Dexter" {
		t.Errorf("display name = %q, want Dexter", binding.DisplayName)
	}

	// The provider saw one full window of audio.
	if provider.CallCount() != 1 {
		t.Fatalf("diarize calls = %d, want 1", provider.CallCount())
	}
	call := provider.Calls[0]
	wantBytes := 10 * 320 * 2 // 10 frames x 320 samples x 2 bytes
	if len(call.PCM) != wantBytes {
		t.Errorf("window size = %d bytes, want %d", len(call.PCM), wantBytes)
	}
	if call.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", call.SampleRate)
	}
}

// TestEngine_ZeroSpeakersExhaustsRetries checks that persistent empty
// diarization fails the session after the retry limit.
func TestEngine_ZeroSpeakersExhaustsRetries(t *testing.T) {
	provider := &diarizemock.Provider{} // always zero segments
	e := NewEngine(provider, pick("A"), Config{
		Window:     100 * time.Millisecond,
		MaxRetries: 3,
	})

	_, err := e.Run(context.Background(), frameChannel(30))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("error = %v, want ErrRetriesExhausted", err)
	}
	if !errors.Is(err, ErrNoSpeakers) {
		t.Errorf("error should wrap ErrNoSpeakers, got %v", err)
	}
	if provider.CallCount() != 3 {
		t.Errorf("diarize calls = %d, want 3 (one per attempt)", provider.CallCount())
	}
}

// TestEngine_RetryThenSuccess checks that a fresh window is captured for the
// second attempt after an empty first window.
func TestEngine_RetryThenSuccess(t *testing.T) {
	provider := &diarizemock.Provider{
		Queue: [][]diarize.Segment{nil, twoSpeakers},
	}
	e := NewEngine(provider, pick("A"), Config{
		Window:     100 * time.Millisecond,
		MaxRetries: 3,
	})

	binding, err := e.Run(context.Background(), frameChannel(10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if binding.SpeakerID != "A" {
		t.Errorf("bound speaker = %q, want A", binding.SpeakerID)
	}
	if provider.CallCount() != 2 {
		t.Errorf("diarize calls = %d, want 2", provider.CallCount())
	}
}

// TestEngine_UnknownSelectionRetries checks that selecting a speaker not in
// the window counts as a failed attempt.
func TestEngine_UnknownSelectionRetries(t *testing.T) {
	provider := &diarizemock.Provider{Segments: twoSpeakers}
	e := NewEngine(provider, pick("Z"), Config{
		Window:     100 * time.Millisecond,
		MaxRetries: 2,
	})

	_, err := e.Run(context.Background(), frameChannel(20))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("error = %v, want ErrRetriesExhausted", err)
	}
	if !errors.Is(err, ErrNoSelection) {
		t.Errorf("error should wrap ErrNoSelection, got %v", err)
	}
}

// TestEngine_SourceClosedIsFatal checks that a closed frame stream fails
// immediately without consuming retries.
func TestEngine_SourceClosedIsFatal(t *testing.T) {
	provider := &diarizemock.Provider{Segments: twoSpeakers}
	e := NewEngine(provider, pick("A"), Config{
		Window:     time.Second,
		MaxRetries: 3,
	})

	ch := make(chan audio.Frame)
	close(ch)

	_, err := e.Run(context.Background(), ch)
	if !errors.Is(err, audio.ErrSourceClosed) {
		t.Fatalf("error = %v, want ErrSourceClosed", err)
	}
	if provider.CallCount() != 0 {
		t.Errorf("diarize called %d times on a dead source", provider.CallCount())
	}
}

// TestEngine_ContextCancelDuringAccumulate checks cancellation while waiting
// for frames.
func TestEngine_ContextCancelDuringAccumulate(t *testing.T) {
	provider := &diarizemock.Provider{Segments: twoSpeakers}
	e := NewEngine(provider, pick("A"), Config{Window: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := e.Run(ctx, make(chan audio.Frame))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

package segment

import (
	"testing"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
	audiomock "github.com/earshot-audio/earshot/pkg/audio/mock"
)

// testSegmenter returns a segmenter with deterministic tuning for 20ms
// frames: hangover 600ms, minimum 300ms, cap 30s unless overridden.
func testSegmenter(cfg SegmenterConfig) *Segmenter {
	return NewSegmenter(NewClassifier(ClassifierConfig{}), cfg)
}

// feed runs frames through s and collects every finalized utterance.
func feed(t *testing.T, s *Segmenter, frames []audio.Frame) []*Utterance {
	t.Helper()
	var out []*Utterance
	for _, f := range frames {
		u, err := s.Process(f)
		if err != nil {
			t.Fatalf("Process(%v): %v", f.Timestamp, err)
		}
		if u != nil {
			out = append(out, u)
		}
	}
	return out
}

// TestSegmenter_BurstThenSilence checks the core contract: a speech burst of
// duration D followed by silence past the hangover yields exactly one
// utterance of duration ≈D.
func TestSegmenter_BurstThenSilence(t *testing.T) {
	s := testSegmenter(SegmenterConfig{})

	burst := audiomock.Tone(50, 20, 16000, 0.1, 0) // 1s of speech
	tail := audiomock.Silence(35, 20, 16000, time.Second)

	out := feed(t, s, append(burst, tail...))
	if len(out) != 1 {
		t.Fatalf("expected exactly 1 utterance, got %d", len(out))
	}

	u := out[0]
	if !u.Finalized {
		t.Error("emitted utterance not finalized")
	}
	// The classifier needs a few onset frames, so the start trails slightly.
	if u.Duration() < 900*time.Millisecond || u.Duration() > time.Second {
		t.Errorf("duration = %v, want ≈1s", u.Duration())
	}
	if u.End > time.Second {
		t.Errorf("end = %v, extends past the last voiced frame", u.End)
	}
	if u.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", u.SampleRate)
	}
	if len(u.Audio) == 0 {
		t.Error("empty audio buffer")
	}
	if u.ID == "" {
		t.Error("missing utterance ID")
	}
}

// TestSegmenter_EmissionWithinHangover checks that the utterance is emitted
// once the hangover elapses, not later.
func TestSegmenter_EmissionWithinHangover(t *testing.T) {
	s := testSegmenter(SegmenterConfig{Hangover: 600 * time.Millisecond})

	burst := audiomock.Tone(50, 20, 16000, 0.1, 0)
	if got := feed(t, s, burst); len(got) != 0 {
		t.Fatalf("utterance emitted during speech")
	}

	// 29 silent frames = 580ms: still open.
	tail := audiomock.Silence(29, 20, 16000, time.Second)
	if got := feed(t, s, tail); len(got) != 0 {
		t.Fatalf("utterance emitted before hangover elapsed")
	}

	// The 30th silent frame crosses 600ms.
	last := audiomock.Silence(1, 20, 16000, time.Second+580*time.Millisecond)
	if got := feed(t, s, last); len(got) != 1 {
		t.Fatalf("utterance not emitted at hangover boundary")
	}
}

// TestSegmenter_MinDurationDiscard checks that a blip shorter than the
// minimum duration is never emitted.
func TestSegmenter_MinDurationDiscard(t *testing.T) {
	s := testSegmenter(SegmenterConfig{MinUtterance: 300 * time.Millisecond})

	blip := audiomock.Tone(8, 20, 16000, 0.1, 0) // 160ms
	tail := audiomock.Silence(35, 20, 16000, 160*time.Millisecond)

	if out := feed(t, s, append(blip, tail...)); len(out) != 0 {
		t.Fatalf("sub-minimum utterance emitted: %v", out[0].Duration())
	}
}

// TestSegmenter_CapSplitsContinuousSpeech checks that continuous talking
// yields multiple consecutive utterances, none exceeding the cap.
func TestSegmenter_CapSplitsContinuousSpeech(t *testing.T) {
	cap := 500 * time.Millisecond
	s := testSegmenter(SegmenterConfig{MaxUtterance: cap})

	speech := audiomock.Tone(150, 20, 16000, 0.1, 0) // 3s continuous
	out := feed(t, s, speech)
	if last := s.Flush(); last != nil {
		out = append(out, last)
	}

	if len(out) < 3 {
		t.Fatalf("expected at least 3 utterances from 3s at 500ms cap, got %d", len(out))
	}
	for i, u := range out {
		if u.Duration() > cap {
			t.Errorf("utterance %d duration %v exceeds cap %v", i, u.Duration(), cap)
		}
		if i > 0 {
			prev := out[i-1]
			if u.Start < prev.End {
				t.Errorf("utterance %d overlaps previous: start %v < previous end %v", i, u.Start, prev.End)
			}
			if u.Start < prev.Start {
				t.Errorf("utterance %d out of order", i)
			}
		}
	}
}

// TestSegmenter_TwoBurstsOrdered checks ordering and non-overlap across
// separate bursts.
func TestSegmenter_TwoBurstsOrdered(t *testing.T) {
	s := testSegmenter(SegmenterConfig{})

	var frames []audio.Frame
	frames = append(frames, audiomock.Tone(25, 20, 16000, 0.1, 0)...)                      // 0–500ms speech
	frames = append(frames, audiomock.Silence(35, 20, 16000, 500*time.Millisecond)...)     // 700ms silence
	frames = append(frames, audiomock.Tone(25, 20, 16000, 0.1, 1200*time.Millisecond)...)  // second burst
	frames = append(frames, audiomock.Silence(35, 20, 16000, 1700*time.Millisecond)...)    // closing silence

	out := feed(t, s, frames)
	if len(out) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(out))
	}
	if out[1].Start < out[0].End {
		t.Errorf("second utterance starts at %v before first ended at %v", out[1].Start, out[0].End)
	}
}

// TestSegmenter_HangoverSilenceTrimmed checks that trailing hangover audio
// does not end up in the finalized buffer.
func TestSegmenter_HangoverSilenceTrimmed(t *testing.T) {
	s := testSegmenter(SegmenterConfig{})

	burst := audiomock.Tone(25, 20, 16000, 0.1, 0)
	tail := audiomock.Silence(35, 20, 16000, 500*time.Millisecond)

	out := feed(t, s, append(burst, tail...))
	if len(out) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(out))
	}

	u := out[0]
	wantBytes := int(u.Duration()/time.Millisecond) * 16 * 2 // 16 samples/ms, 2 bytes each
	if len(u.Audio) != wantBytes {
		t.Errorf("audio length %d bytes, want %d for %v", len(u.Audio), wantBytes, u.Duration())
	}
}

// TestSegmenter_FlushFinalizesOpenUtterance checks shutdown behaviour.
func TestSegmenter_FlushFinalizesOpenUtterance(t *testing.T) {
	s := testSegmenter(SegmenterConfig{})

	feed(t, s, audiomock.Tone(25, 20, 16000, 0.1, 0))
	u := s.Flush()
	if u == nil {
		t.Fatal("Flush returned nil for an open utterance")
	}
	if !u.Finalized {
		t.Error("flushed utterance not finalized")
	}
	if s.Flush() != nil {
		t.Error("second Flush returned an utterance")
	}
}

// TestSegmenter_FlushDiscardsShortOpenUtterance checks that Flush applies
// the minimum-duration rule too.
func TestSegmenter_FlushDiscardsShortOpenUtterance(t *testing.T) {
	s := testSegmenter(SegmenterConfig{MinUtterance: 300 * time.Millisecond})

	feed(t, s, audiomock.Tone(6, 20, 16000, 0.1, 0)) // 120ms
	if u := s.Flush(); u != nil {
		t.Fatalf("Flush emitted a %v utterance below the minimum", u.Duration())
	}
}

// TestSegmenter_RejectsOutOfOrderFrames checks the ordering contract.
func TestSegmenter_RejectsOutOfOrderFrames(t *testing.T) {
	s := testSegmenter(SegmenterConfig{})

	frames := audiomock.Tone(2, 20, 16000, 0.1, 0)
	if _, err := s.Process(frames[1]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Process(frames[0]); err == nil {
		t.Fatal("expected error for frame preceding stream position")
	}
}

// TestSegmenter_SilentFramesWithoutOpenUtteranceAreDropped checks that pure
// silence has no side effects.
func TestSegmenter_SilentFramesWithoutOpenUtteranceAreDropped(t *testing.T) {
	s := testSegmenter(SegmenterConfig{})
	if out := feed(t, s, audiomock.Silence(100, 20, 16000, 0)); len(out) != 0 {
		t.Fatal("silence produced utterances")
	}
	if s.Flush() != nil {
		t.Fatal("silence left an open utterance")
	}
}

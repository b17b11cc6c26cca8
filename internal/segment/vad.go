package segment

import (
	"github.com/earshot-audio/earshot/pkg/audio"
)

// Default classifier tuning for 16kHz 20ms frames.
const (
	defaultSpeechThreshold  = 0.015
	defaultSilenceThreshold = 0.008
	defaultSpeechFrames     = 3 // ~60ms of sustained energy to enter speech
)

// ClassifierConfig tunes the voice activity classifier. Zero values take the
// package defaults, which suit 16kHz mono 20ms frames.
type ClassifierConfig struct {
	// SpeechThreshold is the normalised RMS level at or above which a frame
	// counts toward entering the speech state.
	SpeechThreshold float64

	// SilenceThreshold is the normalised RMS level below which a frame is
	// unvoiced while in the speech state. Keeping it below SpeechThreshold
	// gives the detector hysteresis so it does not flicker at the boundary.
	SilenceThreshold float64

	// SpeechFrames is the number of consecutive frames at or above
	// SpeechThreshold required to enter the speech state.
	SpeechFrames int
}

// Classifier labels audio frames voiced or unvoiced based on RMS energy with
// hysteresis. It carries per-stream state and is not safe for concurrent use.
type Classifier struct {
	speechThreshold  float64
	silenceThreshold float64
	speechFrames     int

	inSpeech    bool
	speechCount int
}

// NewClassifier returns a Classifier with cfg applied over the defaults.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	c := &Classifier{
		speechThreshold:  defaultSpeechThreshold,
		silenceThreshold: defaultSilenceThreshold,
		speechFrames:     defaultSpeechFrames,
	}
	if cfg.SpeechThreshold > 0 {
		c.speechThreshold = cfg.SpeechThreshold
	}
	if cfg.SilenceThreshold > 0 {
		c.silenceThreshold = cfg.SilenceThreshold
	}
	if cfg.SpeechFrames > 0 {
		c.speechFrames = cfg.SpeechFrames
	}
	return c
}

// Classify reports whether f is voiced.
//
// Outside the speech state, SpeechFrames consecutive energetic frames are
// required before Classify starts returning true. Inside the speech state,
// any frame at or above SilenceThreshold remains voiced; a single quieter
// frame drops straight back to unvoiced — trailing-silence tolerance is the
// segmenter's hangover rule, not the classifier's.
func (c *Classifier) Classify(f audio.Frame) bool {
	level := audio.RMS(f.Data)

	if c.inSpeech {
		if level < c.silenceThreshold {
			c.inSpeech = false
			c.speechCount = 0
			return false
		}
		return true
	}

	if level >= c.speechThreshold {
		c.speechCount++
		if c.speechCount >= c.speechFrames {
			c.inSpeech = true
			c.speechCount = 0
			return true
		}
	} else {
		c.speechCount = 0
	}
	return false
}

// Reset clears the classifier's state, for use after a stream gap.
func (c *Classifier) Reset() {
	c.inSpeech = false
	c.speechCount = 0
}

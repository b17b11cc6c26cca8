// Package transcript filters raw speech-to-text output before it reaches
// response generation.
//
// Whisper-family models produce two classes of junk on marginal audio: empty
// or near-empty strings, and hallucinated stock phrases learned from subtitle
// corpora ("Thanks for watching!", "Subtítulos realizados por la comunidad de
// Amara.org"). Both read as plausible text downstream, so they must be caught
// here rather than by the generator.
//
// The [Filter] applies three checks in order:
//
//  1. Empty: the normalised text contains no word characters at all.
//  2. Too short: fewer characters than the configured minimum survive
//     normalisation.
//  3. Hallucination: the normalised text is phonetically close (Jaro-Winkler
//     similarity above the configured threshold) to a known stock phrase.
//     Similarity matching rather than exact comparison catches the many
//     punctuation and casing variants these phrases appear in.
//
// A Filter is read-only after construction and safe for concurrent use.
package transcript

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultMinChars            = 3
	defaultSimilarityThreshold = 0.92
)

// defaultHallucinations are stock phrases whisper models emit on silence or
// noise. English and Spanish variants cover the deployments we run; extend
// per-language via [WithHallucinations].
var defaultHallucinations = []string{
	"thank you for watching",
	"thanks for watching",
	"thank you so much for watching",
	"please subscribe",
	"subtitles by the amara org community",
	"subscribe to the channel",
	"see you in the next video",
	"gracias por ver el video",
	"gracias por ver",
	"suscribete al canal",
	"subtitulos realizados por la comunidad de amara org",
	"nos vemos en el proximo video",
}

// Reason classifies why a transcript was rejected.
type Reason string

const (
	// ReasonEmpty means no word characters survived normalisation.
	ReasonEmpty Reason = "empty"

	// ReasonTooShort means the normalised text is below the minimum length.
	ReasonTooShort Reason = "too_short"

	// ReasonHallucination means the text matched a known stock phrase.
	ReasonHallucination Reason = "hallucination"
)

// Option is a functional option for configuring a [Filter].
type Option func(*Filter)

// WithMinChars sets the minimum number of characters (after normalisation)
// a transcript must have to pass. Default: 3.
func WithMinChars(n int) Option {
	return func(f *Filter) {
		f.minChars = n
	}
}

// WithSimilarityThreshold sets the minimum Jaro-Winkler similarity at which
// a transcript is considered a match for a known stock phrase. Default: 0.92.
func WithSimilarityThreshold(threshold float64) Option {
	return func(f *Filter) {
		f.similarityThreshold = threshold
	}
}

// WithHallucinations appends additional stock phrases to the built-in list.
// Phrases are normalised on construction, so any casing or punctuation works.
func WithHallucinations(phrases ...string) Option {
	return func(f *Filter) {
		f.extra = append(f.extra, phrases...)
	}
}

// Filter screens raw transcripts for emptiness, insufficient length, and
// known hallucinated stock phrases.
type Filter struct {
	minChars            int
	similarityThreshold float64
	extra               []string

	// phrases holds the normalised hallucination list, built once in New.
	phrases []string
}

// New returns a [Filter] configured with the supplied options.
func New(opts ...Option) *Filter {
	f := &Filter{
		minChars:            defaultMinChars,
		similarityThreshold: defaultSimilarityThreshold,
	}
	for _, o := range opts {
		o(f)
	}

	f.phrases = make([]string, 0, len(defaultHallucinations)+len(f.extra))
	for _, p := range defaultHallucinations {
		f.phrases = append(f.phrases, normalize(p))
	}
	for _, p := range f.extra {
		if n := normalize(p); n != "" {
			f.phrases = append(f.phrases, n)
		}
	}
	return f
}

// Evaluate checks text and returns the trimmed transcript together with
// whether it should proceed to generation.
//
// When ok is false, reason names the failed check and clean holds whatever
// survived trimming (possibly empty). When ok is true, reason is empty and
// clean is the whitespace-trimmed original text with its casing and
// punctuation intact.
func (f *Filter) Evaluate(text string) (clean string, reason Reason, ok bool) {
	clean = strings.TrimSpace(text)
	norm := normalize(clean)

	if norm == "" {
		return clean, ReasonEmpty, false
	}
	if len([]rune(norm)) < f.minChars {
		return clean, ReasonTooShort, false
	}
	for _, phrase := range f.phrases {
		if matchr.JaroWinkler(norm, phrase, false) >= f.similarityThreshold {
			return clean, ReasonHallucination, false
		}
	}
	return clean, "", true
}

// normalize lowercases text, strips accents-insensitive punctuation, and
// collapses runs of whitespace so stock-phrase variants compare equal.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(stripAccent(r))
			space = false
		case !space:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// stripAccent folds the accented letters common in Spanish transcripts to
// their base forms. Anything else passes through unchanged.
func stripAccent(r rune) rune {
	switch r {
	case 'á', 'à', 'ä', 'â':
		return 'a'
	case 'é', 'è', 'ë', 'ê':
		return 'e'
	case 'í', 'ì', 'ï', 'î':
		return 'i'
	case 'ó', 'ò', 'ö', 'ô':
		return 'o'
	case 'ú', 'ù', 'ü', 'û':
		return 'u'
	case 'ñ':
		return 'n'
	}
	return r
}

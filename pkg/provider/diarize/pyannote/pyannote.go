// Package pyannote provides a diarize.Provider backed by a local
// pyannote-style diarization HTTP server.
//
// The server is expected to expose POST /diarize accepting a WAV file as
// multipart/form-data and responding with JSON:
//
//	{"segments": [{"start": 0.0, "end": 2.48, "speaker": "SPEAKER_00"}, …]}
//
// Start/end are seconds relative to the submitted buffer. The reference
// deployment wraps the pyannote/speaker-diarization-3.1 model, but any
// server speaking this contract works.
package pyannote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/provider/diarize"
)

// Compile-time assertion that Provider satisfies diarize.Provider.
var _ diarize.Provider = (*Provider)(nil)

const defaultTimeout = 30 * time.Second

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client used for requests. Useful in
// tests and for callers that need custom transport settings.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithMinSpeakers hints the expected minimum number of distinct speakers.
// Zero (the default) omits the hint.
func WithMinSpeakers(n int) Option {
	return func(p *Provider) { p.minSpeakers = n }
}

// WithMaxSpeakers hints the expected maximum number of distinct speakers.
// Zero (the default) omits the hint.
func WithMaxSpeakers(n int) Option {
	return func(p *Provider) { p.maxSpeakers = n }
}

// Provider implements diarize.Provider against a diarization HTTP server.
type Provider struct {
	serverURL   string
	httpClient  *http.Client
	minSpeakers int
	maxSpeakers int
}

// New creates a Provider targeting the diarization server at serverURL
// (e.g., "http://localhost:8000"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("pyannote: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// wireSegment is the JSON shape of one segment in the server response.
type wireSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Diarize implements diarize.Provider. It encodes pcm as WAV, POSTs it to
// the /diarize endpoint and decodes the segment list. Segments are returned
// sorted by start time regardless of server ordering.
func (p *Provider) Diarize(ctx context.Context, pcm []byte, sampleRate int) ([]diarize.Segment, error) {
	if len(pcm) == 0 {
		return nil, nil
	}
	wav := audio.EncodeWAV(pcm, sampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("pyannote: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("pyannote: write wav data: %w", err)
	}
	if p.minSpeakers > 0 {
		if err := mw.WriteField("min_speakers", fmt.Sprintf("%d", p.minSpeakers)); err != nil {
			return nil, fmt.Errorf("pyannote: write min_speakers field: %w", err)
		}
	}
	if p.maxSpeakers > 0 {
		if err := mw.WriteField("max_speakers", fmt.Sprintf("%d", p.maxSpeakers)); err != nil {
			return nil, fmt.Errorf("pyannote: write max_speakers field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("pyannote: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/diarize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("pyannote: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pyannote: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pyannote: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pyannote: read response body: %w", err)
	}

	var result struct {
		Segments []wireSegment `json:"segments"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("pyannote: parse JSON response: %w", err)
	}

	segments := make([]diarize.Segment, 0, len(result.Segments))
	for _, ws := range result.Segments {
		if ws.End < ws.Start || ws.Speaker == "" {
			continue
		}
		segments = append(segments, diarize.Segment{
			Start:     time.Duration(ws.Start * float64(time.Second)),
			End:       time.Duration(ws.End * float64(time.Second)),
			SpeakerID: ws.Speaker,
		})
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})
	return segments, nil
}

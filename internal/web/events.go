package web

import "time"

// Event types carried over the operator socket, server to client.
const (
	eventCalibration   = "calibration"
	eventTranscription = "transcription"
	eventResponse      = "response"
	eventStatus        = "status"
)

// Command types accepted from the client.
const (
	cmdSelect      = "select"
	cmdRecalibrate = "recalibrate"
)

// speakerOption is one selectable speaker in a calibration event.
type speakerOption struct {
	SpeakerID string  `json:"speaker_id"`
	SpeechS   float64 `json:"speech_s"`
	Segments  int     `json:"segments"`
}

// calibrationEvent asks the operator to pick the speaker to monitor.
type calibrationEvent struct {
	Type     string          `json:"type"`
	Speakers []speakerOption `json:"speakers"`
}

// transcriptionEvent carries one finalized transcript.
type transcriptionEvent struct {
	Type        string    `json:"type"`
	Participant string    `json:"participant"`
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence"`
	Utterance   string    `json:"utterance_id"`
	At          time.Time `json:"at"`
}

// responseEvent carries one generated reply.
type responseEvent struct {
	Type        string    `json:"type"`
	Participant string    `json:"participant"`
	Transcript  string    `json:"transcript"`
	Reply       string    `json:"reply"`
	Utterance   string    `json:"utterance_id"`
	At          time.Time `json:"at"`
}

// statusEvent reflects the pipeline's operating mode.
type statusEvent struct {
	Type        string    `json:"type"`
	State       string    `json:"state"`
	Degraded    bool      `json:"degraded"`
	SpeakerID   string    `json:"speaker_id,omitempty"`
	Participant string    `json:"participant,omitempty"`
	At          time.Time `json:"at"`
}

// command is a client-to-server message.
type command struct {
	Type      string `json:"type"`
	SpeakerID string `json:"speaker_id,omitempty"`
}

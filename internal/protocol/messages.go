package protocol

import (
	"fmt"
	"time"
)

// AudioChunk carries one frame of PCM audio for an utterance in progress.
// Every chunk of a session must share the format declared by the first one.
type AudioChunk struct {
	SessionID string `json:"session_id"`
	Rate      int    `json:"rate"`
	Width     int    `json:"width"`
	Channels  int    `json:"channels"`
	Audio     []byte `json:"audio"`
}

// AudioStop marks the end of one utterance and requests transcription.
type AudioStop struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// TranscribeControl overrides the language used for the next utterance.
type TranscribeControl struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language,omitempty"`
}

// Transcript is the reply for one completed utterance. Text may be empty
// when recognition produced nothing usable.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Language  string    `json:"language,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Attribution credits the upstream project behind a backend or model.
type Attribution struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ModelInfo describes one model served by a program.
type ModelInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Attribution Attribution `json:"attribution"`
	Installed   bool        `json:"installed"`
	Languages   []string    `json:"languages"`
	Version     string      `json:"version"`
}

// Program describes one recognition backend.
type Program struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Attribution Attribution `json:"attribution"`
	Installed   bool        `json:"installed"`
	Version     string      `json:"version"`
	Models      []ModelInfo `json:"models"`
}

// Descriptor is the discovery reply advertising the active backend.
type Descriptor struct {
	ASR []Program `json:"asr"`
}

const (
	// SubjectSessionPrefix roots all per-session subjects. The session id
	// occupies the third token.
	SubjectSessionPrefix = "stt.session"

	// SubjectDescribe answers capability discovery via request/reply.
	SubjectDescribe = "stt.describe"

	tokenAudio      = "audio"
	tokenStop       = "stop"
	tokenControl    = "transcribe"
	tokenTranscript = "transcript"
)

func SubjectAudio(sessionID string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectSessionPrefix, sessionID, tokenAudio)
}

func SubjectStop(sessionID string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectSessionPrefix, sessionID, tokenStop)
}

func SubjectControl(sessionID string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectSessionPrefix, sessionID, tokenControl)
}

func SubjectTranscript(sessionID string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectSessionPrefix, sessionID, tokenTranscript)
}

// Subscription patterns for the session service.
const (
	WildcardAudio   = SubjectSessionPrefix + ".*." + tokenAudio
	WildcardStop    = SubjectSessionPrefix + ".*." + tokenStop
	WildcardControl = SubjectSessionPrefix + ".*." + tokenControl
)

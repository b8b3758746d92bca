package ws

import (
	"encoding/json"
	"time"
)

// Server -> client event types.
const (
	EventTranscriptChunk = "transcript_chunk"
	EventQueryResponse   = "query_response"
	EventStatusUpdate    = "status_update"
	EventSummaryReady    = "summary_ready"
	EventError           = "error"
)

// Client -> server message types. The Hub never consumes these; they are
// routed to the orchestrator by the connection read loop.
const (
	MessageStartCall       = "start_call"
	MessageAudioChunk      = "audio_chunk"
	MessagePushToTalkQuery = "push_to_talk_query"
	MessageEndCall         = "end_call"
)

// Event is the server-originated message envelope. Type-specific fields are
// flattened with omitempty so each event type serializes to the shape clients
// expect.
type Event struct {
	Type      string    `json:"type"`
	CallID    string    `json:"call_id"`
	Timestamp time.Time `json:"timestamp"`

	// transcript_chunk
	Speaker string   `json:"speaker,omitempty"`
	Text    string   `json:"text,omitempty"`
	Start   *float64 `json:"start_time,omitempty"`
	End     *float64 `json:"end_time,omitempty"`
	IsFinal *bool    `json:"is_final,omitempty"`

	// query_response
	Answer     string   `json:"answer,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`

	// status_update
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`

	// summary_ready
	SummaryID string `json:"summary_id,omitempty"`

	// error
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

func TranscriptChunkEvent(callID, speaker, text string, start, end float64, isFinal bool) Event {
	return Event{
		Type:    EventTranscriptChunk,
		CallID:  callID,
		Speaker: speaker,
		Text:    text,
		Start:   &start,
		End:     &end,
		IsFinal: &isFinal,
	}
}

func QueryResponseEvent(callID, answer string, sources []string, confidence float64) Event {
	if sources == nil {
		sources = []string{}
	}
	return Event{
		Type:       EventQueryResponse,
		CallID:     callID,
		Answer:     answer,
		Sources:    sources,
		Confidence: &confidence,
	}
}

func StatusUpdateEvent(callID, status, message string) Event {
	return Event{Type: EventStatusUpdate, CallID: callID, Status: status, Message: message}
}

func SummaryReadyEvent(callID, summaryID string) Event {
	return Event{Type: EventSummaryReady, CallID: callID, SummaryID: summaryID}
}

func ErrorEvent(callID, errMsg, details string) Event {
	return Event{Type: EventError, CallID: callID, Error: errMsg, Details: details}
}

// Inbound is the client-originated message envelope consumed by the
// orchestrator.
type Inbound struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`

	// start_call
	DealID      int    `json:"deal_id,omitempty"`
	AccountName string `json:"account_name,omitempty"`
	ContactName string `json:"contact_name,omitempty"`

	// audio_chunk
	AudioData     string `json:"audio_data,omitempty"` // base64
	ChunkSequence int    `json:"chunk_sequence,omitempty"`

	// push_to_talk_query
	Query string `json:"query,omitempty"`
}

func DecodeInbound(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, err
	}
	return msg, nil
}

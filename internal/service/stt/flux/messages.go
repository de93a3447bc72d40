package flux

import (
	"bytes"
	"encoding/json"
	"errors"
)

// MessageType is the top-level "type" discriminator of an inbound frame.
type MessageType string

const (
	MessageConnected MessageType = "Connected"
	MessageError     MessageType = "Error"
	MessageTurnInfo  MessageType = "TurnInfo"
)

// EventKind is the "event" field of a TurnInfo message.
type EventKind string

const (
	StartOfTurn    EventKind = "StartOfTurn"
	TurnResumed    EventKind = "TurnResumed"
	EndOfTurn      EventKind = "EndOfTurn"
	EagerEndOfTurn EventKind = "EagerEndOfTurn"
	Update         EventKind = "Update"
)

func (k EventKind) valid() bool {
	switch k {
	case StartOfTurn, TurnResumed, EndOfTurn, EagerEndOfTurn, Update:
		return true
	}
	return false
}

// closeStreamMessage tells the server no more audio will follow.
var closeStreamMessage = []byte(`{"type":"CloseStream"}`)

// Word is one recognized word. Confidence is nil when the server omitted it
// or sent something other than a number.
type Word struct {
	Word       string
	Confidence *float64
}

// TurnInfo is a decoded TurnInfo message. Raw holds the frame exactly as received.
type TurnInfo struct {
	Event               EventKind
	Transcript          string
	RequestID           string
	SequenceID          int64
	TurnIndex           int64
	AudioWindowStart    float64
	AudioWindowEnd      float64
	EndOfTurnConfidence float64
	Words               []Word
	Raw                 json.RawMessage
}

// MeanConfidence averages the numeric word confidences.
// ok is false when the message carried no usable confidence values.
func (t TurnInfo) MeanConfidence() (mean float64, ok bool) {
	var sum float64
	var n int
	for _, w := range t.Words {
		if w.Confidence == nil {
			continue
		}
		sum += *w.Confidence
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Event is a decoded inbound message: ConnectedEvent, FatalErrorEvent or TurnEvent.
type Event interface {
	messageType() MessageType
}

// ConnectedEvent is the server's handshake acknowledgment.
type ConnectedEvent struct {
	RequestID string
}

// FatalErrorEvent is a server-signaled terminal error.
type FatalErrorEvent struct {
	Code    string
	Message string
}

// TurnEvent wraps a TurnInfo message.
type TurnEvent struct {
	Info TurnInfo
}

func (ConnectedEvent) messageType() MessageType  { return MessageConnected }
func (FatalErrorEvent) messageType() MessageType { return MessageError }
func (TurnEvent) messageType() MessageType       { return MessageTurnInfo }

type envelope struct {
	Type *string `json:"type"`
}

type connectedMessage struct {
	RequestID string `json:"request_id"`
}

type errorMessage struct {
	Code        string `json:"code"`
	Error       string `json:"error"`
	Description string `json:"description"`
}

type turnInfoMessage struct {
	Event               EventKind       `json:"event"`
	Transcript          string          `json:"transcript"`
	RequestID           string          `json:"request_id"`
	SequenceID          int64           `json:"sequence_id"`
	TurnIndex           int64           `json:"turn_index"`
	AudioWindowStart    float64         `json:"audio_window_start"`
	AudioWindowEnd      float64         `json:"audio_window_end"`
	EndOfTurnConfidence float64         `json:"end_of_turn_confidence"`
	Words               json.RawMessage `json:"words"`
}

type wordMessage struct {
	Word       string          `json:"word"`
	Confidence json.RawMessage `json:"confidence"`
}

var (
	errMissingType = errors.New(`missing "type" field`)
	jsonNull       = []byte("null")
)

// Decode parses one inbound text frame.
// It returns a *ProtocolError for invalid JSON or a missing type,
// and (nil, nil) for message types or turn events this client does not handle.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Raw: data, Cause: err}
	}
	if env.Type == nil {
		return nil, &ProtocolError{Raw: data, Cause: errMissingType}
	}

	switch MessageType(*env.Type) {
	case MessageConnected:
		var m connectedMessage
		_ = json.Unmarshal(data, &m)
		return ConnectedEvent{RequestID: m.RequestID}, nil

	case MessageError:
		var m errorMessage
		_ = json.Unmarshal(data, &m)
		msg := m.Error
		if msg == "" {
			msg = m.Description
		}
		if msg == "" {
			msg = "Unknown error"
		}
		return FatalErrorEvent{Code: m.Code, Message: msg}, nil

	case MessageTurnInfo:
		var m turnInfoMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &ProtocolError{Raw: data, Cause: err}
		}
		if !m.Event.valid() {
			return nil, nil
		}
		return TurnEvent{Info: TurnInfo{
			Event:               m.Event,
			Transcript:          m.Transcript,
			RequestID:           m.RequestID,
			SequenceID:          m.SequenceID,
			TurnIndex:           m.TurnIndex,
			AudioWindowStart:    m.AudioWindowStart,
			AudioWindowEnd:      m.AudioWindowEnd,
			EndOfTurnConfidence: m.EndOfTurnConfidence,
			Words:               parseWords(m.Words),
			Raw:                 json.RawMessage(data),
		}}, nil
	}
	return nil, nil
}

// parseWords is lenient: a non-array value yields no words and
// non-numeric confidences are left nil.
func parseWords(raw json.RawMessage) []Word {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	words := make([]Word, 0, len(items))
	for _, item := range items {
		var wm wordMessage
		if err := json.Unmarshal(item, &wm); err != nil {
			continue
		}
		w := Word{Word: wm.Word}
		var c float64
		if len(wm.Confidence) > 0 && !bytes.Equal(wm.Confidence, jsonNull) && json.Unmarshal(wm.Confidence, &c) == nil {
			w.Confidence = &c
		}
		words = append(words, w)
	}
	return words
}

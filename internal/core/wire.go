package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/televisit/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrUnknownKind  = errors.New("unknown signal type")
	ErrEmptyPayload = errors.New("empty signal payload")
)

type wireMessage struct {
	ID      string          `json:"id"`
	Type    SignalKind      `json:"type"`
	From    domain.UserID   `json:"from"`
	To      domain.UserID   `json:"to"`
	SentAt  time.Time       `json:"sent_at"`
	Payload json.RawMessage `json:"payload"`
}

// NewSignal stamps a message with an id and send time.
func NewSignal(from, to domain.UserID, payload SignalPayload) SignalMessage {
	return SignalMessage{
		ID:      uuid.NewString(),
		From:    from,
		To:      to,
		SentAt:  time.Now().UTC(),
		Payload: payload,
	}
}

func EncodeSignal(m SignalMessage) ([]byte, error) {
	if m.Payload == nil {
		return nil, ErrEmptyPayload
	}
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", m.Kind(), err)
	}
	return json.Marshal(wireMessage{
		ID:      m.ID,
		Type:    m.Kind(),
		From:    m.From,
		To:      m.To,
		SentAt:  m.SentAt,
		Payload: raw,
	})
}

func DecodeSignal(data []byte) (SignalMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return SignalMessage{}, fmt.Errorf("decode signal: %w", err)
	}
	if len(w.Payload) == 0 {
		return SignalMessage{}, ErrEmptyPayload
	}

	var (
		payload SignalPayload
		err     error
	)
	switch w.Type {
	case KindOffer:
		var p Offer
		err = json.Unmarshal(w.Payload, &p)
		payload = p
	case KindAnswer:
		var p Answer
		err = json.Unmarshal(w.Payload, &p)
		payload = p
	case KindCandidate:
		var p Candidate
		err = json.Unmarshal(w.Payload, &p)
		payload = p
	case KindUserJoined:
		var p UserJoined
		err = json.Unmarshal(w.Payload, &p)
		payload = p
	case KindBye:
		var p Bye
		err = json.Unmarshal(w.Payload, &p)
		payload = p
	default:
		return SignalMessage{}, fmt.Errorf("%w: %q", ErrUnknownKind, w.Type)
	}
	if err != nil {
		return SignalMessage{}, fmt.Errorf("decode %s payload: %w", w.Type, err)
	}

	return SignalMessage{
		ID:      w.ID,
		From:    w.From,
		To:      w.To,
		SentAt:  w.SentAt,
		Payload: payload,
	}, nil
}

// PeekFrom extracts the sender without decoding the payload. The relay uses
// it to reject messages published under someone else's id.
func PeekFrom(data []byte) (domain.UserID, error) {
	var w struct {
		From domain.UserID `json:"from"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return "", fmt.Errorf("decode signal: %w", err)
	}
	return w.From, nil
}

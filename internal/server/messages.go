package server

import (
	"encoding/json"

	"github.com/kingsgate/stakechess/internal/session"
)

// Inbound message types.
const (
	MsgRequestMatch = "request_match"
	MsgSubmitMove   = "submit_move"
	MsgOfferDraw    = "offer_draw"
	MsgRespondDraw  = "respond_draw"
	MsgClaimDraw    = "claim_draw"
	MsgOfferStake   = "offer_stake"
	MsgRespondStake = "respond_stake"
	MsgChat         = "chat"
	MsgSyncState    = "sync_state"
)

// MsgAck is the outbound type answering a request.
const MsgAck = "ack"

// CodeBadRequest answers envelopes the server cannot decode or route.
const CodeBadRequest session.Code = "BAD_REQUEST"

// Envelope is the frame every inbound message arrives in.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type RequestMatchPayload struct {
	DisplayName string `json:"displayName"`
}

type SubmitMovePayload struct {
	From          string `json:"from"`
	To            string `json:"to"`
	PromotionHint string `json:"promotionHint,omitempty"`
}

type RespondPayload struct {
	Accept bool `json:"accept"`
}

// OfferStakePayload keeps the amount as a raw number so fractional values
// are rejected rather than truncated.
type OfferStakePayload struct {
	Amount json.Number `json:"amount"`
}

type ChatPayload struct {
	DisplayName string `json:"displayName"`
	Text        string `json:"text"`
}

// Ack is the result of one request.
type Ack struct {
	Type      string       `json:"type"`
	RequestID string       `json:"requestId,omitempty"`
	OK        bool         `json:"ok"`
	Code      session.Code `json:"code,omitempty"`
	Error     string       `json:"error,omitempty"`
}

func ackOK(requestID string) Ack {
	return Ack{Type: MsgAck, RequestID: requestID, OK: true}
}

func ackErr(requestID string, err error) Ack {
	return Ack{
		Type:      MsgAck,
		RequestID: requestID,
		Code:      session.CodeOf(err),
		Error:     session.PublicMessage(err),
	}
}

func ackCode(requestID string, code session.Code, message string) Ack {
	return Ack{Type: MsgAck, RequestID: requestID, Code: code, Error: message}
}

// decodePayload unmarshals an optional payload. An absent payload leaves v
// at its zero value.
func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

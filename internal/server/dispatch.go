package server

import (
	"errors"
	"fmt"

	"github.com/kingsgate/stakechess/internal/broker"
	"github.com/kingsgate/stakechess/internal/session"
	"go.uber.org/zap"
)

// dispatch routes one request to the broker and acknowledges it. A panic in
// a handler is recovered here and reported as a failed request; session
// methods check everything before mutating, so nothing is half applied.
func (s *Server) dispatch(c *client, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in request handler",
				zap.String("peer_id", c.id),
				zap.String("type", env.Type),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			code := session.CodeInternal
			if env.Type == MsgSubmitMove {
				code = session.CodeInvalidMove
			}
			c.enqueue(ackErr(env.RequestID, &session.Error{Code: code, Message: publicMessageFor(code)}))
		}
	}()

	switch env.Type {
	case MsgRequestMatch:
		var p RequestMatchPayload
		if !s.decode(c, env, &p) {
			return
		}
		c.name = p.DisplayName
		s.reply(c, env, s.broker.RequestMatch(c, p.DisplayName))

	case MsgSubmitMove:
		var p SubmitMovePayload
		if !s.decode(c, env, &p) {
			return
		}
		s.reply(c, env, s.broker.SubmitMove(c.id, p.From, p.To, p.PromotionHint))

	case MsgOfferDraw:
		s.reply(c, env, s.broker.OfferDraw(c.id))

	case MsgRespondDraw:
		var p RespondPayload
		if !s.decode(c, env, &p) {
			return
		}
		s.reply(c, env, s.broker.RespondDraw(c.id, p.Accept))

	case MsgClaimDraw:
		s.reply(c, env, s.broker.ClaimDraw(c.id))

	case MsgOfferStake:
		var p OfferStakePayload
		if !s.decode(c, env, &p) {
			return
		}
		amount, err := session.ParseAmount(p.Amount.String())
		if err != nil {
			s.reply(c, env, err)
			return
		}
		s.reply(c, env, s.broker.OfferStake(c.id, amount))

	case MsgRespondStake:
		var p RespondPayload
		if !s.decode(c, env, &p) {
			return
		}
		s.reply(c, env, s.broker.RespondStake(c.id, p.Accept))

	case MsgSyncState:
		snap, err := s.broker.Snapshot(c.id)
		if err == nil {
			c.enqueue(session.Event{Type: session.EventState, Payload: session.StatePayload{Snapshot: snap}})
		}
		s.reply(c, env, err)

	case MsgChat:
		var p ChatPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return
		}
		name := p.DisplayName
		if name == "" {
			name = c.name
		}
		s.broker.Chat(c, name, p.Text)

	default:
		c.enqueue(ackCode(env.RequestID, CodeBadRequest, fmt.Sprintf("unknown message type %q", env.Type)))
	}
}

func (s *Server) decode(c *client, env Envelope, v any) bool {
	if err := decodePayload(env.Payload, v); err != nil {
		c.logger.Debug("malformed payload", zap.String("type", env.Type), zap.Error(err))
		code := CodeBadRequest
		if env.Type == MsgOfferStake {
			code = session.CodeInvalidStakeAmount
		}
		c.enqueue(ackCode(env.RequestID, code, "malformed payload"))
		return false
	}
	return true
}

func (s *Server) reply(c *client, env Envelope, err error) {
	if err == nil {
		c.enqueue(ackOK(env.RequestID))
		return
	}

	switch code := session.CodeOf(err); {
	case code == session.CodeInternal && errors.Is(err, broker.ErrClosed):
		c.logger.Debug("request after shutdown", zap.String("type", env.Type))
	case code == session.CodeInternal:
		c.logger.Error("request failed", zap.String("type", env.Type), zap.Error(err))
	default:
		c.logger.Debug("request rejected",
			zap.String("type", env.Type),
			zap.String("code", string(code)),
			zap.Error(err),
		)
	}
	c.enqueue(ackErr(env.RequestID, err))
}

func publicMessageFor(code session.Code) string {
	if code == session.CodeInvalidMove {
		return session.ErrInvalidMove.Message
	}
	return session.ErrInternal.Message
}

package session

import (
	"fmt"

	"github.com/kingsgate/stakechess/internal/game"
	"go.uber.org/zap"
)

// OfferDraw records a draw proposal from side, replacing any previous one.
func (s *Session) OfferDraw(side game.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, err := s.resolve(side)
	if err != nil {
		return err
	}
	if s.ended() {
		return ErrGameAlreadyEnded
	}

	s.drawOffer = &DrawOffer{By: side, ByName: me.Name}

	s.logger.Debug("draw offered", zap.String("side", side.String()))

	s.opponentOf(side).send(Event{Type: EventDrawOffered, Payload: OfferPayload{ByName: me.Name}})
	s.notifyAll(Notice(fmt.Sprintf("%s offered a draw.", me.Name)))
	s.broadcast()
	return nil
}

// RespondDraw answers the pending draw offer. Only the side that did not
// make the offer may answer.
func (s *Session) RespondDraw(side game.Side, accept bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, err := s.resolve(side)
	if err != nil {
		return err
	}
	if s.drawOffer == nil {
		return ErrNoOfferPending
	}
	if s.drawOffer.By == side {
		return ErrSelfAcceptForbidden
	}
	if s.ended() {
		return ErrGameAlreadyEnded
	}

	offer := *s.drawOffer
	if !accept {
		s.drawOffer = nil
		s.player(offer.By).send(Event{Type: EventDrawDeclined, Payload: OfferPayload{ByName: me.Name}})
		s.notifyAll(Notice(fmt.Sprintf("%s declined the draw.", me.Name)))
		s.broadcast()
		return nil
	}

	s.end(Outcome{Kind: OutcomeDraw, Reason: reasonAgreement})
	s.notifyAll(Notice(fmt.Sprintf("Draw agreed (%s and %s).", offer.ByName, me.Name)))
	s.settleAndAnnounce()
	s.broadcast()
	return nil
}

// ClaimDraw ends the game unilaterally when the adjudicator reports a
// claimable draw. The fifty-move rule takes precedence over threefold
// repetition when both hold.
func (s *Session) ClaimDraw(side game.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, err := s.resolve(side)
	if err != nil {
		return err
	}
	if s.ended() {
		return ErrGameAlreadyEnded
	}

	claims := s.adj.Claims()
	if !claims.Any() {
		return ErrNoClaimableDraw
	}

	reason := game.ThreefoldRepetition.Reason()
	if claims.FiftyMove {
		reason = game.FiftyMoveRule.Reason()
	}

	s.end(Outcome{Kind: OutcomeDraw, Reason: reason})
	s.notifyAll(Notice(fmt.Sprintf("%s claimed a %s.", me.Name, reason)))
	s.settleAndAnnounce()
	s.broadcast()
	return nil
}

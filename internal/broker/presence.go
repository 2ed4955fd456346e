package broker

import (
	"github.com/kingsgate/stakechess/internal/game"
	"github.com/kingsgate/stakechess/internal/session"
	"go.uber.org/zap"
)

// Disconnect handles a peer leaving. A waiting peer is dropped from the
// queue. A seated peer's session is torn down and its live opponent is told
// the other side departed. Active stakes are not settled on departure.
func (b *Broker) Disconnect(peer session.Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := peer.ID()
	if b.waiting != nil && b.waiting.peer.ID() == id {
		b.waiting = nil
		b.logger.Debug("waiting participant left", zap.String("peer_id", id))
		return
	}

	st, ok := b.seats[id]
	if !ok {
		return
	}
	delete(b.seats, id)

	s, ok := b.sessions[st.sessionID]
	if !ok {
		return
	}

	if opp := s.Player(st.side.Opponent()); opp != nil && opp.Peer != nil {
		delete(b.seats, opp.Peer.ID())
		if opp.Peer.Alive() {
			opp.Peer.Send(session.Event{Type: session.EventOpponentDeparted})
			opp.Peer.Send(session.Notice("Your opponent left the game."))
		}
	}

	b.logger.Info("participant departed",
		zap.String("peer_id", id),
		zap.String("session_id", s.ID),
		zap.String("side", st.side.String()),
	)
	b.teardown(s)
}

// Shutdown tears down every session and empties the queue. Participants
// still connected receive a notice. Stakes are left unsettled, as on
// departure. Requests after Shutdown fail with ErrClosed.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	if w := b.waiting; w != nil {
		b.waiting = nil
		if w.peer.Alive() {
			w.peer.Send(session.Notice("The server is shutting down."))
		}
	}

	for _, s := range b.sessions {
		s.Notify(session.Notice("The server is shutting down."))
		for _, side := range []game.Side{game.White, game.Black} {
			if p := s.Player(side); p != nil && p.Peer != nil {
				delete(b.seats, p.Peer.ID())
			}
		}
		b.teardown(s)
	}

	b.logger.Info("broker shut down", zap.Int("platform_bank", b.bank.Total()))
}

// teardown removes s from the registry, closes it and archives its replay.
// Caller holds b.mu.
func (b *Broker) teardown(s *session.Session) {
	delete(b.sessions, s.ID)
	if !s.Close() {
		return
	}
	if b.recorder == nil {
		return
	}
	if err := b.recorder.Finish(s.ID); err != nil {
		b.logger.Error("failed to archive replay",
			zap.String("session_id", s.ID),
			zap.Error(err),
		)
	}
}

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/kingsgate/stakechess/internal/game"
	"go.uber.org/zap"
)

// OutcomeKind is the class of a finished game.
type OutcomeKind string

const (
	OutcomeWin  OutcomeKind = "win"
	OutcomeDraw OutcomeKind = "draw"
)

const reasonAgreement = "draw by agreement"

// Outcome is the terminal result of a session. Once set it never changes.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Winner game.Side
}

// DrawOffer is a pending proposal to end the game as a draw.
type DrawOffer struct {
	By     game.Side
	ByName string
}

// Config carries everything a session needs at creation.
type Config struct {
	ID          string
	White       *Player
	Black       *Player
	Adjudicator game.Adjudicator
	Economy     Economy
	Fees        FeeSink
	Replay      *game.Replay
	Logger      *zap.Logger
}

// Session is one two-party game: the player slots, the adjudicator, the
// draw-offer state, the stake escrow and the terminal outcome. All methods
// are safe for concurrent use; each request runs to completion under the
// session lock.
type Session struct {
	ID string

	mu        sync.Mutex
	players   [2]*Player
	adj       game.Adjudicator
	outcome   *Outcome
	drawOffer *DrawOffer
	stake     Stake
	economy   Economy
	fees      FeeSink
	replay    *game.Replay
	lastMove  *MoveView
	ply       int
	closed    bool
	logger    *zap.Logger
}

// New creates an active session. Both wallets start at the configured
// starting balance.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fees := cfg.Fees
	if fees == nil {
		fees = discardFees{}
	}

	s := &Session{
		ID:      cfg.ID,
		adj:     cfg.Adjudicator,
		economy: cfg.Economy,
		fees:    fees,
		replay:  cfg.Replay,
		stake:   Stake{FeeFraction: cfg.Economy.FeeFraction},
		logger:  logger.With(zap.String("session_id", cfg.ID)),
	}
	for _, p := range []*Player{cfg.White, cfg.Black} {
		if p == nil {
			continue
		}
		p.Wallet = cfg.Economy.StartingWallet
		s.players[p.Side.Index()] = p
	}
	return s
}

// Player returns the slot of side, or nil.
func (s *Session) Player(side game.Side) *Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.player(side)
}

func (s *Session) player(side game.Side) *Player {
	if side != game.White && side != game.Black {
		return nil
	}
	return s.players[side.Index()]
}

// Outcome returns a copy of the terminal outcome, or nil while active.
func (s *Session) Outcome() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome == nil {
		return nil
	}
	out := *s.outcome
	return &out
}

// Close marks the session torn down. Later requests fail with
// SessionNotFound. An active stake is left unsettled. Close reports whether
// this call performed the teardown.
func (s *Session) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	s.drawOffer = nil
	s.stake.Offer = nil

	if s.stake.Active {
		s.logger.Warn("session torn down with active stake left unsettled",
			zap.Int("amount", s.stake.Amount),
			zap.Int("pot", s.stake.Pot),
		)
	}
	return true
}

// Notify sends ev to both live participants.
func (s *Session) Notify(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifyAll(ev)
}

// SubmitMove plays a move for side. Any rejection leaves the session
// exactly as it was.
func (s *Session) SubmitMove(side game.Side, from, to, promotion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.resolve(side); err != nil {
		return err
	}
	if s.ended() {
		return ErrGameAlreadyEnded
	}
	if s.adj.Turn() != side {
		return ErrWrongTurn
	}
	if from == "" || to == "" {
		return ErrInvalidMove
	}

	mv := game.Move{From: from, To: to, Promotion: game.ParsePromotion(promotion)}
	if err := s.adj.Apply(mv); err != nil {
		s.logger.Debug("move rejected",
			zap.String("side", side.String()),
			zap.String("move", mv.UCI()),
			zap.Error(err),
		)
		return newError(CodeInvalidMove, ErrInvalidMove.Message, err)
	}

	// A legal move answers any pending draw offer by omission.
	s.drawOffer = nil
	s.ply++
	s.lastMove = &MoveView{From: from, To: to}
	if s.replay != nil {
		s.replay.Record(&game.Frame{
			Side:      side,
			From:      from,
			To:        to,
			Promotion: mv.Promotion,
			Position:  s.adj.Position(),
			At:        time.Now(),
		})
	}

	s.logger.Debug("move accepted",
		zap.String("side", side.String()),
		zap.String("move", mv.UCI()),
		zap.Int("ply", s.ply),
	)

	s.finalizeFromAdjudicator()
	s.broadcast()
	return nil
}

// resolve validates the requesting side against the session.
func (s *Session) resolve(side game.Side) (*Player, error) {
	if s.closed {
		return nil, ErrSessionNotFound
	}
	if side != game.White && side != game.Black {
		return nil, ErrNoColorAssigned
	}
	p := s.players[side.Index()]
	if p == nil {
		s.logger.Error("no player slot for assigned side", zap.String("side", side.String()))
		return nil, newError(CodeInternal, ErrInternal.Message, fmt.Errorf("no player slot for %s", side))
	}
	return p, nil
}

// ended reports whether the game is over by explicit outcome or by the
// adjudicator's own verdict.
func (s *Session) ended() bool {
	return s.outcome != nil || s.adj.Terminal().Over()
}

// finalizeFromAdjudicator records a terminal condition discovered by the
// rules after a move.
func (s *Session) finalizeFromAdjudicator() {
	t := s.adj.Terminal()
	if !t.Over() {
		return
	}
	if t.Decisive() {
		winner := t.Winner
		if winner == game.NoSide {
			winner = s.adj.Turn().Opponent()
		}
		s.end(Outcome{Kind: OutcomeWin, Reason: t.Kind.Reason(), Winner: winner})
		name := "Player"
		if p := s.player(winner); p != nil {
			name = p.Name
		}
		s.notifyAll(Notice(fmt.Sprintf("%s! %s wins.", t.Kind.Sentence(), name)))
	} else {
		s.end(Outcome{Kind: OutcomeDraw, Reason: t.Kind.Reason()})
		s.notifyAll(Notice(t.Kind.Sentence() + "."))
	}
	s.settleAndAnnounce()
}

// end enters the terminal state. The first outcome wins; later calls are
// ignored.
func (s *Session) end(o Outcome) bool {
	if s.outcome != nil {
		return false
	}
	s.outcome = &o
	s.drawOffer = nil
	s.stake.Offer = nil

	s.logger.Info("game ended",
		zap.String("kind", string(o.Kind)),
		zap.String("reason", o.Reason),
		zap.String("winner", o.Winner.String()),
	)
	return true
}

func (s *Session) notifyAll(ev Event) {
	for _, p := range s.players {
		p.send(ev)
	}
}

func (s *Session) opponentOf(side game.Side) *Player {
	return s.player(side.Opponent())
}

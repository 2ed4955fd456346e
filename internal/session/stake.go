package session

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kingsgate/stakechess/internal/game"
	"go.uber.org/zap"
)

// Economy holds the wallet and stake parameters shared by all sessions.
type Economy struct {
	StartingWallet int
	FeeFraction    float64
	MinStake       int
	MaxStake       int
}

// FeeSink accumulates platform fees across sessions.
type FeeSink interface {
	Accrue(fee int)
}

type discardFees struct{}

func (discardFees) Accrue(int) {}

// StakeOffer is a pending stake proposal.
type StakeOffer struct {
	By     game.Side
	ByName string
	Amount int
}

// Settlement records how an active stake was resolved.
type Settlement struct {
	Kind        OutcomeKind
	Amount      int
	Pot         int
	Fee         int
	Winner      game.Side
	WinnerName  string
	NetToWinner int
}

// Stake is the escrow state of a session. Offer and Active are never set at
// the same time. While Active, both wallets have been debited by Amount.
type Stake struct {
	Offer       *StakeOffer
	Active      bool
	Amount      int
	Pot         int
	FeeFraction float64
	Last        *Settlement
}

// ParseAmount converts a client supplied amount to a positive integer.
// Fractional, non-numeric and non-positive values are rejected.
func ParseAmount(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		if n <= 0 {
			return 0, ErrInvalidStakeAmount
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f <= 0 || f > math.MaxInt32 {
		return 0, ErrInvalidStakeAmount
	}
	return int(f), nil
}

// OfferStake proposes a stake of amount coins per player.
func (s *Session) OfferStake(side game.Side, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, err := s.resolve(side)
	if err != nil {
		return err
	}
	if s.ended() {
		return ErrGameAlreadyEnded
	}
	if s.stake.Active {
		return ErrStakeAlreadyActive
	}
	if s.stake.Offer != nil {
		return ErrStakeAlreadyPending
	}
	if amount <= 0 {
		return ErrInvalidStakeAmount
	}
	if amount < s.economy.MinStake || amount > s.economy.MaxStake {
		return newError(CodeInvalidStakeAmount,
			fmt.Sprintf("stake must be between %d and %d", s.economy.MinStake, s.economy.MaxStake), nil)
	}
	if amount > me.Wallet {
		return newError(CodeInsufficientFunds, "you do not have enough coins", nil)
	}
	opp := s.opponentOf(side)
	if opp == nil || amount > opp.Wallet {
		return newError(CodeInsufficientFunds, "your opponent does not have enough coins", nil)
	}

	s.stake.Offer = &StakeOffer{By: side, ByName: me.Name, Amount: amount}

	s.logger.Debug("stake offered",
		zap.String("side", side.String()),
		zap.Int("amount", amount),
	)

	opp.send(Event{Type: EventStakeOffered, Payload: OfferPayload{ByName: me.Name, Amount: amount}})
	s.notifyAll(Notice(fmt.Sprintf("%s proposed a stake of %d coins per player.", me.Name, amount)))
	s.broadcast()
	return nil
}

// RespondStake answers the pending stake offer. Accepting re-checks both
// wallets; if either no longer covers the amount the offer is cancelled.
func (s *Session) RespondStake(side game.Side, accept bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, err := s.resolve(side)
	if err != nil {
		return err
	}
	if s.ended() {
		return ErrGameAlreadyEnded
	}
	if s.stake.Offer == nil {
		return ErrNoOfferPending
	}
	if s.stake.Offer.By == side {
		return ErrSelfAcceptForbidden
	}

	offer := *s.stake.Offer
	if !accept {
		s.stake.Offer = nil
		s.player(offer.By).send(Event{Type: EventStakeDeclined, Payload: OfferPayload{ByName: me.Name}})
		s.notifyAll(Notice(fmt.Sprintf("%s declined the stake.", me.Name)))
		s.broadcast()
		return nil
	}

	white, black := s.players[0], s.players[1]
	if white == nil || black == nil || offer.Amount > white.Wallet || offer.Amount > black.Wallet {
		s.stake.Offer = nil
		s.broadcast()
		return newError(CodeInsufficientFunds, "insufficient funds, the offer was cancelled", nil)
	}

	white.Wallet -= offer.Amount
	black.Wallet -= offer.Amount
	s.stake.Offer = nil
	s.stake.Active = true
	s.stake.Amount = offer.Amount
	s.stake.Pot = offer.Amount * 2

	s.logger.Info("stake accepted",
		zap.Int("amount", s.stake.Amount),
		zap.Int("pot", s.stake.Pot),
	)

	s.notifyAll(Notice(fmt.Sprintf("Stake accepted (%s and %s): %d coins per player, platform fee %s.",
		offer.ByName, me.Name, offer.Amount, formatFraction(s.stake.FeeFraction))))
	s.broadcast()
	return nil
}

// settle resolves an active stake against the terminal outcome. It clears
// Active before touching any wallet, so a second call is a no-op. It
// returns nil when nothing was settled.
func (s *Session) settle() *Settlement {
	if !s.stake.Active || s.outcome == nil {
		return nil
	}

	amount, pot := s.stake.Amount, s.stake.Pot
	s.stake.Active = false
	s.stake.Amount = 0
	s.stake.Pot = 0

	if s.outcome.Kind == OutcomeWin {
		if winner := s.player(s.outcome.Winner); winner != nil {
			fee := int(math.Floor(float64(pot) * s.stake.FeeFraction))
			net := pot - fee
			winner.Wallet += net
			s.fees.Accrue(fee)

			s.stake.Last = &Settlement{
				Kind:        OutcomeWin,
				Amount:      amount,
				Pot:         pot,
				Fee:         fee,
				Winner:      winner.Side,
				WinnerName:  winner.Name,
				NetToWinner: net,
			}
			s.logger.Info("stake settled",
				zap.String("winner", winner.Side.String()),
				zap.Int("pot", pot),
				zap.Int("fee", fee),
				zap.Int("net", net),
			)
			return s.stake.Last
		}
	}

	for _, p := range s.players {
		if p != nil {
			p.Wallet += amount
		}
	}
	s.stake.Last = &Settlement{Kind: OutcomeDraw, Amount: amount, Pot: pot}
	s.logger.Info("stake refunded", zap.Int("amount", amount))
	return s.stake.Last
}

func (s *Session) settleAndAnnounce() {
	st := s.settle()
	if st == nil {
		return
	}
	if st.Kind == OutcomeWin {
		s.notifyAll(Notice(fmt.Sprintf("Stake settled: %s wins %d coins. Platform fee: %d coins (%s).",
			st.WinnerName, st.NetToWinner, st.Fee, formatFraction(s.stake.FeeFraction))))
		return
	}
	s.notifyAll(Notice(fmt.Sprintf("Stake cancelled by draw: %d coins returned to each player.", st.Amount)))
}

func formatFraction(f float64) string {
	return strconv.FormatFloat(f*100, 'f', -1, 64) + "%"
}

package session

import "github.com/kingsgate/stakechess/internal/game"

// Snapshot is the client-safe view of a session. It is a value copy: it
// never aliases session internals or the adjudicator.
type Snapshot struct {
	SessionID  string         `json:"sessionId"`
	Board      game.Board     `json:"board"`
	SideToMove game.Side      `json:"sideToMove"`
	InCheck    bool           `json:"inCheck"`
	GameOver   bool           `json:"gameOver"`
	Outcome    *string        `json:"outcome"`
	Players    PlayersView    `json:"players"`
	DrawOffer  *DrawOfferView `json:"drawOffer"`
	ClaimDraw  ClaimDrawView  `json:"claimDraw"`
	Stake      StakeView      `json:"stake"`
	LastMove   *MoveView      `json:"lastMove"`
	Ply        int            `json:"ply"`
}

type PlayerView struct {
	Name   string `json:"name"`
	Wallet int    `json:"wallet"`
}

type PlayersView struct {
	White *PlayerView `json:"white"`
	Black *PlayerView `json:"black"`
}

type DrawOfferView struct {
	BySide game.Side `json:"bySide"`
	ByName string    `json:"byName"`
}

const (
	ClaimThreefold = "threefold"
	ClaimFiftyMove = "fifty-move"
)

type ClaimDrawView struct {
	Available bool     `json:"available"`
	Reasons   []string `json:"reasons"`
}

type StakeOfferView struct {
	BySide game.Side `json:"bySide"`
	ByName string    `json:"byName"`
	Amount int       `json:"amount"`
}

type ActiveStakeView struct {
	Amount      int     `json:"amount"`
	Pot         int     `json:"pot"`
	FeeFraction float64 `json:"feeFraction"`
}

type SettlementView struct {
	Kind        OutcomeKind `json:"kind"`
	Amount      int         `json:"amount"`
	Pot         int         `json:"pot"`
	Fee         int         `json:"fee"`
	WinningSide *game.Side  `json:"winningSide"`
	WinnerName  *string     `json:"winnerName"`
	NetToWinner int         `json:"netToWinner"`
}

type StakeView struct {
	Offer  *StakeOfferView  `json:"offer"`
	Active *ActiveStakeView `json:"active"`
	Last   *SettlementView  `json:"last"`
}

type MoveView struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Snapshot builds the current view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshot()
}

func (s *Session) snapshot() Snapshot {
	terminal := s.adj.Terminal()
	claims := s.adj.Claims()

	snap := Snapshot{
		SessionID:  s.ID,
		Board:      s.adj.Board(),
		SideToMove: s.adj.Turn(),
		InCheck:    s.adj.InCheck(),
		GameOver:   s.outcome != nil || terminal.Over(),
		Ply:        s.ply,
	}

	switch {
	case s.outcome != nil:
		reason := s.outcome.Reason
		snap.Outcome = &reason
	case terminal.Over():
		reason := terminal.Kind.Reason()
		if reason == "" {
			reason = "game over"
		}
		snap.Outcome = &reason
	}

	if p := s.players[0]; p != nil {
		snap.Players.White = &PlayerView{Name: p.Name, Wallet: p.Wallet}
	}
	if p := s.players[1]; p != nil {
		snap.Players.Black = &PlayerView{Name: p.Name, Wallet: p.Wallet}
	}

	if s.drawOffer != nil {
		snap.DrawOffer = &DrawOfferView{BySide: s.drawOffer.By, ByName: s.drawOffer.ByName}
	}

	snap.ClaimDraw.Reasons = make([]string, 0, 2)
	if claims.Threefold {
		snap.ClaimDraw.Reasons = append(snap.ClaimDraw.Reasons, ClaimThreefold)
	}
	if claims.FiftyMove {
		snap.ClaimDraw.Reasons = append(snap.ClaimDraw.Reasons, ClaimFiftyMove)
	}
	snap.ClaimDraw.Available = claims.Any() && !snap.GameOver

	if o := s.stake.Offer; o != nil {
		snap.Stake.Offer = &StakeOfferView{BySide: o.By, ByName: o.ByName, Amount: o.Amount}
	}
	if s.stake.Active {
		snap.Stake.Active = &ActiveStakeView{
			Amount:      s.stake.Amount,
			Pot:         s.stake.Pot,
			FeeFraction: s.stake.FeeFraction,
		}
	}
	if last := s.stake.Last; last != nil {
		view := &SettlementView{
			Kind:        last.Kind,
			Amount:      last.Amount,
			Pot:         last.Pot,
			Fee:         last.Fee,
			NetToWinner: last.NetToWinner,
		}
		if last.Kind == OutcomeWin {
			side, name := last.Winner, last.WinnerName
			view.WinningSide = &side
			view.WinnerName = &name
		}
		snap.Stake.Last = view
	}

	if s.lastMove != nil {
		mv := *s.lastMove
		snap.LastMove = &mv
	}
	return snap
}

// broadcast fans the current snapshot out to both live participants.
func (s *Session) broadcast() {
	snap := s.snapshot()
	s.notifyAll(Event{Type: EventState, Payload: StatePayload{Snapshot: snap}})
}

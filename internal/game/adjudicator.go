package game

import (
	"errors"
	"fmt"
	"strings"
)

// Side identifies one of the two participants of a game.
type Side int

const (
	NoSide Side = iota
	White
	Black
)

func (s Side) String() string {
	switch s {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return "none"
	}
}

// Opponent returns the other side. NoSide has no opponent.
func (s Side) Opponent() Side {
	switch s {
	case White:
		return Black
	case Black:
		return White
	default:
		return NoSide
	}
}

// Index maps White to 0 and Black to 1 for slot arrays.
func (s Side) Index() int {
	if s == Black {
		return 1
	}
	return 0
}

// MarshalText encodes the side by name so snapshots carry "white"/"black".
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	switch string(text) {
	case "white":
		*s = White
	case "black":
		*s = Black
	case "none", "":
		*s = NoSide
	default:
		return fmt.Errorf("unknown side %q", text)
	}
	return nil
}

// PieceKind is the kind of a piece on the board.
type PieceKind int

const (
	NoKind PieceKind = iota
	Pawn
	Knight
	Bishop
	Rook
	Queen
	King
)

func (k PieceKind) String() string {
	switch k {
	case Pawn:
		return "pawn"
	case Knight:
		return "knight"
	case Bishop:
		return "bishop"
	case Rook:
		return "rook"
	case Queen:
		return "queen"
	case King:
		return "king"
	default:
		return "none"
	}
}

func (k PieceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PieceKind) UnmarshalText(text []byte) error {
	for kind := NoKind; kind <= King; kind++ {
		if kind.String() == string(text) {
			*k = kind
			return nil
		}
	}
	if len(text) == 0 {
		*k = NoKind
		return nil
	}
	return fmt.Errorf("unknown piece kind %q", text)
}

// Piece is an occupant of a board square.
type Piece struct {
	Kind PieceKind `json:"kind"`
	Side Side      `json:"side"`
}

// Board is an 8x8 grid. Row 0 is rank 8 and column 0 is file a, matching
// the way boards are drawn for the white player.
type Board [8][8]*Piece

// Move is a candidate move in coordinate notation.
type Move struct {
	From      string
	To        string
	Promotion PieceKind
}

// UCI renders the move as "e2e4" or "e7e8q".
func (m Move) UCI() string {
	var b strings.Builder
	b.WriteString(m.From)
	b.WriteString(m.To)
	switch m.Promotion {
	case Queen:
		b.WriteByte('q')
	case Rook:
		b.WriteByte('r')
	case Bishop:
		b.WriteByte('b')
	case Knight:
		b.WriteByte('n')
	}
	return b.String()
}

// ParsePromotion maps a client promotion hint to a piece kind. An empty hint
// means a queen; anything unrecognized is NoKind, which Apply rejects when
// the move promotes.
func ParsePromotion(hint string) PieceKind {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "", "q", "queen":
		return Queen
	case "r", "rook":
		return Rook
	case "b", "bishop":
		return Bishop
	case "n", "knight":
		return Knight
	default:
		return NoKind
	}
}

// Promotable reports whether a pawn may promote to k.
func (k PieceKind) Promotable() bool {
	return k == Queen || k == Rook || k == Bishop || k == Knight
}

// TerminalKind classifies how a game ended.
type TerminalKind int

const (
	NotTerminal TerminalKind = iota
	Checkmate
	Stalemate
	InsufficientMaterial
	ThreefoldRepetition
	FiftyMoveRule
	FivefoldRepetition
	SeventyFiveMoveRule
)

// Sentence is Reason starting with a capital letter, for notices.
func (k TerminalKind) Sentence() string {
	r := k.Reason()
	if r == "" {
		return r
	}
	return strings.ToUpper(r[:1]) + r[1:]
}

// Reason is the human readable text shown to participants.
func (k TerminalKind) Reason() string {
	switch k {
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "draw by stalemate"
	case InsufficientMaterial:
		return "draw by insufficient material"
	case ThreefoldRepetition:
		return "draw by threefold repetition"
	case FiftyMoveRule:
		return "draw by fifty-move rule"
	case FivefoldRepetition:
		return "draw by fivefold repetition"
	case SeventyFiveMoveRule:
		return "draw by seventy-five-move rule"
	default:
		return ""
	}
}

// Terminal is the adjudicator's verdict on whether the game is over.
type Terminal struct {
	Kind TerminalKind
	// Winner is set for decisive results only.
	Winner Side
}

// Over reports whether the adjudicator considers the game finished.
func (t Terminal) Over() bool { return t.Kind != NotTerminal }

// Decisive reports whether the result has a winner.
func (t Terminal) Decisive() bool { return t.Kind == Checkmate }

// Claims lists the draw conditions a player may claim unilaterally.
type Claims struct {
	Threefold bool
	FiftyMove bool
}

// Any reports whether at least one draw can be claimed.
func (c Claims) Any() bool { return c.Threefold || c.FiftyMove }

var (
	// ErrIllegalMove is returned when the rules reject a move.
	ErrIllegalMove = errors.New("illegal move")
	// ErrMalformedSquare is returned for squares outside a1..h8.
	ErrMalformedSquare = errors.New("malformed square")
)

// Adjudicator is the single authority on move legality and terminal
// conditions. Implementations are not safe for concurrent use; the owning
// session serializes access.
type Adjudicator interface {
	Turn() Side
	Board() Board
	InCheck() bool
	Terminal() Terminal
	Claims() Claims
	// Apply validates and plays the move. A rejected move leaves the
	// position unchanged.
	Apply(m Move) error
	// Position returns the current position in FEN.
	Position() string
}

// Factory creates a fresh adjudicator in the initial position.
type Factory func() Adjudicator

// ValidSquare reports whether s names a board square such as "e4".
func ValidSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

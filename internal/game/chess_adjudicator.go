package game

import (
	"fmt"
	"slices"

	"github.com/corentings/chess/v2"
)

// ChessAdjudicator adapts github.com/corentings/chess to the Adjudicator
// interface. Threefold repetition and the fifty-move rule are claimable
// draws in the library and are surfaced through Claims; fivefold repetition
// and the seventy-five-move rule end the game on their own.
type ChessAdjudicator struct {
	game *chess.Game
}

var _ Adjudicator = (*ChessAdjudicator)(nil)

// NewChessAdjudicator starts a game from the standard initial position.
func NewChessAdjudicator() *ChessAdjudicator {
	return &ChessAdjudicator{game: chess.NewGame()}
}

// NewChessAdjudicatorFromFEN starts a game from an arbitrary position.
func NewChessAdjudicatorFromFEN(fen string) (*ChessAdjudicator, error) {
	option, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid position %q: %w", fen, err)
	}
	return &ChessAdjudicator{game: chess.NewGame(option)}, nil
}

// ChessFactory is the default Factory for chess sessions.
func ChessFactory() Adjudicator {
	return NewChessAdjudicator()
}

func (a *ChessAdjudicator) Turn() Side {
	return sideFromColor(a.game.Position().Turn())
}

func (a *ChessAdjudicator) Board() Board {
	var b Board
	for sq, pc := range a.game.Position().Board().SquareMap() {
		if pc == chess.NoPiece {
			continue
		}
		row := 7 - int(sq.Rank())
		col := int(sq.File())
		if row < 0 || row > 7 || col < 0 || col > 7 {
			continue
		}
		b[row][col] = &Piece{Kind: kindFromType(pc.Type()), Side: sideFromColor(pc.Color())}
	}
	return b
}

// InCheck uses the check tag of the last move. Before any move, as in a game
// set up from FEN, the board is inspected instead.
func (a *ChessAdjudicator) InCheck() bool {
	moves := a.game.Moves()
	if len(moves) == 0 {
		return kingAttacked(a.Board(), a.Turn())
	}
	return moves[len(moves)-1].HasTag(chess.Check)
}

func (a *ChessAdjudicator) Terminal() Terminal {
	if a.game.Outcome() == chess.NoOutcome {
		return Terminal{}
	}
	switch a.game.Method() {
	case chess.Checkmate:
		// The mated side is the one to move.
		return Terminal{Kind: Checkmate, Winner: a.Turn().Opponent()}
	case chess.Stalemate:
		return Terminal{Kind: Stalemate}
	case chess.InsufficientMaterial:
		return Terminal{Kind: InsufficientMaterial}
	case chess.FivefoldRepetition:
		return Terminal{Kind: FivefoldRepetition}
	case chess.SeventyFiveMoveRule:
		return Terminal{Kind: SeventyFiveMoveRule}
	case chess.ThreefoldRepetition:
		return Terminal{Kind: ThreefoldRepetition}
	case chess.FiftyMoveRule:
		return Terminal{Kind: FiftyMoveRule}
	}
	return Terminal{}
}

func (a *ChessAdjudicator) Claims() Claims {
	var c Claims
	if a.game.Outcome() != chess.NoOutcome {
		return c
	}
	for _, method := range a.game.EligibleDraws() {
		switch method {
		case chess.ThreefoldRepetition:
			c.Threefold = true
		case chess.FiftyMoveRule:
			c.FiftyMove = true
		}
	}
	return c
}

func (a *ChessAdjudicator) Apply(m Move) error {
	if !ValidSquare(m.From) || !ValidSquare(m.To) {
		return fmt.Errorf("%w: %q -> %q", ErrMalformedSquare, m.From, m.To)
	}
	if !a.promotes(m) {
		m.Promotion = NoKind
	} else if !m.Promotion.Promotable() {
		return fmt.Errorf("%w: %s%s cannot promote to %s", ErrIllegalMove, m.From, m.To, m.Promotion)
	}

	if err := a.game.PushNotationMove(m.UCI(), chess.UCINotation{}, nil); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIllegalMove, m.UCI(), err)
	}
	return nil
}

func (a *ChessAdjudicator) Position() string {
	return a.game.FEN()
}

// promotes reports whether m moves a pawn onto its last rank.
func (a *ChessAdjudicator) promotes(m Move) bool {
	pc := a.game.Position().Board().Piece(squareOf(m.From))
	if pc.Type() != chess.Pawn {
		return false
	}
	switch pc.Color() {
	case chess.White:
		return m.To[1] == '8'
	case chess.Black:
		return m.To[1] == '1'
	}
	return false
}

// squareOf converts a validated square name to the library's index,
// where a1 is 0 and h8 is 63.
func squareOf(name string) chess.Square {
	file := int(name[0] - 'a')
	rank := int(name[1] - '1')
	return chess.Square(rank*8 + file)
}

func sideFromColor(c chess.Color) Side {
	switch c {
	case chess.White:
		return White
	case chess.Black:
		return Black
	default:
		return NoSide
	}
}

func kindFromType(t chess.PieceType) PieceKind {
	switch t {
	case chess.Pawn:
		return Pawn
	case chess.Knight:
		return Knight
	case chess.Bishop:
		return Bishop
	case chess.Rook:
		return Rook
	case chess.Queen:
		return Queen
	case chess.King:
		return King
	default:
		return NoKind
	}
}

var (
	knightSteps   = [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps     = [][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	straightSteps = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	diagonalSteps = [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

// kingAttacked reports whether side's king is attacked on b.
func kingAttacked(b Board, side Side) bool {
	kr, kc := -1, -1
	for r := range 8 {
		for c := range 8 {
			if p := b[r][c]; p != nil && p.Kind == King && p.Side == side {
				kr, kc = r, c
			}
		}
	}
	if kr < 0 {
		return false
	}

	enemy := side.Opponent()
	enemyAt := func(r, c int, kinds ...PieceKind) bool {
		if r < 0 || r > 7 || c < 0 || c > 7 {
			return false
		}
		p := b[r][c]
		return p != nil && p.Side == enemy && slices.Contains(kinds, p.Kind)
	}

	// Row 0 is rank 8: black pawns attack toward higher rows.
	pawnRow := kr - 1
	if side == Black {
		pawnRow = kr + 1
	}
	if enemyAt(pawnRow, kc-1, Pawn) || enemyAt(pawnRow, kc+1, Pawn) {
		return true
	}
	for _, d := range knightSteps {
		if enemyAt(kr+d[0], kc+d[1], Knight) {
			return true
		}
	}
	for _, d := range kingSteps {
		if enemyAt(kr+d[0], kc+d[1], King) {
			return true
		}
	}

	slide := func(steps [][2]int, kinds ...PieceKind) bool {
		for _, d := range steps {
			for r, c := kr+d[0], kc+d[1]; r >= 0 && r < 8 && c >= 0 && c < 8; r, c = r+d[0], c+d[1] {
				if b[r][c] != nil {
					if enemyAt(r, c, kinds...) {
						return true
					}
					break
				}
			}
		}
		return false
	}
	return slide(straightSteps, Rook, Queen) || slide(diagonalSteps, Bishop, Queen)
}

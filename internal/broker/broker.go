// Package broker owns the process-wide state of the game service: the
// matchmaking queue, the registry of live sessions and the platform bank.
// Every instance is independent, so tests can run several side by side.
package broker

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kingsgate/stakechess/internal/game"
	"github.com/kingsgate/stakechess/internal/session"
	"go.uber.org/zap"
)

// ErrClosed is returned for requests arriving after Shutdown.
var ErrClosed = errors.New("broker is shut down")

// Options configures a Broker.
type Options struct {
	Economy      session.Economy
	Adjudicators game.Factory
	// Recorder is optional; without it no replays are kept.
	Recorder *game.ReplayRecorder
	// NewID generates session ids. Defaults to random UUIDs.
	NewID func() string
}

type seat struct {
	sessionID string
	side      game.Side
}

type waiter struct {
	peer session.Peer
	name string
}

// Broker pairs arrivals into sessions and routes requests to them. The
// broker lock guards the queue slot, the registry and the seat index; each
// session serializes its own requests, so sessions never contend.
type Broker struct {
	mu       sync.Mutex
	waiting  *waiter
	sessions map[string]*session.Session
	seats    map[string]seat
	closed   bool

	bank         *Bank
	economy      session.Economy
	adjudicators game.Factory
	recorder     *game.ReplayRecorder
	newID        func() string
	logger       *zap.Logger
}

// New creates a broker with an empty queue, registry and bank.
func New(opts Options, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Adjudicators == nil {
		opts.Adjudicators = game.ChessFactory
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Broker{
		sessions:     make(map[string]*session.Session),
		seats:        make(map[string]seat),
		bank:         &Bank{},
		economy:      opts.Economy,
		adjudicators: opts.Adjudicators,
		recorder:     opts.Recorder,
		newID:        opts.NewID,
		logger:       logger,
	}
}

// RequestMatch queues peer or pairs it with the waiting participant. The
// earlier arrival plays white. A peer already seated in a session is
// ignored.
func (b *Broker) RequestMatch(peer session.Peer, displayName string) error {
	name := session.NormalizeName(displayName)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, seated := b.seats[peer.ID()]; seated {
		return nil
	}

	if w := b.waiting; w != nil && w.peer.ID() != peer.ID() {
		if w.peer.Alive() {
			b.waiting = nil
			b.pair(w, &waiter{peer: peer, name: name})
			return nil
		}
		b.logger.Warn("dropping dead queue entry", zap.String("peer_id", w.peer.ID()))
	}

	b.waiting = &waiter{peer: peer, name: name}
	peer.Send(session.Event{Type: session.EventWaiting})
	peer.Send(session.Notice("Searching for an opponent..."))

	b.logger.Debug("participant waiting",
		zap.String("peer_id", peer.ID()),
		zap.String("name", name),
	)
	return nil
}

// pair creates a session for two waiters. Caller holds b.mu.
func (b *Broker) pair(first, second *waiter) {
	id := b.newID()

	var replay *game.Replay
	if b.recorder != nil {
		replay = b.recorder.StartRecording(id)
	}

	s := session.New(session.Config{
		ID:          id,
		White:       &session.Player{Peer: first.peer, Name: first.name, Side: game.White},
		Black:       &session.Player{Peer: second.peer, Name: second.name, Side: game.Black},
		Adjudicator: b.adjudicators(),
		Economy:     b.economy,
		Fees:        b.bank,
		Replay:      replay,
		Logger:      b.logger,
	})

	b.sessions[id] = s
	b.seats[first.peer.ID()] = seat{sessionID: id, side: game.White}
	b.seats[second.peer.ID()] = seat{sessionID: id, side: game.Black}

	snap := s.Snapshot()
	first.peer.Send(session.Event{Type: session.EventPaired, Payload: session.PairedPayload{Side: game.White, Snapshot: snap}})
	second.peer.Send(session.Event{Type: session.EventPaired, Payload: session.PairedPayload{Side: game.Black, Snapshot: snap}})
	s.Notify(session.Notice(fmt.Sprintf("Match found: %s (white) vs %s (black). Starting wallet: %d coins.",
		first.name, second.name, b.economy.StartingWallet)))

	b.logger.Info("players paired",
		zap.String("session_id", id),
		zap.String("white", first.name),
		zap.String("black", second.name),
	)
}

// resolve finds the session and side of a seated peer.
func (b *Broker) resolve(peerID string) (*session.Session, game.Side, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.seats[peerID]
	if !ok {
		return nil, game.NoSide, session.ErrNotInSession
	}
	s, ok := b.sessions[st.sessionID]
	if !ok {
		delete(b.seats, peerID)
		return nil, game.NoSide, session.ErrSessionNotFound
	}
	if st.side == game.NoSide {
		return nil, game.NoSide, session.ErrNoColorAssigned
	}
	return s, st.side, nil
}

// SubmitMove routes a move to the peer's session.
func (b *Broker) SubmitMove(peerID, from, to, promotion string) error {
	s, side, err := b.resolve(peerID)
	if err != nil {
		return err
	}
	return s.SubmitMove(side, from, to, promotion)
}

// OfferDraw routes a draw offer.
func (b *Broker) OfferDraw(peerID string) error {
	s, side, err := b.resolve(peerID)
	if err != nil {
		return err
	}
	return s.OfferDraw(side)
}

// RespondDraw routes an answer to a draw offer.
func (b *Broker) RespondDraw(peerID string, accept bool) error {
	s, side, err := b.resolve(peerID)
	if err != nil {
		return err
	}
	return s.RespondDraw(side, accept)
}

// ClaimDraw routes a draw claim.
func (b *Broker) ClaimDraw(peerID string) error {
	s, side, err := b.resolve(peerID)
	if err != nil {
		return err
	}
	return s.ClaimDraw(side)
}

// OfferStake routes a stake proposal.
func (b *Broker) OfferStake(peerID string, amount int) error {
	s, side, err := b.resolve(peerID)
	if err != nil {
		return err
	}
	return s.OfferStake(side, amount)
}

// RespondStake routes an answer to a stake proposal.
func (b *Broker) RespondStake(peerID string, accept bool) error {
	s, side, err := b.resolve(peerID)
	if err != nil {
		return err
	}
	return s.RespondStake(side, accept)
}

// Snapshot returns the view of the peer's session.
func (b *Broker) Snapshot(peerID string) (session.Snapshot, error) {
	s, _, err := b.resolve(peerID)
	if err != nil {
		return session.Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// Chat relays a message to the peer's session, or echoes it back when the
// peer is not seated. Empty messages are dropped.
func (b *Broker) Chat(peer session.Peer, displayName, text string) {
	text = session.NormalizeChat(text)
	if text == "" {
		return
	}

	s, side, err := b.resolve(peer.ID())
	name := displayName
	if strings.TrimSpace(name) == "" && err == nil {
		if p := s.Player(side); p != nil {
			name = p.Name
		}
	}
	ev := session.Event{Type: session.EventChat, Payload: session.ChatPayload{
		DisplayName: session.NormalizeName(name),
		Text:        text,
	}}

	if err != nil {
		peer.Send(ev)
		return
	}
	s.Notify(ev)
}

// Replay returns the recorded moves of a session: the live recording while
// the session runs, the archive afterwards. live reports which one it is.
func (b *Broker) Replay(sessionID string) (replay *game.Replay, live bool, err error) {
	if b.recorder == nil {
		return nil, false, game.ErrReplayNotFound
	}
	if r, ok := b.recorder.GetReplay(sessionID); ok {
		return r, true, nil
	}
	r, err := b.recorder.LoadReplay(sessionID)
	if err != nil {
		return nil, false, err
	}
	return r, false, nil
}

// Recording returns the number of sessions whose moves are being recorded.
func (b *Broker) Recording() int {
	if b.recorder == nil {
		return 0
	}
	return b.recorder.Active()
}

// PlatformBank returns the fees accumulated by the platform.
func (b *Broker) PlatformBank() int {
	return b.bank.Total()
}

// SessionCount returns the number of live sessions.
func (b *Broker) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.sessions)
}

// Waiting reports whether a participant occupies the queue slot.
func (b *Broker) Waiting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.waiting != nil
}

package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/kingsgate/stakechess/internal/game"
	"go.uber.org/zap/zaptest"
)

var testEconomy = Economy{
	StartingWallet: 150,
	FeeFraction:    0.05,
	MinStake:       20,
	MaxStake:       50,
}

// fakePeer records every event pushed to it.
type fakePeer struct {
	id string

	mu     sync.Mutex
	dead   bool
	events []Event
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.dead
}

func (p *fakePeer) Send(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *fakePeer) kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = true
}

func (p *fakePeer) ofType(t EventType) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (p *fakePeer) lastState() (Snapshot, bool) {
	states := p.ofType(EventState)
	if len(states) == 0 {
		return Snapshot{}, false
	}
	return states[len(states)-1].Payload.(StatePayload).Snapshot, true
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// fakeAdjudicator accepts every move unless told otherwise. Terminal and
// claim conditions are set directly by the test.
type fakeAdjudicator struct {
	turn     game.Side
	terminal game.Terminal
	claims   game.Claims
	inCheck  bool
	applyErr error
	moves    []game.Move
	// onApply runs after a move is accepted.
	onApply func(f *fakeAdjudicator)
}

func newFakeAdjudicator() *fakeAdjudicator {
	return &fakeAdjudicator{turn: game.White}
}

func (f *fakeAdjudicator) Turn() game.Side         { return f.turn }
func (f *fakeAdjudicator) Board() game.Board       { return game.Board{} }
func (f *fakeAdjudicator) InCheck() bool           { return f.inCheck }
func (f *fakeAdjudicator) Terminal() game.Terminal { return f.terminal }
func (f *fakeAdjudicator) Claims() game.Claims     { return f.claims }
func (f *fakeAdjudicator) Position() string        { return fmt.Sprintf("position-%d", len(f.moves)) }

func (f *fakeAdjudicator) Apply(m game.Move) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.moves = append(f.moves, m)
	f.turn = f.turn.Opponent()
	if f.onApply != nil {
		f.onApply(f)
	}
	return nil
}

// mateAfter makes the next accepted move deliver checkmate.
func (f *fakeAdjudicator) mateAfter() {
	f.onApply = func(f *fakeAdjudicator) {
		f.terminal = game.Terminal{Kind: game.Checkmate, Winner: f.turn.Opponent()}
		f.inCheck = true
	}
}

type recordingFees struct {
	mu    sync.Mutex
	total int
	calls int
}

func (r *recordingFees) Accrue(fee int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total += fee
	r.calls++
}

type fixture struct {
	session *Session
	adj     *fakeAdjudicator
	white   *fakePeer
	black   *fakePeer
	fees    *recordingFees
	replay  *game.Replay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, newFakeAdjudicator())
}

func newFixtureWith(t *testing.T, adj game.Adjudicator) *fixture {
	t.Helper()

	f := &fixture{
		white:  newFakePeer("peer-white"),
		black:  newFakePeer("peer-black"),
		fees:   &recordingFees{},
		replay: game.NewReplay("session-1"),
	}
	if fake, ok := adj.(*fakeAdjudicator); ok {
		f.adj = fake
	}
	f.session = New(Config{
		ID:          "session-1",
		White:       &Player{Peer: f.white, Name: "Alice", Side: game.White},
		Black:       &Player{Peer: f.black, Name: "Bob", Side: game.Black},
		Adjudicator: adj,
		Economy:     testEconomy,
		Fees:        f.fees,
		Replay:      f.replay,
		Logger:      zaptest.NewLogger(t),
	})
	return f
}

func (f *fixture) wallets() (int, int) {
	return f.session.Player(game.White).Wallet, f.session.Player(game.Black).Wallet
}

// activateStake runs an offer from white and an acceptance from black.
func (f *fixture) activateStake(t *testing.T, amount int) {
	t.Helper()
	if err := f.session.OfferStake(game.White, amount); err != nil {
		t.Fatalf("offer stake: %v", err)
	}
	if err := f.session.RespondStake(game.Black, true); err != nil {
		t.Fatalf("accept stake: %v", err)
	}
}

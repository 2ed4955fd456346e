package session

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kingsgate/stakechess/internal/game"
)

const (
	// MaxNameLength is the display name limit in characters.
	MaxNameLength = 18
	// MaxChatLength is the chat message limit in characters.
	MaxChatLength = 200
)

// Player is one occupied slot of a session.
type Player struct {
	Peer   Peer
	Name   string
	Side   game.Side
	Wallet int
}

func (p *Player) alive() bool {
	return p != nil && p.Peer != nil && p.Peer.Alive()
}

func (p *Player) send(ev Event) {
	if p.alive() {
		p.Peer.Send(ev)
	}
}

// NormalizeName trims, collapses inner whitespace and truncates a display
// name. Empty names get a generated placeholder.
func NormalizeName(raw string) string {
	name := truncate(strings.Join(strings.Fields(raw), " "), MaxNameLength)
	name = strings.TrimSpace(name)
	if name == "" {
		return "Player-" + uuid.NewString()[:4]
	}
	return name
}

// NormalizeChat trims and truncates a chat message.
func NormalizeChat(raw string) string {
	return strings.TrimSpace(truncate(strings.TrimSpace(raw), MaxChatLength))
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

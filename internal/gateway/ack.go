package gateway

import (
	"math/rand"
	"sync"
)

// ackPhrases are the short acknowledgements posted alongside the
// inbox_tray reaction when a message is accepted, so silence during a
// long-running turn doesn't read as a dropped message.
var ackPhrases = []string{
	"On it.",
	"Looking into it...",
	"Working on it now.",
	"Got it, give me a moment.",
	"Starting that up...",
	"Let me see what I can do.",
	"Already on it.",
	"Hold tight...",
}

// ackDeck hands out ackPhrases in shuffled order, guaranteeing every
// phrase is used before any repeats.
type ackDeck struct {
	mu   sync.Mutex
	deck []string
}

func (d *ackDeck) next() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.deck) == 0 {
		d.deck = make([]string, len(ackPhrases))
		copy(d.deck, ackPhrases)
		rand.Shuffle(len(d.deck), func(i, j int) { d.deck[i], d.deck[j] = d.deck[j], d.deck[i] })
	}

	phrase := d.deck[len(d.deck)-1]
	d.deck = d.deck[:len(d.deck)-1]
	return phrase
}

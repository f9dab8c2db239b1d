package protocol

import (
	"fmt"
	"math/rand"
)

// The fixed palette players are colored from. Assignment is random and not
// guaranteed unique across a roster.
var Palette = []string{
	"#ff0000", "#00ff00", "#0000ff", "#ffff00", "#ff00ff", "#00ffff",
	"#ffa500", "#800080", "#008000", "#ffc0cb", "#a52a2a", "#ffffff",
}

func RandomColor() string {
	return Palette[rand.Intn(len(Palette))]
}

// DisplayName derives the default name for a joiner from the player count
// at join time ("Player 1", "Player 2", ...).
func DisplayName(existingPlayers int) string {
	return fmt.Sprintf("Player %d", existingPlayers+1)
}

// DefaultLayerID is the deterministic id the first joiner seeds the initial
// layer under. Racing seeders collide on the same id and the server keeps
// whichever create landed first.
const DefaultLayerID = "base"

const DefaultLayerName = "Main Layer"

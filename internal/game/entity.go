package game

import (
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"

	"cell-arena/internal/game/arena"
)

// Cell is the coordinator's record of a live circle entity. Its physical
// state lives in the arena slot; the record only carries identity.
type Cell struct {
	ID     uuid.UUID
	Kind   arena.Category
	Slot   arena.Slot
	Colour string
	Owner  *User // players only

	alive  bool
	staged bool
}

// Alive reports whether the cell is still in the world.
func (c *Cell) Alive() bool { return c.alive }

// User is a connected controller of up to max_siblings player cells.
type User struct {
	ID      uuid.UUID
	Name    string
	Slot    arena.Slot
	Colour  string
	Players map[uuid.UUID]*Cell

	leaving bool
}

// DeathEvent is queued when a user's last player cell is eaten.
type DeathEvent struct {
	UserID uuid.UUID
	Name   string
	Tick   uint64
}

const virusColour = "#22ff22"

// colourFor derives a stable display colour from an id.
func colourFor(id uuid.UUID) string {
	h := fnv.New32a()
	h.Write(id[:])
	sum := h.Sum32()
	c := [3]uint32{sum & 0xff, (sum >> 8) & 0xff, (sum >> 16) & 0xff}
	for i := range c {
		c[i] = 20 + c[i]*160/255
	}
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

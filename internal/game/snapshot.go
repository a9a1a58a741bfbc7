package game

import (
	"github.com/google/uuid"

	"cell-arena/internal/game/arena"
	"cell-arena/internal/game/leaderboard"
)

// CellState is an immutable copy of one circle for the network layer.
type CellState struct {
	ID     string  `msgpack:"id" json:"id"`
	Kind   string  `msgpack:"kind" json:"kind"`
	X      float64 `msgpack:"x" json:"x"`
	Y      float64 `msgpack:"y" json:"y"`
	Mass   float64 `msgpack:"mass" json:"mass"`
	Radius float64 `msgpack:"r" json:"r"`
	Colour string  `msgpack:"colour" json:"colour"`
	Owner  string  `msgpack:"owner,omitempty" json:"owner,omitempty"`
}

// Camera is a user's view centre and zoom.
type Camera struct {
	X     float64 `msgpack:"x" json:"x"`
	Y     float64 `msgpack:"y" json:"y"`
	Scale float64 `msgpack:"scale" json:"scale"`
}

// Snapshot is the state published after each tick. Cells holds only the
// circles changed during the tick unless it was built with FullState.
type Snapshot struct {
	Tick        uint64                 `msgpack:"tick" json:"tick"`
	Width       float64                `msgpack:"width" json:"width"`
	Height      float64                `msgpack:"height" json:"height"`
	Cells       []CellState            `msgpack:"cells" json:"cells"`
	Killed      []string               `msgpack:"killed" json:"killed"`
	Cameras     map[string]Camera      `msgpack:"cameras" json:"cameras"`
	Leaderboard []leaderboard.Standing `msgpack:"leaderboard" json:"leaderboard"`
	Counts      map[string]int         `msgpack:"counts" json:"counts"`
}

// Snapshot captures the dirty circles, this tick's removals, every camera
// and the top ten.
func (w *World) Snapshot() *Snapshot {
	return w.snapshot(false)
}

// FullState is Snapshot with every live circle included.
func (w *World) FullState() *Snapshot {
	return w.snapshot(true)
}

func (w *World) snapshot(full bool) *Snapshot {
	s := &Snapshot{
		Tick:        w.tick,
		Width:       w.cfg.World.Width,
		Height:      w.cfg.World.Height,
		Killed:      make([]string, 0, len(w.killed)),
		Cameras:     make(map[string]Camera, len(w.users)),
		Leaderboard: w.board.Top(10),
		Counts:      make(map[string]int, arena.NumCategories),
	}
	for _, id := range w.killed {
		s.Killed = append(s.Killed, id.String())
	}
	for c := arena.Category(0); c < arena.NumCategories; c++ {
		s.Counts[c.String()] = w.arena.Live(c)
	}

	collect := func(m map[uuid.UUID]*Cell) {
		for _, c := range m {
			if c.staged {
				continue
			}
			w.circle.Bind(c.Slot)
			if !full && !w.circle.Dirty() {
				continue
			}
			cs := CellState{
				ID:     c.ID.String(),
				Kind:   c.Kind.String(),
				X:      w.circle.X(),
				Y:      w.circle.Y(),
				Mass:   w.circle.Mass(),
				Radius: w.circle.Radius(),
				Colour: c.Colour,
			}
			if c.Owner != nil {
				cs.Owner = c.Owner.ID.String()
			}
			s.Cells = append(s.Cells, cs)
		}
	}
	collect(w.players)
	collect(w.viruses)
	collect(w.food)
	collect(w.masses)

	for _, u := range w.users {
		w.user.Bind(u.Slot)
		s.Cameras[u.ID.String()] = Camera{X: w.user.X(), Y: w.user.Y(), Scale: w.user.Scale()}
	}
	return s
}

// Leaderboard returns the top n users by total mass.
func (w *World) Leaderboard(n int) []leaderboard.Standing {
	return w.board.Top(n)
}

// Overview lists every placed player and virus, for the minimap.
func (w *World) Overview() []CellState {
	out := make([]CellState, 0, len(w.players)+len(w.viruses))
	add := func(c *Cell) {
		w.circle.Bind(c.Slot)
		out = append(out, CellState{
			ID:     c.ID.String(),
			Kind:   c.Kind.String(),
			X:      w.circle.X(),
			Y:      w.circle.Y(),
			Mass:   w.circle.Mass(),
			Radius: w.circle.Radius(),
			Colour: c.Colour,
		})
	}
	for _, c := range w.players {
		add(c)
	}
	for _, c := range w.viruses {
		if !c.staged {
			add(c)
		}
	}
	return out
}

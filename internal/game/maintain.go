package game

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"cell-arena/internal/game/arena"
	"cell-arena/internal/game/spatial"
)

// updateUsers recomputes each user's camera from the bounding box of its
// cells and refreshes the leaderboard.
func (w *World) updateUsers() {
	for _, u := range w.users {
		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		total := 0.0
		for _, c := range u.Players {
			w.circle.Bind(c.Slot)
			x, y, r := w.circle.X(), w.circle.Y(), w.circle.Radius()
			minX, maxX = math.Min(minX, x-r), math.Max(maxX, x+r)
			minY, maxY = math.Min(minY, y-r), math.Max(maxY, y+r)
			total += w.circle.Mass()
		}
		if len(u.Players) == 0 {
			continue
		}

		w.user.Bind(u.Slot)
		cx, cy := w.clampX((minX+maxX)/2), w.clampY((minY+maxY)/2)
		if cx != w.user.X() || cy != w.user.Y() {
			w.user.SetPosition(cx, cy)
		}
		scale := cameraScale(maxX-minX, maxY-minY)
		if scale != w.user.Scale() {
			w.user.SetScale(scale)
		}
		w.board.Update(u.ID.String(), u.Name, total)
	}
}

func cameraScale(width, height float64) float64 {
	return clamp(100/(math.Max(width, height)*1.1+75), 0.01, 1)
}

// replenish tops food and viruses up to their minimums. A full category
// stops the top-up for this tick.
func (w *World) replenish() {
	r := w.cfg.Rules
	for n := w.cfg.World.MinFood - len(w.food); n > 0; n-- {
		x, y := w.randomPosition()
		if _, err := w.spawn(arena.Food, x, y, r.FoodMass, w.randomColour()); err != nil {
			w.log.Warn("food replenish stopped", zap.Int("missing", n), zap.Error(err))
			break
		}
	}
	for n := w.cfg.World.MinViruses - len(w.viruses); n > 0; n-- {
		x, y := w.randomPosition()
		if _, err := w.spawn(arena.Virus, x, y, r.VirusMass, virusColour); err != nil {
			w.log.Warn("virus replenish stopped", zap.Int("missing", n), zap.Error(err))
			break
		}
	}
}

// placeStaged promotes staged viruses that overlap no player into the
// collidable set. The rest are moved to a fresh random spot and retried
// next tick.
func (w *World) placeStaged() {
	if len(w.staged) == 0 {
		return
	}
	w.bodies = w.bodies[:0]
	kinds := make([]bool, 0, len(w.staged)+len(w.players)) // true = staged
	for _, c := range w.staged {
		w.circle.Bind(c.Slot)
		w.bodies = append(w.bodies, spatial.Body{X: w.circle.X(), Y: w.circle.Y(), R: w.circle.Radius()})
		kinds = append(kinds, true)
	}
	for _, c := range w.players {
		w.circle.Bind(c.Slot)
		w.bodies = append(w.bodies, spatial.Body{X: w.circle.X(), Y: w.circle.Y(), R: w.circle.Radius()})
		kinds = append(kinds, false)
	}

	blocked := make([]bool, len(w.staged))
	pairs := w.placement.Detect(w.bodies, func(a, b int) bool {
		return kinds[a] == kinds[b]
	})
	for _, p := range pairs {
		if kinds[p.Larger] {
			blocked[p.Larger] = true
		} else {
			blocked[p.Smaller] = true
		}
	}

	remaining := w.staged[:0]
	for i, c := range w.staged {
		if blocked[i] {
			x, y := w.randomPosition()
			w.circle.Bind(c.Slot)
			w.circle.SetPosition(x, y)
			remaining = append(remaining, c)
			continue
		}
		c.staged = false
		w.circle.Bind(c.Slot)
		w.circle.MarkDirty()
		w.addCollidable(c)
	}
	for i := len(remaining); i < len(w.staged); i++ {
		w.staged[i] = nil
	}
	w.staged = remaining
}

func (w *World) randomColour() string {
	return fmt.Sprintf("#%02x%02x%02x", 20+w.rng.Intn(161), 20+w.rng.Intn(161), 20+w.rng.Intn(161))
}

package game

import (
	"bytes"
	"errors"
	"math"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cell-arena/internal/game/arena"
	"cell-arena/internal/game/worker"
)

var errSlotHeld = errors.New("slot lock held")

type eatClaim struct {
	eater   *Cell
	percent float64
}

// applyEffects resolves the classification results. Kills apply at once;
// eats are aggregated per target and resolved smallest target first, the
// live player with the greatest overlap winning each target.
func (w *World) applyEffects(results []worker.Result) {
	claims := make(map[*Cell][]eatClaim)
	var targets []*Cell
	var splits []*Cell

	for _, res := range results {
		for _, e := range res.Effects {
			pc := w.pairs[e.Pair]
			subject, other := pc[e.Subject], pc[1-e.Subject]
			switch e.Kind {
			case worker.EffectKill:
				w.remove(subject)
			case worker.EffectEatPlayer, worker.EffectEatVirus:
				if _, ok := claims[other]; !ok {
					targets = append(targets, other)
				}
				claims[other] = append(claims[other], eatClaim{eater: subject, percent: e.Percent})
			case worker.EffectForceSplit:
				splits = append(splits, subject)
			}
		}
	}

	mass := make(map[*Cell]float64, len(targets))
	for _, t := range targets {
		w.circle.Bind(t.Slot)
		mass[t] = w.circle.Mass()
	}
	sort.Slice(targets, func(i, j int) bool {
		if mass[targets[i]] != mass[targets[j]] {
			return mass[targets[i]] < mass[targets[j]]
		}
		return bytes.Compare(targets[i].ID[:], targets[j].ID[:]) < 0
	})

	for _, t := range targets {
		if !t.alive {
			continue
		}
		var best *eatClaim
		for i := range claims[t] {
			c := &claims[t][i]
			if !c.eater.alive || c.eater.Kind != arena.Player {
				continue
			}
			if best == nil || c.percent > best.percent {
				best = c
			}
		}
		if best != nil {
			w.eat(best.eater, t)
		}
	}

	for _, c := range splits {
		if !c.alive {
			continue
		}
		w.circle.Bind(c.Slot)
		if w.circle.Mass() > w.cfg.Rules.SplitCeiling {
			w.forceSplit(c)
		}
	}
}

// eat moves all of target's mass into eater and removes target. Nothing
// happens when either slot stays locked.
func (w *World) eat(eater, target *Cell) {
	w.circle.Bind(target.Slot)
	gain := w.circle.Mass()
	isVirus := target.Kind == arena.Virus

	if !w.hold(&w.lock, eater.Slot) {
		return
	}
	if !w.remove(target) {
		w.lock.Unlock()
		return
	}
	w.circle.Bind(eater.Slot)
	w.circle.SetMass(w.circle.Mass() + gain)
	w.lock.Unlock()

	if isVirus {
		w.virusSplit(eater)
	}
	w.circle.Bind(eater.Slot)
	if w.circle.Mass() > w.cfg.Rules.SplitCeiling {
		w.forceSplit(eater)
	}
}

// virusSplit bursts the eater into as many pieces as the sibling cap
// allows. Only the eater and the pieces cut from it are candidates; the
// largest of them splits each round. The impulse is fixed from the eater's
// radius before the first cut, and parents recoil by virus_recoil of it.
func (w *World) virusSplit(eater *Cell) {
	u := eater.Owner
	if u == nil {
		return
	}
	r := w.cfg.Rules
	w.circle.Bind(eater.Slot)
	impulse := splitImpulse(w.circle.Radius())

	pieces := []*Cell{eater}
	for len(u.Players) < r.MaxSiblings {
		largest, m := w.largestOf(pieces)
		if largest == nil || m < r.MinSplitMass {
			return
		}
		angle := w.rng.Float64() * 2 * math.Pi
		child, err := w.splitWith(largest, math.Cos(angle), math.Sin(angle), impulse, r.VirusRecoil)
		if err != nil {
			w.log.Warn("virus split skipped", zap.Error(err))
			return
		}
		pieces = append(pieces, child)
	}
}

// forceSplit brings an over-ceiling cell back under the ceiling: a random
// split, or a clamp when the owner is already at the sibling cap.
func (w *World) forceSplit(c *Cell) {
	r := w.cfg.Rules
	if c.Owner == nil || len(c.Owner.Players) >= r.MaxSiblings {
		w.setMass(c, r.SplitCeiling)
		return
	}
	angle := w.rng.Float64() * 2 * math.Pi
	if _, err := w.split(c, math.Cos(angle), math.Sin(angle)); err != nil {
		w.log.Warn("force split failed, clamping", zap.Error(err))
		w.setMass(c, r.SplitCeiling)
	}
}

func (w *World) setMass(c *Cell, m float64) {
	if !w.hold(&w.lock, c.Slot) {
		return
	}
	w.circle.Bind(c.Slot)
	w.circle.SetMass(m)
	w.lock.Unlock()
}

func (w *World) largestOf(cells []*Cell) (*Cell, float64) {
	var best *Cell
	bestMass := -1.0
	for _, p := range cells {
		w.circle.Bind(p.Slot)
		m := w.circle.Mass()
		if m > bestMass || (m == bestMass && bytes.Compare(p.ID[:], best.ID[:]) < 0) {
			best, bestMass = p, m
		}
	}
	return best, bestMass
}

// splitImpulse grows with radius, sublinearly.
func splitImpulse(radius float64) float64 {
	if radius <= 1 {
		return 0
	}
	return 0.25 * math.Sqrt(radius) * math.Log10(radius)
}

// mergeCooldown is the merge timer, in ms, given to both halves of a split.
func mergeCooldown(mass float64) float64 {
	return 30000 + math.Floor(0.02333*mass)*1000
}

// split halves p along (dx, dy), a unit vector. Parent and child receive
// equal and opposite impulses on top of the parent's velocity.
func (w *World) split(p *Cell, dx, dy float64) (*Cell, error) {
	w.circle.Bind(p.Slot)
	impulse := splitImpulse(w.circle.Radius()) * w.cfg.Rules.SplitSpeed
	return w.splitWith(p, dx, dy, impulse, 1)
}

// splitWith halves p. The child leaves along (dx, dy) at impulse, half an
// impulse ahead of the parent; the parent loses recoil*impulse.
func (w *World) splitWith(p *Cell, dx, dy, impulse, recoil float64) (*Cell, error) {
	if !w.hold(&w.lock, p.Slot) {
		return nil, errSlotHeld
	}
	slot, err := w.arena.Allocate(arena.Player)
	if err != nil {
		w.lock.Unlock()
		recordAllocationFailure(arena.Player)
		return nil, err
	}

	w.player.Bind(p.Slot)
	half := w.player.Mass() / 2
	vx, vy := w.player.Velocity()
	px, py := w.player.X(), w.player.Y()
	owner := w.player.Owner()
	timer := mergeCooldown(half)

	w.player.SetMass(half)
	w.player.SetVelocity(vx-dx*impulse*recoil, vy-dy*impulse*recoil)
	w.player.SetMergeTimer(timer)
	w.lock.Unlock()

	child := &Cell{
		ID:     uuid.New(),
		Kind:   arena.Player,
		Slot:   slot,
		Colour: p.Colour,
		Owner:  p.Owner,
		alive:  true,
	}
	w.player.Bind(slot)
	w.player.SetPosition(w.clampX(px+dx*impulse/2), w.clampY(py+dy*impulse/2))
	w.player.SetMass(half)
	w.player.SetVelocity(vx+dx*impulse, vy+dy*impulse)
	w.player.SetMergeTimer(timer)
	w.player.SetOwner(owner)

	w.players[child.ID] = child
	w.addCollidable(child)
	if p.Owner != nil {
		p.Owner.Players[child.ID] = child
	}
	return child, nil
}

// drift integrates the free movement of ejected mass and viruses.
func (w *World) drift(dt float64) {
	drag := math.Pow(w.cfg.Rules.MassDrag, dt)
	step := func(c *Cell) {
		if !w.hold(&w.lock, c.Slot) {
			return
		}
		defer w.lock.Unlock()
		w.moving.Bind(c.Slot)
		vx, vy := w.moving.Velocity()
		if vx == 0 && vy == 0 {
			return
		}
		vx, vy = vx*drag, vy*drag
		if math.Abs(vx) < 1e-4 && math.Abs(vy) < 1e-4 {
			vx, vy = 0, 0
		}
		x, y := w.moving.X()+vx*dt, w.moving.Y()+vy*dt
		if x < 0 || x > w.cfg.World.Width {
			vx = 0
		}
		if y < 0 || y > w.cfg.World.Height {
			vy = 0
		}
		w.moving.SetVelocity(vx, vy)
		w.moving.SetPosition(w.clampX(x), w.clampY(y))
	}
	for _, c := range w.masses {
		step(c)
	}
	for _, c := range w.viruses {
		step(c)
	}
}

package worker

import (
	"math"

	"cell-arena/internal/game/arena"
)

// EffectKind is what the coordinator must do with a classified pair.
type EffectKind uint8

const (
	// EffectKill removes the subject immediately.
	EffectKill EffectKind = iota + 1
	// EffectEatPlayer nominates the subject as an eater of the other
	// player; resolution is deferred to aggregation.
	EffectEatPlayer
	// EffectEatVirus is EffectEatPlayer for a virus target.
	EffectEatVirus
	// EffectForceSplit asks for the subject to be split below the ceiling.
	EffectForceSplit
)

func (k EffectKind) String() string {
	switch k {
	case EffectKill:
		return "kill"
	case EffectEatPlayer:
		return "eat_player"
	case EffectEatVirus:
		return "eat_virus"
	case EffectForceSplit:
		return "force_split"
	}
	return "unknown"
}

// Subject of an Effect within its pair.
const (
	SubjectLarger  uint8 = 0
	SubjectSmaller uint8 = 1
)

// Effect is one classification outcome for pair Pair. Percent is the share
// of the target's mass covered by the overlap, for eat effects.
type Effect struct {
	Pair    int
	Subject uint8
	Kind    EffectKind
	Percent float64
}

// pair kind = larger<<2 | smaller
const (
	kindPlayerPlayer = int(arena.Player)<<2 | int(arena.Player)
	kindPlayerVirus  = int(arena.Player)<<2 | int(arena.Virus)
	kindPlayerFood   = int(arena.Player)<<2 | int(arena.Food)
	kindPlayerMass   = int(arena.Player)<<2 | int(arena.Mass)
	kindVirusMass    = int(arena.Virus)<<2 | int(arena.Mass)
)

// classify runs with both slots locked and both views bound.
func classify(env *taskEnv, t CollideTask) []Effect {
	l, s := &env.larger, &env.smaller
	if l.Consumed() || s.Consumed() {
		return nil
	}
	switch int(t.Larger.Category)<<2 | int(t.Smaller.Category) {
	case kindPlayerPlayer:
		return playerPlayer(env, t, l, s)
	case kindPlayerVirus:
		return playerVirus(env, t, l, s)
	case kindPlayerFood:
		return playerFood(env, t, l, s)
	case kindPlayerMass:
		return playerMass(env, t, l, s)
	case kindVirusMass:
		return virusMass(env, t, l, s)
	}
	return nil
}

// separationForce is negative; it pushes overlapping siblings apart harder
// as they overlap more and grow larger.
func separationForce(percent, radius float64) float64 {
	return -math.Max(0.025, math.Pow(radius, percent)-1) * 0.1
}

func playerPlayer(env *taskEnv, t CollideTask, l, s *arena.PlayerView) []Effect {
	r := env.Rules
	overlap := arena.OverlapArea(l, s) / s.Mass()

	if l.Owner() != s.Owner() {
		if l.Mass() > s.Mass()*r.MergeRatio && overlap > r.EatThreshold {
			return []Effect{{Pair: t.Pair, Subject: SubjectLarger, Kind: EffectEatPlayer, Percent: overlap}}
		}
		return nil
	}

	canMerge := l.Mass() >= s.Mass()*r.MergeRatio &&
		l.MergeTimer() == 0 && s.MergeTimer() == 0 &&
		l.Mass()+s.Mass() <= r.SplitCeiling
	if canMerge {
		if overlap > r.EatThreshold {
			return []Effect{{Pair: t.Pair, Subject: SubjectLarger, Kind: EffectEatPlayer, Percent: overlap}}
		}
		return nil
	}

	sep := separationForce(clamp(overlap-0.05, 0, 1), l.Radius())
	if math.IsInf(sep, 0) || math.IsNaN(sep) {
		return nil
	}
	angle := arena.Angle(s, l)
	ratio := s.Mass() / l.Mass()
	dt := t.DeltaTime
	cos, sin := math.Cos(angle), math.Sin(angle)

	svx, svy := s.Velocity()
	s.SetVelocity(svx+cos*sep*(1-ratio)*2*dt, svy+sin*sep*(1-ratio)*2*dt)
	lvx, lvy := l.Velocity()
	l.SetVelocity(lvx-cos*sep*ratio*dt, lvy-sin*sep*ratio*dt)
	return nil
}

func playerVirus(env *taskEnv, t CollideTask, l, s *arena.PlayerView) []Effect {
	r := env.Rules
	overlap := arena.OverlapArea(l, s) / s.Mass()
	if l.Mass() > s.Mass()*r.MergeRatio && overlap > r.EatThreshold {
		return []Effect{{Pair: t.Pair, Subject: SubjectLarger, Kind: EffectEatVirus, Percent: overlap}}
	}
	return nil
}

// playerFood and playerMass transfer mass under the pair lock and flag the
// eaten slot consumed so a second eater in the same tick gets nothing.
func playerFood(env *taskEnv, t CollideTask, l, s *arena.PlayerView) []Effect {
	if !arena.Encloses(l, s) {
		return nil
	}
	l.SetMass(l.Mass() + s.Mass())
	s.SetConsumed()
	return eaten(env, t, l)
}

func playerMass(env *taskEnv, t CollideTask, l, s *arena.PlayerView) []Effect {
	if arena.OverlapArea(l, s)/s.Mass() <= env.Rules.EatThreshold {
		return nil
	}
	l.SetMass(l.Mass() + s.Mass())
	s.SetConsumed()
	return eaten(env, t, l)
}

func eaten(env *taskEnv, t CollideTask, l *arena.PlayerView) []Effect {
	effects := []Effect{{Pair: t.Pair, Subject: SubjectSmaller, Kind: EffectKill}}
	if l.Mass() > env.Rules.SplitCeiling {
		effects = append(effects, Effect{Pair: t.Pair, Subject: SubjectLarger, Kind: EffectForceSplit})
	}
	return effects
}

// virusMass is a hook; ejected mass does not interact with viruses yet.
func virusMass(env *taskEnv, t CollideTask, l, s *arena.PlayerView) []Effect {
	return nil
}

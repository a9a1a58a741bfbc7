package worker

import (
	"math"

	"cell-arena/internal/config"
	"cell-arena/internal/game/arena"
)

// Env is the shared, read-only context every task runs against.
type Env struct {
	Arena      *arena.Arena
	Rules      config.RulesConfig
	Width      float64
	Height     float64
	TickMillis float64 // nominal tick length; merge timers count down by dt*TickMillis
}

// taskEnv is one worker's private state: its views and lock handles.
type taskEnv struct {
	Env
	shard, shards int

	larger, smaller arena.PlayerView
	user            arena.UserView
	lockA, lockB    arena.Mutex
}

func newTaskEnv(env Env, shard, shards int) *taskEnv {
	return &taskEnv{
		Env:     env,
		shard:   shard,
		shards:  shards,
		larger:  arena.NewPlayerView(env.Arena),
		smaller: arena.NewPlayerView(env.Arena),
		user:    arena.NewUserView(env.Arena),
	}
}

// Task is a unit of work a worker can run.
type Task interface {
	run(env *taskEnv) Result
}

// Result is a worker's reply. Moved is set by MoveTask, Effects by
// CollideTask.
type Result struct {
	Moved   int
	Effects []Effect
}

// MoveTask integrates every live player once per tick. It is broadcast to
// all workers; each starts at its own shard and then steals the rest of the
// region, skipping slots another worker holds. The parity stamp makes sure a
// player moves at most once per tick.
type MoveTask struct {
	Parity    uint8
	DeltaTime float64
}

func (t MoveTask) run(env *taskEnv) Result {
	a := env.Arena
	n := a.Capacity(arena.Player)
	if n == 0 {
		return Result{}
	}
	start := env.shard * n / env.shards
	moved := 0

	for k := 0; k < n; k++ {
		slot := arena.Slot{Category: arena.Player, Index: uint32((start + k) % n)}
		if !a.IsLive(slot) {
			continue
		}
		env.lockA.Bind(a, slot)
		if !env.lockA.TryLock() {
			continue
		}
		p := &env.larger
		p.Bind(slot)
		if p.Stamp() != t.Parity {
			p.SetStamp(t.Parity)
			env.user.Bind(arena.Slot{Category: arena.User, Index: p.Owner()})
			movePlayer(env, p, &env.user, t.DeltaTime)
			moved++
		}
		env.lockA.Unlock()
	}
	return Result{Moved: moved}
}

func movePlayer(env *taskEnv, p *arena.PlayerView, u *arena.UserView, dt float64) {
	r := env.Rules

	p.SetMass(math.Max(p.Mass()*math.Pow(r.MassDecay, dt), r.MassFloor))
	if timer := p.MergeTimer(); timer > 0 {
		p.SetMergeTimer(math.Max(timer-dt*env.TickMillis, 0))
	}

	drag := math.Pow(r.PlayerDrag, dt)
	vx, vy := p.Velocity()
	vx, vy = vx*drag, vy*drag

	speed := (0.5*math.Pow(0.91, p.Radius()) + 0.13) / 2
	tx, ty := u.Target()
	mx, my := arena.VectorTo(p, tx, ty, 1)

	x := p.X() + (speed*mx+vx)*dt
	y := p.Y() + (speed*my+vy)*dt
	if x < 0 || x > env.Width {
		vx = 0
	}
	if y < 0 || y > env.Height {
		vy = 0
	}
	p.SetVelocity(vx, vy)
	p.SetPosition(clamp(x, 0, env.Width), clamp(y, 0, env.Height))
}

// CollideTask classifies one overlapping pair. Larger has the greater (or
// equal) radius.
type CollideTask struct {
	Pair      int
	Larger    arena.Slot
	Smaller   arena.Slot
	DeltaTime float64
}

func (t CollideTask) run(env *taskEnv) Result {
	a := env.Arena
	env.lockA.Bind(a, t.Larger)
	env.lockB.Bind(a, t.Smaller)
	a.LockPair(&env.lockA, &env.lockB)
	defer env.lockB.Unlock()
	defer env.lockA.Unlock()

	env.larger.Bind(t.Larger)
	env.smaller.Bind(t.Smaller)
	return Result{Effects: classify(env, t)}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

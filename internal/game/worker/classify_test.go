package worker

import (
	"context"
	"math"
	"testing"

	"cell-arena/internal/game/arena"
)

func collide(t *testing.T, p *Pool, tasks ...CollideTask) []Effect {
	t.Helper()
	ts := make([]Task, len(tasks))
	for i, ct := range tasks {
		ct.Pair = i
		if ct.DeltaTime == 0 {
			ct.DeltaTime = 1
		}
		ts[i] = ct
	}
	results, err := p.MassAssign(context.Background(), ts)
	if err != nil {
		t.Fatal(err)
	}
	var effects []Effect
	for _, r := range results {
		effects = append(effects, r.Effects...)
	}
	return effects
}

func TestPlayerEnclosesFood(t *testing.T) {
	env := testEnv(t)
	p := NewPool(2, env, nil)
	defer p.Close()

	player := spawnPlayer(t, env, 0, 100, 100, 900)
	food := spawn(t, env, arena.Food, 105, 100, 1)

	effects := collide(t, p, CollideTask{Larger: player, Smaller: food})
	if len(effects) != 1 || effects[0].Kind != EffectKill || effects[0].Subject != SubjectSmaller {
		t.Fatalf("effects = %+v, want one kill on the food", effects)
	}
	if m := massOf(env, player); m != 901 {
		t.Errorf("player mass = %v, want 901", m)
	}
}

func TestFoodOnlyEatenOnce(t *testing.T) {
	env := testEnv(t)
	p := NewPool(4, env, nil)
	defer p.Close()

	a := spawnPlayer(t, env, 0, 100, 100, 900)
	b := spawnPlayer(t, env, 1, 101, 100, 900)
	food := spawn(t, env, arena.Food, 100.5, 100, 1)

	effects := collide(t, p,
		CollideTask{Larger: a, Smaller: food},
		CollideTask{Larger: b, Smaller: food},
	)
	kills := 0
	for _, e := range effects {
		if e.Kind == EffectKill {
			kills++
		}
	}
	if kills != 1 {
		t.Errorf("food killed %d times, want 1", kills)
	}
	if total := massOf(env, a) + massOf(env, b); total != 1801 {
		t.Errorf("total player mass = %v, want 1801", total)
	}
}

func TestFoodEatOverCeilingForcesSplit(t *testing.T) {
	env := testEnv(t)
	p := NewPool(1, env, nil)
	defer p.Close()

	player := spawnPlayer(t, env, 0, 200, 200, env.Rules.SplitCeiling)
	food := spawn(t, env, arena.Food, 200, 200, 1)

	effects := collide(t, p, CollideTask{Larger: player, Smaller: food})
	if len(effects) != 2 || effects[1].Kind != EffectForceSplit || effects[1].Subject != SubjectLarger {
		t.Fatalf("effects = %+v, want kill + force_split", effects)
	}
}

func TestPlayerPlayerClassification(t *testing.T) {
	tests := []struct {
		name           string
		ownerL, ownerS uint32
		massL, massS   float64
		dist           float64
		timerL         float64
		want           EffectKind // 0 = none
	}{
		{"siblings merge", 0, 0, 120, 100, 0.5, 0, EffectEatPlayer},
		{"siblings on cooldown", 0, 0, 120, 100, 0.5, 1000, 0},
		{"siblings too similar", 0, 0, 105, 100, 0.5, 0, 0},
		{"siblings over ceiling", 0, 0, 6000, 5400, 0.5, 0, 0},
		{"enemy eaten", 0, 1, 400, 100, 1, 0, EffectEatPlayer},
		{"enemy too similar", 0, 1, 105, 100, 1, 0, 0},
		{"enemy barely touching", 0, 1, 400, 100, 16, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testEnv(t)
			p := NewPool(1, env, nil)
			defer p.Close()

			l := spawnPlayer(t, env, tt.ownerL, 300, 300, tt.massL)
			s := spawnPlayer(t, env, tt.ownerS, 300+tt.dist, 300, tt.massS)
			lv := arena.NewPlayerView(env.Arena)
			lv.Bind(l)
			lv.SetMergeTimer(tt.timerL)

			effects := collide(t, p, CollideTask{Larger: l, Smaller: s})
			if tt.want == 0 {
				if len(effects) != 0 {
					t.Fatalf("effects = %+v, want none", effects)
				}
				return
			}
			if len(effects) != 1 || effects[0].Kind != tt.want || effects[0].Subject != SubjectLarger {
				t.Fatalf("effects = %+v, want one %v", effects, tt.want)
			}
			if effects[0].Percent <= env.Rules.EatThreshold || effects[0].Percent > 1+1e-9 {
				t.Errorf("percent = %v", effects[0].Percent)
			}
		})
	}
}

func TestSiblingSeparationPushesApart(t *testing.T) {
	env := testEnv(t)
	p := NewPool(1, env, nil)
	defer p.Close()

	l := spawnPlayer(t, env, 0, 300, 300, 200)
	s := spawnPlayer(t, env, 0, 305, 300, 100)
	lv := arena.NewPlayerView(env.Arena)
	lv.Bind(l)
	lv.SetMergeTimer(5000)

	if effects := collide(t, p, CollideTask{Larger: l, Smaller: s}); len(effects) != 0 {
		t.Fatalf("unexpected effects %+v", effects)
	}

	sv := arena.NewPlayerView(env.Arena)
	sv.Bind(s)
	lvx, lvy := lv.Velocity()
	svx, svy := sv.Velocity()
	if lvx >= 0 || svx <= 0 {
		t.Errorf("larger velX=%v (want <0), smaller velX=%v (want >0)", lvx, svx)
	}
	if math.Abs(lvy) > 1e-6 || math.Abs(svy) > 1e-6 {
		t.Errorf("unexpected vertical push: %v, %v", lvy, svy)
	}
}

func TestPlayerVirusAndMass(t *testing.T) {
	env := testEnv(t)
	p := NewPool(2, env, nil)
	defer p.Close()

	player := spawnPlayer(t, env, 0, 400, 400, 500)
	virus := spawn(t, env, arena.Virus, 400, 400, 100)
	mass := spawn(t, env, arena.Mass, 600, 600, 12)
	bigPlayer := spawnPlayer(t, env, 1, 601, 600, 300)

	effects := collide(t, p,
		CollideTask{Larger: player, Smaller: virus},
		CollideTask{Larger: bigPlayer, Smaller: mass},
		CollideTask{Larger: virus, Smaller: mass},
	)

	var gotVirus, gotKill bool
	for _, e := range effects {
		switch {
		case e.Kind == EffectEatVirus && e.Pair == 0:
			gotVirus = true
		case e.Kind == EffectKill && e.Pair == 1:
			gotKill = true
		case e.Pair == 2:
			t.Errorf("virus-mass produced %v", e.Kind)
		}
	}
	if !gotVirus || !gotKill {
		t.Errorf("effects = %+v", effects)
	}
	if m := massOf(env, bigPlayer); m != 312 {
		t.Errorf("mass eater = %v, want 312", m)
	}
}

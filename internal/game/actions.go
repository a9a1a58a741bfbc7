package game

import (
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cell-arena/internal/game/arena"
)

// NewUserIndex returns the user slot the next Connect would take, or an
// *arena.AllocationError when the server is full.
func (w *World) NewUserIndex() (int, error) {
	s, err := w.arena.NextFree(arena.User)
	if err != nil {
		return 0, err
	}
	return int(s.Index), nil
}

// Connect creates a user with one starting player cell. It fails with an
// *arena.AllocationError, leaving nothing allocated, when either the user
// or the player category is full.
func (w *World) Connect(name string) (*User, error) {
	if _, err := w.NewUserIndex(); err != nil {
		recordAllocationFailure(arena.User)
		return nil, err
	}
	us, err := w.arena.Allocate(arena.User)
	if err != nil {
		recordAllocationFailure(arena.User)
		return nil, err
	}
	ps, err := w.arena.Allocate(arena.Player)
	if err != nil {
		recordAllocationFailure(arena.Player)
		if derr := w.arena.Deallocate(us); derr != nil {
			w.log.Error("rollback user slot", zap.Error(derr))
		}
		return nil, err
	}

	u := &User{
		ID:      uuid.New(),
		Name:    name,
		Slot:    us,
		Players: make(map[uuid.UUID]*Cell, w.cfg.Rules.MaxSiblings),
	}
	u.Colour = colourFor(u.ID)

	x, y := w.randomPosition()
	c := &Cell{
		ID:     uuid.New(),
		Kind:   arena.Player,
		Slot:   ps,
		Colour: u.Colour,
		Owner:  u,
		alive:  true,
	}
	w.player.Bind(ps)
	w.player.SetPosition(x, y)
	w.player.SetMass(w.cfg.Rules.PlayerStartMass)
	w.player.SetOwner(us.Index)

	w.user.Bind(us)
	w.user.SetPosition(x, y)
	w.user.SetTarget(x, y)
	w.user.SetScale(1)

	u.Players[c.ID] = c
	w.players[c.ID] = c
	w.addCollidable(c)
	w.users[u.ID] = u
	w.board.Update(u.ID.String(), u.Name, w.cfg.Rules.PlayerStartMass)

	w.log.Info("user joined",
		zap.String("user", u.ID.String()),
		zap.String("name", name),
		zap.Int("users", len(w.users)),
	)
	return u, nil
}

// Disconnect removes a user and all of its cells. No death event is sent.
// Cells whose slot is still locked stay behind and are removed by a later
// Maintain, the user going with the last of them.
func (w *World) Disconnect(id uuid.UUID) error {
	u, ok := w.users[id]
	if !ok {
		return ErrUnknownUser
	}
	u.leaving = true
	for _, c := range u.Players {
		w.remove(c)
	}
	w.dropUser(u)
	w.log.Info("user left", zap.String("user", id.String()), zap.Int("users", len(w.users)))
	return nil
}

// finishLeaving retries the removal of cells left behind by Disconnect.
func (w *World) finishLeaving() {
	for _, u := range w.users {
		if !u.leaving {
			continue
		}
		for _, c := range u.Players {
			w.remove(c)
		}
		w.dropUser(u)
	}
}

// dropUser frees u once it owns no cells.
func (w *World) dropUser(u *User) {
	if _, ok := w.users[u.ID]; !ok || len(u.Players) > 0 {
		return
	}
	if err := w.arena.Deallocate(u.Slot); err != nil {
		w.log.Error("deallocate user slot", zap.Stringer("slot", u.Slot), zap.Error(err))
	}
	delete(w.users, u.ID)
	w.board.Remove(u.ID.String())
}

// SetTarget points every cell of the user towards (x, y).
func (w *World) SetTarget(id uuid.UUID, x, y float64) error {
	u, ok := w.users[id]
	if !ok {
		return ErrUnknownUser
	}
	w.user.Bind(u.Slot)
	w.user.SetTarget(w.clampX(x), w.clampY(y))
	return nil
}

// Split halves every sibling heavy enough, towards the user's target, while
// the sibling cap allows.
func (w *World) Split(id uuid.UUID) error {
	u, ok := w.users[id]
	if !ok {
		return ErrUnknownUser
	}
	w.user.Bind(u.Slot)
	tx, ty := w.user.Target()

	// Snapshot first: new halves must not split again this call.
	cells := make([]*Cell, 0, len(u.Players))
	for _, c := range u.Players {
		cells = append(cells, c)
	}
	for _, c := range cells {
		if len(u.Players) >= w.cfg.Rules.MaxSiblings {
			break
		}
		w.player.Bind(c.Slot)
		if w.player.Mass() < w.cfg.Rules.MinSplitMass {
			continue
		}
		dx, dy := direction(w.player.X(), w.player.Y(), tx, ty)
		if _, err := w.split(c, dx, dy); err != nil {
			w.log.Warn("split skipped", zap.String("user", id.String()), zap.Error(err))
			break
		}
	}
	return nil
}

// Eject fires a pellet of mass from every sibling that can afford it.
func (w *World) Eject(id uuid.UUID) error {
	u, ok := w.users[id]
	if !ok {
		return ErrUnknownUser
	}
	w.user.Bind(u.Slot)
	tx, ty := w.user.Target()
	r := w.cfg.Rules

	for _, c := range u.Players {
		if !w.hold(&w.lock, c.Slot) {
			continue
		}
		w.player.Bind(c.Slot)
		if w.player.Mass() < r.EjectCost+r.MassFloor {
			w.lock.Unlock()
			continue
		}
		px, py := w.player.X(), w.player.Y()
		radius := w.player.Radius()
		dx, dy := direction(px, py, tx, ty)

		m, err := w.spawn(arena.Mass, px+dx*radius, py+dy*radius, r.EjectedMass, c.Colour)
		if err != nil {
			w.lock.Unlock()
			w.log.Warn("eject skipped", zap.String("user", id.String()), zap.Error(err))
			return nil
		}
		w.moving.Bind(m.Slot)
		w.moving.SetVelocity(dx*radius/2, dy*radius/2)

		w.player.Bind(c.Slot)
		w.player.SetMass(w.player.Mass() - r.EjectCost)
		w.lock.Unlock()
	}
	return nil
}

// direction is the unit vector from (x, y) to (tx, ty), or +X when they
// coincide.
func direction(x, y, tx, ty float64) (float64, float64) {
	dx, dy := tx-x, ty-y
	l := math.Hypot(dx, dy)
	if l == 0 {
		return 1, 0
	}
	return dx / l, dy / l
}

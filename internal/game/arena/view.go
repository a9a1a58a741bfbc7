package arena

import "math"

// Circle is anything with a centre and a radius.
type Circle interface {
	X() float64
	Y() float64
	Radius() float64
}

// RadiusOf converts a mass to its radius. Radius is never stored.
func RadiusOf(mass float64) float64 {
	return math.Sqrt(mass / math.Pi)
}

// EntityView reads and writes the common header of a slot. Views hold no
// entity state of their own; Bind points them at another slot. Setters mark
// the slot dirty.
type EntityView struct {
	a    *Arena
	slot Slot
	b    []byte
}

// NewEntityView returns an unbound view over a.
func NewEntityView(a *Arena) EntityView { return EntityView{a: a} }

// Bind points the view at s.
func (v *EntityView) Bind(s Slot) {
	v.slot = s
	v.b = v.a.payload(s)
}

func (v *EntityView) Slot() Slot     { return v.slot }
func (v *EntityView) X() float64     { return getF64(v.b, offX) }
func (v *EntityView) Y() float64     { return getF64(v.b, offY) }
func (v *EntityView) Dirty() bool    { return v.b[offFlags]&flagDirty != 0 }
func (v *EntityView) MarkDirty()     { v.b[offFlags] |= flagDirty }
func (v *EntityView) ClearDirty()    { v.b[offFlags] &^= flagDirty }
func (v *EntityView) Consumed() bool { return v.b[offFlags]&flagConsumed != 0 }

// SetConsumed flags the entity as already eaten this tick.
func (v *EntityView) SetConsumed() {
	v.b[offFlags] |= flagConsumed | flagDirty
}

func (v *EntityView) SetPosition(x, y float64) {
	putF64(v.b, offX, x)
	putF64(v.b, offY, y)
	v.MarkDirty()
}

// CircleView adds mass and circle geometry.
type CircleView struct {
	EntityView
}

func NewCircleView(a *Arena) CircleView { return CircleView{EntityView{a: a}} }

func (v *CircleView) Mass() float64 { return float64(getF32(v.b, offMass)) }

func (v *CircleView) SetMass(m float64) {
	putF32(v.b, offMass, float32(m))
	v.MarkDirty()
}

func (v *CircleView) Radius() float64 { return RadiusOf(v.Mass()) }

// Distance between the centres of a and b.
func Distance(a, b Circle) float64 {
	return math.Hypot(b.X()-a.X(), b.Y()-a.Y())
}

// Angle of the vector from a to b.
func Angle(a, b Circle) float64 {
	return math.Atan2(b.Y()-a.Y(), b.X()-a.X())
}

// Intersecting reports whether the circles touch or overlap.
func Intersecting(a, b Circle) bool {
	return Distance(a, b) <= a.Radius()+b.Radius()
}

// Encloses reports whether inner lies entirely inside outer.
func Encloses(outer, inner Circle) bool {
	return Distance(outer, inner)+inner.Radius() <= outer.Radius()
}

// OverlapArea returns the lens area shared by a and b.
func OverlapArea(a, b Circle) float64 {
	d := Distance(a, b)
	r1, r2 := a.Radius(), b.Radius()
	if d >= r1+r2 {
		return 0
	}
	if d <= math.Abs(r1-r2) {
		r := math.Min(r1, r2)
		return math.Pi * r * r
	}
	a1 := math.Acos(clampUnit((d*d + r1*r1 - r2*r2) / (2 * d * r1)))
	a2 := math.Acos(clampUnit((d*d + r2*r2 - r1*r1) / (2 * d * r2)))
	k := (-d + r1 + r2) * (d + r1 - r2) * (d - r1 + r2) * (d + r1 + r2)
	return r1*r1*a1 + r2*r2*a2 - 0.5*math.Sqrt(math.Max(k, 0))
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// VectorTo returns the vector from c towards (x, y), scaled down so its
// length is at most max.
func VectorTo(c Circle, x, y, max float64) (float64, float64) {
	dx, dy := x-c.X(), y-c.Y()
	l := math.Hypot(dx, dy)
	if l > max && l > 0 {
		dx, dy = dx/l*max, dy/l*max
	}
	return dx, dy
}

// MovingView adds a velocity (virus, mass, player).
type MovingView struct {
	CircleView
}

func NewMovingView(a *Arena) MovingView { return MovingView{NewCircleView(a)} }

func (v *MovingView) Velocity() (float64, float64) {
	return float64(getF32(v.b, offVelX)), float64(getF32(v.b, offVelY))
}

func (v *MovingView) SetVelocity(x, y float64) {
	putF32(v.b, offVelX, float32(x))
	putF32(v.b, offVelY, float32(y))
	v.MarkDirty()
}

// PlayerView adds the merge timer, owner and movement stamp.
type PlayerView struct {
	MovingView
}

func NewPlayerView(a *Arena) PlayerView { return PlayerView{NewMovingView(a)} }

// MergeTimer is the remaining merge cooldown in milliseconds.
func (v *PlayerView) MergeTimer() float64 { return float64(getF32(v.b, offMergeTimer)) }

func (v *PlayerView) SetMergeTimer(ms float64) {
	putF32(v.b, offMergeTimer, float32(ms))
	v.MarkDirty()
}

// Owner is the user slot index that controls this player.
func (v *PlayerView) Owner() uint32 { return uint32(le.Uint16(v.b[offOwner:])) }

func (v *PlayerView) SetOwner(idx uint32) {
	le.PutUint16(v.b[offOwner:], uint16(idx))
	v.MarkDirty()
}

// Stamp is the parity of the last tick that moved this player.
func (v *PlayerView) Stamp() uint8 { return v.b[offStamp] }

// SetStamp does not mark the slot dirty.
func (v *PlayerView) SetStamp(p uint8) { v.b[offStamp] = p }

// UserView exposes the camera and target of a connected user.
type UserView struct {
	EntityView
}

func NewUserView(a *Arena) UserView { return UserView{EntityView{a: a}} }

func (v *UserView) Scale() float64 { return float64(getF32(v.b, offMass)) }

func (v *UserView) SetScale(s float64) {
	putF32(v.b, offMass, float32(s))
	v.MarkDirty()
}

// Target is the world position the user steers towards.
func (v *UserView) Target() (float64, float64) {
	return float64(getF32(v.b, offVelX)), float64(getF32(v.b, offVelY))
}

func (v *UserView) SetTarget(x, y float64) {
	putF32(v.b, offVelX, float32(x))
	putF32(v.b, offVelY, float32(y))
	v.MarkDirty()
}

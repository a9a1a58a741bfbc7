// Package arena holds every simulated entity in fixed-capacity byte regions.
//
// Each category (player, virus, food, mass, user) owns one contiguous region
// split into equally sized slots. Slots are handed out from a free-list stack
// in O(1) and returned the same way. Slot payloads are read and written
// through views (see view.go) and guarded by one lock word per slot
// (see mutex.go).
//
// The free lists are not safe for concurrent use. Only the coordinator
// allocates or deallocates; workers only touch slot payloads under the slot
// lock.
package arena

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Category identifies an entity kind and its arena region.
type Category uint8

const (
	Player Category = iota
	Virus
	Food
	Mass
	User

	NumCategories
)

var categoryNames = [NumCategories]string{"player", "virus", "food", "mass", "user"}

func (c Category) String() string {
	if c < NumCategories {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// ParseCategory maps a lowercase category name to its Category.
func ParseCategory(name string) (Category, error) {
	for i, n := range categoryNames {
		if n == name {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", name)
}

// Slot addresses one fixed-size record.
type Slot struct {
	Category Category
	Index    uint32
}

func (s Slot) String() string {
	return fmt.Sprintf("%s#%d", s.Category, s.Index)
}

// ErrExhausted is matched by AllocationError when a category has no free slot.
var ErrExhausted = errors.New("arena exhausted")

// AllocationError reports a failed allocate or deallocate.
type AllocationError struct {
	Op       string
	Category Category
	Index    int // -1 when not slot specific
	Err      error
}

func (e *AllocationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("arena %s %s#%d: %v", e.Op, e.Category, e.Index, e.Err)
	}
	return fmt.Sprintf("arena %s %s: %v", e.Op, e.Category, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

var (
	errOutOfRange = errors.New("slot out of range")
	errDoubleFree = errors.New("slot not allocated")
)

// Partition sizes one category region.
type Partition struct {
	Count int
	Size  int
}

// Layout sizes every category region, indexed by Category.
type Layout [NumCategories]Partition

type region struct {
	data  []byte
	size  int
	count int
	base  int // first global index of this region
	free  []uint32
	live  []bool
	nLive int
}

// Arena owns the slot regions, their free lists and the lock words.
type Arena struct {
	regions [NumCategories]region
	locks   []atomic.Int32
}

// New builds an arena for layout. A slot size below the category's minimum
// record size is rejected.
func New(layout Layout) (*Arena, error) {
	a := &Arena{}
	total := 0
	for c := Category(0); c < NumCategories; c++ {
		p := layout[c]
		if p.Count < 0 {
			return nil, fmt.Errorf("arena %s: negative count %d", c, p.Count)
		}
		if p.Size < MinSlotSize(c) {
			return nil, fmt.Errorf("arena %s: slot size %d below minimum %d", c, p.Size, MinSlotSize(c))
		}
		r := &a.regions[c]
		r.data = make([]byte, p.Count*p.Size)
		r.size = p.Size
		r.count = p.Count
		r.base = total
		r.live = make([]bool, p.Count)
		r.free = make([]uint32, p.Count)
		// Stack top is the lowest index so live slots stay packed at the front.
		for i := range r.free {
			r.free[i] = uint32(p.Count - 1 - i)
		}
		total += p.Count
	}
	a.locks = make([]atomic.Int32, total)
	return a, nil
}

// Allocate pops a free slot of category c. Its payload is zeroed, except the
// movement stamp, which starts at StampNever.
func (a *Arena) Allocate(c Category) (Slot, error) {
	r := &a.regions[c]
	n := len(r.free)
	if n == 0 {
		return Slot{}, &AllocationError{Op: "allocate", Category: c, Index: -1, Err: ErrExhausted}
	}
	idx := r.free[n-1]
	r.free = r.free[:n-1]
	r.live[idx] = true
	r.nLive++
	s := Slot{Category: c, Index: idx}
	a.payload(s)[offStamp] = StampNever
	return s, nil
}

// NextFree reports the slot Allocate would return without taking it.
func (a *Arena) NextFree(c Category) (Slot, error) {
	r := &a.regions[c]
	if len(r.free) == 0 {
		return Slot{}, &AllocationError{Op: "peek", Category: c, Index: -1, Err: ErrExhausted}
	}
	return Slot{Category: c, Index: r.free[len(r.free)-1]}, nil
}

// Deallocate zeroes the slot and pushes it back onto its free list.
func (a *Arena) Deallocate(s Slot) error {
	if !a.valid(s) {
		return &AllocationError{Op: "deallocate", Category: s.Category, Index: int(s.Index), Err: errOutOfRange}
	}
	r := &a.regions[s.Category]
	if !r.live[s.Index] {
		return &AllocationError{Op: "deallocate", Category: s.Category, Index: int(s.Index), Err: errDoubleFree}
	}
	clear(a.payload(s))
	r.live[s.Index] = false
	r.nLive--
	r.free = append(r.free, s.Index)
	return nil
}

// IsLive reports whether s is currently allocated.
func (a *Arena) IsLive(s Slot) bool {
	return a.valid(s) && a.regions[s.Category].live[s.Index]
}

// Live returns the number of allocated slots in c.
func (a *Arena) Live(c Category) int { return a.regions[c].nLive }

// Capacity returns the slot count of c.
func (a *Arena) Capacity(c Category) int { return a.regions[c].count }

// Global returns the arena-wide index of s, used for lock ordering.
func (a *Arena) Global(s Slot) int {
	return a.regions[s.Category].base + int(s.Index)
}

func (a *Arena) valid(s Slot) bool {
	return s.Category < NumCategories && int(s.Index) < a.regions[s.Category].count
}

func (a *Arena) payload(s Slot) []byte {
	r := &a.regions[s.Category]
	off := int(s.Index) * r.size
	return r.data[off : off+r.size : off+r.size]
}

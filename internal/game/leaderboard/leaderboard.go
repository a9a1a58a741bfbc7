package leaderboard

// Standing is one row of the published leaderboard.
type Standing struct {
	ID   string  `msgpack:"id" json:"id"`
	Name string  `msgpack:"name" json:"name"`
	Mass float64 `msgpack:"mass" json:"mass"`
	Rank int     `msgpack:"rank" json:"rank"`
}

// Board tracks users by total mass. Only the tick goroutine writes it;
// readers get copies through Top.
type Board struct {
	list  *SkipList
	names map[string]string
}

// New returns an empty board.
func New(seed int64) *Board {
	return &Board{
		list:  NewSkipList(seed),
		names: make(map[string]string),
	}
}

// Update records the current total mass of a user.
func (b *Board) Update(id, name string, mass float64) {
	b.names[id] = name
	b.list.Set(id, mass)
}

// Remove drops a user.
func (b *Board) Remove(id string) {
	delete(b.names, id)
	b.list.Remove(id)
}

// Top returns the n heaviest users.
func (b *Board) Top(n int) []Standing {
	entries := b.list.Range(1, n)
	out := make([]Standing, len(entries))
	for i, e := range entries {
		out[i] = Standing{ID: e.Key, Name: b.names[e.Key], Mass: e.Score, Rank: i + 1}
	}
	return out
}

// Rank returns the 1-based rank of id, or 0.
func (b *Board) Rank(id string) int { return b.list.Rank(id) }

// Len returns the number of ranked users.
func (b *Board) Len() int { return b.list.Len() }

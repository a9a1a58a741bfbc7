// Package leaderboard ranks users by total mass.
//
// The ranking is a skip list with span counts per forward pointer, which
// gives O(log n) insert, remove and rank queries (the Redis ZSET layout,
// Pugh 1990). Entries are ordered by descending score, ties by ascending key.
package leaderboard

import "math/rand"

const (
	maxLevel         = 32
	levelProbability = 0.25
)

// Entry is one ranked key.
type Entry struct {
	Key   string
	Score float64
}

type skipNode struct {
	entry Entry
	next  []*skipNode
	span  []int // elements skipped by next[i], counting the target
}

// SkipList is not safe for concurrent use.
type SkipList struct {
	head   *skipNode
	level  int
	length int
	scores map[string]float64
	rng    *rand.Rand

	update []*skipNode
	rank   []int
}

// NewSkipList creates an empty list.
func NewSkipList(seed int64) *SkipList {
	return &SkipList{
		head: &skipNode{
			next: make([]*skipNode, maxLevel),
			span: make([]int, maxLevel),
		},
		level:  1,
		scores: make(map[string]float64),
		rng:    rand.New(rand.NewSource(seed)),
		update: make([]*skipNode, maxLevel),
		rank:   make([]int, maxLevel),
	}
}

// before reports whether a ranks ahead of (score, key).
func before(a Entry, score float64, key string) bool {
	return a.Score > score || (a.Score == score && a.Key < key)
}

func (sl *SkipList) randomLevel() int {
	level := 1
	for level < maxLevel && sl.rng.Float64() < levelProbability {
		level++
	}
	return level
}

// Set inserts key or moves it to its new score.
func (sl *SkipList) Set(key string, score float64) {
	if old, ok := sl.scores[key]; ok {
		if old == score {
			return
		}
		sl.remove(key, old)
	}
	sl.insert(key, score)
	sl.scores[key] = score
}

func (sl *SkipList) insert(key string, score float64) {
	update, rank := sl.update, sl.rank
	x := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		if i == sl.level-1 {
			rank[i] = 0
		} else {
			rank[i] = rank[i+1]
		}
		for x.next[i] != nil && before(x.next[i].entry, score, key) {
			rank[i] += x.span[i]
			x = x.next[i]
		}
		update[i] = x
	}

	level := sl.randomLevel()
	if level > sl.level {
		for i := sl.level; i < level; i++ {
			rank[i] = 0
			update[i] = sl.head
			update[i].span[i] = sl.length
		}
		sl.level = level
	}

	node := &skipNode{
		entry: Entry{Key: key, Score: score},
		next:  make([]*skipNode, level),
		span:  make([]int, level),
	}
	for i := 0; i < level; i++ {
		node.next[i] = update[i].next[i]
		update[i].next[i] = node
		node.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = rank[0] - rank[i] + 1
	}
	for i := level; i < sl.level; i++ {
		update[i].span[i]++
	}
	sl.length++
}

// Remove deletes key and reports whether it was present.
func (sl *SkipList) Remove(key string) bool {
	score, ok := sl.scores[key]
	if !ok {
		return false
	}
	sl.remove(key, score)
	delete(sl.scores, key)
	return true
}

func (sl *SkipList) remove(key string, score float64) {
	update := sl.update
	x := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for x.next[i] != nil && before(x.next[i].entry, score, key) {
			x = x.next[i]
		}
		update[i] = x
	}
	node := x.next[0]
	if node == nil || node.entry.Key != key {
		return
	}
	for i := 0; i < sl.level; i++ {
		if update[i].next[i] == node {
			update[i].span[i] += node.span[i] - 1
			update[i].next[i] = node.next[i]
		} else {
			update[i].span[i]--
		}
	}
	for sl.level > 1 && sl.head.next[sl.level-1] == nil {
		sl.level--
	}
	sl.length--
}

// Rank returns the 1-based rank of key, or 0 if absent.
func (sl *SkipList) Rank(key string) int {
	score, ok := sl.scores[key]
	if !ok {
		return 0
	}
	rank := 0
	x := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for x.next[i] != nil && before(x.next[i].entry, score, key) {
			rank += x.span[i]
			x = x.next[i]
		}
	}
	return rank + 1
}

// Score returns the score of key.
func (sl *SkipList) Score(key string) (float64, bool) {
	s, ok := sl.scores[key]
	return s, ok
}

// Range returns entries ranked start..end (1-based, inclusive).
func (sl *SkipList) Range(start, end int) []Entry {
	if start < 1 {
		start = 1
	}
	if end > sl.length {
		end = sl.length
	}
	if start > end {
		return nil
	}

	traversed := 0
	x := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for x.next[i] != nil && traversed+x.span[i] < start {
			traversed += x.span[i]
			x = x.next[i]
		}
	}

	out := make([]Entry, 0, end-start+1)
	for x = x.next[0]; x != nil && traversed < end; x = x.next[0] {
		traversed++
		out = append(out, x.entry)
	}
	return out
}

// Len returns the number of entries.
func (sl *SkipList) Len() int { return sl.length }

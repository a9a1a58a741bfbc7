package leaderboard

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
)

func TestSkipListOrdering(t *testing.T) {
	sl := NewSkipList(1)
	sl.Set("alice", 100)
	sl.Set("bob", 300)
	sl.Set("carol", 200)
	sl.Set("dave", 200)

	got := sl.Range(1, 10)
	want := []string{"bob", "carol", "dave", "alice"}
	if len(got) != len(want) {
		t.Fatalf("Range returned %d entries, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.Key != want[i] {
			t.Errorf("rank %d = %s, want %s", i+1, e.Key, want[i])
		}
		if r := sl.Rank(e.Key); r != i+1 {
			t.Errorf("Rank(%s) = %d, want %d", e.Key, r, i+1)
		}
	}
}

func TestSkipListUpdateAndRemove(t *testing.T) {
	sl := NewSkipList(2)
	sl.Set("a", 10)
	sl.Set("b", 20)
	sl.Set("a", 30)

	if r := sl.Rank("a"); r != 1 {
		t.Errorf("after raise, Rank(a) = %d", r)
	}
	if sl.Len() != 2 {
		t.Errorf("Len = %d, want 2", sl.Len())
	}
	if !sl.Remove("a") || sl.Remove("a") {
		t.Error("Remove should succeed exactly once")
	}
	if r := sl.Rank("b"); r != 1 {
		t.Errorf("Rank(b) = %d after removing a", r)
	}
	if _, ok := sl.Score("a"); ok {
		t.Error("removed key still has a score")
	}
}

func TestSkipListMatchesSort(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	sl := NewSkipList(3)
	scores := make(map[string]float64)

	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("u%03d", rng.Intn(300))
		if rng.Intn(5) == 0 {
			sl.Remove(key)
			delete(scores, key)
			continue
		}
		s := float64(rng.Intn(1000))
		sl.Set(key, s)
		scores[key] = s
	}

	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if scores[keys[i]] != scores[keys[j]] {
			return scores[keys[i]] > scores[keys[j]]
		}
		return keys[i] < keys[j]
	})

	got := sl.Range(1, len(keys))
	if len(got) != len(keys) {
		t.Fatalf("Range len %d, want %d", len(got), len(keys))
	}
	for i, k := range keys {
		if got[i].Key != k {
			t.Fatalf("position %d: %s, want %s", i, got[i].Key, k)
		}
		if r := sl.Rank(k); r != i+1 {
			t.Fatalf("Rank(%s) = %d, want %d", k, r, i+1)
		}
	}

	mid := sl.Range(10, 19)
	for i, e := range mid {
		if e.Key != keys[9+i] {
			t.Fatalf("Range(10,19)[%d] = %s, want %s", i, e.Key, keys[9+i])
		}
	}
}

func TestBoardTop(t *testing.T) {
	b := New(1)
	b.Update("1", "heavy", 500)
	b.Update("2", "light", 50)
	b.Update("3", "mid", 200)
	b.Remove("2")

	top := b.Top(10)
	if len(top) != 2 {
		t.Fatalf("Top returned %d rows", len(top))
	}
	if top[0].Name != "heavy" || top[0].Rank != 1 || top[1].Name != "mid" {
		t.Errorf("Top = %+v", top)
	}
}

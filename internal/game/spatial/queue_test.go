package spatial

import (
	"runtime"
	"sync"
	"testing"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int](4)
	for i := 0; i < 4; i++ {
		if !q.TryPush(i) {
			t.Fatalf("push %d failed", i)
		}
	}
	if q.TryPush(99) {
		t.Fatal("push into full queue succeeded")
	}
	for want := 0; want < 4; want++ {
		got, ok := q.TryPop()
		if !ok || got != want {
			t.Fatalf("pop = %d, %v; want %d", got, ok, want)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Fatal("pop from empty queue succeeded")
	}
}

func TestQueueCapacityRoundsUp(t *testing.T) {
	if c := NewQueue[int](100).Cap(); c != 128 {
		t.Errorf("Cap = %d, want 128", c)
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 5000
	q := NewQueue[int](1024)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.TryPush(p*perProducer + i) {
					runtime.Gosched()
				}
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	seen := make([]bool, producers*perProducer)
	lastPerProducer := make([]int, producers)
	for i := range lastPerProducer {
		lastPerProducer[i] = -1
	}
	buf := make([]int, 64)
	count := 0
	for count < producers*perProducer {
		n := q.DrainTo(buf)
		for _, v := range buf[:n] {
			if seen[v] {
				t.Fatalf("value %d delivered twice", v)
			}
			seen[v] = true
			p := v / perProducer
			if v <= lastPerProducer[p] {
				t.Fatalf("producer %d out of order: %d after %d", p, v, lastPerProducer[p])
			}
			lastPerProducer[p] = v
		}
		count += n
	}
	<-done
}

func BenchmarkQueuePushPop(b *testing.B) {
	q := NewQueue[int](1024)
	for i := 0; i < b.N; i++ {
		q.TryPush(i)
		q.TryPop()
	}
}

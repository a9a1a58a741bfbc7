package api

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMinimapCacheReusesFreshImage(t *testing.T) {
	c := NewMinimapCache(time.Second)
	now := time.Unix(100, 0)
	c.now = func() time.Time { return now }

	var renders int
	render := func(buf *bytes.Buffer) error {
		renders++
		buf.WriteString("png")
		return nil
	}

	for i := 0; i < 3; i++ {
		if _, err := c.Get(render); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if renders != 1 {
		t.Errorf("rendered %d times, want 1", renders)
	}

	now = now.Add(2 * time.Second)
	if _, err := c.Get(render); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if renders != 2 {
		t.Errorf("expired image should re-render, renders = %d", renders)
	}
}

func TestMinimapCacheRenderError(t *testing.T) {
	c := NewMinimapCache(time.Second)
	boom := errors.New("boom")
	if _, err := c.Get(func(*bytes.Buffer) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	data, err := c.Get(func(buf *bytes.Buffer) error { buf.WriteString("ok"); return nil })
	if err != nil || string(data) != "ok" {
		t.Errorf("failed render must not be cached: %q %v", data, err)
	}
}

func TestMinimapCacheSingleRender(t *testing.T) {
	c := NewMinimapCache(time.Minute)
	var renders atomic.Int32
	render := func(buf *bytes.Buffer) error {
		renders.Add(1)
		time.Sleep(10 * time.Millisecond)
		buf.WriteString("png")
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(render); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := renders.Load(); n != 1 {
		t.Errorf("concurrent callers rendered %d times, want 1", n)
	}
}

package buffer

import (
	"errors"
	"sync"
	"testing"
)

func TestNewRejectsInvalidLimit(t *testing.T) {
	for _, limit := range []int{0, -1} {
		if _, err := New[int](limit); !errors.Is(err, ErrInvalidLimit) {
			t.Errorf("limit %d: expected ErrInvalidLimit, got %v", limit, err)
		}
	}
}

func TestCounterOverflowsEveryLimit(t *testing.T) {
	c, err := NewCounter(3)
	if err != nil {
		t.Fatalf("NewCounter failed: %v", err)
	}

	var fired []int
	for i := 1; i <= 9; i++ {
		if c.Inc() {
			fired = append(fired, i)
		}
		if c.Count() < 0 || c.Count() >= c.Limit() {
			t.Fatalf("count %d out of range after %d increments", c.Count(), i)
		}
	}

	want := []int{3, 6, 9}
	if len(fired) != len(want) {
		t.Fatalf("expected overflow at %v, got %v", want, fired)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("expected overflow at %v, got %v", want, fired)
		}
	}
}

func TestWindowProperties(t *testing.T) {
	for _, limit := range []int{1, 2, 3, 5, 8} {
		for total := 0; total <= 4*limit+1; total++ {
			b, err := New[int](limit)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			overflows := 0
			b.Subscribe(func(ev Event[int]) {
				if ev.Kind == Overflow {
					overflows++
				}
			})

			for i := 0; i < total; i++ {
				b.Add(i)
				if b.Size() > limit {
					t.Fatalf("limit %d: size %d exceeds limit after %d adds", limit, b.Size(), i+1)
				}
			}

			if overflows != total/limit {
				t.Errorf("limit %d total %d: expected %d overflows, got %d", limit, total, total/limit, overflows)
			}
			if b.Overflowed() != (total >= limit) {
				t.Errorf("limit %d total %d: unexpected overflow state %v", limit, total, b.Overflowed())
			}

			n := total
			if n > limit {
				n = limit
			}
			window := b.Window()
			if len(window) != n {
				t.Fatalf("limit %d total %d: expected window of %d, got %d", limit, total, n, len(window))
			}
			for i, v := range window {
				if want := total - n + i; v != want {
					t.Errorf("limit %d total %d: window[%d] = %d, want %d", limit, total, i, v, want)
				}
			}
		}
	}
}

func TestOverflowBoundary(t *testing.T) {
	b, _ := New[int](3)

	var batches [][]int
	b.Subscribe(func(ev Event[int]) {
		if ev.Kind == Overflow {
			batches = append(batches, ev.Batch)
		}
	})

	b.Add(1)
	b.Add(2)
	if len(batches) != 0 {
		t.Fatalf("overflow fired before limit: %v", batches)
	}

	b.Add(3)
	if len(batches) != 1 {
		t.Fatalf("expected overflow on the limit-th add, got %d", len(batches))
	}
	if got := batches[0]; len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("unexpected first batch %v", got)
	}

	b.Add(4)
	b.Add(5)
	b.Add(6)
	if len(batches) != 2 {
		t.Fatalf("expected second overflow after %d more adds, got %d", 3, len(batches))
	}
	if got := batches[1]; len(got) != 3 || got[0] != 4 || got[2] != 6 {
		t.Errorf("second batch should carry only new items, got %v", got)
	}
}

func TestEventOrderInSlidingMode(t *testing.T) {
	b, _ := New[string](2)

	var log []string
	b.Subscribe(func(ev Event[string]) {
		log = append(log, ev.Kind.String()+":"+ev.Item)
	})

	b.Add("a")
	b.Add("b")
	b.Add("c")

	want := []string{"added:a", "added:b", "overflow:", "removed:a", "added:c"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], log[i])
		}
	}
}

func TestPending(t *testing.T) {
	b, _ := New[int](4)

	for i := 1; i <= 3; i++ {
		b.Add(i)
	}
	if got := b.Pending(); len(got) != 3 {
		t.Fatalf("before overflow pending should be the whole log, got %v", got)
	}

	b.Add(4)
	if got := b.Pending(); len(got) != 0 {
		t.Errorf("pending should be empty right after overflow, got %v", got)
	}

	b.Add(5)
	b.Add(6)
	got := b.Pending()
	if len(got) != 2 || got[0] != 5 || got[1] != 6 {
		t.Errorf("expected pending [5 6], got %v", got)
	}
	if len(b.Window()) != 4 {
		t.Errorf("window should stay full, got %v", b.Window())
	}
}

func TestClear(t *testing.T) {
	b, _ := New[int](2)
	b.Add(1)
	b.Add(2)
	b.Add(3)

	b.Clear()

	if b.Size() != 0 || b.Overflowed() || len(b.Window()) != 0 {
		t.Fatalf("buffer not reset: size=%d overflowed=%v", b.Size(), b.Overflowed())
	}

	overflows := 0
	b.Subscribe(func(ev Event[int]) {
		if ev.Kind == Overflow {
			overflows++
		}
	})
	b.Add(10)
	if overflows != 0 || b.Overflowed() {
		t.Error("counter was not reset by Clear")
	}
	b.Add(11)
	if overflows != 1 {
		t.Errorf("expected overflow after limit adds post-Clear, got %d", overflows)
	}
}

func TestUnsubscribe(t *testing.T) {
	b, _ := New[int](10)

	calls := 0
	cancel := b.Subscribe(func(Event[int]) { calls++ })
	b.Add(1)
	cancel()
	b.Add(2)

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestConcurrentReaders(t *testing.T) {
	b, _ := New[int](16)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Add(i)
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				w := b.Window()
				for j := 1; j < len(w); j++ {
					if w[j] != w[j-1]+1 {
						t.Errorf("window not contiguous: %v", w)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
}

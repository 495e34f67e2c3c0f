package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestSetConcurrentInc(t *testing.T) {
	s := NewSet(4)

	const goroutines, perG = 16, 2000
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				s.Inc(2)
			}
		}()
	}
	wg.Wait()

	if got := s.Value(2); got != goroutines*perG {
		t.Fatalf("expected %d, got %d", goroutines*perG, got)
	}
	if got := s.Value(1); got != 0 {
		t.Fatalf("neighbour counter moved: %d", got)
	}
}

func TestSetOutOfRangeAndNil(t *testing.T) {
	s := NewSet(1)
	s.Inc(5)
	s.Inc(-1)
	if s.Value(5) != 0 {
		t.Fatal("out of range read must be zero")
	}

	var nilSet *Set
	nilSet.Inc(0)
	nilSet.Observe(0, time.Second)
	if nilSet.Value(0) != 0 {
		t.Fatal("nil set must read zero")
	}
}

func TestBucketIndex(t *testing.T) {
	cases := map[time.Duration]int{
		time.Millisecond:       0,
		5 * time.Millisecond:   0,
		7 * time.Millisecond:   1,
		30 * time.Millisecond:  3,
		499 * time.Millisecond: 6,
		2 * time.Second:        7,
	}
	for d, want := range cases {
		if got := BucketIndex(d); got != want {
			t.Fatalf("BucketIndex(%v) = %d, want %d", d, got, want)
		}
	}
}

func TestObserveSum(t *testing.T) {
	s := NewSet(1)
	s.Observe(0, 3*time.Millisecond)
	s.Observe(0, 40*time.Millisecond)

	buckets, sum := s.Buckets(0)
	if buckets[0] != 1 || buckets[3] != 1 {
		t.Fatalf("unexpected buckets %v", buckets)
	}
	if sum != 43*time.Millisecond {
		t.Fatalf("unexpected sum %v", sum)
	}
}

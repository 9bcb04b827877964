package loop

import (
	"context"
	"sync"
	"testing"
)

func TestRunsInPostOrder(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var got []int
	for i := 0; i < 50; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Do(func() {})
	if len(got) != 50 {
		t.Fatalf("ran %d of 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: %v", i, got)
		}
	}
}

func TestPostFromInsideLoopDoesNotDeadlock(t *testing.T) {
	l := New(nil)
	go l.Run(context.Background())
	defer l.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	l.Post(func() {
		l.Post(func() { wg.Done() })
	})
	wg.Wait()
}

func TestPanicIsContained(t *testing.T) {
	l := New(nil)
	go l.Run(context.Background())
	defer l.Stop()

	l.Post(func() { panic("boom") })
	ran := false
	if !l.Do(func() { ran = true }) || !ran {
		t.Fatalf("loop died after panic")
	}
}

func TestPostAfterStopIsDropped(t *testing.T) {
	l := New(nil)
	l.Stop()
	if l.Post(func() {}) {
		t.Fatalf("post after stop accepted")
	}
	if l.Do(func() {}) {
		t.Fatalf("do after stop reported success")
	}
}

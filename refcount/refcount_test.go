package refcount

import (
	"sync"
	"testing"

	"go.uber.org/atomic"
	"go.viam.com/test"
)

func TestDestructorRunsOnce(t *testing.T) {
	var destroyed atomic.Int32
	c := New(func() { destroyed.Inc() })

	const n = 10
	for i := 0; i < n; i++ {
		test.That(t, c.Ref(), test.ShouldBeNil)
	}
	test.That(t, c.Count(), test.ShouldEqual, int64(n+1))

	for i := 0; i < n; i++ {
		gone, err := c.Release()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, gone, test.ShouldBeFalse)
	}
	test.That(t, destroyed.Load(), test.ShouldEqual, int32(0))

	gone, err := c.Release()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gone, test.ShouldBeTrue)
	test.That(t, destroyed.Load(), test.ShouldEqual, int32(1))

	gone, err = c.Release()
	test.That(t, err, test.ShouldBeError, ErrReleased)
	test.That(t, gone, test.ShouldBeFalse)
	test.That(t, c.Ref(), test.ShouldBeError, ErrReleased)
	test.That(t, c.Count(), test.ShouldEqual, int64(0))
	test.That(t, c.Alive(), test.ShouldBeFalse)
	test.That(t, destroyed.Load(), test.ShouldEqual, int32(1))
}

func TestConcurrentRelease(t *testing.T) {
	var destroyed atomic.Int32
	c := New(func() { destroyed.Inc() })
	const n = 64
	for i := 0; i < n-1; i++ {
		test.That(t, c.Ref(), test.ShouldBeNil)
	}

	var wg sync.WaitGroup
	// twice as many releases as owners; the extras must all fail
	var failures atomic.Int32
	for i := 0; i < 2*n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Release(); err != nil {
				failures.Inc()
			}
		}()
	}
	wg.Wait()
	test.That(t, destroyed.Load(), test.ShouldEqual, int32(1))
	test.That(t, failures.Load(), test.ShouldEqual, int32(n))
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	a := tr.Track("image", nil)
	b := tr.Track("image", nil)
	c := tr.Track("capture", nil)
	test.That(t, tr.Live("image"), test.ShouldEqual, int64(2))
	test.That(t, tr.Kinds(), test.ShouldResemble, []string{"capture", "image"})

	_, err := a.Release()
	test.That(t, err, test.ShouldBeNil)
	_, err = c.Release()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tr.Snapshot(), test.ShouldResemble, map[string]int64{"image": 1})

	_, err = b.Release()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tr.Snapshot(), test.ShouldBeEmpty)
}

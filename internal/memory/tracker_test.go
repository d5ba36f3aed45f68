package memory_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	dgmemory "github.com/paveg/damagegrade/internal/memory"
	"github.com/paveg/damagegrade/internal/series"
	"github.com/stretchr/testify/assert"
)

type counter struct{ released int }

func (c *counter) Release() { c.released++ }

func TestTracker(t *testing.T) {
	t.Run("track and release", func(t *testing.T) {
		tr := dgmemory.NewTracker(nil)
		a, b := &counter{}, &counter{}
		tr.Track("a", a)
		tr.Track("b", b)
		assert.Equal(t, 2, tr.TrackedCount())

		tr.Release("a")
		assert.Equal(t, 1, a.released)
		assert.Equal(t, 1, tr.TrackedCount())

		tr.Release("missing")
		tr.ReleaseAll()
		assert.Equal(t, 1, b.released)
		assert.Equal(t, 0, tr.TrackedCount())
	})

	t.Run("replacing an id releases the old resource", func(t *testing.T) {
		tr := dgmemory.NewTracker(nil)
		old, next := &counter{}, &counter{}
		tr.Track("x", old)
		tr.Track("x", next)
		assert.Equal(t, 1, old.released)
		assert.Equal(t, 0, next.released)

		tr.Track("x", next)
		assert.Equal(t, 0, next.released)
	})

	t.Run("live bytes follow arrow allocations", func(t *testing.T) {
		tr := dgmemory.NewTracker(memory.NewGoAllocator())
		assert.Equal(t, int64(0), tr.LiveBytes())

		s := series.New("age", []int64{10, 20, 30}, tr.Allocator())
		tr.Track("age", s)
		assert.Positive(t, tr.LiveBytes())

		tr.ReleaseAll()
		assert.Equal(t, int64(0), tr.LiveBytes())
	})
}

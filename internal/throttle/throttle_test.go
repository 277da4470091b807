package throttle

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varalys/fimwatch/internal/config"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newGate(t *testing.T, window time.Duration, max int) *Gate {
	t.Helper()
	g, err := New(window, max)
	require.NoError(t, err)
	return g
}

func TestAdmit_ThreeOfFiveThenReset(t *testing.T) {
	g := newGate(t, 60*time.Second, 3)

	var got []bool
	for i := 0; i < 5; i++ {
		ok, err := g.Admit("/etc/passwd", t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		got = append(got, ok)
	}
	assert.Equal(t, []bool{true, true, true, false, false}, got)

	ok, err := g.Admit("/etc/passwd", t0.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, ok, "window should have reset")
}

func TestAdmit_BoundaryEqualityResets(t *testing.T) {
	g := newGate(t, 60*time.Second, 1)

	ok, _ := g.Admit("a", t0)
	assert.True(t, ok)
	ok, _ = g.Admit("a", t0.Add(59*time.Second))
	assert.False(t, ok)
	ok, _ = g.Admit("a", t0.Add(60*time.Second))
	assert.True(t, ok, "now - windowStart == window counts as expired")
}

func TestAdmit_BurstAcrossBoundary(t *testing.T) {
	g := newGate(t, 10*time.Second, 2)
	admitted := 0
	for _, off := range []time.Duration{0, 9 * time.Second, 9 * time.Second, 10 * time.Second, 11 * time.Second} {
		ok, err := g.Admit("p", t0.Add(off))
		require.NoError(t, err)
		if ok {
			admitted++
		}
	}
	// Two in the first window, two in the second.
	assert.Equal(t, 4, admitted)
}

func TestAdmit_PathsAreIndependent(t *testing.T) {
	g := newGate(t, time.Minute, 1)
	ok, _ := g.Admit("a", t0)
	assert.True(t, ok)
	ok, _ = g.Admit("b", t0)
	assert.True(t, ok)
	ok, _ = g.Admit("a", t0)
	assert.False(t, ok)
}

func TestAdmit_NonMonotonic(t *testing.T) {
	g := newGate(t, time.Minute, 3)
	_, err := g.Admit("a", t0.Add(5*time.Second))
	require.NoError(t, err)

	ok, err := g.Admit("a", t0)
	require.ErrorIs(t, err, ErrNonMonotonic)
	assert.False(t, ok)

	// State is untouched: the next in-order event is the second in window.
	_, err = g.Admit("a", t0.Add(6*time.Second))
	require.NoError(t, err)
	ok, err = g.Admit("a", t0.Add(7*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = g.Admit("a", t0.Add(8*time.Second))
	assert.False(t, ok)
}

func TestSweepAndLen(t *testing.T) {
	g := newGate(t, time.Minute, 3)
	_, _ = g.Admit("old", t0)
	_, _ = g.Admit("fresh", t0.Add(50*time.Second))
	assert.Equal(t, 2, g.Len())

	assert.Equal(t, 1, g.Sweep(t0.Add(time.Minute)))
	assert.Equal(t, 1, g.Len())

	// A swept path starts a new window.
	ok, err := g.Admit("old", t0.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(0, 3)
	assert.Error(t, err)
	_, err = New(time.Second, 0)
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	g, err := FromConfig(config.DefaultAlertConfig(), WithShards(4))
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, g.Window())
	assert.Equal(t, 3, g.Max())
	assert.Len(t, g.shards, 4)

	g, err = New(time.Minute, 3, WithShards(0))
	require.NoError(t, err)
	assert.Len(t, g.shards, DefaultShards)
}

func TestAdmit_Concurrent(t *testing.T) {
	g := newGate(t, time.Hour, 5)
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := map[string]int{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p := fmt.Sprintf("file-%d", j%10)
				ok, err := g.Admit(p, t0)
				if err != nil {
					t.Error(err)
					return
				}
				if ok {
					mu.Lock()
					admitted[p]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	for p, n := range admitted {
		assert.Equal(t, 5, n, p)
	}
	assert.Equal(t, 10, g.Len())
}

func TestAdmit_Property_AtMostMaxPerWindow(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("admits min(n, max) events inside one window", prop.ForAll(
		func(offsets []int64, max int) bool {
			g, err := New(time.Minute, max)
			if err != nil {
				return false
			}
			sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
			admitted := 0
			for _, off := range offsets {
				ok, err := g.Admit("p", t0.Add(time.Duration(off)*time.Millisecond))
				if err != nil {
					return false
				}
				if ok {
					admitted++
				}
			}
			want := len(offsets)
			if want > max {
				want = max
			}
			return admitted == want
		},
		gen.SliceOf(gen.Int64Range(0, 59_999)),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

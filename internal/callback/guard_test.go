package callback

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type handlers struct {
	OnEvent func(string)
}

func TestGuard_InvokesLatestSet(t *testing.T) {
	var got []string
	g := NewGuard(handlers{OnEvent: func(s string) { got = append(got, "first:"+s) }})

	g.Do(func(h handlers) { h.OnEvent("a") })

	// Swapping the set must not require re-subscribing anything
	g.Set(handlers{OnEvent: func(s string) { got = append(got, "second:"+s) }})
	g.Do(func(h handlers) { h.OnEvent("b") })

	assert.Equal(t, []string{"first:a", "second:b"}, got)
}

func TestGuard_NoInvocationAfterRelease(t *testing.T) {
	calls := 0
	g := NewGuard(handlers{OnEvent: func(string) { calls++ }})

	assert.True(t, g.Do(func(h handlers) { h.OnEvent("x") }))
	g.Release()
	assert.False(t, g.Alive())
	assert.False(t, g.Do(func(h handlers) { h.OnEvent("y") }))

	// Set after release is ignored and still silent
	g.Set(handlers{OnEvent: func(string) { calls += 100 }})
	assert.False(t, g.Do(func(h handlers) { h.OnEvent("z") }))

	assert.Equal(t, 1, calls)
}

func TestGuard_ReleaseIsIdempotent(t *testing.T) {
	g := NewGuard(handlers{})
	g.Release()
	g.Release()
	assert.False(t, g.Alive())
}

func TestGuard_ConcurrentSetAndDo(t *testing.T) {
	g := NewGuard(handlers{OnEvent: func(string) {}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.Set(handlers{OnEvent: func(string) {}})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.Do(func(h handlers) { h.OnEvent("tick") })
			}
		}()
	}
	wg.Wait()
	g.Release()
	assert.False(t, g.Do(func(handlers) { t.Error("called after release") }))
}

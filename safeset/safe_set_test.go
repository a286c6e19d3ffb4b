package safeset

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeSet(t *testing.T) {
	s := NewSafeSet[string]()
	require.NotNil(t, s)
	assert.Equal(t, 0, s.Size())
	assert.Empty(t, s.Values())
}

func TestSafeSet_Add_Contains_Remove(t *testing.T) {
	s := NewSafeSet[string]()

	s.Add("queen - bohemian rhapsody")
	s.Add("queen - bohemian rhapsody")
	assert.Equal(t, 1, s.Size())
	assert.True(t, s.Contains("queen - bohemian rhapsody"))

	s.Remove("queen - bohemian rhapsody")
	assert.False(t, s.Contains("queen - bohemian rhapsody"))

	s.Remove("missing")
	assert.Equal(t, 0, s.Size())
}

func TestSafeSet_TryAdd(t *testing.T) {
	s := NewSafeSet[int]()

	assert.True(t, s.TryAdd(7000))
	assert.False(t, s.TryAdd(7000))

	s.Remove(7000)
	assert.True(t, s.TryAdd(7000))
}

func TestSafeSet_TryAdd_Concurrent(t *testing.T) {
	s := NewSafeSet[int]()
	var added atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryAdd(7001) {
				added.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), added.Load())
	assert.Equal(t, 1, s.Size())
}

func TestSafeSet_Values(t *testing.T) {
	s := NewSafeSet[int]()
	for _, v := range []int{3, 1, 2} {
		s.Add(v)
	}

	assert.ElementsMatch(t, []int{1, 2, 3}, s.Values())
}

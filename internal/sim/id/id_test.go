package id

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneratorMonotonic(t *testing.T) {
	var g Generator
	assert.Equal(t, int64(0), g.Next())
	assert.Equal(t, int64(1), g.Next())
	assert.Equal(t, int64(2), g.Current())
	assert.Equal(t, int64(2), g.Next())
}

func TestGeneratorConcurrentUnique(t *testing.T) {
	var g Generator
	const n = 200

	seen := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- g.Next()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for v := range seen {
		assert.False(t, unique[v], "id %d handed out twice", v)
		unique[v] = true
	}
	assert.Len(t, unique, n)
}

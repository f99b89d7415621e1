package browser

import (
	"math/rand"
	"sync"
)

// Viewport is a window size
type Viewport struct {
	Width  int
	Height int
}

// ViewportCycle hands out every size in a shuffled order and then repeats it
type ViewportCycle struct {
	mu    sync.Mutex
	sizes []Viewport
	next  int
}

// NewViewportCycle builds the cycle over the inclusive width and height ranges
func NewViewportCycle(minWidth, maxWidth, minHeight, maxHeight int, rng *rand.Rand) *ViewportCycle {
	var sizes []Viewport
	for w := minWidth; w <= maxWidth; w++ {
		for h := minHeight; h <= maxHeight; h++ {
			sizes = append(sizes, Viewport{Width: w, Height: h})
		}
	}
	if len(sizes) == 0 {
		sizes = []Viewport{{Width: maxWidth, Height: maxHeight}}
	}
	if rng != nil {
		rng.Shuffle(len(sizes), func(i, j int) { sizes[i], sizes[j] = sizes[j], sizes[i] })
	}
	return &ViewportCycle{sizes: sizes}
}

// Next returns the next viewport
func (c *ViewportCycle) Next() Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.sizes[c.next]
	c.next = (c.next + 1) % len(c.sizes)
	return v
}

// Len returns the number of distinct viewports
func (c *ViewportCycle) Len() int {
	return len(c.sizes)
}

package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out turn segment IDs of the form <interactionId>-turn-<n>.
type Generator struct {
	counter atomic.Uint64
}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) Next(interactionId string) string {
	return fmt.Sprintf("%s-turn-%d", interactionId, g.counter.Add(1))
}

// Issued returns how many IDs have been generated.
func (g *Generator) Issued() uint64 {
	return g.counter.Load()
}

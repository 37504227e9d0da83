package collcomm

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllgather(t *testing.T) {
	for _, numNodes := range []int{1, 2, 7} {
		t.Run(fmt.Sprintf("Nodes=%d", numNodes), func(t *testing.T) {
			results := make([][][]float64, numNodes)
			SpawnComms(NewMemNetwork(), numNodes, func(c *Comms) {
				vec := make([]float64, c.Index())
				for i := range vec {
					vec[i] = float64(c.Index())
				}
				results[c.Index()] = Allgather(c, vec)
			})
			for _, res := range results {
				require.Len(t, res, numNodes)
				for i, vec := range res {
					assert.Len(t, vec, i)
					for _, x := range vec {
						assert.Equal(t, float64(i), x)
					}
				}
			}
		})
	}
}

func TestBroadcast(t *testing.T) {
	for _, numNodes := range []int{1, 2, 5, 8, 13} {
		for root := 0; root < numNodes; root += 2 {
			t.Run(fmt.Sprintf("Nodes=%d,Root=%d", numNodes, root), func(t *testing.T) {
				network := NewMemNetwork()
				results := make([][]float64, numNodes)
				SpawnComms(network, numNodes, func(c *Comms) {
					vec := []float64{float64(c.Index()), 1, 2}
					results[c.Index()] = Broadcast(c, root, vec)
				})
				for _, res := range results {
					assert.Equal(t, []float64{float64(root), 1, 2}, res)
				}
				assert.Equal(t, int64(numNodes-1), network.MessagesSent())
			})
		}
	}
}

func TestAdasumPair(t *testing.T) {
	// Orthogonal vectors are summed.
	assert.Equal(t, []float64{1, 2}, AdasumPair([]float64{1, 0}, []float64{0, 2}))

	// Identical vectors are averaged.
	assert.Equal(t, []float64{3, 4}, AdasumPair([]float64{3, 4}, []float64{3, 4}))

	// Zero vectors leave the other side untouched.
	assert.Equal(t, []float64{3, 4}, AdasumPair([]float64{0, 0}, []float64{3, 4}))

	res := Adasum([]float64{1, 0}, []float64{1, 0}, []float64{0, 1}, []float64{0, 1})
	assert.InDelta(t, 1, res[0], 1e-12)
	assert.InDelta(t, 1, res[1], 1e-12)
}

func TestSum(t *testing.T) {
	res := Sum([]float64{1, 2}, []float64{3, 4}, []float64{5, 6})
	assert.Equal(t, []float64{9, 12}, res)
	assert.Panics(t, func() { Sum([]float64{1}, []float64{1, 2}) })
	assert.False(t, math.IsNaN(AdasumPair([]float64{0}, []float64{0})[0]))
}

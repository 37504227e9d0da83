package allreduce

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/gradcomm/collcomm"
)

// RunAllreducerTests checks that an Allreducer sums
// vectors of several lengths across several node counts.
func RunAllreducerTests(t *testing.T, reducer Allreducer) {
	RunAllreducerTestsSizes(t, reducer, []int{1, 2, 5, 15, 16, 17})
}

// RunAllreducerTestsSizes is like RunAllreducerTests but
// with a custom list of node counts.
func RunAllreducerTestsSizes(t *testing.T, reducer Allreducer, nodeCounts []int) {
	for _, numNodes := range nodeCounts {
		for _, size := range []int{0, 1, 1337} {
			t.Run(fmt.Sprintf("Nodes=%d,Size=%d", numNodes, size), func(t *testing.T) {
				vectors, sum := randomVectors(numNodes, size)
				results := make([][]float64, numNodes)
				collcomm.SpawnComms(collcomm.NewMemNetwork(), numNodes, func(c *collcomm.Comms) {
					results[c.Index()] = reducer.Allreduce(c, vectors[c.Index()], collcomm.Sum)
				})
				for i, res := range results {
					require.Len(t, res, size, "node %d", i)
					assert.InDeltaSlice(t, results[0], res, 0, "node %d differs from node 0", i)
				}
				assert.InDeltaSlice(t, sum, results[0], 1e-5)
			})
		}
	}
}

func randomVectors(numNodes, size int) ([][]float64, []float64) {
	vectors := make([][]float64, numNodes)
	sum := make([]float64, size)
	for i := range vectors {
		vectors[i] = make([]float64, size)
		for j := range vectors[i] {
			vectors[i][j] = rand.NormFloat64()
			sum[j] += vectors[i][j]
		}
	}
	return vectors, sum
}

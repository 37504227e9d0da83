package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/unixpickle/gradcomm/collcomm"
	"github.com/unixpickle/gradcomm/collcomm/allreduce"
	"k8s.io/klog/v2"
)

// RunInfo describes a specific benchmark configuration.
type RunInfo struct {
	NumNodes int
	Size     int
}

// Run spawns the nodes on a fresh in-memory network and
// reports the wall-clock time and bytes moved.
func (r *RunInfo) Run(reducer allreduce.Allreducer) (time.Duration, int64) {
	vectors := make([][]float64, r.NumNodes)
	for i := range vectors {
		vectors[i] = make([]float64, r.Size)
	}
	network := collcomm.NewMemNetwork()
	start := time.Now()
	collcomm.SpawnComms(network, r.NumNodes, func(c *collcomm.Comms) {
		reducer.Allreduce(c, vectors[c.Index()], collcomm.Sum)
	})
	return time.Since(start), network.BytesSent()
}

func main() {
	var nodeList, sizeList string
	var granularity int
	flag.StringVar(&nodeList, "nodes", "2,16,32", "comma-separated node counts")
	flag.StringVar(&sizeList, "sizes", "10,10000,1000000", "comma-separated vector sizes")
	flag.IntVar(&granularity, "granularity", 1, "chunk granularity for the stream algorithm")
	klog.InitFlags(nil)
	flag.Parse()

	var runs []RunInfo
	for _, n := range parseInts(nodeList) {
		for _, size := range parseInts(sizeList) {
			runs = append(runs, RunInfo{NumNodes: n, Size: size})
		}
	}

	var reducers []allreduce.Allreducer
	for _, name := range allreduce.Names {
		reducers = append(reducers, must.M1(allreduce.ByName(name, granularity)))
	}
	klog.V(1).Infof("benchmarking %d configurations", len(runs))

	// Markdown table header.
	fmt.Print("| Nodes | Size ")
	for _, name := range allreduce.Names {
		fmt.Printf("| %s ", name)
	}
	fmt.Println("|")
	for i := 0; i < 2+len(reducers); i++ {
		fmt.Print("|:--")
	}
	fmt.Println("|")

	// Markdown table body.
	for _, runInfo := range runs {
		fmt.Printf("| %d | %s ", runInfo.NumNodes, humanize.Comma(int64(runInfo.Size)))
		for _, reducer := range reducers {
			elapsed, bytes := runInfo.Run(reducer)
			fmt.Printf("| %s (%s) ", elapsed.Round(time.Microsecond), humanize.Bytes(uint64(bytes)))
		}
		fmt.Println("|")
	}
}

func parseInts(list string) []int {
	var res []int
	for _, field := range strings.Split(list, ",") {
		res = append(res, must.M1(strconv.Atoi(strings.TrimSpace(field))))
	}
	return res
}

// cmd/kvload is a concurrent workload generator for the cluster: N
// worker goroutines issue PUT/GET requests against a random node,
// picking keys from a uniform or Zipfian distribution, and record
// every attempt to a CSV file for later analysis.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"dynamokv/internal/client"
)

type options struct {
	nodesFlag   string
	workload    string
	duration    time.Duration
	concurrency int
	dist        string
	keyspace    int
	out         string
}

func main() {
	var opts options

	root := &cobra.Command{
		Use:   "kvload",
		Short: "Generate a concurrent PUT/GET workload against a cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	root.Flags().StringVar(&opts.nodesFlag, "nodes", "", "comma-separated host:port list to spray requests across (required)")
	root.Flags().StringVar(&opts.workload, "workload", "A", `"A" (50% reads) or "B" (95% reads)`)
	root.Flags().DurationVar(&opts.duration, "duration", 30*time.Second, "how long each worker runs")
	root.Flags().IntVar(&opts.concurrency, "concurrency", 10, "number of concurrent workers")
	root.Flags().StringVar(&opts.dist, "dist", "uniform", `key distribution: "uniform" or "zipf"`)
	root.Flags().IntVar(&opts.keyspace, "keyspace", 1000, "number of distinct keys, numbered 1..keyspace")
	root.Flags().StringVar(&opts.out, "out", "workload_out.csv", "output CSV path")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if opts.nodesFlag == "" {
		return fmt.Errorf("kvload: --nodes is required")
	}
	nodes := strings.Split(opts.nodesFlag, ",")

	f, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("create %s: %w", opts.out, err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	defer writer.Flush()
	if err := writer.Write([]string{"ts", "worker", "op", "key", "node", "success", "detail"}); err != nil {
		return err
	}

	var rowsMu sync.Mutex
	writeRow := func(row []string) {
		rowsMu.Lock()
		defer rowsMu.Unlock()
		_ = writer.Write(row)
	}

	readRatio := 0.5
	if opts.workload == "B" {
		readRatio = 0.95
	}

	keyPicker := newKeyPicker(opts.dist, opts.keyspace)

	var wg sync.WaitGroup
	for i := 0; i < opts.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(workerID, nodes, readRatio, opts.duration, keyPicker, writeRow)
		}(i)
	}
	wg.Wait()

	fmt.Printf("[kvload] %d workers finished; results written to %s\n", opts.concurrency, opts.out)
	return nil
}

// keyPicker returns a key string each call, drawn from the configured
// distribution over 1..keyspace.
type keyPicker func() string

func newKeyPicker(dist string, keyspace int) keyPicker {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	if dist == "zipf" {
		// rand.Zipf generates values in [0, imax]; s>1 and v=1 give the
		// usual skewed-towards-low-numbers Zipfian shape used for hot-key
		// workloads.
		z := rand.NewZipf(src, 1.3, 1.0, uint64(keyspace-1))
		return func() string {
			return strconv.FormatUint(z.Uint64()+1, 10)
		}
	}
	return func() string {
		return strconv.Itoa(src.Intn(keyspace) + 1)
	}
}

func runWorker(workerID int, nodes []string, readRatio float64, duration time.Duration, pickKey keyPicker, writeRow func([]string)) {
	src := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	deadline := time.Now().Add(duration)

	for time.Now().Before(deadline) {
		node := nodes[src.Intn(len(nodes))]
		key := pickKey()
		baseURL := "http://" + node
		c := client.New(baseURL, 5*time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if src.Float64() < readRatio {
			resp, err := c.Get(ctx, key)
			cancel()
			detail, _ := json.Marshal(versionsOrNil(resp))
			writeRow([]string{
				time.Now().Format(time.RFC3339Nano), strconv.Itoa(workerID), "READ",
				key, node, strconv.FormatBool(err == nil), string(detail),
			})
		} else {
			value := strconv.Itoa(src.Intn(1_000_000_000))
			resp, err := c.Put(ctx, key, value)
			cancel()
			detail, _ := json.Marshal(storedVersionOrNil(resp))
			writeRow([]string{
				time.Now().Format(time.RFC3339Nano), strconv.Itoa(workerID), "WRITE",
				key, node, strconv.FormatBool(err == nil), string(detail),
			})
		}
	}
}

func versionsOrNil(resp *client.GetResponse) any {
	if resp == nil {
		return nil
	}
	return resp.ResolvedVersions
}

func storedVersionOrNil(resp *client.PutResponse) any {
	if resp == nil {
		return nil
	}
	return resp.StoredVersion
}

//go:build ignore
// +build ignore

// Load test for the bulk property import pipeline.
// Generates synthetic CSV uploads, posts them concurrently and polls each job
// until it reaches a terminal state.
//
// Usage:
//   go run scripts/import_loadtest.go \
//     --api=http://localhost:8080 \
//     --tenant=loadtest \
//     --uploads=10 \
//     --rows=50000 \
//     --invalid-every=1000

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

type LoadTestConfig struct {
	APIBase      string
	Tenant       string
	Uploads      int
	RowsPerFile  int
	InvalidEvery int
	PollInterval time.Duration
	Timeout      time.Duration
}

var sectors = []string{"north", "south", "east", "west", "centre"}
var kinds = []string{"flat", "house", "duplex", "studio"}

// =============================================================================
// CSV GENERATION
// =============================================================================

// generateCSV returns a file of rows data rows. Every invalidEvery-th row has
// a non-numeric price.
func generateCSV(rows, invalidEvery int, rng *rand.Rand) []byte {
	var buf bytes.Buffer
	buf.WriteString("address,sector,type,price,lat,lng\n")
	for i := 1; i <= rows; i++ {
		price := fmt.Sprintf("%d", 50000+rng.Intn(950000))
		if invalidEvery > 0 && i%invalidEvery == 0 {
			price = "n/a"
		}
		fmt.Fprintf(&buf, "%d Load Test Street,%s,%s,%s,%.6f,%.6f\n",
			i,
			sectors[rng.Intn(len(sectors))],
			kinds[rng.Intn(len(kinds))],
			price,
			40.0+rng.Float64(),
			-3.0-rng.Float64(),
		)
	}
	return buf.Bytes()
}

// =============================================================================
// RESULTS
// =============================================================================

type jobStatus struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Processed      int64  `json:"processed"`
	Succeeded      int64  `json:"succeeded"`
	Failed         int64  `json:"failed"`
	TotalEstimated int64  `json:"total_estimated"`
	Error          string `json:"error"`
}

type uploadResult struct {
	job    jobStatus
	accept time.Duration
	total  time.Duration
	err    error
}

func percentile(durations []time.Duration, p int) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (p * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// =============================================================================
// RUNNER
// =============================================================================

func runUpload(cfg LoadTestConfig, client *http.Client, body []byte) uploadResult {
	var res uploadResult
	start := time.Now()

	req, err := http.NewRequest(http.MethodPost, cfg.APIBase+"/v1/imports", bytes.NewReader(body))
	if err != nil {
		res.err = err
		return res
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("X-Tenant-ID", cfg.Tenant)
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := client.Do(req)
	if err != nil {
		res.err = err
		return res
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		res.err = fmt.Errorf("upload returned %d: %s", resp.StatusCode, data)
		return res
	}
	res.accept = time.Since(start)
	if err := json.Unmarshal(data, &res.job); err != nil {
		res.err = err
		return res
	}

	deadline := time.Now().Add(cfg.Timeout)
	for time.Now().Before(deadline) {
		time.Sleep(cfg.PollInterval)
		req, _ := http.NewRequest(http.MethodGet, cfg.APIBase+"/v1/imports/"+res.job.ID, nil)
		req.Header.Set("X-Tenant-ID", cfg.Tenant)
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		err = json.NewDecoder(resp.Body).Decode(&res.job)
		resp.Body.Close()
		if err != nil {
			continue
		}
		if res.job.Status == "completed" || res.job.Status == "failed" {
			res.total = time.Since(start)
			return res
		}
	}
	res.err = fmt.Errorf("job %s still %s after %s", res.job.ID, res.job.Status, cfg.Timeout)
	return res
}

func main() {
	cfg := LoadTestConfig{}
	flag.StringVar(&cfg.APIBase, "api", "http://localhost:8080", "API base url")
	flag.StringVar(&cfg.Tenant, "tenant", "loadtest", "tenant id")
	flag.IntVar(&cfg.Uploads, "uploads", 10, "concurrent uploads")
	flag.IntVar(&cfg.RowsPerFile, "rows", 10000, "data rows per upload")
	flag.IntVar(&cfg.InvalidEvery, "invalid-every", 0, "make every Nth row invalid (0 = none)")
	flag.DurationVar(&cfg.PollInterval, "poll", 500*time.Millisecond, "status poll interval")
	flag.DurationVar(&cfg.Timeout, "timeout", 10*time.Minute, "per-job timeout")
	flag.Parse()

	log.Printf("[LoadTest] %d uploads x %d rows against %s", cfg.Uploads, cfg.RowsPerFile, cfg.APIBase)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	bodies := make([][]byte, cfg.Uploads)
	for i := range bodies {
		bodies[i] = generateCSV(cfg.RowsPerFile, cfg.InvalidEvery, rng)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	results := make([]uploadResult, cfg.Uploads)
	start := time.Now()

	var wg sync.WaitGroup
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = runUpload(cfg, client, bodies[i])
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	var accepts, totals []time.Duration
	var rows, failedRows int64
	errs := 0
	for _, r := range results {
		if r.err != nil {
			errs++
			log.Printf("[LoadTest] error: %v", r.err)
			continue
		}
		accepts = append(accepts, r.accept)
		totals = append(totals, r.total)
		rows += r.job.Processed
		failedRows += r.job.Failed
		if r.job.Processed != r.job.TotalEstimated {
			log.Printf("[LoadTest] job %s: processed %d != total %d", r.job.ID, r.job.Processed, r.job.TotalEstimated)
		}
	}

	log.Printf("[LoadTest] finished in %s: %d jobs ok, %d errors", elapsed.Round(time.Millisecond), len(totals), errs)
	log.Printf("[LoadTest] rows processed: %d (%d failed), %.0f rows/s",
		rows, failedRows, float64(rows)/elapsed.Seconds())
	log.Printf("[LoadTest] accept latency p50=%s p95=%s", percentile(accepts, 50), percentile(accepts, 95))
	log.Printf("[LoadTest] completion latency p50=%s p95=%s p99=%s",
		percentile(totals, 50), percentile(totals, 95), percentile(totals, 99))

	if errs > 0 {
		os.Exit(1)
	}
}

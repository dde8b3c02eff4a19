package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Idempotent replays / decisions applied
	success201    uint64 // Created
	fail409       uint64 // Conflicts
	fail422       uint64 // Policy rejections (insufficient funds etc.)
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// worker drives the full deposit cycle: a member requests a deposit,
// then an admin approves it twice (the second approve exercising the
// idempotent retry path).
func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		member := pickAccount()

		payload := map[string]interface{}{
			"amount":    int64(50000),
			"proof_ref": fmt.Sprintf("proofs/bench-%d.jpg", time.Now().UnixNano()),
			"reference": "bench transfer",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/wallet/deposit", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Account-ID", member)
		req.Header.Set("X-Role", "member")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		atomic.AddUint64(&totalRequests, 1)
		var created struct {
			Entry struct {
				ID string `json:"entry_id"`
			} `json:"entry"`
		}
		json.NewDecoder(resp.Body).Decode(&created)
		resp.Body.Close()
		record(resp.StatusCode)

		if resp.StatusCode != 201 || created.Entry.ID == "" {
			continue
		}

		// Approve twice: the duplicate must come back as a no-op.
		for i := 0; i < 2; i++ {
			areq, _ := http.NewRequest("PUT",
				fmt.Sprintf("%s/api/v1/admin/deposits/%s/approve", targetURL, created.Entry.ID), nil)
			areq.Header.Set("X-Account-ID", "bench-admin")
			areq.Header.Set("X-Role", "admin")

			aresp, err := client.Do(areq)
			if err != nil {
				atomic.AddUint64(&failOther, 1)
				continue
			}
			atomic.AddUint64(&totalRequests, 1)
			record(aresp.StatusCode)
			aresp.Body.Close()
		}
	}
}

func record(status int) {
	switch status {
	case 201:
		atomic.AddUint64(&success201, 1)
	case 200:
		atomic.AddUint64(&success200, 1)
	case 409:
		atomic.AddUint64(&fail409, 1)
	case 422:
		atomic.AddUint64(&fail422, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
}

func pickAccount() string {
	// Assumes the seeder ran (member-0001 .. member-1000)
	totalAccounts := 1000

	if workload == "hotspot" {
		// Hotspot: 90% of traffic hits two accounts
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return "member-0001"
			}
			return "member-0002"
		}
	}

	return fmt.Sprintf("member-%04d", rand.Intn(totalAccounts)+1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	conflictRate := float64(f409) / float64(total) * 100

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"success_created":   s201,
		"success_decisions": s200,
		"conflicts":         f409,
		"conflict_rate_pct": conflictRate,
		"policy_rejections": f422,
		"errors":            fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}

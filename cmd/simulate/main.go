package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// simulate drives concurrent advance bookings at one doctor-date so the
// two-phase reserve/confirm protocol is exercised under real contention:
// every worker wants the earliest slot, so most of them should lose with
// slot_already_booked and only one booking per slot should commit.

type SimConfig struct {
	APIBaseURL string
	ClinicID   string
	DoctorID   string
	Date       string
	Workers    int
	Duration   time.Duration
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p95
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := SimConfig{
		APIBaseURL: envOr("API_BASE_URL", "http://127.0.0.1:8080"),
		ClinicID:   os.Getenv("SIM_CLINIC_ID"),
		DoctorID:   os.Getenv("SIM_DOCTOR_ID"),
		Date:       envOr("SIM_DATE", time.Now().AddDate(0, 0, 1).Format("2006-01-02")),
		Workers:    envIntOr("SIM_WORKERS", 16),
		Duration:   envDurationOr("SIM_DURATION", 30*time.Second),
	}
	if cfg.ClinicID == "" || cfg.DoctorID == "" {
		log.Fatal("SIM_CLINIC_ID and SIM_DOCTOR_ID are required")
	}

	log.Printf("simulating %d workers for %s against %s (doctor=%s date=%s)",
		cfg.Workers, cfg.Duration, cfg.APIBaseURL, cfg.DoctorID, cfg.Date)

	gofakeit.Seed(time.Now().UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	metrics := &OperationMetrics{}
	client := &http.Client{Timeout: 10 * time.Second}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				bookOnce(ctx, client, cfg, metrics)
			}
		}()
	}
	wg.Wait()

	avg, min, max, p95 := metrics.Stats()
	fmt.Printf("total=%d success=%d conflict=%d error=%d\n",
		metrics.Total, metrics.Success, metrics.Conflict, metrics.Error)
	fmt.Printf("latency avg=%s min=%s max=%s p95=%s\n", avg, min, max, p95)
}

func bookOnce(ctx context.Context, client *http.Client, cfg SimConfig, metrics *OperationMetrics) {
	payload, _ := json.Marshal(map[string]any{
		"clinic_id":    cfg.ClinicID,
		"doctor_id":    cfg.DoctorID,
		"patient_name": gofakeit.Name(),
		"date":         cfg.Date,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		cfg.APIBaseURL+"/appointments", bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			metrics.Record(latency, false, false)
		}
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusCreated:
		metrics.Record(latency, true, false)
	case resp.StatusCode == http.StatusConflict:
		metrics.Record(latency, false, true)
	default:
		metrics.Record(latency, false, false)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

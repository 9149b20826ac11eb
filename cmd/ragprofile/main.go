// ragprofile 管线性能剖析工具：测量初始化耗时与固定查询集的
// 响应延迟，同时采样内存/协程占用。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ragchat/internal/app/bootstrap"
	"ragchat/internal/platform/config"
	applog "ragchat/internal/platform/log"
	"ragchat/internal/profile"
)

var defaultQueries = []string{
	"What topics are covered in the documents?",
	"Summarize the main points.",
	"What are the key facts mentioned?",
	"Are there any dates or numbers in the documents?",
	"What conclusions can be drawn?",
}

func main() {
	var (
		rounds   = flag.Int("rounds", 1, "how many times to run the query set")
		interval = flag.Duration("sample-interval", 500*time.Millisecond, "resource sampling interval")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	applog.Init(applog.Config{Level: "warn", Format: cfg.LogFormat})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	monitor := profile.NewMonitor(*interval)
	monitor.Start()

	initStart := time.Now()
	pipeline, err := bootstrap.NewPipeline(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeline init: %v\n", err)
		os.Exit(1)
	}
	initElapsed := time.Since(initStart)

	queries := flag.Args()
	if len(queries) == 0 {
		queries = defaultQueries
	}

	var latencies []time.Duration
	for round := 0; round < *rounds; round++ {
		for _, q := range queries {
			start := time.Now()
			pipeline.GenerateResponse(ctx, q, nil)
			latencies = append(latencies, time.Since(start))
		}
	}
	monitor.Stop()

	printReport(initElapsed, latencies, monitor.Report(), pipeline.Info())
}

func printReport(initElapsed time.Duration, latencies []time.Duration, r profile.Report, info map[string]any) {
	fmt.Println("=== pipeline profile ===")
	fmt.Printf("provider:        %v / %v\n", info["provider"], info["model"])
	fmt.Printf("indexed chunks:  %v\n", info["chunks"])
	fmt.Printf("init time:       %s\n", initElapsed.Round(time.Millisecond))

	if len(latencies) > 0 {
		min, max, total := latencies[0], latencies[0], time.Duration(0)
		for _, d := range latencies {
			if d < min {
				min = d
			}
			if d > max {
				max = d
			}
			total += d
		}
		fmt.Printf("queries:         %d\n", len(latencies))
		fmt.Printf("latency min:     %s\n", min.Round(time.Millisecond))
		fmt.Printf("latency avg:     %s\n", (total / time.Duration(len(latencies))).Round(time.Millisecond))
		fmt.Printf("latency max:     %s\n", max.Round(time.Millisecond))
	}

	fmt.Printf("heap min/avg/max: %s / %s / %s\n",
		formatBytes(r.HeapMinBytes), formatBytes(r.HeapAvgBytes), formatBytes(r.HeapMaxBytes))
	fmt.Printf("goroutines peak:  %d\n", r.GoroutineMax)
	fmt.Printf("gc cycles:        %d over %s (%d samples)\n",
		r.GCCycles, r.Duration.Round(time.Second), r.Count)
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

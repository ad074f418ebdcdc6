package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/CVDpl/go-live-wormhole/internal/common"
	"github.com/CVDpl/go-live-wormhole/pkg/wormhole"
	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/monitoring"
)

func main() {
	workers := flag.Int("workers", 4, "concurrent handles in safe mode")
	keys := flag.Int("keys", 100000, "keys per worker")
	capacity := flag.Int("leaf", common.DefaultLeafCapacity, "leaf capacity")
	dump := flag.String("dump", "", "write a memory dump to this file at the end")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := common.LogLevelInfo
	if *verbose {
		level = common.LogLevelDebug
	}
	logger := wormhole.NewDefaultLoggerWithLevel(level)

	fmt.Printf("Wormhole Example\n")
	fmt.Printf("================\n")

	// 1. Single-threaded bulk load in unsafe mode.
	fmt.Println("\n1. Unsafe bulk load...")
	u, err := wormhole.NewUnsafe(&wormhole.Options{LeafCapacity: *capacity, Logger: logger})
	if err != nil {
		log.Fatalf("Failed to create index: %v", err)
	}
	start := time.Now()
	for i := 0; i < *keys; i++ {
		u.Put([]byte(fmt.Sprintf("bulk:%08d", i)), []byte(fmt.Sprint(i)))
	}
	fmt.Printf("   ✓ %d keys in %v, %d leaves\n", u.Count(), time.Since(start), u.Stats().Leaves)
	if err := u.Verify(); err != nil {
		log.Fatalf("Verify failed: %v", err)
	}
	u.Close()

	// 2. Concurrent workload in safe mode.
	fmt.Println("\n2. Safe concurrent workload...")
	idx, err := wormhole.New(&wormhole.Options{
		LeafCapacity: *capacity,
		Allocator:    kv.NewPoolAllocator(),
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("Failed to create index: %v", err)
	}

	// Optional pprof: enable by setting WORMHOLE_PPROF_ADDR (e.g., ":6060")
	if addr := os.Getenv("WORMHOLE_PPROF_ADDR"); addr != "" {
		srv, err := monitoring.StartPprofServer(addr, idx, logger)
		if err == nil {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				_ = monitoring.StopPprofServer(ctx, srv)
				cancel()
			}()
			fmt.Printf("pprof listening on %s\n", srv.Addr)
		} else {
			fmt.Printf("failed to start pprof on %s: %v\n", addr, err)
		}
	}

	start = time.Now()
	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ref := idx.Ref()
			defer ref.Unref()
			rng := rand.New(rand.NewSource(int64(w)))
			out := kv.NewRecordBuffer(64)
			for i := 0; i < *keys; i++ {
				k := []byte(fmt.Sprintf("w%02d:%08d", w, rng.Intn(*keys)))
				switch rng.Intn(10) {
				case 0:
					ref.Del(k)
				case 1, 2, 3:
					ref.Get(k, out)
				default:
					ref.Put(k, k)
				}
				if i%1024 == 0 {
					// Bounded work between quiescent points.
					ref.Park()
				}
			}
		}(w)
	}
	wg.Wait()
	st := idx.Stats()
	total := *workers * *keys
	fmt.Printf("   ✓ %d ops in %v: %d keys, %d leaves, %d splits, %d merges, %d hops\n",
		total, time.Since(start), st.Keys, st.Leaves, st.Splits, st.Merges, st.Hops)

	// 3. Ordered scan.
	fmt.Println("\n3. Range scan from w01:...")
	ref := idx.Ref()
	it := ref.Iter()
	it.Seek([]byte("w01:"))
	for i := 0; i < 5; i++ {
		r := it.Next(nil)
		if r == nil {
			break
		}
		fmt.Printf("   %s\n", r.Key())
	}
	it.Destroy()
	ref.Unref()

	if err := idx.Verify(); err != nil {
		log.Fatalf("Verify failed: %v", err)
	}
	fmt.Println("   ✓ Structure verified")

	if *dump != "" {
		path, _ := filepath.Abs(*dump)
		if err := idx.DumpMemory(path, ""); err != nil {
			log.Fatalf("Dump failed: %v", err)
		}
		fmt.Printf("\nMemory dump written to %s (check with dumpcheck -file %s)\n", path, path)
	}

	idx.Reclaim()
	st = idx.Stats()
	fmt.Printf("\nRetired %d, reclaimed %d, pending %d, epoch %d\n", st.Retired, st.Reclaimed, st.Pending, st.Epoch)
	if err := idx.Close(); err != nil {
		log.Fatalf("Close failed: %v", err)
	}
}

package lock

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/dLock/cmd/util"
	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/google/uuid"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

const perfNamespace = "urn:dlock:perf"

var (
	perfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dLock servers",
		Long:    "Runs lock scenarios against the server for a fixed duration each and prints latency percentiles and throughput.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfThreads  = 10
	perfKeys     = 100
	perfDepth    = 4
	perfDuration = 5 * time.Second
	perfSkip     []string
)

// scenario is one benchmark. op runs a single iteration for worker w.
type scenario struct {
	name string
	op   func(ctx context.Context, w, i int, token string) error
}

// perfResult holds the metrics of one scenario
type perfResult struct {
	name      string
	timer     metrics.Timer
	conflicts metrics.Counter
	errors    metrics.Counter
	elapsed   time.Duration
}

func init() {
	key := "skip"
	perfCmd.Flags().String(key, "", util.WrapString("Scenarios to skip (comma separated - e.g. contended,status)"))
	key = "threads"
	perfCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent workers"))
	key = "keys"
	perfCmd.Flags().Int(key, 100, util.WrapString("How many different lock names each scenario uses"))
	key = "depth"
	perfCmd.Flags().Int(key, 4, util.WrapString("Number of segments of the names in the hierarchy scenario"))
	key = "duration"
	perfCmd.Flags().Duration(key, 5*time.Second, util.WrapString("How long each scenario runs"))
	key = "csv"
	perfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfThreads = max(viper.GetInt("threads"), 1)
	perfKeys = max(viper.GetInt("keys"), 1)
	perfDepth = max(viper.GetInt("depth"), 1)
	perfDuration = viper.GetDuration("duration")
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dLock servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d, Keys: %d, Duration: %s\n\n", perfThreads, perfKeys, perfDuration)

	var results []perfResult
	for _, s := range scenarios() {
		if slices.Contains(perfSkip, s.name) {
			fmt.Printf("%-16sskipped\n", s.name)
			continue
		}
		result, err := runScenario(s)
		if err != nil {
			return err
		}
		printResult(result)
		results = append(results, result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %w", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// --------------------------------------------------------------------------
// Scenarios
// --------------------------------------------------------------------------

func scenarios() []scenario {
	name := func(parts ...string) lockmgr.QName {
		return lockmgr.NewQName(perfNamespace, strings.Join(parts, "."))
	}
	ttl := time.Minute

	return []scenario{
		{
			// every worker has its own names, no conflicts
			name: "acquire-release",
			op: func(ctx context.Context, w, i int, token string) error {
				qname := name("own", strconv.Itoa(w), strconv.Itoa(i%perfKeys))
				if err := rpcLockMgr.AcquireLock(ctx, qname, token, ttl); err != nil {
					return err
				}
				_, err := rpcLockMgr.ReleaseLock(ctx, qname, token, true)
				return err
			},
		},
		{
			// all workers compete for the same few names
			name: "contended",
			op: func(ctx context.Context, w, i int, token string) error {
				qname := name("hot", strconv.Itoa(i%max(perfKeys/10, 1)))
				if err := rpcLockMgr.AcquireLock(ctx, qname, token, ttl); err != nil {
					return err
				}
				_, err := rpcLockMgr.ReleaseLock(ctx, qname, token, true)
				return err
			},
		},
		{
			// deep names below a shared root
			name: "hierarchy",
			op: func(ctx context.Context, w, i int, token string) error {
				parts := []string{"tree", strconv.Itoa(w)}
				for d := 1; d < perfDepth; d++ {
					parts = append(parts, strconv.Itoa((i+d)%perfKeys))
				}
				qname := name(parts...)
				if err := rpcLockMgr.AcquireLock(ctx, qname, token, ttl); err != nil {
					return err
				}
				_, err := rpcLockMgr.ReleaseLock(ctx, qname, token, true)
				return err
			},
		},
		{
			name: "refresh",
			op: func(ctx context.Context, w, i int, token string) error {
				qname := name("refresh", strconv.Itoa(w))
				if i == 0 {
					return rpcLockMgr.AcquireLock(ctx, qname, token, ttl)
				}
				return rpcLockMgr.RefreshLock(ctx, qname, token, ttl)
			},
		},
		{
			name: "status",
			op: func(ctx context.Context, w, i int, token string) error {
				_, err := rpcLockMgr.GetLockState(ctx, name("own", strconv.Itoa(w), strconv.Itoa(i%perfKeys)))
				return err
			},
		},
	}
}

// runScenario runs s on all workers for perfDuration
func runScenario(s scenario) (perfResult, error) {
	registry := metrics.NewRegistry()
	result := perfResult{
		name:      s.name,
		timer:     metrics.GetOrRegisterTimer(s.name+".latency", registry),
		conflicts: metrics.GetOrRegisterCounter(s.name+".conflicts", registry),
		errors:    metrics.GetOrRegisterCounter(s.name+".errors", registry),
	}

	ctx, cancel := context.WithTimeout(context.Background(), perfDuration)
	defer cancel()

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < perfThreads; w++ {
		token := uuid.NewString()
		g.Go(func() error {
			for i := 0; ctx.Err() == nil; i++ {
				opStart := time.Now()
				err := s.op(ctx, w, i, token)
				switch {
				case err == nil:
					result.timer.UpdateSince(opStart)
				case ctx.Err() != nil:
					// the scenario ended during the call
				case lockmgr.IsExclusiveLockExists(err), lockmgr.IsRetryable(err):
					result.conflicts.Inc(1)
				default:
					result.errors.Inc(1)
					if result.errors.Count() == 1 {
						fmt.Printf("(%s) - first error: %v\n", s.name, err)
					}
				}
			}
			return nil
		})
	}
	err := g.Wait()
	result.elapsed = time.Since(start)
	return result, err
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

// printResult prints the result of a scenario in a formatted way
func printResult(r perfResult) {
	snap := r.timer.Snapshot()
	if snap.Count() == 0 {
		fmt.Printf("%-16sno successful operations (%d conflicts, %d errors)\n", r.name, r.conflicts.Count(), r.errors.Count())
		return
	}
	p := snap.Percentiles([]float64{0.5, 0.95, 0.99})
	opsPerSec := float64(snap.Count()) / r.elapsed.Seconds()

	fmt.Printf("%-16s%8d ops  %10.0f ops/sec  mean %-10s p50 %-10s p95 %-10s p99 %-10s conflicts %d  errors %d\n",
		r.name, snap.Count(), opsPerSec,
		time.Duration(snap.Mean()).Round(time.Microsecond),
		time.Duration(p[0]).Round(time.Microsecond),
		time.Duration(p[1]).Round(time.Microsecond),
		time.Duration(p[2]).Round(time.Microsecond),
		r.conflicts.Count(), r.errors.Count())
}

// writeResultsToCSV writes the scenario results to a CSV file
func writeResultsToCSV(csvPath string, results []perfResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	config := util.GetClientConfig()
	header := []string{
		"Scenario", "Ops", "OpsPerSec", "MeanNs", "P50Ns", "P95Ns", "P99Ns", "Conflicts", "Errors",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"ShardID", "Serializer", "Transport", "Threads", "Keys",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range results {
		snap := r.timer.Snapshot()
		p := snap.Percentiles([]float64{0.5, 0.95, 0.99})
		row := []string{
			r.name,
			strconv.FormatInt(snap.Count(), 10),
			fmt.Sprintf("%.0f", float64(snap.Count())/r.elapsed.Seconds()),
			fmt.Sprintf("%.0f", snap.Mean()),
			fmt.Sprintf("%.0f", p[0]),
			fmt.Sprintf("%.0f", p[1]),
			fmt.Sprintf("%.0f", p[2]),
			strconv.FormatInt(r.conflicts.Count(), 10),
			strconv.FormatInt(r.errors.Count(), 10),
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfThreads),
			strconv.Itoa(perfKeys),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for scenario %s: %w", r.name, err)
		}
	}
	return nil
}

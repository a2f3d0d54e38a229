package cmd

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/report"
	"github.com/fleetsim/fleetsim/router"
	"github.com/fleetsim/fleetsim/simrand"
	"github.com/fleetsim/fleetsim/simulator"
	"github.com/fleetsim/fleetsim/telemetry"
	"github.com/fleetsim/fleetsim/workload"
)

var (
	ratesLo []int
	ratesHi []int

	noOfMessages int

	meanRequestSize1, stdRequestSize1 int
	meanOutputSize1, stdOutputSize1   int
	meanRequestSize2, stdRequestSize2 int
	meanOutputSize2, stdOutputSize2   int

	queueingPerc float64

	targetLatencyLo []float64
	targetLatencyHi []float64
	prefixLatencyLo []string
	prefixLatencyHi []string

	numberOfServers     int
	routingType         string
	estimatedOutputSize string
	outputFile          string

	configPath    string
	seed          int64
	metricsAddr   string
	dropLate      bool
	workloadTrace string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sweep arrival-rate scenarios and write a summary CSV",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().IntSliceVar(&ratesLo, "rates_lo", []int{40, 35, 30, 25, 20, 15, 10, 5, 1}, "Low-priority arrival rates, one scenario per index")
	runCmd.Flags().IntSliceVar(&ratesHi, "rates_hi", []int{40, 35, 30, 25, 20, 15, 10, 5, 1}, "High-priority arrival rates, parallel to --rates_lo")
	runCmd.Flags().IntVar(&noOfMessages, "no_of_messages", 2500, "Messages per priority class per scenario")

	runCmd.Flags().IntVar(&meanRequestSize1, "mean_request_size_1", 202, "Mean input size, class 1")
	runCmd.Flags().IntVar(&stdRequestSize1, "std_request_size_1", 20, "Input size stddev, class 1")
	runCmd.Flags().IntVar(&meanOutputSize1, "mean_output_size_1", 179, "Mean output size, class 1")
	runCmd.Flags().IntVar(&stdOutputSize1, "std_output_size_1", 17, "Output size stddev, class 1")

	runCmd.Flags().IntVar(&meanRequestSize2, "mean_request_size_2", 202, "Mean input size, class 2")
	runCmd.Flags().IntVar(&stdRequestSize2, "std_request_size_2", 20, "Input size stddev, class 2")
	runCmd.Flags().IntVar(&meanOutputSize2, "mean_output_size_2", 179, "Mean output size, class 2")
	runCmd.Flags().IntVar(&stdOutputSize2, "std_output_size_2", 17, "Output size stddev, class 2")

	runCmd.Flags().Float64Var(&queueingPerc, "queueing_perc", -1, "KV-saturation threshold that triggers admission queueing (default +Inf)")
	runCmd.Flags().Float64SliceVar(&targetLatencyLo, "target-latency-lo", []float64{0.025}, "Target per-token latencies for the low-priority class")
	runCmd.Flags().Float64SliceVar(&targetLatencyHi, "target-latency-hi", []float64{0.5}, "Target per-token latencies for the high-priority class")
	runCmd.Flags().StringSliceVar(&prefixLatencyLo, "prefix-latency-lo", []string{"lo"}, "Request ID prefix for the low-priority class")
	runCmd.Flags().StringSliceVar(&prefixLatencyHi, "prefix-latency-hi", []string{"hi"}, "Request ID prefix for the high-priority class")

	runCmd.Flags().IntVar(&numberOfServers, "number-of-servers", 6, "Number of servers in the fleet")
	runCmd.Flags().StringVar(&routingType, "routing-type", "random", "Routing policy: random, least, leastPseudo, leastlatency, smart, affinity")
	runCmd.Flags().StringVar(&estimatedOutputSize, "estimated_output_size", "mean", "How routing estimates output size: mean or p95")
	runCmd.Flags().StringVar(&outputFile, "output-file", "result.csv", "CSV output path")

	runCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML constants-table file (defaults built in if unset)")
	runCmd.Flags().Int64Var(&seed, "seed", 1, "Master RNG seed")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().BoolVar(&dropLate, "drop-late", false, "Drop admission-queued requests aged past 100x their target latency")
	runCmd.Flags().StringVar(&workloadTrace, "workload-trace", "", "Path to a tokenized ShareGPT trace file; overrides both classes' size distributions with its (input, output) pairs")
}

func runRun(cmd *cobra.Command, args []string) error {
	if len(ratesLo) != len(ratesHi) {
		return fmt.Errorf("--rates_lo and --rates_hi must have equal length, got %d and %d", len(ratesLo), len(ratesHi))
	}
	for _, size := range []int{
		meanRequestSize1, stdRequestSize1, meanOutputSize1, stdOutputSize1,
		meanRequestSize2, stdRequestSize2, meanOutputSize2, stdOutputSize2,
	} {
		if size < 0 {
			return fmt.Errorf("request and output size flags must be >= 0, got %d", size)
		}
	}
	if queueingPerc < 0 {
		queueingPerc = math.Inf(1)
	}
	if err := config.ValidateQueueingPerc(queueingPerc); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	policy := router.Policy(routingType)

	estOut1, estOut2 := estimatedOutputSizeFor(estimatedOutputSize, meanOutputSize1, stdOutputSize1, meanOutputSize2, stdOutputSize2)

	var tracePool []workload.SizePair
	if workloadTrace != "" {
		tracePool, err = loadShareGPTSizePool(workloadTrace)
		if err != nil {
			return err
		}
	}

	var collector *telemetry.Collector
	if metricsAddr != "" {
		collector = telemetry.NewCollector()
		server := telemetry.NewServer(metricsAddr, collector)
		go func() {
			if err := server.Serve(); err != nil {
				logrus.Errorf("telemetry server: %v", err)
			}
		}()
		defer server.Shutdown(context.Background())
	}

	var rows []report.Row

	for i := range ratesLo {
		rateLo := float64(ratesLo[i])
		rateHi := float64(ratesHi[i])
		horizon := float64(noOfMessages)/rateLo + 100

		rngGen := simrand.New(seed)

		loCfg := workload.Config{
			Rate:                rateLo,
			InputSize:           workload.SizeDistribution{Mean: float64(meanRequestSize1), Std: float64(stdRequestSize1)},
			OutputSize:          workload.SizeDistribution{Mean: float64(meanOutputSize1), Std: float64(stdOutputSize1)},
			SizePool:            tracePool,
			MaxInputSize:        cfg.Limits.MaxNumBatchTokens,
			TargetLatencies:     targetLatencyLo,
			IDPrefix:            firstOrDefault(prefixLatencyLo, "lo"),
			EstimatedOutputSize: estOut1,
		}
		hiCfg := workload.Config{
			Rate:                rateHi,
			InputSize:           workload.SizeDistribution{Mean: float64(meanRequestSize2), Std: float64(stdRequestSize2)},
			OutputSize:          workload.SizeDistribution{Mean: float64(meanOutputSize2), Std: float64(stdOutputSize2)},
			SizePool:            tracePool,
			MaxInputSize:        cfg.Limits.MaxNumBatchTokens,
			TargetLatencies:     targetLatencyHi,
			IDPrefix:            firstOrDefault(prefixLatencyHi, "hi"),
			EstimatedOutputSize: estOut2,
		}

		loGen := workload.New(loCfg, rngGen.For("workload-lo"))
		hiGen := workload.New(hiCfg, rngGen.For("workload-hi"))

		// messages_remaining_cnt is shared by both classes and counts
		// no_of_messages*2 total, matching the reference main.py's
		// per-scenario LoadBalancer setup.
		remaining := workload.NewMessagesRemaining(noOfMessages * 2)

		sim := simulator.New(cfg, numberOfServers, []*workload.Generator{loGen, hiGen}, remaining, policy, queueingPerc, dropLate, seed, logrus.StandardLogger())
		if err := sim.Run(horizon); err != nil {
			return fmt.Errorf("scenario %d (rate_lo=%d): %w", i, ratesLo[i], err)
		}
		if collector != nil {
			collector.Observe(sim.Servers(), 0)
		}

		rows = append(rows, report.Summarize(
			outputFile, routingType, ratesLo[i], sim.Requests(),
			loCfg.IDPrefix, hiCfg.IDPrefix,
			firstFloat(targetLatencyLo, 0.025), firstFloat(targetLatencyHi, 0.5),
			noOfMessages,
		))
		logrus.Infof("scenario %d/%d done: rate_lo=%d rate_hi=%d", i+1, len(ratesLo), ratesLo[i], ratesHi[i])
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("creating output file %q: %w", outputFile, err)
	}
	defer f.Close()
	if err := report.Write(f, rows); err != nil {
		return err
	}

	return nil
}

func estimatedOutputSizeFor(mode string, mean1, std1, mean2, std2 int) (int, int) {
	switch mode {
	case "p95":
		return mean1 + 2*std1, mean2 + 2*std2
	default:
		return mean1, mean2
	}
}

func firstOrDefault(values []string, def string) string {
	if len(values) > 0 {
		return values[0]
	}
	return def
}

func firstFloat(values []float64, def float64) float64 {
	if len(values) > 0 {
		return values[0]
	}
	return def
}

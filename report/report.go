// Package report aggregates a finished run's requests into the summary
// row format the reference implementation's main.py writes to CSV, and
// writes one or more such rows to a csv.Writer.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/fleetsim/fleetsim/request"
)

// Row is one (job, routing type, rate index) summary line, matching
// main.py's fieldnames exactly: Job, RoutingType, RateIndex, Latency,
// Latency_Lo, Latency_Hi, avg_prefill_queue_size,
// avg_pending_tokens_perc, avg_actual_tokens_perc,
// pct_below_latency_target_lo, pct_below_latency_target_hi,
// num_req_lo, num_req_hi.
type Row struct {
	Job          string
	RoutingType  string
	RateIndex    int
	Latency      float64
	LatencyLo    float64
	LatencyHi    float64

	AvgPrefillQueueSize  float64
	AvgPendingTokensPerc float64
	AvgActualTokensPerc  float64

	PctBelowLatencyTargetLo float64
	PctBelowLatencyTargetHi float64

	NumReqLo int
	NumReqHi int
}

// Header lists the CSV columns in the order main.py writes them.
var Header = []string{
	"Job", "RoutingType", "RateIndex",
	"Latency", "Latency_Lo", "Latency_Hi",
	"avg_prefill_queue_size", "avg_pending_tokens_perc", "avg_actual_tokens_perc",
	"pct_below_latency_target_lo", "pct_below_latency_target_hi",
	"num_req_lo", "num_req_hi",
}

// Summarize reduces a run's generated requests into one Row. loPrefix
// and hiPrefix classify a request by its ID's "prefix:" convention
// (workload.Generator formats IDs as "{prefix}: {n}"), mirroring
// main.py's "lo:" / "hi:" substring check. targetLatencyLo/Hi are the
// SLO thresholds the lo/hi classes were generated against, and
// noOfMessages is the per-class message budget used to scale the
// percentage columns down to account for excluded (unfinished)
// requests, exactly as main.py's final CSV-row computation does.
func Summarize(job, routingType string, rateIndex int, requests []*request.Request, loPrefix, hiPrefix string, targetLatencyLo, targetLatencyHi float64, noOfMessages int) Row {
	var completed, completedLo, completedHi []*request.Request
	for _, r := range requests {
		if !r.Terminal() {
			continue
		}
		completed = append(completed, r)
		switch classify(r.ID, loPrefix, hiPrefix) {
		case classLo:
			completedLo = append(completedLo, r)
		case classHi:
			completedHi = append(completedHi, r)
		}
	}

	row := Row{
		Job:         job,
		RoutingType: routingType,
		RateIndex:   rateIndex,
		NumReqLo:    len(completedLo),
		NumReqHi:    len(completedHi),
	}

	row.Latency = meanLatency(completed)
	row.LatencyLo = meanLatency(completedLo)
	row.LatencyHi = meanLatency(completedHi)

	row.AvgPrefillQueueSize = meanInt(completed, func(r *request.Request) int { return r.QueueSizeBeforePrefill })
	row.AvgPendingTokensPerc = meanFloat(completed, func(r *request.Request) float64 { return r.PendingTokensPercAtArrival })
	row.AvgActualTokensPerc = meanFloat(completed, func(r *request.Request) float64 { return r.ActualTokensPercAtArrival })

	belowLo := pctBelowTarget(completedLo, targetLatencyLo)
	belowHi := pctBelowTarget(completedHi, targetLatencyHi)
	if noOfMessages > 0 {
		row.PctBelowLatencyTargetLo = belowLo * float64(row.NumReqLo) / float64(noOfMessages)
		row.PctBelowLatencyTargetHi = belowHi * float64(row.NumReqHi) / float64(noOfMessages)
	}

	return row
}

type class int

const (
	classNeither class = iota
	classLo
	classHi
)

func classify(id, loPrefix, hiPrefix string) class {
	switch {
	case loPrefix != "" && strings.HasPrefix(id, loPrefix+":"):
		return classLo
	case hiPrefix != "" && strings.HasPrefix(id, hiPrefix+":"):
		return classHi
	default:
		return classNeither
	}
}

func meanLatency(reqs []*request.Request) float64 {
	return meanFloat(reqs, func(r *request.Request) float64 { return r.Latency() })
}

func meanFloat(reqs []*request.Request, f func(*request.Request) float64) float64 {
	if len(reqs) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, r := range reqs {
		sum += f(r)
	}
	return sum / float64(len(reqs))
}

func meanInt(reqs []*request.Request, f func(*request.Request) int) float64 {
	return meanFloat(reqs, func(r *request.Request) float64 { return float64(f(r)) })
}

func pctBelowTarget(reqs []*request.Request, target float64) float64 {
	if len(reqs) == 0 {
		return math.NaN()
	}
	below := 0
	for _, r := range reqs {
		if r.Latency() < target {
			below++
		}
	}
	return float64(below) / float64(len(reqs)) * 100
}

// Write emits header and rows as CSV to w, in main.py's exact column
// order.
func Write(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Job,
			row.RoutingType,
			strconv.Itoa(row.RateIndex),
			formatFloat(row.Latency),
			formatFloat(row.LatencyLo),
			formatFloat(row.LatencyHi),
			formatFloat(row.AvgPrefillQueueSize),
			formatFloat(row.AvgPendingTokensPerc),
			formatFloat(row.AvgActualTokensPerc),
			formatFloat(row.PctBelowLatencyTargetLo),
			formatFloat(row.PctBelowLatencyTargetHi),
			strconv.Itoa(row.NumReqLo),
			strconv.Itoa(row.NumReqHi),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

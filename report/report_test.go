package report

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetsim/request"
)

func finishedRequest(id string, arrival, endDecode float64, input, output int) *request.Request {
	r := request.New(id, arrival, input, output)
	r.OutputRemaining = 0
	r.EndDecode = endDecode
	return r
}

func TestSummarizeClassifiesByIDPrefix(t *testing.T) {
	reqs := []*request.Request{
		finishedRequest("lo: 0", 0, 1, 10, 5),
		finishedRequest("hi: 0", 0, 2, 10, 5),
	}
	row := Summarize("out.csv", "random", 10, reqs, "lo", "hi", 0.025, 0.5, 1)

	require.Equal(t, "out.csv", row.Job)
	require.Equal(t, 1, row.NumReqLo)
	require.Equal(t, 1, row.NumReqHi)
	require.InDelta(t, 0.2, row.LatencyLo, 1e-9)
	require.InDelta(t, 0.4, row.LatencyHi, 1e-9)
}

func TestSummarizeIgnoresUnfinishedRequests(t *testing.T) {
	done := finishedRequest("lo: 0", 0, 1, 10, 5)
	pending := request.New("lo: 1", 0, 10, 5)
	row := Summarize("out.csv", "smart", 5, []*request.Request{done, pending}, "lo", "hi", 0.025, 0.5, 2)
	require.Equal(t, 1, row.NumReqLo)
}

func TestSummarizeEmptyClassIsNaN(t *testing.T) {
	row := Summarize("out.csv", "random", 1, nil, "lo", "hi", 0.025, 0.5, 1)
	require.True(t, math.IsNaN(row.Latency))
	require.True(t, math.IsNaN(row.LatencyLo))
}

func TestWriteProducesHeaderAndRows(t *testing.T) {
	row := Row{Job: "out.csv", RoutingType: "random", RateIndex: 10, Latency: 0.5, NumReqLo: 3, NumReqHi: 2}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []Row{row}))

	out := buf.String()
	require.Contains(t, out, "Job,RoutingType,RateIndex")
	require.Contains(t, out, "out.csv,random,10,0.5")
}

func TestWriteEmitsEmptyStringForNaN(t *testing.T) {
	row := Summarize("out.csv", "random", 1, nil, "lo", "hi", 0.025, 0.5, 1)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []Row{row}))
	require.Contains(t, buf.String(), "out.csv,random,1,,,,,,,,,0,0")
}

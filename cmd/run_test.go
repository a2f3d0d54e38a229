package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunCmdDefaultFlags(t *testing.T) {
	noOfMessagesFlag := runCmd.Flags().Lookup("no_of_messages")
	require.NotNil(t, noOfMessagesFlag)
	require.Equal(t, "2500", noOfMessagesFlag.DefValue)

	routingTypeFlag := runCmd.Flags().Lookup("routing-type")
	require.NotNil(t, routingTypeFlag)
	require.Equal(t, "random", routingTypeFlag.DefValue)

	serversFlag := runCmd.Flags().Lookup("number-of-servers")
	require.NotNil(t, serversFlag)
	require.Equal(t, "6", serversFlag.DefValue)
}

func TestEstimatedOutputSizeForMean(t *testing.T) {
	o1, o2 := estimatedOutputSizeFor("mean", 179, 17, 202, 20)
	require.Equal(t, 179, o1)
	require.Equal(t, 202, o2)
}

func TestEstimatedOutputSizeForP95(t *testing.T) {
	o1, o2 := estimatedOutputSizeFor("p95", 179, 17, 202, 20)
	require.Equal(t, 179+34, o1)
	require.Equal(t, 202+40, o2)
}

func TestFirstOrDefaultFallsBackWhenEmpty(t *testing.T) {
	require.Equal(t, "lo", firstOrDefault(nil, "lo"))
	require.Equal(t, "x", firstOrDefault([]string{"x", "y"}, "lo"))
}

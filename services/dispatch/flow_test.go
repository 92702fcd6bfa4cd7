package dispatch

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tuple(clientPort, serverPort uint16) Tuple {
	return Tuple{
		Protocol:      6,
		ClientAddress: net.ParseIP("10.0.0.1"),
		ClientPort:    clientPort,
		ServerAddress: net.ParseIP("93.184.216.34"),
		ServerPort:    serverPort,
	}
}

func TestFlowKeyForIsDirectionIndependent(t *testing.T) {
	fwd, _ := flowKeyFor(6, "10.0.0.1", 51000, "93.184.216.34", 443)
	rev, _ := flowKeyFor(6, "93.184.216.34", 443, "10.0.0.1", 51000)
	assert.Equal(t, fwd, rev, "flow keys for the two directions of the same connection must match")
}

func TestFindOrCreateFlowReusesEntryAcrossDirections(t *testing.T) {
	Startup()
	defer Shutdown()

	tup := tuple(51000, 443)
	reverse := Tuple{Protocol: 6, ClientAddress: tup.ServerAddress, ClientPort: tup.ServerPort, ServerAddress: tup.ClientAddress, ServerPort: tup.ClientPort}

	out, dirOut := findOrCreateFlow(tup, 100, time.Now())
	require.True(t, dirOut, "the first-seen client-side segment should report dirOut=true")

	in, dirOut2 := findOrCreateFlow(reverse, 200, time.Now())
	assert.False(t, dirOut2, "the reverse-direction segment should report dirOut=false")
	require.Same(t, out, in, "both directions should resolve to the same FlowEntry")
	assert.EqualValues(t, 2, in.PacketCount)
	assert.EqualValues(t, 300, in.ByteCount)
}

func TestSweepIdleFlowsEvictsPastTimeout(t *testing.T) {
	Startup()
	defer Shutdown()

	tup := tuple(51001, 443)
	entry, _ := findOrCreateFlow(tup, 10, time.Now())
	entry.LastActivityTime = time.Now().Add(-2 * flowIdleTimeout)

	sweepIdleFlows()

	key, _ := flowKeyFor(tup.Protocol, tup.ClientAddress.String(), tup.ClientPort, tup.ServerAddress.String(), tup.ServerPort)
	flowMutex.Lock()
	_, found := flowTable[key]
	flowMutex.Unlock()
	assert.False(t, found, "the idle flow should have been evicted")
}

func TestRecentReportsRingBufferCapsAndOrders(t *testing.T) {
	recentReportsMutex.Lock()
	recentReports = nil
	recentReportsMutex.Unlock()

	for i := 0; i < recentReportsCapacity+5; i++ {
		pushRecentReport(string(rune('a' + (i % 26))))
	}

	got := RecentReports(3)
	require.Len(t, got, 3)
	// The last three pushes were i=504,503,502 -> 'k','j','i'; newest first.
	assert.Equal(t, []string{"k", "j", "i"}, got)

	recentReportsMutex.Lock()
	n := len(recentReports)
	recentReportsMutex.Unlock()
	assert.Equal(t, recentReportsCapacity, n)
}

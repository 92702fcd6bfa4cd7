// Package dispatch maintains the table of active TLS flows observed by
// the capture pipeline and drives their lifecycle from creation through
// idle eviction and report emission.
package dispatch

import (
	"sync"
	"time"

	"github.com/untangle/tlsflowd/services/flowstore"
	"github.com/untangle/tlsflowd/services/logger"
	"github.com/untangle/tlsflowd/services/overseer"
	"github.com/untangle/tlsflowd/services/zmqd"
	"github.com/untangle/tlsflowd/tlsflow"
)

// FlowKey identifies a TCP flow independent of packet direction.
type FlowKey struct {
	Protocol uint8
	LowAddr  string
	LowPort  uint16
	HighAddr string
	HighPort uint16
}

// flowKeyFor normalizes an address/port pair into a direction-independent
// key so that client->server and server->client segments of the same
// connection land in the same FlowEntry.
func flowKeyFor(protocol uint8, aAddr string, aPort uint16, bAddr string, bPort uint16) (key FlowKey, clientIsA bool) {
	if aAddr < bAddr || (aAddr == bAddr && aPort < bPort) {
		return FlowKey{Protocol: protocol, LowAddr: aAddr, LowPort: aPort, HighAddr: bAddr, HighPort: bPort}, true
	}
	return FlowKey{Protocol: protocol, LowAddr: bAddr, LowPort: bPort, HighAddr: aAddr, HighPort: aPort}, false
}

// FlowEntry tracks one bidirectional TCP flow's TLS state, replacing
// the conntrack-keyed SessionEntry of the NFQUEUE dispatcher with a
// plain 5-tuple key and a pair of dissector accumulators.
type FlowEntry struct {
	ClientSideTuple   Tuple
	ServerSideTuple   Tuple
	Out               *tlsflow.TlsInfo // client -> server
	In                *tlsflow.TlsInfo // server -> client
	CreationTime      time.Time
	LastActivityTime  time.Time
	PacketCount       uint64
	ByteCount         uint64
}

var flowTable map[FlowKey]*FlowEntry
var flowMutex sync.Mutex

const flowIdleTimeout = 60 * time.Second

// Startup initializes the flow table. cmd/tlsflowd calls this before
// starting the capture loop in dispatch.go.
func Startup() {
	flowMutex.Lock()
	flowTable = make(map[FlowKey]*FlowEntry)
	flowMutex.Unlock()
}

// Shutdown flushes every remaining flow as a final report before the
// process exits.
func Shutdown() {
	flowMutex.Lock()
	keys := make([]FlowKey, 0, len(flowTable))
	for k := range flowTable {
		keys = append(keys, k)
	}
	flowMutex.Unlock()

	for _, k := range keys {
		finalizeFlow(k, "shutdown")
	}
}

// findOrCreateFlow returns the FlowEntry for the given segment,
// creating one if this is the first segment observed for the flow.
// dirOut reports whether the segment travels in the client->server
// ("out") direction relative to the flow's recorded client tuple.
func findOrCreateFlow(tuple Tuple, payloadLen int, arrival time.Time) (entry *FlowEntry, dirOut bool) {
	key, _ := flowKeyFor(tuple.Protocol, tuple.ClientAddress.String(), tuple.ClientPort, tuple.ServerAddress.String(), tuple.ServerPort)

	flowMutex.Lock()
	defer flowMutex.Unlock()

	entry, found := flowTable[key]
	if !found {
		entry = &FlowEntry{
			ClientSideTuple:  tuple,
			ServerSideTuple:  Tuple{Protocol: tuple.Protocol, ClientAddress: tuple.ServerAddress, ClientPort: tuple.ServerPort, ServerAddress: tuple.ClientAddress, ServerPort: tuple.ClientPort},
			Out:              &tlsflow.TlsInfo{},
			In:               &tlsflow.TlsInfo{},
			CreationTime:     arrival,
			LastActivityTime: arrival,
		}
		entry.Out.Init()
		entry.In.Init()
		flowTable[key] = entry
		overseer.AddCounter("flows_active", 1)
		logger.Debug("New flow %s\n", tuple.String())
	}

	entry.LastActivityTime = arrival
	entry.PacketCount++
	entry.ByteCount += uint64(payloadLen)

	// A segment travels in the client->server direction whenever its
	// observed tuple matches the tuple recorded when the flow was
	// created; the reverse tuple is the server->client direction.
	dirOut = tuple.Equal(entry.ClientSideTuple)
	return entry, dirOut
}

// feedSegment dissects one reassembled, in-order TCP payload into the
// flow's Out or In accumulator depending on direction.
func feedSegment(tuple Tuple, payload []byte, arrival time.Time) {
	if len(payload) == 0 {
		return
	}
	entry, dirOut := findOrCreateFlow(tuple, len(payload), arrival)

	flowMutex.Lock()
	info := entry.In
	if dirOut {
		info = entry.Out
	}
	flowMutex.Unlock()

	tlsflow.Feed(info, arrival, payload)
}

// sweepIdleFlows finalizes and evicts every flow whose last activity
// predates the idle timeout.
func sweepIdleFlows() {
	cutoff := time.Now().Add(-flowIdleTimeout)

	flowMutex.Lock()
	var stale []FlowKey
	for k, entry := range flowTable {
		if entry.LastActivityTime.Before(cutoff) {
			stale = append(stale, k)
		}
	}
	flowMutex.Unlock()

	for _, k := range stale {
		finalizeFlow(k, "idle")
	}
}

// finalizeFlow emits a report (if one side carries a recognized TLS
// version), hands it off to the durable store and export transports,
// releases the dissector accumulators, and removes the flow.
func finalizeFlow(key FlowKey, reason string) {
	flowMutex.Lock()
	entry, found := flowTable[key]
	if !found {
		flowMutex.Unlock()
		return
	}
	delete(flowTable, key)
	flowMutex.Unlock()

	overseer.AddCounter("flows_expired", 1)
	logger.Debug("Flow %s finalized (%s)\n", entry.ClientSideTuple.String(), reason)

	raw, ok := tlsflow.Emit(entry.Out, entry.In)
	if ok {
		publishReport(entry, raw)
	}

	entry.Out.Release()
	entry.In.Release()
}

// publishReport hands a finalized flow's JSON report to the durable
// store, the ZMQ export feed, and the in-memory ring buffer the REST
// query API reads from.
func publishReport(entry *FlowEntry, reportJSON []byte) {
	flowstore.Store(flowstore.FlowReport{
		Timestamp:     entry.LastActivityTime,
		Protocol:      entry.ClientSideTuple.Protocol,
		ClientAddress: entry.ClientSideTuple.ClientAddress.String(),
		ClientPort:    entry.ClientSideTuple.ClientPort,
		ServerAddress: entry.ClientSideTuple.ServerAddress.String(),
		ServerPort:    entry.ClientSideTuple.ServerPort,
		ReportJSON:    string(reportJSON),
	})

	zmqd.Publish(entry.ClientSideTuple.ServerAddress.String(), reportJSON)

	pushRecentReport(string(reportJSON))
	overseer.AddCounter("reports_emitted", 1)
}

const recentReportsCapacity = 500

var recentReports []string
var recentReportsMutex sync.Mutex

// pushRecentReport appends to the fixed-capacity ring buffer that
// backs the REST API's most-recent-flows endpoint.
func pushRecentReport(reportJSON string) {
	recentReportsMutex.Lock()
	defer recentReportsMutex.Unlock()

	recentReports = append(recentReports, reportJSON)
	if len(recentReports) > recentReportsCapacity {
		recentReports = recentReports[len(recentReports)-recentReportsCapacity:]
	}
}

// RecentReports returns up to limit of the most recently emitted flow
// reports, newest first.
func RecentReports(limit int) []string {
	recentReportsMutex.Lock()
	defer recentReportsMutex.Unlock()

	n := len(recentReports)
	if limit > n {
		limit = n
	}
	out := make([]string, limit)
	for i := 0; i < limit; i++ {
		out[i] = recentReports[n-1-i]
	}
	return out
}

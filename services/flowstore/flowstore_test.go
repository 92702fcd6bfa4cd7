package flowstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowReportFields(t *testing.T) {
	r := FlowReport{
		Protocol:      6,
		ClientAddress: "10.0.0.1",
		ClientPort:    443,
		ServerAddress: "10.0.0.2",
		ServerPort:    55000,
		ReportJSON:    `{"tls":{}}`,
	}
	assert.EqualValues(t, 6, r.Protocol)
	assert.EqualValues(t, 443, r.ClientPort)
}

func TestStoreDropsWhenQueueFull(t *testing.T) {
	writeQueue = make(chan FlowReport, 1)
	writeQueue <- FlowReport{}

	// Store must not block even though the queue has no room.
	done := make(chan struct{})
	go func() {
		Store(FlowReport{})
		close(done)
	}()
	<-done
}

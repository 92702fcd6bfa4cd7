package statprobe

import (
	"testing"

	"github.com/c9s/goprocinfo/linux"
	"github.com/stretchr/testify/assert"
)

func TestCPUTotalsSumsAllFields(t *testing.T) {
	stat := &linux.Stat{
		CPUStatAll: linux.CPUStat{
			User: 100, Nice: 10, System: 20, Idle: 500, IOWait: 5, IRQ: 1, SoftIRQ: 1, Steal: 0, Guest: 0,
		},
	}

	total, idle := cpuTotals(stat)
	assert.EqualValues(t, 637, total)
	assert.EqualValues(t, 505, idle)
}

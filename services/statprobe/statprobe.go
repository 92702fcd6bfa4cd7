// Package statprobe samples host-wide CPU and memory use from
// /proc/stat and /proc/meminfo and feeds it into the overseer counter
// table, grounded on plugins/stats's periodic /proc sampling loop but
// reading CPU and memory rather than interface traffic counters.
package statprobe

import (
	"time"

	"github.com/c9s/goprocinfo/linux"

	"github.com/untangle/tlsflowd/services/logger"
	"github.com/untangle/tlsflowd/services/overseer"
)

const sampleInterval = 30 * time.Second

var shutdownChannel = make(chan bool)
var lastTotal uint64
var lastIdle uint64

// Startup starts the periodic sampling task.
func Startup() {
	go sampleTask()
}

// Shutdown stops the periodic sampling task.
func Shutdown() {
	shutdownChannel <- true
	select {
	case <-shutdownChannel:
	case <-time.After(10 * time.Second):
		logger.Err("Failed to properly shutdown statprobe sampleTask\n")
	}
}

func sampleTask() {
	for {
		select {
		case <-shutdownChannel:
			shutdownChannel <- true
			return
		case <-time.After(sampleInterval):
			sampleOnce()
		}
	}
}

func sampleOnce() {
	if stat, err := linux.ReadStat("/proc/stat"); err == nil {
		total, idle := cpuTotals(stat)
		if lastTotal != 0 && total > lastTotal {
			busyDelta := (total - lastTotal) - (idle - lastIdle)
			pct := uint64(0)
			if total != lastTotal {
				pct = (busyDelta * 100) / (total - lastTotal)
			}
			overseer.AddCounter("cpu_percent_busy", pct)
		}
		lastTotal, lastIdle = total, idle
	} else {
		logger.Debug("Unable to read /proc/stat: %s\n", err.Error())
	}

	if mem, err := linux.ReadMemInfo("/proc/meminfo"); err == nil {
		overseer.AddCounter("mem_total_kb", mem.MemTotal)
		overseer.AddCounter("mem_free_kb", mem.MemFree)
	} else {
		logger.Debug("Unable to read /proc/meminfo: %s\n", err.Error())
	}
}

// cpuTotals sums the aggregate "cpu" line of /proc/stat into a total
// jiffy count and an idle jiffy count.
func cpuTotals(stat *linux.Stat) (total uint64, idle uint64) {
	cpu := stat.CPUStatAll
	total = cpu.User + cpu.Nice + cpu.System + cpu.Idle + cpu.IOWait + cpu.IRQ + cpu.SoftIRQ + cpu.Steal + cpu.Guest
	idle = cpu.Idle + cpu.IOWait
	return total, idle
}

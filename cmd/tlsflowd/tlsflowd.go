package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/untangle/tlsflowd/services/certcache"
	"github.com/untangle/tlsflowd/services/dispatch"
	"github.com/untangle/tlsflowd/services/flowstore"
	"github.com/untangle/tlsflowd/services/geoip"
	"github.com/untangle/tlsflowd/services/logger"
	"github.com/untangle/tlsflowd/services/overseer"
	"github.com/untangle/tlsflowd/services/restd"
	"github.com/untangle/tlsflowd/services/settings"
	"github.com/untangle/tlsflowd/services/statprobe"
	"github.com/untangle/tlsflowd/services/zmqd"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var memProfileTarget string
var cpuProfileTarget string
var logFileTarget string
var noTimestampFlag bool
var debugFlag bool
var versionFlag bool

var shutdownChannel = make(chan bool)

func main() {
	logger.Startup()
	parseArguments()

	printVersion()

	cfg := settings.LoadDaemonConfig()

	startServices(cfg)

	handleSignals()

	if len(cpuProfileTarget) > 0 {
		startCPUProfiling()
	}

	logger.Info("Starting capture on %v\n", captureTarget(cfg))
	go func() {
		if err := dispatch.StartCapture(captureConfig(cfg)); err != nil {
			logger.Err("Capture failed to start: %s\n", err.Error())
			shutdownChannel <- true
		}
	}()

	for {
		select {
		case <-shutdownChannel:
			logger.Info("Shutdown initiated...\n")
			goto shutdown
		case <-time.After(1 * time.Hour):
			printStats()
		}
	}

shutdown:
	dispatch.StopCapture()

	logger.Info("Stopping services...\n")

	if len(cpuProfileTarget) > 0 {
		stopCPUProfiling()
	}

	if len(memProfileTarget) > 0 {
		f, err := os.Create(memProfileTarget)
		if err == nil {
			runtime.GC()
			pprof.WriteHeapProfile(f)
			f.Close()
		}
	}

	stopServices()
}

func printVersion() {
	logger.Info("TLS Flow Daemon Version %s\n", Version)
}

// parseArguments parses the command line arguments
func parseArguments() {
	versionPtr := flag.Bool("version", false, "version")
	debugPtr := flag.Bool("debug", false, "enable debug")
	timestampPtr := flag.Bool("no-timestamp", false, "disable timestamp in logging")
	cpuProfilePtr := flag.String("cpuprofile", "", "write cpu profile to file")
	memProfilePtr := flag.String("memprofile", "", "write memory profile to file")
	logFilePtr := flag.String("logfile", "", "file to redirect stdout/stderr")
	interfacePtr := flag.String("interface", "", "network interface to capture on")
	captureFilePtr := flag.String("capture", "", "read packets from a pcap file instead of a live interface")
	filterPtr := flag.String("filter", "", "BPF capture filter")

	flag.Parse()

	if *versionPtr {
		printVersion()
		os.Exit(0)
	}

	debugFlag = *debugPtr
	noTimestampFlag = *timestampPtr

	if noTimestampFlag {
		logger.DisableTimestamp()
	}

	if *cpuProfilePtr != "" {
		cpuProfileTarget = *cpuProfilePtr
	}

	if *memProfilePtr != "" {
		memProfileTarget = *memProfilePtr
	}

	if *logFilePtr != "" {
		logFileTarget = *logFilePtr
		logFile, err := os.OpenFile(logFileTarget, os.O_WRONLY|os.O_CREATE|os.O_SYNC|os.O_TRUNC, 0755)
		if err != nil {
			panic("Failed to write to log file\n")
		}
		syscall.Dup2(int(logFile.Fd()), 1)
		syscall.Dup2(int(logFile.Fd()), 2)
	}

	cliInterface = *interfacePtr
	cliCaptureFile = *captureFilePtr
	cliFilter = *filterPtr
}

var cliInterface string
var cliCaptureFile string
var cliFilter string

func captureTarget(cfg settings.DaemonConfig) string {
	if cliCaptureFile != "" {
		return cliCaptureFile
	}
	if cliInterface != "" {
		return cliInterface
	}
	if cfg.CaptureFile != "" {
		return cfg.CaptureFile
	}
	return cfg.CaptureInterface
}

func captureConfig(cfg settings.DaemonConfig) dispatch.Config {
	c := dispatch.DefaultConfig()
	c.Interface = cfg.CaptureInterface
	c.CaptureFile = cfg.CaptureFile
	c.BPFFilter = cfg.BPFFilter

	if cliInterface != "" {
		c.Interface = cliInterface
		c.CaptureFile = ""
	}
	if cliCaptureFile != "" {
		c.CaptureFile = cliCaptureFile
		c.Interface = ""
	}
	if cliFilter != "" {
		c.BPFFilter = cliFilter
	}
	return c
}

// startServices starts all the services in dependency order.
func startServices(cfg settings.DaemonConfig) {
	logger.Info("Starting services...\n")

	settings.Startup()
	overseer.Startup()
	certcache.Startup()
	flowstore.Startup()
	zmqd.Startup(cfg.ZmqEndpoint)
	geoip.Startup(cfg.GeoIPDatabasePath)
	statprobe.Startup()
	restd.Startup(cfg.RestBindAddress, cfg.RestJWTSecret)
	dispatch.Startup()
}

// stopServices stops all the services, in reverse dependency order.
func stopServices() {
	c := make(chan bool)
	go func() {
		dispatch.Shutdown()
		restd.Shutdown()
		statprobe.Shutdown()
		geoip.Shutdown()
		zmqd.Shutdown()
		flowstore.Shutdown()
		certcache.Shutdown()
		overseer.Shutdown()
		settings.Shutdown()
		logger.Shutdown()
		c <- true
	}()

	select {
	case <-c:
	case <-time.After(10 * time.Second):
		// can't use logger as it may be stopped
		fmt.Printf("ERROR: Failed to properly shutdown services\n")
		time.Sleep(1 * time.Second)
	}
}

// handleSignals wires SIGINT/SIGTERM to a clean shutdown and SIGQUIT to a
// goroutine stack dump for diagnosing a hang.
func handleSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-ch
		logger.Warn("Received signal [%v]. Shutting down\n", sig)
		shutdownChannel <- true
	}()

	quitch := make(chan os.Signal, 1)
	signal.Notify(quitch, syscall.SIGQUIT)
	go func() {
		for {
			<-quitch
			go dumpStack()
		}
	}()
}

// printStats logs a periodic summary of runtime memory and counters.
func printStats() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	logger.Info("Memory Alloc: %d kB\n", mem.Alloc/1024)
	logger.Info("Memory HeapAlloc: %d kB\n", mem.HeapAlloc/1024)
	logger.Info("Memory HeapSys: %d kB\n", mem.HeapSys/1024)

	report := overseer.GenerateReport()
	logger.Info("Counters:\n%s\n", report.String())
}

// startCPUProfiling starts the CPU profiling processing
func startCPUProfiling() {
	f, err := os.Create(cpuProfileTarget)
	if err != nil {
		logger.Err("Could not create CPU profile: %s\n", err.Error())
		return
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		logger.Err("Could not start CPU profile: %s\n", err.Error())
	}
}

// stopCPUProfiling stops the CPU profiling processing
func stopCPUProfiling() {
	pprof.StopCPUProfile()
}

// dumpStack writes a goroutine dump to /tmp/tlsflowd.stack and the log, for
// diagnosing a hang at shutdown.
func dumpStack() {
	buf := make([]byte, 1<<20)
	stacklen := runtime.Stack(buf, true)
	ioutil.WriteFile("/tmp/tlsflowd.stack", buf[:stacklen], 0644)
	logger.Warn("Printing Thread Dump...\n")
	logger.Warn("\n\n%s\n\n", buf[:stacklen])
	logger.Warn("Thread dump complete.\n")
}

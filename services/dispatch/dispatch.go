// Package dispatch captures TCP traffic passively from a live interface
// or an offline capture file, reassembles each direction of every TCP
// flow, and feeds the reassembled byte stream into the tlsflow
// dissector. It replaces the NFQUEUE/conntrack kernel-event dispatcher
// of a forwarding proxy with a read-only pcap tap appropriate for a
// flow-awareness daemon that never touches the packets it observes.
package dispatch

import (
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/tcpassembly"
	"github.com/google/gopacket/tcpassembly/tcpreader"

	"github.com/untangle/tlsflowd/services/logger"
	"github.com/untangle/tlsflowd/services/overseer"
)

// Config carries the capture parameters read from settings by the
// command's startup sequence.
type Config struct {
	// Interface is a live NIC name (e.g. "eth0"). Mutually exclusive
	// with CaptureFile.
	Interface string
	// CaptureFile is an offline pcap/pcapng file to read instead of a
	// live interface. Used for tests and replay.
	CaptureFile string
	// Snaplen bounds how many bytes of each packet are captured.
	Snaplen int32
	// BPFFilter restricts capture to TCP traffic by default.
	BPFFilter string
	// SweepInterval controls how often idle flows are checked.
	SweepInterval time.Duration
}

// DefaultConfig returns the capture configuration used when settings
// does not override it.
func DefaultConfig() Config {
	return Config{
		Snaplen:       262144,
		BPFFilter:     "tcp",
		SweepInterval: 10 * time.Second,
	}
}

var shutdownChannel chan bool
var activeHandle *pcap.Handle

// tlsStreamFactory implements tcpassembly.StreamFactory, handing every
// new TCP half-connection a tlsStream that feeds its reassembled bytes
// straight into the flow table.
type tlsStreamFactory struct{}

type tlsStream struct {
	tuple Tuple
	r     tcpreader.ReaderStream
}

func (f *tlsStreamFactory) New(net, transport gopacket.Flow) tcpassembly.Stream {
	stream := &tlsStream{r: tcpreader.NewReaderStream()}

	srcIP := net.Src().String()
	dstIP := net.Dst().String()
	srcPort, dstPort := portsFromFlow(transport)

	// tcpassembly hands us each direction of a connection separately;
	// the flow table normalizes both into the same FlowEntry via
	// flowKeyFor, so which side we label "client" here only needs to
	// be consistent for the lifetime of this one stream.
	stream.tuple = Tuple{
		Protocol:      6, // TCP
		ClientAddress: net2IP(srcIP),
		ClientPort:    srcPort,
		ServerAddress: net2IP(dstIP),
		ServerPort:    dstPort,
	}

	go stream.run()
	return &stream.r
}

func (s *tlsStream) run() {
	buf := make([]byte, 16384)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			feedSegment(s.tuple, payload, time.Now())
			overseer.AddCounter("bytes_observed", uint64(n))
		}
		if err != nil {
			return
		}
	}
}

func net2IP(s string) net.IP {
	return net.ParseIP(s)
}

func portsFromFlow(transport gopacket.Flow) (uint16, uint16) {
	src := transport.Src().Raw()
	dst := transport.Dst().Raw()
	if len(src) != 2 || len(dst) != 2 {
		return 0, 0
	}
	return uint16(src[0])<<8 | uint16(src[1]), uint16(dst[0])<<8 | uint16(dst[1])
}

// StartCapture opens the configured interface or capture file and runs
// the capture loop until StopCapture is called. It blocks, so callers
// should run it in its own goroutine.
func StartCapture(cfg Config) error {
	var handle *pcap.Handle
	var err error

	if cfg.CaptureFile != "" {
		handle, err = pcap.OpenOffline(cfg.CaptureFile)
	} else {
		handle, err = pcap.OpenLive(cfg.Interface, cfg.Snaplen, true, pcap.BlockForever)
	}
	if err != nil {
		return err
	}
	activeHandle = handle

	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return err
		}
	}

	streamFactory := &tlsStreamFactory{}
	streamPool := tcpassembly.NewStreamPool(streamFactory)
	assembler := tcpassembly.NewAssembler(streamPool)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := packetSource.Packets()

	logger.Info("Capture started on %s\n", captureSourceName(cfg))

	for {
		select {
		case packet, ok := <-packets:
			if !ok {
				assembler.FlushAll()
				return nil
			}
			tcpLayer := packet.Layer(layers.LayerTypeTCP)
			if tcpLayer == nil {
				continue
			}
			tcp, _ := tcpLayer.(*layers.TCP)
			assembler.AssembleWithTimestamp(packet.NetworkLayer().NetworkFlow(), tcp, packet.Metadata().Timestamp)
		case <-ticker.C:
			assembler.FlushOlderThan(time.Now().Add(-cfg.SweepInterval))
			sweepIdleFlows()
		case <-shutdownChannel:
			assembler.FlushAll()
			handle.Close()
			shutdownChannel <- true
			return nil
		}
	}
}

func captureSourceName(cfg Config) string {
	if cfg.CaptureFile != "" {
		return cfg.CaptureFile
	}
	return cfg.Interface
}

// StopCapture signals the running capture loop to flush every
// in-flight stream and stop.
func StopCapture() {
	if shutdownChannel == nil {
		return
	}
	shutdownChannel <- true
	select {
	case <-shutdownChannel:
	case <-time.After(10 * time.Second):
		logger.Err("Failed to properly shut down capture loop\n")
	}
}

func init() {
	shutdownChannel = make(chan bool)
}

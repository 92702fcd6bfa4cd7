// Package tlsflow is a passive TLS-awareness core: it dissects
// reassembled, byte-oriented TLS records for one direction of a flow
// at a time, and pairs two directions into a structured bidirectional
// report. It never terminates, decrypts, or modifies traffic.
package tlsflow

import "time"

// Hard bounds on every variable-length field.
const (
	MaxCiphersuites       = 256
	MaxExtensions         = 16
	MaxServerExtensions   = 16
	MaxRecords            = 200 // MAX_NUM_RCD_LEN
	MaxCertificates       = 8
	MaxRDN                = 19
	MaxSAN                = 16
	MaxCertificateBuffer  = 16 * 1024 // bytes
	MaxClientKeyLength    = 8193      // bits
	MaxSessionID          = 32        // bytes
	ServerExtensionMaxLen = 64        // bytes, defensive bound
	NumPktLenTLS          = 200       // truncation bound for the srlt merge
)

// ContentType values, TLS record layer.
const (
	ContentTypeChangeCipherSpec uint8 = 20
	ContentTypeAlert            uint8 = 21
	ContentTypeHandshake        uint8 = 22
	ContentTypeApplicationData  uint8 = 23
)

// HandshakeType values. Any value outside this set aborts the record
// walk for the remainder of the feed call.
const (
	HandshakeHelloRequest       uint8 = 0
	HandshakeClientHello        uint8 = 1
	HandshakeServerHello        uint8 = 2
	HandshakeCertificate        uint8 = 11
	HandshakeServerKeyExchange  uint8 = 12
	HandshakeCertificateRequest uint8 = 13
	HandshakeServerHelloDone    uint8 = 14
	HandshakeCertificateVerify  uint8 = 15
	HandshakeClientKeyExchange  uint8 = 16
	HandshakeFinished           uint8 = 20
)

func isKnownHandshakeType(t uint8) bool {
	switch t {
	case HandshakeHelloRequest, HandshakeClientHello, HandshakeServerHello,
		HandshakeCertificate, HandshakeServerKeyExchange, HandshakeCertificateRequest,
		HandshakeServerHelloDone, HandshakeCertificateVerify, HandshakeClientKeyExchange,
		HandshakeFinished:
		return true
	default:
		return false
	}
}

// Version is the detected protocol version of a flow direction.
type Version uint8

// Version enum values, bit-exact with the egress JSON encoding (§6).
const (
	VersionUnknown Version = 0
	VersionSSLv2   Version = 1
	VersionSSLv3   Version = 2
	VersionTLS10   Version = 3
	VersionTLS11   Version = 4
	VersionTLS12   Version = 5
)

// String renders the lowercase version label used in reports.
func (v Version) String() string {
	switch v {
	case VersionSSLv2:
		return "sslv2"
	case VersionSSLv3:
		return "sslv3"
	case VersionTLS10:
		return "tls1.0"
	case VersionTLS11:
		return "tls1.1"
	case VersionTLS12:
		return "tls1.2"
	default:
		return "unknown"
	}
}

// versionFromRecordHeader maps a record-layer {major, minor} pair to
// a Version, per tls_version() in the original source. Only used for
// ApplicationData records; Hello messages derive their own version
// acceptance independently (§4.3.1-4.3.4).
func versionFromRecordHeader(major, minor uint8) Version {
	switch major {
	case 3:
		switch minor {
		case 0:
			return VersionSSLv3
		case 1:
			return VersionTLS10
		case 2:
			return VersionTLS11
		case 3:
			return VersionTLS12
		}
	case 2:
		return VersionSSLv2
	}
	return VersionUnknown
}

// Extension is a single TLS hello extension: {type, data}.
type Extension struct {
	Type uint16
	Data []byte
}

// Record is one TLS record's metadata, retained for the interleaved
// record-length/time stream emitted in "srlt" (§4.4, §6).
type Record struct {
	ContentType   uint8
	HandshakeType uint8
	Length        uint16
	Timestamp     time.Time
}

// RDN is a Relative Distinguished Name component: an OID paired with
// its decoded string value.
type RDN struct {
	OID    []byte
	String string
}

// CertExtension is a raw, unrecognized X.509 certificate extension:
// {OID, contents}. The one recognized extension (subjectAltName) is
// pulled out separately into Certificate.SAN instead of appearing here.
type CertExtension struct {
	OID  []byte
	Data []byte
}

// Certificate is one parsed server certificate from the chain.
type Certificate struct {
	Length int

	SerialNumber []byte
	Signature    []byte // outer (TBSCertificate) signature algorithm OID

	Issuer []RDN

	ValidityNotBefore string // raw UTCTime/GeneralizedTime, unparsed
	ValidityNotAfter  string

	Subject []RDN

	SubjectPublicKeyAlgorithm []byte
	SubjectPublicKeySize      int // bits

	Extensions []CertExtension
	SAN        []string

	SignatureKeySize int // bits
}

// TlsInfo is the per-direction flow accumulator. It is created empty,
// mutated exclusively by Feed for one direction of one flow, and
// finalized by Release when the flow expires. It holds no locks and
// is not safe for concurrent use — the caller must confine one
// TlsInfo to one worker for its lifetime.
type TlsInfo struct {
	Version Version
	Random  [32]byte

	SessionID []byte

	Ciphersuites []uint16

	ClientKeyLength int // bits; 0 means unknown

	Extensions       []Extension
	ServerExtensions []Extension

	Records     []Record
	RecordCount uint64

	Certificates []Certificate

	// Certificate-assembly state.
	certBuffer []byte
	certOffset int
	assembling bool
}

// Init resets info to its zero state, as if freshly observed.
// Allocating a new &TlsInfo{} achieves the same thing, but Init lets
// a caller reuse a pooled value without a new allocation per flow.
func (info *TlsInfo) Init() {
	*info = TlsInfo{}
}

// Release frees all owned storage. It is idempotent: calling it
// again, or calling it on a TlsInfo that was never fed, is a no-op.
// The Go garbage collector reclaims the underlying arrays regardless,
// but Release is kept as an explicit structural operation so a caller
// has one place to drop the last live reference.
func (info *TlsInfo) Release() {
	info.SessionID = nil
	info.Ciphersuites = nil
	info.Extensions = nil
	info.ServerExtensions = nil
	info.Records = nil
	info.Certificates = nil
	info.certBuffer = nil
	info.certOffset = 0
	info.assembling = false
}

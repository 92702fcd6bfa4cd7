package tlsflow

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEmit_NoVersionIsSkipped(t *testing.T) {
	out := &TlsInfo{}
	in := &TlsInfo{}

	_, ok := Emit(out, in)
	if ok {
		t.Fatalf("expected Emit to report ok=false when neither side has a version")
	}
}

func TestEmit_BasicClientServerPair(t *testing.T) {
	out := &TlsInfo{
		Version:      VersionTLS12,
		Ciphersuites: []uint16{0xC02F, 0xC030},
		SessionID:    []byte{0xAB, 0xCD},
	}
	in := &TlsInfo{
		Version:      VersionTLS12,
		Ciphersuites: []uint16{0xC02F},
	}

	raw, ok := Emit(out, in)
	if !ok {
		t.Fatalf("expected Emit to succeed")
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		t.Fatalf("unmarshal wrapper: %v", err)
	}
	tlsBody, present := wrapper["tls"]
	if !present {
		t.Fatalf("expected top-level \"tls\" key")
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(tlsBody, &fields); err != nil {
		t.Fatalf("unmarshal tls body: %v", err)
	}

	if fields["tls_ov"] != float64(VersionTLS12) {
		t.Errorf("tls_ov = %v, want %v", fields["tls_ov"], VersionTLS12)
	}
	if fields["tls_iv"] != float64(VersionTLS12) {
		t.Errorf("tls_iv = %v, want %v", fields["tls_iv"], VersionTLS12)
	}
	if _, present := fields["cs"]; !present {
		t.Errorf("expected \"cs\" for the multi-ciphersuite side")
	}
	if _, present := fields["scs"]; !present {
		t.Errorf("expected \"scs\" for the single-ciphersuite side")
	}
	if fields["tls_osid"] != "abcd" {
		t.Errorf("tls_osid = %v, want abcd", fields["tls_osid"])
	}
	if _, present := fields["tls_isid"]; present {
		t.Errorf("expected tls_isid to be omitted when empty")
	}
}

// S6: bidirectional srlt interleave, timestamp-ordered with a-first
// tie-breaking and delta-ms relative to the previous emitted entry.
func TestInterleaveRecords_TieBreakAndDelta(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	out := &TlsInfo{
		Version: VersionTLS12,
		Records: []Record{
			{ContentType: ContentTypeHandshake, HandshakeType: HandshakeClientHello, Length: 100, Timestamp: base},
			{ContentType: ContentTypeHandshake, HandshakeType: HandshakeFinished, Length: 40, Timestamp: base.Add(200 * time.Millisecond)},
		},
	}
	in := &TlsInfo{
		Version: VersionTLS12,
		Records: []Record{
			{ContentType: ContentTypeHandshake, HandshakeType: HandshakeServerHello, Length: 80, Timestamp: base},
			{ContentType: ContentTypeHandshake, HandshakeType: HandshakeServerHelloDone, Length: 10, Timestamp: base.Add(100 * time.Millisecond)},
		},
	}

	srlt := interleaveRecords(out, in)
	if len(srlt) != 4 {
		t.Fatalf("expected 4 interleaved entries, got %d", len(srlt))
	}

	// Equal timestamps: the "a" (out) side comes first.
	if srlt[0].Dir != DirOut || srlt[0].IPT != 0 {
		t.Errorf("entry 0 = %+v, want OUT with ipt=0", srlt[0])
	}
	if srlt[1].Dir != DirIn || srlt[1].IPT != 0 {
		t.Errorf("entry 1 = %+v, want IN with ipt=0 (same timestamp as entry 0)", srlt[1])
	}
	if srlt[2].Dir != DirIn || srlt[2].IPT != 100 {
		t.Errorf("entry 2 = %+v, want IN with ipt=100", srlt[2])
	}
	if srlt[3].Dir != DirOut || srlt[3].IPT != 100 {
		t.Errorf("entry 3 = %+v, want OUT with ipt=100", srlt[3])
	}

	var sum int64
	for _, e := range srlt {
		sum += e.IPT
	}
	if sum != 200 {
		t.Errorf("sum of ipt = %d, want 200 (max(last) - min(first))", sum)
	}
}

func TestInterleaveRecords_SingleSideDegenerates(t *testing.T) {
	base := time.Now()
	out := &TlsInfo{
		Version: VersionTLS12,
		Records: []Record{
			{ContentType: ContentTypeHandshake, HandshakeType: HandshakeClientHello, Length: 50, Timestamp: base},
		},
	}

	srlt := interleaveRecords(out, nil)
	if len(srlt) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(srlt))
	}
	if srlt[0].Dir != DirOut {
		t.Errorf("expected the lone side to be marked OUT, got %s", srlt[0].Dir)
	}
}

func TestCertificatesToJSON_RoundTrip(t *testing.T) {
	certs := []Certificate{{
		Length:                    108,
		SerialNumber:              []byte{0x01},
		Signature:                 []byte{0x2A},
		SignatureKeySize:          32,
		SubjectPublicKeySize:      2048,
		SubjectPublicKeyAlgorithm: []byte{0x2A, 0x86, 0x48},
		SAN:                       []string{"example.com", "www.example.com"},
		Issuer:                    []RDN{{OID: []byte{0x55, 0x04, 0x03}, String: "Example CA"}},
	}}

	out := certificatesToJSON(certs)
	if len(out) != 1 {
		t.Fatalf("expected 1 certificate object, got %d", len(out))
	}
	cj := out[0]
	if cj.SerialNumber != "01" {
		t.Errorf("serial_number = %q, want 01", cj.SerialNumber)
	}
	if len(cj.SAN) != 2 {
		t.Errorf("SAN = %v, want 2 entries", cj.SAN)
	}
	if len(cj.Issuer) != 1 || cj.Issuer[0].String != "Example CA" {
		t.Errorf("issuer = %v, want [{.. Example CA}]", cj.Issuer)
	}
}

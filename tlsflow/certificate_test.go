package tlsflow

import (
	"bytes"
	"testing"
)

// buildCertMessage constructs a Certificate handshake body (3-byte
// certificates_length vector wrapping exactly one certificate) whose
// bytes are laid out to match, field read by field read, the offsets
// consumed by parseOneCertificate: a 14-byte TBS preamble, a 1-byte
// serial number, a 1-byte signature algorithm OID, empty issuer/subject
// RDN sequences, empty validity strings, a 16-byte RSA subject public
// key (0x82 long form), the caller-supplied extensions block, and a
// 5-byte RSA signature. extBlockLen is the declared ext_len (the sum of
// every entry's own header+body size within extBlock); extBlock must be
// exactly that many bytes so the signature-key-size section that
// follows lands at the right offset with no padding on either side.
func buildCertMessage(extBlockLen int, extBlock []byte) []byte {
	var cert []byte

	cert = append(cert, 0x00, 0x00) // 2-byte filler before serial section (TBS preamble continuation)
	cert = append(cert, make([]byte, 12)...)
	// ^ 14-byte TBS preamble total (2 above + 12 here)

	// Serial number: length byte, content byte, 2-byte filler.
	cert = append(cert, 0x01, 0x01)
	cert = append(cert, 0x00, 0x00)

	// Signature algorithm (outer): filler, sigLen, content, 2-byte filler.
	cert = append(cert, 0x00, 0x01)
	cert = append(cert, 0x2A)
	cert = append(cert, 0x05, 0x00)

	// Issuer RDN sequence: filler, lenByte=0 (budget=0, no RDNs), 2 filler.
	cert = append(cert, 0x00, 0x00, 0x00, 0x00)

	// validity_not_before: filler, length=0.
	cert = append(cert, 0x00, 0x00)
	// validity_not_after: filler, length=0.
	cert = append(cert, 0x00, 0x00)

	// Subject RDN sequence: same shape as issuer.
	cert = append(cert, 0x00, 0x00, 0x00, 0x00)

	// Subject public key info: filler, b1=48, filler (3 bytes).
	cert = append(cert, 0x00, 48, 0x00)
	// algorithm: filler, algLen=0, 2-byte filler.
	cert = append(cert, 0x00, 0x00)
	cert = append(cert, 0x05, 0x00)
	// public key, 0x82 long form, bl=16: filler, 0x82, blHi, blLo, 16 content bytes.
	cert = append(cert, 0x00, 0x82, 0x00, 16)
	cert = append(cert, make([]byte, 16)...)

	// Extensions wrapper: A3 82 <2-byte outer len ignored> <inner SEQ tag ignored>.
	cert = append(cert, 0xA3, 0x82, 0x00, 0x00, 0x00)
	// ext_len byte + 1-byte filler. extBlockLen is exactly the number of
	// bytes the per-extension loop will consume from extBlock below, so
	// the loop's remaining budget reaches zero exactly at its end.
	cert = append(cert, byte(extBlockLen), 0x00)
	cert = append(cert, extBlock...)

	// Signature key size: filler, sigAlgLen=0 (outer signatureAlgorithm skip).
	cert = append(cert, 0x00, 0x00)
	// 0x81 long form, bl=5: filler, 0x81, bl, then 5 content bytes.
	cert = append(cert, 0x00, 0x81, 5)
	cert = append(cert, make([]byte, 5)...)

	certLen := len(cert) // content length after the 3-byte per-cert prefix

	var msg []byte
	// 3-byte certificates_length vector: certLen(this cert) + 3(its own prefix) + 3(this prefix itself).
	certsLen := certLen + 6
	msg = append(msg, byte(certsLen>>16), byte(certsLen>>8), byte(certsLen))
	// Per-certificate 3-byte length prefix: filler byte, then certLen as u16.
	msg = append(msg, 0x00, byte(certLen>>8), byte(certLen))
	msg = append(msg, cert...)

	return msg
}

// sanExtensionEntry builds one subjectAltName extension entry (header
// plus body): OID 2.5.29.17 wrapping a single DNS name, the same shape
// parseSAN expects. Its total size (header + body) is entrySize.
func sanExtensionEntry(dnsName string) (entry []byte, entrySize int) {
	// body: filler, oidLen=3, OID(55 1D 11), 4-byte gap, filler, nameLen, name.
	bodyLen := 2 + 3 + 4 + 2 + len(dnsName)
	var b []byte
	b = append(b, 0x00, byte(bodyLen)) // header: filler, extBodyLen
	b = append(b, 0x00, 3, 0x55, 0x1D, 0x11)
	b = append(b, 0x00, 0x00, 0x00, 0x00)
	b = append(b, 0x00, byte(len(dnsName)))
	b = append(b, []byte(dnsName)...)
	return b, len(b)
}

// genericExtensionEntry builds one non-SAN extension entry carrying an
// arbitrary OID and opaque data, exercising the general branch of the
// per-extension loop instead of the SAN branch.
func genericExtensionEntry(oid []byte, data []byte) (entry []byte, entrySize int) {
	bodyLen := 2 + len(oid) + len(data)
	var b []byte
	b = append(b, 0x00, byte(bodyLen)) // header: filler, extBodyLen
	b = append(b, 0x00, byte(len(oid)))
	b = append(b, oid...)
	b = append(b, data...)
	return b, len(b)
}

func TestAppendCertificatesFromMessage_SAN(t *testing.T) {
	entry, entrySize := sanExtensionEntry("example.com")
	msg := buildCertMessage(entrySize, entry)
	info := &TlsInfo{}

	appendCertificatesFromMessage(msg, info)

	if len(info.Certificates) != 1 {
		t.Fatalf("expected 1 certificate, got %d", len(info.Certificates))
	}
	c := info.Certificates[0]

	if !bytes.Equal(c.SerialNumber, []byte{0x01}) {
		t.Errorf("SerialNumber = %x, want 01", c.SerialNumber)
	}
	if !bytes.Equal(c.Signature, []byte{0x2A}) {
		t.Errorf("Signature = %x, want 2a", c.Signature)
	}
	if c.SubjectPublicKeySize != 8 {
		t.Errorf("SubjectPublicKeySize = %d, want 8", c.SubjectPublicKeySize)
	}
	if c.SignatureKeySize != 32 {
		t.Errorf("SignatureKeySize = %d, want 32", c.SignatureKeySize)
	}
	if len(c.SAN) != 1 || c.SAN[0] != "example.com" {
		t.Errorf("SAN = %v, want [example.com]", c.SAN)
	}
	if len(c.Extensions) != 0 {
		t.Errorf("Extensions = %v, want empty (SAN is pulled out separately)", c.Extensions)
	}
}

// TestAppendCertificatesFromMessage_MultipleExtensions guards the
// per-extension advance in the loop: a basicConstraints extension
// (general branch) followed by a subjectAltName extension (SAN branch)
// must each consume exactly their own declared span, so the second
// extension and the signature-key-size section that follows it are
// both read from the correct offset.
func TestAppendCertificatesFromMessage_MultipleExtensions(t *testing.T) {
	basicConstraints, bcSize := genericExtensionEntry(
		[]byte{0x55, 0x1D, 0x13}, // OID 2.5.29.19, basicConstraints
		[]byte{0x30, 0x03, 0x01, 0x01, 0x00},
	)
	san, sanSize := sanExtensionEntry("example.com")

	var extBlock []byte
	extBlock = append(extBlock, basicConstraints...)
	extBlock = append(extBlock, san...)

	msg := buildCertMessage(bcSize+sanSize, extBlock)
	info := &TlsInfo{}

	appendCertificatesFromMessage(msg, info)

	if len(info.Certificates) != 1 {
		t.Fatalf("expected 1 certificate, got %d", len(info.Certificates))
	}
	c := info.Certificates[0]

	if len(c.Extensions) != 1 {
		t.Fatalf("Extensions = %v, want exactly 1 (basicConstraints; SAN is pulled out separately)", c.Extensions)
	}
	if !bytes.Equal(c.Extensions[0].OID, []byte{0x55, 0x1D, 0x13}) {
		t.Errorf("Extensions[0].OID = %x, want 551d13", c.Extensions[0].OID)
	}
	if !bytes.Equal(c.Extensions[0].Data, []byte{0x30, 0x03, 0x01, 0x01, 0x00}) {
		t.Errorf("Extensions[0].Data = %x, want 3003010100", c.Extensions[0].Data)
	}
	if len(c.SAN) != 1 || c.SAN[0] != "example.com" {
		t.Errorf("SAN = %v, want [example.com]", c.SAN)
	}
	if c.SignatureKeySize != 32 {
		t.Errorf("SignatureKeySize = %d, want 32 (second extension must not misalign this read)", c.SignatureKeySize)
	}
}

func TestAppendCertificatesFromMessage_Truncated(t *testing.T) {
	info := &TlsInfo{}
	// Declares a vector length far larger than the bytes actually present.
	msg := []byte{0x00, 0x00, 0x64, 0x00, 0x00, 0x05, 0x01, 0x02, 0x03}

	appendCertificatesFromMessage(msg, info)

	if len(info.Certificates) != 0 {
		t.Errorf("expected no certificates from truncated input, got %d", len(info.Certificates))
	}
}

func TestAppendCertificatesFromMessage_EmptyInput(t *testing.T) {
	info := &TlsInfo{}
	appendCertificatesFromMessage(nil, info)
	if len(info.Certificates) != 0 {
		t.Errorf("expected no certificates from empty input, got %d", len(info.Certificates))
	}
}

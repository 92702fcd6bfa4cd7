package tlsflow

import "time"

// Feed dissects one contiguous, direction-ordered byte run against
// info. It never panics and never returns an error: every
// malformation truncates the affected substructure or aborts the
// walk while preserving everything already captured.
func Feed(info *TlsInfo, timestamp time.Time, data []byte) {
	if looksLikeSSLv2ClientHello(data) {
		info.Version = VersionSSLv2
		return
	}

	remaining := data
	for len(remaining) >= 5 {
		contentType := remaining[0]
		major := remaining[1]
		minor := remaining[2]
		length := u16be(remaining[3:5])

		if len(remaining) < 5+int(length) {
			return // truncated record: stop the walk cleanly
		}
		record := remaining[:5+int(length)]
		body := record[5:]

		if info.assembling {
			appendToCertBuffer(info, record)
		}

		var handshakeType uint8
		abort := false

		switch contentType {
		case ContentTypeApplicationData:
			if major != 3 {
				return // not TLS: abort the whole walk
			}
			ver := versionFromRecordHeader(major, minor)
			if ver == VersionUnknown {
				return // not TLS: abort the whole walk
			}
			info.Version = ver

		case ContentTypeChangeCipherSpec, ContentTypeAlert:
			// accepted, no further parsing

		case ContentTypeHandshake:
			if len(body) < 4 {
				return
			}
			handshakeType = body[0]
			hsLen := u24be(body[1:4])
			if !isKnownHandshakeType(handshakeType) {
				return // abort: not a real handshake message
			}
			hsBody := body[4:]
			if uint32(len(hsBody)) > hsLen {
				hsBody = hsBody[:hsLen]
			}

			switch handshakeType {
			case HandshakeClientHello:
				parseClientHello(hsBody, info)
			case HandshakeServerHello:
				if !info.assembling {
					beginCertAssembly(info, record)
				}
				parseServerHello(hsBody, info)
			case HandshakeClientKeyExchange:
				if info.ClientKeyLength == 0 {
					bits := int(hsLen) * 8
					if bits > MaxClientKeyLength {
						bits = 0
					}
					info.ClientKeyLength = bits
				}
			}

		default:
			abort = true
		}

		if abort {
			return
		}

		if info.assembling {
			if contentType == ContentTypeApplicationData ||
				info.certOffset >= 4000 ||
				(contentType == ContentTypeHandshake && handshakeType == HandshakeServerHelloDone) {
				flushCertAssembly(info)
			}
		}

		if len(info.Records) < MaxRecords {
			info.Records = append(info.Records, Record{
				ContentType:   contentType,
				HandshakeType: handshakeType,
				Length:        length,
				Timestamp:     timestamp,
			})
		}
		info.RecordCount++

		remaining = remaining[5+int(length):]
	}
}

// looksLikeSSLv2ClientHello reports whether data opens with an SSLv2
// client-hello record header: high bit of byte 0 set, decoded length
// greater than 9, and byte 2 equal to the client-hello message type.
// Detection only; SSLv2 records are never decoded further (§6).
func looksLikeSSLv2ClientHello(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	if data[0]&0x80 == 0 {
		return false
	}
	length := (int(data[0]&0x7f) << 8) | int(data[1])
	return length > 9 && data[2] == 0x01
}

// beginCertAssembly transitions a TlsInfo from Idle to Collecting,
// seeding cert_buffer with the current record's raw bytes (header
// included) so the Certificate Parser can re-walk records within it.
func beginCertAssembly(info *TlsInfo, record []byte) {
	info.certBuffer = make([]byte, 0, MaxCertificateBuffer)
	info.certBuffer = append(info.certBuffer, record...)
	info.certOffset = len(record)
	info.assembling = true
}

// appendToCertBuffer appends record to the in-progress assembly
// buffer if it fits; an append that would overflow the cap is
// dropped silently rather than truncated.
func appendToCertBuffer(info *TlsInfo, record []byte) {
	if len(info.certBuffer)+len(record) > MaxCertificateBuffer {
		return
	}
	info.certBuffer = append(info.certBuffer, record...)
	info.certOffset += len(record)
}

// flushCertAssembly hands the assembled buffer to the certificate
// chain walker, then resets assembly state back to Idle.
func flushCertAssembly(info *TlsInfo) {
	buf := info.certBuffer
	info.certBuffer = nil
	info.certOffset = 0
	info.assembling = false
	extractCertificatesFromRecords(buf, info)
}

// extractCertificatesFromRecords re-walks the raw record bytes
// assembled during Collecting, looking for the Handshake/Certificate
// message, and parses the certificate chain found there.
func extractCertificatesFromRecords(buf []byte, info *TlsInfo) {
	remaining := buf
	for len(remaining) >= 5 {
		length := u16be(remaining[3:5])
		if len(remaining) < 5+int(length) {
			return
		}
		record := remaining[:5+int(length)]
		body := record[5:]
		remaining = remaining[5+int(length):]

		if record[0] != ContentTypeHandshake || len(body) < 4 {
			continue
		}
		handshakeType := body[0]
		hsLen := u24be(body[1:4])
		if handshakeType != HandshakeCertificate {
			continue
		}
		hsBody := body[4:]
		if uint32(len(hsBody)) > hsLen {
			hsBody = hsBody[:hsLen]
		}
		appendCertificatesFromMessage(hsBody, info)
	}
}

// parseClientHello runs the §4.3.1/§4.3.2 ClientHello parsers against
// the handshake body (past the 4-byte handshake header).
func parseClientHello(body []byte, info *TlsInfo) {
	c := newCursor(body)

	major, ok := c.u8()
	if !ok {
		return
	}
	minor, ok := c.u8()
	if !ok {
		return
	}
	if major != 3 || minor > 3 {
		return
	}

	random, ok := c.take(32)
	if !ok {
		return
	}
	copy(info.Random[:], random)

	sidLen, ok := c.u8()
	if !ok {
		return
	}
	sid, ok := c.take(int(sidLen))
	if !ok {
		return
	}
	if sidLen > 0 && int(sidLen) <= MaxSessionID {
		info.SessionID = append([]byte(nil), sid...)
	}

	csLen, ok := c.u16()
	if !ok {
		return
	}
	csBytes, ok := c.take(int(csLen))
	if !ok {
		return
	}
	for i := 0; i+1 < len(csBytes) && len(info.Ciphersuites) < MaxCiphersuites; i += 2 {
		info.Ciphersuites = append(info.Ciphersuites, u16be(csBytes[i:i+2]))
	}

	compLen, ok := c.u8()
	if !ok {
		return
	}
	if !c.skip(int(compLen)) {
		return
	}

	extLen, ok := c.u16()
	if !ok {
		return
	}
	extBytes, ok := c.take(int(extLen))
	if !ok {
		return
	}
	parseExtensionList(extBytes, &info.Extensions, MaxExtensions, 0)
}

// parseServerHello runs the §4.3.3/§4.3.4 ServerHello parsers.
func parseServerHello(body []byte, info *TlsInfo) {
	c := newCursor(body)

	major, ok := c.u8()
	if !ok {
		return
	}
	minor, ok := c.u8()
	if !ok {
		return
	}
	if major != 3 || minor > 3 {
		return
	}

	random, ok := c.take(32)
	if !ok {
		return
	}
	copy(info.Random[:], random)

	sidLen, ok := c.u8()
	if !ok {
		return
	}
	sid, ok := c.take(int(sidLen))
	if !ok {
		return
	}
	if sidLen > 0 && int(sidLen) <= MaxSessionID {
		info.SessionID = append([]byte(nil), sid...)
	}

	selected, ok := c.u16()
	if !ok {
		return
	}
	info.Ciphersuites = []uint16{selected}

	compLen, ok := c.u8()
	if !ok {
		return
	}
	if !c.skip(int(compLen)) {
		return
	}

	// Extensions are only reached for TLS 1.2 (minor==3); the server
	// side is deliberately stricter here than the client side (see
	// DESIGN.md open-question ledger).
	if minor < 3 {
		return
	}

	extLen, ok := c.u16()
	if !ok {
		return
	}
	extBytes, ok := c.take(int(extLen))
	if !ok {
		return
	}
	// Server extensions reject any entry whose declared length exceeds
	// ServerExtensionMaxLen; the loop aborts at the first violator,
	// keeping whatever was already collected (§4.3.4).
	parseExtensionList(extBytes, &info.ServerExtensions, MaxServerExtensions, ServerExtensionMaxLen)
}

// parseExtensionList walks a {type:u16, length:u16, data[length]}
// vector, appending to *out while cap allows. maxLen, when non-zero,
// rejects (and stops the loop on) any entry whose declared length
// exceeds it, matching the ServerHello defensive bound; 0 means no
// per-entry bound (the ClientHello case).
func parseExtensionList(buf []byte, out *[]Extension, cap int, maxLen int) {
	c := newCursor(buf)
	for c.len() > 0 {
		typ, ok := c.u16()
		if !ok {
			return
		}
		length, ok := c.u16()
		if !ok {
			return
		}
		if maxLen > 0 && int(length) > maxLen {
			return
		}
		data, ok := c.take(int(length))
		if !ok {
			return
		}
		if len(*out) < cap {
			*out = append(*out, Extension{
				Type: typ,
				Data: append([]byte(nil), data...),
			})
		}
	}
}

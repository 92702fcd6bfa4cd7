package tlsflow

// This file walks an X.509 certificate chain directly off the wire.
// The offsets and arithmetic (the 14-byte TBS preamble, the
// (len-13)*8/(len-15)*8/(len-1)*8 key-size corrections, the A3 82
// extension tag, the 55 1D 11 SAN OID) are not generic ASN.1/DER
// rules, they are this parser's deliberately narrow reading of
// real-world X.509 certificates, so they are kept verbatim rather
// than replaced with a general-purpose ASN.1 decoder.

// byteAt returns buf[i] and true if i is in range, else (0, false).
func byteAt(buf []byte, i int) (byte, bool) {
	if i < 0 || i >= len(buf) {
		return 0, false
	}
	return buf[i], true
}

// u16At returns the big-endian uint16 at buf[i:i+2].
func u16At(buf []byte, i int) (uint16, bool) {
	if i < 0 || i+2 > len(buf) {
		return 0, false
	}
	return u16be(buf[i : i+2]), true
}

// sliceAt returns buf[i:i+n], bounds-checked.
func sliceAt(buf []byte, i, n int) ([]byte, bool) {
	if i < 0 || n < 0 || i+n > len(buf) {
		return nil, false
	}
	return buf[i : i+n], true
}

// appendCertificatesFromMessage parses the body of one Certificate
// handshake message (the 24-bit certificates_length vector and each
// certificate within it) and appends results to info.Certificates,
// stopping silently at MaxCertificates or on any structural
// malformation.
func appendCertificatesFromMessage(body []byte, info *TlsInfo) {
	// 3-byte certificates_length header.
	certsLen, ok := u24FromSlice(body, 0)
	if !ok {
		return
	}
	pos := 3
	remaining := int(certsLen) - 3

	for remaining > 0 && len(info.Certificates) < MaxCertificates {
		cert, consumed, ok := parseOneCertificate(body, pos)
		if !ok {
			return
		}
		info.Certificates = append(info.Certificates, cert)
		pos += consumed
		remaining -= consumed
	}
}

func u24FromSlice(buf []byte, i int) (uint32, bool) {
	s, ok := sliceAt(buf, i, 3)
	if !ok {
		return 0, false
	}
	return u24be(s), true
}

// parseOneCertificate parses one certificate entry starting at
// body[pos] (its 3-byte length prefix) and returns the decoded
// Certificate plus the number of bytes consumed. When the walk reaches
// the end of the signature block, consumed is the declared
// per-certificate length plus its 3-byte prefix, mirroring the
// cert_len-driven advance in the original; when the optional
// extensions or the signature block is truncated or unrecognized, the
// partially filled Certificate is returned with consumed set to the
// bytes walked so far.
func parseOneCertificate(body []byte, pos int) (Certificate, int, bool) {
	start := pos
	certLenU16, ok := u16At(body, pos+1)
	if !ok {
		return Certificate{}, 0, false
	}
	certLen := int(certLenU16)

	var cert Certificate
	cert.Length = certLen

	pos += 3     // single-certificate length prefix
	pos += 14    // SEQUENCE/Version/TBS wrapper preamble (§4.2 step 2)

	// Serial number: 1-byte length prefix then bytes.
	serialLen, ok := byteAt(body, pos)
	if !ok {
		return Certificate{}, 0, false
	}
	serial, ok := sliceAt(body, pos+1, int(serialLen))
	if !ok {
		return Certificate{}, 0, false
	}
	cert.SerialNumber = append([]byte(nil), serial...)
	pos += int(serialLen) + 1
	pos += 2

	// Signature algorithm (outer, TBSCertificate).
	sigLen, ok := byteAt(body, pos+1)
	if !ok {
		return Certificate{}, 0, false
	}
	pos += 2
	sig, ok := sliceAt(body, pos, int(sigLen))
	if !ok {
		return Certificate{}, 0, false
	}
	cert.Signature = append([]byte(nil), sig...)
	pos += int(sigLen)
	pos += 2

	// Issuer RDN sequence.
	issuerRDNs, newPos, ok := parseRDNSequence(body, pos)
	if !ok {
		return Certificate{}, 0, false
	}
	cert.Issuer = issuerRDNs
	pos = newPos

	// validity_not_before
	nb, newPos, ok := parseLengthPrefixedString(body, pos)
	if !ok {
		return Certificate{}, 0, false
	}
	cert.ValidityNotBefore = nb
	pos = newPos

	// validity_not_after
	na, newPos, ok := parseLengthPrefixedString(body, pos)
	if !ok {
		return Certificate{}, 0, false
	}
	cert.ValidityNotAfter = na
	pos = newPos

	// Subject RDN sequence.
	subjectRDNs, newPos, ok := parseRDNSequence(body, pos)
	if !ok {
		return Certificate{}, 0, false
	}
	cert.Subject = subjectRDNs
	pos = newPos

	// Subject public key info.
	b1, ok := byteAt(body, pos+1)
	if !ok {
		return Certificate{}, 0, false
	}
	if b1 == 48 {
		pos += 3
	} else {
		pos += 4
	}
	algLen, ok := byteAt(body, pos+1)
	if !ok {
		return Certificate{}, 0, false
	}
	pos += 2
	alg, ok := sliceAt(body, pos, int(algLen))
	if !ok {
		return Certificate{}, 0, false
	}
	cert.SubjectPublicKeyAlgorithm = append([]byte(nil), alg...)
	pos += int(algLen)
	pos += 2

	tag, ok := byteAt(body, pos+1)
	if !ok {
		return Certificate{}, 0, false
	}
	switch tag {
	case 0x81:
		bl, ok := byteAt(body, pos+2)
		if !ok {
			return Certificate{}, 0, false
		}
		cert.SubjectPublicKeySize = (int(bl) - 13) * 8
		pos += int(bl) + 3
	case 0x82:
		bl, ok := u16At(body, pos+2)
		if !ok {
			return Certificate{}, 0, false
		}
		cert.SubjectPublicKeySize = (int(bl) - 15) * 8
		pos += int(bl) + 4
	default:
		return Certificate{}, 0, false
	}

	// Optional extensions: leading bytes A3 82.
	t0, ok0 := byteAt(body, pos)
	t1, ok1 := byteAt(body, pos+1)
	if ok0 && ok1 && t0 == 0xA3 && t1 == 0x82 {
		pos += 5
		var extLen int
		// ext_len is the byte immediately following the 5-byte skip,
		// unless that byte is 0x82, in which case a 2-byte length
		// follows instead of the 1-byte form.
		b, ok := byteAt(body, pos)
		if !ok {
			return cert, pos - start, true
		}
		if b == 0x82 {
			l, ok := u16At(body, pos+1)
			if !ok {
				return cert, pos - start, true
			}
			extLen = int(l)
			pos += 3
		} else {
			extLen = int(b)
			pos += 2
		}

		for extLen > 0 && len(cert.Extensions) < MaxExtensions {
			oidLenByte, ok := byteAt(body, pos+1)
			if !ok {
				break
			}
			var extBodyLen int
			if oidLenByte == 0x82 {
				l, ok := u16At(body, pos+2)
				if !ok {
					break
				}
				extBodyLen = int(l)
				pos += 4
				extLen -= 4
			} else {
				extBodyLen = int(oidLenByte)
				pos += 2
				extLen -= 2
			}

			oidLen, ok := byteAt(body, pos+1)
			if !ok {
				break
			}
			hi, ok1 := byteAt(body, pos+2)
			mid, ok2 := byteAt(body, pos+3)
			lo, ok3 := byteAt(body, pos+4)
			if !ok1 || !ok2 || !ok3 {
				break
			}

			if hi == 85 && mid == 29 && lo == 17 {
				// subjectAltName: remainder length is extBodyLen minus
				// the OID's own tag byte, length byte and bytes, matching
				// tmp_len2 = tmp_len2-tmp_len-2 in the original.
				sanLen := extBodyLen - int(oidLen) - 2
				sanStart := pos + int(oidLen) + 2 + 4
				if sanLen >= 4 {
					parseSAN(body, sanStart, sanLen-4, &cert)
				}
				advance := extBodyLen
				pos += advance
				extLen -= advance
			} else {
				oid, ok := sliceAt(body, pos+2, int(oidLen))
				if !ok {
					break
				}
				dataLen := extBodyLen - int(oidLen) - 2
				data, ok := sliceAt(body, pos+int(oidLen)+2, dataLen)
				if !ok {
					break
				}
				if len(cert.Extensions) < MaxExtensions {
					cert.Extensions = append(cert.Extensions, CertExtension{
						OID:  append([]byte(nil), oid...),
						Data: append([]byte(nil), data...),
					})
				}
				advance := extBodyLen
				pos += advance
				extLen -= advance
			}
		}
	}

	// Signature key size: skip outer signatureAlgorithm block, then
	// read signatureValue bitstring length (0x81/0x82 long form).
	sigAlgLen, ok := byteAt(body, pos+1)
	if !ok {
		return cert, pos - start, true
	}
	pos += int(sigAlgLen) + 2

	tag2, ok := byteAt(body, pos+1)
	if !ok {
		return cert, pos - start, true
	}
	switch tag2 {
	case 0x81:
		bl, ok := byteAt(body, pos+2)
		if !ok {
			return cert, pos - start, true
		}
		cert.SignatureKeySize = (int(bl) - 1) * 8
		pos += int(bl) + 3
	case 0x82:
		bl, ok := u16At(body, pos+2)
		if !ok {
			return cert, pos - start, true
		}
		cert.SignatureKeySize = (int(bl) - 1) * 8
		pos += int(bl) + 4
	default:
		return cert, pos - start, true
	}

	return cert, certLen + 3, true
}

// parseRDNSequence parses an issuer or subject RDN sequence starting
// at body[pos]: a DER length (short or 0x81/0x82 long form) followed
// by RDN entries until the declared budget is exhausted or MaxRDN is
// reached.
func parseRDNSequence(body []byte, pos int) ([]RDN, int, bool) {
	lenByte, ok := byteAt(body, pos+1)
	if !ok {
		return nil, 0, false
	}
	var budget int
	switch lenByte {
	case 129:
		b, ok := byteAt(body, pos+2)
		if !ok {
			return nil, 0, false
		}
		budget = int(b)
		pos += 5
	case 130:
		b, ok := u16At(body, pos+2)
		if !ok {
			return nil, 0, false
		}
		budget = int(b)
		pos += 6
	default:
		budget = int(lenByte)
		pos += 4
	}

	var rdns []RDN
	for budget > 0 {
		if len(rdns) >= MaxRDN {
			break
		}
		rdnSeqLen, ok := byteAt(body, pos+1)
		if !ok {
			break
		}
		pos += 2
		budget -= 2

		oidLen, ok := byteAt(body, pos+1)
		if !ok {
			break
		}
		oid, ok := sliceAt(body, pos+2, int(oidLen))
		if !ok {
			break
		}

		valLen, ok := byteAt(body, pos+int(oidLen)+2+1)
		if !ok {
			break
		}
		val, ok := sliceAt(body, pos+int(oidLen)+2+2, int(valLen))
		if !ok {
			break
		}

		rdns = append(rdns, RDN{
			OID:    append([]byte(nil), oid...),
			String: string(val),
		})

		pos += 2
		budget -= 2
		pos += int(rdnSeqLen)
		budget -= int(rdnSeqLen)
	}

	return rdns, pos, true
}

// parseLengthPrefixedString reads a 1-byte length prefix followed by
// that many raw bytes (used for validity_not_before/not_after, stored
// unparsed rather than decoded as a UTCTime/GeneralizedTime).
func parseLengthPrefixedString(body []byte, pos int) (string, int, bool) {
	l, ok := byteAt(body, pos+1)
	if !ok {
		return "", 0, false
	}
	pos += 2
	s, ok := sliceAt(body, pos, int(l))
	if !ok {
		return "", 0, false
	}
	pos += int(l)
	return string(s), pos, true
}

// parseSAN extracts DNS names from a subjectAltName extension payload:
// a flat loop of {length byte at +1, bytes at +2 for length} pairs,
// until exhausted or MaxSAN is reached.
func parseSAN(body []byte, start, length int, cert *Certificate) {
	pos := start
	remaining := length
	for remaining > 0 && len(cert.SAN) < MaxSAN {
		l, ok := byteAt(body, pos+1)
		if !ok {
			return
		}
		name, ok := sliceAt(body, pos+2, int(l))
		if !ok {
			return
		}
		cert.SAN = append(cert.SAN, string(name))
		advance := int(l) + 2
		pos += advance
		remaining -= advance
	}
}

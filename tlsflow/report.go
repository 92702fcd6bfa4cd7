package tlsflow

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Direction labels used in the interleaved record stream ("srlt").
const (
	DirOut = "OUT"
	DirIn  = "IN"
)

// extensionJSON mirrors a certificate extension's {id, data} shape,
// applied to hello extensions too for internal consistency within one
// report (see DESIGN.md open-question ledger).
type extensionJSON struct {
	ExtID   string `json:"ext_id"`
	ExtData string `json:"ext_data"`
}

type rdnJSON struct {
	ID     string `json:"issuer_id,omitempty"`
	String string `json:"issuer_string,omitempty"`
}

type subjectRDNJSON struct {
	ID     string `json:"subject_id,omitempty"`
	String string `json:"subject_string,omitempty"`
}

type certificateJSON struct {
	Length                    int              `json:"length"`
	SerialNumber              string           `json:"serial_number"`
	Signature                 string           `json:"signature"`
	SignatureKeySize          int              `json:"signature_key_size"`
	Issuer                    []rdnJSON        `json:"issuer,omitempty"`
	ValidityNotBefore         string           `json:"validity_not_before,omitempty"`
	ValidityNotAfter          string           `json:"validity_not_after,omitempty"`
	Subject                   []subjectRDNJSON `json:"subject,omitempty"`
	SubjectPublicKeyAlgorithm string           `json:"subject_public_key_algorithm,omitempty"`
	SubjectPublicKeySize      int              `json:"subject_public_key_size"`
	SAN                       []string         `json:"SAN,omitempty"`
	Extensions                []extensionJSON  `json:"extensions,omitempty"`
}

type srltEntryJSON struct {
	Bytes uint16 `json:"b"`
	Dir   string `json:"dir"`
	IPT   int64  `json:"ipt"`
	Type  string `json:"tp"`
}

type tlsReportJSON struct {
	OutVersion      int             `json:"tls_ov,omitempty"`
	InVersion       int             `json:"tls_iv,omitempty"`
	ClientKeyLength int             `json:"tls_client_key_length,omitempty"`
	OutRandom       string          `json:"tls_orandom,omitempty"`
	InRandom        string          `json:"tls_irandom,omitempty"`
	OutSessionID    string          `json:"tls_osid,omitempty"`
	InSessionID     string          `json:"tls_isid,omitempty"`
	SelectedCipher  string          `json:"scs,omitempty"`
	Ciphersuites    []string        `json:"cs,omitempty"`
	ClientExt       []extensionJSON   `json:"tls_ext,omitempty"`
	ServerExt       []extensionJSON   `json:"s_tls_ext,omitempty"`
	ServerCert      []certificateJSON `json:"server_cert,omitempty"`
	SRLT            []srltEntryJSON   `json:"srlt,omitempty"`
}

// Emit produces the structured bidirectional report for a flow given
// its two per-direction accumulators (either may be nil). It returns
// ok=false, doing nothing else, if neither side ever observed a TLS
// version.
func Emit(out, in *TlsInfo) (json.RawMessage, bool) {
	if (out == nil || out.Version == VersionUnknown) && (in == nil || in.Version == VersionUnknown) {
		return nil, false
	}

	r := tlsReportJSON{}

	if out != nil && out.Version != VersionUnknown {
		r.OutVersion = int(out.Version)
	}
	if in != nil && in.Version != VersionUnknown {
		r.InVersion = int(in.Version)
	}

	r.ClientKeyLength = firstNonZeroInt(fieldClientKeyLength(out), fieldClientKeyLength(in))

	r.OutRandom = hexIfNonZero(fieldRandom(out))
	r.InRandom = hexIfNonZero(fieldRandom(in))

	r.OutSessionID = hexIfNonEmpty(fieldSessionID(out))
	r.InSessionID = hexIfNonEmpty(fieldSessionID(in))

	r.SelectedCipher, r.Ciphersuites = selectCipherFields(out, in)

	r.ClientExt = extensionsToJSON(fieldExtensions(out))
	if r.ClientExt == nil {
		r.ClientExt = extensionsToJSON(fieldExtensions(in))
	}
	r.ServerExt = extensionsToJSON(fieldServerExtensions(out))
	if r.ServerExt == nil {
		r.ServerExt = extensionsToJSON(fieldServerExtensions(in))
	}

	r.ServerCert = certificatesToJSON(fieldCertificates(out))
	if r.ServerCert == nil {
		r.ServerCert = certificatesToJSON(fieldCertificates(in))
	}

	r.SRLT = interleaveRecords(out, in)

	body, err := json.Marshal(r)
	if err != nil {
		return nil, false
	}
	wrapped, err := json.Marshal(map[string]json.RawMessage{"tls": body})
	if err != nil {
		return nil, false
	}
	return wrapped, true
}

func fieldClientKeyLength(info *TlsInfo) int {
	if info == nil {
		return 0
	}
	return info.ClientKeyLength
}

func fieldRandom(info *TlsInfo) [32]byte {
	if info == nil {
		return [32]byte{}
	}
	return info.Random
}

func fieldSessionID(info *TlsInfo) []byte {
	if info == nil {
		return nil
	}
	return info.SessionID
}

func fieldExtensions(info *TlsInfo) []Extension {
	if info == nil {
		return nil
	}
	return info.Extensions
}

func fieldServerExtensions(info *TlsInfo) []Extension {
	if info == nil {
		return nil
	}
	return info.ServerExtensions
}

func fieldCertificates(info *TlsInfo) []Certificate {
	if info == nil {
		return nil
	}
	return info.Certificates
}

func firstNonZeroInt(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func hexIfNonZero(b [32]byte) string {
	zero := true
	for _, c := range b {
		if c != 0 {
			zero = false
			break
		}
	}
	if zero {
		return ""
	}
	return hex.EncodeToString(b[:])
}

func hexIfNonEmpty(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}

// selectCipherFields picks "scs" (single selected ciphersuite, from a
// ServerHello-bearing side) or "cs" (the full offered list, from a
// ClientHello-bearing side), preferring whichever side actually
// carries ciphersuite data (§6).
func selectCipherFields(out, in *TlsInfo) (scs string, cs []string) {
	for _, info := range []*TlsInfo{out, in} {
		if info == nil || len(info.Ciphersuites) == 0 {
			continue
		}
		if len(info.Ciphersuites) == 1 {
			if scs == "" {
				scs = fmt.Sprintf("%04x", info.Ciphersuites[0])
			}
			continue
		}
		if cs == nil {
			cs = make([]string, 0, len(info.Ciphersuites))
			for _, c := range info.Ciphersuites {
				cs = append(cs, fmt.Sprintf("%04x", c))
			}
		}
	}
	return scs, cs
}

func extensionsToJSON(exts []Extension) []extensionJSON {
	if len(exts) == 0 {
		return nil
	}
	out := make([]extensionJSON, 0, len(exts))
	for _, e := range exts {
		out = append(out, extensionJSON{
			ExtID:   fmt.Sprintf("%04x", e.Type),
			ExtData: hex.EncodeToString(e.Data),
		})
	}
	return out
}

func certificatesToJSON(certs []Certificate) []certificateJSON {
	if len(certs) == 0 {
		return nil
	}
	out := make([]certificateJSON, 0, len(certs))
	for _, c := range certs {
		cj := certificateJSON{
			Length:                    c.Length,
			SerialNumber:              hex.EncodeToString(c.SerialNumber),
			Signature:                 hex.EncodeToString(c.Signature),
			SignatureKeySize:          c.SignatureKeySize,
			ValidityNotBefore:         c.ValidityNotBefore,
			ValidityNotAfter:          c.ValidityNotAfter,
			SubjectPublicKeyAlgorithm: hex.EncodeToString(c.SubjectPublicKeyAlgorithm),
			SubjectPublicKeySize:      c.SubjectPublicKeySize,
			SAN:                       c.SAN,
		}
		for _, rdn := range c.Issuer {
			cj.Issuer = append(cj.Issuer, rdnJSON{ID: hex.EncodeToString(rdn.OID), String: rdn.String})
		}
		for _, rdn := range c.Subject {
			cj.Subject = append(cj.Subject, subjectRDNJSON{ID: hex.EncodeToString(rdn.OID), String: rdn.String})
		}
		for _, ext := range c.Extensions {
			cj.Extensions = append(cj.Extensions, extensionJSON{
				ExtID:   hex.EncodeToString(ext.OID),
				ExtData: hex.EncodeToString(ext.Data),
			})
		}
		out = append(out, cj)
	}
	return out
}

// interleaveRecords merges the two sides' record streams in arrival
// order, each truncated to NumPktLenTLS entries first, computing
// delta_ms relative to the previously emitted entry. A nil or
// record-less side degenerates the merge to the other side alone,
// marked OUT.
func interleaveRecords(out, in *TlsInfo) []srltEntryJSON {
	a := truncatedRecords(out)
	b := truncatedRecords(in)

	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	if len(b) == 0 {
		return mergeSingleSide(a, DirOut)
	}
	if len(a) == 0 {
		return mergeSingleSide(b, DirOut)
	}

	result := make([]srltEntryJSON, 0, len(a)+len(b))
	i, j := 0, 0
	var havePrev bool
	var prev int64

	emit := func(rec Record, dir string) {
		ts := rec.Timestamp.UnixNano() / int64(1e6)
		var delta int64
		if havePrev {
			delta = ts - prev
		}
		havePrev = true
		prev = ts
		result = append(result, srltEntryJSON{
			Bytes: rec.Length,
			Dir:   dir,
			IPT:   delta,
			Type:  fmt.Sprintf("%d:%d", rec.ContentType, rec.HandshakeType),
		})
	}

	for i < len(a) && j < len(b) {
		if !a[i].Timestamp.After(b[j].Timestamp) {
			emit(a[i], DirOut)
			i++
		} else {
			emit(b[j], DirIn)
			j++
		}
	}
	for ; i < len(a); i++ {
		emit(a[i], DirOut)
	}
	for ; j < len(b); j++ {
		emit(b[j], DirIn)
	}
	return result
}

func mergeSingleSide(recs []Record, dir string) []srltEntryJSON {
	result := make([]srltEntryJSON, 0, len(recs))
	var havePrev bool
	var prev int64
	for _, rec := range recs {
		ts := rec.Timestamp.UnixNano() / int64(1e6)
		var delta int64
		if havePrev {
			delta = ts - prev
		}
		havePrev = true
		prev = ts
		result = append(result, srltEntryJSON{
			Bytes: rec.Length,
			Dir:   dir,
			IPT:   delta,
			Type:  fmt.Sprintf("%d:%d", rec.ContentType, rec.HandshakeType),
		})
	}
	return result
}

func truncatedRecords(info *TlsInfo) []Record {
	if info == nil {
		return nil
	}
	if len(info.Records) <= NumPktLenTLS {
		return info.Records
	}
	return info.Records[:NumPktLenTLS]
}

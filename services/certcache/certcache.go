// Package certcache caches parsed certificate-chain entries by the
// SHA-256 digest of their raw DER bytes, first writer wins, and drops
// entries about a day after they were inserted. The daemon starts and
// stops the cache, but no other package files or looks up certificates
// in it: services/flowstore and services/restd store and serve whole
// report blobs without consulting it.
package certcache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/untangle/tlsflowd/services/logger"
	"github.com/untangle/tlsflowd/tlsflow"
)

const cleanTimeout = 86400 * time.Second

// CertificateHolder caches one parsed certificate alongside the
// digest it was filed under and when it was first seen.
type CertificateHolder struct {
	CreationTime time.Time
	Certificate  tlsflow.Certificate
}

var shutdownChannel = make(chan bool)
var certificateTable map[string]*CertificateHolder
var certificateMutex sync.Mutex

// Startup initializes the cache and starts its staleness sweep.
func Startup() {
	certificateMutex.Lock()
	certificateTable = make(map[string]*CertificateHolder)
	certificateMutex.Unlock()
	go cleanupTask()
}

// Shutdown stops the staleness sweep.
func Shutdown() {
	shutdownChannel <- true
	select {
	case <-shutdownChannel:
	case <-time.After(10 * time.Second):
		logger.Err("Failed to properly shutdown certcache cleanupTask\n")
	}
}

// Digest computes the cache key for a raw DER-encoded certificate.
func Digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached certificate for a digest, if present.
func Lookup(digest string) (tlsflow.Certificate, bool) {
	certificateMutex.Lock()
	defer certificateMutex.Unlock()

	holder, found := certificateTable[digest]
	if !found {
		return tlsflow.Certificate{}, false
	}
	return holder.Certificate, true
}

// Insert files a parsed certificate under the digest of its raw DER
// bytes, first-writer-wins (a second flow presenting the same chain
// does not need to overwrite an already-cached entry).
func Insert(digest string, certificate tlsflow.Certificate) {
	certificateMutex.Lock()
	defer certificateMutex.Unlock()

	if _, found := certificateTable[digest]; found {
		return
	}
	certificateTable[digest] = &CertificateHolder{
		CreationTime: time.Now(),
		Certificate:  certificate,
	}
}

func cleanCertificateTable() {
	now := time.Now()

	certificateMutex.Lock()
	defer certificateMutex.Unlock()

	for key, val := range certificateTable {
		if now.Sub(val.CreationTime) < cleanTimeout {
			continue
		}
		delete(certificateTable, key)
		logger.Debug("Removing cached certificate %s\n", key)
	}
}

func cleanupTask() {
	for {
		select {
		case <-shutdownChannel:
			shutdownChannel <- true
			return
		case <-time.After(60 * time.Second):
			cleanCertificateTable()
		}
	}
}

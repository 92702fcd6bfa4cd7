package certcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untangle/tlsflowd/tlsflow"
)

func TestDigestIsStableAndContentAddressed(t *testing.T) {
	a := Digest([]byte("certificate-bytes"))
	b := Digest([]byte("certificate-bytes"))
	c := Digest([]byte("different-bytes"))

	assert.Equal(t, a, b, "Digest must be deterministic")
	assert.NotEqual(t, a, c, "different inputs must not collide")
}

func TestInsertLookupRoundTripAndFirstWriterWins(t *testing.T) {
	Startup()
	defer Shutdown()

	digest := Digest([]byte("chain-1"))
	cert := tlsflow.Certificate{SerialNumber: []byte{0x01}}
	Insert(digest, cert)

	got, found := Lookup(digest)
	require.True(t, found, "expected cached certificate to be found")
	assert.Equal(t, []byte{0x01}, got.SerialNumber)

	// A second Insert under the same digest must not overwrite.
	Insert(digest, tlsflow.Certificate{SerialNumber: []byte{0xFF}})
	got2, _ := Lookup(digest)
	assert.Equal(t, []byte{0x01}, got2.SerialNumber, "expected first-writer-wins")
}

func TestLookupMiss(t *testing.T) {
	Startup()
	defer Shutdown()

	_, found := Lookup("nonexistent")
	assert.False(t, found, "expected a lookup miss for an unseen digest")
}

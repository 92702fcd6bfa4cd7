package geoip

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountryForPrivateAddressIsLocal(t *testing.T) {
	assert.Equal(t, localCountry, countryFor(net.ParseIP("10.1.2.3")))
	assert.Equal(t, localCountry, countryFor(net.ParseIP("192.168.1.1")))
}

func TestCountryForNilIsUnknown(t *testing.T) {
	assert.Equal(t, unknownCountry, countryFor(nil))
}

func TestCountryForPublicAddressWithoutDatabaseIsUnknown(t *testing.T) {
	geoMutex.Lock()
	geoDatabaseReader = nil
	geoMutex.Unlock()

	assert.Equal(t, unknownCountry, countryFor(net.ParseIP("8.8.8.8")))
}

func TestDatabaseStaleMissingFile(t *testing.T) {
	assert.True(t, databaseStale("/nonexistent/path/to/GeoLite2-Country.mmdb"))
}

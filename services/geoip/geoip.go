// Package geoip enriches flow reports with client/server ISO country
// codes, looked up from the addresses already carried on a
// dispatch.FlowEntry's tuple. The enrichment is a value the caller
// attaches alongside a report rather than inside it.
package geoip

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"

	"github.com/untangle/tlsflowd/services/logger"
)

const unknownCountry = "XU"
const localCountry = "XL"

var geoMutex sync.Mutex
var geoDatabaseReader *geoip2.Reader
var privateIPBlocks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	} {
		_, block, _ := net.ParseCIDR(cidr)
		privateIPBlocks = append(privateIPBlocks, block)
	}
}

// Enrichment is the enrichment attached to a stored/exported report
// alongside (not inside) the bit-exact "tls" object.
type Enrichment struct {
	ClientCountry string `json:"client_country"`
	ServerCountry string `json:"server_country"`
}

var shutdownChannel = make(chan bool)

// Startup opens the configured MaxMind database and starts a
// background staleness check. A missing or stale database is logged,
// not fatal: lookups simply return "XU" until an operator supplies a
// current one, since this daemon has no vendor download endpoint to
// fetch one from automatically.
func Startup(databasePath string) {
	loadDatabase(databasePath)
	go stalenessTask(databasePath)
}

func loadDatabase(databasePath string) {
	geoMutex.Lock()
	defer geoMutex.Unlock()

	if _, err := os.Stat(databasePath); err != nil {
		logger.Warn("GeoIP database not found at %s, country enrichment disabled: %s\n", databasePath, err.Error())
		return
	}

	db, err := geoip2.Open(databasePath)
	if err != nil {
		logger.Warn("Unable to load GeoIP database %s: %s\n", databasePath, err.Error())
		return
	}
	logger.Info("Loaded GeoIP database: %s\n", databasePath)
	geoDatabaseReader = db
}

// stalenessTask periodically warns when the configured database has
// aged past the 30-day freshness window.
func stalenessTask(databasePath string) {
	for {
		select {
		case <-shutdownChannel:
			shutdownChannel <- true
			return
		case <-time.After(3600 * time.Second):
			if databaseStale(databasePath) {
				logger.Warn("GeoIP database %s is stale or missing\n", databasePath)
			}
		}
	}
}

// Shutdown stops the staleness check and closes the database reader.
func Shutdown() {
	shutdownChannel <- true
	select {
	case <-shutdownChannel:
	case <-time.After(10 * time.Second):
		logger.Err("Failed to properly shutdown geoip staleness task\n")
	}

	geoMutex.Lock()
	defer geoMutex.Unlock()
	if geoDatabaseReader != nil {
		geoDatabaseReader.Close()
		geoDatabaseReader = nil
	}
}

// Lookup resolves the client and server ISO country codes for a flow.
func Lookup(clientAddr, serverAddr net.IP) Enrichment {
	return Enrichment{
		ClientCountry: countryFor(clientAddr),
		ServerCountry: countryFor(serverAddr),
	}
}

func countryFor(addr net.IP) string {
	if addr == nil {
		return unknownCountry
	}
	if isPrivateIP(addr) {
		return localCountry
	}

	geoMutex.Lock()
	reader := geoDatabaseReader
	geoMutex.Unlock()

	if reader == nil {
		return unknownCountry
	}

	record, err := reader.Country(addr)
	if err != nil || len(record.Country.IsoCode) == 0 {
		return unknownCountry
	}
	return record.Country.IsoCode
}

func isPrivateIP(ip net.IP) bool {
	for _, block := range privateIPBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// databaseStale reports whether the file at path is absent, empty, or
// older than 30 days.
func databaseStale(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return true
	}
	return time.Since(info.ModTime()) > 30*24*time.Hour
}

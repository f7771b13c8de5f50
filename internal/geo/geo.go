// Package geo resolves client IPs to country codes with a MaxMind database.
package geo

import (
	"net"
	"strings"

	"github.com/oschwald/maxminddb-golang"
)

// UnknownCountry labels addresses that cannot be resolved.
const UnknownCountry = "unknown"

// Location is the part of a MaxMind record the ingest metrics use.
type Location struct {
	Country string
	City    string
}

// Lookup resolves IPs through a MaxMind reader and a Cache. A nil *Lookup is
// valid and resolves nothing.
type Lookup struct {
	db    *maxminddb.Reader
	cache *Cache
}

// Open loads the database at path. An empty path returns a nil Lookup and no
// error so GeoIP stays optional.
func Open(path string) (*Lookup, error) {
	if path == "" {
		return nil, nil
	}
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Lookup{db: db, cache: NewCache(0, 0)}, nil
}

// Locate returns the location of ip. Private, malformed and unknown
// addresses yield an empty Location.
func (l *Lookup) Locate(ip string) Location {
	if l == nil || l.db == nil {
		return Location{}
	}
	ip = strings.TrimSpace(ip)
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() {
		return Location{}
	}
	if loc, ok := l.cache.Get(ip); ok {
		return loc
	}

	var record struct {
		Country struct {
			ISO string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
		City struct {
			Names map[string]string `maxminddb:"names"`
		} `maxminddb:"city"`
	}
	var loc Location
	if err := l.db.Lookup(parsed, &record); err == nil {
		loc = Location{Country: record.Country.ISO, City: record.City.Names["en"]}
	}
	l.cache.Set(ip, loc)
	return loc
}

// Country returns the ISO country code of ip or UnknownCountry.
func (l *Lookup) Country(ip string) string {
	if c := l.Locate(ip).Country; c != "" {
		return c
	}
	return UnknownCountry
}

// Close releases the database.
func (l *Lookup) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

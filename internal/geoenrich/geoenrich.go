// Package geoenrich looks up coarse geolocation for a source address,
// for attaching to dossier entries and alert payloads.
package geoenrich

import (
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Location is the subset of a GeoLite2 City record sentryd cares
// about.
type Location struct {
	Country string
	City    string
	ISOCode string
	Lat     float64
	Lon     float64
}

// Provider wraps an optional GeoIP2 database. A Provider with no
// database open (path not found) returns nil locations rather than
// failing lookups, so geo enrichment is always best-effort.
type Provider struct {
	db *geoip2.Reader
}

// Open opens the MaxMind GeoLite2 database at path. If the database
// cannot be opened, Open still returns a usable Provider whose Lookup
// calls return nil, so a missing database never blocks startup.
func Open(path string) (*Provider, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return &Provider{db: nil}, nil
	}
	return &Provider{db: db}, nil
}

// Close releases the underlying database, if one is open.
func (p *Provider) Close() {
	if p.db != nil {
		p.db.Close()
	}
}

// Enabled reports whether a database is actually open.
func (p *Provider) Enabled() bool {
	return p.db != nil
}

// Lookup resolves addr to a Location, or nil if the database isn't
// open, addr doesn't parse, or the address has no city record (as is
// typical for private/RFC1918 ranges).
func (p *Provider) Lookup(addr string) *Location {
	if p.db == nil {
		return nil
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return nil
	}

	record, err := p.db.City(ip)
	if err != nil {
		return nil
	}

	return &Location{
		Country: record.Country.Names["en"],
		City:    record.City.Names["en"],
		ISOCode: record.Country.IsoCode,
		Lat:     record.Location.Latitude,
		Lon:     record.Location.Longitude,
	}
}

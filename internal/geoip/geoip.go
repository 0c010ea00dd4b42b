package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"subforge/internal/logger"
)

// DB wraps the optional MaxMind readers. A nil *DB is valid and resolves nothing.
type DB struct {
	country *geoip2.Reader
	asn     *geoip2.Reader
}

type Result struct {
	ISP     string
	Country string
}

// Open loads the MMDB files. The country database is required when a path
// is given; a broken ASN database only costs ISP names.
func Open(countryPath, asnPath string) (*DB, error) {
	db := &DB{}
	if countryPath != "" {
		r, err := geoip2.Open(countryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open Country DB at %s: %w", countryPath, err)
		}
		db.country = r
	}
	if asnPath != "" {
		r, err := geoip2.Open(asnPath)
		if err != nil {
			logger.Log.Warnf("Failed to open ASN DB at %s: %v. ISP data will be missing.", asnPath, err)
		} else {
			db.asn = r
		}
	}
	return db, nil
}

// Country returns the ISO code for an IP literal. Host names are not resolved.
func (db *DB) Country(host string) (string, bool) {
	if db == nil || db.country == nil {
		return "", false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", false
	}
	c, err := db.country.Country(ip)
	if err != nil || c.Country.IsoCode == "" {
		return "", false
	}
	return c.Country.IsoCode, true
}

func (db *DB) Lookup(ipStr string) (*Result, error) {
	if db == nil || (db.country == nil && db.asn == nil) {
		return nil, fmt.Errorf("geoip database not initialized")
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, fmt.Errorf("invalid ip: %s", ipStr)
	}

	res := &Result{ISP: "Unknown", Country: "XX"}
	if db.asn != nil {
		if asn, err := db.asn.ASN(ip); err == nil {
			res.ISP = asn.AutonomousSystemOrganization
		}
	}
	if cc, ok := db.Country(ipStr); ok {
		res.Country = cc
	}
	return res, nil
}

func (db *DB) Close() {
	if db == nil {
		return
	}
	if db.country != nil {
		db.country.Close()
	}
	if db.asn != nil {
		db.asn.Close()
	}
}

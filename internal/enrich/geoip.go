// Package enrich fills optional transaction context before evaluation.
package enrich

import (
	"fmt"
	"log/slog"
	"net"

	"antifraud/internal/domain"

	"github.com/oschwald/geoip2-golang"
)

type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
	Close() error
}

// GeoEnricher resolves a missing geo-location label from the IP address
// using a MaxMind country or city database.
type GeoEnricher struct {
	reader countryReader
	logger *slog.Logger
}

func OpenGeoEnricher(path string, logger *slog.Logger) (*GeoEnricher, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database %s: %w", path, err)
	}
	return newGeoEnricher(reader, logger), nil
}

func newGeoEnricher(reader countryReader, logger *slog.Logger) *GeoEnricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeoEnricher{reader: reader, logger: logger}
}

// Enrich sets GeoLocation to the ISO country code of IPAddress when the
// caller left it empty. Unresolvable addresses leave the field empty.
func (g *GeoEnricher) Enrich(tx *domain.Transaction) {
	if g == nil || tx.GeoLocation != "" || tx.IPAddress == "" {
		return
	}

	ip := net.ParseIP(tx.IPAddress)
	if ip == nil {
		g.logger.Debug("Skipping geo lookup for unparsable IP", slog.String("ip", tx.IPAddress))
		return
	}

	record, err := g.reader.Country(ip)
	if err != nil {
		g.logger.Warn("Geo lookup failed",
			slog.String("ip", tx.IPAddress),
			slog.String("error", err.Error()))
		return
	}

	tx.GeoLocation = record.Country.IsoCode
}

func (g *GeoEnricher) Close() error {
	if g == nil {
		return nil
	}
	return g.reader.Close()
}

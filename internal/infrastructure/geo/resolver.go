// Package geo resolves client IPs to coarse locations for audit
// enrichment. Resolution is two-tier: a local MaxMind database first,
// then a remote HTTP service, behind an in-memory LRU cache. Private
// addresses short-circuit without any I/O.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/config"
)

// Location is the enrichment stored on audit events.
type Location struct {
	Country string  `json:"country,omitempty"`
	Region  string  `json:"region,omitempty"`
	City    string  `json:"city,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`

	// Source records which tier answered: private, mmdb, remote, unknown.
	Source string `json:"source"`
}

const (
	SourcePrivate = "private"
	SourceMMDB    = "mmdb"
	SourceRemote  = "remote"
	SourceUnknown = "unknown"
)

// Resolver looks up locations with caching. Failures degrade to an
// unknown location; the audit path never blocks on geo.
type Resolver struct {
	mmdb   *geoip2.Reader
	remote string
	client *http.Client
	cache  *lruCache
	logger *zap.Logger
}

// NewResolver builds a resolver from configuration. Both tiers are
// optional; with neither configured every public IP resolves to
// unknown.
func NewResolver(cfg *config.GeoConfig, logger *zap.Logger) (*Resolver, error) {
	r := &Resolver{
		remote: cfg.RemoteURL,
		client: &http.Client{Timeout: 3 * time.Second},
		cache:  newLRUCache(cfg.CacheSize),
		logger: logger,
	}

	if cfg.MMDBPath != "" {
		reader, err := geoip2.Open(cfg.MMDBPath)
		if err != nil {
			return nil, fmt.Errorf("geo: opening mmdb %q: %w", cfg.MMDBPath, err)
		}
		r.mmdb = reader
	}

	return r, nil
}

// Resolve maps an IP to a location. Never returns an error: the audit
// writer records whatever tier answered.
func (r *Resolver) Resolve(ctx context.Context, ipStr string) Location {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return Location{Source: SourceUnknown}
	}

	if isPrivate(ip) {
		return Location{Source: SourcePrivate}
	}

	if loc, ok := r.cache.get(ipStr); ok {
		return loc
	}

	loc := r.lookup(ctx, ip)
	// Unknown results are cached too: a dead remote tier must not be
	// re-probed for every event from the same address.
	r.cache.put(ipStr, loc)
	return loc
}

func (r *Resolver) lookup(ctx context.Context, ip net.IP) Location {
	if r.mmdb != nil {
		if loc, ok := r.lookupMMDB(ip); ok {
			return loc
		}
	}
	if r.remote != "" {
		if loc, ok := r.lookupRemote(ctx, ip); ok {
			return loc
		}
	}
	return Location{Source: SourceUnknown}
}

func (r *Resolver) lookupMMDB(ip net.IP) (Location, bool) {
	rec, err := r.mmdb.City(ip)
	if err != nil {
		r.logger.Debug("geo mmdb lookup failed", zap.String("ip", ip.String()), zap.Error(err))
		return Location{}, false
	}
	if rec.Country.IsoCode == "" {
		return Location{}, false
	}
	loc := Location{
		Country: rec.Country.IsoCode,
		City:    rec.City.Names["en"],
		Lat:     rec.Location.Latitude,
		Lon:     rec.Location.Longitude,
		Source:  SourceMMDB,
	}
	if len(rec.Subdivisions) > 0 {
		loc.Region = rec.Subdivisions[0].Names["en"]
	}
	return loc, true
}

func (r *Resolver) lookupRemote(ctx context.Context, ip net.IP) (Location, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.remote+"/"+ip.String(), nil)
	if err != nil {
		return Location{}, false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("geo remote lookup failed", zap.String("ip", ip.String()), zap.Error(err))
		return Location{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Location{}, false
	}

	var body struct {
		CountryCode string  `json:"country_code"`
		Region      string  `json:"region"`
		City        string  `json:"city"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, false
	}
	if body.CountryCode == "" {
		return Location{}, false
	}
	return Location{
		Country: body.CountryCode,
		Region:  body.Region,
		City:    body.City,
		Lat:     body.Latitude,
		Lon:     body.Longitude,
		Source:  SourceRemote,
	}, true
}

// Close releases the mmdb handle.
func (r *Resolver) Close() error {
	if r.mmdb != nil {
		return r.mmdb.Close()
	}
	return nil
}

var privateBlocks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func isPrivate(ip net.IP) bool {
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, block, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, block)
	}
	return out
}

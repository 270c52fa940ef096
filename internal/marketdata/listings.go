package marketdata

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"gopkg.in/yaml.v3"

	"evalgate/internal/audit"
)

// ListingResolver builds the universe description the auditor checks for
// survivorship bias.
type ListingResolver interface {
	Resolve(ctx context.Context, symbols []string) (audit.Universe, error)
}

// Compile-time interface checks.
var _ ListingResolver = (*StaticListings)(nil)
var _ ListingResolver = (*AlpacaListings)(nil)

// ---------------------------------------------------------------------------
// StaticListings: a curated universe file
// ---------------------------------------------------------------------------

// StaticListings is a universe file that records delisted instruments
// alongside listed ones, so it attests listing history. Its layout:
//
//	source: crsp-2024
//	listings:
//	  AAPL: {status: listed}
//	  LEH:  {status: delisted, delisted_at: 2008-09-15}
type StaticListings struct {
	Source   string                   `yaml:"source"`
	Listings map[string]audit.Listing `yaml:"listings"`
}

// LoadStaticListings reads a universe file.
func LoadStaticListings(path string) (*StaticListings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &StaticListings{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if s.Source == "" {
		s.Source = path
	}
	normalized := make(map[string]audit.Listing, len(s.Listings))
	for sym, l := range s.Listings {
		normalized[strings.ToUpper(sym)] = l
	}
	s.Listings = normalized
	return s, nil
}

// Resolve returns the listings of the requested symbols. Symbols missing
// from the file are left out of Listings and so read as unknown.
func (s *StaticListings) Resolve(_ context.Context, symbols []string) (audit.Universe, error) {
	u := audit.Universe{
		Symbols:        symbols,
		Source:         s.Source,
		AttestsHistory: true,
		Listings:       make(map[string]audit.Listing, len(symbols)),
	}
	for _, sym := range symbols {
		if l, ok := s.Listings[strings.ToUpper(sym)]; ok {
			u.Listings[sym] = l
		}
	}
	return u, nil
}

// ---------------------------------------------------------------------------
// AlpacaListings: current asset status from the trading API
// ---------------------------------------------------------------------------

// assetClient is the subset of *alpaca.Client used for listings.
type assetClient interface {
	GetAsset(symbol string) (*alpaca.Asset, error)
}

var _ assetClient = (*alpaca.Client)(nil)

// AlpacaListings looks up each symbol's current status. The API only knows
// today's listing, so the universe never attests history.
type AlpacaListings struct {
	client assetClient
}

// NewAlpacaListings creates an AlpacaListings over the trading API.
func NewAlpacaListings(apiKey, apiSecret, baseURL string) *AlpacaListings {
	return &AlpacaListings{client: alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})}
}

// Resolve marks active assets listed and inactive ones delisted. Lookup
// failures leave the symbol unknown rather than failing the audit.
func (a *AlpacaListings) Resolve(ctx context.Context, symbols []string) (audit.Universe, error) {
	u := audit.Universe{
		Symbols:  symbols,
		Source:   "alpaca",
		Listings: make(map[string]audit.Listing, len(symbols)),
	}
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return audit.Universe{}, err
		}
		asset, err := a.client.GetAsset(sym)
		if err != nil {
			u.Listings[sym] = audit.Listing{Status: audit.ListingUnknown}
			continue
		}
		switch string(asset.Status) {
		case "active":
			u.Listings[sym] = audit.Listing{Status: audit.ListingListed}
		case "inactive":
			u.Listings[sym] = audit.Listing{Status: audit.ListingDelisted}
		default:
			u.Listings[sym] = audit.Listing{Status: audit.ListingUnknown}
		}
	}
	return u, nil
}

package audit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"evalgate/internal/domain"
)

// ListingStatus is an instrument's listing state as reported by a universe
// source.
type ListingStatus string

const (
	ListingListed   ListingStatus = "listed"
	ListingDelisted ListingStatus = "delisted"
	ListingUnknown  ListingStatus = "unknown"
)

// Listing is the listing record of one symbol.
type Listing struct {
	Status     ListingStatus `json:"status" yaml:"status"`
	DelistedAt time.Time     `json:"delisted_at,omitempty" yaml:"delisted_at"`
}

// Universe is the declared set of symbols a strategy trades, together with
// what its source knows about their listing history. AttestsHistory is true
// only when the source records delisted instruments, not just the current
// listing.
type Universe struct {
	Symbols        []string           `json:"symbols"`
	Source         string             `json:"source"`
	AttestsHistory bool               `json:"attests_history"`
	Listings       map[string]Listing `json:"listings,omitempty"`
}

// checkSurvivorship warns when the universe cannot rule out survivorship
// bias: the source cannot attest listing history, the attested universe
// holds only currently listed instruments, or the universe is empty.
func checkSurvivorship(u Universe) []domain.Finding {
	warn := func(msg, evidence string) domain.Finding {
		return domain.Finding{
			Severity: domain.SeverityWarning,
			Category: domain.CategorySurvivorship,
			Message:  msg,
			Evidence: evidence,
		}
	}

	if len(u.Symbols) == 0 {
		return []domain.Finding{warn("declared universe is empty", "source="+u.Source)}
	}
	if !u.AttestsHistory {
		return []domain.Finding{warn(
			fmt.Sprintf("universe source %q cannot attest historical listing status", u.Source),
			fmt.Sprintf("symbols=%d", len(u.Symbols)),
		)}
	}

	var findings []domain.Finding
	var unknown []string
	delisted := 0
	for _, sym := range u.Symbols {
		l, ok := u.Listings[sym]
		switch {
		case !ok || l.Status == ListingUnknown || l.Status == "":
			unknown = append(unknown, sym)
		case l.Status == ListingDelisted:
			delisted++
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		findings = append(findings, warn(
			fmt.Sprintf("listing status unknown for %d of %d symbols", len(unknown), len(u.Symbols)),
			strings.Join(unknown, ","),
		))
	}
	if delisted == 0 && len(unknown) == 0 {
		findings = append(findings, warn(
			"universe contains only currently listed instruments",
			fmt.Sprintf("source=%s symbols=%d", u.Source, len(u.Symbols)),
		))
	}
	return findings
}

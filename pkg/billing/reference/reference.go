// Package reference decodes gateway reference strings into a normalized
// (tier, cycle, userID) triple. One strategy per format, tried in a defined
// precedence order so a new gateway format never touches existing parsing.
package reference

import "strings"

// Ref is the decoded form of a gateway reference. UserID may be empty for
// formats that only carry plan information (price ids, offer codes); the
// caller resolves the account via the customer email instead.
type Ref struct {
	Tier   string
	Cycle  string
	UserID string
}

// Strategy parses one reference format. ok=false means "not this format",
// never an error; unrecognized references are not our concern.
type Strategy interface {
	Parse(raw string) (*Ref, bool)
}

// Parser tries its strategies in order and returns the first match. The
// most specific format must come first: a reference matching both the
// current and the legacy pattern parses under the current rule.
type Parser struct {
	strategies []Strategy
}

// NewParser creates a Parser with the given strategies, most specific first.
func NewParser(strategies ...Strategy) *Parser {
	return &Parser{strategies: strategies}
}

// NewDefaultParser returns a Parser for the current and legacy Gravyx
// formats plus an optional code table for gateway-assigned identifiers.
func NewDefaultParser(codes map[string]Ref) *Parser {
	strategies := []Strategy{CurrentFormat{}, LegacyFormat{}}
	if len(codes) > 0 {
		strategies = append(strategies, CodeTable(codes))
	}
	return NewParser(strategies...)
}

// Parse decodes raw, or returns ok=false when no strategy recognizes it.
func (p *Parser) Parse(raw string) (*Ref, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	for _, s := range p.strategies {
		if ref, ok := s.Parse(raw); ok {
			return ref, true
		}
	}
	return nil, false
}

// Format mints a reference in the current format. What checkout writes
// here is what the webhook parses back.
func Format(cycle, tier, userID string) string {
	return prefix + "_" + cycle + "_" + tier + "_" + userID
}

const prefix = "gravyx"

var validCycles = map[string]bool{"monthly": true, "annual": true}

var validTiers = map[string]bool{
	"free":       true,
	"starter":    true,
	"premium":    true,
	"enterprise": true,
}

// CurrentFormat parses gravyx_{cycle}_{tier}_{userID}. The user id is the
// remainder and may itself contain underscores.
type CurrentFormat struct{}

func (CurrentFormat) Parse(raw string) (*Ref, bool) {
	parts := strings.Split(raw, "_")
	if len(parts) < 4 || parts[0] != prefix {
		return nil, false
	}
	cycle, tier := parts[1], parts[2]
	if !validCycles[cycle] || !validTiers[tier] {
		return nil, false
	}
	userID := strings.Join(parts[3:], "_")
	if userID == "" {
		return nil, false
	}
	return &Ref{Tier: tier, Cycle: cycle, UserID: userID}, true
}

// LegacyFormat parses gravyx_{tier}_{userID} with an implied monthly cycle.
// Kept for references minted before cycles were encoded.
type LegacyFormat struct{}

func (LegacyFormat) Parse(raw string) (*Ref, bool) {
	parts := strings.Split(raw, "_")
	if len(parts) < 3 || parts[0] != prefix {
		return nil, false
	}
	tier := parts[1]
	if !validTiers[tier] {
		return nil, false
	}
	userID := strings.Join(parts[2:], "_")
	if userID == "" {
		return nil, false
	}
	return &Ref{Tier: tier, Cycle: "monthly", UserID: userID}, true
}

// CodeTable maps gateway-assigned identifiers (Stripe price ids, Ticto
// offer codes) to plans. Lookups are case-insensitive.
type CodeTable map[string]Ref

func (t CodeTable) Parse(raw string) (*Ref, bool) {
	ref, ok := t[strings.ToLower(raw)]
	if !ok {
		return nil, false
	}
	return &Ref{Tier: ref.Tier, Cycle: ref.Cycle, UserID: ref.UserID}, true
}

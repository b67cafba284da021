package models

import "strings"

// Tier is a caller's subscription level.
type Tier string

const (
	TierFree    Tier = "FREE"
	TierEdge    Tier = "EDGE"
	TierWarRoom Tier = "WAR_ROOM"
)

// ParseTier maps a raw tier string onto a known Tier.
// Empty and unrecognised values resolve to TierFree.
func ParseTier(raw string) Tier {
	switch Tier(strings.ToUpper(strings.TrimSpace(raw))) {
	case TierEdge:
		return TierEdge
	case TierWarRoom:
		return TierWarRoom
	default:
		return TierFree
	}
}

// Restricted reports whether t is the most restricted tier.
func (t Tier) Restricted() bool {
	return ParseTier(string(t)) == TierFree
}

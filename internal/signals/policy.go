package signals

import "github.com/gammarips/overnightedge/internal/models"

const (
	// restrictedMinScore is the lowest score the most restricted tier may see.
	restrictedMinScore = 7
	// restrictedMaxLimit caps how many signals the most restricted tier may list.
	restrictedMaxLimit = 10
)

// Policy is the effective query policy for one request, derived from the caller's tier.
type Policy struct {
	MinScoreFloor      int  // caller's MinScore is raised to at least this
	MaxLimit           int  // caller's Limit is capped at this; 0 means uncapped
	RedactPremium      bool // strip premium signal attributes
	RedactThemeTickers bool // strip theme ticker lists
	DetailAllowed      bool // signal detail may be served at all
	UpgradePrompt      bool // attach an upgrade block to listings
}

// PolicyFor returns the policy for tier.
func PolicyFor(tier models.Tier) Policy {
	if tier.Restricted() {
		return Policy{
			MinScoreFloor:      restrictedMinScore,
			MaxLimit:           restrictedMaxLimit,
			RedactPremium:      true,
			RedactThemeTickers: true,
			DetailAllowed:      false,
			UpgradePrompt:      true,
		}
	}
	return Policy{DetailAllowed: true}
}

// Tighten applies the policy to a listing request. It only ever raises MinScore and
// lowers Limit.
func (p Policy) Tighten(req SignalsRequest) SignalsRequest {
	if req.MinScore < p.MinScoreFloor {
		req.MinScore = p.MinScoreFloor
	}
	if p.MaxLimit > 0 && (req.Limit <= 0 || req.Limit > p.MaxLimit) {
		req.Limit = p.MaxLimit
	}
	return req
}

// RedactSignals returns redacted copies when the policy requires it, otherwise signals as-is.
func (p Policy) RedactSignals(signals []models.Signal) []models.Signal {
	if !p.RedactPremium {
		return signals
	}
	out := make([]models.Signal, len(signals))
	for i, s := range signals {
		out[i] = s.WithoutPremium()
	}
	return out
}

// RedactThemes returns copies without ticker lists when the policy requires it.
func (p Policy) RedactThemes(themes []models.Theme) []models.Theme {
	if !p.RedactThemeTickers {
		return themes
	}
	out := make([]models.Theme, len(themes))
	for i, t := range themes {
		out[i] = t.WithoutTickers()
	}
	return out
}

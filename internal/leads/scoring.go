package leads

import (
	"time"
)

// Scoring weights. Completeness (max 40) + urgency (max 30) + project value
// (max 20) + base engagement (10) cap at exactly 100.
const (
	maxScore = 100

	pointsEmail       = 10
	pointsPhone       = 10
	pointsOrigin      = 5
	pointsDestination = 5
	pointsSize        = 5
	pointsTier        = 5

	pointsBaseEngagement = 10
)

var desiredDateLayouts = []string{
	"02/01/2006",
	"02-01-2006",
	"2006-01-02",
}

// Score computes the qualification score for a lead against the current time.
func Score(lead *Lead) int {
	return ScoreAt(lead, time.Now())
}

// ScoreAt is the deterministic core of Score: every point comes from the lead
// record itself, with "now" injected so urgency bands are testable.
func ScoreAt(lead *Lead, now time.Time) int {
	if lead == nil {
		return 0
	}

	score := pointsBaseEngagement
	score += completenessScore(lead)
	score += urgencyScore(lead, now)
	score += valueScore(lead)

	if score > maxScore {
		score = maxScore
	}
	return score
}

// PriorityForScore maps a score onto the follow-up bucket.
func PriorityForScore(score int) Priority {
	switch {
	case score >= 80:
		return PriorityHot
	case score >= 60:
		return PriorityWarm
	case score >= 40:
		return PriorityMedium
	default:
		return PriorityCold
	}
}

func completenessScore(lead *Lead) int {
	score := 0
	if lead.Email != "" {
		score += pointsEmail
	}
	if lead.Phone != "" {
		score += pointsPhone
	}
	if lead.ProjectString(KeyOriginCity) != "" || lead.ProjectString(KeyOriginPostcode) != "" {
		score += pointsOrigin
	}
	if lead.ProjectString(KeyDestinationCity) != "" || lead.ProjectString(KeyDestPostcode) != "" {
		score += pointsDestination
	}
	if lead.hasProject(KeyVolume) || lead.hasProject(KeySurface) || lead.hasProject(KeyRooms) {
		score += pointsSize
	}
	if lead.ProjectString(KeyServiceTier) != "" {
		score += pointsTier
	}
	return score
}

// urgencyScore rewards near-term desired dates. An unparseable date string
// contributes nothing; the error never propagates.
func urgencyScore(lead *Lead, now time.Time) int {
	raw := lead.ProjectString(KeyDesiredDate)
	if raw == "" {
		return 0
	}

	desired, ok := parseDesiredDate(raw)
	if !ok {
		return 0
	}

	days := desired.Sub(now).Hours() / 24
	switch {
	case days < 7:
		return 30
	case days < 14:
		return 20
	case days < 30:
		return 10
	default:
		return 5
	}
}

// EstimatedVolume derives a volume in m³ for the project: the stated volume,
// or half the surface when only an area is known.
func EstimatedVolume(lead *Lead) (float64, bool) {
	if lead == nil {
		return 0, false
	}
	if volume, ok := lead.ProjectFloat(KeyVolume); ok {
		return volume, true
	}
	if surface, ok := lead.ProjectFloat(KeySurface); ok {
		return surface / 2, true
	}
	return 0, false
}

// valueScore sizes the project from the estimated volume. A room count alone
// gives no volume estimate but is still a size signal; it lands in the lowest
// band rather than contributing nothing.
func valueScore(lead *Lead) int {
	volume, ok := EstimatedVolume(lead)
	if !ok {
		if lead.hasProject(KeyRooms) {
			return 5
		}
		return 0
	}

	switch {
	case volume > 80:
		return 20
	case volume > 50:
		return 15
	case volume > 30:
		return 10
	default:
		return 5
	}
}

func parseDesiredDate(raw string) (time.Time, bool) {
	for _, layout := range desiredDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

package leads

import (
	"strconv"
	"strings"
	"time"
)

// Priority buckets leads by how aggressively the sales team should follow up.
type Priority string

const (
	PriorityCold   Priority = "cold"
	PriorityMedium Priority = "medium"
	PriorityWarm   Priority = "warm"
	PriorityHot    Priority = "hot"
)

// Well-known project data keys filled in by the conversation extractor.
const (
	KeyOriginCity      = "villeDepart"
	KeyDestinationCity = "villeArrivee"
	KeyOriginPostcode  = "codePostalDepart"
	KeyDestPostcode    = "codePostalArrivee"
	KeySurface         = "surface"
	KeyRooms           = "nbPieces"
	KeyVolume          = "volumeEstime"
	KeyDesiredDate     = "dateSouhaitee"
	KeyFloor           = "etage"
	KeyElevator        = "ascenseur"
	KeyServiceTier     = "formule"
)

// Lead is the evolving record of a prospect and their moving project. Identity
// fields fill in progressively as the conversation yields them; ProjectData
// accumulates domain facts (cities, volume, desired date, tier...). Score and
// Priority are always derived by the scorer, never set directly.
type Lead struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`

	ProjectData map[string]any `json:"project_data"`

	Score    int      `json:"score"`
	Priority Priority `json:"priority"`

	NotificationSent bool `json:"notification_sent"`
	CRMPushed        bool `json:"crm_pushed"`

	Satisfaction int `json:"satisfaction,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasContact reports whether both email and phone are known.
func (l *Lead) HasContact() bool {
	return l.Email != "" && l.Phone != ""
}

// ProjectString returns a string project-data value, or "" if absent.
func (l *Lead) ProjectString(key string) string {
	if l.ProjectData == nil {
		return ""
	}
	if v, ok := l.ProjectData[key].(string); ok {
		return v
	}
	return ""
}

// ProjectFloat returns a numeric project-data value. JSONB round-trips numbers
// as float64; int and string forms are tolerated for values set in code.
func (l *Lead) ProjectFloat(key string) (float64, bool) {
	if l.ProjectData == nil {
		return 0, false
	}
	switch v := l.ProjectData[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// ProjectBool returns a boolean project-data value.
func (l *Lead) ProjectBool(key string) (bool, bool) {
	if l.ProjectData == nil {
		return false, false
	}
	v, ok := l.ProjectData[key].(bool)
	return v, ok
}

func (l *Lead) hasProject(key string) bool {
	if l.ProjectData == nil {
		return false
	}
	_, ok := l.ProjectData[key]
	return ok
}

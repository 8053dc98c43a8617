package readiness

import (
	"fmt"
	"strings"
	"time"
)

var stateNames = map[string]string{
	"AL": "alabama", "AK": "alaska", "AZ": "arizona", "AR": "arkansas",
	"CA": "california", "CO": "colorado", "CT": "connecticut", "DE": "delaware",
	"DC": "district of columbia", "FL": "florida", "GA": "georgia", "HI": "hawaii",
	"ID": "idaho", "IL": "illinois", "IN": "indiana", "IA": "iowa",
	"KS": "kansas", "KY": "kentucky", "LA": "louisiana", "ME": "maine",
	"MD": "maryland", "MA": "massachusetts", "MI": "michigan", "MN": "minnesota",
	"MS": "mississippi", "MO": "missouri", "MT": "montana", "NE": "nebraska",
	"NV": "nevada", "NH": "new hampshire", "NJ": "new jersey", "NM": "new mexico",
	"NY": "new york", "NC": "north carolina", "ND": "north dakota", "OH": "ohio",
	"OK": "oklahoma", "OR": "oregon", "PA": "pennsylvania", "RI": "rhode island",
	"SC": "south carolina", "SD": "south dakota", "TN": "tennessee", "TX": "texas",
	"UT": "utah", "VT": "vermont", "VA": "virginia", "WA": "washington",
	"WV": "west virginia", "WI": "wisconsin", "WY": "wyoming", "PR": "puerto rico",
}

var stateCodes = func() map[string]string {
	out := make(map[string]string, len(stateNames))
	for code, name := range stateNames {
		out[name] = code
	}
	return out
}()

// NormalizeState returns the two-letter code for a state given either its
// code or its full name, case-insensitively.
func NormalizeState(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if code := strings.ToUpper(s); len(code) == 2 {
		_, ok := stateNames[code]
		return code, ok
	}
	code, ok := stateCodes[strings.ToLower(strings.Join(strings.Fields(s), " "))]
	return code, ok
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "01/02/2006"}

// ParseDate accepts the date layouts the intake forms emit.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// KnownRequirementLevel reports whether level is federal, state or local.
func KnownRequirementLevel(level string) bool {
	switch strings.ToLower(level) {
	case "federal", "state", "local":
		return true
	}
	return false
}

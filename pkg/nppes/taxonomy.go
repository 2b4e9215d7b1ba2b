package nppes

import "strings"

// specialtyTaxonomyMap maps common specialty names to the taxonomy
// descriptions the registry indexes on.
var specialtyTaxonomyMap = map[string]string{
	"Primary Care":     "Internal Medicine",
	"Family Medicine":  "Family Medicine",
	"Cardiology":       "Cardiovascular Disease",
	"Dermatology":      "Dermatology",
	"Orthopedics":      "Orthopaedic Surgery",
	"Pediatrics":       "Pediatrics",
	"Neurology":        "Neurology",
	"Oncology":         "Medical Oncology",
	"Psychiatry":       "Psychiatry",
	"Gastroenterology": "Gastroenterology",
	"Pulmonology":      "Pulmonary Disease",
	"Endocrinology":    "Endocrinology, Diabetes & Metabolism",
	"Rheumatology":     "Rheumatology",
	"Nephrology":       "Nephrology",
	"Urology":          "Urology",
}

// majorCityStateMap lets callers omit the state for well-known cities.
var majorCityStateMap = map[string]string{
	"new york":      "NY",
	"los angeles":   "CA",
	"chicago":       "IL",
	"houston":       "TX",
	"phoenix":       "AZ",
	"philadelphia":  "PA",
	"san antonio":   "TX",
	"san diego":     "CA",
	"dallas":        "TX",
	"san jose":      "CA",
	"austin":        "TX",
	"jacksonville":  "FL",
	"fort worth":    "TX",
	"columbus":      "OH",
	"charlotte":     "NC",
	"san francisco": "CA",
	"indianapolis":  "IN",
	"seattle":       "WA",
	"denver":        "CO",
	"boston":        "MA",
	"nashville":     "TN",
	"detroit":       "MI",
	"novi":          "MI",
	"ann arbor":     "MI",
	"grand rapids":  "MI",
	"portland":      "OR",
	"las vegas":     "NV",
	"miami":         "FL",
	"atlanta":       "GA",
	"baltimore":     "MD",
	"minneapolis":   "MN",
	"cleveland":     "OH",
	"pittsburgh":    "PA",
	"orlando":       "FL",
	"tampa":         "FL",
	"milwaukee":     "WI",
}

// MapSpecialtyToTaxonomy translates a common specialty name to the registry's
// taxonomy description, passing unknown values through unchanged.
func MapSpecialtyToTaxonomy(specialty string) string {
	if taxonomy, ok := specialtyTaxonomyMap[specialty]; ok {
		return taxonomy
	}
	return specialty
}

// GuessStateFromCity returns the state abbreviation for well-known city
// names, or "" when the city is not recognized.
func GuessStateFromCity(city string) string {
	return majorCityStateMap[strings.ToLower(strings.TrimSpace(city))]
}

package estimate

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tables holds the immutable heuristic data the estimators run on. A zero
// field falls back to the built-in default table, so a YAML override file
// may replace any subset.
type Tables struct {
	// KnownSystems maps lowercase health-system substrings to an
	// authoritative EMR label with a fixed confidence.
	KnownSystems map[string]SystemEntry `yaml:"known_systems"`
	// StateDistribution maps state abbreviations to EMR market shares.
	// The "DEFAULT" key covers unlisted states.
	StateDistribution map[string]map[string]float64 `yaml:"state_distribution"`
	// SizeKeywords holds keyword sets per clinic-size label, matched in
	// the order given by SizeOrder.
	SizeKeywords map[string][]string `yaml:"size_keywords"`
	// SizeModifiers scales EMR base probabilities per clinic size.
	SizeModifiers map[string]map[string]float64 `yaml:"size_modifiers"`
}

// SystemEntry is one curated health-system row.
type SystemEntry struct {
	EMR        string  `yaml:"emr"`
	Confidence float64 `yaml:"confidence"`
}

// sizeOrder fixes the keyword scan order: broader labels win first so that
// "university medical group" resolves Large before Medium's "group".
var sizeOrder = []string{SizeLarge, SizeMedium, SizeSmall, SizeSolo}

// Clinic-size labels.
const (
	SizeSolo   = "Solo"
	SizeSmall  = "Small"
	SizeMedium = "Medium"
	SizeLarge  = "Large"
)

// EMR system labels.
const (
	EMREpic           = "Epic"
	EMRCerner         = "Cerner"
	EMRAthena         = "Athena"
	EMREClinicalWorks = "eClinicalWorks"
	EMROther          = "Other"
)

// DefaultTables returns the built-in heuristic tables.
func DefaultTables() Tables {
	return Tables{
		KnownSystems:      defaultKnownSystems,
		StateDistribution: defaultStateDistribution,
		SizeKeywords:      defaultSizeKeywords,
		SizeModifiers:     defaultSizeModifiers,
	}
}

// LoadTables reads a YAML override file and merges it over the defaults.
func LoadTables(path string) (Tables, error) {
	t := DefaultTables()

	data, err := os.ReadFile(path)
	if err != nil {
		return t, eris.Wrapf(err, "estimate: read tables %s", path)
	}

	var override Tables
	if err := yaml.Unmarshal(data, &override); err != nil {
		return t, eris.Wrapf(err, "estimate: parse tables %s", path)
	}

	if len(override.KnownSystems) > 0 {
		t.KnownSystems = override.KnownSystems
	}
	if len(override.StateDistribution) > 0 {
		t.StateDistribution = override.StateDistribution
	}
	if len(override.SizeKeywords) > 0 {
		t.SizeKeywords = override.SizeKeywords
	}
	if len(override.SizeModifiers) > 0 {
		t.SizeModifiers = override.SizeModifiers
	}
	return t, nil
}

var defaultKnownSystems = map[string]SystemEntry{
	"mayo clinic":                       {EMR: EMREpic, Confidence: 0.95},
	"cleveland clinic":                  {EMR: EMREpic, Confidence: 0.95},
	"johns hopkins":                     {EMR: EMREpic, Confidence: 0.95},
	"kaiser permanente":                 {EMR: EMREpic, Confidence: 0.95},
	"intermountain":                     {EMR: EMREpic, Confidence: 0.95},
	"providence":                        {EMR: EMREpic, Confidence: 0.90},
	"advocate":                          {EMR: EMREpic, Confidence: 0.90},
	"aurora health":                     {EMR: EMREpic, Confidence: 0.90},
	"cedars-sinai":                      {EMR: EMREpic, Confidence: 0.90},
	"mount sinai":                       {EMR: EMREpic, Confidence: 0.90},
	"ucsf":                              {EMR: EMREpic, Confidence: 0.90},
	"ucla health":                       {EMR: EMREpic, Confidence: 0.90},
	"stanford health":                   {EMR: EMREpic, Confidence: 0.90},
	"duke health":                       {EMR: EMREpic, Confidence: 0.90},
	"university of michigan":            {EMR: EMREpic, Confidence: 0.90},
	"upmc":                              {EMR: EMREpic, Confidence: 0.90},
	"partners healthcare":               {EMR: EMREpic, Confidence: 0.90},
	"mass general":                      {EMR: EMREpic, Confidence: 0.90},
	"brigham":                           {EMR: EMREpic, Confidence: 0.90},
	"northwestern medicine":             {EMR: EMREpic, Confidence: 0.90},
	"rush":                              {EMR: EMREpic, Confidence: 0.85},
	"atrium health":                     {EMR: EMREpic, Confidence: 0.85},
	"geisinger":                         {EMR: EMREpic, Confidence: 0.90},
	"scripps":                           {EMR: EMREpic, Confidence: 0.85},
	"sharp healthcare":                  {EMR: EMREpic, Confidence: 0.85},
	"hca healthcare":                    {EMR: EMRCerner, Confidence: 0.90},
	"community health systems":          {EMR: EMRCerner, Confidence: 0.85},
	"us department of veterans affairs": {EMR: EMRCerner, Confidence: 0.95},
	"va health":                         {EMR: EMRCerner, Confidence: 0.95},
	"department of defense":             {EMR: EMRCerner, Confidence: 0.90},
	"tricare":                           {EMR: EMRCerner, Confidence: 0.85},
	"adventist health":                  {EMR: EMRCerner, Confidence: 0.85},
	"bon secours":                       {EMR: EMRCerner, Confidence: 0.85},
	"christus health":                   {EMR: EMRCerner, Confidence: 0.85},
	"lifepoint":                         {EMR: EMRCerner, Confidence: 0.80},
	"one medical":                       {EMR: EMRAthena, Confidence: 0.85},
	"citymd":                            {EMR: EMRAthena, Confidence: 0.80},
}

var defaultStateDistribution = map[string]map[string]float64{
	"NY": {EMREpic: 0.55, EMRCerner: 0.20, EMRAthena: 0.15, EMREClinicalWorks: 0.07, EMROther: 0.03},
	"MA": {EMREpic: 0.65, EMRCerner: 0.15, EMRAthena: 0.12, EMREClinicalWorks: 0.05, EMROther: 0.03},
	"PA": {EMREpic: 0.50, EMRCerner: 0.25, EMRAthena: 0.12, EMREClinicalWorks: 0.08, EMROther: 0.05},
	"NJ": {EMREpic: 0.50, EMRCerner: 0.22, EMRAthena: 0.15, EMREClinicalWorks: 0.08, EMROther: 0.05},
	"CT": {EMREpic: 0.55, EMRCerner: 0.18, EMRAthena: 0.15, EMREClinicalWorks: 0.07, EMROther: 0.05},
	"MD": {EMREpic: 0.52, EMRCerner: 0.20, EMRAthena: 0.15, EMREClinicalWorks: 0.08, EMROther: 0.05},
	"IL": {EMREpic: 0.45, EMRCerner: 0.30, EMRAthena: 0.12, EMREClinicalWorks: 0.08, EMROther: 0.05},
	"OH": {EMREpic: 0.40, EMRCerner: 0.35, EMRAthena: 0.12, EMREClinicalWorks: 0.08, EMROther: 0.05},
	"MI": {EMREpic: 0.45, EMRCerner: 0.28, EMRAthena: 0.14, EMREClinicalWorks: 0.08, EMROther: 0.05},
	"IN": {EMREpic: 0.38, EMRCerner: 0.32, EMRAthena: 0.15, EMREClinicalWorks: 0.10, EMROther: 0.05},
	"WI": {EMREpic: 0.55, EMRCerner: 0.22, EMRAthena: 0.12, EMREClinicalWorks: 0.06, EMROther: 0.05},
	"MN": {EMREpic: 0.60, EMRCerner: 0.18, EMRAthena: 0.12, EMREClinicalWorks: 0.05, EMROther: 0.05},
	"MO": {EMREpic: 0.35, EMRCerner: 0.40, EMRAthena: 0.12, EMREClinicalWorks: 0.08, EMROther: 0.05},
	"KS": {EMREpic: 0.30, EMRCerner: 0.45, EMRAthena: 0.12, EMREClinicalWorks: 0.08, EMROther: 0.05},
	"TX": {EMREpic: 0.35, EMRCerner: 0.28, EMRAthena: 0.20, EMREClinicalWorks: 0.12, EMROther: 0.05},
	"FL": {EMREpic: 0.38, EMRCerner: 0.25, EMRAthena: 0.22, EMREClinicalWorks: 0.10, EMROther: 0.05},
	"GA": {EMREpic: 0.40, EMRCerner: 0.25, EMRAthena: 0.20, EMREClinicalWorks: 0.10, EMROther: 0.05},
	"NC": {EMREpic: 0.45, EMRCerner: 0.22, EMRAthena: 0.18, EMREClinicalWorks: 0.10, EMROther: 0.05},
	"TN": {EMREpic: 0.38, EMRCerner: 0.28, EMRAthena: 0.18, EMREClinicalWorks: 0.10, EMROther: 0.06},
	"VA": {EMREpic: 0.42, EMRCerner: 0.28, EMRAthena: 0.16, EMREClinicalWorks: 0.09, EMROther: 0.05},
	"SC": {EMREpic: 0.38, EMRCerner: 0.25, EMRAthena: 0.20, EMREClinicalWorks: 0.12, EMROther: 0.05},
	"AL": {EMREpic: 0.35, EMRCerner: 0.28, EMRAthena: 0.20, EMREClinicalWorks: 0.12, EMROther: 0.05},
	"LA": {EMREpic: 0.32, EMRCerner: 0.30, EMRAthena: 0.20, EMREClinicalWorks: 0.12, EMROther: 0.06},
	"CA": {EMREpic: 0.55, EMRCerner: 0.18, EMRAthena: 0.15, EMREClinicalWorks: 0.08, EMROther: 0.04},
	"WA": {EMREpic: 0.55, EMRCerner: 0.20, EMRAthena: 0.14, EMREClinicalWorks: 0.06, EMROther: 0.05},
	"OR": {EMREpic: 0.52, EMRCerner: 0.22, EMRAthena: 0.14, EMREClinicalWorks: 0.07, EMROther: 0.05},
	"CO": {EMREpic: 0.48, EMRCerner: 0.25, EMRAthena: 0.15, EMREClinicalWorks: 0.07, EMROther: 0.05},
	"AZ": {EMREpic: 0.42, EMRCerner: 0.25, EMRAthena: 0.18, EMREClinicalWorks: 0.10, EMROther: 0.05},
	"NV": {EMREpic: 0.40, EMRCerner: 0.25, EMRAthena: 0.20, EMREClinicalWorks: 0.10, EMROther: 0.05},
	"UT": {EMREpic: 0.55, EMRCerner: 0.20, EMRAthena: 0.14, EMREClinicalWorks: 0.06, EMROther: 0.05},

	"DEFAULT": {EMREpic: 0.40, EMRCerner: 0.25, EMRAthena: 0.18, EMREClinicalWorks: 0.12, EMROther: 0.05},
}

var defaultSizeKeywords = map[string][]string{
	SizeLarge: {
		"hospital", "medical center", "health system", "health network",
		"healthcare system", "university", "regional", "memorial",
		"multispecialty",
	},
	SizeMedium: {
		"group", "associates", "partners", "physicians", "specialists",
		"clinic group", "medical associates", "health partners",
	},
	SizeSmall: {
		"clinic", "practice", "family", "office", "care center",
		"wellness", "health center",
	},
	SizeSolo: {
		"md", "do", "physician", "doctor",
	},
}

var defaultSizeModifiers = map[string]map[string]float64{
	SizeLarge:  {EMREpic: 1.4, EMRCerner: 1.3, EMRAthena: 0.5, EMREClinicalWorks: 0.3, EMROther: 0.5},
	SizeMedium: {EMREpic: 1.1, EMRCerner: 1.1, EMRAthena: 1.2, EMREClinicalWorks: 0.9, EMROther: 0.8},
	SizeSmall:  {EMREpic: 0.6, EMRCerner: 0.7, EMRAthena: 1.5, EMREClinicalWorks: 1.4, EMROther: 1.2},
	SizeSolo:   {EMREpic: 0.3, EMRCerner: 0.4, EMRAthena: 1.3, EMREClinicalWorks: 1.8, EMROther: 1.5},
}

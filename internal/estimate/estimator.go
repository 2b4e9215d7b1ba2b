// Package estimate predicts a clinic's EMR system and size from sparse
// textual signals. Both estimators are pure functions over injected tables:
// no shared state, no network access.
package estimate

import (
	"fmt"
	"sort"
	"strings"
)

// SizeEstimate is a clinic-size prediction with confidence and rationale.
type SizeEstimate struct {
	ClinicSize string  `json:"clinic_size"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// EMREstimate is an EMR-system prediction with confidence and rationale.
type EMREstimate struct {
	EMRSystem  string  `json:"emr_system"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Estimator predicts clinic size and EMR system from organization name and
// state. Construct with NewEstimator; tables are fixed at construction.
type Estimator struct {
	tables Tables
}

// NewEstimator creates an estimator over the given tables.
func NewEstimator(tables Tables) *Estimator {
	return &Estimator{tables: tables}
}

// physicianCredentials are tokens that mark a single-physician practice name.
var physicianCredentials = []string{"dr.", "md", "do", "m.d.", "d.o."}

// ClinicSize estimates practice size from the organization name.
//
// Keyword sets are scanned in Large→Medium→Small→Solo order; the first hit
// wins with a fixed confidence (0.75 for Large/Medium, 0.65 otherwise). A
// short name carrying a physician credential falls back to Solo at 0.60,
// and everything else defaults to Small at 0.45.
func (e *Estimator) ClinicSize(organizationName string) SizeEstimate {
	orgLower := strings.ToLower(organizationName)

	for _, size := range sizeOrder {
		for _, keyword := range e.tables.SizeKeywords[size] {
			if strings.Contains(orgLower, keyword) {
				confidence := 0.65
				if size == SizeLarge || size == SizeMedium {
					confidence = 0.75
				}
				return SizeEstimate{
					ClinicSize: size,
					Confidence: confidence,
					Reasoning:  fmt.Sprintf("Organization name contains %q indicating %s practice", keyword, size),
				}
			}
		}
	}

	words := strings.Fields(organizationName)
	if len(words) <= 4 {
		for _, cred := range physicianCredentials {
			if strings.Contains(orgLower, cred) {
				return SizeEstimate{
					ClinicSize: SizeSolo,
					Confidence: 0.60,
					Reasoning:  "Organization name appears to be a single physician practice",
				}
			}
		}
	}

	return SizeEstimate{
		ClinicSize: SizeSmall,
		Confidence: 0.45,
		Reasoning:  "Unable to determine size from organization name, defaulting to Small",
	}
}

// EMRSystem estimates the EMR in use from the organization name, state, and
// an already-estimated clinic size.
//
// A curated health-system match is authoritative and short-circuits the
// probabilistic path. Otherwise the state's market-share distribution is
// scaled by size modifiers, renormalized, and the arg-max wins with
// confidence min(0.85, 0.50 + margin over the runner-up).
func (e *Estimator) EMRSystem(organizationName, state, clinicSize string) EMREstimate {
	orgLower := strings.ToLower(organizationName)

	// Scan curated systems in sorted order so names matching more than one
	// entry always resolve to the same match.
	systemNames := make([]string, 0, len(e.tables.KnownSystems))
	for systemName := range e.tables.KnownSystems {
		systemNames = append(systemNames, systemName)
	}
	sort.Strings(systemNames)
	for _, systemName := range systemNames {
		if strings.Contains(orgLower, systemName) {
			entry := e.tables.KnownSystems[systemName]
			return EMREstimate{
				EMRSystem:  entry.EMR,
				Confidence: entry.Confidence,
				Reasoning:  fmt.Sprintf("Matched known health system: %s", systemName),
			}
		}
	}

	stateDist, ok := e.tables.StateDistribution[strings.ToUpper(state)]
	if !ok {
		stateDist = e.tables.StateDistribution["DEFAULT"]
	}

	sizeModifiers, ok := e.tables.SizeModifiers[clinicSize]
	if !ok {
		sizeModifiers = e.tables.SizeModifiers[SizeSmall]
	}

	weighted := make(map[string]float64, len(stateDist))
	total := 0.0
	for emr, baseProb := range stateDist {
		mod, ok := sizeModifiers[emr]
		if !ok {
			mod = 1.0
		}
		weighted[emr] = baseProb * mod
		total += weighted[emr]
	}
	for emr := range weighted {
		weighted[emr] /= total
	}

	// Sort labels for a deterministic arg-max when probabilities tie.
	labels := make([]string, 0, len(weighted))
	for emr := range weighted {
		labels = append(labels, emr)
	}
	sort.Slice(labels, func(i, j int) bool {
		if weighted[labels[i]] != weighted[labels[j]] {
			return weighted[labels[i]] > weighted[labels[j]]
		}
		return labels[i] < labels[j]
	})

	best := labels[0]
	confidence := weighted[best]
	if len(labels) > 1 {
		margin := weighted[best] - weighted[labels[1]]
		confidence = min(0.85, 0.50+margin)
	}

	return EMREstimate{
		EMRSystem:  best,
		Confidence: round2(confidence),
		Reasoning:  fmt.Sprintf("Based on %s state market data and %s practice patterns", strings.ToUpper(state), clinicSize),
	}
}

// Estimate runs both predictions in order: size first, then EMR using that
// size. This is the single estimation stage run once per ingested record.
func (e *Estimator) Estimate(organizationName, state string) (SizeEstimate, EMREstimate) {
	size := e.ClinicSize(organizationName)
	emr := e.EMRSystem(organizationName, state, size.ClinicSize)
	return size, emr
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

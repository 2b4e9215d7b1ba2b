package enrich

// Keywords are the relevance-classification tables consulted by the
// matcher. They are fixed at construction so tests can substitute
// their own sets.
type Keywords struct {
	// MedicalTitles score 0.6 when found in a candidate's title.
	MedicalTitles []string
	// ValidationTitles is the narrower title set used by the lenient
	// post-hoc check on an organization-qualified match.
	ValidationTitles []string
	// MedicalOrgs mark an organization name as healthcare-related.
	MedicalOrgs []string
	// NonMedicalOrgs exclude an organization only when no medical
	// keyword also matches.
	NonMedicalOrgs []string
	// ScoringOrgs score 0.3 when found in a candidate's organization name.
	ScoringOrgs []string
	// GenericOrgs are placeholder organization names treated as absent.
	GenericOrgs []string
}

// DefaultKeywords returns the production classification tables.
func DefaultKeywords() Keywords {
	return Keywords{
		MedicalTitles: []string{
			"physician", "doctor", "surgeon", "md", "medical director",
			"cardiologist", "neurologist", "clinical", "assistant professor",
			"fellow", "palliative care", "hospitalist", "resident",
			"nurse", "rn", "pa", "nurse practitioner", "therapist",
			"internist", "pediatrician", "psychiatrist", "dentist",
			"optometrist", "pharmacist", "radiologist", "pathologist",
		},
		ValidationTitles: []string{
			"physician", "doctor", "surgeon", "md", "medical director",
			"cardiologist", "neurologist", "clinical", "nurse", "rn", "pa",
		},
		MedicalOrgs: []string{
			"hospital", "medical center", "clinic", "healthcare", "health",
			"physician", "doctors", "md", "medicine", "university hospital",
			"medical group", "primary care", "cardiology", "oncology",
			"surgery", "surgical", "orthopedic", "emergency", "ent",
			"radiology", "pathology", "psychiatry", "neurology", "pediatric",
			"cancer center", "research center", "medical school", "nursing",
			"dental", "optometry", "physical therapy", "therapy", "rehab",
			"urgent care", "family medicine", "internal medicine", "surgery center",
			"veterans affairs", "va hospital", "va medical", "kaiser", "aetna",
			"cigna", "united health", "anthem", "humana", "blue cross",
			"mount sinai", "mjhs", "nyc health", "health system", "medical practice",
		},
		NonMedicalOrgs: []string{
			"school", "university", "college", "education",
			"manufacturing", "distribution", "logistics", "retail",
			"finance", "insurance", "real estate", "construction",
			"technology", "software", "consulting", "marketing",
			"publishing", "media", "entertainment", "restaurant",
			"bank", "credit union", "automotive",
		},
		ScoringOrgs: []string{
			"hospital", "medical", "health", "clinic", "healthcare", "physician",
			"university", "care center", "practice", "hospice", "palliative",
		},
		GenericOrgs: []string{
			"private practice",
			"individual practice",
			"no nppes org data",
			"not available",
			"n/a",
			"",
		},
	}
}

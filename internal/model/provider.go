package model

import "time"

// DataSource describes how a provider record's base data was obtained.
type DataSource string

const (
	DataSourceRegistry DataSource = "nppes_registry"
	DataSourceManual   DataSource = "manual"
)

// EnrichmentStatus tracks how far a record has moved through enrichment.
type EnrichmentStatus string

const (
	EnrichmentScoutOnly      EnrichmentStatus = "scout_only"
	EnrichmentApolloEnriched EnrichmentStatus = "apollo_enriched"
)

// Estimate is a categorical prediction with a confidence score and a
// one-line rationale produced by the heuristic estimators.
type Estimate struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Reasoning  string  `json:"reasoning"`
}

// Enrichment holds fields populated only by the match engine.
type Enrichment struct {
	Email        string   `json:"email,omitempty"`
	EmailStatus  string   `json:"email_status,omitempty"`
	Confidence   float64  `json:"confidence,omitempty"`
	Organization string   `json:"organization,omitempty"`
	LinkedInURL  string   `json:"linkedin_url,omitempty"`
	PhoneNumbers []string `json:"phone_numbers,omitempty"`
	WebsiteURL   string   `json:"website_url,omitempty"`
}

// Verification holds the full payload returned by the email-validity service.
type Verification struct {
	Email               string   `json:"email"`
	Status              string   `json:"status"`
	Flags               []string `json:"flags,omitempty"`
	SuggestedCorrection string   `json:"suggested_correction,omitempty"`
	ExecutionTimeMS     int      `json:"execution_time_ms,omitempty"`
	Error               string   `json:"error,omitempty"`
}

// ProviderRecord is the central entity of the pipeline: one clinician and
// the practice they belong to, keyed by the registry-assigned NPI.
//
// Invariants:
//   - NPI is immutable and globally unique; inserts on a known NPI are skipped.
//   - HasEmail always equals (Email != "").
//   - Visited and ApolloSearched are monotonic once set.
type ProviderRecord struct {
	NPI string `json:"npi"`

	Name         string `json:"name"`
	ClinicName   string `json:"clinic_name,omitempty"`
	Address      string `json:"address"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zip          string `json:"zip,omitempty"`
	Specialty    string `json:"specialty"`
	Phone        string `json:"phone,omitempty"`
	Fax          string `json:"fax,omitempty"`

	Email                  string `json:"email,omitempty"`
	HasEmail               bool   `json:"has_email"`
	DirectMessagingAddress string `json:"direct_messaging_address,omitempty"`
	IsEmailed              bool   `json:"is_emailed"`
	Visited                bool   `json:"visited"`
	ApolloSearched         bool   `json:"apollo_searched"`

	EMRSystem  Estimate `json:"emr_system"`
	ClinicSize Estimate `json:"clinic_size"`

	Enrichment    *Enrichment   `json:"enrichment,omitempty"`
	EmailVerified *bool         `json:"email_verified,omitempty"`
	Verification  *Verification `json:"verification,omitempty"`

	DataSource       DataSource       `json:"data_source"`
	EnrichmentStatus EnrichmentStatus `json:"enrichment_status"`
	CreatedAt        time.Time        `json:"created_at"`
	LastEnrichedAt   *time.Time       `json:"last_enriched_at,omitempty"`
}

// SetEmail sets the email and keeps the HasEmail invariant in one place.
func (p *ProviderRecord) SetEmail(email string) {
	p.Email = email
	p.HasEmail = email != ""
}

// BestEmail resolves the contact email under the source-precedence rule:
// registry email, then registry direct-messaging address, then the
// enrichment-sourced email. The first non-empty value wins.
func (p *ProviderRecord) BestEmail() string {
	if p.Email != "" {
		return p.Email
	}
	if p.DirectMessagingAddress != "" {
		return p.DirectMessagingAddress
	}
	if p.Enrichment != nil {
		return p.Enrichment.Email
	}
	return ""
}

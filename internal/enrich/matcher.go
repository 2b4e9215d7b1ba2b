// Package enrich implements the hierarchical match engine: multi-strategy
// person search against Apollo, relevance scoring of candidates, and
// single-match contact resolution gated on a domain-relevance threshold.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/provider-scout/pkg/apollo"
)

// relevanceThreshold is the minimum healthcare score a name-only candidate
// needs before the engine spends a detail-resolving lookup on it.
const relevanceThreshold = 0.6

// searchPageSize is how many candidates each search strategy requests.
const searchPageSize = 20

// Request identifies one person to enrich. FirstName and LastName are
// required; everything else narrows the match.
type Request struct {
	FirstName    string
	LastName     string
	Organization string
	Domain       string
	Email        string
	LinkedInURL  string
	City         string
	State        string
}

// Result is the contact detail resolved for one matched person.
type Result struct {
	Email        string   `json:"email"`
	EmailStatus  string   `json:"email_status"`
	Confidence   float64  `json:"confidence"`
	Organization string   `json:"organization"`
	LinkedInURL  string   `json:"linkedin_url"`
	PhoneNumbers []string `json:"phone_numbers"`
	WebsiteURL   string   `json:"website_url"`
	DataSource   string   `json:"data_source"`
}

// Matcher resolves provider contact details through the Apollo client.
type Matcher struct {
	client   apollo.Client
	keywords Keywords
}

// NewMatcher creates a matcher over the given client and keyword tables.
func NewMatcher(client apollo.Client, keywords Keywords) *Matcher {
	return &Matcher{client: client, keywords: keywords}
}

// Enrich resolves at most one contact record for the request. A generic or
// absent organization routes to the hierarchical name-only search; otherwise
// a single organization-qualified match is issued. Transport and API
// failures are logged and reported as no match, never as an error.
func (m *Matcher) Enrich(ctx context.Context, req Request) *Result {
	org := req.Organization
	if m.isGenericOrg(org) {
		org = ""
	}

	if org == "" {
		return m.searchByName(ctx, req)
	}
	return m.matchByOrg(ctx, req, org)
}

// EnrichBatch enriches every request concurrently and returns results in
// input order. A failed lookup yields a nil entry for that request only.
func (m *Matcher) EnrichBatch(ctx context.Context, reqs []Request) []*Result {
	results := make([]*Result, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = m.Enrich(ctx, req)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	return results
}

// matchByOrg issues one exact-match lookup keyed by name + organization.
func (m *Matcher) matchByOrg(ctx context.Context, req Request, org string) *Result {
	person, err := m.client.MatchPerson(ctx, apollo.MatchRequest{
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		OrganizationName: org,
		Domain:           req.Domain,
		Email:            req.Email,
		LinkedInURL:      req.LinkedInURL,
	})
	if err != nil {
		zap.L().Warn("enrich: organization match failed",
			zap.String("name", req.FirstName+" "+req.LastName),
			zap.String("organization", org),
			zap.Error(err),
		)
		return nil
	}
	if person == nil || person.Email == "" {
		zap.L().Debug("enrich: no organization match",
			zap.String("name", req.FirstName+" "+req.LastName),
			zap.String("organization", org),
		)
		return nil
	}
	return m.acceptPerson(person)
}

// searchByName runs the hierarchical fallback: city+state, then state only,
// then no location, stopping at the first strategy with any candidates. The
// top-scored candidate must clear the relevance gate before the second,
// credit-costing lookup resolves its contact details.
func (m *Matcher) searchByName(ctx context.Context, req Request) *Result {
	candidates, strategy := m.hierarchicalSearch(ctx, req)
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	score := m.healthcareScore(&best)
	if score < relevanceThreshold {
		zap.L().Warn("enrich: top candidate below relevance gate",
			zap.String("name", req.FirstName+" "+req.LastName),
			zap.String("title", best.Title),
			zap.String("organization", best.OrgName()),
			zap.Float64("score", score),
		)
		return nil
	}

	zap.L().Debug("enrich: candidate passed relevance gate",
		zap.String("name", req.FirstName+" "+req.LastName),
		zap.String("strategy", strategy),
		zap.Float64("score", score),
	)

	person, err := m.client.MatchByID(ctx, best.ID)
	if err != nil {
		zap.L().Warn("enrich: detail lookup failed",
			zap.String("person_id", best.ID),
			zap.Error(err),
		)
		return nil
	}
	if person == nil || person.Email == "" {
		return nil
	}
	return m.acceptPerson(person)
}

// hierarchicalSearch tries the location strategies in strict order and
// returns the first non-empty candidate list, sorted by healthcare score
// descending, along with the winning strategy name.
func (m *Matcher) hierarchicalSearch(ctx context.Context, req Request) ([]apollo.Person, string) {
	keywords := req.FirstName + " " + req.LastName

	type strategy struct {
		name      string
		locations []string
	}
	var strategies []strategy
	if req.City != "" && req.State != "" {
		strategies = append(strategies, strategy{
			name:      "city_state",
			locations: []string{fmt.Sprintf("%s, %s", req.City, req.State)},
		})
	}
	if req.State != "" {
		strategies = append(strategies, strategy{name: "state_only", locations: []string{req.State}})
	}
	strategies = append(strategies, strategy{name: "no_location"})

	for _, s := range strategies {
		people, err := m.client.SearchPeople(ctx, apollo.SearchRequest{
			Keywords:        keywords,
			PersonLocations: s.locations,
			PerPage:         searchPageSize,
		})
		if err != nil {
			zap.L().Debug("enrich: search strategy failed",
				zap.String("strategy", s.name),
				zap.Error(err),
			)
			continue
		}
		if len(people) == 0 {
			continue
		}
		m.sortByScore(people)
		return people, s.name
	}
	return nil, ""
}

// acceptPerson converts a matched person into a Result, running the lenient
// medical validation: an unverifiable match is logged but still returned.
func (m *Matcher) acceptPerson(person *apollo.Person) *Result {
	domain := emailDomain(person.Email)
	if !m.isMedicalOrganization(person.OrgName(), domain) && !m.hasValidationTitle(person.Title) {
		zap.L().Debug("enrich: could not verify match as medical",
			zap.String("name", person.FirstName+" "+person.LastName),
			zap.String("title", person.Title),
			zap.String("organization", person.OrgName()),
			zap.String("domain", domain),
		)
	}

	confidence := 0.75
	if person.EmailStatus == "verified" {
		confidence = 0.95
	}

	phones := make([]string, 0, len(person.PhoneNumbers))
	for _, p := range person.PhoneNumbers {
		phones = append(phones, p.RawNumber)
	}

	return &Result{
		Email:        person.Email,
		EmailStatus:  person.EmailStatus,
		Confidence:   confidence,
		Organization: person.OrgName(),
		LinkedInURL:  person.LinkedInURL,
		PhoneNumbers: phones,
		WebsiteURL:   person.WebsiteURL(),
		DataSource:   "apollo.io",
	}
}

// healthcareScore estimates how likely a candidate is a healthcare
// professional. Title match carries the most weight, with partial credit
// for care- and professor-of-medicine-style titles, plus organization and
// known-email signals. Capped at 1.0.
func (m *Matcher) healthcareScore(person *apollo.Person) float64 {
	score := 0.0
	title := strings.ToLower(person.Title)
	org := strings.ToLower(person.OrgName())

	switch {
	case containsAny(title, m.keywords.MedicalTitles):
		score += 0.6
	case strings.Contains(title, "care") &&
		(strings.Contains(title, "health") || strings.Contains(title, "medical") || strings.Contains(title, "hospice")):
		score += 0.5
	case strings.Contains(title, "professor") &&
		(strings.Contains(title, "medicine") || strings.Contains(title, "health") || strings.Contains(title, "clinical")):
		score += 0.3
	}

	if containsAny(org, m.keywords.ScoringOrgs) {
		score += 0.3
	}
	if person.HasEmail {
		score += 0.2
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// isMedicalOrganization judges whether an organization or email domain is
// healthcare-related. A non-medical keyword excludes only when no medical
// keyword also matches.
func (m *Matcher) isMedicalOrganization(orgName, domain string) bool {
	if orgName == "" && domain == "" {
		return false
	}
	org := strings.ToLower(strings.TrimSpace(orgName))
	domain = strings.ToLower(strings.TrimSpace(domain))

	hasMedicalOrg := containsAny(org, m.keywords.MedicalOrgs)

	hasMedicalDomain := strings.HasSuffix(domain, ".org") ||
		strings.HasSuffix(domain, ".healthcare") ||
		strings.HasSuffix(domain, ".medical") ||
		strings.Contains(domain, "health") ||
		strings.Contains(domain, "hospital") ||
		strings.Contains(domain, "clinic") ||
		strings.Contains(domain, "medical")

	if !hasMedicalOrg && containsAny(org, m.keywords.NonMedicalOrgs) {
		return false
	}
	return hasMedicalOrg || hasMedicalDomain
}

func (m *Matcher) hasValidationTitle(title string) bool {
	return containsAny(strings.ToLower(title), m.keywords.ValidationTitles)
}

func (m *Matcher) isGenericOrg(org string) bool {
	org = strings.ToLower(strings.TrimSpace(org))
	for _, g := range m.keywords.GenericOrgs {
		if org == g {
			return true
		}
	}
	return false
}

// sortByScore orders candidates by healthcare score descending, keeping the
// API's order among equal scores.
func (m *Matcher) sortByScore(people []apollo.Person) {
	sort.SliceStable(people, func(i, j int) bool {
		return m.healthcareScore(&people[i]) > m.healthcareScore(&people[j])
	})
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func emailDomain(email string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 {
		return email[at+1:]
	}
	return ""
}

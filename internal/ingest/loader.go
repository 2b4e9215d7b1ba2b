// Package ingest loads provider records from the NPPES registry into
// storage: paginated fetch, field extraction, dedup by NPI, bulk persist.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/provider-scout/internal/estimate"
	"github.com/sells-group/provider-scout/internal/model"
	"github.com/sells-group/provider-scout/internal/store"
	"github.com/sells-group/provider-scout/pkg/nppes"
)

// suitePrefixes mark secondary address lines that are unit designators
// rather than an organization name ("Suite 200", "Fl 3", etc).
var suitePrefixes = []string{
	"suite", "ste ", "ste.", "#", "floor", "fl ", "unit", "apt",
	"bldg", "building",
}

var titleCaser = cases.Title(language.English)

// Loader fetches registry pages, normalizes entries, and persists the
// records not already known.
type Loader struct {
	registry  nppes.Client
	store     store.Store
	estimator *estimate.Estimator
}

// NewLoader wires a loader from its collaborators.
func NewLoader(registry nppes.Client, st store.Store, estimator *estimate.Estimator) *Loader {
	return &Loader{registry: registry, store: st, estimator: estimator}
}

// Load fetches up to limit provider entries for a city/specialty, extracts
// and annotates them, and bulk-inserts the not-yet-known ones. A registry
// failure aborts the call; a malformed individual entry is skipped.
func (l *Loader) Load(ctx context.Context, city, state, specialty string, limit int) (*model.LoadResult, error) {
	if limit <= 0 {
		limit = nppes.MaxPageSize
	}
	if state == "" {
		state = nppes.GuessStateFromCity(city)
	}
	taxonomy := nppes.MapSpecialtyToTaxonomy(specialty)

	raw, err := l.fetchAll(ctx, city, state, taxonomy, limit)
	if err != nil {
		return nil, err
	}

	records := make([]model.ProviderRecord, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i := range raw {
		rec, ok := l.extract(&raw[i], specialty)
		if !ok {
			continue
		}
		// In-batch dedup: the registry can repeat an NPI across pages.
		if _, dup := seen[rec.NPI]; dup {
			continue
		}
		seen[rec.NPI] = struct{}{}
		records = append(records, *rec)
	}

	records, err = l.dropKnown(ctx, records)
	if err != nil {
		return nil, err
	}

	inserted, err := l.store.InsertProviders(ctx, records)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: persist records")
	}

	result := &model.LoadResult{LeadsLoaded: int(inserted)}
	for i := range records {
		if records[i].HasEmail {
			result.WithEmail++
		} else {
			result.WithoutEmail++
		}
	}

	zap.L().Info("ingest: load complete",
		zap.String("city", city),
		zap.String("specialty", specialty),
		zap.Int("fetched", len(raw)),
		zap.Int("loaded", result.LeadsLoaded),
		zap.Int("with_email", result.WithEmail),
	)
	return result, nil
}

// fetchAll pages through the registry with an offset cursor until the
// requested total is reached, a short page signals exhaustion, or the
// registry's pagination ceiling is hit.
func (l *Loader) fetchAll(ctx context.Context, city, state, taxonomy string, limit int) ([]nppes.Result, error) {
	var all []nppes.Result
	skip := 0

	for len(all) < limit && skip <= nppes.MaxSkip {
		pageSize := limit - len(all)
		if pageSize > nppes.MaxPageSize {
			pageSize = nppes.MaxPageSize
		}

		page, err := l.registry.Search(ctx, nppes.SearchRequest{
			City:                city,
			State:               state,
			TaxonomyDescription: taxonomy,
			Limit:               pageSize,
			Skip:                skip,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: fetch page at skip %d", skip)
		}

		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		skip += pageSize
	}
	return all, nil
}

// extract normalizes one raw registry entry into a ProviderRecord.
// Returns false for entries missing a name or any usable address.
func (l *Loader) extract(res *nppes.Result, specialty string) (*model.ProviderRecord, bool) {
	first := strings.TrimSpace(res.Basic.FirstName)
	last := strings.TrimSpace(res.Basic.LastName)
	if first == "" || last == "" {
		return nil, false
	}
	addr := pickAddress(res.Addresses)
	if addr == nil {
		return nil, false
	}

	rec := &model.ProviderRecord{
		NPI:              res.Number,
		Name:             displayName(first, last, res.Basic.Credential),
		ClinicName:       organizationName(res.Basic.OrganizationName, addr.Address2),
		Address:          titleCaser.String(strings.ToLower(addr.Address1)),
		City:             titleCaser.String(strings.ToLower(addr.City)),
		State:            addr.State,
		Zip:              zipCode(addr.PostalCode),
		Specialty:        specialty,
		Phone:            formatPhone(addr.TelephoneNumber),
		Fax:              formatPhone(addr.FaxNumber),
		DataSource:       model.DataSourceRegistry,
		EnrichmentStatus: model.EnrichmentScoutOnly,
		CreatedAt:        time.Now().UTC(),
	}

	for _, ep := range res.Endpoints {
		if strings.EqualFold(ep.EndpointType, "DIRECT") {
			rec.DirectMessagingAddress = ep.Endpoint
			break
		}
	}

	size := l.estimator.ClinicSize(rec.ClinicName)
	emr := l.estimator.EMRSystem(rec.ClinicName, rec.State, size.ClinicSize)
	rec.ClinicSize = model.Estimate{
		Label:      size.ClinicSize,
		Confidence: size.Confidence,
		Source:     "regional_estimate",
		Reasoning:  size.Reasoning,
	}
	rec.EMRSystem = model.Estimate{
		Label:      emr.EMRSystem,
		Confidence: emr.Confidence,
		Source:     "regional_estimate",
		Reasoning:  emr.Reasoning,
	}
	return rec, true
}

// dropKnown removes records whose NPI is already stored, using a single
// membership query for the whole batch.
func (l *Loader) dropKnown(ctx context.Context, records []model.ProviderRecord) ([]model.ProviderRecord, error) {
	if len(records) == 0 {
		return records, nil
	}

	npis := make([]string, len(records))
	for i := range records {
		npis[i] = records[i].NPI
	}
	existing, err := l.store.ExistingNPIs(ctx, npis)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: check existing npis")
	}

	fresh := records[:0]
	for i := range records {
		if _, known := existing[records[i].NPI]; !known {
			fresh = append(fresh, records[i])
		}
	}
	return fresh, nil
}

// pickAddress prefers the practice location entry over a mailing address.
func pickAddress(addresses []nppes.Address) *nppes.Address {
	if len(addresses) == 0 {
		return nil
	}
	for i := range addresses {
		if strings.EqualFold(addresses[i].AddressPurpose, "LOCATION") {
			return &addresses[i]
		}
	}
	return &addresses[0]
}

// displayName renders "Dr. First Last, CRED" from registry name fields.
func displayName(first, last, credential string) string {
	name := fmt.Sprintf("Dr. %s %s",
		titleCaser.String(strings.ToLower(first)),
		titleCaser.String(strings.ToLower(last)),
	)
	if credential = strings.TrimSpace(credential); credential != "" {
		name += ", " + credential
	}
	return name
}

// organizationName resolves the practice name: the explicit organization
// field when present, otherwise a secondary address line unless it looks
// like a unit/suite designator.
func organizationName(explicit, addressLine2 string) string {
	if explicit != "" {
		return explicit
	}
	line := strings.TrimSpace(addressLine2)
	if len(line) <= 5 {
		return ""
	}
	lower := strings.ToLower(line)
	for _, prefix := range suitePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return ""
		}
	}
	return titleCaser.String(strings.ToLower(line))
}

// formatPhone renders 10-digit numbers as XXX-XXX-XXXX, dropping a leading
// country code 1 from 11-digit numbers. Anything else passes through.
func formatPhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) != 10 {
		return raw
	}
	return fmt.Sprintf("%s-%s-%s", d[:3], d[3:6], d[6:])
}

// zipCode truncates ZIP+4 postal codes to the 5-digit prefix.
func zipCode(postal string) string {
	if len(postal) > 5 {
		return postal[:5]
	}
	return postal
}

// Package recruit implements the credit-budgeted scheduler: it selects
// unvisited candidates, spends match-engine credits only where an email is
// missing, and merges results back under the source-precedence rule.
package recruit

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scout/internal/enrich"
	"github.com/sells-group/provider-scout/internal/model"
	"github.com/sells-group/provider-scout/internal/store"
	"github.com/sells-group/provider-scout/pkg/neverbounce"
)

// MatchEngine is the slice of the match engine the scheduler consumes.
type MatchEngine interface {
	EnrichBatch(ctx context.Context, reqs []enrich.Request) []*enrich.Result
}

// Config tunes one scheduler instance.
type Config struct {
	// BatchSize is K: how many candidates one recruit call selects.
	BatchSize int
	// CreditCap is the global ceiling on match-engine lookups.
	CreditCap int
	// Verify controls whether newly found emails are checked for validity.
	Verify bool
}

// Scheduler recruits leads for a location/specialty without ever exceeding
// the global credit cap.
type Scheduler struct {
	store    store.Store
	engine   MatchEngine
	verifier neverbounce.Client // nil disables verification
	cfg      Config
}

// NewScheduler wires a scheduler from its collaborators.
func NewScheduler(st store.Store, engine MatchEngine, verifier neverbounce.Client, cfg Config) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Scheduler{store: st, engine: engine, verifier: verifier, cfg: cfg}
}

// Recruit selects up to BatchSize unvisited candidates, searches the
// email-less ones up to the remaining credit budget, merges results, and
// returns the current top leads plus the remaining credit count.
//
// Every selected candidate is marked visited, including those skipped for
// budget reasons; bounded spend per call wins over exhaustive coverage.
func (s *Scheduler) Recruit(ctx context.Context, city, state, specialty string) (*model.RecruitResult, error) {
	candidates, err := s.store.SelectCandidates(ctx, city, state, specialty, s.cfg.BatchSize)
	if err != nil {
		return nil, eris.Wrap(err, "recruit: select candidates")
	}

	var haveEmail, needSearch []model.ProviderRecord
	for i := range candidates {
		if candidates[i].BestEmail() != "" {
			haveEmail = append(haveEmail, candidates[i])
		} else {
			needSearch = append(needSearch, candidates[i])
		}
	}

	granted, remaining, err := s.store.ReserveCredits(ctx, len(needSearch), s.cfg.CreditCap)
	if err != nil {
		return nil, eris.Wrap(err, "recruit: reserve credits")
	}
	searchBatch := needSearch[:granted]

	zap.L().Info("recruit: batch selected",
		zap.String("city", city),
		zap.String("specialty", specialty),
		zap.Int("candidates", len(candidates)),
		zap.Int("with_email", len(haveEmail)),
		zap.Int("need_search", len(needSearch)),
		zap.Int("searching", granted),
		zap.Int("remaining_credits", remaining),
	)

	enriched := 0

	// Zero-cost merges first: promote a direct-messaging address into the
	// email slot under the precedence rule, no search needed.
	for i := range haveEmail {
		rec := &haveEmail[i]
		if rec.HasEmail {
			continue
		}
		rec.SetEmail(rec.BestEmail())
		if err := s.verifyAndPersist(ctx, rec); err != nil {
			return nil, err
		}
		enriched++
	}

	if len(searchBatch) > 0 {
		n, err := s.searchAndMerge(ctx, searchBatch)
		if err != nil {
			return nil, err
		}
		enriched += n
	}

	npis := make([]string, len(candidates))
	for i := range candidates {
		npis[i] = candidates[i].NPI
	}
	if err := s.store.MarkVisited(ctx, npis); err != nil {
		return nil, eris.Wrap(err, "recruit: mark visited")
	}

	leads, err := s.store.TopLeads(ctx, city, state, specialty, s.cfg.BatchSize)
	if err != nil {
		return nil, eris.Wrap(err, "recruit: top leads")
	}

	return &model.RecruitResult{
		EnrichedCount:    enriched,
		ReturnedCount:    len(leads),
		RemainingCredits: remaining,
		Leads:            leads,
	}, nil
}

// searchAndMerge invokes the match engine on the budget-truncated batch and
// merges each result. Every searched record gets apollo_searched and a fresh
// last_enriched_at regardless of match success; the email field changes only
// when the record had none. Returns how many records gained an email.
func (s *Scheduler) searchAndMerge(ctx context.Context, batch []model.ProviderRecord) (int, error) {
	reqs := make([]enrich.Request, len(batch))
	for i := range batch {
		first, last := splitDisplayName(batch[i].Name)
		reqs[i] = enrich.Request{
			FirstName:    first,
			LastName:     last,
			Organization: batch[i].ClinicName,
			City:         batch[i].City,
			State:        batch[i].State,
		}
	}

	results := s.engine.EnrichBatch(ctx, reqs)

	enriched := 0
	now := time.Now().UTC()
	for i := range batch {
		rec := &batch[i]
		rec.Visited = true
		rec.ApolloSearched = true
		rec.LastEnrichedAt = &now

		if res := results[i]; res != nil {
			rec.Enrichment = &model.Enrichment{
				Email:        res.Email,
				EmailStatus:  res.EmailStatus,
				Confidence:   res.Confidence,
				Organization: res.Organization,
				LinkedInURL:  res.LinkedInURL,
				PhoneNumbers: res.PhoneNumbers,
				WebsiteURL:   res.WebsiteURL,
			}
			rec.EnrichmentStatus = model.EnrichmentApolloEnriched

			// Registry data wins: the enrichment email fills the slot only
			// when the record has no email of its own.
			if !rec.HasEmail {
				rec.SetEmail(rec.BestEmail())
				if rec.HasEmail {
					enriched++
				}
			}
		}

		if err := s.verifyAndPersist(ctx, rec); err != nil {
			return 0, err
		}
	}
	return enriched, nil
}

// verifyAndPersist optionally runs the validity check on the record's email
// and writes the record. A verifier failure degrades to an unverified
// record, never a failed merge.
func (s *Scheduler) verifyAndPersist(ctx context.Context, rec *model.ProviderRecord) error {
	if s.cfg.Verify && s.verifier != nil && rec.HasEmail && rec.Verification == nil {
		result, err := s.verifier.Verify(ctx, rec.Email)
		if err != nil {
			zap.L().Warn("recruit: email verification failed",
				zap.String("npi", rec.NPI),
				zap.Error(err),
			)
		} else {
			valid := result.Valid()
			rec.EmailVerified = &valid
			rec.Verification = &model.Verification{
				Email:               result.Email,
				Status:              result.Status,
				Flags:               result.Flags,
				SuggestedCorrection: result.SuggestedCorrection,
				ExecutionTimeMS:     result.ExecutionTimeMS,
				Error:               result.Error,
			}
		}
	}

	if err := s.store.ApplyEnrichment(ctx, rec); err != nil {
		return eris.Wrapf(err, "recruit: persist record %s", rec.NPI)
	}
	return nil
}

// splitDisplayName recovers first/last name from the "Dr. First Last, CRED"
// display form produced at ingestion.
func splitDisplayName(name string) (string, string) {
	name = strings.TrimPrefix(name, "Dr. ")
	if comma := strings.Index(name, ","); comma >= 0 {
		name = name[:comma]
	}
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

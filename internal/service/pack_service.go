package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"packmarket/internal/domain"
	"packmarket/internal/economy"
	"packmarket/internal/logger"
	"packmarket/internal/metrics"
	"packmarket/internal/repository"
)

// PackService owns the creator pack state machine:
// draft -> live -> archived, and draft -> cancelled.
type PackService struct {
	packs     PackStore
	ledger    *LimitLedger
	generator *economy.Generator
	enricher  Enricher
	audit     Auditor
	notifier  Notifier
	maxPrice  int64
	now       func() time.Time
	log       *slog.Logger
}

// NewPackService creates a pack service. enricher may be nil, in which case
// every card descriptor must carry its own signal.
func NewPackService(packs PackStore, enricher Enricher, ledger *LimitLedger, maxPrice int64) *PackService {
	if ledger == nil {
		ledger = NewLimitLedger(DefaultPublishCooldown)
	}
	return &PackService{
		packs:     packs,
		ledger:    ledger,
		generator: economy.NewGenerator(),
		enricher:  enricher,
		audit:     nopAuditor{},
		notifier:  nopNotifier{},
		maxPrice:  maxPrice,
		now:       time.Now,
		log:       logger.Component("packs"),
	}
}

// SetAuditor attaches an audit sink
func (s *PackService) SetAuditor(a Auditor) {
	if a != nil {
		s.audit = a
	}
}

// SetNotifier attaches a live notification sink
func (s *PackService) SetNotifier(n Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// CreateDraft starts an empty draft pack
func (s *PackService) CreateDraft(ctx context.Context, creatorID int64, tier domain.PackTier, title string, price int64) (*domain.CreatorPack, error) {
	if _, err := economy.TierCardCount(tier); err != nil {
		return nil, err
	}
	if err := s.checkPrice(price); err != nil {
		return nil, err
	}

	p := &domain.CreatorPack{
		CreatorID: creatorID,
		Title:     strings.TrimSpace(title),
		Tier:      tier,
		State:     domain.PackStateDraft,
		Cards:     []domain.CardEntry{},
		Price:     price,
	}
	if err := s.packs.CreatePack(ctx, p); err != nil {
		return nil, err
	}

	s.audit.Log(ctx, creatorID, domain.AuditActionPackCreate, domain.AuditCategoryPack, map[string]interface{}{
		"pack_id": p.ID,
		"tier":    tier,
	})
	s.log.Info("draft created", "pack_id", p.ID, "creator_id", creatorID, "tier", tier)
	return p, nil
}

// AddCard enriches and generates a card from d and appends it to the draft.
// A rule violation is returned as *ValidationError.
func (s *PackService) AddCard(ctx context.Context, creatorID, packID int64, d domain.CardDescriptor) (*domain.CreatorPack, error) {
	entry, err := s.entryFor(ctx, d)
	if err != nil {
		return nil, err
	}
	return s.mutateDraft(ctx, creatorID, packID, func(p *domain.CreatorPack) error {
		if res := economy.ValidateAddition(p, entry); !res.OK {
			return &ValidationError{Result: res}
		}
		p.Cards = append(p.Cards, entry)
		return nil
	})
}

// UpdateCard regenerates the card at index from a new descriptor
func (s *PackService) UpdateCard(ctx context.Context, creatorID, packID int64, index int, d domain.CardDescriptor) (*domain.CreatorPack, error) {
	entry, err := s.entryFor(ctx, d)
	if err != nil {
		return nil, err
	}
	return s.mutateDraft(ctx, creatorID, packID, func(p *domain.CreatorPack) error {
		if index < 0 || index >= len(p.Cards) {
			return ErrCardIndex
		}
		rest := p.Clone()
		rest.Cards = append(rest.Cards[:index:index], rest.Cards[index+1:]...)
		if res := economy.ValidateAddition(rest, entry); !res.OK {
			for i := range res.Violations {
				if res.Violations[i].CardIndex >= 0 {
					res.Violations[i].CardIndex = index
				}
			}
			return &ValidationError{Result: res}
		}
		p.Cards[index] = entry
		return nil
	})
}

// RemoveCard drops the card at index
func (s *PackService) RemoveCard(ctx context.Context, creatorID, packID int64, index int) (*domain.CreatorPack, error) {
	return s.mutateDraft(ctx, creatorID, packID, func(p *domain.CreatorPack) error {
		if index < 0 || index >= len(p.Cards) {
			return ErrCardIndex
		}
		p.Cards = append(p.Cards[:index], p.Cards[index+1:]...)
		return nil
	})
}

// UpdateDetails changes title and price of a draft
func (s *PackService) UpdateDetails(ctx context.Context, creatorID, packID int64, title string, price int64) (*domain.CreatorPack, error) {
	if err := s.checkPrice(price); err != nil {
		return nil, err
	}
	return s.mutateDraft(ctx, creatorID, packID, func(p *domain.CreatorPack) error {
		p.Title = strings.TrimSpace(title)
		p.Price = price
		return nil
	})
}

// Preview validates the pack as it stands without changing anything
func (s *PackService) Preview(ctx context.Context, creatorID, packID int64) (economy.ValidationResult, error) {
	p, err := s.owned(ctx, creatorID, packID)
	if err != nil {
		return economy.ValidationResult{}, err
	}
	return economy.ValidatePack(p), nil
}

// PublishEligibility reports whether the creator could publish right now
func (s *PackService) PublishEligibility(ctx context.Context, creatorID int64) (domain.PublishDecision, error) {
	rec, err := s.packs.GetLimit(ctx, creatorID)
	if err != nil {
		return domain.PublishDecision{}, err
	}
	return s.ledger.CanPublish(rec, s.now()), nil
}

// Publish moves a valid draft to live. Validation, both ledger gates, the
// state change and the ledger write happen inside the creator's critical
// section, so concurrent publishes for one creator cannot both pass.
func (s *PackService) Publish(ctx context.Context, creatorID, packID int64) (*domain.CreatorPack, error) {
	if _, err := s.owned(ctx, creatorID, packID); err != nil {
		return nil, err
	}
	var published *domain.CreatorPack
	err := s.packs.InCreatorTx(ctx, creatorID, func(scope repository.CreatorScope) error {
		p, err := scopedPack(ctx, scope, packID)
		if err != nil {
			return err
		}
		if !p.Editable() {
			return ErrPackNotEditable
		}
		if res := economy.ValidatePack(p); !res.OK {
			return &ValidationError{Result: res}
		}

		rec, err := scope.Limit(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		if d := s.ledger.CanPublish(rec, now); !d.Allowed {
			return blockedError(d)
		}

		p.State = domain.PackStateLive
		p.PublishedAt = &now
		if err := scope.SavePack(ctx, p); err != nil {
			return err
		}
		s.ledger.RecordPublish(rec, p.ID, now)
		if err := scope.SaveLimit(ctx, rec); err != nil {
			return err
		}
		published = p
		return nil
	})
	metrics.PublishAttempts.WithLabelValues(publishOutcome(err)).Inc()
	if err != nil {
		s.log.Info("publish rejected", "pack_id", packID, "creator_id", creatorID, "error", err)
		return nil, err
	}

	s.audit.Log(ctx, creatorID, domain.AuditActionPackPublish, domain.AuditCategoryPack, map[string]interface{}{
		"pack_id": published.ID,
		"tier":    published.Tier,
		"price":   published.Price,
	})
	s.notifier.Notify(creatorID, "pack_published", published.Summary())
	s.log.Info("pack published", "pack_id", published.ID, "creator_id", creatorID)
	return published, nil
}

// Archive retires a live pack and frees the creator's live slot.
// The cooldown still counts from the original publish.
func (s *PackService) Archive(ctx context.Context, creatorID, packID int64) (*domain.CreatorPack, error) {
	if _, err := s.owned(ctx, creatorID, packID); err != nil {
		return nil, err
	}
	var archived *domain.CreatorPack
	err := s.packs.InCreatorTx(ctx, creatorID, func(scope repository.CreatorScope) error {
		p, err := scopedPack(ctx, scope, packID)
		if err != nil {
			return err
		}
		if p.Terminal() {
			return ErrPackNotEditable
		}
		if p.State != domain.PackStateLive {
			return ErrPackNotLive
		}

		now := s.now()
		p.State = domain.PackStateArchived
		p.ClosedAt = &now
		if err := scope.SavePack(ctx, p); err != nil {
			return err
		}

		rec, err := scope.Limit(ctx)
		if err != nil {
			return err
		}
		if s.ledger.ReleasePublishSlot(rec, p.ID) {
			if err := scope.SaveLimit(ctx, rec); err != nil {
				return err
			}
		} else {
			s.log.Warn("archived pack was not the recorded live pack", "pack_id", p.ID, "creator_id", creatorID)
		}
		archived = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, creatorID, domain.AuditActionPackArchive, domain.AuditCategoryPack, map[string]interface{}{
		"pack_id": archived.ID,
	})
	s.log.Info("pack archived", "pack_id", archived.ID, "creator_id", creatorID)
	return archived, nil
}

// AdminArchive archives a live pack on behalf of its creator
func (s *PackService) AdminArchive(ctx context.Context, packID int64) (*domain.CreatorPack, error) {
	p, err := s.packs.GetPack(ctx, packID)
	if err != nil {
		return nil, mapPackErr(err)
	}
	return s.Archive(ctx, p.CreatorID, packID)
}

// Cancel abandons a draft. Live packs are archived, not cancelled.
func (s *PackService) Cancel(ctx context.Context, creatorID, packID int64) (*domain.CreatorPack, error) {
	if _, err := s.owned(ctx, creatorID, packID); err != nil {
		return nil, err
	}
	var cancelled *domain.CreatorPack
	err := s.packs.InCreatorTx(ctx, creatorID, func(scope repository.CreatorScope) error {
		p, err := scopedPack(ctx, scope, packID)
		if err != nil {
			return err
		}
		if !p.Editable() {
			return ErrPackNotEditable
		}
		now := s.now()
		p.State = domain.PackStateCancelled
		p.ClosedAt = &now
		if err := scope.SavePack(ctx, p); err != nil {
			return err
		}
		cancelled = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, creatorID, domain.AuditActionPackCancel, domain.AuditCategoryPack, map[string]interface{}{
		"pack_id": cancelled.ID,
	})
	s.log.Info("draft cancelled", "pack_id", cancelled.ID, "creator_id", creatorID)
	return cancelled, nil
}

// ListLive returns storefront summaries of live packs
func (s *PackService) ListLive(ctx context.Context, limit int) ([]domain.PackSummary, error) {
	packs, err := s.packs.ListLive(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PackSummary, 0, len(packs))
	for _, p := range packs {
		out = append(out, p.Summary())
	}
	return out, nil
}

// Get returns a pack. Drafts and cancelled packs are visible to their creator only.
func (s *PackService) Get(ctx context.Context, viewerID, packID int64) (*domain.CreatorPack, error) {
	p, err := s.packs.GetPack(ctx, packID)
	if err != nil {
		return nil, mapPackErr(err)
	}
	if p.CreatorID != viewerID && (p.State == domain.PackStateDraft || p.State == domain.PackStateCancelled) {
		return nil, ErrPackNotFound
	}
	return p, nil
}

// ListByCreator returns all packs of a creator
func (s *PackService) ListByCreator(ctx context.Context, creatorID int64) ([]*domain.CreatorPack, error) {
	return s.packs.ListByCreator(ctx, creatorID)
}

func (s *PackService) entryFor(ctx context.Context, d domain.CardDescriptor) (domain.CardEntry, error) {
	d.ArtistName = strings.TrimSpace(d.ArtistName)
	d.SourceURL = strings.TrimSpace(d.SourceURL)
	if !economy.ValidSourceURL(d.SourceURL) {
		return domain.CardEntry{}, &ValidationError{Result: economy.ValidationResult{
			Violations: []economy.Violation{{
				Code:      economy.ViolationSourceURL,
				CardIndex: -1,
				Message:   fmt.Sprintf("source url %q is not a provider artist/track link", d.SourceURL),
			}},
		}}
	}
	if d.Signal == nil && s.enricher != nil {
		sig, err := s.enricher.Lookup(ctx, d.SourceURL)
		if err != nil {
			return domain.CardEntry{}, fmt.Errorf("%w: %v", economy.ErrEnrichmentMissing, err)
		}
		d.Signal = sig
	}
	policy, err := economy.PolicyFor(domain.PackKindCreator)
	if err != nil {
		return domain.CardEntry{}, err
	}
	return s.generator.Generate(d, policy)
}

// mutateDraft applies fn to a draft under the creator's lock and saves it
func (s *PackService) mutateDraft(ctx context.Context, creatorID, packID int64, fn func(p *domain.CreatorPack) error) (*domain.CreatorPack, error) {
	if _, err := s.owned(ctx, creatorID, packID); err != nil {
		return nil, err
	}
	var out *domain.CreatorPack
	err := s.packs.InCreatorTx(ctx, creatorID, func(scope repository.CreatorScope) error {
		p, err := scopedPack(ctx, scope, packID)
		if err != nil {
			return err
		}
		if !p.Editable() {
			return ErrPackNotEditable
		}
		if err := fn(p); err != nil {
			return err
		}
		if err := scope.SavePack(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (s *PackService) owned(ctx context.Context, creatorID, packID int64) (*domain.CreatorPack, error) {
	p, err := s.packs.GetPack(ctx, packID)
	if err != nil {
		return nil, mapPackErr(err)
	}
	if p.CreatorID != creatorID {
		return nil, ErrNotPackOwner
	}
	return p, nil
}

func (s *PackService) checkPrice(price int64) error {
	if price < 0 || (s.maxPrice > 0 && price > s.maxPrice) {
		return fmt.Errorf("%w: %d", ErrInvalidPrice, price)
	}
	return nil
}

func scopedPack(ctx context.Context, scope repository.CreatorScope, packID int64) (*domain.CreatorPack, error) {
	p, err := scope.Pack(ctx, packID)
	if err != nil {
		return nil, mapPackErr(err)
	}
	return p, nil
}

func mapPackErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPackNotFound
	}
	return err
}

func publishOutcome(err error) string {
	var (
		verr *ValidationError
		berr *PublishBlockedError
	)
	switch {
	case err == nil:
		return "published"
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &berr):
		return string(berr.Reason)
	}
	return "error"
}

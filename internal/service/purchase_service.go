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

	"github.com/google/uuid"
)

// DefaultCreatorSharePct is the creator's cut of each sale
const DefaultCreatorSharePct = 70

// DefaultCaptureGrace is how long a capture may go without a purchase row
// before reconciliation adopts it.
const DefaultCaptureGrace = 5 * time.Minute

// XPAwarder is the part of the season engine purchases report to
type XPAwarder interface {
	AwardXP(ctx context.Context, playerID int64, eventKey string, events ...domain.XPEvent) (*domain.PlayerProgress, error)
	ActiveSeason(ctx context.Context) (*domain.Season, error)
}

type PurchaseOptions struct {
	CreatorSharePct int64
	MaxAttempts     int
	CaptureGrace    time.Duration
}

// PurchaseService executes pack purchases: capture, mint, record, award XP.
// Once payment is captured the purchase is always recorded; anything that
// fails afterwards leaves it pending for reconciliation.
type PurchaseService struct {
	packs     PackStore
	purchases PurchaseStore
	cards     CardStore
	payments  PaymentProvider
	xp        XPAwarder
	revenue   Crediter
	generator *economy.Generator
	audit     Auditor
	notifier  Notifier
	opts      PurchaseOptions
	now       func() time.Time
	log       *slog.Logger
}

func NewPurchaseService(packs PackStore, purchases PurchaseStore, cards CardStore, payments PaymentProvider, xp XPAwarder, revenue Crediter, opts PurchaseOptions) *PurchaseService {
	if opts.CreatorSharePct < 0 || opts.CreatorSharePct > 100 {
		opts.CreatorSharePct = DefaultCreatorSharePct
	}
	if opts.CaptureGrace <= 0 {
		opts.CaptureGrace = DefaultCaptureGrace
	}
	return &PurchaseService{
		packs:     packs,
		purchases: purchases,
		cards:     cards,
		payments:  payments,
		xp:        xp,
		revenue:   revenue,
		generator: economy.NewGenerator(),
		audit:     nopAuditor{},
		notifier:  nopNotifier{},
		opts:      opts,
		now:       time.Now,
		log:       logger.Component("purchases"),
	}
}

func (s *PurchaseService) SetAuditor(a Auditor) {
	if a != nil {
		s.audit = a
	}
}

func (s *PurchaseService) SetNotifier(n Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// Purchase buys a live pack. A declined payment returns ErrPaymentDeclined
// with nothing recorded. A failure after capture returns *PartialPurchaseError
// holding the pending purchase.
func (s *PurchaseService) Purchase(ctx context.Context, packID, buyerID int64, authorization string) (*domain.PackPurchase, error) {
	pack, err := s.packs.GetPack(ctx, packID)
	if err != nil {
		return nil, mapPackErr(err)
	}
	if pack.State != domain.PackStateLive {
		return nil, ErrPackNotLive
	}
	var seasonID *int64
	if season, err := s.xp.ActiveSeason(ctx); err == nil {
		seasonID = &season.ID
	}

	purchaseID := uuid.NewString()
	receipt, err := s.payments.Capture(ctx, Charge{
		PayerID:       buyerID,
		Amount:        pack.Price,
		Authorization: strings.TrimSpace(authorization),
		Description:   fmt.Sprintf("pack %d", pack.ID),
		PurchaseID:    purchaseID,
		PackID:        pack.ID,
	})
	if err != nil {
		if errors.Is(err, ErrPaymentDeclined) {
			metrics.Purchases.WithLabelValues("declined").Inc()
		} else {
			metrics.Purchases.WithLabelValues("error").Inc()
		}
		s.log.Info("payment not captured", "pack_id", pack.ID, "buyer_id", buyerID, "error", err)
		return nil, err
	}

	now := s.now()
	purchase := &domain.PackPurchase{
		ID:               purchaseID,
		PackID:           pack.ID,
		BuyerID:          buyerID,
		AmountCharged:    receipt.Amount,
		PaymentReference: receipt.Reference,
		Status:           domain.PurchaseStatusCompleted,
	}
	cards := s.mint(pack, purchase, seasonID, now)

	if err := s.purchases.CommitPurchase(ctx, purchase, cards); err != nil {
		perr := s.recordPending(ctx, purchase, domain.PurchaseStageMint, err)
		s.payCreator(ctx, pack, purchase)
		return nil, perr
	}
	metrics.CardsMinted.Add(float64(len(cards)))
	s.payCreator(ctx, pack, purchase)

	if err := s.awardPurchaseXP(ctx, purchase, len(pack.Cards)); err != nil {
		stage := domain.PurchaseStageXP
		if merr := s.purchases.MarkPending(ctx, purchase.ID, stage, err.Error()); merr != nil {
			s.log.Error("failed to mark purchase pending", "purchase_id", purchase.ID, "error", merr)
		}
		purchase.Status = domain.PurchaseStatusPendingReconciliation
		purchase.FailureStage = &stage
		purchase.LastError = err.Error()
		purchase.Attempts++
		return nil, s.pendingError(ctx, purchase, stage, err)
	}

	metrics.Purchases.WithLabelValues("completed").Inc()
	s.audit.Log(ctx, buyerID, domain.AuditActionPurchase, domain.AuditCategoryPurchase, map[string]interface{}{
		"purchase_id": purchase.ID,
		"pack_id":     pack.ID,
		"amount":      purchase.AmountCharged,
		"cards":       len(purchase.MintedCardIDs),
		"new_artists": len(purchase.NewArtists),
	})
	s.notifier.Notify(buyerID, "purchase_completed", purchase)
	s.log.Info("pack purchased", "purchase_id", purchase.ID, "pack_id", pack.ID, "buyer_id", buyerID)
	return purchase, nil
}

// Reconcile finishes a pending purchase. Minting is keyed by (purchase, slot)
// and XP by the purchase id, so running it again never duplicates effects.
// It never charges or refunds.
func (s *PurchaseService) Reconcile(ctx context.Context, purchaseID string) (*domain.PackPurchase, error) {
	purchase, err := s.purchases.GetPurchase(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, err
	}
	if !purchase.Pending() {
		return purchase, nil
	}
	pack, err := s.packs.GetPack(ctx, purchase.PackID)
	if err != nil {
		return nil, mapPackErr(err)
	}

	var seasonID *int64
	if season, err := s.xp.ActiveSeason(ctx); err == nil {
		seasonID = &season.ID
	}
	cards := s.mint(pack, purchase, seasonID, s.now())
	ids, artists, err := s.purchases.MintForPurchase(ctx, purchase.ID, cards)
	if err != nil {
		return nil, s.failReconcile(ctx, purchase, domain.PurchaseStageMint, err)
	}
	purchase.MintedCardIDs = ids
	purchase.NewArtists = artists

	if err := s.awardPurchaseXP(ctx, purchase, len(pack.Cards)); err != nil {
		return nil, s.failReconcile(ctx, purchase, domain.PurchaseStageXP, err)
	}

	now := s.now()
	if err := s.purchases.MarkCompleted(ctx, purchase.ID, now); err != nil {
		return nil, err
	}
	purchase.Status = domain.PurchaseStatusCompleted
	purchase.FailureStage = nil
	purchase.LastError = ""
	purchase.ReconciledAt = &now

	metrics.Reconciliations.WithLabelValues("completed").Inc()
	s.audit.Log(ctx, purchase.BuyerID, domain.AuditActionPurchaseReconcile, domain.AuditCategoryPurchase, map[string]interface{}{
		"purchase_id": purchase.ID,
		"attempts":    purchase.Attempts,
	})
	s.notifier.Notify(purchase.BuyerID, "purchase_completed", purchase)
	s.log.Info("purchase reconciled", "purchase_id", purchase.ID, "buyer_id", purchase.BuyerID)
	return purchase, nil
}

// ReconcilePending adopts orphaned captures, then retries up to limit pending
// purchases that are still under the attempt cap.
func (s *PurchaseService) ReconcilePending(ctx context.Context, limit int) (completed, failed int, err error) {
	if err := s.adoptOrphans(ctx, limit); err != nil {
		return 0, 0, err
	}
	pending, err := s.purchases.ListPending(ctx, s.opts.MaxAttempts, limit)
	if err != nil {
		return 0, 0, err
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return completed, failed, ctx.Err()
		}
		if _, err := s.Reconcile(ctx, p.ID); err != nil {
			failed++
			continue
		}
		completed++
	}
	return completed, failed, nil
}

// ListPending returns purchases awaiting reconciliation, including those over
// the attempt cap and captures adopted on the way.
func (s *PurchaseService) ListPending(ctx context.Context, limit int) ([]*domain.PackPurchase, error) {
	if err := s.adoptOrphans(ctx, limit); err != nil {
		return nil, err
	}
	return s.purchases.ListPending(ctx, 0, limit)
}

// adoptOrphans records a pending purchase for every capture older than the
// grace period that has none. Such captures are left behind when the
// purchase row itself could not be written.
func (s *PurchaseService) adoptOrphans(ctx context.Context, limit int) error {
	ids, err := s.purchases.AdoptOrphanCaptures(ctx, s.now().Add(-s.opts.CaptureGrace), limit)
	if err != nil {
		return fmt.Errorf("adopt captures: %w", err)
	}
	for _, id := range ids {
		metrics.Purchases.WithLabelValues("adopted").Inc()
		s.log.Warn("adopted capture without purchase", "purchase_id", id)
	}
	return nil
}

func (s *PurchaseService) ListByBuyer(ctx context.Context, buyerID int64, limit int) ([]*domain.PackPurchase, error) {
	return s.purchases.ListByBuyer(ctx, buyerID, limit)
}

// Get returns one of the buyer's purchases
func (s *PurchaseService) Get(ctx context.Context, buyerID int64, purchaseID string) (*domain.PackPurchase, error) {
	p, err := s.purchases.GetPurchase(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, err
	}
	if p.BuyerID != buyerID {
		return nil, ErrPurchaseNotFound
	}
	return p, nil
}

// Collection lists the player's minted cards
func (s *PurchaseService) Collection(ctx context.Context, playerID int64, limit int) ([]*domain.PlayerCard, error) {
	return s.cards.ListByOwner(ctx, playerID, limit)
}

// Items lists cosmetics and titles the player owns
func (s *PurchaseService) Items(ctx context.Context, playerID int64) ([]*domain.PlayerItem, error) {
	return s.cards.ListItems(ctx, playerID)
}

func (s *PurchaseService) mint(pack *domain.CreatorPack, purchase *domain.PackPurchase, seasonID *int64, now time.Time) []domain.PlayerCard {
	cards := make([]domain.PlayerCard, 0, len(pack.Cards))
	packID := pack.ID
	purchaseID := purchase.ID
	for slot, entry := range pack.Cards {
		c := s.generator.Mint(entry, purchase.BuyerID, slot, now)
		c.PackID = &packID
		c.PurchaseID = &purchaseID
		c.SeasonID = seasonID
		cards = append(cards, c)
	}
	return cards
}

// awardPurchaseXP reports one pack_opened per card plus the unique-artist bonus.
// With no active season there is nothing to award.
func (s *PurchaseService) awardPurchaseXP(ctx context.Context, p *domain.PackPurchase, cardCount int) error {
	events := []domain.XPEvent{{Kind: domain.XPEventPackOpened, Count: cardCount}}
	if n := len(p.NewArtists); n > 0 {
		events = append(events, domain.XPEvent{Kind: domain.XPEventUniqueArtistBonus, Count: n})
	}
	_, err := s.xp.AwardXP(ctx, p.BuyerID, "purchase:"+p.ID, events...)
	if errors.Is(err, ErrNoActiveSeason) {
		s.log.Warn("no active season, purchase xp skipped", "purchase_id", p.ID, "buyer_id", p.BuyerID)
		return nil
	}
	return err
}

func (s *PurchaseService) recordPending(ctx context.Context, p *domain.PackPurchase, stage domain.PurchaseStage, cause error) error {
	p.Status = domain.PurchaseStatusPendingReconciliation
	p.FailureStage = &stage
	p.LastError = cause.Error()
	p.Attempts = 1
	p.MintedCardIDs = nil
	if err := s.purchases.RecordPending(ctx, p); err != nil {
		// the capture row carries the purchase id; adoptOrphans rebuilds it
		s.log.Error("failed to record pending purchase",
			"purchase_id", p.ID, "pack_id", p.PackID, "buyer_id", p.BuyerID,
			"payment_reference", p.PaymentReference, "amount", p.AmountCharged,
			"cause", cause, "error", err)
	}
	return s.pendingError(ctx, p, stage, cause)
}

func (s *PurchaseService) pendingError(ctx context.Context, p *domain.PackPurchase, stage domain.PurchaseStage, cause error) error {
	metrics.Purchases.WithLabelValues("pending").Inc()
	s.audit.Log(ctx, p.BuyerID, domain.AuditActionPurchasePending, domain.AuditCategoryPurchase, map[string]interface{}{
		"purchase_id": p.ID,
		"pack_id":     p.PackID,
		"stage":       stage,
		"error":       cause.Error(),
	})
	s.notifier.Notify(p.BuyerID, "purchase_pending", p)
	s.log.Error("purchase pending reconciliation", "purchase_id", p.ID, "stage", stage, "error", cause)
	return &PartialPurchaseError{Purchase: p, Stage: stage, Err: cause}
}

func (s *PurchaseService) failReconcile(ctx context.Context, p *domain.PackPurchase, stage domain.PurchaseStage, cause error) error {
	metrics.Reconciliations.WithLabelValues("failed").Inc()
	if err := s.purchases.MarkPending(ctx, p.ID, stage, cause.Error()); err != nil {
		s.log.Error("failed to update pending purchase", "purchase_id", p.ID, "error", err)
	}
	p.FailureStage = &stage
	p.LastError = cause.Error()
	p.Attempts++
	s.log.Warn("reconciliation failed", "purchase_id", p.ID, "stage", stage, "attempts", p.Attempts, "error", cause)
	return &PartialPurchaseError{Purchase: p, Stage: stage, Err: cause}
}

// payCreator credits the creator's revenue share. Failures are logged only.
func (s *PurchaseService) payCreator(ctx context.Context, pack *domain.CreatorPack, p *domain.PackPurchase) {
	if s.revenue == nil || pack.CreatorID == p.BuyerID {
		return
	}
	share := p.AmountCharged * s.opts.CreatorSharePct / 100
	if share <= 0 {
		return
	}
	if _, err := s.revenue.Credit(ctx, pack.CreatorID, share, domain.TxPackSale, map[string]interface{}{
		"purchase_id": p.ID,
		"pack_id":     pack.ID,
	}); err != nil {
		s.log.Error("failed to credit creator share", "creator_id", pack.CreatorID, "purchase_id", p.ID, "amount", share, "error", err)
	}
}

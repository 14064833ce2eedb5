package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RLRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limiter_requests_total",
			Help: "Total requests seen by the rate limiter",
		},
		[]string{"endpoint"},
	)
	RLBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limiter_blocked_total",
			Help: "Total requests blocked by the rate limiter",
		},
		[]string{"endpoint"},
	)

	// outcome: published, invalid, one_live_limit, cooldown_active, error
	PublishAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pack_publish_attempts_total",
			Help: "Pack publish attempts by outcome",
		},
		[]string{"outcome"},
	)

	// outcome: completed, pending, declined, error
	Purchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pack_purchases_total",
			Help: "Pack purchases by outcome",
		},
		[]string{"outcome"},
	)

	CardsMinted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cards_minted_total",
			Help: "Cards minted into player collections",
		},
	)

	XPAwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "season_xp_awarded_total",
			Help: "XP awarded by event kind",
		},
		[]string{"kind"},
	)

	RewardClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "season_reward_claims_total",
			Help: "Reward claims by reward kind",
		},
		[]string{"kind"},
	)

	// result: completed, failed
	Reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_reconciliations_total",
			Help: "Reconciliation attempts by result",
		},
		[]string{"result"},
	)

	// result: hit, miss, error
	EnrichmentLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_lookups_total",
			Help: "Metadata enrichment lookups by cache result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(RLRequests)
	prometheus.MustRegister(RLBlocked)
	prometheus.MustRegister(PublishAttempts)
	prometheus.MustRegister(Purchases)
	prometheus.MustRegister(CardsMinted)
	prometheus.MustRegister(XPAwarded)
	prometheus.MustRegister(RewardClaims)
	prometheus.MustRegister(Reconciliations)
	prometheus.MustRegister(EnrichmentLookups)
}

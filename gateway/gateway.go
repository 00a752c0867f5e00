package gateway

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"custodia/native/escrow"
	"custodia/native/reputation"
)

// Ledger is the subset of the escrow engine the gateway drives. Release and
// ResolveChallenge are the two privileged calls reserved for the oracle
// identity the gateway acts as.
type Ledger interface {
	Get(id [32]byte) (*escrow.Escrow, error)
	Release(id [32]byte, caller [20]byte, trustScore uint8) error
	ResolveChallenge(id [32]byte, caller [20]byte, passed bool) error
}

// Config tunes the gateway's freshness and reputation behaviour.
type Config struct {
	// Oracle is the ledger identity the gateway calls as.
	Oracle [20]byte
	// MaxScoreAge bounds how old an observation may be before it is
	// rejected as stale.
	MaxScoreAge time.Duration
	// BonusPoints and BonusTTL parameterise the reputation bonus recorded
	// when a seller passes an identity challenge.
	BonusPoints uint64
	BonusTTL    time.Duration
}

// Gateway validates trust observations and drives the two privileged ledger
// calls. It is the only component that talks to the scoring pipeline.
type Gateway struct {
	ledger  Ledger
	source  TrustSource
	bonuses *reputation.Ledger
	cfg     Config
	log     *slog.Logger
	metrics *Metrics
	nowFn   func() time.Time
}

// New constructs a gateway. The bonuses ledger may be nil when reputation
// recording is disabled.
func New(ledger Ledger, source TrustSource, bonuses *reputation.Ledger, cfg Config, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxScoreAge <= 0 {
		cfg.MaxScoreAge = 5 * time.Minute
	}
	return &Gateway{
		ledger:  ledger,
		source:  source,
		bonuses: bonuses,
		cfg:     cfg,
		log:     log,
		metrics: newMetrics(),
		nowFn:   time.Now,
	}
}

// SetNowFunc overrides the wall clock used for freshness checks.
func (g *Gateway) SetNowFunc(now func() time.Time) {
	if now == nil {
		g.nowFn = time.Now
		return
	}
	g.nowFn = now
}

// TriggerRelease fetches the seller's trust score, validates its freshness
// and invokes the ledger release. Threshold gating stays in the ledger; the
// gateway only guarantees the score it forwards is fresh.
func (g *Gateway) TriggerRelease(ctx context.Context, id [32]byte) error {
	esc, err := g.ledger.Get(id)
	if err != nil {
		return err
	}
	started := g.nowFn()
	obs, err := g.source.Score(ctx, esc.Seller)
	g.metrics.observeSourceLatency(g.nowFn().Sub(started))
	if err != nil {
		g.metrics.releases.WithLabelValues("source_error").Inc()
		return err
	}
	if g.nowFn().Sub(obs.ObservedAt) > g.cfg.MaxScoreAge {
		g.metrics.staleRejections.Inc()
		g.log.Warn("rejecting stale trust observation",
			"escrow", hex.EncodeToString(id[:]),
			"observedAt", obs.ObservedAt)
		return ErrStaleScore
	}
	if err := g.ledger.Release(id, g.cfg.Oracle, obs.Score); err != nil {
		g.metrics.releases.WithLabelValues("rejected").Inc()
		return err
	}
	g.metrics.releases.WithLabelValues("released").Inc()
	g.log.Info("escrow released",
		"escrow", hex.EncodeToString(id[:]),
		"score", obs.Score)
	return nil
}

// ResolveChallenge forwards the verification verdict to the ledger and, on a
// pass, records a time-bounded reputation bonus for the seller.
func (g *Gateway) ResolveChallenge(ctx context.Context, id [32]byte, passed bool) error {
	esc, err := g.ledger.Get(id)
	if err != nil {
		return err
	}
	if err := g.ledger.ResolveChallenge(id, g.cfg.Oracle, passed); err != nil {
		g.metrics.resolutions.WithLabelValues("error").Inc()
		return err
	}
	outcome := "failed"
	if passed {
		outcome = "passed"
		if g.bonuses != nil && g.cfg.BonusPoints > 0 {
			ttl := int64(g.cfg.BonusTTL / time.Second)
			if _, err := g.bonuses.Grant(esc.Seller, g.cfg.BonusPoints, ttl, "challenge pass"); err != nil {
				g.log.Error("recording reputation bonus failed",
					"escrow", hex.EncodeToString(id[:]),
					"err", err)
			}
		}
	}
	g.metrics.resolutions.WithLabelValues(outcome).Inc()
	g.log.Info("challenge resolved",
		"escrow", hex.EncodeToString(id[:]),
		"outcome", outcome)
	return nil
}

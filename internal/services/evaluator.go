// Package services – Evaluator
//
// This file implements the Escalation Evaluator. After every warning it
// decides, from the community's policy and the user's sliding-window warning
// count, whether an automatic timeout must be recorded. The decision itself
// is the pure Decide function; de-duplication of escalations for the same
// burst is enforced by the Coordinator's conditional insert.
//
// Evaluation never fails the warning that triggered it: every error is
// logged and reported as NoAction.
package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-modcases/internal/domain"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EscalationResult is NoAction (Escalated == false) or Escalated with the
// AutoTimeout case that was recorded.
type EscalationResult struct {
	Escalated bool         `json:"escalated"`
	Case      *domain.Case `json:"case,omitempty"`
}

// NoAction is the zero EscalationResult.
var NoAction = EscalationResult{}

// Evaluator applies the escalation policy after a warning.
type Evaluator struct {
	Ledger *Ledger
	Log    zerolog.Logger
}

// NewEvaluator constructs an Evaluator that records escalations via ledger.
func NewEvaluator(ledger *Ledger) *Evaluator {
	return &Evaluator{
		Ledger: ledger,
		Log:    log.With().Str("component", "evaluator").Logger(),
	}
}

// Decide reports whether count recent warnings cross the policy threshold.
func Decide(cfg domain.EscalationConfig, count int64) bool {
	return cfg.Enabled && cfg.WarnThreshold >= 1 && count >= int64(cfg.WarnThreshold)
}

// Evaluate runs the policy for userID after the Warn case warnCaseID was
// recorded.
func (e *Evaluator) Evaluate(ctx context.Context, communityID, userID, warnCaseID int64) EscalationResult {
	tr := otel.Tracer("services/Evaluator")
	ctx, span := tr.Start(ctx, "Evaluate",
		trace.WithAttributes(
			attribute.Int64("community.id", communityID),
			attribute.Int64("user.id", userID),
			attribute.Int64("case.id", warnCaseID),
		),
	)
	defer span.End()

	lg := e.Log.With().Int64("community_id", communityID).Int64("user_id", userID).Logger()
	coord := e.Ledger.Coord

	cfg, err := coord.GetEscalationConfig(ctx, communityID)
	if err != nil {
		lg.Warn().Err(err).Msg("escalation skipped: config unavailable")
		escalations.WithLabelValues("error").Inc()
		return NoAction
	}
	if !cfg.Enabled {
		escalations.WithLabelValues("disabled").Inc()
		return NoAction
	}

	window := cfg.WarnWindow()
	since := coord.now().Add(-window)
	count, err := coord.CountRecentWarnings(ctx, communityID, userID, window)
	if err != nil {
		lg.Warn().Err(err).Msg("escalation skipped: warning count unavailable")
		escalations.WithLabelValues("error").Inc()
		return NoAction
	}
	span.SetAttributes(attribute.Int64("warnings.count", count))
	if !Decide(*cfg, count) {
		escalations.WithLabelValues("below").Inc()
		return NoAction
	}

	warnCase, err := e.Ledger.GetCase(ctx, communityID, warnCaseID)
	if err != nil || warnCase.Kind != domain.KindWarn || warnCase.SourceWarningID == nil {
		lg.Error().Err(err).Int64("case_id", warnCaseID).Msg("escalation skipped: triggering warn case unusable")
		escalations.WithLabelValues("error").Inc()
		return NoAction
	}

	reason := fmt.Sprintf("Automatic timeout: %d warnings within %s", count, domain.FormatDuration(window))
	c, created, err := e.Ledger.RecordEscalation(ctx, communityID, userID, *warnCase.SourceWarningID, reason, cfg.TimeoutWindow(), since)
	if err != nil {
		lg.Error().Err(err).Msg("escalation failed")
		escalations.WithLabelValues("error").Inc()
		return NoAction
	}
	if !created {
		escalations.WithLabelValues("deduplicated").Inc()
		return NoAction
	}

	escalations.WithLabelValues("escalated").Inc()
	lg.Info().Int64("case_id", c.ID).Str("label", c.Label()).Int64("warnings", count).Msg("user escalated")
	return EscalationResult{Escalated: true, Case: c}
}

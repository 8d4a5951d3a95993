package services

import "context"

// WarnOutcome is a recorded warning plus the escalation it caused, if any.
type WarnOutcome struct {
	*WarnResult
	Escalation EscalationResult `json:"escalation"`
}

// Moderation runs the warn -> evaluate flow on top of the Ledger.
type Moderation struct {
	*Ledger
	Evaluator *Evaluator
}

// NewModeration wires a Moderation facade.
func NewModeration(ledger *Ledger, evaluator *Evaluator) *Moderation {
	return &Moderation{Ledger: ledger, Evaluator: evaluator}
}

// Warn records a warning and evaluates escalation for the user. Once the
// warning is committed the evaluation runs to completion even if ctx is
// cancelled; its failures never fail the warning.
func (m *Moderation) Warn(ctx context.Context, communityID, userID, moderatorID int64, reason string) (*WarnOutcome, error) {
	res, err := m.RecordWarning(ctx, communityID, userID, moderatorID, reason)
	if err != nil {
		return nil, err
	}
	esc := m.Evaluator.Evaluate(context.WithoutCancel(ctx), communityID, userID, res.Case.ID)
	return &WarnOutcome{WarnResult: res, Escalation: esc}, nil
}

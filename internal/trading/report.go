package trading

import (
	"time"

	"gtrader/internal/advisor"
	"gtrader/internal/models"
)

type Phase string

const (
	PhaseResolve     Phase = "RESOLVE"
	PhaseFetchData   Phase = "FETCH_DATA"
	PhaseAnalyze     Phase = "ANALYZE"
	PhaseDecide      Phase = "DECIDE"
	PhaseRiskCheck   Phase = "RISK_CHECK"
	PhaseSize        Phase = "SIZE"
	PhaseExecute     Phase = "EXECUTE"
	PhaseAttachExits Phase = "ATTACH_EXITS"
	PhaseSleep       Phase = "SLEEP"
)

type Outcome string

const (
	OutcomeTraded   Outcome = "traded"
	OutcomePartial  Outcome = "partial_protection"
	OutcomeHold     Outcome = "hold"
	OutcomeNoData   Outcome = "no_data"
	OutcomeRejected Outcome = "risk_rejected"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "execution_failed"
	OutcomeAborted  Outcome = "aborted"
	OutcomeFatal    Outcome = "fatal"
)

// CycleReport describes one finished cycle. Phase is the last phase entered.
type CycleReport struct {
	Started    time.Time         `json:"started"`
	Finished   time.Time         `json:"finished"`
	Phase      Phase             `json:"phase"`
	Outcome    Outcome           `json:"outcome"`
	Reason     string            `json:"reason,omitempty"`
	Assets     int               `json:"assets"`
	Decision   *advisor.Decision `json:"decision,omitempty"`
	Conviction models.Conviction `json:"conviction,omitempty"`
	Notional   float64           `json:"notional,omitempty"`
	Trade      *models.Trade     `json:"trade,omitempty"`
	Resolved   []models.Trade    `json:"resolved,omitempty"`
	Err        error             `json:"-"`
}

func (r CycleReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

func (r *CycleReport) finish(outcome Outcome, reason string) {
	r.Outcome = outcome
	r.Reason = reason
}

package enum

import "fmt"

// DepositStatus is the lifecycle of an observed on-chain deposit.
// detected -> confirmed -> swept, with sweep_failed as the only failure branch.
type DepositStatus string

const (
	DepositStatusDetected    DepositStatus = "detected"
	DepositStatusConfirmed   DepositStatus = "confirmed"
	DepositStatusSwept       DepositStatus = "swept"
	DepositStatusSweepFailed DepositStatus = "sweep_failed"
)

type SweepStatus string

const (
	SweepStatusPending   SweepStatus = "pending"
	SweepStatusGasFunded SweepStatus = "gas_funded"
	SweepStatusSwept     SweepStatus = "swept"
	SweepStatusFailed    SweepStatus = "failed"
)

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
)

var depositTransitions = map[DepositStatus][]DepositStatus{
	DepositStatusDetected:    {DepositStatusConfirmed},
	DepositStatusConfirmed:   {DepositStatusSwept, DepositStatusSweepFailed},
	DepositStatusSweepFailed: {DepositStatusSwept},
	DepositStatusSwept:       {},
}

var sweepTransitions = map[SweepStatus][]SweepStatus{
	SweepStatusPending:   {SweepStatusGasFunded, SweepStatusSwept, SweepStatusFailed},
	SweepStatusGasFunded: {SweepStatusSwept, SweepStatusFailed},
	SweepStatusFailed:    {SweepStatusPending},
	SweepStatusSwept:     {},
}

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutStatusPending:    {PayoutStatusProcessing, PayoutStatusCompleted, PayoutStatusFailed},
	PayoutStatusProcessing: {PayoutStatusProcessing, PayoutStatusCompleted, PayoutStatusFailed},
	PayoutStatusCompleted:  {},
	PayoutStatusFailed:     {},
}

func (s DepositStatus) CanTransition(to DepositStatus) bool {
	return contains(depositTransitions[s], to)
}

func (s DepositStatus) Transition(to DepositStatus) (DepositStatus, error) {
	if !s.CanTransition(to) {
		return s, fmt.Errorf("invalid deposit transition %s -> %s", s, to)
	}
	return to, nil
}

func (s DepositStatus) Terminal() bool {
	return len(depositTransitions[s]) == 0
}

func (s SweepStatus) CanTransition(to SweepStatus) bool {
	return contains(sweepTransitions[s], to)
}

func (s SweepStatus) Transition(to SweepStatus) (SweepStatus, error) {
	if !s.CanTransition(to) {
		return s, fmt.Errorf("invalid sweep transition %s -> %s", s, to)
	}
	return to, nil
}

func (s PayoutStatus) CanTransition(to PayoutStatus) bool {
	return contains(payoutTransitions[s], to)
}

func (s PayoutStatus) Transition(to PayoutStatus) (PayoutStatus, error) {
	if !s.CanTransition(to) {
		return s, fmt.Errorf("invalid payout transition %s -> %s", s, to)
	}
	return to, nil
}

// Terminal reports whether no further transition can leave the status.
func (s PayoutStatus) Terminal() bool {
	return s == PayoutStatusCompleted || s == PayoutStatusFailed
}

func contains[T comparable](xs []T, x T) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

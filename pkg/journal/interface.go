// Package journal records submission attempts for operator diagnosis.
// Dropped or reverted submissions are invisible in the product UI; the
// journal is where they get chased down. The journal never feeds back into
// bidding decisions; the bid memory is deliberately process-local.
package journal

import "time"

// Attempt is one submission attempt, successful or not.
type Attempt struct {
	ID                   string `json:"id"`
	Sender               string `json:"sender"`
	TxHash               string `json:"txHash,omitempty"`
	FeeMode              string `json:"feeMode"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	UsedRegisterPath     bool   `json:"usedRegisterPath"`
	Outcome              string `json:"outcome"`
	ErrorKind            string `json:"errorKind,omitempty"`
	ErrorDetail          string `json:"errorDetail,omitempty"`
	CreatedAtUnix        int64  `json:"createdAtUnix"`
}

// Clone deep-copies the attempt so stored entries can't be mutated through
// returned pointers.
func (a *Attempt) Clone() *Attempt {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// StampedNow returns the attempt with CreatedAtUnix set if it wasn't already.
func (a *Attempt) StampedNow() *Attempt {
	if a.CreatedAtUnix == 0 {
		a.CreatedAtUnix = time.Now().Unix()
	}
	return a
}

// ISubmissionJournal persists submission attempts. All implementations must
// be safe for concurrent use.
type ISubmissionJournal interface {
	// RecordAttempt persists an attempt. Idempotent per attempt ID.
	RecordAttempt(attempt *Attempt) error

	// GetAttempt retrieves an attempt by ID. Returns nil if absent; error
	// only on storage failure.
	GetAttempt(id string) (*Attempt, error)

	// ListAttempts returns all attempts sorted by creation time ascending.
	ListAttempts() ([]*Attempt, error)

	// Close cleanly shuts down the journal. Idempotent.
	Close() error

	// HealthCheck verifies the journal is operational.
	HealthCheck() error
}

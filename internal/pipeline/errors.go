package pipeline

import "fmt"

// TierError reports a contained failure of a single ladder tier. The job
// continues with the remaining tiers.
type TierError struct {
	Tier  string
	Stage string
	Err   error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("tier %s %s: %v", e.Tier, e.Stage, e.Err)
}

func (e *TierError) Unwrap() error { return e.Err }

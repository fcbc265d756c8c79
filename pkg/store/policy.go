package store

import "fmt"

// RecoveryPolicy selects what happens when a cache file exists but cannot be
// decoded.
type RecoveryPolicy int

const (
	// RecoveryFail surfaces the ErrCorrupt error to the caller.
	RecoveryFail RecoveryPolicy = iota
	// RecoveryRebuild deletes the corrupt file and treats it as absent.
	RecoveryRebuild
)

func (p RecoveryPolicy) String() string {
	switch p {
	case RecoveryFail:
		return "fail"
	case RecoveryRebuild:
		return "rebuild"
	default:
		return fmt.Sprintf("RecoveryPolicy(%d)", int(p))
	}
}

// ParseRecoveryPolicy accepts "fail" or "rebuild". The empty string selects
// RecoveryFail.
func ParseRecoveryPolicy(s string) (RecoveryPolicy, error) {
	switch s {
	case "", "fail":
		return RecoveryFail, nil
	case "rebuild":
		return RecoveryRebuild, nil
	default:
		return RecoveryFail, fmt.Errorf("unknown recovery policy %q (want fail or rebuild)", s)
	}
}

package proof

import (
	"fmt"
	"time"
)

// MarkerChecker reports whether a Guardian is active for (session, project).
type MarkerChecker interface {
	Exists(session, project string) (bool, error)
}

// Invalidator resets a verified status when the project is mutated outside
// an active Guardian.
type Invalidator struct {
	Proof   Store
	Markers MarkerChecker
	Now     func() time.Time
}

// NewInvalidator returns an Invalidator using the wall clock.
func NewInvalidator(proof Store, markers MarkerChecker) *Invalidator {
	return &Invalidator{Proof: proof, Markers: markers, Now: time.Now}
}

// Invalidate moves verified to pending unless a marker exists for
// (session, project). Pending and needs-verification are left untouched.
// It reports whether the status was reset.
func (inv *Invalidator) Invalidate(session, project string) (bool, error) {
	st, err := inv.Proof.Get(project)
	if err != nil {
		return false, err
	}
	if st.State != StateVerified {
		return false, nil
	}

	active, err := inv.Markers.Exists(session, project)
	if err != nil {
		return false, fmt.Errorf("check guardian marker: %w", err)
	}
	if active {
		return false, nil
	}

	now := time.Now
	if inv.Now != nil {
		now = inv.Now
	}
	if err := inv.Proof.Set(project, Status{State: StatePending, Timestamp: now()}); err != nil {
		return false, err
	}
	return true, nil
}

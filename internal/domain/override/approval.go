package override

import (
	"errors"

	"github.com/zorgflow/carepath/internal/domain/pathway"
)

// RequiresDualApproval reports whether the risk level needs a physician
// sign-off before the override can be published unrestricted.
func RequiresDualApproval(level pathway.RiskLevel) bool {
	return level == pathway.RiskHigh
}

// ErrApproverAuthority indicates the approver's role cannot sign off
// high-risk changes.
var ErrApproverAuthority = errors.New("approver lacks physician authority")

// ErrApprovalNotPending indicates the override has nothing to approve.
var ErrApprovalNotPending = errors.New("override is not pending approval")

// Approve records a qualifying approver on a pending override and clears
// the pending flag.
func Approve(o *LocalOverride, approver string, role pathway.Role) error {
	if !o.PendingApproval {
		return ErrApprovalNotPending
	}
	if !role.HasPhysicianAuthority() {
		return ErrApproverAuthority
	}
	for _, existing := range o.ApprovedBy {
		if existing == approver {
			o.PendingApproval = false
			return nil
		}
	}
	o.ApprovedBy = append(o.ApprovedBy, approver)
	o.PendingApproval = false
	return nil
}

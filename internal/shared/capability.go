package shared

// Role identifies one of the workflow roles.
type Role string

const (
	// RoleVendor originates procurement orders.
	RoleVendor Role = "vendor"
	// RoleDepartmentHead approves or rejects pending orders.
	RoleDepartmentHead Role = "department-head"
	// RolePurchasing converts approved orders into purchases.
	RolePurchasing Role = "purchasing"
	// RoleWarehouse receives deliveries and adjusts stock.
	RoleWarehouse Role = "warehouse"
	// RoleAuditor sets selling prices on pricing vouchers.
	RoleAuditor Role = "auditor"
	// RolePOS issues stock to point-of-sale.
	RolePOS Role = "pos"
)

// ParseRole validates a role string from the transport layer.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleVendor, RoleDepartmentHead, RolePurchasing, RoleWarehouse, RoleAuditor, RolePOS:
		return Role(raw), true
	}
	return "", false
}

// Capability names a guarded workflow action.
type Capability string

const (
	CapSubmitOrder  Capability = "order.submit"
	CapApproveOrder Capability = "order.approve"
	CapRejectOrder  Capability = "order.reject"
	CapProcessOrder Capability = "order.process"
	CapCancelOrder  Capability = "order.cancel"
	CapDeliver      Capability = "purchase.deliver"
	CapSetPrice     Capability = "bon.set-price"
	CapAdjustStock  Capability = "stock.adjust"
	CapIssueToSale  Capability = "stock.issue"
)

// capabilityRoles maps each capability to the roles allowed to exercise it.
var capabilityRoles = map[Capability][]Role{
	CapSubmitOrder:  {RoleVendor},
	CapApproveOrder: {RoleDepartmentHead},
	CapRejectOrder:  {RoleDepartmentHead},
	CapProcessOrder: {RolePurchasing},
	CapCancelOrder:  {RoleDepartmentHead, RolePurchasing},
	CapDeliver:      {RoleWarehouse},
	CapSetPrice:     {RoleAuditor},
	CapAdjustStock:  {RoleWarehouse},
	CapIssueToSale:  {RolePOS},
}

// HasCapability reports whether the role may exercise the capability.
func HasCapability(role Role, cap Capability) bool {
	for _, allowed := range capabilityRoles[cap] {
		if allowed == role {
			return true
		}
	}
	return false
}

// RolesFor returns the roles allowed to exercise the capability.
func RolesFor(cap Capability) []Role {
	allowed := capabilityRoles[cap]
	out := make([]Role, len(allowed))
	copy(out, allowed)
	return out
}

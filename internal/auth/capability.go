package auth

import "github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"

type Action string

const (
	ActionPurchase      Action = "purchase"
	ActionReadContent   Action = "read_content"
	ActionManageCatalog Action = "manage_catalog"
	ActionViewAllOrders Action = "view_all_orders"
)

// Capability is an action, optionally scoped to one catalog item.
type Capability struct {
	Action Action
	ItemID string
}

var (
	Purchase      = Capability{Action: ActionPurchase}
	ManageCatalog = Capability{Action: ActionManageCatalog}
	ViewAllOrders = Capability{Action: ActionViewAllOrders}
)

// ReadContent is the capability to retrieve the private content of itemID.
func ReadContent(itemID string) Capability {
	return Capability{Action: ActionReadContent, ItemID: itemID}
}

// rolePermissions lists role-wide grants. Admin holds every action.
var rolePermissions = map[string]map[Action]bool{
	"admin": {
		ActionPurchase:      true,
		ActionReadContent:   true,
		ActionManageCatalog: true,
		ActionViewAllOrders: true,
	},
	"user": {
		ActionPurchase: true,
	},
}

// Can is the single role/ownership decision used by every handler.
func Can(id *Identity, c Capability) bool {
	if id == nil {
		return false
	}
	if rolePermissions[id.Role][c.Action] {
		return true
	}
	if c.Action == ActionReadContent && c.ItemID != "" {
		return id.Owns(c.ItemID)
	}
	return false
}

// Authorize returns nil when allowed, an Auth error for anonymous callers and
// a Forbidden error otherwise.
func Authorize(id *Identity, c Capability) error {
	if id == nil {
		return apperr.New(apperr.Auth, "Not authorized: missing token")
	}
	if Can(id, c) {
		return nil
	}
	switch c.Action {
	case ActionReadContent:
		return apperr.New(apperr.Forbidden, "You have not purchased this book")
	case ActionManageCatalog, ActionViewAllOrders:
		return apperr.New(apperr.Forbidden, "Forbidden: admin access required")
	}
	return apperr.New(apperr.Forbidden, "Forbidden")
}

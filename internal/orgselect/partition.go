package orgselect

import "github.com/JakeFAU/brand-dashboard/internal/store"

// View groups organizations for display.
type View struct {
	Owned  []store.MemberOrganization
	Shared []store.MemberOrganization
	// All is populated only when Owned and Shared are both empty but the
	// caller still has organizations.
	All []store.MemberOrganization
}

// Partition splits orgs by the caller's role. An active organization missing
// from both groups is appended to Owned so it is always selectable.
func Partition(orgs []store.MemberOrganization, active *store.MemberOrganization) View {
	var view View
	if len(orgs) == 0 {
		return view
	}
	for _, org := range orgs {
		switch {
		case org.Role == store.RoleOwner:
			view.Owned = append(view.Owned, org)
		case org.Role != "":
			view.Shared = append(view.Shared, org)
		}
	}
	if active != nil && !contains(view.Owned, active.ID) && !contains(view.Shared, active.ID) {
		view.Owned = append(view.Owned, *active)
	}
	if len(view.Owned) == 0 && len(view.Shared) == 0 {
		view.All = append([]store.MemberOrganization(nil), orgs...)
	}
	return view
}

func contains(orgs []store.MemberOrganization, id string) bool {
	for _, org := range orgs {
		if org.ID == id {
			return true
		}
	}
	return false
}

package services

type Capability string

const (
	CapCancelSession  Capability = "cancel_session"
	CapBlockUser      Capability = "block_user"
	CapManageContent  Capability = "manage_content"
	CapGrantStars     Capability = "grant_stars"
	CapViewAllHistory Capability = "view_all_history"
)

var adminCapabilities = []Capability{CapCancelSession, CapBlockUser, CapManageContent, CapViewAllHistory}

// Capabilities is built once at startup and never changes afterwards, so it
// is read without locking.
type Capabilities struct {
	grants map[string]map[Capability]bool
}

// NewCapabilities gives admins the moderation capabilities and super admins
// every capability.
func NewCapabilities(adminIDs, superAdminIDs []string) *Capabilities {
	c := &Capabilities{grants: make(map[string]map[Capability]bool)}
	for _, id := range adminIDs {
		c.grant(id, adminCapabilities...)
	}
	for _, id := range superAdminIDs {
		c.grant(id, append(adminCapabilities, CapGrantStars)...)
	}
	return c
}

func (c *Capabilities) grant(userID string, caps ...Capability) {
	if userID == "" {
		return
	}
	set, ok := c.grants[userID]
	if !ok {
		set = make(map[Capability]bool)
		c.grants[userID] = set
	}
	for _, c := range caps {
		set[c] = true
	}
}

func (c *Capabilities) HasCapability(userID string, capability Capability) bool {
	if c == nil {
		return false
	}
	return c.grants[userID][capability]
}

func (c *Capabilities) IsAdmin(userID string) bool {
	return c.HasCapability(userID, CapCancelSession)
}

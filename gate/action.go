package gate

// Action is the verb half of a permission.
type Action string

const (
	ActionView     Action = "view"
	ActionList     Action = "list"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionModerate Action = "moderate"
	ActionReply    Action = "reply"
	ActionExport   Action = "export"
	ActionEngage   Action = "engage"
)

// Resource types known to the platform.
const (
	ResourceEstablishment = "establishment"
	ResourceDeal          = "deal"
	ResourceConversation  = "conversation"
	ResourceAnalytics     = "analytics"
	ResourceNewsletter    = "newsletter"
	ResourceWaitlist      = "waitlist"
	ResourceUser          = "user"
	ResourceRole          = "role"
	ResourceDashboard     = "dashboard"
	ResourceFavorite      = "favorite"
)

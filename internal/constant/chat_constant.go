package constant

const (
	ChatMessageRoleUser   = "user"
	ChatMessageRoleModel  = "model"
	ChatMessageRoleSystem = "system"

	// Default session title before the first exchange names it.
	ChatSessionDefaultTitle = "New conversation"
)

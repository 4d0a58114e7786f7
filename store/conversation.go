package store

// TitleSource indicates how the conversation title was created.
// - "default": system default (truncated first message)
// - "auto": generated from conversation content
// - "user": user-provided title
type TitleSource string

const (
	TitleSourceDefault TitleSource = "default"
	TitleSourceAuto    TitleSource = "auto"
	TitleSourceUser    TitleSource = "user"
)

// ChatRole is the author of a chat turn.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleSystem    ChatRole = "system"
)

type Conversation struct {
	ID            string
	UserID        string
	Title         string
	TitleSource   TitleSource
	Context       string // JSON: rolling summary and workflow context
	IsActive      bool
	LastMessageTs int64
	CreatedTs     int64
	UpdatedTs     int64
}

type FindConversation struct {
	ID       *string
	UserID   *string
	IsActive *bool
	Limit    *int
	Offset   *int
}

type UpdateConversation struct {
	Title         *string
	TitleSource   *TitleSource
	Context       *string
	IsActive      *bool
	LastMessageTs *int64
	UpdatedTs     *int64
	ID            string
}

type DeleteConversation struct {
	ID string
}

// ChatTurn is one persisted message. Ts is when the turn happened; CreatedTs
// is when the row was written.
type ChatTurn struct {
	ID             int64
	ConversationID string
	Role           ChatRole
	Content        string
	Metadata       string // JSON: action, confidence, workflow hints
	Ts             int64
	CreatedTs      int64
}

type FindChatTurn struct {
	ConversationID *string
	Role           *ChatRole
	Limit          *int
	Offset         *int
	// Descending returns newest turns first; used to fill the turn cache.
	Descending bool
}

package usecase

// Level grades a notification for display.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notification is a transient, user-visible message about a failure or an
// outcome that is not part of any transcript.
type Notification struct {
	Level          Level
	Code           ErrorCode
	ConversationID string
	Err            error
}

// Presenter is the display side consumed by Workspace. Implementations must
// not call back into Workspace synchronously.
type Presenter interface {
	Notify(n Notification)
	// ShowPreview opens or closes the contract preview for conversationID.
	ShowPreview(conversationID string, visible bool)
}

type nopPresenter struct{}

func (nopPresenter) Notify(Notification)       {}
func (nopPresenter) ShowPreview(string, bool) {}

package api

import (
	"errors"
	"time"

	"chatdesk/internal/chat"
	"chatdesk/pkg/types"
)

// RoomView is a directory entry with the display fields a sidebar needs.
type RoomView struct {
	types.Room
	DisplayName string `json:"displayName"`
	Unread      bool   `json:"unread"`
	Selected    bool   `json:"selected"`
	TimeLabel   string `json:"timeLabel,omitempty"`
}

// DirectoryView mirrors types.ChatList.
type DirectoryView struct {
	Ongoing  []RoomView `json:"ongoing"`
	Awaiting []RoomView `json:"awaiting"`
}

// MessageView is a log entry shaped for a bubble list.
type MessageView struct {
	types.Message
	SenderName string        `json:"senderName"`
	Avatar     *types.Avatar `json:"avatar,omitempty"`
	IsSent     bool          `json:"isSent"`
	TimeLabel  string        `json:"timeLabel"`
}

// LogView is the selected room and its message log.
type LogView struct {
	SelectedRoomID string        `json:"selectedRoomId"`
	State          string        `json:"state"`
	Error          string        `json:"error,omitempty"`
	Messages       []MessageView `json:"messages"`
}

func (s *Server) directoryView() DirectoryView {
	list := s.session.Rooms()
	selected := s.session.Selected()
	now := s.now()

	convert := func(rooms []types.Room) []RoomView {
		out := make([]RoomView, 0, len(rooms))
		for _, r := range rooms {
			v := RoomView{
				Room:        r,
				DisplayName: r.OtherParticipant.DisplayName(),
				Unread:      r.Unread(),
				Selected:    r.RoomID == selected,
			}
			if r.LastMessage != nil {
				v.TimeLabel = TimeLabel(r.LastMessage.Timestamp, now)
			}
			out = append(out, v)
		}
		return out
	}

	return DirectoryView{Ongoing: convert(list.Ongoing), Awaiting: convert(list.Awaiting)}
}

func (s *Server) logView() LogView {
	state, lastErr := s.session.State()
	selfID, now := s.selfID(), s.now()

	messages := s.session.Messages()
	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, s.messageView(m, selfID, now))
	}

	v := LogView{
		SelectedRoomID: s.session.Selected(),
		State:          string(state),
		Messages:       views,
	}
	if lastErr != nil {
		v.Error = lastErr.Error()
	}
	return v
}

func (s *Server) messageView(m types.Message, selfID string, now time.Time) MessageView {
	return MessageView{
		Message:    m,
		SenderName: m.SenderName(),
		Avatar:     m.SenderAvatar(),
		IsSent:     IsSent(m, selfID),
		TimeLabel:  TimeLabel(m.Timestamp, now),
	}
}

// IsSent reports whether m belongs on the agent's side of the conversation.
// With a known agent id only the agent's own messages count; otherwise
// everything not written by the customer does.
func IsSent(m types.Message, selfID string) bool {
	if selfID != "" {
		return m.SenderID == selfID
	}
	return m.SenderType != types.SenderCustomer
}

// TimeLabel renders ts relative to now: "Today, 15:04", "Yesterday, 15:04"
// or "2006-01-02, 15:04". Days are counted as whole 24h periods elapsed.
func TimeLabel(ts, now time.Time) string {
	if ts.IsZero() {
		return ""
	}
	local := ts.In(now.Location())
	clock := local.Format("15:04")

	switch days := int(now.Sub(ts) / (24 * time.Hour)); days {
	case 0:
		return "Today, " + clock
	case 1:
		return "Yesterday, " + clock
	default:
		return local.Format("2006-01-02") + ", " + clock
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, chat.ErrRequestTimeout)
}

// isValidation reports whether the server returned a payload the client rejected.
func isValidation(err error) bool {
	for _, target := range []error{
		types.ErrMissingMessageID,
		types.ErrMissingRoomID,
		types.ErrInvalidSenderType,
		types.ErrInvalidMessageType,
		types.ErrSenderDetailMismatch,
		types.ErrOverlappingPartition,
		types.ErrForeignHistoryMessage,
		chat.ErrEmptyReply,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

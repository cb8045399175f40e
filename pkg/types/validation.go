package types

import "fmt"

// IsValidSenderType checks the sender type against the four known actors.
func IsValidSenderType(t SenderType) bool {
	switch t {
	case SenderCustomer, SenderDriver, SenderRestaurant, SenderCustomerCare:
		return true
	default:
		return false
	}
}

// IsValidMessageType checks if the message type is one of the allowed types
func IsValidMessageType(t MessageType) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeOrderInfo:
		return true
	default:
		return false
	}
}

// Validate ensures the message satisfies the sender-detail invariant.
// FUNCTIONAL DISCOVERY: Summaries embedded as a room's lastMessage carry no
// sender detail at all, so zero populated details is accepted; more than one,
// or one that disagrees with SenderType, is not
func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrMissingMessageID
	}
	if m.RoomID == "" {
		return ErrMissingRoomID
	}
	if !IsValidSenderType(m.SenderType) {
		return fmt.Errorf("%w: %q", ErrInvalidSenderType, m.SenderType)
	}
	if m.MessageType == "" {
		m.MessageType = MessageTypeText
	}
	if !IsValidMessageType(m.MessageType) {
		return fmt.Errorf("%w: %q", ErrInvalidMessageType, m.MessageType)
	}

	populated := 0
	var detailType SenderType
	if m.CustomerSender != nil {
		populated++
		detailType = SenderCustomer
	}
	if m.DriverSender != nil {
		populated++
		detailType = SenderDriver
	}
	if m.RestaurantSender != nil {
		populated++
		detailType = SenderRestaurant
	}
	if m.CustomerCareSender != nil {
		populated++
		detailType = SenderCustomerCare
	}

	if populated > 1 {
		return fmt.Errorf("%w: %d details populated", ErrSenderDetailMismatch, populated)
	}
	if populated == 1 && detailType != m.SenderType {
		return fmt.Errorf("%w: %s detail on %s message", ErrSenderDetailMismatch, detailType, m.SenderType)
	}
	return nil
}

// Validate ensures ongoing and awaiting are disjoint by room id.
func (l *ChatList) Validate() error {
	seen := make(map[string]struct{}, len(l.Ongoing))
	for _, r := range l.Ongoing {
		if r.RoomID == "" {
			return ErrMissingRoomID
		}
		seen[r.RoomID] = struct{}{}
	}
	for _, r := range l.Awaiting {
		if r.RoomID == "" {
			return ErrMissingRoomID
		}
		if _, dup := seen[r.RoomID]; dup {
			return fmt.Errorf("%w: %s", ErrOverlappingPartition, r.RoomID)
		}
	}
	return nil
}

// Validate ensures every message in the history belongs to roomID.
func (h *ChatHistory) Validate(roomID string) error {
	if h.RoomID != "" && h.RoomID != roomID {
		return fmt.Errorf("%w: history for %s, requested %s", ErrForeignHistoryMessage, h.RoomID, roomID)
	}
	for i := range h.Messages {
		if h.Messages[i].RoomID != roomID {
			return fmt.Errorf("%w: message %s in %s", ErrForeignHistoryMessage, h.Messages[i].ID, h.Messages[i].RoomID)
		}
		if err := h.Messages[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FindRoom returns the room with the given id from either partition.
func (l *ChatList) FindRoom(roomID string) (*Room, bool) {
	for i := range l.Ongoing {
		if l.Ongoing[i].RoomID == roomID {
			return &l.Ongoing[i], true
		}
	}
	for i := range l.Awaiting {
		if l.Awaiting[i].RoomID == roomID {
			return &l.Awaiting[i], true
		}
	}
	return nil, false
}

package types

import (
	"time"
)

// SenderType identifies which kind of actor produced a message.
type SenderType string

// ARCHITECTURAL DISCOVERY: Sender types are spelled exactly as the chat server
// emits them so they can be compared against raw payloads without mapping
const (
	SenderCustomer     SenderType = "CUSTOMER"
	SenderDriver       SenderType = "DRIVER"
	SenderRestaurant   SenderType = "RESTAURANT"
	SenderCustomerCare SenderType = "CUSTOMER_CARE_REPRESENTATIVE"
)

// MessageType is the payload kind of a chat message.
type MessageType string

const (
	MessageTypeText      MessageType = "TEXT"
	MessageTypeImage     MessageType = "IMAGE"
	MessageTypeVideo     MessageType = "VIDEO"
	MessageTypeOrderInfo MessageType = "ORDER_INFO"
)

// Event names of the /chat namespace.
const (
	EventGetAllChats    = "getAllChats"
	EventGetChatHistory = "getChatHistory"
	EventChatHistory    = "chatHistory"
	EventSendMessage    = "sendMessage"
	EventNewMessage     = "newMessage"
)

// Avatar is an uploaded profile image reference.
type Avatar struct {
	URL string `json:"url" mapstructure:"url"`
	Key string `json:"key" mapstructure:"key"`
}

// Participant is the non-agent side of a room.
// FUNCTIONAL DISCOVERY: Only userId and userType are guaranteed; profile fields
// appear when the server enriches the room list
type Participant struct {
	UserID         string  `json:"userId" mapstructure:"userId"`
	UserType       string  `json:"userType" mapstructure:"userType"`
	FirstName      string  `json:"first_name,omitempty" mapstructure:"first_name"`
	LastName       string  `json:"last_name,omitempty" mapstructure:"last_name"`
	RestaurantName string  `json:"restaurant_name,omitempty" mapstructure:"restaurant_name"`
	Avatar         *Avatar `json:"avatar,omitempty" mapstructure:"avatar"`
}

// Room is a conversation thread between the agent and one other participant.
type Room struct {
	RoomID           string      `json:"roomId" mapstructure:"roomId"`
	Type             string      `json:"type" mapstructure:"type"`
	OtherParticipant Participant `json:"otherParticipant" mapstructure:"otherParticipant"`
	LastMessage      *Message    `json:"lastMessage,omitempty" mapstructure:"lastMessage"`
	LastActivity     time.Time   `json:"lastActivity" mapstructure:"lastActivity"`
	RelatedID        *string     `json:"relatedId" mapstructure:"relatedId"`
}

// ChatList is the server-owned partition of rooms.
// ARCHITECTURAL DISCOVERY: Ongoing and Awaiting are replaced wholesale on every
// directory refresh; the client never moves a room between them
type ChatList struct {
	Ongoing  []Room `json:"ongoing" mapstructure:"ongoing"`
	Awaiting []Room `json:"awaiting" mapstructure:"awaiting"`
}

// PersonSender is the populated profile of a customer, driver or agent sender.
type PersonSender struct {
	ID        string  `json:"id" mapstructure:"id"`
	FirstName string  `json:"first_name" mapstructure:"first_name"`
	LastName  string  `json:"last_name" mapstructure:"last_name"`
	Avatar    *Avatar `json:"avatar" mapstructure:"avatar"`
}

// RestaurantSender is the populated profile of a restaurant sender.
type RestaurantSender struct {
	ID             string  `json:"id" mapstructure:"id"`
	RestaurantName string  `json:"restaurant_name" mapstructure:"restaurant_name"`
	Avatar         *Avatar `json:"avatar" mapstructure:"avatar"`
}

// Message is a single chat message as persisted by the server.
// FUNCTIONAL DISCOVERY: At most one of the four sender-detail pointers is set
// and it always matches SenderType
type Message struct {
	ID                 string            `json:"id" mapstructure:"id"`
	RoomID             string            `json:"roomId" mapstructure:"roomId"`
	SenderID           string            `json:"senderId" mapstructure:"senderId"`
	SenderType         SenderType        `json:"senderType" mapstructure:"senderType"`
	Content            string            `json:"content" mapstructure:"content"`
	MessageType        MessageType       `json:"messageType" mapstructure:"messageType"`
	Timestamp          time.Time         `json:"timestamp" mapstructure:"timestamp"`
	ReadBy             []string          `json:"readBy" mapstructure:"readBy"`
	CustomerSender     *PersonSender     `json:"customerSender" mapstructure:"customerSender"`
	DriverSender       *PersonSender     `json:"driverSender" mapstructure:"driverSender"`
	RestaurantSender   *RestaurantSender `json:"restaurantSender" mapstructure:"restaurantSender"`
	CustomerCareSender *PersonSender     `json:"customerCareSender" mapstructure:"customerCareSender"`
}

// ChatHistory is the payload of a pushed chatHistory event.
// RequestID is only present when the server echoes the correlation id.
type ChatHistory struct {
	RoomID    string    `json:"roomId" mapstructure:"roomId"`
	RequestID string    `json:"requestId,omitempty" mapstructure:"requestId"`
	Messages  []Message `json:"messages" mapstructure:"messages"`
}

// HistoryRequest is the getChatHistory payload.
type HistoryRequest struct {
	RoomID    string `json:"roomId"`
	RequestID string `json:"requestId,omitempty"`
}

// SendRequest is the sendMessage payload.
type SendRequest struct {
	RoomID  string      `json:"roomId"`
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
}

// SenderName returns a display name taken from whichever sender detail is populated.
func (m *Message) SenderName() string {
	if m.RestaurantSender != nil {
		return m.RestaurantSender.RestaurantName
	}
	for _, p := range []*PersonSender{m.CustomerSender, m.DriverSender, m.CustomerCareSender} {
		if p != nil {
			return joinName(p.FirstName, p.LastName)
		}
	}
	return string(m.SenderType)
}

// SenderAvatar returns the avatar of the populated sender detail, if any.
func (m *Message) SenderAvatar() *Avatar {
	switch {
	case m.CustomerSender != nil:
		return m.CustomerSender.Avatar
	case m.DriverSender != nil:
		return m.DriverSender.Avatar
	case m.RestaurantSender != nil:
		return m.RestaurantSender.Avatar
	case m.CustomerCareSender != nil:
		return m.CustomerCareSender.Avatar
	}
	return nil
}

// DisplayName returns the best available label for the participant.
func (p Participant) DisplayName() string {
	if p.RestaurantName != "" {
		return p.RestaurantName
	}
	if name := joinName(p.FirstName, p.LastName); name != "" {
		return name
	}
	return p.UserType
}

// Unread reports whether the room's last message has been read by a single participant only.
func (r Room) Unread() bool {
	return r.LastMessage != nil && len(r.LastMessage.ReadBy) == 1
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}

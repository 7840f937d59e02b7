package protocol

import (
	"encoding/json"

	"PetChat/tools/errs"
)

// Kind is the envelope type discriminator carried in the "type" field.
type Kind string

const (
	KindRegister          Kind = "register"
	KindUserJoined        Kind = "user_joined"
	KindUserLeft          Kind = "user_left"
	KindOnlineUsers       Kind = "online_users"
	KindChatMessage       Kind = "chat_message"
	KindTypingStatus      Kind = "typing_status"
	KindAIAnalysisRequest Kind = "ai_analysis_request"
	KindAISuggestion      Kind = "ai_suggestion"
	KindAIEmotion         Kind = "ai_emotion"
	KindAIMemory          Kind = "ai_memory"
	KindPing              Kind = "ping"
	KindPong              Kind = "pong"

	// Relay-only envelopes.
	KindRelayRegister Kind = "relay_register"
	KindRelayAck      Kind = "relay_ack"
	KindRelayError    Kind = "relay_error"
)

// TargetPublic addresses a chat_message to every session except the sender.
const TargetPublic = "public"

// Envelope is any decoded wire message.
type Envelope interface {
	Kind() Kind
}

// UserInfo describes one online user inside an online_users envelope.
type UserInfo struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Avatar   string `json:"avatar"`
}

// ContextMessage is one entry of a client-supplied context snapshot.
type ContextMessage struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// MemoryItem is one extracted memory.
type MemoryItem struct {
	Content  string `json:"content"`
	Category string `json:"category"`
}

type Register struct {
	Type     Kind   `json:"type"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Avatar   string `json:"avatar"`
}

func (Register) Kind() Kind { return KindRegister }

func NewRegister(userID, userName, avatar string) *Register {
	return &Register{Type: KindRegister, UserID: userID, UserName: userName, Avatar: avatar}
}

type UserJoined struct {
	Type     Kind   `json:"type"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Avatar   string `json:"avatar"`
}

func (UserJoined) Kind() Kind { return KindUserJoined }

func NewUserJoined(userID, userName, avatar string) *UserJoined {
	return &UserJoined{Type: KindUserJoined, UserID: userID, UserName: userName, Avatar: avatar}
}

type UserLeft struct {
	Type   Kind   `json:"type"`
	UserID string `json:"user_id"`
}

func (UserLeft) Kind() Kind { return KindUserLeft }

func NewUserLeft(userID string) *UserLeft {
	return &UserLeft{Type: KindUserLeft, UserID: userID}
}

type OnlineUsers struct {
	Type  Kind       `json:"type"`
	Users []UserInfo `json:"users"`
}

func (OnlineUsers) Kind() Kind { return KindOnlineUsers }

func NewOnlineUsers(users []UserInfo) *OnlineUsers {
	return &OnlineUsers{Type: KindOnlineUsers, Users: users}
}

type ChatMessage struct {
	Type         Kind   `json:"type"`
	SenderID     string `json:"sender_id"`
	SenderName   string `json:"sender_name"`
	SenderAvatar string `json:"sender_avatar"`
	Target       string `json:"target"`
	Content      string `json:"content"`
}

func (ChatMessage) Kind() Kind { return KindChatMessage }

type TypingStatus struct {
	Type       Kind   `json:"type"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	IsTyping   bool   `json:"is_typing"`
}

func (TypingStatus) Kind() Kind { return KindTypingStatus }

type AIAnalysisRequest struct {
	Type            Kind             `json:"type"`
	ConversationID  string           `json:"conversation_id"`
	SenderID        string           `json:"sender_id"`
	SenderName      string           `json:"sender_name"`
	ContextSnapshot []ContextMessage `json:"context_snapshot"`
}

func (AIAnalysisRequest) Kind() Kind { return KindAIAnalysisRequest }

type AISuggestion struct {
	Type           Kind   `json:"type"`
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	SuggestionType string `json:"suggestion_type"`
}

func (AISuggestion) Kind() Kind { return KindAISuggestion }

type AIEmotion struct {
	Type           Kind               `json:"type"`
	ConversationID string             `json:"conversation_id"`
	Scores         map[string]float64 `json:"scores"`
}

func (AIEmotion) Kind() Kind { return KindAIEmotion }

type AIMemory struct {
	Type           Kind         `json:"type"`
	ConversationID string       `json:"conversation_id"`
	Memories       []MemoryItem `json:"memories"`
}

func (AIMemory) Kind() Kind { return KindAIMemory }

type Ping struct {
	Type Kind `json:"type"`
}

func (Ping) Kind() Kind { return KindPing }

func NewPing() *Ping { return &Ping{Type: KindPing} }

type Pong struct {
	Type Kind `json:"type"`
}

func (Pong) Kind() Kind { return KindPong }

func NewPong() *Pong { return &Pong{Type: KindPong} }

type RelayRegister struct {
	Type   Kind   `json:"type"`
	RoomID string `json:"room_id"`
	Role   string `json:"role"`
}

func (RelayRegister) Kind() Kind { return KindRelayRegister }

func NewRelayRegister(roomID, role string) *RelayRegister {
	return &RelayRegister{Type: KindRelayRegister, RoomID: roomID, Role: role}
}

type RelayAck struct {
	Type         Kind   `json:"type"`
	RoomID       string `json:"room_id"`
	Role         string `json:"role"`
	ActiveInRoom int    `json:"active_in_room"`
	ActiveTotal  int    `json:"active_total"`
}

func (RelayAck) Kind() Kind { return KindRelayAck }

type RelayError struct {
	Type    Kind   `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (RelayError) Kind() Kind { return KindRelayError }

// PeekKind extracts only the type discriminator without decoding the rest.
func PeekKind(payload []byte) (Kind, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return "", errs.ErrInvalidPayload
	}
	return head.Type, nil
}

// Decode parses a payload into its typed envelope.
//
// A missing or unrecognized type returns errs.ErrUnknownEnvelope; that is not
// a transport error, routing just drops the frame.
func Decode(payload []byte) (Envelope, error) {
	kind, err := PeekKind(payload)
	if err != nil {
		return nil, err
	}

	var e Envelope
	switch kind {
	case KindRegister:
		e = &Register{}
	case KindUserJoined:
		e = &UserJoined{}
	case KindUserLeft:
		e = &UserLeft{}
	case KindOnlineUsers:
		e = &OnlineUsers{}
	case KindChatMessage:
		e = &ChatMessage{}
	case KindTypingStatus:
		e = &TypingStatus{}
	case KindAIAnalysisRequest:
		e = &AIAnalysisRequest{}
	case KindAISuggestion:
		e = &AISuggestion{}
	case KindAIEmotion:
		e = &AIEmotion{}
	case KindAIMemory:
		e = &AIMemory{}
	case KindPing:
		e = &Ping{}
	case KindPong:
		e = &Pong{}
	case KindRelayRegister:
		e = &RelayRegister{}
	case KindRelayAck:
		e = &RelayAck{}
	case KindRelayError:
		e = &RelayError{}
	default:
		return nil, errs.Wrapf(errs.ErrUnknownEnvelope, "type=%q", kind)
	}

	if err := json.Unmarshal(payload, e); err != nil {
		return nil, errs.ErrInvalidPayload
	}
	return e, nil
}

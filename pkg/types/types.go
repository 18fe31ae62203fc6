package types

import (
	"encoding/json"
	"time"
)

// Inbound event types sent by clients over the websocket
const (
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventCursorMove     = "cursor_move"
	EventModuleChange   = "module_change"
	EventLabAction      = "lab_action"
	EventQuizAction     = "quiz_action"
	EventMoleculeAction = "molecule_action"
)

// Outbound event types pushed to clients
const (
	EventConnected      = "connected"
	EventRoomState      = "room_state"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventCursorUpdate   = "cursor_update"
	EventModuleChanged  = "module_changed"
	EventLabUpdate      = "lab_update"
	EventQuizUpdate     = "quiz_update"
	EventMoleculeUpdate = "molecule_update"
	EventError          = "error"
)

// Quiz action kinds carried inside a quiz_action event and echoed in quiz_update
const (
	QuizActionStart  = "start"
	QuizActionAnswer = "answer"
	QuizActionNext   = "next"
	QuizActionScore  = "score"

	QuizUpdateStart        = "start"
	QuizUpdateUserAnswered = "user_answered"
	QuizUpdateNextQuestion = "next_question"
	QuizUpdateFinished     = "finished"
	QuizUpdateScores       = "scores"
)

// Quiz lifecycle states
const (
	QuizIdle     = "idle"
	QuizActive   = "active"
	QuizFinished = "finished"
)

// DefaultModule is the active module of a freshly created room
const DefaultModule = "lab"

// DefaultDisplayName is used when a join carries no name
const DefaultDisplayName = "Anonymous"

// Document is an opaque structured payload. The coordinator never interprets
// its contents: lab actions, molecule structures, quiz questions and generated
// content all travel as documents.
type Document map[string]any

// Clone returns a deep copy of the document so snapshots never alias room state
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case Document:
		return Document(cloneValue(map[string]any(val)).(map[string]any))
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return val
	}
}

// InboundEnvelope is the frame a client sends. Data is decoded lazily
// according to Type.
type InboundEnvelope struct {
	Type   string          `json:"type"`
	RoomID string          `json:"room_id"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// OutboundEnvelope is the frame pushed to a client
type OutboundEnvelope struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"room_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is a room-scoped outbound message addressed to an explicit
// recipient list. Volatile events may be dropped under backpressure.
type Event struct {
	RoomID     string
	Type       string
	Data       any
	Recipients []string
	Volatile   bool
}

// Envelope converts the event into its wire frame
func (e Event) Envelope(now time.Time) OutboundEnvelope {
	return OutboundEnvelope{
		Type:      e.Type,
		RoomID:    e.RoomID,
		Data:      e.Data,
		Timestamp: now,
	}
}

// Inbound payloads

type JoinData struct {
	Name string `json:"name"`
}

type CursorData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type ModuleData struct {
	Module string `json:"module"`
}

type QuizActionData struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type QuizStartPayload struct {
	Questions []Document `json:"questions"`
}

type QuizAnswerPayload struct {
	QuestionIndex int `json:"question_index"`
	Answer        any `json:"answer"`
}

type QuizScorePayload struct {
	Scores map[string]float64 `json:"scores"`
}

type MoleculeData struct {
	Structure Document `json:"structure"`
}

// Room state as seen by clients

// Cursor is a participant's last known pointer position
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Participant is one connection inside a room. ID is connection-scoped.
type Participant struct {
	ID       string    `json:"sid"`
	Name     string    `json:"name"`
	Color    string    `json:"color"`
	JoinedAt time.Time `json:"joined_at"`
	Cursor   Cursor    `json:"cursor"`
}

// QuizSnapshot is the shareable view of a room's quiz. Answer contents are
// never included; Answered lists who has answered each question.
type QuizSnapshot struct {
	Status          string             `json:"status"`
	Active          bool               `json:"active"`
	CurrentQuestion int                `json:"current_question"`
	Questions       []Document         `json:"questions"`
	Answered        map[int][]string   `json:"answered"`
	Scores          map[string]float64 `json:"scores"`
}

// RoomSnapshot is the full room view sent to a participant on join
type RoomSnapshot struct {
	ID            string                 `json:"room_id"`
	ActiveModule  string                 `json:"active_module"`
	CreatedAt     time.Time              `json:"created_at"`
	Participants  map[string]Participant `json:"users"`
	LabState      Document               `json:"lab_state"`
	QuizState     QuizSnapshot           `json:"quiz_state"`
	MoleculeState Document               `json:"molecule_state"`
}

// Outbound payloads

type UserLeftData struct {
	ParticipantID string `json:"sid"`
}

type CursorUpdateData struct {
	ParticipantID string  `json:"sid"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
}

type ModuleChangedData struct {
	Module string `json:"module"`
	By     string `json:"by"`
}

type MoleculeUpdateData struct {
	Structure Document `json:"structure"`
	By        string   `json:"by"`
}

type QuizUpdateData struct {
	Type          string             `json:"type"`
	State         *QuizSnapshot      `json:"state,omitempty"`
	ParticipantID string             `json:"sid,omitempty"`
	QuestionIndex *int               `json:"question_index,omitempty"`
	Index         *int               `json:"index,omitempty"`
	Scores        map[string]float64 `json:"scores,omitempty"`
}

type ConnectedData struct {
	ParticipantID string `json:"sid"`
}

type ErrorData struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// CacheRecord is one row of the persistent cache tier
type CacheRecord struct {
	Payload   Document  `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

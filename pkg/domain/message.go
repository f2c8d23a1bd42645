package domain

import "encoding/json"

// Role discriminates the Message variants.
type Role string

const (
	RoleSystem       Role = "system"
	RoleHuman        Role = "human"
	RoleAssistant    Role = "assistant"
	RoleActionResult Role = "action_result"
)

// ActionCall is a single action proposed by the model.
// ID correlates the proposal to its eventual ActionResultMessage.
type ActionCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Message is a tagged union discriminated by Role.
//
// Fields that do not belong to a variant are left zero:
//   - system, human: Text
//   - assistant: ID, Text, ActionCalls
//   - action_result: Text, ActionName, ActionCallID
type Message struct {
	Role         Role         `json:"role"`
	ID           string       `json:"id,omitempty"`
	Text         string       `json:"text,omitempty"`
	ActionCalls  []ActionCall `json:"action_calls,omitempty"`
	ActionName   string       `json:"action_name,omitempty"`
	ActionCallID string       `json:"action_call_id,omitempty"`
}

// SystemMessage builds a system message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Text: text}
}

// HumanMessage builds a human message.
func HumanMessage(text string) Message {
	return Message{Role: RoleHuman, Text: text}
}

// AssistantMessage builds a model response proposing zero or more actions.
func AssistantMessage(id, text string, calls ...ActionCall) Message {
	return Message{Role: RoleAssistant, ID: id, Text: text, ActionCalls: calls}
}

// ActionResultMessage builds the result of an action call.
func ActionResultMessage(text, actionName, actionCallID string) Message {
	return Message{Role: RoleActionResult, Text: text, ActionName: actionName, ActionCallID: actionCallID}
}

// HasActions reports whether the message is an assistant message proposing actions.
func (m Message) HasActions() bool {
	return m.Role == RoleAssistant && len(m.ActionCalls) > 0
}

// ArgumentsJSON returns the call arguments encoded as a JSON object.
func (c ActionCall) ArgumentsJSON() string {
	if len(c.Arguments) == 0 {
		return "{}"
	}
	b, err := json.Marshal(c.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ActionDescriptor describes a callable action offered to the model.
type ActionDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"` // JSON Schema of the arguments object
}

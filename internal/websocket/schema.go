package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSelect        Action = "select"
	ActionSubmitAnswer  Action = "submit_answer"
	ActionSubmitAttempt Action = "submit_attempt"
	ActionViolation     Action = "violation"
	ActionFullscreen    Action = "fullscreen"
	ActionKeydown       Action = "keydown"
	ActionBlur          Action = "blur"
	ActionPing          Action = "ping"
)

// RequestPayload is the single inbound message shape; unused fields stay
// empty depending on the action.
type RequestPayload struct {
	Action Action `json:"action"`

	// select / submit_answer
	QuestionIndex int    `json:"question_index"`
	Option        string `json:"option,omitempty"`

	// violation
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`

	// fullscreen
	Active bool `json:"active,omitempty"`

	// keydown
	Combo string `json:"combo,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState     Event = "state"
	EventError     Event = "error"
	EventPong      Event = "pong"
	EventSubmitted Event = "submitted"
)

// StatePayload carries the session snapshot plus the fullscreen prompt
// countdown, which lives outside the engine.
type StatePayload struct {
	Event            Event       `json:"event"`
	State            interface{} `json:"state"`
	PromptActive     bool        `json:"prompt_active"`
	PromptRemaining  int         `json:"prompt_remaining"`
	DisturbanceLimit int         `json:"disturbance_limit"`
}

type ErrorPayload struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongPayload struct {
	Event Event `json:"event"`
}

package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ActionType names the browser action a step performs.
type ActionType string

const (
	ActionNone        ActionType = ""
	ActionClick       ActionType = "click"
	ActionInput       ActionType = "type"
	ActionNavigate    ActionType = "navigate"
	ActionWait        ActionType = "wait"
	ActionWaitVisible ActionType = "wait_visible"
	ActionWaitPresent ActionType = "wait_present"
	ActionMoveCursor  ActionType = "move_cursor"
	ActionAssert      ActionType = "assert"
	ActionAcceptAlert ActionType = "accept_alert"
	ActionScreenshot  ActionType = "screenshot"
)

const (
	DefaultStepTimeout = 10
	MaxStepTimeout     = 300
)

var actionLabels = map[ActionType]string{
	ActionNone:        "No action",
	ActionClick:       "Click",
	ActionInput:       "Type",
	ActionNavigate:    "Navigate",
	ActionWait:        "Wait",
	ActionWaitVisible: "Wait Visible",
	ActionWaitPresent: "Wait Present",
	ActionMoveCursor:  "Move Cursor",
	ActionAssert:      "Assert",
	ActionAcceptAlert: "Accept Alert",
	ActionScreenshot:  "Screenshot",
}

// Label returns the human readable name of the action, or the raw value when unknown.
func (a ActionType) Label() string {
	if label, ok := actionLabels[a]; ok {
		return label
	}

	return string(a)
}

// ErrInvalidSettings is returned when step settings do not satisfy their action schema.
var ErrInvalidSettings = errors.New("invalid step settings")

// StepSettings holds the action-specific configuration of a step.
type StepSettings struct {
	ActionType ActionType `json:"actionType"`
	Selector   string     `json:"selector,omitempty"`
	URL        string     `json:"url,omitempty"`
	Text       string     `json:"text,omitempty"`
	Timeout    int        `json:"timeout,omitempty"`
	Screenshot bool       `json:"screenshot,omitempty"`
}

// WithDefaults returns a copy with the timeout defaulted.
func (s StepSettings) WithDefaults() StepSettings {
	if s.Timeout <= 0 {
		s.Timeout = DefaultStepTimeout
	}

	return s
}

// stepSettingsSchema encodes which fields each action requires.
var stepSettingsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"actionType": map[string]any{
			"type": "string",
			"enum": []any{"", "click", "type", "navigate", "wait", "wait_visible", "wait_present",
				"move_cursor", "assert", "accept_alert", "screenshot"},
		},
		"selector":   map[string]any{"type": "string"},
		"url":        map[string]any{"type": "string"},
		"text":       map[string]any{"type": "string"},
		"timeout":    map[string]any{"type": "integer", "minimum": 1, "maximum": MaxStepTimeout},
		"screenshot": map[string]any{"type": "boolean"},
	},
	"required": []any{"actionType"},
	"allOf": []any{
		requireWhen([]any{"click", "type", "wait_visible", "wait_present", "move_cursor", "assert"}, "selector"),
		requireWhen([]any{"navigate"}, "url"),
		requireWhen([]any{"type", "assert"}, "text"),
	},
}

// requireWhen encodes "actionType in actions implies field is non-empty".
func requireWhen(actions []any, field string) map[string]any {
	return map[string]any{
		"anyOf": []any{
			map[string]any{
				"properties": map[string]any{"actionType": map[string]any{"not": map[string]any{"enum": actions}}},
			},
			map[string]any{
				"properties": map[string]any{field: map[string]any{"type": "string", "minLength": 1}},
				"required":   []any{field},
			},
		},
	}
}

// ValidateStepSettings checks settings against the action schema.
func ValidateStepSettings(settings StepSettings) error {
	schemaLoader := gojsonschema.NewGoLoader(stepSettingsSchema)
	dataLoader := gojsonschema.NewGoLoader(settings.WithDefaults())

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(messages, "; "))
	}

	return nil
}

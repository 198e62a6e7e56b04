package task

import "strings"

// ActionType identifies one OS-level operation a step can perform.
// The set is closed: ValidateActionParams switches exhaustively and
// rejects anything it does not know.
type ActionType string

const (
	ActionLaunchApp      ActionType = "launch_app"
	ActionCloseApp       ActionType = "close_app"
	ActionResizeWindow   ActionType = "resize_window"
	ActionMoveWindow     ActionType = "move_window"
	ActionMinimizeWindow ActionType = "minimize_window"
	ActionMaximizeWindow ActionType = "maximize_window"
	ActionRestoreWindow  ActionType = "restore_window"
	ActionFocusWindow    ActionType = "focus_window"
	ActionClickElement   ActionType = "click_element"
	ActionTypeText       ActionType = "type_text"
	ActionSendKeys       ActionType = "send_keys"
	ActionCustomCommand  ActionType = "custom_command"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionLaunchApp, ActionCloseApp, ActionResizeWindow, ActionMoveWindow,
		ActionMinimizeWindow, ActionMaximizeWindow, ActionRestoreWindow,
		ActionFocusWindow, ActionClickElement, ActionTypeText,
		ActionSendKeys, ActionCustomCommand:
		return true
	}
	return false
}

// ValidateActionParams reports whether params satisfy the schema for the
// given action type. Unknown action types are invalid; this never panics on
// odd param shapes.
func ValidateActionParams(a ActionType, params map[string]any) bool {
	switch a {
	case ActionLaunchApp, ActionCloseApp,
		ActionMinimizeWindow, ActionMaximizeWindow,
		ActionRestoreWindow, ActionFocusWindow:
		return hasString(params, "app_name")

	case ActionResizeWindow:
		w, okW := intParam(params, "width")
		h, okH := intParam(params, "height")
		return hasString(params, "app_name") && okW && okH && w > 0 && h > 0

	case ActionMoveWindow, ActionClickElement:
		x, okX := intParam(params, "x")
		y, okY := intParam(params, "y")
		return hasString(params, "app_name") && okX && okY && x >= 0 && y >= 0

	case ActionTypeText:
		x, okX := intParam(params, "x")
		y, okY := intParam(params, "y")
		_, okText := stringParam(params, "text")
		return hasString(params, "app_name") && okText && okX && okY && x >= 0 && y >= 0

	case ActionSendKeys:
		keys, ok := stringListParam(params, "keys")
		return ok && len(keys) > 0

	case ActionCustomCommand:
		return hasString(params, "command")

	default:
		return false
	}
}

func hasString(params map[string]any, key string) bool {
	s, ok := stringParam(params, key)
	return ok && strings.TrimSpace(s) != ""
}

func stringParam(params map[string]any, key string) (string, bool) {
	if params == nil {
		return "", false
	}
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// intParam accepts Go ints and exact-integer float64 values; JSON decoding
// produces float64 for every number, so 800.0 must count as 800 while 800.5
// must not.
func intParam(params map[string]any, key string) (int, bool) {
	if params == nil {
		return 0, false
	}
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func stringListParam(params map[string]any, key string) ([]string, bool) {
	if params == nil {
		return nil, false
	}
	v, ok := params[key]
	if !ok {
		return nil, false
	}
	switch l := v.(type) {
	case []string:
		return l, true
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

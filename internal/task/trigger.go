package task

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ConditionType identifies a runtime gate checked right before a due task is
// dispatched.
type ConditionType string

const (
	CondWindowTitleContains ConditionType = "window_title_contains"
	CondWindowTitleEquals   ConditionType = "window_title_equals"
	CondWindowExists        ConditionType = "window_exists"
	CondProcessRunning      ConditionType = "process_running"
	CondTimeRange           ConditionType = "time_range"
	CondSystemIdle          ConditionType = "system_idle"
)

// SystemContext is the runtime snapshot triggers are evaluated against.
// It is produced by a SystemContextProvider collaborator; this package only
// reads it.
type SystemContext struct {
	WindowTitles     []string
	RunningApps      []string
	RunningProcesses []string
	CurrentTime      time.Time
	IdleMinutes      int
}

// ConditionalTrigger gates execution of a due task on live system state.
type ConditionalTrigger struct {
	Type    ConditionType
	Value   string
	Enabled bool
}

// Evaluate decides whether the context satisfies the trigger.
//
// A nil or disabled trigger never blocks (returns true). Malformed values and
// unknown condition types evaluate to false: the gate fails closed rather
// than silently passing.
func (c *ConditionalTrigger) Evaluate(sc SystemContext) bool {
	if c == nil || !c.Enabled {
		return true
	}

	switch c.Type {
	case CondWindowTitleContains:
		want := strings.ToLower(c.Value)
		for _, title := range sc.WindowTitles {
			if strings.Contains(strings.ToLower(title), want) {
				return true
			}
		}
		return false

	case CondWindowTitleEquals:
		return containsFold(sc.WindowTitles, c.Value)

	case CondWindowExists:
		return containsFold(sc.RunningApps, c.Value)

	case CondProcessRunning:
		return containsFold(sc.RunningProcesses, c.Value)

	case CondTimeRange:
		return inTimeRange(c.Value, sc.CurrentTime)

	case CondSystemIdle:
		threshold, err := strconv.Atoi(strings.TrimSpace(c.Value))
		if err != nil {
			return false
		}
		return sc.IdleMinutes >= threshold

	default:
		return false
	}
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

// inTimeRange checks value "HH:MM-HH:MM" against now's time of day in
// minutes since midnight. A range whose start is after its end crosses
// midnight: 22:00-06:00 covers late evening and early morning.
func inTimeRange(value string, now time.Time) bool {
	startStr, endStr, ok := strings.Cut(value, "-")
	if !ok {
		return false
	}
	start, err := minutesOfDay(startStr)
	if err != nil {
		return false
	}
	end, err := minutesOfDay(endStr)
	if err != nil {
		return false
	}

	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return start <= cur && cur <= end
	}
	return cur >= start || cur <= end
}

func minutesOfDay(s string) (int, error) {
	hStr, mStr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, strconv.ErrSyntax
	}
	h, err := strconv.Atoi(hStr)
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(mStr)
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

type triggerDoc struct {
	ConditionType  string `json:"condition_type"`
	ConditionValue string `json:"condition_value"`
	Enabled        *bool  `json:"enabled"` // missing means enabled
}

func (c ConditionalTrigger) MarshalJSON() ([]byte, error) {
	en := c.Enabled
	return json.Marshal(triggerDoc{
		ConditionType:  string(c.Type),
		ConditionValue: c.Value,
		Enabled:        &en,
	})
}

func (c *ConditionalTrigger) UnmarshalJSON(b []byte) error {
	var doc triggerDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	out := ConditionalTrigger{
		Type:    ConditionType(doc.ConditionType),
		Value:   doc.ConditionValue,
		Enabled: true,
	}
	if doc.Enabled != nil {
		out.Enabled = *doc.Enabled
	}
	*c = out
	return nil
}

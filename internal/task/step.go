package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionStep is one entry of a task's action sequence. Steps are owned by
// exactly one task and are never shared between tasks.
type ActionStep struct {
	ID              string
	Type            ActionType
	Params          map[string]any
	DelayAfter      time.Duration // pause after a successful run; 0 falls back to the sequence default
	ContinueOnError bool
	Description     string
}

// NewStep builds a step with a fresh id, a 1s post-step delay and
// continue-on-error set.
func NewStep(a ActionType, params map[string]any) ActionStep {
	return ActionStep{
		ID:              uuid.NewString(),
		Type:            a,
		Params:          params,
		DelayAfter:      time.Second,
		ContinueOnError: true,
	}
}

// Validate checks that the step is structurally sound: an id, a known
// action type with matching params, and a non-negative delay.
func (s *ActionStep) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("step id is required")
	}
	if !s.Type.Valid() {
		return fmt.Errorf("unknown action type %q", s.Type)
	}
	if !ValidateActionParams(s.Type, s.Params) {
		return fmt.Errorf("invalid params for %s", s.Type)
	}
	if s.DelayAfter < 0 {
		return errors.New("delay_after must be >= 0")
	}
	return nil
}

// Clone deep-copies the step, including its params map.
func (s ActionStep) Clone() ActionStep {
	cp := s
	if s.Params != nil {
		cp.Params = make(map[string]any, len(s.Params))
		for k, v := range s.Params {
			cp.Params[k] = v
		}
	}
	return cp
}

type stepDoc struct {
	ID              string         `json:"id"`
	ActionType      string         `json:"action_type"`
	ActionParams    map[string]any `json:"action_params"`
	DelayAfter      *float64       `json:"delay_after"`
	ContinueOnError *bool          `json:"continue_on_error"`
	Description     *string        `json:"description"`
}

func (s ActionStep) MarshalJSON() ([]byte, error) {
	delay := s.DelayAfter.Seconds()
	cont := s.ContinueOnError
	doc := stepDoc{
		ID:              s.ID,
		ActionType:      string(s.Type),
		ActionParams:    s.Params,
		DelayAfter:      &delay,
		ContinueOnError: &cont,
	}
	if s.Description != "" {
		d := s.Description
		doc.Description = &d
	}
	return json.Marshal(doc)
}

func (s *ActionStep) UnmarshalJSON(b []byte) error {
	var doc stepDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	out := ActionStep{
		ID:              doc.ID,
		Type:            ActionType(doc.ActionType),
		Params:          doc.ActionParams,
		DelayAfter:      time.Second,
		ContinueOnError: true,
	}
	if doc.DelayAfter != nil {
		out.DelayAfter = durationFromSeconds(*doc.DelayAfter)
	}
	if doc.ContinueOnError != nil {
		out.ContinueOnError = *doc.ContinueOnError
	}
	if doc.Description != nil {
		out.Description = *doc.Description
	}
	*s = out
	return nil
}

// ExecutionOptions controls how a task's whole sequence is run.
type ExecutionOptions struct {
	StopOnFirstError   bool
	DefaultDelay       time.Duration // between-step delay when a step has none
	MaxExecutionTime   time.Duration // whole-sequence deadline; 0 = unlimited
	RetryFailedActions bool
}

// DefaultExecutionOptions mirrors the created-by-hand defaults: keep going on
// errors, 1s between steps, no deadline, no step retry.
func DefaultExecutionOptions() ExecutionOptions {
	return ExecutionOptions{DefaultDelay: time.Second}
}

type optionsDoc struct {
	StopOnFirstError   bool     `json:"stop_on_first_error"`
	DefaultDelay       *float64 `json:"default_delay_between_actions"`
	MaxExecutionTime   *float64 `json:"max_execution_time"`
	RetryFailedActions bool     `json:"retry_failed_actions"`
}

func (o ExecutionOptions) MarshalJSON() ([]byte, error) {
	delay := o.DefaultDelay.Seconds()
	doc := optionsDoc{
		StopOnFirstError:   o.StopOnFirstError,
		DefaultDelay:       &delay,
		RetryFailedActions: o.RetryFailedActions,
	}
	if o.MaxExecutionTime > 0 {
		m := o.MaxExecutionTime.Seconds()
		doc.MaxExecutionTime = &m
	}
	return json.Marshal(doc)
}

func (o *ExecutionOptions) UnmarshalJSON(b []byte) error {
	var doc optionsDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	out := ExecutionOptions{
		StopOnFirstError:   doc.StopOnFirstError,
		DefaultDelay:       time.Second,
		RetryFailedActions: doc.RetryFailedActions,
	}
	if doc.DefaultDelay != nil {
		out.DefaultDelay = durationFromSeconds(*doc.DefaultDelay)
	}
	if doc.MaxExecutionTime != nil {
		out.MaxExecutionTime = durationFromSeconds(*doc.MaxExecutionTime)
	}
	*o = out
	return nil
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

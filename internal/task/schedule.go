package task

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleType selects the recurrence rule of a schedule.
type ScheduleType string

const (
	ScheduleOnce   ScheduleType = "once"
	ScheduleDaily  ScheduleType = "daily"
	ScheduleWeekly ScheduleType = "weekly"
	ScheduleCustom ScheduleType = "custom"
	ScheduleCron   ScheduleType = "cron"
)

func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleOnce, ScheduleDaily, ScheduleWeekly, ScheduleCustom, ScheduleCron:
		return true
	}
	return false
}

// Schedule describes when a task fires.
//
// StartTime is inclusive: a computed candidate may equal it. EndTime is an
// exclusive-beyond bound: candidates strictly past it are rejected, but a
// candidate exactly at EndTime still fires.
type Schedule struct {
	Type      ScheduleType
	StartTime time.Time
	EndTime   *time.Time

	// Interval drives ScheduleCustom; ignored elsewhere.
	Interval time.Duration

	// DaysOfWeek drives ScheduleWeekly: 0=Monday .. 6=Sunday.
	DaysOfWeek []int

	// CronExpr drives ScheduleCron: a standard 5-field cron expression.
	CronExpr string

	RepeatEnabled bool
	Trigger       *ConditionalTrigger
}

// Validate checks the type-specific requirements. It does not consult the
// clock; a schedule entirely in the past is valid, merely exhausted.
func (s *Schedule) Validate() error {
	if s == nil {
		return errors.New("schedule is required")
	}
	if !s.Type.Valid() {
		return errors.New("unknown schedule type")
	}
	if s.StartTime.IsZero() {
		return errors.New("schedule start_time is required")
	}
	switch s.Type {
	case ScheduleWeekly:
		if len(s.DaysOfWeek) == 0 {
			return errors.New("weekly schedule needs at least one day of week")
		}
		for _, d := range s.DaysOfWeek {
			if d < 0 || d > 6 {
				return errors.New("days_of_week entries must be 0..6")
			}
		}
	case ScheduleCustom:
		if s.Interval <= 0 {
			return errors.New("custom schedule needs a positive interval")
		}
	case ScheduleCron:
		if _, err := cron.ParseStandard(strings.TrimSpace(s.CronExpr)); err != nil {
			return errors.New("invalid cron expression")
		}
	}
	return nil
}

// NextExecution computes the next due time strictly derived from from.
// Nil means the schedule is exhausted (or misconfigured for its type).
//
// Every branch applies the same end-of-window rule on the computed
// candidate, so a rule can never produce a firing past EndTime.
func (s *Schedule) NextExecution(from time.Time) *time.Time {
	if s == nil {
		return nil
	}
	if s.EndTime != nil && !from.Before(*s.EndTime) {
		return nil
	}

	var cand *time.Time
	switch s.Type {
	case ScheduleOnce:
		if from.Before(s.StartTime) {
			t := s.StartTime
			cand = &t
		}
	case ScheduleDaily:
		cand = s.nextDaily(from)
	case ScheduleWeekly:
		cand = s.nextWeekly(from)
	case ScheduleCustom:
		cand = s.nextCustom(from)
	case ScheduleCron:
		cand = s.nextCron(from)
	}

	if cand == nil {
		return nil
	}
	if s.EndTime != nil && cand.After(*s.EndTime) {
		return nil
	}
	return cand
}

func (s *Schedule) nextDaily(from time.Time) *time.Time {
	if from.Before(s.StartTime) {
		t := s.StartTime
		return &t
	}
	// Today at the schedule's time of day, rolled one day forward when that
	// is not strictly after from.
	next := atTimeOfDay(from, s.StartTime)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return &next
}

func (s *Schedule) nextWeekly(from time.Time) *time.Time {
	if len(s.DaysOfWeek) == 0 {
		return nil
	}
	if from.Before(s.StartTime) {
		t := s.StartTime
		return &t
	}
	// Scan forward up to 8 days, today included, looking for the first
	// selected weekday whose firing is strictly after from.
	for ahead := 0; ahead < 8; ahead++ {
		day := from.AddDate(0, 0, ahead)
		if !weekdaySelected(s.DaysOfWeek, day.Weekday()) {
			continue
		}
		next := atTimeOfDay(day, s.StartTime)
		if next.After(from) {
			return &next
		}
	}
	return nil
}

func (s *Schedule) nextCustom(from time.Time) *time.Time {
	if s.Interval <= 0 {
		return nil
	}
	if from.Before(s.StartTime) {
		t := s.StartTime
		return &t
	}
	elapsed := from.Sub(s.StartTime)
	n := elapsed / s.Interval
	next := s.StartTime.Add((n + 1) * s.Interval)
	return &next
}

func (s *Schedule) nextCron(from time.Time) *time.Time {
	sched, err := cron.ParseStandard(strings.TrimSpace(s.CronExpr))
	if err != nil {
		return nil
	}
	base := from
	if base.Before(s.StartTime) {
		// First firing is the earliest cron time at or after StartTime.
		base = s.StartTime.Add(-time.Second)
	}
	next := sched.Next(base)
	if next.IsZero() {
		return nil
	}
	if next.Before(s.StartTime) {
		next = sched.Next(s.StartTime.Add(-time.Second))
		if next.IsZero() {
			return nil
		}
	}
	return &next
}

// atTimeOfDay combines day's calendar date with ref's time of day, in day's
// location.
func atTimeOfDay(day time.Time, ref time.Time) time.Time {
	h, m, sec := ref.Clock()
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, sec, ref.Nanosecond(), day.Location())
}

// weekdaySelected maps Go's Sunday-based weekday onto the stored
// Monday-based 0..6 values.
func weekdaySelected(days []int, wd time.Weekday) bool {
	mondayBased := (int(wd) + 6) % 7
	for _, d := range days {
		if d == mondayBased {
			return true
		}
	}
	return false
}

// IsRecurring reports whether the schedule can fire more than once.
func (s *Schedule) IsRecurring() bool {
	return s != nil && s.Type != ScheduleOnce
}

// Clone deep-copies the schedule.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	cp := *s
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}
	if s.DaysOfWeek != nil {
		cp.DaysOfWeek = append([]int(nil), s.DaysOfWeek...)
	}
	if s.Trigger != nil {
		tr := *s.Trigger
		cp.Trigger = &tr
	}
	return &cp
}

type scheduleDoc struct {
	ScheduleType  string              `json:"schedule_type"`
	StartTime     string              `json:"start_time"`
	EndTime       *string             `json:"end_time"`
	Interval      *float64            `json:"interval"`
	DaysOfWeek    []int               `json:"days_of_week"`
	CronExpr      string              `json:"cron_expr,omitempty"`
	RepeatEnabled bool                `json:"repeat_enabled"`
	Trigger       *ConditionalTrigger `json:"conditional_trigger"`
}

func (s Schedule) MarshalJSON() ([]byte, error) {
	doc := scheduleDoc{
		ScheduleType:  string(s.Type),
		StartTime:     s.StartTime.Format(time.RFC3339Nano),
		DaysOfWeek:    s.DaysOfWeek,
		CronExpr:      s.CronExpr,
		RepeatEnabled: s.RepeatEnabled,
		Trigger:       s.Trigger,
	}
	if s.EndTime != nil {
		e := s.EndTime.Format(time.RFC3339Nano)
		doc.EndTime = &e
	}
	if s.Interval > 0 {
		iv := s.Interval.Seconds()
		doc.Interval = &iv
	}
	return json.Marshal(doc)
}

func (s *Schedule) UnmarshalJSON(b []byte) error {
	var doc scheduleDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	start, err := time.Parse(time.RFC3339Nano, doc.StartTime)
	if err != nil {
		return err
	}
	out := Schedule{
		Type:          ScheduleType(doc.ScheduleType),
		StartTime:     start,
		DaysOfWeek:    doc.DaysOfWeek,
		CronExpr:      doc.CronExpr,
		RepeatEnabled: doc.RepeatEnabled,
		Trigger:       doc.Trigger,
	}
	if doc.EndTime != nil {
		end, err := time.Parse(time.RFC3339Nano, *doc.EndTime)
		if err != nil {
			return err
		}
		out.EndTime = &end
	}
	if doc.Interval != nil {
		out.Interval = durationFromSeconds(*doc.Interval)
	}
	*s = out
	return nil
}

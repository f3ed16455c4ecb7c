// Package lifecycle defines the valid post states and the transitions between them.
//
// pending  -> approved   manual approval, or the sweeper once scheduled_for elapses
// approved -> published  asserted by an external system, never performed on delivery
//
// Deletion is allowed from every state and is not modelled as a transition.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"
)

var (
	// ErrInvalidTransition is returned for any transition not in the table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotEditable is returned when a non-pending post is edited or scheduled.
	ErrNotEditable = errors.New("only pending posts can be changed")
	// ErrScheduleInPast is returned when a schedule is not strictly in the future.
	ErrScheduleInPast = errors.New("scheduled time must be in the future")
	// ErrUnknownStatus is returned by ParseStatus.
	ErrUnknownStatus = errors.New("unknown post status")
)

var transitions = map[models.PostStatus][]models.PostStatus{
	models.PostStatusPending:  {models.PostStatusApproved},
	models.PostStatusApproved: {models.PostStatusPublished},
}

// TransitionError describes a rejected transition.
type TransitionError struct {
	From models.PostStatus
	To   models.PostStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move post from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to models.PostStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate returns a *TransitionError when from -> to is not allowed.
func Validate(from, to models.PostStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// CanEdit reports whether content, images or schedule may still change.
func CanEdit(status models.PostStatus) bool {
	return status == models.PostStatusPending
}

// ValidateSchedule checks that a post in status may be scheduled at the given time.
func ValidateSchedule(status models.PostStatus, at, now time.Time) error {
	if !CanEdit(status) {
		return ErrNotEditable
	}
	if !at.After(now) {
		return ErrScheduleInPast
	}
	return nil
}

// IsDue reports whether the sweeper should promote the post at now.
func IsDue(p *models.Post, now time.Time) bool {
	if p == nil || p.Status != models.PostStatusPending || p.ScheduledFor == nil {
		return false
	}
	return !p.ScheduledFor.After(now)
}

// TriggersDelivery reports whether a change from old to updated makes the post
// eligible for webhook delivery. old is nil for inserts.
func TriggersDelivery(old, updated *models.Post) bool {
	if updated == nil || updated.Status != models.PostStatusApproved {
		return false
	}
	return old == nil || old.Status == models.PostStatusPending
}

// ParseStatus converts user input into a PostStatus.
func ParseStatus(s string) (models.PostStatus, error) {
	switch st := models.PostStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case models.PostStatusPending, models.PostStatusApproved, models.PostStatusPublished:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

package service

import (
	"time"

	"github.com/prepline/examd/internal/model"
)

// The timer engine works on checkpoints, not ticks. Each attempt stores a
// remaining-seconds map plus the instant it was last reconciled; the truth at
// any moment is remaining - (now - checkpoint) for the active section,
// clamped at zero. A paused attempt has no live section, so elapsed wall time
// never touches it and the stored map is already exact.

// RemainingSeconds recomputes one section's remaining time at now.
func RemainingSeconds(stored int, checkpoint, now time.Time) int {
	elapsed := int(now.Sub(checkpoint).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := stored - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecomputeRemaining returns the authoritative timer map for an attempt at
// now. Only the current section of a running attempt decays; inactive and
// locked sections keep their stored values, and any other status returns the
// map frozen as stored.
func RecomputeRemaining(a *model.Attempt, now time.Time) model.TimeRemaining {
	out := make(model.TimeRemaining, len(a.TimeRemaining))
	for name, secs := range a.TimeRemaining {
		out[name] = secs
	}
	if a.Status != model.AttemptStatusInProgress {
		return out
	}
	if stored, ok := out[a.CurrentSection]; ok && !a.SectionLocked(a.CurrentSection) {
		out[a.CurrentSection] = RemainingSeconds(stored, a.CheckpointAt, now)
	}
	return out
}

// ClampReported reconciles a client-reported timer map against the server's
// recomputation. Remaining time is monotonically non-increasing, so the
// server keeps the minimum per section and ignores sections the client
// invented. Returns the reconciled map and whether the client claimed more
// time than the server allows anywhere.
func ClampReported(server model.TimeRemaining, reported map[string]int) (model.TimeRemaining, bool) {
	out := make(model.TimeRemaining, len(server))
	inflated := false
	for name, max := range server {
		out[name] = max
		if client, ok := reported[name]; ok {
			if client > max {
				inflated = true
			} else if client >= 0 {
				out[name] = client
			}
		}
	}
	return out, inflated
}

// ExpiredSections returns the sections of remaining that have hit zero and
// are not yet in locked.
func ExpiredSections(remaining model.TimeRemaining, locked []string) []string {
	lockedSet := make(map[string]bool, len(locked))
	for _, name := range locked {
		lockedSet[name] = true
	}
	var expired []string
	for name, secs := range remaining {
		if secs <= 0 && !lockedSet[name] {
			expired = append(expired, name)
		}
	}
	return expired
}

// AllExpired reports whether every section the attempt runs has no time left.
func AllExpired(a *model.Attempt, remaining model.TimeRemaining) bool {
	sections := a.Sections()
	if len(sections) == 0 {
		return false
	}
	for _, name := range sections {
		if remaining[name] > 0 {
			return false
		}
	}
	return true
}

// InitialRemaining builds the starting timer map for a new attempt: the
// paper's full per-section allotment, or just the chosen section in
// sectional mode.
func InitialRemaining(paper *model.Paper, mode model.AttemptMode, section string) model.TimeRemaining {
	durations := paper.SectionDurationSeconds()
	if mode == model.AttemptModeSectional {
		return model.TimeRemaining{section: durations[section]}
	}
	out := make(model.TimeRemaining, len(durations))
	for name, secs := range durations {
		out[name] = secs
	}
	return out
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// SectionConfig describes one timed section of a paper. Sections are stored
// as a JSONB array on the paper row and define the keyed timer map of every
// attempt made against it.
type SectionConfig struct {
	Name        string  `json:"name"`
	Questions   int     `json:"questions"`
	TimeMinutes int     `json:"time_minutes"`
	Marks       float64 `json:"marks"`
}

// Paper represents a published exam paper.
type Paper struct {
	ID                   uuid.UUID       `json:"id"`
	Slug                 string          `json:"slug"`
	Title                string          `json:"title"`
	Year                 int             `json:"year"`
	Sections             []SectionConfig `json:"sections"`
	DurationMinutes      int             `json:"duration_minutes"`
	DefaultPositiveMarks float64         `json:"default_positive_marks"`
	DefaultNegativeMarks float64         `json:"default_negative_marks"`
	Published            bool            `json:"published"`
	AllowPause           bool            `json:"allow_pause"`
	AllowSectional       bool            `json:"allow_sectional"`
	AttemptLimit         *int            `json:"attempt_limit,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// SectionDurationSeconds returns section name -> allotted seconds.
func (p *Paper) SectionDurationSeconds() map[string]int {
	out := make(map[string]int, len(p.Sections))
	for _, s := range p.Sections {
		out[s.Name] = s.TimeMinutes * 60
	}
	return out
}

// TotalDurationSeconds sums the allotted time of every section.
func (p *Paper) TotalDurationSeconds() int {
	total := 0
	for _, s := range p.Sections {
		total += s.TimeMinutes * 60
	}
	return total
}

// HasSection reports whether the paper defines the named section.
func (p *Paper) HasSection(name string) bool {
	for _, s := range p.Sections {
		if s.Name == name {
			return true
		}
	}
	return false
}

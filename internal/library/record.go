package library

import (
	"fmt"
	"time"
)

// Status is the play state of a tracked game.
type Status string

const (
	StatusPlaying   Status = "playing"
	StatusCompleted Status = "completed"
	StatusBacklog   Status = "backlog"
	StatusDropped   Status = "dropped"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPlaying, StatusCompleted, StatusBacklog, StatusDropped}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPlaying, StatusCompleted, StatusBacklog, StatusDropped:
		return true
	}
	return false
}

// Filter selects which records a view shows: FilterAll or a Status.
type Filter string

const FilterAll Filter = "all"

// ParseFilter accepts "all", an empty string (meaning all) or a status tag.
func ParseFilter(s string) (Filter, error) {
	if s == "" || Filter(s) == FilterAll {
		return FilterAll, nil
	}
	if !Status(s).Valid() {
		return "", fmt.Errorf("unknown filter %q", s)
	}
	return Filter(s), nil
}

// Matches reports whether a record with status s belongs to the filter.
func (f Filter) Matches(s Status) bool {
	return f == FilterAll || Status(f) == s
}

// GameRecord is one tracked game. Field names match the persisted JSON.
type GameRecord struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	Notes       string    `json:"notes"`
	Hours       float64   `json:"hours"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Draft carries the user-editable fields of a record.
type Draft struct {
	Title    string
	Status   Status
	Progress int
	Notes    string
	Hours    float64
}

// DraftOf returns the editable fields of r, as a form would be filled for editing.
func DraftOf(r GameRecord) Draft {
	return Draft{
		Title:    r.Title,
		Status:   r.Status,
		Progress: r.Progress,
		Notes:    r.Notes,
		Hours:    r.Hours,
	}
}

// Counts holds the number of records per status.
type Counts struct {
	Playing   int `json:"playing"`
	Completed int `json:"completed"`
	Backlog   int `json:"backlog"`
	Dropped   int `json:"dropped"`
}

// Of returns the count for a single status.
func (c Counts) Of(s Status) int {
	switch s {
	case StatusPlaying:
		return c.Playing
	case StatusCompleted:
		return c.Completed
	case StatusBacklog:
		return c.Backlog
	case StatusDropped:
		return c.Dropped
	}
	return 0
}

// Total is the sum over all statuses.
func (c Counts) Total() int {
	return c.Playing + c.Completed + c.Backlog + c.Dropped
}

func (c *Counts) add(s Status) {
	switch s {
	case StatusPlaying:
		c.Playing++
	case StatusCompleted:
		c.Completed++
	case StatusBacklog:
		c.Backlog++
	case StatusDropped:
		c.Dropped++
	}
}

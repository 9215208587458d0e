package library

import "time"

// DemoRecords returns the records installed into an empty library.
func DemoRecords() []GameRecord {
	return []GameRecord{
		{
			ID:          1,
			Title:       "God of War",
			Status:      StatusCompleted,
			Progress:    100,
			Hours:       35,
			Notes:       "Amazing story, perfect combat",
			LastUpdated: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			ID:          2,
			Title:       "Marvel's Spider-Man",
			Status:      StatusPlaying,
			Progress:    65,
			Hours:       25,
			Notes:       "Just unlocked all suits",
			LastUpdated: time.Date(2024, 1, 20, 14, 45, 0, 0, time.UTC),
		},
		{
			ID:          3,
			Title:       "Horizon Zero Dawn",
			Status:      StatusBacklog,
			Progress:    0,
			Hours:       0,
			Notes:       "Waiting for free weekend",
			LastUpdated: time.Date(2024, 1, 10, 9, 15, 0, 0, time.UTC),
		},
		{
			ID:          4,
			Title:       "The Last of Us Part II",
			Status:      StatusDropped,
			Progress:    40,
			Hours:       18,
			Notes:       "Too intense, might return later",
			LastUpdated: time.Date(2024, 1, 5, 16, 20, 0, 0, time.UTC),
		},
	}
}

package subtitle

import "time"

// Segment is one timed subtitle unit. Times are in seconds.
type Segment struct {
	Index          int     `json:"index"`
	StartTime      float64 `json:"startTime"`
	EndTime        float64 `json:"endTime"`
	Text           string  `json:"text"`
	Transliterated string  `json:"transliterated"`
}

// Subtitle is a stored, user-owned segment list.
type Subtitle struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Content   []Segment `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the list view of a Subtitle.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultTitle is used when a subtitle is saved without a title.
const DefaultTitle = "Untitled"

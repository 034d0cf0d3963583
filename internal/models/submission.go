package models

import "time"

// TimestampLayout is how submission times are written to the Responses table.
const TimestampLayout = "2006-01-02 15:04:05"

// Answers holds a teacher's ratings keyed by sub-strand code and reflections
// keyed by domain name.
type Answers struct {
	Ratings     map[string]string `json:"ratings"`
	Reflections map[string]string `json:"reflections,omitempty"`
}

// Submission is one Responses row.
type Submission struct {
	Row          int        `json:"row"`
	Timestamp    time.Time  `json:"timestamp"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Appraiser    string     `json:"appraiser"`
	LastEditedOn *time.Time `json:"last_edited_on,omitempty"`
	Answers
}

// Draft is the single in-progress save per teacher, keyed by email.
type Draft struct {
	Email string `json:"email"`
	Answers
}

// RatedCount counts the non-empty ratings.
func (a Answers) RatedCount() int {
	n := 0
	for _, v := range a.Ratings {
		if v != "" {
			n++
		}
	}
	return n
}

// ParseTimestamp accepts TimestampLayout and RFC 3339.
func ParseTimestamp(s string) (time.Time, bool) {
	if t, err := time.ParseInLocation(TimestampLayout, s, time.Local); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

package store

import (
	"database/sql/driver"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Status represents the pipeline stage of a job record
type Status int

// pipeline stages in display order
const (
	StatusBookmarked Status = iota
	StatusApplying
	StatusApplied
	StatusInterviewing
	StatusAccepted
	StatusRejected
)

var statusNames = map[Status]string{
	StatusBookmarked:   "bookmarked",
	StatusApplying:     "applying",
	StatusApplied:      "applied",
	StatusInterviewing: "interviewing",
	StatusAccepted:     "accepted",
	StatusRejected:     "rejected",
}

// AllStatuses returns all pipeline stages in display order
func AllStatuses() []Status {
	return []Status{StatusBookmarked, StatusApplying, StatusApplied, StatusInterviewing, StatusAccepted, StatusRejected}
}

// String returns the string representation of the status
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// ParseStatus converts a string to a Status, rejecting anything outside the closed set
func ParseStatus(v string) (Status, error) {
	for st, name := range statusNames {
		if name == v {
			return st, nil
		}
	}
	return StatusBookmarked, fmt.Errorf("invalid status %q", v)
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("invalid status value %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(data []byte) error {
	parsed, err := ParseStatus(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (s Status) MarshalYAML() (any, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("invalid status value %d", int(s))
	}
	return s.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (s *Status) UnmarshalYAML(node *yaml.Node) error {
	var v string
	if err := node.Decode(&v); err != nil {
		return err
	}
	parsed, err := ParseStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer for database storage
func (s Status) Value() (driver.Value, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("invalid status value %d", int(s))
	}
	return s.String(), nil
}

// Scan implements sql.Scanner for database retrieval
func (s *Status) Scan(value any) error {
	switch v := value.(type) {
	case string:
		parsed, err := ParseStatus(v)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	case []byte:
		parsed, err := ParseStatus(string(v))
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan status from %T", value)
	}
}

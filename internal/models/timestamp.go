package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order when a store hands back createdOn as text.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp is a time.Time that scans from whatever representation the
// event log dialect returns: native time, text in several layouts, bytes,
// or unix seconds/milliseconds.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp parses s using the known layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, fmt.Errorf("models: empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromUnix(n), nil
	}
	return Timestamp{}, fmt.Errorf("models: unrecognized timestamp %q", s)
}

// fromUnix treats values beyond the year 5138 in seconds as milliseconds.
func fromUnix(n int64) Timestamp {
	if n > 1e11 || n < -1e11 {
		return Timestamp{Time: time.UnixMilli(n)}
	}
	return Timestamp{Time: time.Unix(n, 0)}
}

// Scan implements sql.Scanner.
func (ts *Timestamp) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		ts.Time = time.Time{}
		return nil
	case time.Time:
		ts.Time = v
		return nil
	case string:
		parsed, err := ParseTimestamp(v)
		if err != nil {
			return err
		}
		*ts = parsed
		return nil
	case []byte:
		parsed, err := ParseTimestamp(string(v))
		if err != nil {
			return err
		}
		*ts = parsed
		return nil
	case int64:
		*ts = fromUnix(v)
		return nil
	case float64:
		*ts = fromUnix(int64(v))
		return nil
	default:
		return fmt.Errorf("models: cannot scan %T into Timestamp", value)
	}
}

// Value implements driver.Valuer so comparisons bind as native time.
func (ts Timestamp) Value() (driver.Value, error) {
	if ts.IsZero() {
		return nil, nil
	}
	return ts.Time, nil
}

// GormDataType maps the column to each dialect's time type.
func (Timestamp) GormDataType() string { return "time" }

// MarshalJSON encodes as RFC3339.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Time)
}

// UnmarshalJSON accepts any layout ParseTimestamp understands.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		return ts.Scan(v)
	case float64:
		return ts.Scan(v)
	case nil:
		ts.Time = time.Time{}
		return nil
	}
	return fmt.Errorf("models: cannot decode %s into Timestamp", data)
}

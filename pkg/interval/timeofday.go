package interval

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrInvalidTime     = errors.New("invalid time of day")
	ErrInvalidInterval = errors.New("invalid interval")
)

// TimeOfDay is a wall-clock time within a single date, stored as seconds
// since midnight. EndOfDay (24:00) is the only value past 23:59:59.
type TimeOfDay int32

const (
	Midnight TimeOfDay = 0
	EndOfDay TimeOfDay = 24 * 60 * 60
)

// At builds a TimeOfDay from its components without validation.
func At(hour, minute, second int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60 + second)
}

// ParseTimeOfDay accepts exactly "HH:MM" or "HH:MM:SS" on a 24-hour clock.
// Single-digit fields, other separators and AM/PM suffixes are rejected.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 && len(s) != 8 {
		return 0, fmt.Errorf("%w: %q: expected HH:MM or HH:MM:SS", ErrInvalidTime, s)
	}
	if s[2] != ':' || (len(s) == 8 && s[5] != ':') {
		return 0, fmt.Errorf("%w: %q: expected HH:MM or HH:MM:SS", ErrInvalidTime, s)
	}

	hour, err := twoDigits(s[0:2])
	if err != nil {
		return 0, fmt.Errorf("%w: invalid hour in %q", ErrInvalidTime, s)
	}
	minute, err := twoDigits(s[3:5])
	if err != nil {
		return 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidTime, s)
	}
	second := 0
	if len(s) == 8 {
		second, err = twoDigits(s[6:8])
		if err != nil {
			return 0, fmt.Errorf("%w: invalid second in %q", ErrInvalidTime, s)
		}
	}

	if hour == 24 && minute == 0 && second == 0 {
		return EndOfDay, nil
	}
	if hour > 23 {
		return 0, fmt.Errorf("%w: hour out of range in %q", ErrInvalidTime, s)
	}
	if minute > 59 {
		return 0, fmt.Errorf("%w: minute out of range in %q", ErrInvalidTime, s)
	}
	if second > 59 {
		return 0, fmt.Errorf("%w: second out of range in %q", ErrInvalidTime, s)
	}
	return At(hour, minute, second), nil
}

// MustParse is ParseTimeOfDay for literals known to be valid.
func MustParse(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func twoDigits(s string) (int, error) {
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, fmt.Errorf("not a two digit number: %q", s)
	}
	return strconv.Atoi(s)
}

// FromClock extracts the time of day from t, ignoring the date part.
func FromClock(t time.Time) TimeOfDay {
	return At(t.Hour(), t.Minute(), t.Second())
}

func (t TimeOfDay) Hour() int   { return int(t) / 3600 }
func (t TimeOfDay) Minute() int { return int(t) % 3600 / 60 }
func (t TimeOfDay) Second() int { return int(t) % 60 }

// Valid reports whether t lies in [00:00, 24:00].
func (t TimeOfDay) Valid() bool {
	return t >= Midnight && t <= EndOfDay
}

// Add returns t shifted by d, truncated to whole seconds.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return t + TimeOfDay(d/time.Second)
}

// Sub returns the duration t-u.
func (t TimeOfDay) Sub(u TimeOfDay) time.Duration {
	return time.Duration(t-u) * time.Second
}

// String renders HH:MM, or HH:MM:SS when seconds are set.
func (t TimeOfDay) String() string {
	if t.Second() != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
	}
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Clock renders HH:MM:SS, the form stored in the database.
func (t TimeOfDay) Clock() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}

// OnDate combines t with the calendar date of d in d's location.
func (t TimeOfDay) OnDate(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, d.Location()).Add(time.Duration(t) * time.Second)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

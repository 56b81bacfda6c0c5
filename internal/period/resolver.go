package period

import (
	"time"
)

// Selection is a preset choice. Session and Term are only read by the
// term, half-term and session presets; empty values pick whatever contains
// today. From and To are only read by the custom preset.
type Selection struct {
	Frequency Frequency
	Session   string
	Term      string
	From      time.Time
	To        time.Time
}

type Resolver struct {
	Now      func() time.Time
	Terms    TermDateRange
	Location *time.Location
}

func (r Resolver) today() time.Time {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	t := now()
	if r.Location != nil {
		t = t.In(r.Location)
	}
	return Day(t)
}

// Resolve computes the period for sel.
func (r Resolver) Resolve(sel Selection) (AttendancePeriod, error) {
	rng, err := r.Range(sel)
	if err != nil {
		return AttendancePeriod{}, err
	}
	return newPeriod(rng), nil
}

// Select calls onSelectRange only when sel resolves.
func (r Resolver) Select(sel Selection, onSelectRange func(AttendancePeriod)) error {
	p, err := r.Resolve(sel)
	if err != nil {
		return err
	}
	if onSelectRange != nil {
		onSelectRange(p)
	}
	return nil
}

func (r Resolver) Range(sel Selection) (DateRange, error) {
	today := r.today()

	switch sel.Frequency {
	case FrequencyWeek:
		// weeks start on Sunday, so Saturday closes them
		end := today.AddDate(0, 0, int(time.Saturday-today.Weekday()))
		return DateRange{Start: today, End: end}, nil

	case FrequencyBusinessWeek:
		return BusinessDayWindow(today, 5)

	case FrequencyMonth:
		end := time.Date(today.Year(), today.Month()+1, 0, 0, 0, 0, 0, today.Location())
		return DateRange{Start: today, End: end}, nil

	case FrequencyRolling7:
		return BusinessDayWindow(today, 7)

	case FrequencyRolling30:
		return BusinessDayWindow(today, 30)

	case FrequencyNextWeek:
		offset := (8 - int(today.Weekday())) % 7
		monday := today.AddDate(0, 0, offset)
		return DateRange{Start: monday, End: monday.AddDate(0, 0, 4)}, nil

	case FrequencyTerm:
		return r.term(sel, today)

	case FrequencyHalfTerm:
		t, err := r.term(sel, today)
		if err != nil {
			return DateRange{}, err
		}
		half := daysBetween(t.Start, t.End) / 2
		return DateRange{Start: t.Start, End: t.Start.AddDate(0, 0, half)}, nil

	case FrequencySession:
		session, ok := r.session(sel, today)
		if !ok {
			return DateRange{}, ErrSessionUnavailable
		}
		rng, _ := r.Terms.Session(session)
		return DateRange{Start: Day(rng.Start), End: Day(rng.End)}, nil

	case FrequencyCustom:
		return CustomRange(sel.From, sel.To)
	}

	return DateRange{}, ErrUnknownFrequency
}

func (r Resolver) session(sel Selection, today time.Time) (string, bool) {
	if sel.Session != "" {
		_, ok := r.Terms.Session(sel.Session)
		return sel.Session, ok
	}
	return r.Terms.SessionAt(today)
}

func (r Resolver) term(sel Selection, today time.Time) (DateRange, error) {
	session, ok := r.session(sel, today)
	if !ok {
		return DateRange{}, ErrTermUnavailable
	}
	term := sel.Term
	if term == "" {
		if term, ok = r.Terms.TermAt(session, today); !ok {
			return DateRange{}, ErrTermUnavailable
		}
	}
	rng, ok := r.Terms.Term(session, term)
	if !ok {
		return DateRange{}, ErrTermUnavailable
	}
	return DateRange{Start: Day(rng.Start), End: Day(rng.End)}, nil
}

package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"calendar-service/internal/domain"
)

var weekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Validate checks that p is complete enough to be expanded.
func Validate(p *domain.Pattern) error {
	if p.IsZero() {
		return nil
	}
	if p.Interval < 1 {
		return domain.Recurrence("interval must be at least 1")
	}
	if p.Occurrences < 0 {
		return domain.Recurrence("occurrence count must not be negative")
	}
	if p.Days < 0 || p.Days > domain.Sunday|domain.Monday|domain.Tuesday|domain.Wednesday|domain.Thursday|domain.Friday|domain.Saturday {
		return domain.Recurrence("invalid day selector")
	}
	switch p.Type {
	case domain.RecurrenceDaily:
	case domain.RecurrenceWeekly:
		if p.Days == 0 {
			return domain.Recurrence("weekly pattern without days")
		}
	case domain.RecurrenceMonthly:
		if err := validateDayInMonth(p); err != nil {
			return err
		}
	case domain.RecurrenceYearly:
		if p.Month < time.January || p.Month > time.December {
			return domain.Recurrence("yearly pattern without month")
		}
		if err := validateDayInMonth(p); err != nil {
			return err
		}
	default:
		return domain.Recurrence(fmt.Sprintf("unknown recurrence type %d", p.Type))
	}
	return nil
}

func validateDayInMonth(p *domain.Pattern) error {
	if p.Days != 0 {
		if p.DayInMonth < 1 || p.DayInMonth > 5 {
			return domain.Recurrence("week ordinal must be between 1 and 5")
		}
		return nil
	}
	if p.DayInMonth < 1 || p.DayInMonth > 31 {
		return domain.Recurrence("day in month must be between 1 and 31")
	}
	return nil
}

// rule compiles p into an rrule anchored at dtstart.
func rule(p *domain.Pattern, dtstart time.Time) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Dtstart:  dtstart,
		Interval: p.Interval,
		Count:    p.Occurrences,
		Wkst:     rrule.MO,
	}
	if !p.Until.IsZero() {
		// until is a date; every occurrence starting on that day is included
		loc := dtstart.Location()
		y, m, d := p.Until.In(loc).Date()
		opt.Until = time.Date(y, m, d+1, 0, 0, 0, 0, loc).Add(-time.Second)
	}
	switch p.Type {
	case domain.RecurrenceDaily:
		opt.Freq = rrule.DAILY
	case domain.RecurrenceWeekly:
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = byweekday(p.Days, 0)
	case domain.RecurrenceMonthly:
		opt.Freq = rrule.MONTHLY
		setDayInMonth(&opt, p)
	case domain.RecurrenceYearly:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{int(p.Month)}
		setDayInMonth(&opt, p)
	}
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, domain.Recurrence(err.Error())
	}
	return r, nil
}

func setDayInMonth(opt *rrule.ROption, p *domain.Pattern) {
	if p.Days == 0 {
		opt.Bymonthday = []int{p.DayInMonth}
		return
	}
	n := p.DayInMonth
	if n == 5 {
		n = -1
	}
	opt.Byweekday = byweekday(p.Days, n)
}

func byweekday(days domain.Weekdays, nth int) []rrule.Weekday {
	var out []rrule.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if !days.Has(d) {
			continue
		}
		wd := weekdays[d]
		if nth != 0 {
			wd = wd.Nth(nth)
		}
		out = append(out, wd)
	}
	return out
}

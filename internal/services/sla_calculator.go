package services

import (
	"time"

	"grcflow/internal/models"
)

// BusinessWindow 工作时间窗口设置
type BusinessWindow struct {
	BusinessHoursOnly bool
	StartHour         int // inclusive
	EndHour           int // exclusive
	ExcludeWeekends   bool
}

// WindowFromConfig extracts the business window of an SLA configuration.
func WindowFromConfig(cfg *models.SLAConfiguration) BusinessWindow {
	return BusinessWindow{
		BusinessHoursOnly: cfg.BusinessHoursOnly,
		StartHour:         cfg.BusinessStartHour,
		EndHour:           cfg.BusinessEndHour,
		ExcludeWeekends:   cfg.ExcludeWeekends,
	}
}

// DueTime computes the due timestamp for a duration starting at start.
// Outside business-hours mode it is plain addition. In business-hours
// mode a pointer walks forward consuming the duration only inside
// [StartHour, EndHour) on applicable days. Each iteration either
// consumes available window time or jumps a non-business gap, so the
// loop terminates for any finite non-negative duration.
func DueTime(start time.Time, hours float64, w BusinessWindow) time.Time {
	duration := time.Duration(hours * float64(time.Hour))
	if duration <= 0 {
		return start
	}
	if !w.BusinessHoursOnly {
		return start.Add(duration)
	}

	startHour, endHour := w.StartHour, w.EndHour
	if startHour < 0 || endHour <= startHour || endHour > 24 {
		// 配置不可用时退回日历时间
		return start.Add(duration)
	}

	pointer := start
	remaining := duration
	for remaining > 0 {
		if w.ExcludeWeekends && isWeekend(pointer) {
			pointer = nextMonday(pointer, startHour)
			continue
		}
		startOfBusiness := atHour(pointer, startHour)
		endOfBusiness := atHour(pointer, endHour)
		if pointer.Before(startOfBusiness) {
			pointer = startOfBusiness
			continue
		}
		if !pointer.Before(endOfBusiness) {
			pointer = atHour(pointer.AddDate(0, 0, 1), startHour)
			continue
		}
		available := endOfBusiness.Sub(pointer)
		if remaining <= available {
			return pointer.Add(remaining)
		}
		remaining -= available
		pointer = atHour(pointer.AddDate(0, 0, 1), startHour)
	}
	return pointer
}

func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func nextMonday(t time.Time, startHour int) time.Time {
	days := 1
	if t.Weekday() == time.Saturday {
		days = 2
	}
	return atHour(t.AddDate(0, 0, days), startHour)
}

package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medsched/medsched/internal/domain/appointment"
	"github.com/medsched/medsched/internal/domain/scheduling"
)

// ComputeUtilization returns the headline rates for the window.
func ComputeUtilization(days []*scheduling.DaySchedule, appts []*appointment.Appointment) (Utilization, Totals) {
	t := Totals{Revenue: decimal.Zero}
	for _, d := range days {
		for _, sl := range d.TimeSlots {
			t.TotalSlots += sl.MaxAppointments
			t.BookedSlots += sl.CurrentAppointments
		}
	}
	for _, a := range appts {
		t.TotalAppointments++
		switch a.Status {
		case appointment.StatusCompleted:
			t.Completed++
		case appointment.StatusCancelled:
			t.Cancelled++
		case appointment.StatusNoShow:
			t.NoShow++
		}
		if a.Status.HoldsSlot() {
			t.Revenue = t.Revenue.Add(a.ConsultationFee)
		}
	}
	return Utilization{
		Overall:          percent(t.BookedSlots, t.TotalSlots),
		CompletionRate:   percent(t.Completed, t.TotalAppointments),
		CancellationRate: percent(t.Cancelled, t.TotalAppointments),
		NoShowRate:       percent(t.NoShow, t.TotalAppointments),
	}, t
}

// ComputeDailyStats returns one entry per day in [from, to]; days without a
// schedule or appointments are zero.
func ComputeDailyStats(from, to scheduling.Date, days []*scheduling.DaySchedule, appts []*appointment.Appointment) []DailyStat {
	n := from.DaysUntil(to) + 1
	if n <= 0 {
		return []DailyStat{}
	}
	out := make([]DailyStat, n)
	for i := range out {
		out[i].Date = from.AddDays(i)
	}
	index := func(d scheduling.Date) (int, bool) {
		i := from.DaysUntil(d)
		return i, i >= 0 && i < n
	}

	for _, d := range days {
		i, ok := index(d.Date)
		if !ok {
			continue
		}
		for _, sl := range d.TimeSlots {
			out[i].TotalSlots += sl.MaxAppointments
			out[i].BookedSlots += sl.CurrentAppointments
		}
	}
	for _, a := range appts {
		i, ok := index(a.Date)
		if !ok {
			continue
		}
		switch a.Status {
		case appointment.StatusCompleted:
			out[i].Completed++
		case appointment.StatusCancelled:
			out[i].Cancelled++
		}
	}
	for i := range out {
		out[i].Utilization = percent(out[i].BookedSlots, out[i].TotalSlots)
	}
	return out
}

// ComputeSlotPopularity groups appointments by start time across the
// window, ascending. Revenue sums the fees of appointments that were not
// cancelled.
func ComputeSlotPopularity(appts []*appointment.Appointment) []SlotPopularity {
	byTime := map[scheduling.ClockTime]*SlotPopularity{}
	for _, a := range appts {
		p, ok := byTime[a.StartTime]
		if !ok {
			p = &SlotPopularity{Time: a.StartTime, Revenue: decimal.Zero}
			byTime[a.StartTime] = p
		}
		p.Appointments++
		switch a.Status {
		case appointment.StatusCompleted:
			p.Completed++
		case appointment.StatusCancelled:
			p.Cancelled++
		}
		if a.Status.HoldsSlot() {
			p.Revenue = p.Revenue.Add(a.ConsultationFee)
		}
	}

	out := make([]SlotPopularity, 0, len(byTime))
	for _, p := range byTime {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// ComputeDayOfWeek always returns seven entries, Sunday first.
func ComputeDayOfWeek(appts []*appointment.Appointment) []WeekdayStat {
	out := make([]WeekdayStat, 7)
	for i := range out {
		out[i].Day = time.Weekday(i).String()
	}
	for _, a := range appts {
		w := &out[a.Date.Weekday()]
		w.Appointments++
		switch a.Status {
		case appointment.StatusCompleted:
			w.Completed++
		case appointment.StatusCancelled:
			w.Cancelled++
		}
	}
	return out
}

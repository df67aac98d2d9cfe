package analytics

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/medsched/medsched/internal/domain/scheduling"
)

// Period is a trailing analytics window in days.
type Period int

const (
	Period7d  Period = 7
	Period30d Period = 30
	Period90d Period = 90

	DefaultPeriod = Period30d
)

// ParsePeriod accepts 7d, 30d or 90d. The empty string means DefaultPeriod.
func ParsePeriod(s string) (Period, error) {
	switch s {
	case "":
		return DefaultPeriod, nil
	case "7d":
		return Period7d, nil
	case "30d":
		return Period30d, nil
	case "90d":
		return Period90d, nil
	}
	return 0, fmt.Errorf("%w: period must be one of 7d, 30d, 90d, got %q", scheduling.ErrValidation, s)
}

func (p Period) String() string { return fmt.Sprintf("%dd", int(p)) }

// Window is the N calendar days ending on today, inclusive.
func (p Period) Window(today scheduling.Date) (from, to scheduling.Date) {
	return today.AddDays(-(int(p) - 1)), today
}

// Utilization is capacity-weighted: bookedSlots / totalSlots sums
// currentAppointments over maxAppointments of every slot in the window.
// The appointment rates divide by the appointments in the window. Every
// figure is a percentage and 0 when its denominator is 0.
type Utilization struct {
	Overall          float64 `json:"overall"`
	CompletionRate   float64 `json:"completionRate"`
	CancellationRate float64 `json:"cancellationRate"`
	NoShowRate       float64 `json:"noShowRate"`
}

type DailyStat struct {
	Date        scheduling.Date `json:"date"`
	TotalSlots  int             `json:"totalSlots"`
	BookedSlots int             `json:"bookedSlots"`
	Utilization float64         `json:"utilization"`
	Completed   int             `json:"completed"`
	Cancelled   int             `json:"cancelled"`
}

type SlotPopularity struct {
	Time         scheduling.ClockTime `json:"time"`
	Appointments int                  `json:"appointments"`
	Completed    int                  `json:"completed"`
	Cancelled    int                  `json:"cancelled"`
	Revenue      decimal.Decimal      `json:"revenue"`
}

type WeekdayStat struct {
	Day          string `json:"day"`
	Appointments int    `json:"appointments"`
	Completed    int    `json:"completed"`
	Cancelled    int    `json:"cancelled"`
}

// Totals are the raw counts behind the rates.
type Totals struct {
	TotalSlots        int             `json:"totalSlots"`
	BookedSlots       int             `json:"bookedSlots"`
	TotalAppointments int             `json:"totalAppointments"`
	Completed         int             `json:"completed"`
	Cancelled         int             `json:"cancelled"`
	NoShow            int             `json:"noShow"`
	Revenue           decimal.Decimal `json:"revenue"`
}

// Report is the analytics payload for one doctor and period.
type Report struct {
	DoctorID              string           `json:"doctorId"`
	Period                string           `json:"period"`
	From                  scheduling.Date  `json:"from"`
	To                    scheduling.Date  `json:"to"`
	Totals                Totals           `json:"totals"`
	Utilization           Utilization      `json:"utilization"`
	DailyStats            []DailyStat      `json:"dailyStats"`
	TimeSlotPopularity    []SlotPopularity `json:"timeSlotPopularity"`
	DayOfWeekDistribution []WeekdayStat    `json:"dayOfWeekDistribution"`
}

// percent returns part/whole*100 rounded to two places, or 0 for an
// empty whole.
func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*10000) / 100
}

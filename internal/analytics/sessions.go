package analytics

import (
	"fmt"
	"sort"

	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/shopspring/decimal"
)

const sessionDateLayout = "2006-01-02"

type SessionDay struct {
	Date    string          `json:"date"`
	Trades  int             `json:"trades"`
	Wins    int             `json:"wins"`
	Losses  int             `json:"losses"`
	PnL     decimal.Decimal `json:"pnl"`
	Volume  decimal.Decimal `json:"volume"`
	Fees    decimal.Decimal `json:"fees"`
	WinRate decimal.Decimal `json:"winRate"`
}

type SessionReport struct {
	TotalSessions      int             `json:"totalSessions"`
	ProfitableSessions int             `json:"profitableSessions"`
	LosingSessions     int             `json:"losingSessions"`
	AvgPnLPerSession   decimal.Decimal `json:"avgPnlPerSession"`
	Best               *SessionDay     `json:"best"`
	Worst              *SessionDay     `json:"worst"`
	Days               []SessionDay    `json:"days"`
}

// Sessions groups fills by UTC calendar day. Days are returned oldest first.
func Sessions(fills []trade.Fill) SessionReport {
	out := SessionReport{
		AvgPnLPerSession: decimal.Zero,
		Days:             []SessionDay{},
	}
	if len(fills) == 0 {
		return out
	}

	byDate := make(map[string]*SessionDay, 16)
	for _, f := range fills {
		date := f.ExecutedAt.UTC().Format(sessionDateLayout)
		day, ok := byDate[date]
		if !ok {
			day = &SessionDay{Date: date, PnL: decimal.Zero, Volume: decimal.Zero, Fees: decimal.Zero}
			byDate[date] = day
		}
		day.Trades++
		day.PnL = day.PnL.Add(f.RealizedPnL)
		day.Volume = day.Volume.Add(f.Notional())
		day.Fees = day.Fees.Add(f.Fee.Abs())
		switch f.RealizedPnL.Sign() {
		case 1:
			day.Wins++
		case -1:
			day.Losses++
		}
	}

	total := decimal.Zero
	for _, day := range byDate {
		day.WinRate = percent(decimal.NewFromInt(int64(day.Wins)), decimal.NewFromInt(int64(day.Trades)))
		out.Days = append(out.Days, *day)
		total = total.Add(day.PnL)
		switch day.PnL.Sign() {
		case 1:
			out.ProfitableSessions++
		case -1:
			out.LosingSessions++
		}
	}
	sort.Slice(out.Days, func(i, j int) bool { return out.Days[i].Date < out.Days[j].Date })

	out.TotalSessions = len(out.Days)
	out.AvgPnLPerSession = total.Div(decimal.NewFromInt(int64(out.TotalSessions)))

	best, worst := out.Days[0], out.Days[0]
	for _, day := range out.Days[1:] {
		if day.PnL.GreaterThan(best.PnL) {
			best = day
		}
		if day.PnL.LessThan(worst.PnL) {
			worst = day
		}
	}
	out.Best, out.Worst = &best, &worst
	return out
}

type Bucket struct {
	Index  int             `json:"index"`
	Label  string          `json:"label"`
	Trades int             `json:"trades"`
	PnL    decimal.Decimal `json:"pnl"`
	AvgPnL decimal.Decimal `json:"avgPnl"`
}

type CalendarReport struct {
	ByHour    []Bucket `json:"byHour"`
	ByWeekday []Bucket `json:"byWeekday"`
	ByMonth   []Bucket `json:"byMonth"`
}

var weekdayLabels = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Calendar buckets fills by UTC hour of day, weekday (Sunday = 0) and year-month.
func Calendar(fills []trade.Fill) CalendarReport {
	out := CalendarReport{ByHour: []Bucket{}, ByWeekday: []Bucket{}, ByMonth: []Bucket{}}
	if len(fills) == 0 {
		return out
	}

	hours := make([]Bucket, 24)
	for i := range hours {
		hours[i] = Bucket{Index: i, Label: fmt.Sprintf("%02d:00", i), PnL: decimal.Zero}
	}
	weekdays := make([]Bucket, 7)
	for i := range weekdays {
		weekdays[i] = Bucket{Index: i, Label: weekdayLabels[i], PnL: decimal.Zero}
	}
	months := make(map[string]*Bucket, 12)

	for _, f := range fills {
		at := f.ExecutedAt.UTC()
		addToBucket(&hours[at.Hour()], f.RealizedPnL)
		addToBucket(&weekdays[int(at.Weekday())], f.RealizedPnL)

		label := at.Format("2006-01")
		month, ok := months[label]
		if !ok {
			month = &Bucket{Index: at.Year()*100 + int(at.Month()), Label: label, PnL: decimal.Zero}
			months[label] = month
		}
		addToBucket(month, f.RealizedPnL)
	}

	for i := range hours {
		finishBucket(&hours[i])
	}
	for i := range weekdays {
		finishBucket(&weekdays[i])
	}
	out.ByHour, out.ByWeekday = hours, weekdays
	for _, month := range months {
		finishBucket(month)
		out.ByMonth = append(out.ByMonth, *month)
	}
	sort.Slice(out.ByMonth, func(i, j int) bool { return out.ByMonth[i].Index < out.ByMonth[j].Index })
	return out
}

func addToBucket(b *Bucket, pnl decimal.Decimal) {
	b.Trades++
	b.PnL = b.PnL.Add(pnl)
}

func finishBucket(b *Bucket) {
	if b.Trades == 0 {
		b.AvgPnL = decimal.Zero
		return
	}
	b.AvgPnL = b.PnL.Div(decimal.NewFromInt(int64(b.Trades)))
}

package editor

import (
	"fmt"
	"strings"
	"time"
)

type pickerResult int

const (
	pickerOpen pickerResult = iota
	pickerSet
	pickerCancelled
)

// datePicker is the dialog behind the date button. It only knows a
// calendar day; the editor keeps the time of day.
type datePicker struct {
	year  int
	month time.Month
	day   int
}

func newDatePicker(t time.Time) *datePicker {
	return &datePicker{year: t.Year(), month: t.Month(), day: t.Day()}
}

func (p *datePicker) handleKey(key string) pickerResult {
	switch key {
	case "enter":
		return pickerSet
	case "esc":
		return pickerCancelled
	case "left", "h":
		p.addDays(-1)
	case "right", "l":
		p.addDays(1)
	case "up", "k":
		p.addDays(-7)
	case "down", "j":
		p.addDays(7)
	case "pgup", "[":
		p.addMonths(-1)
	case "pgdown", "]":
		p.addMonths(1)
	case "{":
		p.addMonths(-12)
	case "}":
		p.addMonths(12)
	}
	return pickerOpen
}

func (p *datePicker) addDays(n int) {
	t := time.Date(p.year, p.month, p.day+n, 12, 0, 0, 0, time.UTC)
	p.year, p.month, p.day = t.Year(), t.Month(), t.Day()
}

// addMonths keeps the day of month unless the target month is shorter.
func (p *datePicker) addMonths(n int) {
	first := time.Date(p.year, p.month+time.Month(n), 1, 12, 0, 0, 0, time.UTC)
	p.year, p.month = first.Year(), first.Month()
	if last := daysIn(p.year, p.month); p.day > last {
		p.day = last
	}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 12, 0, 0, 0, time.UTC).Day()
}

func (p *datePicker) view() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %d\n", p.month, p.year))
	b.WriteString("Mo Tu We Th Fr Sa Su\n")

	offset := (int(time.Date(p.year, p.month, 1, 12, 0, 0, 0, time.UTC).Weekday()) + 6) % 7
	b.WriteString(strings.Repeat("   ", offset))
	col := offset
	for d := 1; d <= daysIn(p.year, p.month); d++ {
		cell := fmt.Sprintf("%2d", d)
		if d == p.day {
			cell = selectedStyle.Render(cell)
		}
		b.WriteString(cell)
		col++
		if col == 7 {
			b.WriteString("\n")
			col = 0
		} else {
			b.WriteString(" ")
		}
	}
	if col != 0 {
		b.WriteString("\n")
	}
	b.WriteString(mutedStyle.Render("arrows/hjkl move • [ ] month • { } year • enter set • esc cancel"))
	return b.String()
}

type timePicker struct {
	hour    int
	minute  int
	segment int
}

func newTimePicker(t time.Time) *timePicker {
	return &timePicker{hour: t.Hour(), minute: t.Minute()}
}

func (p *timePicker) handleKey(key string) pickerResult {
	switch key {
	case "enter":
		return pickerSet
	case "esc":
		return pickerCancelled
	case "left", "h", "right", "l", "tab", "shift+tab":
		p.segment = 1 - p.segment
	case "up", "k":
		p.step(1)
	case "down", "j":
		p.step(-1)
	case "pgup":
		p.step(10)
	case "pgdown":
		p.step(-10)
	}
	return pickerOpen
}

func (p *timePicker) step(n int) {
	if p.segment == 0 {
		p.hour = wrap(p.hour+n, 24)
		return
	}
	p.minute = wrap(p.minute+n, 60)
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

func (p *timePicker) view() string {
	hour := fmt.Sprintf("%02d", p.hour)
	minute := fmt.Sprintf("%02d", p.minute)
	if p.segment == 0 {
		hour = selectedStyle.Render(hour)
	} else {
		minute = selectedStyle.Render(minute)
	}
	return hour + ":" + minute + "\n" +
		mutedStyle.Render("up/down change • left/right switch • enter set • esc cancel")
}

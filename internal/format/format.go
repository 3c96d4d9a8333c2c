package format

import (
	"fmt"
	"time"

	"finitefield.org/university-web/internal/i18n"
)

var (
	ruMonths = [...]string{
		"января", "февраля", "марта", "апреля", "мая", "июня",
		"июля", "августа", "сентября", "октября", "ноября", "декабря",
	}
	kyMonths = [...]string{
		"январь", "февраль", "март", "апрель", "май", "июнь",
		"июль", "август", "сентябрь", "октябрь", "ноябрь", "декабрь",
	}
)

// FmtDate formats t as a long date in lang. The zero time renders as "".
// Example: FmtDate(t, i18n.RU) => "1 сентября 2024"
func FmtDate(t time.Time, lang i18n.Language) string {
	if t.IsZero() {
		return ""
	}
	switch lang {
	case i18n.RU:
		return fmt.Sprintf("%d %s %d", t.Day(), ruMonths[t.Month()-1], t.Year())
	case i18n.KY:
		return fmt.Sprintf("%d-ж., %d-%s", t.Year(), t.Day(), kyMonths[t.Month()-1])
	default:
		return t.Format("January 2, 2006")
	}
}

// FmtShortDate formats t as dd.mm.yyyy for ru/ky and Jan 2, 2006 for en.
func FmtShortDate(t time.Time, lang i18n.Language) string {
	if t.IsZero() {
		return ""
	}
	switch lang {
	case i18n.RU, i18n.KY:
		return t.Format("02.01.2006")
	default:
		return t.Format("Jan 2, 2006")
	}
}

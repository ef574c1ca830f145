package calendar

import "time"

// DefaultHolidays returns the 2024-2025 KRX holiday calendar. It is data,
// not a hardcoded policy: callers load it once via New(DefaultHolidays())
// and may extend it at runtime via Calendar.SetHolidays as KRX publishes
// future years.
func DefaultHolidays() []time.Time {
	dates := []string{
		// 2024
		"2024-01-01", "2024-02-09", "2024-02-10", "2024-02-11", "2024-02-12",
		"2024-03-01", "2024-04-10", "2024-05-01", "2024-05-06", "2024-05-15",
		"2024-06-06", "2024-08-15", "2024-09-16", "2024-09-17", "2024-09-18",
		"2024-10-03", "2024-10-09", "2024-12-25", "2024-12-31",
		// 2025
		"2025-01-01", "2025-01-28", "2025-01-29", "2025-01-30",
		"2025-03-01", "2025-03-03", "2025-05-01", "2025-05-05", "2025-05-06",
		"2025-06-06", "2025-08-15", "2025-10-03", "2025-10-05", "2025-10-06",
		"2025-10-07", "2025-10-08", "2025-10-09", "2025-12-25", "2025-12-31",
	}

	holidays := make([]time.Time, 0, len(dates))
	for _, s := range dates {
		d, err := time.ParseInLocation(dateLayout, s, kst)
		if err != nil {
			panic("calendar: invalid holiday literal " + s)
		}
		holidays = append(holidays, d)
	}
	return holidays
}

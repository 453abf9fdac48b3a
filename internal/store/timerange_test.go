package store

import (
	"testing"
	"time"
)

func TestTimeRange(t *testing.T) {
	now := time.Date(2026, time.August, 29, 14, 30, 0, 0, time.UTC)
	custom := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	customEnd := time.Date(2026, time.August, 15, 23, 59, 59, 0, time.UTC)

	cases := []struct {
		filter string
		from   time.Time
		to     time.Time
		want   time.Time
		wantTo time.Time
	}{
		{filter: "today", want: time.Date(2026, time.August, 29, 0, 0, 0, 0, time.UTC)},
		{filter: "week", want: now.AddDate(0, 0, -7)},
		{filter: "month", want: now.AddDate(0, -1, 0)},
		{filter: "custom", from: custom, to: customEnd, want: custom, wantTo: customEnd},
		{filter: "all"},
		{filter: ""},
	}

	for _, tc := range cases {
		from, to := TimeRange(tc.filter, tc.from, tc.to, now)
		if !from.Equal(tc.want) {
			t.Errorf("filter %q: from = %v, want %v", tc.filter, from, tc.want)
		}
		if !to.Equal(tc.wantTo) {
			t.Errorf("filter %q: to = %v, want %v", tc.filter, to, tc.wantTo)
		}
	}
}

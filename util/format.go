package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

func FormatMoney(amount int64) string {
	return "$" + humanize.Comma(amount)
}

func FormatGoods(amount int64) string {
	return humanize.Comma(amount)
}

// FormatDistance renders meters, switching to kilometers past 1000m.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%s m", humanize.FtoaWithDigits(meters, 0))
	}
	return fmt.Sprintf("%s km", humanize.FtoaWithDigits(meters/1000, 1))
}

// FormatDuration renders a duration the way it's shown to players, e.g. "2 minutes".
func FormatDuration(d time.Duration) string {
	now := time.Now()
	return strings.TrimSpace(humanize.RelTime(now, now.Add(d), "", ""))
}

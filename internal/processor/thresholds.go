package processor

import (
	"time"

	"github.com/shopspring/decimal"
)

// Thresholds holds the fixed limits the fraud rules compare against.
// Amount limits are exclusive; count limits are inclusive.
type Thresholds struct {
	AuthAttempts int

	PanicWindow time.Duration
	PanicCount  int

	GeoMismatchAmount decimal.Decimal

	ReceiverWindow    time.Duration
	DistinctReceivers int

	HighValue decimal.Decimal
	// Night is hour >= NightStartHour or hour <= NightEndHour.
	NightStartHour int
	NightEndHour   int

	NewReceiverAmount   decimal.Decimal
	NewReceiverLookback time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		AuthAttempts:        3,
		PanicWindow:         5 * time.Minute,
		PanicCount:          3,
		GeoMismatchAmount:   decimal.RequireFromString("200.00"),
		ReceiverWindow:      time.Hour,
		DistinctReceivers:   3,
		HighValue:           decimal.RequireFromString("2000.00"),
		NightStartHour:      22,
		NightEndHour:        6,
		NewReceiverAmount:   decimal.RequireFromString("1000.00"),
		NewReceiverLookback: 100 * 365 * 24 * time.Hour,
	}
}

// IsNight uses the hour of ts in its own location.
func (t Thresholds) IsNight(ts time.Time) bool {
	hour := ts.Hour()
	return hour >= t.NightStartHour || hour <= t.NightEndHour
}

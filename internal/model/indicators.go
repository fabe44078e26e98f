package model

import "github.com/guregu/null/v6"

// IndicatorSet holds the rolling statistics derived for one bar.
// An invalid null.Float means the trailing window was too short.
type IndicatorSet struct {
	SMA20            null.Float
	SMA50            null.Float
	SMA200           null.Float
	DailyReturnPct   null.Float
	Volatility10dPct null.Float
	VolumeChangePct  null.Float
	RS50             null.Float
}

package service

import (
	"math"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/jinzhu/now"
)

const (
	DEFAULT_HOUSE_DEMAND_W = 500.0
	FALLBACK_DEMAND_HOUR   = 10
)

func interpolate(p float64, p1 float64, p2 float64, v1 float64, v2 float64) float64 {
	if p1 == p2 {
		return v1
	}
	return v1 + (p-p1)/((p2-p1)+1e-10)*(v2-v1)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FindProductionMeetsDemand walks the per-day PV forecasts and returns the interpolated time at which
// the PV estimate (kW) first reaches the demand, and the PV energy (kWh) produced until then. Days on
// which the demand was already met before t are skipped.
func FindProductionMeetsDemand(t time.Time, demandKW float64, days [][]domain.PVForecastEntry) (time.Time, float64, bool) {
	total := 0.0
	var pastReached *time.Time

	for _, day := range days {
		for i := 0; i+1 < len(day); i++ {
			cur, next := day[i], day[i+1]
			hours := next.PeriodStart.Sub(cur.PeriodStart).Hours()
			curStart, nextStart := unixSeconds(cur.PeriodStart), unixSeconds(next.PeriodStart)

			if next.PeriodStart.Before(t) {
				if cur.PVEstimate >= demandKW {
					reached := cur.PeriodStart
					pastReached = &reached
				}
				continue
			}

			if !t.Before(cur.PeriodStart) && t.Before(next.PeriodStart) {
				pv := interpolate(unixSeconds(t), curStart, nextStart, cur.PVEstimate, next.PVEstimate)
				total += pv * hours
			} else if next.PVEstimate >= demandKW && (pastReached == nil || cur.PeriodStart.Day() != pastReached.Day()) {
				at := interpolate(demandKW, cur.PVEstimate, next.PVEstimate, curStart, nextStart)
				pv := interpolate(at, curStart, nextStart, cur.PVEstimate, next.PVEstimate)
				total += pv * hours
				sec, frac := math.Modf(at)
				return time.Unix(int64(sec), int64(frac*1e9)).In(t.Location()), total, true
			} else {
				total += hours * next.PVEstimate
			}
		}
	}
	return time.Time{}, total, false
}

// NextProductionMeetsDemand is FindProductionMeetsDemand with a 10:00 fallback (tomorrow once 10:00 is
// past) at which the house demand is assumed to be covered.
func NextProductionMeetsDemand(t time.Time, demandKW float64, days [][]domain.PVForecastEntry) (time.Time, float64) {
	if at, energy, ok := FindProductionMeetsDemand(t, demandKW, days); ok {
		return at, energy
	}
	at := now.With(t).BeginningOfDay().Add(FALLBACK_DEMAND_HOUR * time.Hour)
	if t.Hour() > FALLBACK_DEMAND_HOUR {
		at = at.AddDate(0, 0, 1)
	}
	return at, math.Max(0, at.Sub(t).Hours()) * demandKW
}

func housePowerAt(t time.Time, dayW float64, nightW float64) float64 {
	if h := t.Hour(); h > 7 && h < 19 {
		return dayW
	}
	return nightW
}

// HouseEnergyUntil integrates the day/night average house power (W) from t until next, in kWh.
func HouseEnergyUntil(t time.Time, next time.Time, dayW float64, nightW float64) float64 {
	total := 0.0
	for s := t; s.Before(next); {
		end := s.Truncate(30 * time.Minute).Add(30 * time.Minute)
		if end.After(next) {
			end = next
		}
		total += housePowerAt(s, dayW, nightW) / 1000 * end.Sub(s).Hours()
		s = end
	}
	return total
}

// BatteryUseUntil is the energy the battery has to deliver until PV meets demand: the house load during
// price slots above the discharge price minus the PV energy expected until then. Without a price curve
// the mean of day and night load is used.
func BatteryUseUntil(t time.Time, next time.Time, prices []domain.PriceSlot, dischargePrice float64, dayW float64,
	nightW float64, pvEnergyUntil float64) float64 {

	if len(prices) == 0 {
		return math.Max(0, next.Sub(t).Hours()) * (dayW + nightW) / 2 / 1000
	}
	total := 0.0
	for _, slot := range prices {
		stop := slot.End
		if stop.After(next) {
			stop = next
		}
		if !t.Before(stop) || !slot.Start.Before(next) || slot.Price <= dischargePrice {
			continue
		}
		from := slot.Start
		if t.After(from) {
			from = t
		}
		total += housePowerAt(slot.Start, dayW, nightW) / 1000 * stop.Sub(from).Hours()
	}
	return math.Max(0, total-pvEnergyUntil)
}

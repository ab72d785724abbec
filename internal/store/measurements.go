package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertMeasurement stores one sample stamped with the server clock. Per
// device, timestamps are strictly increasing: a sample that would not sort
// after the previous one is moved one microsecond past it.
func (r *Repo) InsertMeasurement(ctx context.Context, deviceID string, readings Readings) (*Measurement, error) {
	m := &Measurement{
		ID:       uuid.New(),
		DeviceID: deviceID,
		Readings: readings,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ts := r.clock().Truncate(time.Microsecond)
		var last Measurement
		err := tx.Select("timestamp").Where("device_id = ?", deviceID).Order("timestamp desc").Take(&last).Error
		switch {
		case err == nil:
			prev := last.Timestamp.UTC()
			if !ts.After(prev) {
				ts = prev.Add(time.Microsecond)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		m.Timestamp = ts
		return tx.Create(m).Error
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMeasurements returns samples newest first. Zero bounds are open.
func (r *Repo) ListMeasurements(ctx context.Context, deviceID string, start, end time.Time, limit int) ([]Measurement, error) {
	if limit <= 0 {
		limit = 1000
	}
	if limit > 10000 {
		limit = 10000
	}
	exprs := []clause.Expression{
		clause.Eq{Column: clause.Column{Name: "device_id"}, Value: deviceID},
	}
	if !start.IsZero() {
		exprs = append(exprs, clause.Gte{Column: clause.Column{Name: "timestamp"}, Value: start.UTC()})
	}
	if !end.IsZero() {
		exprs = append(exprs, clause.Lte{Column: clause.Column{Name: "timestamp"}, Value: end.UTC()})
	}
	var rows []Measurement
	err := r.db.WithContext(ctx).
		Clauses(clause.Where{Exprs: exprs}).
		Order("timestamp desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// LatestMeasurement returns nil when the device has never reported.
func (r *Repo) LatestMeasurement(ctx context.Context, deviceID string) (*Measurement, error) {
	var m Measurement
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).Order("timestamp desc").Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

type DeviceStats struct {
	TotalMeasurements int64      `json:"total_measurements"`
	FirstMeasurement  *time.Time `json:"first_measurement"`
	LastMeasurement   *time.Time `json:"last_measurement"`
	AvgCO2            *float64   `json:"avg_co2"`
	AvgPM25           *float64   `json:"avg_pm25"`
	AvgTemperature    *float64   `json:"avg_temperature"`
	AvgHumidity       *float64   `json:"avg_humidity"`
}

func (r *Repo) DeviceStats(ctx context.Context, deviceID string) (DeviceStats, error) {
	var agg struct {
		Total    int64    `gorm:"column:total"`
		CO2      *float64 `gorm:"column:avg_co2"`
		PM25     *float64 `gorm:"column:avg_pm25"`
		Temp     *float64 `gorm:"column:avg_temp"`
		Humidity *float64 `gorm:"column:avg_humidity"`
	}
	err := r.db.WithContext(ctx).Model(&Measurement{}).
		Select("COUNT(*) AS total, AVG(rco2) AS avg_co2, AVG(pm02) AS avg_pm25, AVG(atmp) AS avg_temp, AVG(rhum) AS avg_humidity").
		Where("device_id = ?", deviceID).
		Scan(&agg).Error
	if err != nil {
		return DeviceStats{}, err
	}
	stats := DeviceStats{
		TotalMeasurements: agg.Total,
		AvgCO2:            agg.CO2,
		AvgPM25:           agg.PM25,
		AvgTemperature:    agg.Temp,
		AvgHumidity:       agg.Humidity,
	}
	if agg.Total == 0 {
		return stats, nil
	}
	// Timestamps are read as plain columns so every driver hands back a time.
	var first, last Measurement
	if err := r.db.WithContext(ctx).Select("timestamp").Where("device_id = ?", deviceID).Order("timestamp asc").Take(&first).Error; err != nil {
		return DeviceStats{}, err
	}
	if err := r.db.WithContext(ctx).Select("timestamp").Where("device_id = ?", deviceID).Order("timestamp desc").Take(&last).Error; err != nil {
		return DeviceStats{}, err
	}
	f, l := first.Timestamp.UTC(), last.Timestamp.UTC()
	stats.FirstMeasurement = &f
	stats.LastMeasurement = &l
	return stats, nil
}

type Summary struct {
	TotalDevices      int64    `json:"totalDevices"`
	ActiveDevices     int64    `json:"activeDevices"`
	TotalMeasurements int64    `json:"totalMeasurements"`
	Averages          Averages `json:"averages"`
}

// Averages are fleet means: each device's own mean counts once, whatever its
// sample count. Devices without data for a metric are skipped.
type Averages struct {
	CO2  float64 `json:"co2"`
	PM25 float64 `json:"pm25"`
}

// Summary aggregates over all devices, or the ones owned by ownerID when set.
func (r *Repo) Summary(ctx context.Context, ownerID *uuid.UUID, activeSince time.Time) (Summary, error) {
	var out Summary
	devices := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&Device{})
		if ownerID != nil {
			q = q.Where("owner_id = ?", *ownerID)
		}
		return q
	}
	measurements := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&Measurement{})
		if ownerID != nil {
			q = q.Where("device_id IN (?)", r.db.Model(&Device{}).Select("device_id").Where("owner_id = ?", *ownerID))
		}
		return q
	}

	if err := devices().Count(&out.TotalDevices).Error; err != nil {
		return Summary{}, err
	}
	if err := devices().Where("last_seen >= ?", activeSince.UTC()).Count(&out.ActiveDevices).Error; err != nil {
		return Summary{}, err
	}
	if err := measurements().Count(&out.TotalMeasurements).Error; err != nil {
		return Summary{}, err
	}

	var perDevice []struct {
		DeviceID string   `gorm:"column:device_id"`
		CO2      *float64 `gorm:"column:avg_co2"`
		PM25     *float64 `gorm:"column:avg_pm25"`
	}
	err := measurements().
		Select("device_id, AVG(rco2) AS avg_co2, AVG(pm02) AS avg_pm25").
		Group("device_id").
		Scan(&perDevice).Error
	if err != nil {
		return Summary{}, err
	}
	var co2Sum, pmSum float64
	var co2N, pmN int
	for _, d := range perDevice {
		if d.CO2 != nil {
			co2Sum += *d.CO2
			co2N++
		}
		if d.PM25 != nil {
			pmSum += *d.PM25
			pmN++
		}
	}
	if co2N > 0 {
		out.Averages.CO2 = math.Round(co2Sum / float64(co2N))
	}
	if pmN > 0 {
		out.Averages.PM25 = math.Round(pmSum/float64(pmN)*10) / 10
	}
	return out, nil
}

// DeleteMeasurementsBefore removes samples strictly older than cutoff.
func (r *Repo) DeleteMeasurementsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&Measurement{})
	return res.RowsAffected, res.Error
}

package measurementRepository

import (
	"context"
	"database/sql"
	"errors"
	"optifocus/internal/api/measurement"
	"optifocus/internal/entity"
	contextPkg "optifocus/pkg/context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type MeasurementDB struct {
	ID          sql.NullString  `db:"id"`
	RequestID   sql.NullString  `db:"request_id"`
	ImageSHA256 sql.NullString  `db:"image_sha256"`
	ImageWidth  sql.NullInt64   `db:"image_width"`
	ImageHeight sql.NullInt64   `db:"image_height"`
	Status      sql.NullString  `db:"status"`
	PDTotalMM   sql.NullFloat64 `db:"pd_total_mm"`
	Response    []byte          `db:"response"`
	ImageURL    sql.NullString  `db:"image_url"`
	CreatedAt   time.Time       `db:"created_at"`
}

func (r *measurementRepository) CreateMeasurement(c context.Context, m entity.Measurement) error {
	requestID := contextPkg.GetRequestID(c)

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	argsKV := map[string]interface{}{
		"id":           m.ID,
		"request_id":   m.RequestID,
		"image_sha256": m.ImageSHA256,
		"image_width":  m.ImageWidth,
		"image_height": m.ImageHeight,
		"status":       m.Status,
		"pd_total_mm":  m.PDTotalMM,
		"response":     string(m.Response),
		"image_url":    m.ImageURL,
		"created_at":   createdAt,
	}

	query, args, err := sqlx.Named(queryCreateMeasurement, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to build SQL query for CreateMeasurement")
		return err
	}
	query = r.q.Rebind(query)

	if _, err = r.q.ExecContext(c, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Database error when creating measurement")
		return err
	}

	return nil
}

func (r *measurementRepository) GetMeasurementByID(c context.Context, id string) (entity.Measurement, error) {
	requestID := contextPkg.GetRequestID(c)
	var row MeasurementDB

	query, args, err := sqlx.Named(queryGetMeasurementByID, map[string]interface{}{"id": id})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetMeasurementByID named query preparation err")
		return entity.Measurement{}, err
	}
	query = r.q.Rebind(query)

	if err := r.q.QueryRowxContext(c, query, args...).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.WithFields(logrus.Fields{
				"request_id": requestID,
				"id":         id,
			}).Warn("GetMeasurementByID no rows found")
			return entity.Measurement{}, measurement.ErrMeasurementNotFound
		}
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetMeasurementByID execution err")
		return entity.Measurement{}, err
	}

	return r.makeMeasurement(row), nil
}

// ListMeasurements returns one page, newest first, and the total row count.
func (r *measurementRepository) ListMeasurements(c context.Context, limit, offset int) ([]entity.Measurement, int, error) {
	requestID := contextPkg.GetRequestID(c)

	var total int
	if err := r.q.QueryRowxContext(c, queryCountMeasurements).Scan(&total); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ListMeasurements count err")
		return nil, 0, err
	}

	query, args, err := sqlx.Named(queryListMeasurements, map[string]interface{}{
		"limit":  limit,
		"offset": offset,
	})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ListMeasurements named query preparation err")
		return nil, 0, err
	}
	query = r.q.Rebind(query)

	var rows []MeasurementDB
	if err := r.q.SelectContext(c, &rows, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ListMeasurements execution err")
		return nil, 0, err
	}

	measurements := make([]entity.Measurement, 0, len(rows))
	for _, row := range rows {
		measurements = append(measurements, r.makeMeasurement(row))
	}

	return measurements, total, nil
}

func (r *measurementRepository) DeleteMeasurement(c context.Context, id string) error {
	requestID := contextPkg.GetRequestID(c)

	query, args, err := sqlx.Named(queryDeleteMeasurement, map[string]interface{}{"id": id})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("DeleteMeasurement named query preparation err")
		return err
	}
	query = r.q.Rebind(query)

	result, err := r.q.ExecContext(c, query, args...)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("DeleteMeasurement execution err")
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return measurement.ErrMeasurementNotFound
	}

	return nil
}

func (r *measurementRepository) makeMeasurement(row MeasurementDB) entity.Measurement {
	m := entity.Measurement{
		ID:          row.ID.String,
		RequestID:   row.RequestID.String,
		ImageSHA256: row.ImageSHA256.String,
		ImageWidth:  int(row.ImageWidth.Int64),
		ImageHeight: int(row.ImageHeight.Int64),
		Status:      row.Status.String,
		Response:    row.Response,
		ImageURL:    row.ImageURL.String,
		CreatedAt:   row.CreatedAt,
	}

	if row.PDTotalMM.Valid {
		pd := row.PDTotalMM.Float64
		m.PDTotalMM = &pd
	}

	return m
}

package measurementRepository

import (
	"context"
	"database/sql"
	"errors"
	"optifocus/internal/api/measurement"
	"optifocus/internal/entity"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var measurementColumns = []string{
	"id", "request_id", "image_sha256", "image_width", "image_height",
	"status", "pd_total_mm", "response", "image_url", "created_at",
}

func newMockClient(t *testing.T) (Client, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	repo := New(sqlx.NewDb(mockDB, "postgres"), logrus.New())
	client, err := repo.NewClient(false)
	require.NoError(t, err)

	return client, mock
}

func TestCreateMeasurement(t *testing.T) {
	client, mock := newMockClient(t)

	pd := 63.3
	createdAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := entity.Measurement{
		ID:          "01HX0000000000000000000000",
		RequestID:   "req-1",
		ImageSHA256: "abc",
		ImageWidth:  640,
		ImageHeight: 480,
		Status:      "OK",
		PDTotalMM:   &pd,
		Response:    []byte(`{"status":"OK"}`),
		CreatedAt:   createdAt,
	}

	mock.ExpectExec("INSERT INTO measurements").
		WithArgs(m.ID, m.RequestID, m.ImageSHA256, 640, 480, "OK", 63.3, `{"status":"OK"}`, "", createdAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, client.Measurement.CreateMeasurement(context.Background(), m))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMeasurementError(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec("INSERT INTO measurements").WillReturnError(errors.New("connection reset"))

	err := client.Measurement.CreateMeasurement(context.Background(), entity.Measurement{ID: "x", Response: []byte("{}")})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMeasurementByID(t *testing.T) {
	client, mock := newMockClient(t)
	createdAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM measurements\\s+WHERE id = \\$1").
		WithArgs("m-1").
		WillReturnRows(sqlmock.NewRows(measurementColumns).
			AddRow("m-1", "req-1", "abc", 640, 480, "OK", 62.5, []byte(`{"status":"OK"}`), "measurements/m-1.jpg", createdAt))

	m, err := client.Measurement.GetMeasurementByID(context.Background(), "m-1")
	require.NoError(t, err)
	require.Equal(t, "m-1", m.ID)
	require.Equal(t, 640, m.ImageWidth)
	require.NotNil(t, m.PDTotalMM)
	require.Equal(t, 62.5, *m.PDTotalMM)
	require.JSONEq(t, `{"status":"OK"}`, string(m.Response))
	require.Equal(t, "measurements/m-1.jpg", m.ImageURL)
	require.True(t, createdAt.Equal(m.CreatedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMeasurementByIDNullPD(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery("FROM measurements").
		WithArgs("m-2").
		WillReturnRows(sqlmock.NewRows(measurementColumns).
			AddRow("m-2", "req-2", "def", 10, 10, "ERROR", nil, []byte(`{}`), "", time.Now()))

	m, err := client.Measurement.GetMeasurementByID(context.Background(), "m-2")
	require.NoError(t, err)
	require.Nil(t, m.PDTotalMM)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMeasurementByIDNotFound(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery("FROM measurements").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := client.Measurement.GetMeasurementByID(context.Background(), "missing")
	require.ErrorIs(t, err, measurement.ErrMeasurementNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListMeasurements(t *testing.T) {
	client, mock := newMockClient(t)
	now := time.Now()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM measurements").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("ORDER BY created_at DESC, id DESC\\s+LIMIT \\$1 OFFSET \\$2").
		WithArgs(2, 2).
		WillReturnRows(sqlmock.NewRows(measurementColumns).
			AddRow("m-1", "req-1", "abc", 640, 480, "OK", 62.5, []byte(`{}`), "", now))

	items, total, err := client.Measurement.ListMeasurements(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, items, 1)
	require.Equal(t, "m-1", items[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMeasurement(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec("DELETE FROM measurements").WithArgs("m-1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, client.Measurement.DeleteMeasurement(context.Background(), "m-1"))

	mock.ExpectExec("DELETE FROM measurements").WithArgs("m-1").WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, client.Measurement.DeleteMeasurement(context.Background(), "m-1"), measurement.ErrMeasurementNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewClientTransaction(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM measurements").WithArgs("m-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	client, err := New(sqlx.NewDb(mockDB, "postgres"), logrus.New()).NewClient(true)
	require.NoError(t, err)

	require.NoError(t, client.Measurement.DeleteMeasurement(context.Background(), "m-1"))
	require.NoError(t, client.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

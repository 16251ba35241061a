package measurementService

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"optifocus/internal/api/measurement"
	measurementRepository "optifocus/internal/api/measurement/repository"
	"optifocus/internal/entity"
	"optifocus/pkg/redis"
	"optifocus/pkg/utils"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakePupil struct {
	mu     sync.Mutex
	result entity.BackendResult
	err    error
	frames []*entity.Frame
}

func (f *fakePupil) ProcessBGR(_ context.Context, frame *entity.Frame) (entity.BackendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return f.result, f.err
}

func (f *fakePupil) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fakeFrame struct {
	result entity.BackendResult
	err    error
}

func (f *fakeFrame) ProcessFrame(_ context.Context, _ *entity.Frame) (entity.BackendResult, error) {
	return f.result, f.err
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttl     time.Duration
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) SetResult(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	c.ttl = ttl
	return nil
}

func (c *memoryCache) GetResult(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return nil, redis.ErrCacheMiss
	}
	return v, nil
}

func (c *memoryCache) DeleteResult(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memoryCache) Close() error { return nil }

type fakeS3 struct {
	uploads map[string]string
	deleted []string
	failPut bool
}

func (f *fakeS3) UploadImage(_ context.Context, key string, _ []byte, contentType string) (string, error) {
	if f.failPut {
		return "", errors.New("access denied")
	}
	if f.uploads == nil {
		f.uploads = map[string]string{}
	}
	f.uploads[key] = contentType
	return "https://bucket.s3.amazonaws.com/" + key, nil
}

func (f *fakeS3) PresignUrl(_ context.Context, fileUrl string) (string, error) {
	return fileUrl + "?signed=1", nil
}

func (f *fakeS3) DeleteFile(_ context.Context, fileUrl string) error {
	f.deleted = append(f.deleted, fileUrl)
	return nil
}

type memoryStore struct {
	mu        sync.Mutex
	rows      map[string]entity.Measurement
	createErr error
	commits   int
	rollbacks int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: map[string]entity.Measurement{}}
}

func (s *memoryStore) NewClient(_ bool) (measurementRepository.Client, error) {
	return measurementRepository.Client{
		Measurement: s,
		Commit: func() error {
			s.commits++
			return nil
		},
		Rollback: func() error {
			s.rollbacks++
			return nil
		},
	}, nil
}

func (s *memoryStore) CreateMeasurement(_ context.Context, m entity.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.rows[m.ID] = m
	return nil
}

func (s *memoryStore) GetMeasurementByID(_ context.Context, id string) (entity.Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return entity.Measurement{}, measurement.ErrMeasurementNotFound
	}
	return m, nil
}

func (s *memoryStore) ListMeasurements(_ context.Context, limit, offset int) ([]entity.Measurement, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Measurement
	for _, m := range s.rows {
		out = append(out, m)
	}
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *memoryStore) DeleteMeasurement(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return measurement.ErrMeasurementNotFound
	}
	delete(s.rows, id)
	return nil
}

func facePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	for x := 0; x < 8; x++ {
		for y := 0; y < 6; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 30), G: uint8(y * 40), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	pupil *fakePupil
	frame *fakeFrame
	cache *memoryCache
	s3    *fakeS3
	store *memoryStore
}

func newFixture() *fixture {
	return &fixture{
		pupil: &fakePupil{result: entity.BackendResult{"status": "OK", "pd_mm": 62.04}},
		frame: &fakeFrame{result: entity.BackendResult{"detected": true, "A_mm": 48.0, "B_mm": 30.0, "DBL_mm": 18.0}},
		cache: newMemoryCache(),
		s3:    &fakeS3{},
		store: newMemoryStore(),
	}
}

func (f *fixture) service() IMeasurementService {
	return NewMeasurementService(logrus.New(), f.store, f.cache, f.s3, utils.New(), f.pupil, f.frame, time.Minute)
}

func TestProcessBase64(t *testing.T) {
	f := newFixture()
	svc := f.service()
	raw := facePNG(t)

	outcome, err := svc.ProcessBase64(context.Background(), base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.False(t, outcome.Cached)
	require.NotEmpty(t, outcome.MeasurementID)

	resp := outcome.Response
	require.Equal(t, "OK", resp.Status)
	require.Equal(t, 8, resp.Image.Width)
	require.Equal(t, 6, resp.Image.Height)
	require.Equal(t, ptr(62.0), resp.PD.TotalMM)
	require.True(t, resp.Eyes.Valid)
	require.True(t, resp.Frame.Detected)
	require.Equal(t, ptr(18.0), resp.Frame.DBLMM)

	require.Len(t, f.pupil.frames, 1)
	require.Equal(t, 8*6*3, len(f.pupil.frames[0].Data))

	stored, ok := f.store.rows[outcome.MeasurementID]
	require.True(t, ok)
	require.Equal(t, "OK", stored.Status)
	require.Equal(t, ptr(62.0), stored.PDTotalMM)
	require.Equal(t, utils.New().HashImage(raw), stored.ImageSHA256)
	require.Contains(t, string(stored.Response), `"total_mm":62`)
	require.Equal(t, "https://bucket.s3.amazonaws.com/measurements/"+outcome.MeasurementID+".png", stored.ImageURL)
	require.Equal(t, "image/png", f.s3.uploads["measurements/"+outcome.MeasurementID+".png"])
	require.Equal(t, time.Minute, f.cache.ttl)
}

func TestProcessUsesCacheForIdenticalImages(t *testing.T) {
	f := newFixture()
	svc := f.service()
	raw := facePNG(t)

	first, err := svc.ProcessImage(context.Background(), raw)
	require.NoError(t, err)

	second, err := svc.ProcessImage(context.Background(), raw)
	require.NoError(t, err)

	require.True(t, second.Cached)
	require.Equal(t, first.MeasurementID, second.MeasurementID)
	require.Equal(t, first.Response.PD.TotalMM, second.Response.PD.TotalMM)
	require.Equal(t, 1, f.pupil.calls())
	require.Len(t, f.store.rows, 1)
}

func TestProcessWithoutOptionalCollaborators(t *testing.T) {
	f := newFixture()
	svc := NewMeasurementService(logrus.New(), nil, nil, nil, utils.New(), f.pupil, f.frame, time.Minute)

	outcome, err := svc.ProcessImage(context.Background(), facePNG(t))
	require.NoError(t, err)
	require.Empty(t, outcome.MeasurementID)
	require.False(t, outcome.Cached)
}

func TestProcessIgnoresPersistenceFailures(t *testing.T) {
	f := newFixture()
	f.store.createErr = errors.New("disk full")
	f.s3.failPut = true

	outcome, err := f.service().ProcessImage(context.Background(), facePNG(t))
	require.NoError(t, err)
	require.Empty(t, outcome.MeasurementID)
	require.NotNil(t, outcome.Response)
}

func TestProcessErrors(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		_, err := newFixture().service().ProcessBase64(context.Background(), "")
		require.ErrorIs(t, err, measurement.ErrImageRequired)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := newFixture().service().ProcessBase64(context.Background(), "!!not-base64!!")
		require.ErrorIs(t, err, utils.ErrInvalidBase64)
	})

	t.Run("not an image", func(t *testing.T) {
		_, err := newFixture().service().ProcessBase64(context.Background(), base64.StdEncoding.EncodeToString([]byte("hello world")))
		require.ErrorIs(t, err, utils.ErrUnknownFormat)
	})

	t.Run("pupil backend failure", func(t *testing.T) {
		f := newFixture()
		f.pupil.err = errors.New("connection refused")

		_, err := f.service().ProcessImage(context.Background(), facePNG(t))
		require.Error(t, err)
		require.Contains(t, err.Error(), "connection refused")
		require.Empty(t, f.store.rows)
	})

	t.Run("frame detector failure", func(t *testing.T) {
		f := newFixture()
		f.frame.err = errors.New("model not loaded")

		_, err := f.service().ProcessImage(context.Background(), facePNG(t))
		require.Error(t, err)
	})

	t.Run("unconvertible value", func(t *testing.T) {
		f := newFixture()
		f.pupil.result = entity.BackendResult{"head_tilt_deg": "tilted"}

		_, err := f.service().ProcessImage(context.Background(), facePNG(t))
		require.Error(t, err)
		require.Empty(t, f.cache.entries)
	})
}

func TestWarmupIgnoresErrors(t *testing.T) {
	f := newFixture()
	f.pupil.err = errors.New("not ready")

	f.service().Warmup(context.Background())

	require.Len(t, f.pupil.frames, 1)
	require.Equal(t, 320, f.pupil.frames[0].Width)
	require.Equal(t, 240, f.pupil.frames[0].Height)
	require.True(t, f.pupil.frames[0].IsBlank())
}

func TestMeasurementHistory(t *testing.T) {
	f := newFixture()
	svc := f.service()

	outcome, err := svc.ProcessImage(context.Background(), facePNG(t))
	require.NoError(t, err)
	id := outcome.MeasurementID

	got, err := svc.GetMeasurement(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id, got.ID)
	require.Equal(t, "https://bucket.s3.amazonaws.com/measurements/"+id+".png?signed=1", got.ImageURL)
	require.JSONEq(t, string(f.store.rows[id].Response), string(got.Result))

	list, err := svc.ListMeasurements(context.Background(), 0, 500)
	require.NoError(t, err)
	require.Equal(t, 1, list.Page)
	require.Equal(t, 100, list.Limit)
	require.Equal(t, 1, list.Total)
	require.Len(t, list.Measurements, 1)

	require.NoError(t, svc.DeleteMeasurement(context.Background(), id))
	require.Empty(t, f.store.rows)
	require.Empty(t, f.cache.entries)
	require.Equal(t, []string{"https://bucket.s3.amazonaws.com/measurements/" + id + ".png"}, f.s3.deleted)
	require.Equal(t, 1, f.store.commits)

	_, err = svc.GetMeasurement(context.Background(), id)
	require.ErrorIs(t, err, measurement.ErrMeasurementNotFound)

	err = svc.DeleteMeasurement(context.Background(), id)
	require.ErrorIs(t, err, measurement.ErrMeasurementNotFound)
	require.Equal(t, 1, f.store.rollbacks)
}

func TestHistoryDisabled(t *testing.T) {
	f := newFixture()
	svc := NewMeasurementService(logrus.New(), nil, nil, nil, utils.New(), f.pupil, f.frame, time.Minute)

	_, err := svc.GetMeasurement(context.Background(), "x")
	require.ErrorIs(t, err, measurement.ErrHistoryDisabled)

	_, err = svc.ListMeasurements(context.Background(), 1, 10)
	require.ErrorIs(t, err, measurement.ErrHistoryDisabled)

	require.ErrorIs(t, svc.DeleteMeasurement(context.Background(), "x"), measurement.ErrHistoryDisabled)
}

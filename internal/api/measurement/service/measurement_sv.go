package measurementService

import (
	"context"
	"errors"
	"fmt"
	"optifocus/internal/api/measurement"
	"optifocus/internal/entity"
	contextPkg "optifocus/pkg/context"
	"optifocus/pkg/log"
	"optifocus/pkg/redis"
	"optifocus/pkg/s3"
	"optifocus/pkg/utils"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	cacheKeyPrefix = "measurement:"
	defaultLimit   = 20
	maxLimit       = 100
)

// cachedOutcome is what the result cache stores per image hash.
type cachedOutcome struct {
	MeasurementID string                       `json:"measurement_id,omitempty"`
	Response      *measurement.ProcessResponse `json:"response"`
}

func (s *measurementService) ProcessBase64(ctx context.Context, imageB64 string) (*measurement.ProcessOutcome, error) {
	if imageB64 == "" {
		return nil, measurement.ErrImageRequired
	}

	raw, err := s.utils.DecodeBase64Image(imageB64)
	if err != nil {
		return nil, err
	}

	return s.ProcessImage(ctx, raw)
}

// ProcessImage decodes raw image bytes, runs both collaborators and shapes
// their output. Cache, archive and history failures are logged only.
func (s *measurementService) ProcessImage(ctx context.Context, raw []byte) (*measurement.ProcessOutcome, error) {
	requestID := contextPkg.GetRequestID(ctx)
	hash := s.utils.HashImage(raw)

	if outcome, ok := s.cachedOutcome(ctx, hash); ok {
		return outcome, nil
	}

	frame, err := s.utils.DecodeFrame(raw)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"width":      frame.Width,
		"height":     frame.Height,
		"format":     frame.Format,
	}).Debug("Decoded measurement frame")

	pdResult, frameResult, err := s.runCollaborators(ctx, frame)
	if err != nil {
		return nil, err
	}

	resp, err := assembleResponse(frame, pdResult, frameResult)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to assemble measurement response")
		return nil, err
	}

	outcome := &measurement.ProcessOutcome{Response: resp}
	outcome.MeasurementID = s.persist(ctx, hash, frame, resp)
	s.storeCache(ctx, hash, outcome)

	return outcome, nil
}

func (s *measurementService) runCollaborators(ctx context.Context, frame *entity.Frame) (entity.BackendResult, entity.BackendResult, error) {
	var pdResult, frameResult entity.BackendResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := s.pupil.ProcessBGR(gctx, frame)
		if err != nil {
			return fmt.Errorf("pupil backend: %w", err)
		}
		pdResult = res
		return nil
	})
	g.Go(func() error {
		res, err := s.frame.ProcessFrame(gctx, frame)
		if err != nil {
			return fmt.Errorf("frame detector: %w", err)
		}
		frameResult = res
		return nil
	})

	if err := g.Wait(); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"error":      err.Error(),
		}).Error("Vision collaborator failed")
		return nil, nil, err
	}

	return pdResult, frameResult, nil
}

// Warmup pushes a blank 320x240 frame through both collaborators so the
// first real request does not pay for connection setup. Errors are ignored.
func (s *measurementService) Warmup(ctx context.Context) {
	frame := entity.NewBlankFrame(320, 240)

	if _, err := s.pupil.ProcessBGR(ctx, frame); err != nil {
		s.log.WithError(err).Debug("Pupil backend warm-up failed")
	}
	if _, err := s.frame.ProcessFrame(ctx, frame); err != nil {
		s.log.WithError(err).Debug("Frame detector warm-up failed")
	}

	s.log.Info("Measurement pipeline warmed up")
}

func (s *measurementService) cachedOutcome(ctx context.Context, hash string) (*measurement.ProcessOutcome, bool) {
	if s.cache == nil {
		return nil, false
	}

	data, err := s.cache.GetResult(ctx, cacheKeyPrefix+hash)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.log.WithFields(logrus.Fields{
				"request_id": contextPkg.GetRequestID(ctx),
				"error":      err.Error(),
			}).Warn("Result cache lookup failed")
		}
		return nil, false
	}

	var cached cachedOutcome
	if err := jsonCodec.Unmarshal(data, &cached); err != nil || cached.Response == nil {
		log.WithRequestID(s.log, ctx).Warn("Discarding unreadable cache entry")
		return nil, false
	}

	return &measurement.ProcessOutcome{
		Response:      cached.Response,
		MeasurementID: cached.MeasurementID,
		Cached:        true,
	}, true
}

func (s *measurementService) storeCache(ctx context.Context, hash string, outcome *measurement.ProcessOutcome) {
	if s.cache == nil {
		return
	}

	data, err := jsonCodec.Marshal(cachedOutcome{
		MeasurementID: outcome.MeasurementID,
		Response:      outcome.Response,
	})
	if err != nil {
		s.log.WithError(err).Warn("Failed to encode measurement for cache")
		return
	}

	if err := s.cache.SetResult(ctx, cacheKeyPrefix+hash, data, s.cacheTTL); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"error":      err.Error(),
		}).Warn("Failed to cache measurement")
	}
}

// persist archives the photo and records the measurement. It returns the
// measurement ID, or "" when history is disabled or the insert failed.
func (s *measurementService) persist(ctx context.Context, hash string, frame *entity.Frame, resp *measurement.ProcessResponse) string {
	if s.measurementRepository == nil {
		return ""
	}

	requestID := contextPkg.GetRequestID(ctx)

	id, err := s.utils.NewULIDFromTimestamp(time.Now())
	if err != nil {
		log.WithRequestID(s.log, ctx).WithError(err).Error("Failed to generate measurement ID")
		return ""
	}

	body, err := jsonCodec.Marshal(resp)
	if err != nil {
		log.WithRequestID(s.log, ctx).WithError(err).Error("Failed to encode measurement response")
		return ""
	}

	m := entity.Measurement{
		ID:          id,
		RequestID:   requestID,
		ImageSHA256: hash,
		ImageWidth:  frame.Width,
		ImageHeight: frame.Height,
		Status:      statusString(resp.Status),
		PDTotalMM:   resp.PD.TotalMM,
		Response:    body,
		CreatedAt:   time.Now(),
	}

	if s.s3 != nil && len(frame.Encoded) > 0 {
		key := s3.ImageKey(id, utils.ImageExtension(frame.Format))
		location, err := s.s3.UploadImage(ctx, key, frame.Encoded, "image/"+frame.Format)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"request_id": requestID,
				"key":        key,
				"error":      err.Error(),
			}).Warn("Failed to archive measurement photo")
		} else {
			m.ImageURL = location
		}
	}

	client, err := s.measurementRepository.NewClient(false)
	if err != nil {
		log.WithRequestID(s.log, ctx).WithError(err).Error("Failed to create repository client")
		return ""
	}

	if err := client.Measurement.CreateMeasurement(ctx, m); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Warn("Failed to record measurement")
		return ""
	}

	return id
}

func (s *measurementService) GetMeasurement(ctx context.Context, id string) (*measurement.MeasurementResponse, error) {
	if s.measurementRepository == nil {
		return nil, measurement.ErrHistoryDisabled
	}

	client, err := s.measurementRepository.NewClient(false)
	if err != nil {
		return nil, err
	}

	m, err := client.Measurement.GetMeasurementByID(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := makeMeasurementResponse(m)
	if m.ImageURL != "" && s.s3 != nil {
		presigned, err := s.s3.PresignUrl(ctx, m.ImageURL)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"request_id": contextPkg.GetRequestID(ctx),
				"id":         id,
				"error":      err.Error(),
			}).Warn("Failed to presign measurement photo")
		} else {
			resp.ImageURL = presigned
		}
	}

	return &resp, nil
}

func (s *measurementService) ListMeasurements(ctx context.Context, page, limit int) (*measurement.MeasurementListResponse, error) {
	if s.measurementRepository == nil {
		return nil, measurement.ErrHistoryDisabled
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	client, err := s.measurementRepository.NewClient(false)
	if err != nil {
		return nil, err
	}

	items, total, err := client.Measurement.ListMeasurements(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}

	list := &measurement.MeasurementListResponse{
		Measurements: make([]measurement.MeasurementResponse, 0, len(items)),
		Total:        total,
		Page:         page,
		Limit:        limit,
	}
	for _, m := range items {
		list.Measurements = append(list.Measurements, makeMeasurementResponse(m))
	}

	return list, nil
}

// DeleteMeasurement removes the record, its archived photo and any cached
// response for the same image.
func (s *measurementService) DeleteMeasurement(ctx context.Context, id string) error {
	if s.measurementRepository == nil {
		return measurement.ErrHistoryDisabled
	}

	requestID := contextPkg.GetRequestID(ctx)

	client, err := s.measurementRepository.NewClient(true)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := client.Rollback(); rbErr != nil {
				s.log.WithError(rbErr).Error("Failed to rollback measurement deletion")
			}
		}
	}()

	m, err := client.Measurement.GetMeasurementByID(ctx, id)
	if err != nil {
		return err
	}

	if err = client.Measurement.DeleteMeasurement(ctx, id); err != nil {
		return err
	}

	if err = client.Commit(); err != nil {
		return err
	}

	if m.ImageURL != "" && s.s3 != nil {
		if s3Err := s.s3.DeleteFile(ctx, m.ImageURL); s3Err != nil {
			s.log.WithFields(logrus.Fields{
				"request_id": requestID,
				"id":         id,
				"error":      s3Err.Error(),
			}).Warn("Failed to delete archived photo")
		}
	}

	if s.cache != nil {
		if cacheErr := s.cache.DeleteResult(ctx, cacheKeyPrefix+m.ImageSHA256); cacheErr != nil {
			s.log.WithField("request_id", requestID).Warn("Failed to evict cached measurement")
		}
	}

	return nil
}

func makeMeasurementResponse(m entity.Measurement) measurement.MeasurementResponse {
	return measurement.MeasurementResponse{
		ID:          m.ID,
		RequestID:   m.RequestID,
		ImageSHA256: m.ImageSHA256,
		ImageWidth:  m.ImageWidth,
		ImageHeight: m.ImageHeight,
		Status:      m.Status,
		PDTotalMM:   m.PDTotalMM,
		ImageURL:    m.ImageURL,
		Result:      m.Response,
		CreatedAt:   m.CreatedAt,
	}
}

func statusString(status interface{}) string {
	switch v := status.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

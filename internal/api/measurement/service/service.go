package measurementService

import (
	"context"
	"optifocus/internal/api/measurement"
	measurementRepository "optifocus/internal/api/measurement/repository"
	"optifocus/internal/entity"
	"optifocus/pkg/redis"
	"optifocus/pkg/s3"
	"optifocus/pkg/utils"
	"time"

	"github.com/sirupsen/logrus"
)

// PupilBackend locates the pupils and estimates PD, occlusion and pose.
type PupilBackend interface {
	ProcessBGR(ctx context.Context, frame *entity.Frame) (entity.BackendResult, error)
}

// FrameDetector measures the spectacle frame worn in the photo.
type FrameDetector interface {
	ProcessFrame(ctx context.Context, frame *entity.Frame) (entity.BackendResult, error)
}

type IMeasurementService interface {
	ProcessBase64(ctx context.Context, imageB64 string) (*measurement.ProcessOutcome, error)
	ProcessImage(ctx context.Context, raw []byte) (*measurement.ProcessOutcome, error)
	Warmup(ctx context.Context)
	GetMeasurement(ctx context.Context, id string) (*measurement.MeasurementResponse, error)
	ListMeasurements(ctx context.Context, page, limit int) (*measurement.MeasurementListResponse, error)
	DeleteMeasurement(ctx context.Context, id string) error
}

type measurementService struct {
	log                   *logrus.Logger
	measurementRepository measurementRepository.Repository
	cache                 redis.IRedis
	s3                    s3.ItfS3
	utils                 utils.IUtils
	pupil                 PupilBackend
	frame                 FrameDetector
	cacheTTL              time.Duration
}

// NewMeasurementService wires the measurement pipeline. mr, cache and s3 may
// be nil, which disables history, result caching and photo archiving.
func NewMeasurementService(
	log *logrus.Logger,
	mr measurementRepository.Repository,
	cache redis.IRedis,
	s3 s3.ItfS3,
	utils utils.IUtils,
	pupil PupilBackend,
	frame FrameDetector,
	cacheTTL time.Duration,
) IMeasurementService {
	return &measurementService{
		log:                   log,
		measurementRepository: mr,
		cache:                 cache,
		s3:                    s3,
		utils:                 utils,
		pupil:                 pupil,
		frame:                 frame,
		cacheTTL:              cacheTTL,
	}
}

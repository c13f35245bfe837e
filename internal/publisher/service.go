package publisher

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/angelmondragon/akua-anchor/pkg/db/models"
	"github.com/angelmondragon/akua-anchor/pkg/enums"
	pkgerrors "github.com/angelmondragon/akua-anchor/pkg/errors"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
	"github.com/angelmondragon/akua-anchor/pkg/metrics"
	"gorm.io/gorm"
)

const (
	hashLockScope = "hash"

	defaultStoreTimeout = 10 * time.Second
)

var sha256Pattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// ValidSHA256 reports whether value is 64 lowercase hex characters.
func ValidSHA256(value string) bool {
	return sha256Pattern.MatchString(value)
}

// PublishInput is one publish request.
type PublishInput struct {
	SHA256 string
	Meta   map[string]any
}

// PublishResult is returned for both fresh and previously anchored hashes.
type PublishResult struct {
	SHA256      string              `json:"sha256"`
	TxID        string              `json:"txid"`
	Status      enums.PublishStatus `json:"status"`
	PublishedAt time.Time           `json:"publishedAt"`
	Network     string              `json:"network"`
	Cached      bool                `json:"cached"`
}

// Service coordinates idempotent anchoring of payload hashes.
type Service interface {
	Publish(ctx context.Context, input PublishInput) (PublishResult, error)
	Get(ctx context.Context, sha256 string) (*models.PublishRecord, error)
	Balance(ctx context.Context) (int64, error)
	Network() string
}

// ServiceParams groups dependencies for the publish service.
type ServiceParams struct {
	Repo     Repository
	Anchorer Anchorer
	// Locker is only used when SerializeByHash is set.
	Locker          Locker
	SerializeByHash bool
	// StoreTimeout bounds recording a broadcast anchor once the caller's
	// context no longer applies. Defaults to 10s.
	StoreTimeout time.Duration
	Metrics      *metrics.PublishMetrics
	Logger       *logger.Logger
	Now          func() time.Time
}

type service struct {
	repo            Repository
	anchorer        Anchorer
	locker          Locker
	serializeByHash bool
	storeTimeout    time.Duration
	metrics         *metrics.PublishMetrics
	logg            *logger.Logger
	now             func() time.Time
}

// NewService builds a publish service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "publish repository is required")
	}
	if params.Anchorer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "anchorer is required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger is required")
	}
	locker := params.Locker
	if params.SerializeByHash && locker == nil {
		locker = NewLocalLocker()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	storeTimeout := params.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &service{
		repo:            params.Repo,
		anchorer:        params.Anchorer,
		locker:          locker,
		serializeByHash: params.SerializeByHash,
		storeTimeout:    storeTimeout,
		metrics:         params.Metrics,
		logg:            params.Logger,
		now:             now,
	}, nil
}

// Publish returns the stored anchor for a known hash, otherwise anchors it and
// records the result. When two publishers race on a new hash both broadcast,
// the first insert wins and the loser returns the winner's record.
func (s *service) Publish(ctx context.Context, input PublishInput) (PublishResult, error) {
	hash := strings.TrimSpace(input.SHA256)
	if !ValidSHA256(hash) {
		return PublishResult{}, pkgerrors.New(pkgerrors.CodeValidation, "sha256 must be 64 lowercase hex characters")
	}
	ctx = s.logg.WithHash(ctx, hash)

	if s.serializeByHash {
		unlock, err := s.locker.Lock(ctx, hashLockScope+":"+hash)
		if err != nil {
			s.metrics.IncRequest(metrics.PublishResultError)
			return PublishResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire hash lock")
		}
		defer unlock()
	}

	result, err := s.publish(ctx, hash, input.Meta)
	if err != nil {
		s.metrics.IncRequest(metrics.PublishResultError)
		return PublishResult{}, err
	}
	return result, nil
}

func (s *service) publish(ctx context.Context, hash string, meta map[string]any) (PublishResult, error) {
	existing, err := s.find(ctx, hash)
	if err != nil {
		return PublishResult{}, err
	}
	if existing != nil {
		s.metrics.IncRequest(metrics.PublishResultCached)
		s.logg.Info(s.logg.WithTxID(ctx, existing.TxID), "hash already anchored")
		return resultFrom(existing, true), nil
	}

	anchor, err := s.anchorer.Anchor(ctx, hash)
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, pkgerrors.Diagnose(err).Fields()), "anchor failed", err)
		return PublishResult{}, anchorError(err)
	}
	// The transaction is on chain; losing its record would make a retry
	// broadcast the hash again, so the caller going away must not cancel it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()
	ctx = s.logg.WithTxID(ctx, anchor.TxID)

	record := &models.PublishRecord{
		SHA256:      hash,
		TxID:        anchor.TxID,
		Status:      anchor.Status,
		Network:     s.anchorer.Network(),
		Meta:        meta,
		PublishedAt: s.now().UTC(),
	}
	inserted, err := s.repo.InsertIgnore(ctx, record)
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, pkgerrors.Diagnose(err).Fields()), "anchored hash could not be recorded", err)
		return PublishResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record publish")
	}
	if inserted {
		s.metrics.IncRequest(metrics.PublishResultAnchored)
		s.logg.Info(ctx, "hash anchored")
		return resultFrom(record, false), nil
	}

	winner, err := s.find(ctx, hash)
	if err != nil {
		return PublishResult{}, err
	}
	if winner == nil {
		return PublishResult{}, pkgerrors.New(pkgerrors.CodeInternal, "publish record vanished after conflict")
	}
	s.metrics.IncRequest(metrics.PublishResultRaced)
	s.logg.Warn(s.logg.WithField(ctx, "winner_txid", winner.TxID), "concurrent publish won the insert")
	return resultFrom(winner, false), nil
}

func (s *service) find(ctx context.Context, hash string) (*models.PublishRecord, error) {
	record, err := s.repo.FindBySHA256(ctx, hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load publish record")
	}
	return record, nil
}

// Get returns the stored record for hash.
func (s *service) Get(ctx context.Context, sha256 string) (*models.PublishRecord, error) {
	hash := strings.TrimSpace(sha256)
	if !ValidSHA256(hash) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sha256 must be 64 lowercase hex characters")
	}
	record, err := s.find(ctx, hash)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "hash %s has not been anchored", hash)
	}
	return record, nil
}

func (s *service) Balance(ctx context.Context) (int64, error) {
	return s.anchorer.Balance(ctx)
}

func (s *service) Network() string {
	return s.anchorer.Network()
}

func resultFrom(record *models.PublishRecord, cached bool) PublishResult {
	return PublishResult{
		SHA256:      record.SHA256,
		TxID:        record.TxID,
		Status:      record.Status,
		PublishedAt: record.PublishedAt.UTC(),
		Network:     record.Network,
		Cached:      cached,
	}
}

func anchorError(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "anchor interrupted")
	}
	return builderError(err)
}

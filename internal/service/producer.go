package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"go.uber.org/zap"
)

// EnqueueRequest describes a notification handed to the engine. Payload is
// already encrypted and is stored untouched.
type EnqueueRequest struct {
	DeviceRef string
	Kind      domain.Kind
	Payload   []byte
	// Priority defaults to normal when empty.
	Priority domain.Priority
	// MaxRetries defaults to domain.DefaultMaxRetries when nil. Enqueue
	// rejects values <= 0 with domain.ErrInvalidArgument even though the store
	// accepts a zero budget: such an entry never satisfies
	// retryCount < maxRetries, so it would never be attempted.
	MaxRetries *int
}

type Producer struct {
	store  repository.QueueStore
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewProducer(store repository.QueueStore, logger *zap.Logger) (*Producer, error) {
	if store == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Producer{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// Enqueue stores a new pending entry due immediately and returns its id.
func (p *Producer) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	entry, err := p.newEntry(req)
	if err != nil {
		return "", err
	}

	if err := p.store.Insert(ctx, entry); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		return "", fmt.Errorf("failed to store entry: %w", err)
	}

	p.logger.Debug("entry enqueued",
		zap.String("entryId", entry.ID),
		zap.String("kind", entry.Kind.String()),
		zap.String("priority", entry.Priority.String()),
		zap.Int("maxRetries", entry.MaxRetries),
	)
	return entry.ID, nil
}

func (p *Producer) newEntry(req EnqueueRequest) (*domain.NotificationEntry, error) {
	deviceRef := strings.TrimSpace(req.DeviceRef)
	if deviceRef == "" {
		return nil, fmt.Errorf("%w: device reference is required", domain.ErrInvalidArgument)
	}
	if !req.Kind.IsValid() {
		return nil, fmt.Errorf("%w: invalid kind %q", domain.ErrInvalidArgument, req.Kind)
	}
	if len(req.Payload) == 0 {
		return nil, fmt.Errorf("%w: payload is required", domain.ErrInvalidArgument)
	}

	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !priority.IsValid() {
		return nil, fmt.Errorf("%w: invalid priority %q", domain.ErrInvalidArgument, priority)
	}

	maxRetries := domain.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	// Zero budget would never become eligible.
	if maxRetries <= 0 {
		return nil, fmt.Errorf("%w: max retries must be positive (got %d)", domain.ErrInvalidArgument, maxRetries)
	}

	now := p.now().UTC()
	return &domain.NotificationEntry{
		ID:          p.newID(),
		DeviceRef:   deviceRef,
		Kind:        req.Kind,
		Payload:     append([]byte(nil), req.Payload...),
		Priority:    priority,
		CreatedAt:   now,
		ScheduledAt: now,
		MaxRetries:  maxRetries,
	}, nil
}

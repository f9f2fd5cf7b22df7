/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/shopfloor/internal/events"
	"github.com/friendsincode/shopfloor/internal/models"
)

// actions maps domain events to the audit action they are stored as.
var actions = map[events.EventType]models.AuditAction{
	events.EventSlotCreated:          models.AuditActionSlotCreate,
	events.EventSlotUpdated:          models.AuditActionSlotUpdate,
	events.EventSlotDeleted:          models.AuditActionSlotDelete,
	events.EventSlotBatchApplied:     models.AuditActionSlotBatch,
	events.EventSlotStarted:          models.AuditActionSlotStart,
	events.EventSlotPaused:           models.AuditActionSlotPause,
	events.EventSlotStopped:          models.AuditActionSlotStop,
	events.EventSlotQCRecorded:       models.AuditActionSlotQC,
	events.EventSlotMissingParts:     models.AuditActionSlotMissingParts,
	events.EventSlotOverdue:          models.AuditActionSlotOverdue,
	events.EventOrderCreated:         models.AuditActionOrderCreate,
	events.EventOrderSubmitted:       models.AuditActionOrderSubmit,
	events.EventOrderWorkflowChanged: models.AuditActionOrderWorkflow,
	events.EventOrderReleased:        models.AuditActionOrderRelease,
	events.EventOrderDelivered:       models.AuditActionOrderDeliver,
	events.EventOrderSettled:         models.AuditActionOrderSettle,
	events.EventWorkCenterCreated:    models.AuditActionWorkCenterCreate,
	events.EventWorkCenterUpdated:    models.AuditActionWorkCenterUpdate,
	events.EventWorkCenterDeleted:    models.AuditActionWorkCenterDelete,
}

// ActionFor returns the audit action recorded for an event type.
func ActionFor(eventType events.EventType) (models.AuditAction, bool) {
	action, ok := actions[eventType]
	return action, ok
}

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start subscribes to every domain event and records them until ctx is
// done. The subscription is in place when Start returns; the returned
// channel closes once the consumer has stopped.
func (s *Service) Start(ctx context.Context) <-chan struct{} {
	types := make([]events.EventType, 0, len(actions))
	for _, eventType := range events.DomainEvents {
		if _, ok := ActionFor(eventType); ok {
			types = append(types, eventType)
		}
	}
	envelopes, cancel := s.bus.SubscribeMany(types)
	done := make(chan struct{})

	s.logger.Info().Int("event_types", len(types)).Msg("audit service started")

	go func() {
		defer close(done)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("audit service stopping")
				return
			case env, ok := <-envelopes:
				if !ok {
					return
				}
				if events.Remote(env.Payload) {
					// Recorded by the instance that produced it.
					continue
				}
				if action, ok := ActionFor(env.Type); ok {
					s.logAuditEntry(ctx, action, env.Payload)
				}
			}
		}
	}()
	return done
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		Action:  action,
		Details: make(map[string]any),
	}

	// Extract user info
	if userID, ok := payload["user_id"].(string); ok && userID != "" {
		entry.UserID = &userID
	}

	// Extract resource info
	if resourceType, ok := payload["resource_type"].(string); ok {
		entry.ResourceType = resourceType
	}
	if resourceID, ok := payload["resource_id"].(string); ok {
		entry.ResourceID = resourceID
	}

	// Copy remaining fields to details
	for k, v := range payload {
		switch k {
		case "user_id", "resource_type", "resource_id":
			// Already extracted
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	UserID       *string
	Action       *models.AuditAction
	ResourceType *string
	ResourceID   *string
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
	Offset       int
}

// MaxQueryLimit caps a single page of audit entries.
const MaxQueryLimit = 500

// Query retrieves audit logs with filters.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.ResourceType != nil {
		query = query.Where("resource_type = ?", *filters.ResourceType)
	}
	if filters.ResourceID != nil {
		query = query.Where("resource_id = ?", *filters.ResourceID)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	// Count total
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	// Apply pagination
	switch {
	case filters.Limit <= 0:
		query = query.Limit(100) // Default limit
	case filters.Limit > MaxQueryLimit:
		query = query.Limit(MaxQueryLimit)
	default:
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	// Order by timestamp descending (most recent first)
	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}

	return logs, total, nil
}

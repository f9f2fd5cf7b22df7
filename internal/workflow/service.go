/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/shopfloor/internal/apperr"
	"github.com/friendsincode/shopfloor/internal/assets"
	"github.com/friendsincode/shopfloor/internal/db"
	"github.com/friendsincode/shopfloor/internal/events"
	"github.com/friendsincode/shopfloor/internal/models"
	"github.com/friendsincode/shopfloor/internal/ordernumber"
	"github.com/friendsincode/shopfloor/internal/telemetry"
)

// Service runs order intake and the order-level workflow operations.
type Service struct {
	db       *gorm.DB
	bus      events.Publisher
	numbers  *ordernumber.Generator
	verifier assets.Verifier
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates the order workflow service.
func NewService(db *gorm.DB, bus events.Publisher, numbers *ordernumber.Generator, logger zerolog.Logger) *Service {
	return &Service{
		db:      db,
		bus:     bus,
		numbers: numbers,
		logger:  logger.With().Str("component", "workflow").Logger(),
		now:     time.Now,
	}
}

// SetVerifier enables the storage check of required print assets on submit.
func (s *Service) SetVerifier(v assets.Verifier) {
	s.verifier = v
}

// CreateOrderRequest describes a new order.
type CreateOrderRequest struct {
	Title      string
	Department models.Department
	Source     models.OrderSource
	Draft      bool
	NetCents   int64
	VatCents   int64
	GrossCents int64
	SizeTable  map[string]int
}

// OrderFilter narrows ListOrders. Zero values match everything.
type OrderFilter struct {
	Workflow   models.WorkflowState
	Department models.Department
}

// AttachAssetRequest describes a print file stored under ObjectKey.
type AttachAssetRequest struct {
	Kind      string
	ObjectKey string
	Required  bool
}

// DeliverRequest records a delivery.
type DeliverRequest struct {
	DeliveredAt time.Time
	Qty         *int
	Note        string
}

// CreateOrder stores a new order with the next display number of the year.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	if !req.Department.Valid() {
		return nil, apperr.PreconditionFailed("unknown_department", "unknown department %q", req.Department)
	}
	if req.Source == "" {
		req.Source = models.OrderSourceInternal
	}
	if req.Source != models.OrderSourceInternal && req.Source != models.OrderSourceJTL {
		return nil, apperr.PreconditionFailed("unknown_source", "unknown order source %q", req.Source)
	}
	if err := validateSizeTable(req.SizeTable); err != nil {
		return nil, err
	}

	state := models.WorkflowNeu
	if req.Draft {
		state = models.WorkflowEntwurf
	}

	order := &models.Order{
		ID:         uuid.NewString(),
		Title:      req.Title,
		Department: req.Department,
		Source:     req.Source,
		Workflow:   state,
		NetCents:   req.NetCents,
		VatCents:   req.VatCents,
		GrossCents: req.GrossCents,
		SizeTable:  req.SizeTable,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.numbers.Issue(ctx, tx)
		if err != nil {
			return err
		}
		order.DisplayNumber = &number
		return tx.Create(order).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logger.Info().
		Str("order_id", order.ID).
		Str("display_number", *order.DisplayNumber).
		Str("department", string(order.Department)).
		Msg("order created")
	s.publish(ctx, events.EventOrderCreated, order, nil)
	return order, nil
}

// GetOrder loads an order with its print assets.
func (s *Service) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Preload("PrintAssets").First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	return &order, nil
}

// ListOrders returns orders, newest first.
func (s *Service) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	q := s.db.WithContext(ctx).Model(&models.Order{})
	if filter.Workflow != "" {
		q = q.Where("workflow = ?", filter.Workflow)
	}
	if filter.Department != "" {
		q = q.Where("department = ?", filter.Department)
	}

	var orders []models.Order
	if err := q.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// AttachPrintAsset records a print file for an order.
func (s *Service) AttachPrintAsset(ctx context.Context, orderID string, req AttachAssetRequest) (*models.PrintAsset, error) {
	if req.ObjectKey == "" {
		return nil, apperr.PreconditionFailed("object_key_missing", "print asset needs an object key")
	}

	asset := &models.PrintAsset{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Kind:      req.Kind,
		ObjectKey: req.ObjectKey,
		Required:  req.Required,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadOrder(ctx, tx, orderID, false); err != nil {
			return err
		}
		return tx.Create(asset).Error
	})
	if err != nil {
		return nil, fmt.Errorf("attach print asset: %w", err)
	}
	return asset, nil
}

// SetSizeTable replaces the order's size breakdown.
func (s *Service) SetSizeTable(ctx context.Context, orderID string, sizes map[string]int) (*models.Order, error) {
	if err := validateSizeTable(sizes); err != nil {
		return nil, err
	}

	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		order.SizeTable = sizes
		return tx.Model(order).Select("size_table", "updated_at").Updates(order).Error
	})
	if err != nil {
		return nil, fmt.Errorf("set size table: %w", err)
	}
	return order, nil
}

// Submit releases an order to production. The order needs at least one
// required print asset, and a size table when its department is size
// sensitive.
func (s *Service) Submit(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "workflow", "Submit")
	defer span.End()

	pending, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := CheckSubmit(pending); err != nil {
		s.logger.Debug().Err(err).Str("order_id", orderID).Msg("submit rejected")
		return nil, err
	}
	// Storage is checked before the transaction so no row lock is held
	// across network calls.
	if err := s.verifyAssets(ctx, pending); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var order *models.Order
	var from models.WorkflowState
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", order.ID).Find(&order.PrintAssets).Error; err != nil {
			return fmt.Errorf("load print assets: %w", err)
		}
		if err := CheckSubmit(order); err != nil {
			return err
		}
		from = order.Workflow
		return Transition(ctx, tx, order, models.WorkflowFuerProd)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("submit order: %w", err)
	}

	s.logger.Info().Str("order_id", order.ID).Str("from", string(from)).Msg("order submitted to production")
	s.publish(ctx, events.EventOrderSubmitted, order, events.Payload{"from": string(from)})
	return order, nil
}

func (s *Service) verifyAssets(ctx context.Context, order *models.Order) error {
	if s.verifier == nil {
		return nil
	}
	for _, asset := range RequiredAssets(order) {
		ok, err := s.verifier.Exists(ctx, asset.ObjectKey)
		if err != nil {
			return fmt.Errorf("verify print asset %s: %w", asset.ID, err)
		}
		if !ok {
			return apperr.PreconditionFailed("required_asset_unavailable",
				"print asset %s of order %s is not in storage", asset.ObjectKey, Label(order)).
				With("asset_id", asset.ID).
				With("object_key", asset.ObjectKey)
		}
	}
	return nil
}

// Release returns an order waiting for missing parts to the production pool.
func (s *Service) Release(ctx context.Context, orderID string) (*models.Order, error) {
	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		if order.Workflow != models.WorkflowWartetFehlteile {
			return apperr.PreconditionFailed("not_waiting_for_parts",
				"order %s is in %s, not waiting for parts", Label(order), order.Workflow).
				With("workflow", order.Workflow)
		}
		return Transition(ctx, tx, order, models.WorkflowFuerProd)
	})
	if err != nil {
		return nil, fmt.Errorf("release order: %w", err)
	}

	s.logger.Info().Str("order_id", order.ID).Msg("order released from missing parts")
	s.publish(ctx, events.EventOrderReleased, order, nil)
	return order, nil
}

// Deliver marks an order as delivered and hands it to accounting. Every time
// slot of the order must be DONE.
func (s *Service) Deliver(ctx context.Context, orderID string, req DeliverRequest) (*models.Order, error) {
	if req.Qty != nil && *req.Qty <= 0 {
		return nil, apperr.PreconditionFailed("invalid_quantity", "delivered quantity must be positive")
	}
	if req.DeliveredAt.IsZero() {
		req.DeliveredAt = s.now()
	}

	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		if order.Workflow != models.WorkflowFertig && order.Workflow != models.WorkflowFuerProd {
			return apperr.PreconditionFailed("workflow_not_deliverable",
				"order %s in %s cannot be delivered", Label(order), order.Workflow).
				With("workflow", order.Workflow)
		}

		var open int64
		if err := tx.Model(&models.TimeSlot{}).
			Where("order_id = ? AND status <> ?", order.ID, models.SlotStatusDone).
			Count(&open).Error; err != nil {
			return fmt.Errorf("count open slots: %w", err)
		}
		if open > 0 {
			return apperr.PreconditionFailed("open_time_slots",
				"order %s still has %d time slots that are not done", Label(order), open).
				With("open_slots", open)
		}

		if err := Transition(ctx, tx, order, models.WorkflowZurAbrechnung); err != nil {
			return err
		}
		order.DeliveredAt = &req.DeliveredAt
		order.DeliveredQty = req.Qty
		order.DeliveryNote = req.Note
		return tx.Model(order).
			Select("delivered_at", "delivered_qty", "delivery_note", "updated_at").
			Updates(order).Error
	})
	if err != nil {
		return nil, fmt.Errorf("deliver order: %w", err)
	}

	s.logger.Info().Str("order_id", order.ID).Msg("order delivered")
	payload := events.Payload{"delivered_at": req.DeliveredAt.Format(time.RFC3339)}
	if req.Qty != nil {
		payload["qty"] = *req.Qty
	}
	s.publish(ctx, events.EventOrderDelivered, order, payload)
	return order, nil
}

// Settle closes an order that accounting has invoiced.
func (s *Service) Settle(ctx context.Context, orderID, actorID string) (*models.Order, error) {
	if actorID == "" {
		return nil, apperr.PreconditionFailed("actor_required", "settling an order requires an acting user")
	}

	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		if order.Workflow != models.WorkflowZurAbrechnung {
			return apperr.PreconditionFailed("workflow_not_settleable",
				"order %s in %s is not ready for settlement", Label(order), order.Workflow).
				With("workflow", order.Workflow)
		}
		if err := Transition(ctx, tx, order, models.WorkflowAbgerechnet); err != nil {
			return err
		}
		now := s.now()
		order.SettledAt = &now
		order.SettledBy = &actorID
		return tx.Model(order).Select("settled_at", "settled_by", "updated_at").Updates(order).Error
	})
	if err != nil {
		return nil, fmt.Errorf("settle order: %w", err)
	}

	s.logger.Info().Str("order_id", order.ID).Str("settled_by", actorID).Msg("order settled")
	s.publish(ctx, events.EventOrderSettled, order, events.Payload{"settled_by": actorID})
	return order, nil
}

func (s *Service) publish(ctx context.Context, eventType events.EventType, order *models.Order, extra events.Payload) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventType, events.OrderPayload(ctx, order, extra))
}

// LoadOrderForUpdate reads an order inside tx and locks its row on backends
// that support row locks.
func LoadOrderForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.Order, error) {
	return loadOrder(ctx, tx, id, true)
}

func loadOrder(ctx context.Context, tx *gorm.DB, id string, lock bool) (*models.Order, error) {
	q := tx.WithContext(ctx)
	if lock {
		q = db.ForUpdate(q)
	}
	var order models.Order
	err := q.First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	return &order, nil
}

func validateSizeTable(sizes map[string]int) error {
	for size, qty := range sizes {
		if size == "" || qty < 0 {
			return apperr.PreconditionFailed("invalid_size_table",
				"size table entries need a size label and a non-negative quantity").
				With("size", size)
		}
	}
	return nil
}

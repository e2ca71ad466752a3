package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository defines the interface for order data access
type OrderRepository interface {
	// CreateWithStock decrements stock for every item and inserts the order
	// in one atomic step. Nothing is written if any item is short.
	CreateWithStock(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByPaymentIntentID(ctx context.Context, intentID string) (*models.Order, error)
	FindByUserID(ctx context.Context, userID string, page, limit int) ([]models.Order, int64, error)
	// Mutate serializes read-modify-write on a single order.
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*models.Order, error)
	MutateByPaymentIntent(ctx context.Context, intentID string, fn MutateFunc) (*models.Order, error)
}

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new instance of GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

const decrementStockSQL = `UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = ? WHERE id = ? AND stock_quantity >= ?`

func (r *GormOrderRepository) CreateWithStock(ctx context.Context, order *models.Order) error {
	if len(order.Items) == 0 {
		return errors.New("order has no items")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		for _, line := range sortedLines(order.Items) {
			res := tx.Exec(decrementStockSQL, line.Quantity, now, line.ProductID, line.Quantity)
			if res.Error != nil {
				return fmt.Errorf("decrement stock for %s: %w", line.ProductID, res.Error)
			}
			if res.RowsAffected == 0 {
				return stockShortfall(tx, line.ProductID)
			}
		}

		if err := tx.Omit(clause.Associations).Create(order).Error; err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for i := range order.Items {
			order.Items[i].OrderID = order.ID
		}
		if err := tx.Create(&order.Items).Error; err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
}

// stockShortfall explains why the guarded decrement matched no row.
func stockShortfall(tx *gorm.DB, productID string) error {
	var p models.Product
	err := tx.Select("id", "stock_quantity").Where("id = ?", productID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return fmt.Errorf("read stock for %s: %w", productID, err)
	}
	return &InsufficientStockError{ProductID: productID, Available: p.StockQuantity}
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *GormOrderRepository) FindByPaymentIntentID(ctx context.Context, intentID string) (*models.Order, error) {
	return r.findOne(ctx, "payment_intent_id = ?", intentID)
}

func (r *GormOrderRepository) findOne(ctx context.Context, query string, arg interface{}) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where(query, arg).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByUserID retrieves orders for a specific user with pagination
func (r *GormOrderRepository) FindByUserID(ctx context.Context, userID string, page, limit int) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.
		Preload("Items").
		Offset(offset).
		Limit(limit).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *GormOrderRepository) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*models.Order, error) {
	return r.mutate(ctx, "id = ?", id, fn)
}

func (r *GormOrderRepository) MutateByPaymentIntent(ctx context.Context, intentID string, fn MutateFunc) (*models.Order, error) {
	return r.mutate(ctx, "payment_intent_id = ?", intentID, fn)
}

// mutate locks the order row for the duration of fn and persists the
// mutable columns if fn reports a change.
func (r *GormOrderRepository) mutate(ctx context.Context, query string, arg interface{}, fn MutateFunc) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(query, arg).
			First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		before := snapshot(&order)
		changed, err := fn(&order)
		if err != nil || !changed {
			return err
		}
		if err := checkMutation(&before, &order); err != nil {
			return err
		}

		return tx.Model(&order).Updates(map[string]interface{}{
			"status":            order.Status,
			"payment_status":    order.PaymentStatus,
			"payment_intent_id": order.PaymentIntentID,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Where("order_id = ?", order.ID).Find(&order.Items).Error; err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	return &order, nil
}

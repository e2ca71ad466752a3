package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"checkout-service/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	paymentIntentIndex = "payment_intent_id-index"
	userIndex          = "user_id-index"

	// TransactWriteItems accepts at most 100 actions; one is the order put.
	maxDynamoLines = 99
	// optimistic writes retried before giving up on a contended order
	maxMutateAttempts = 3
)

// DynamoAPI is the subset of the DynamoDB client used by the repositories.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoOrderRepository stores orders with their items embedded in a single
// DynamoDB item. Stock lives in the products table.
type DynamoOrderRepository struct {
	client        DynamoAPI
	ordersTable   string
	productsTable string
}

func NewDynamoOrderRepository(client DynamoAPI, ordersTable, productsTable string) *DynamoOrderRepository {
	return &DynamoOrderRepository{client: client, ordersTable: ordersTable, productsTable: productsTable}
}

type ddbOrderItem struct {
	ProductID string `dynamodbav:"product_id"`
	Quantity  int    `dynamodbav:"quantity"`
	UnitPrice string `dynamodbav:"unit_price"`
}

type ddbOrder struct {
	ID              string         `dynamodbav:"id"`
	UserID          string         `dynamodbav:"user_id"`
	Items           []ddbOrderItem `dynamodbav:"items"`
	Subtotal        string         `dynamodbav:"subtotal"`
	ShippingCost    string         `dynamodbav:"shipping_cost"`
	TaxAmount       string         `dynamodbav:"tax_amount"`
	TotalAmount     string         `dynamodbav:"total_amount"`
	Currency        string         `dynamodbav:"currency"`
	Status          string         `dynamodbav:"status"`
	PaymentStatus   string         `dynamodbav:"payment_status"`
	PaymentIntentID string         `dynamodbav:"payment_intent_id,omitempty"`
	PaymentMethod   string         `dynamodbav:"payment_method"`
	ShippingAddress models.Address `dynamodbav:"shipping_address"`
	BillingAddress  models.Address `dynamodbav:"billing_address"`
	ShippingMethod  string         `dynamodbav:"shipping_method"`
	CreatedAt       string         `dynamodbav:"created_at"`
	UpdatedAt       string         `dynamodbav:"updated_at"`
	Version         int64          `dynamodbav:"version"`
}

func toDDBOrder(o *models.Order, version int64) ddbOrder {
	items := make([]ddbOrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ddbOrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
		})
	}
	return ddbOrder{
		ID:              o.ID.String(),
		UserID:          o.UserID,
		Items:           items,
		Subtotal:        o.Subtotal.StringFixed(2),
		ShippingCost:    o.ShippingCost.StringFixed(2),
		TaxAmount:       o.TaxAmount.StringFixed(2),
		TotalAmount:     o.TotalAmount.StringFixed(2),
		Currency:        o.Currency,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		PaymentIntentID: o.IntentID(),
		PaymentMethod:   string(o.PaymentMethod),
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		ShippingMethod:  string(o.ShippingMethod),
		CreatedAt:       o.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       o.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Version:         version,
	}
}

func (d ddbOrder) toModel() (*models.Order, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("parse order id %q: %w", d.ID, err)
	}
	o := &models.Order{
		ID:              id,
		UserID:          d.UserID,
		Currency:        d.Currency,
		Status:          models.OrderStatus(d.Status),
		PaymentStatus:   models.PaymentStatus(d.PaymentStatus),
		PaymentMethod:   models.PaymentMethod(d.PaymentMethod),
		ShippingAddress: d.ShippingAddress,
		BillingAddress:  d.BillingAddress,
		ShippingMethod:  models.ShippingMethod(d.ShippingMethod),
	}
	if d.PaymentIntentID != "" {
		intent := d.PaymentIntentID
		o.PaymentIntentID = &intent
	}
	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{d.Subtotal, &o.Subtotal},
		{d.ShippingCost, &o.ShippingCost},
		{d.TaxAmount, &o.TaxAmount},
		{d.TotalAmount, &o.TotalAmount},
	} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", f.raw, err)
		}
	}
	for _, it := range d.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("parse unit price %q: %w", it.UnitPrice, err)
		}
		o.Items = append(o.Items, models.OrderItem{
			OrderID:   id,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: price,
		})
	}
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, d.CreatedAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, d.UpdatedAt)
	return o, nil
}

// CreateWithStock writes every conditional stock decrement and the order put
// in a single transaction.
func (r *DynamoOrderRepository) CreateWithStock(ctx context.Context, order *models.Order) error {
	if len(order.Items) == 0 {
		return errors.New("order has no items")
	}
	if len(order.Items) > maxDynamoLines {
		return fmt.Errorf("%w: %d lines, at most %d supported", ErrTooManyLines, len(order.Items), maxDynamoLines)
	}

	now := time.Now().UTC()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}

	lines := sortedLines(order.Items)
	nowAV, _ := attributevalue.Marshal(now.Format(time.RFC3339Nano))
	actions := make([]types.TransactWriteItem, 0, len(lines)+1)
	for _, line := range lines {
		key, err := attributevalue.MarshalMap(map[string]string{"id": line.ProductID})
		if err != nil {
			return fmt.Errorf("marshal key: %w", err)
		}
		qtyAV, _ := attributevalue.Marshal(line.Quantity)
		actions = append(actions, types.TransactWriteItem{
			Update: &types.Update{
				TableName:           aws.String(r.productsTable),
				Key:                 key,
				UpdateExpression:    aws.String("SET #stock = #stock - :qty, updated_at = :now"),
				ConditionExpression: aws.String("attribute_exists(#id) AND #stock >= :qty"),
				ExpressionAttributeNames: map[string]string{
					"#id":    "id",
					"#stock": "stock_quantity",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":qty": qtyAV,
					":now": nowAV,
				},
				ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
			},
		})
	}

	item, err := attributevalue.MarshalMap(toDDBOrder(order, 1))
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	actions = append(actions, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(r.ordersTable),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(#id)"),
			ExpressionAttributeNames: map[string]string{
				"#id": "id",
			},
		},
	})

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: actions})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			if shortErr := cancellationCause(tce, lines); shortErr != nil {
				return shortErr
			}
		}
		return fmt.Errorf("dynamodb TransactWriteItems failed: %w", err)
	}
	return nil
}

// cancellationCause maps the first failed stock condition back to its product.
func cancellationCause(tce *types.TransactionCanceledException, lines []models.OrderItem) error {
	for i, reason := range tce.CancellationReasons {
		if i >= len(lines) || aws.ToString(reason.Code) != "ConditionalCheckFailed" {
			continue
		}
		productID := lines[i].ProductID
		if len(reason.Item) == 0 {
			return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		available := 0
		if n, ok := reason.Item["stock_quantity"].(*types.AttributeValueMemberN); ok {
			available, _ = strconv.Atoi(n.Value)
		}
		return &InsufficientStockError{ProductID: productID, Available: available}
	}
	return nil
}

func (r *DynamoOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	rec, err := r.getByID(ctx, id.String())
	if err != nil {
		return nil, err
	}
	return rec.toModel()
}

func (r *DynamoOrderRepository) getByID(ctx context.Context, id string) (*ddbOrder, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"id": id})
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.ordersTable),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var rec ddbOrder
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &rec, nil
}

func (r *DynamoOrderRepository) FindByPaymentIntentID(ctx context.Context, intentID string) (*models.Order, error) {
	id, err := r.orderIDForIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

// orderIDForIntent resolves an intent through the sparse GSI.
func (r *DynamoOrderRepository) orderIDForIntent(ctx context.Context, intentID string) (uuid.UUID, error) {
	intentAV, _ := attributevalue.Marshal(intentID)
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.ordersTable),
		IndexName:                 aws.String(paymentIntentIndex),
		KeyConditionExpression:    aws.String("payment_intent_id = :pi"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":pi": intentAV},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("dynamodb Query failed: %w", err)
	}
	if len(out.Items) == 0 {
		return uuid.Nil, ErrNotFound
	}
	var rec struct {
		ID string `dynamodbav:"id"`
	}
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return uuid.Nil, fmt.Errorf("unmarshal order id: %w", err)
	}
	return uuid.Parse(rec.ID)
}

// FindByUserID pages in memory; DynamoDB has no offsets.
func (r *DynamoOrderRepository) FindByUserID(ctx context.Context, userID string, page, limit int) ([]models.Order, int64, error) {
	userAV, _ := attributevalue.Marshal(userID)
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.ordersTable),
		IndexName:                 aws.String(userIndex),
		KeyConditionExpression:    aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":uid": userAV},
	}

	var orders []models.Order
	for {
		out, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, 0, fmt.Errorf("dynamodb Query failed: %w", err)
		}
		for _, item := range out.Items {
			var rec ddbOrder
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, 0, fmt.Errorf("unmarshal order: %w", err)
			}
			o, err := rec.toModel()
			if err != nil {
				return nil, 0, err
			}
			orders = append(orders, *o)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	total := int64(len(orders))
	start := (page - 1) * limit
	if start >= len(orders) {
		return []models.Order{}, total, nil
	}
	end := start + limit
	if end > len(orders) {
		end = len(orders)
	}
	return orders[start:end], total, nil
}

func (r *DynamoOrderRepository) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*models.Order, error) {
	return r.mutate(ctx, id.String(), fn)
}

func (r *DynamoOrderRepository) MutateByPaymentIntent(ctx context.Context, intentID string, fn MutateFunc) (*models.Order, error) {
	id, err := r.orderIDForIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	return r.mutate(ctx, id.String(), fn)
}

// mutate is an optimistic read-modify-write guarded by the version attribute.
func (r *DynamoOrderRepository) mutate(ctx context.Context, id string, fn MutateFunc) (*models.Order, error) {
	for attempt := 1; ; attempt++ {
		rec, err := r.getByID(ctx, id)
		if err != nil {
			return nil, err
		}
		order, err := rec.toModel()
		if err != nil {
			return nil, err
		}

		before := snapshot(order)
		changed, err := fn(order)
		if err != nil {
			return nil, err
		}
		if !changed {
			return order, nil
		}
		if err := checkMutation(&before, order); err != nil {
			return nil, err
		}

		order.UpdatedAt = time.Now().UTC()
		item, err := attributevalue.MarshalMap(toDDBOrder(order, rec.Version+1))
		if err != nil {
			return nil, fmt.Errorf("marshal order: %w", err)
		}
		versionAV, _ := attributevalue.Marshal(rec.Version)
		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 aws.String(r.ordersTable),
			Item:                      item,
			ConditionExpression:       aws.String("#ver = :v"),
			ExpressionAttributeNames:  map[string]string{"#ver": "version"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":v": versionAV},
		})
		if err == nil {
			return order, nil
		}
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return nil, fmt.Errorf("dynamodb PutItem failed: %w", err)
		}
		if attempt == maxMutateAttempts {
			return nil, fmt.Errorf("order %s changed concurrently %d times: %w", id, attempt, err)
		}
	}
}

// DynamoProductRepository reads catalog rows from the products table.
type DynamoProductRepository struct {
	client DynamoAPI
	table  string
}

func NewDynamoProductRepository(client DynamoAPI, table string) *DynamoProductRepository {
	return &DynamoProductRepository{client: client, table: table}
}

type ddbProduct struct {
	ID            string `dynamodbav:"id"`
	Name          string `dynamodbav:"name"`
	Price         string `dynamodbav:"price"`
	StockQuantity int    `dynamodbav:"stock_quantity"`
}

func (r *DynamoProductRepository) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"id": id})
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrProductNotFound
	}
	var rec ddbProduct
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	price, err := decimal.NewFromString(rec.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", rec.Price, err)
	}
	return &models.Product{ID: rec.ID, Name: rec.Name, Price: price, StockQuantity: rec.StockQuantity}, nil
}

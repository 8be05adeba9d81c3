package order

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("order not found")
	ErrEmptyCart    = errors.New("cart is empty")
	ErrInsufficient = errors.New("insufficient stock")
)

const shippingFee = 150.00

type Item struct {
	ID          string  `json:"id"`
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

type Order struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	Subtotal          float64   `json:"subtotal"`
	ShippingFee       float64   `json:"shippingFee"`
	Total             float64   `json:"total"`
	PaymentMethod     string    `json:"paymentMethod"`
	TransactionNumber string    `json:"transactionNumber"`
	Items             []Item    `json:"items,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Checkout turns the user's cart into an order inside one transaction.
// Product rows are locked before the stock check so concurrent checkouts
// cannot oversell.
func (r *Repository) Checkout(ctx context.Context, userID, paymentMethod string) (Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Order{}, fmt.Errorf("begin checkout tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT ci.product_id, ci.quantity, p.name, p.price, p.stock
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.user_id = $1
		ORDER BY ci.product_id
		FOR UPDATE OF p
	`, userID)
	if err != nil {
		return Order{}, fmt.Errorf("lock cart products: %w", err)
	}

	type line struct {
		productID string
		name      string
		quantity  int
		price     float64
		stock     int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.productID, &l.quantity, &l.name, &l.price, &l.stock); err != nil {
			rows.Close()
			return Order{}, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Order{}, fmt.Errorf("iterate cart lines: %w", err)
	}
	rows.Close()

	if len(lines) == 0 {
		return Order{}, ErrEmptyCart
	}

	subtotal := 0.0
	for _, l := range lines {
		if l.stock < l.quantity {
			return Order{}, fmt.Errorf("%w: %s", ErrInsufficient, l.name)
		}
		subtotal += l.price * float64(l.quantity)
	}

	orderID, err := uuid.NewV7()
	if err != nil {
		return Order{}, fmt.Errorf("generate order id: %w", err)
	}
	transactionNumber, err := newTransactionNumber()
	if err != nil {
		return Order{}, err
	}

	now := time.Now().UTC()
	order := Order{
		ID:                orderID.String(),
		Status:            "pending",
		Subtotal:          subtotal,
		ShippingFee:       shippingFee,
		Total:             subtotal + shippingFee,
		PaymentMethod:     paymentMethod,
		TransactionNumber: transactionNumber,
		CreatedAt:         now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, subtotal, shipping_fee, total, payment_method, transaction_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, order.ID, userID, order.Status, order.Subtotal, order.ShippingFee, order.Total, order.PaymentMethod, order.TransactionNumber, now)
	if err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}

	for _, l := range lines {
		itemID, err := uuid.NewV7()
		if err != nil {
			return Order{}, fmt.Errorf("generate order item id: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, price)
			VALUES ($1, $2, $3, $4, $5)
		`, itemID.String(), order.ID, l.productID, l.quantity, l.price); err != nil {
			return Order{}, fmt.Errorf("insert order item: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock - $2, updated_at = NOW() WHERE id = $1
		`, l.productID, l.quantity); err != nil {
			return Order{}, fmt.Errorf("decrement stock: %w", err)
		}

		order.Items = append(order.Items, Item{
			ID:          itemID.String(),
			ProductID:   l.productID,
			ProductName: l.name,
			Quantity:    l.quantity,
			Price:       l.price,
		})
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return Order{}, fmt.Errorf("clear cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Order{}, fmt.Errorf("commit checkout tx: %w", err)
	}

	return order, nil
}

func (r *Repository) List(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, subtotal, shipping_fee, total, payment_method, COALESCE(transaction_number, ''), created_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.Status, &o.Subtotal, &o.ShippingFee, &o.Total, &o.PaymentMethod, &o.TransactionNumber, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	return orders, nil
}

func (r *Repository) Get(ctx context.Context, userID, orderID string) (Order, error) {
	var o Order
	err := r.db.QueryRowContext(ctx, `
		SELECT id, status, subtotal, shipping_fee, total, payment_method, COALESCE(transaction_number, ''), created_at
		FROM orders
		WHERE id = $1 AND user_id = $2
	`, orderID, userID).Scan(&o.ID, &o.Status, &o.Subtotal, &o.ShippingFee, &o.Total, &o.PaymentMethod, &o.TransactionNumber, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("query order: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT oi.id, oi.product_id, p.name, oi.quantity, oi.price
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
	`, o.ID)
	if err != nil {
		return Order{}, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.Quantity, &item.Price); err != nil {
			return Order{}, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}

	if err := rows.Err(); err != nil {
		return Order{}, fmt.Errorf("iterate order items: %w", err)
	}

	return o, nil
}

func newTransactionNumber() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate transaction number: %w", err)
	}
	return "CN-" + strings.ToUpper(hex.EncodeToString(b)), nil
}

package database

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rezwanahammad/Therapeia/internal/models"
)

// Определение пользовательских ошибок
var (
	ErrDuplicateOrder  = errors.New("заказ уже существует")
	ErrVersionConflict = errors.New("версия заказа изменилась")
)

// SQL-запросы для работы с заказами. Заказ хранится целым документом в document,
// status и version вынесены в колонки для фильтрации и условной записи.
const (
	InsertOrderQuery = `
		INSERT INTO
			orders (id, user_id, status, version, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	SelectOrderQuery = `
		SELECT
			version,
			document
		FROM
			orders
		WHERE
			id = $1
	`
	SelectOrdersByOwnerQuery = `
		SELECT
			version,
			document
		FROM
			orders
		WHERE
			user_id = $1
		ORDER BY
			created_at DESC
	`
	SelectAllOrdersQuery = `
		SELECT
			version,
			document
		FROM
			orders
		ORDER BY
			created_at DESC
	`
	UpdateOrderQuery = `
		UPDATE
			orders
		SET
			status = $3,
			version = $4,
			document = $5,
			updated_at = $6
		WHERE
			id = $1 AND version = $2
	`
	DeleteOrderQuery = `
		DELETE FROM
			orders
		WHERE
			id = $1 AND version = $2
	`
)

// OrderStatusDB статус заказа с преобразованием в/из колонки status.
type OrderStatusDB struct {
	models.OrderStatus
}

// Scan реализует sql.Scanner.
func (s *OrderStatusDB) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		return fmt.Errorf("статус заказа должен быть строкой, а не %T", value)
	}

	status, err := models.ParseOrderStatus(strVal)
	if err != nil {
		return err
	}

	*s = OrderStatusDB{status}
	return nil
}

// Value реализует driver.Valuer.
func (s OrderStatusDB) Value() (driver.Value, error) {
	return string(s.OrderStatus.Canonical()), nil
}

// OrderDB строка таблицы orders.
type OrderDB struct {
	Version  int64
	Document []byte
}

func encodeOrder(order *models.Order) ([]byte, error) {
	document, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации заказа: %w", err)
	}
	return document, nil
}

func (row OrderDB) decode() (*models.Order, error) {
	var order models.Order
	if err := json.Unmarshal(row.Document, &order); err != nil {
		return nil, fmt.Errorf("ошибка разбора документа заказа: %w", err)
	}
	order.Status = order.Status.Canonical()
	// колонка version авторитетна: по ней идет условная запись
	order.Version = row.Version
	return &order, nil
}

// InsertOrder сохраняет новый заказ.
func (d *Database) InsertOrder(ctx context.Context, order *models.Order) error {
	document, err := encodeOrder(order)
	if err != nil {
		return err
	}

	_, err = d.db.Exec(ctx, InsertOrderQuery,
		order.ID,
		order.OwnerID,
		OrderStatusDB{order.Status},
		order.Version,
		document,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		var e *pgconn.PgError
		if errors.As(err, &e) && e.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("ошибка создания заказа: %w", err)
	}

	return nil
}

// FindOrder ищет заказ по ID. Если заказа нет, возвращает nil без ошибки.
func (d *Database) FindOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var row OrderDB

	err := d.db.QueryRow(ctx, SelectOrderQuery, orderID).Scan(&row.Version, &row.Document)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка поиска заказа: %w", err)
	}

	return row.decode()
}

// FindOrdersByOwner возвращает заказы пользователя, новые первыми.
func (d *Database) FindOrdersByOwner(ctx context.Context, ownerID string) ([]models.Order, error) {
	return d.findOrders(ctx, SelectOrdersByOwnerQuery, ownerID)
}

// FindAllOrders возвращает все заказы, новые первыми.
func (d *Database) FindAllOrders(ctx context.Context) ([]models.Order, error) {
	return d.findOrders(ctx, SelectAllOrdersQuery)
}

func (d *Database) findOrders(ctx context.Context, query string, args ...interface{}) ([]models.Order, error) {
	rows, err := d.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска заказов: %w", err)
	}
	defer rows.Close()

	result := []models.Order{}
	for rows.Next() {
		var row OrderDB
		if err := rows.Scan(&row.Version, &row.Document); err != nil {
			return nil, fmt.Errorf("ошибка обработки строки с заказом: %w", err)
		}

		order, err := row.decode()
		if err != nil {
			return nil, err
		}
		result = append(result, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации по строкам: %w", err)
	}

	return result, nil
}

// UpdateOrder перезаписывает документ заказа, если его версия в базе все еще expectedVersion.
func (d *Database) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) error {
	document, err := encodeOrder(order)
	if err != nil {
		return err
	}

	tag, err := d.db.Exec(ctx, UpdateOrderQuery,
		order.ID,
		expectedVersion,
		OrderStatusDB{order.Status},
		order.Version,
		document,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления заказа: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	return nil
}

// DeleteOrder удаляет заказ, если его версия в базе все еще expectedVersion.
func (d *Database) DeleteOrder(ctx context.Context, orderID string, expectedVersion int64) error {
	tag, err := d.db.Exec(ctx, DeleteOrderQuery, orderID, expectedVersion)
	if err != nil {
		return fmt.Errorf("ошибка удаления заказа: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	return nil
}

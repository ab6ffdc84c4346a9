package database

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rezwanahammad/Therapeia/internal/models"
)

// Каталог и корзины ведет другой сервис; здесь только чтение и очистка корзины после заказа.
const (
	SelectProductsQuery = `
		SELECT
			id::text,
			name,
			price::text
		FROM
			products
		WHERE
			id = ANY($1::uuid[])
	`
	SelectCartQuery = `
		SELECT
			p.id::text,
			p.name,
			p.price::text,
			c.quantity
		FROM
			cart_items c
			JOIN products p ON p.id = c.product_id
		WHERE
			c.user_id = $1
		ORDER BY
			c.added_at
	`
	DeleteCartQuery = `
		DELETE FROM
			cart_items
		WHERE
			user_id = $1
	`
)

// FindProducts возвращает найденные товары; отсутствующие ID просто не попадают в результат.
func (d *Database) FindProducts(ctx context.Context, productIDs []string) ([]models.Product, error) {
	rows, err := d.db.Query(ctx, SelectProductsQuery, productIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска товаров: %w", err)
	}
	defer rows.Close()

	var result []models.Product
	for rows.Next() {
		var product models.Product
		var price string
		if err := rows.Scan(&product.ID, &product.Name, &price); err != nil {
			return nil, fmt.Errorf("ошибка обработки строки с товаром: %w", err)
		}
		if product.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("некорректная цена товара %s: %w", product.ID, err)
		}
		result = append(result, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации по строкам: %w", err)
	}

	return result, nil
}

// FindCart возвращает корзину пользователя вместе с актуальными ценами товаров.
func (d *Database) FindCart(ctx context.Context, userID string) ([]models.CartLine, error) {
	rows, err := d.db.Query(ctx, SelectCartQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения корзины: %w", err)
	}
	defer rows.Close()

	var result []models.CartLine
	for rows.Next() {
		var line models.CartLine
		var price string
		if err := rows.Scan(&line.Product.ID, &line.Product.Name, &price, &line.Quantity); err != nil {
			return nil, fmt.Errorf("ошибка обработки строки корзины: %w", err)
		}
		if line.Product.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("некорректная цена товара %s: %w", line.Product.ID, err)
		}
		result = append(result, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации по строкам: %w", err)
	}

	return result, nil
}

// ClearCart удаляет все позиции корзины пользователя.
func (d *Database) ClearCart(ctx context.Context, userID string) error {
	if _, err := d.db.Exec(ctx, DeleteCartQuery, userID); err != nil {
		return fmt.Errorf("ошибка очистки корзины: %w", err)
	}
	return nil
}

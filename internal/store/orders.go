package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Order struct {
	ID         uuid.UUID
	Status     string
	DriverID   *uuid.UUID
	AssignedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const orderColumns = `
	id,
	status,
	driver_id,
	assigned_at,
	created_at,
	updated_at
`

func scanOrder(row pgx.Row) (Order, error) {
	var order Order

	err := row.Scan(
		&order.ID,
		&order.Status,
		&order.DriverID,
		&order.AssignedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)

	return order, err
}

func (s *Store) CreateOrder(
	ctx context.Context,
	orderID uuid.UUID,
	status string,
) error {
	_, err := s.connectionPool.Exec(
		ctx,
		`
		INSERT INTO orders (id, status)
		VALUES ($1, $2)
		`,
		orderID,
		status,
	)

	return err
}

// GetJob returns the order with the given id, or nil when it does not exist.
func (s *Store) GetJob(
	ctx context.Context,
	jobID string,
) (*Order, error) {
	orderID, err := uuid.Parse(jobID)
	if err != nil {
		return nil, nil
	}

	order, err := scanOrder(s.connectionPool.QueryRow(
		ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`,
		orderID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return &order, nil
}

// AssignJobToAgent durably binds the order to the driver and moves it to
// assigned. It fails with ErrInvalidStateTransition when the order is no
// longer dispatchable or already carries a driver.
func (s *Store) AssignJobToAgent(
	ctx context.Context,
	jobID string,
	agentID string,
) error {
	orderID, driverID, err := parseIDs(jobID, agentID)
	if err != nil {
		return err
	}

	return s.WithTransaction(ctx, func(transaction pgx.Tx) error {
		commandTag, err := transaction.Exec(
			ctx,
			`
			UPDATE orders
			SET status = $2,
				driver_id = $3,
				assigned_at = now(),
				updated_at = now()
			WHERE id = $1
				AND status IN ($4, $5)
				AND driver_id IS NULL
			`,
			orderID,
			OrderAssigned,
			driverID,
			OrderPending,
			OrderReady,
		)
		if err != nil {
			return err
		}

		if commandTag.RowsAffected() != 1 {
			return ErrInvalidStateTransition
		}

		return nil
	})
}

func (s *Store) SetJobStatus(
	ctx context.Context,
	jobID string,
	status string,
) error {
	orderID, err := uuid.Parse(jobID)
	if err != nil {
		return fmt.Errorf("%w: order %q", ErrInvalidID, jobID)
	}

	return s.WithTransaction(ctx, func(transaction pgx.Tx) error {
		var current string

		err := transaction.QueryRow(
			ctx,
			`SELECT status FROM orders WHERE id = $1 FOR UPDATE`,
			orderID,
		).Scan(&current)
		if err != nil {
			return err
		}

		if err := ValidateOrderTransition(current, status); err != nil {
			return err
		}

		return transitionOrderStatus(ctx, transaction, orderID, current, status)
	})
}

func (s *Store) ListActiveJobsForAgent(
	ctx context.Context,
	agentID string,
) ([]Order, error) {
	driverID, err := uuid.Parse(agentID)
	if err != nil {
		return nil, fmt.Errorf("%w: driver %q", ErrInvalidID, agentID)
	}

	rows, err := s.connectionPool.Query(
		ctx,
		`
		SELECT `+orderColumns+`
		FROM orders
		WHERE driver_id = $1
			AND status = ANY($2)
		ORDER BY assigned_at
		`,
		driverID,
		activeStatuses,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}

		orders = append(orders, order)
	}

	return orders, rows.Err()
}

func transitionOrderStatus(
	ctx context.Context,
	transaction pgx.Tx,
	orderID uuid.UUID,
	previousStatus string,
	nextStatus string,
) error {
	commandTag, err := transaction.Exec(
		ctx,
		`
			UPDATE orders
			SET status = $2,
				updated_at = now()
			WHERE id = $1
				AND status = $3
		`,
		orderID,
		nextStatus,
		previousStatus,
	)
	if err != nil {
		return err
	}

	if commandTag.RowsAffected() != 1 {
		return ErrInvalidStateTransition
	}

	return nil
}

func parseIDs(jobID, agentID string) (uuid.UUID, uuid.UUID, error) {
	orderID, err := uuid.Parse(jobID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: order %q", ErrInvalidID, jobID)
	}

	driverID, err := uuid.Parse(agentID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: driver %q", ErrInvalidID, agentID)
	}

	return orderID, driverID, nil
}

// ListOrdersUpdatedSince returns orders changed at or after since, oldest
// change first. Callers page by feeding back the last UpdatedAt they saw.
func (s *Store) ListOrdersUpdatedSince(
	ctx context.Context,
	since time.Time,
	limit int,
) ([]Order, error) {
	rows, err := s.connectionPool.Query(
		ctx,
		`
		SELECT `+orderColumns+`
		FROM orders
		WHERE updated_at >= $1
		ORDER BY updated_at
		LIMIT $2
		`,
		since,
		limit,
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Order, error) {
		return scanOrder(row)
	})
}

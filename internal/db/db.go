package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"custodychain/internal/apperr"
	"custodychain/pkg/models"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/shopspring/decimal"
)

const ledgerStateID = 1

type DB struct {
	conn *sql.DB
}

func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

func (db *DB) createTables() error {
	queries := []string{
		CreateLedgerStateTable,
		CreateBlocksTable,
		CreateChainTransactionsTable,
		CreateOrdersTable,
		CreateTransportTable,
		CreateAlertsTable,
	}
	queries = append(queries, createIndexes...)

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) LoadState(ctx context.Context) ([]byte, error) {
	var state string
	err := db.conn.QueryRowContext(ctx, `SELECT state FROM ledger_state WHERE id = ?`, ledgerStateID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger state: %w", err)
	}
	return []byte(state), nil
}

func (db *DB) SaveState(ctx context.Context, blob []byte) error {
	query := `INSERT OR REPLACE INTO ledger_state (id, state, saved_at) VALUES (?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query, ledgerStateID, string(blob), time.Now().UTC())
	return err
}

// IndexBlock mirrors a sealed block and its transactions into queryable
// tables. Re-indexing an already indexed block is a no-op.
func (db *DB) IndexBlock(ctx context.Context, block *models.Block) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO blocks (
		block_index, hash, previous_hash, block_timestamp, nonce, tx_count, indexed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		block.Index, block.Hash, block.PreviousHash, block.Timestamp,
		int64(block.Nonce), len(block.Transactions), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert block %d: %w", block.Index, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO chain_transactions (
		block_index, tx_position, company_id, chemical_type, quantity, transaction_type, tx_timestamp
	) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, t := range block.Transactions {
		_, err := stmt.ExecContext(ctx,
			block.Index, i, t.CompanyID, t.ChemicalType, t.Quantity.String(),
			t.TransactionType, t.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert transaction %d of block %d: %w", i, block.Index, err)
		}
	}

	return tx.Commit()
}

// MaxIndexedBlock returns the highest indexed block, or -1 when none is.
func (db *DB) MaxIndexedBlock(ctx context.Context) (int64, error) {
	var maxIndex sql.NullInt64
	err := db.conn.QueryRowContext(ctx, `SELECT MAX(block_index) FROM blocks`).Scan(&maxIndex)
	if err != nil {
		return 0, err
	}
	if maxIndex.Valid {
		return maxIndex.Int64, nil
	}
	return -1, nil
}

func (db *DB) CompanyVolumes(ctx context.Context, companyID string) (map[string]decimal.Decimal, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT transaction_type, quantity FROM chain_transactions WHERE company_id = ? ORDER BY block_index, tx_position`,
		companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	volumes := make(map[string]decimal.Decimal)
	for rows.Next() {
		var kind, qty string
		if err := rows.Scan(&kind, &qty); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("bad quantity %q for company %s: %w", qty, companyID, err)
		}
		volumes[kind] = volumes[kind].Add(d)
	}
	return volumes, rows.Err()
}

const orderColumns = `order_id, buyer_id, seller_id, chemical_type, quantity, unit, purpose,
	delivery_address, status, security_token, token_timestamp, transport_id, created_at,
	updated_at, delivery_timestamp, delivery_remarks, version`

func (db *DB) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)

	var (
		o                                          models.Order
		seller, purpose, address, token, transport sql.NullString
		remarks                                    sql.NullString
		quantity, status                           string
		tokenAt, deliveredAt                       sql.NullTime
	)
	err := row.Scan(&o.OrderID, &o.BuyerID, &seller, &o.ChemicalType, &quantity, &o.Unit, &purpose,
		&address, &status, &token, &tokenAt, &transport, &o.CreatedAt,
		&o.UpdatedAt, &deliveredAt, &remarks, &o.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("order", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read order %s: %w", orderID, err)
	}

	o.Quantity, err = decimal.NewFromString(quantity)
	if err != nil {
		return nil, fmt.Errorf("bad quantity %q on order %s: %w", quantity, orderID, err)
	}
	o.Status = models.OrderStatus(status)
	o.SellerID = seller.String
	o.Purpose = purpose.String
	o.DeliveryAddress = address.String
	o.SecurityToken = token.String
	o.TransportID = transport.String
	o.DeliveryRemarks = remarks.String
	o.TokenTimestamp = timePtr(tokenAt)
	o.DeliveryTimestamp = timePtr(deliveredAt)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func (db *DB) InsertOrder(ctx context.Context, o *models.Order) error {
	query := `INSERT INTO orders (` + orderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query,
		o.OrderID, o.BuyerID, nullString(o.SellerID), o.ChemicalType, o.Quantity.String(), o.Unit,
		nullString(o.Purpose), nullString(o.DeliveryAddress), string(o.Status), nullString(o.SecurityToken),
		nullTime(o.TokenTimestamp), nullString(o.TransportID), o.CreatedAt, o.UpdatedAt,
		nullTime(o.DeliveryTimestamp), nullString(o.DeliveryRemarks), o.Version)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", o.OrderID, err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (db *DB) UpdateOrder(ctx context.Context, o *models.Order, expectedVersion int64) error {
	if err := db.updateOrder(ctx, db.conn, o, expectedVersion); err != nil {
		return err
	}
	o.Version = expectedVersion + 1
	return nil
}

// DispatchOrder writes the in_transit order and its transport row in one
// transaction. A lost version race leaves neither behind.
func (db *DB) DispatchOrder(ctx context.Context, o *models.Order, expectedVersion int64, t *models.Transport) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := db.updateOrder(ctx, tx, o, expectedVersion); err != nil {
		return err
	}
	if err := insertTransport(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dispatch of order %s: %w", o.OrderID, err)
	}
	o.Version = expectedVersion + 1
	return nil
}

func (db *DB) updateOrder(ctx context.Context, ex execer, o *models.Order, expectedVersion int64) error {
	query := `UPDATE orders SET seller_id = ?, status = ?, security_token = ?, token_timestamp = ?,
		transport_id = ?, updated_at = ?, delivery_timestamp = ?, delivery_remarks = ?, version = ?
		WHERE order_id = ? AND version = ?`
	res, err := ex.ExecContext(ctx, query,
		nullString(o.SellerID), string(o.Status), nullString(o.SecurityToken), nullTime(o.TokenTimestamp),
		nullString(o.TransportID), o.UpdatedAt, nullTime(o.DeliveryTimestamp), nullString(o.DeliveryRemarks),
		expectedVersion+1, o.OrderID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", o.OrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := db.GetOrder(ctx, o.OrderID); err != nil {
			return err
		}
		return apperr.ErrStaleVersion
	}
	return nil
}

func (db *DB) InsertTransport(ctx context.Context, t *models.Transport) error {
	return insertTransport(ctx, db.conn, t)
}

func insertTransport(ctx context.Context, ex execer, t *models.Transport) error {
	query := `INSERT INTO transport (
		transport_id, order_id, vehicle_number, driver_name, driver_contact, route_details,
		status, start_time, completed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := ex.ExecContext(ctx, query,
		t.TransportID, t.OrderID, t.VehicleNumber, t.DriverName, nullString(t.DriverContact),
		nullString(t.RouteDetails), t.Status, t.StartTime, nullTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert transport %s: %w", t.TransportID, err)
	}
	return nil
}

func (db *DB) CompleteTransport(ctx context.Context, transportID string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE transport SET status = ?, completed_at = ? WHERE transport_id = ?`,
		models.TransportDelivered, at, transportID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("transport", transportID)
	}
	return nil
}

func (db *DB) GetTransport(ctx context.Context, transportID string) (*models.Transport, error) {
	var (
		t              models.Transport
		contact, route sql.NullString
		completedAt    sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx, `SELECT transport_id, order_id, vehicle_number, driver_name,
		driver_contact, route_details, status, start_time, completed_at FROM transport WHERE transport_id = ?`,
		transportID).Scan(&t.TransportID, &t.OrderID, &t.VehicleNumber, &t.DriverName,
		&contact, &route, &t.Status, &t.StartTime, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("transport", transportID)
	}
	if err != nil {
		return nil, err
	}
	t.DriverContact = contact.String
	t.RouteDetails = route.String
	t.CompletedAt = timePtr(completedAt)
	return &t, nil
}

func (db *DB) InsertAlert(ctx context.Context, a *models.Alert) error {
	query := `INSERT INTO alerts (
		alert_id, alert_type, order_id, transport_id, description, status, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query,
		a.AlertID, a.Type, nullString(a.OrderID), nullString(a.TransportID),
		a.Description, a.Status, a.CreatedAt)
	return err
}

func (db *DB) ListAlerts(ctx context.Context, orderID string) ([]models.Alert, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT alert_id, alert_type, order_id, transport_id,
		description, status, created_at FROM alerts WHERE order_id = ? ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var (
			a                models.Alert
			order, transport sql.NullString
		)
		if err := rows.Scan(&a.AlertID, &a.Type, &order, &transport, &a.Description, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.OrderID = order.String
		a.TransportID = transport.String
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

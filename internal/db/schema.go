package db

const (
	CreateLedgerStateTable = `CREATE TABLE IF NOT EXISTS ledger_state (
		id INTEGER PRIMARY KEY,
		state VARCHAR NOT NULL,
		saved_at TIMESTAMP NOT NULL
	)`

	CreateBlocksTable = `CREATE TABLE IF NOT EXISTS blocks (
		block_index BIGINT PRIMARY KEY,
		hash VARCHAR NOT NULL,
		previous_hash VARCHAR NOT NULL,
		block_timestamp BIGINT NOT NULL,
		nonce BIGINT NOT NULL,
		tx_count INTEGER NOT NULL,
		indexed_at TIMESTAMP NOT NULL
	)`

	CreateChainTransactionsTable = `CREATE TABLE IF NOT EXISTS chain_transactions (
		block_index BIGINT NOT NULL,
		tx_position INTEGER NOT NULL,
		company_id VARCHAR NOT NULL,
		chemical_type VARCHAR NOT NULL,
		quantity VARCHAR NOT NULL,
		transaction_type VARCHAR NOT NULL,
		tx_timestamp BIGINT NOT NULL,
		PRIMARY KEY (block_index, tx_position)
	)`

	CreateOrdersTable = `CREATE TABLE IF NOT EXISTS orders (
		order_id VARCHAR PRIMARY KEY,
		buyer_id VARCHAR NOT NULL,
		seller_id VARCHAR,
		chemical_type VARCHAR NOT NULL,
		quantity VARCHAR NOT NULL,
		unit VARCHAR NOT NULL,
		purpose VARCHAR,
		delivery_address VARCHAR,
		status VARCHAR NOT NULL,
		security_token VARCHAR,
		token_timestamp TIMESTAMP,
		transport_id VARCHAR,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		delivery_timestamp TIMESTAMP,
		delivery_remarks VARCHAR,
		version BIGINT NOT NULL
	)`

	CreateTransportTable = `CREATE TABLE IF NOT EXISTS transport (
		transport_id VARCHAR PRIMARY KEY,
		order_id VARCHAR NOT NULL,
		vehicle_number VARCHAR NOT NULL,
		driver_name VARCHAR NOT NULL,
		driver_contact VARCHAR,
		route_details VARCHAR,
		status VARCHAR NOT NULL,
		start_time TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`

	CreateAlertsTable = `CREATE TABLE IF NOT EXISTS alerts (
		alert_id VARCHAR PRIMARY KEY,
		alert_type VARCHAR NOT NULL,
		order_id VARCHAR,
		transport_id VARCHAR,
		description VARCHAR NOT NULL,
		status VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`
)

var createIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_chain_tx_company ON chain_transactions(company_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders(buyer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_order ON alerts(order_id)`,
}

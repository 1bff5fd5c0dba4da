package journal

const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	position_id TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	side TEXT NOT NULL,
	status TEXT NOT NULL,
	amount REAL NOT NULL,
	entry_price REAL NOT NULL,
	opened_at DATETIME NOT NULL,
	closed_at DATETIME NOT NULL,
	realized_pnl REAL NOT NULL,
	close_reason TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS closes (
	position_id TEXT NOT NULL,
	token TEXT NOT NULL,
	fraction REAL NOT NULL,
	amount REAL NOT NULL,
	fill_price REAL NOT NULL,
	pnl REAL NOT NULL,
	reason TEXT NOT NULL,
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_snapshots (
	time DATETIME NOT NULL,
	total REAL NOT NULL,
	committed REAL NOT NULL,
	available REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS breaker_snapshots (
	time DATETIME NOT NULL,
	window_start DATETIME NOT NULL,
	daily_trades INTEGER NOT NULL,
	daily_loss REAL NOT NULL,
	error_count INTEGER NOT NULL,
	halted INTEGER NOT NULL,
	halt_reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_token ON positions(token);
CREATE INDEX IF NOT EXISTS idx_closes_position ON closes(position_id);
CREATE INDEX IF NOT EXISTS idx_closes_time ON closes(time);
`

package journal

// Times are stored as unix nanoseconds and decimals as TEXT.
const Schema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol      TEXT    NOT NULL,
	bar_size    INTEGER NOT NULL,
	start_time  INTEGER NOT NULL,
	end_time    INTEGER NOT NULL,
	open        TEXT    NOT NULL,
	high        TEXT    NOT NULL,
	low         TEXT    NOT NULL,
	close       TEXT    NOT NULL,
	volume      INTEGER NOT NULL,
	vwap        TEXT    NOT NULL DEFAULT '0',
	trade_count INTEGER NOT NULL DEFAULT 0,
	last_update INTEGER NOT NULL,
	PRIMARY KEY (symbol, bar_size, start_time)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT    PRIMARY KEY,
	symbol     TEXT    NOT NULL,
	strategy   TEXT    NOT NULL DEFAULT '',
	bar_size   INTEGER NOT NULL,
	day        TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	version    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS orders (
	id               TEXT    PRIMARY KEY,
	run_id           TEXT    NOT NULL,
	symbol           TEXT    NOT NULL,
	action           TEXT    NOT NULL,
	type             TEXT    NOT NULL,
	quantity         TEXT    NOT NULL,
	limit_price      TEXT    NOT NULL DEFAULT '0',
	aux_price        TEXT    NOT NULL DEFAULT '0',
	trail_amount     TEXT    NOT NULL DEFAULT '0',
	trail_percent    TEXT    NOT NULL DEFAULT '0',
	trail_stop_price TEXT    NOT NULL DEFAULT '0',
	limit_offset     TEXT    NOT NULL DEFAULT '0',
	trail_distance   TEXT    NOT NULL DEFAULT '0',
	oca_group        TEXT    NOT NULL DEFAULT '',
	transmit         INTEGER NOT NULL DEFAULT 1,
	status           TEXT    NOT NULL,
	commission       TEXT    NOT NULL DEFAULT '0',
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_run ON orders(run_id, status);

CREATE TABLE IF NOT EXISTS positions (
	id            TEXT    PRIMARY KEY,
	run_id        TEXT    NOT NULL,
	symbol        TEXT    NOT NULL,
	side          TEXT    NOT NULL,
	open_quantity TEXT    NOT NULL,
	buy_quantity  TEXT    NOT NULL,
	buy_value     TEXT    NOT NULL,
	sell_quantity TEXT    NOT NULL,
	sell_value    TEXT    NOT NULL,
	commission    TEXT    NOT NULL,
	open_time     INTEGER NOT NULL,
	close_time    INTEGER,
	version       INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_positions_run ON positions(run_id);

CREATE TABLE IF NOT EXISTS executions (
	exec_id     TEXT    PRIMARY KEY,
	order_id    TEXT    NOT NULL,
	run_id      TEXT    NOT NULL,
	position_id TEXT,
	symbol      TEXT    NOT NULL,
	action      TEXT    NOT NULL,
	price       TEXT    NOT NULL,
	quantity    TEXT    NOT NULL,
	commission  TEXT    NOT NULL,
	time        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_run ON executions(run_id, time);

CREATE TABLE IF NOT EXISTS instruments (
	run_id           TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	open_position_id TEXT,
	PRIMARY KEY (run_id, symbol)
);
`

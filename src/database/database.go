package database

import (
	"database/sql"
	stdlog "log"

	"github.com/danicanod/banker/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	// Pragmas go in the DSN so every pooled connection gets them, not just the
	// one a standalone Exec would land on. WAL keeps the ingest path writable
	// while the API serves reads; the busy timeout lets concurrent writers
	// queue instead of failing with SQLITE_BUSY.
	dsn := databasePath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if logger.L != nil {
		logger.L.Info("Checking database schema", "databasePath", databasePath)
	} else {
		stdlog.Println("Checking database schema for:", databasePath)
	}

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS banks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		logo_url TEXT,
		color TEXT,
		active BOOLEAN DEFAULT TRUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bank_id INTEGER NOT NULL,
		bank_code TEXT,
		account_id TEXT,
		txn_key TEXT NOT NULL UNIQUE,
		reference TEXT,
		date TEXT NOT NULL,
		amount REAL NOT NULL,
		description TEXT NOT NULL,
		type TEXT NOT NULL,
		balance REAL,
		raw TEXT,
		synced_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(bank_id) REFERENCES banks(id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		transaction_id INTEGER,
		bank_id INTEGER,
		bank_code TEXT,
		amount REAL,
		description TEXT,
		metadata TEXT,
		acknowledged BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(transaction_id) REFERENCES transactions(id),
		FOREIGN KEY(bank_id) REFERENCES banks(id)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_bank_code ON transactions(bank_code);
	CREATE INDEX IF NOT EXISTS idx_transactions_bank_id ON transactions(bank_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_bank_code_date ON transactions(bank_code, date);
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
	CREATE INDEX IF NOT EXISTS idx_events_acknowledged ON events(acknowledged);
	CREATE INDEX IF NOT EXISTS idx_events_type_acknowledged ON events(type, acknowledged);
	CREATE INDEX IF NOT EXISTS idx_events_bank_id ON events(bank_id);
	CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}

	migrateTransactionsTable()

	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}

// migrateTransactionsTable adds columns introduced after the first release to
// databases created before them. bank_code was denormalized onto transactions
// later (backfilled by the ingestion service), and synced_at tracks the last
// push to the downstream integration.
func migrateTransactionsTable() {
	rows, err := DB.Query("PRAGMA table_info(transactions)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'transactions'", "error", err)
		} else {
			stdlog.Printf("Error querying table schema for 'transactions': %v", err)
		}
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info for 'transactions'", "error", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for 'transactions'", "error", err)
		}
		return
	}

	if _, ok := columnExists["bank_code"]; !ok {
		if _, err := DB.Exec("ALTER TABLE transactions ADD COLUMN bank_code TEXT"); err != nil {
			logger.L.Error("Error adding 'bank_code' column to 'transactions' table", "error", err)
		} else {
			logger.L.Info("Added 'bank_code' column to 'transactions' table. Run the bank-code backfill to populate legacy rows.")
		}
	}
	if _, ok := columnExists["synced_at"]; !ok {
		if _, err := DB.Exec("ALTER TABLE transactions ADD COLUMN synced_at TIMESTAMP"); err != nil {
			logger.L.Error("Error adding 'synced_at' column to 'transactions' table", "error", err)
		} else {
			logger.L.Info("Added 'synced_at' column to 'transactions' table")
		}
	}
}

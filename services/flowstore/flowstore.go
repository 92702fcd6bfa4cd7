// Package flowstore is the durable archive for emitted flow reports:
// a batched writer feeding a size-capped sqlite table holding one row
// per bidirectional TLS flow report.
package flowstore

import (
	"database/sql"
	"fmt"
	"syscall"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/untangle/tlsflowd/services/logger"
	"github.com/untangle/tlsflowd/services/overseer"
)

const dbFILENAME = "flowstore.db"
const dbFILEPATH = "/tmp"
const oneMEGABYTE = 1024 * 1024

// dbDISKPERCENTAGE is used to calculate the maximum database file size.
const dbDISKPERCENTAGE = 0.40

// dbFREEMINIMUM sets the minimum amount of free page space below which
// the oldest rows are trimmed once the database reaches its size limit.
const dbFREEMINIMUM int64 = 32768

const writerBatchSize = 200
const writerFlushInterval = 10 * time.Second

// FlowReport is one row of the flow_reports table: the flow's 5-tuple
// identity, when it was emitted, and the full §6 JSON blob produced by
// tlsflow.Emit.
type FlowReport struct {
	Timestamp     time.Time
	Protocol      uint8
	ClientAddress string
	ClientPort    uint16
	ServerAddress string
	ServerPort    uint16
	ReportJSON    string
}

var dbMain *sql.DB
var dbSizeLimit int64
var writeQueue = make(chan FlowReport, 5000)

// Startup opens the sqlite database, creates the flow_reports table if
// needed, and starts the batched writer and size-capped cleaner.
func Startup() {
	var stat syscall.Statfs_t
	syscall.Statfs(dbFILEPATH, &stat)
	dbSizeLimit = int64(float64(stat.Bsize) * float64(stat.Blocks) * dbDISKPERCENTAGE)

	sql.Register("sqlite3_flowstore", &sqlite3.SQLiteDriver{ConnectHook: customHook})

	dsn := fmt.Sprintf("file:%s/%s?mode=rwc", dbFILEPATH, dbFILENAME)
	db, err := sql.Open("sqlite3_flowstore", dsn)
	if err != nil {
		logger.Err("Failed to open flowstore database: %s\n", err.Error())
		return
	}
	dbMain = db
	dbMain.SetMaxOpenConns(4)
	dbMain.SetMaxIdleConns(2)

	runSQL("PRAGMA auto_vacuum = FULL")
	createTables()

	go writer()
	go cleaner()
}

// Shutdown closes the database connection.
func Shutdown() {
	if dbMain != nil {
		dbMain.Close()
	}
}

func customHook(conn *sqlite3.SQLiteConn) error {
	if _, err := conn.Exec("PRAGMA synchronous = OFF", nil); err != nil {
		logger.Warn("Error setting synchronous: %v\n", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode = MEMORY", nil); err != nil {
		logger.Warn("Error setting journal_mode: %v\n", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 10000", nil); err != nil {
		logger.Warn("Error setting busy_timeout: %v\n", err)
	}
	return nil
}

func createTables() {
	_, err := dbMain.Exec(`CREATE TABLE IF NOT EXISTS flow_reports (
		time_stamp INTEGER,
		protocol INTEGER,
		client_address TEXT,
		client_port INTEGER,
		server_address TEXT,
		server_port INTEGER,
		report TEXT
	)`)
	if err != nil {
		logger.Err("Failed to create flow_reports table: %s\n", err.Error())
	}
}

// Store enqueues a flow report for asynchronous persistence. It never
// blocks the caller (the dispatch sweeper): if the write queue is
// full, the report is dropped and counted.
func Store(report FlowReport) {
	select {
	case writeQueue <- report:
	default:
		overseer.AddCounter("flowstore_queue_full", 1)
		logger.Warn("flowstore write queue at capacity[%d], dropping report\n", cap(writeQueue))
	}
}

// writer drains writeQueue in batches.
func writer() {
	var batch []FlowReport

	for {
		select {
		case r := <-writeQueue:
			batch = append(batch, r)
			if len(batch) >= writerBatchSize {
				batch = flushBatch(batch)
			}
		case <-time.After(writerFlushInterval):
			if len(batch) > 0 {
				batch = flushBatch(batch)
			}
		}
	}
}

func flushBatch(batch []FlowReport) []FlowReport {
	tx, err := dbMain.Begin()
	if err != nil {
		logger.Warn("Failed to begin flowstore transaction: %s\n", err.Error())
		return batch[:0]
	}

	stmt, err := tx.Prepare(`INSERT INTO flow_reports
		(time_stamp, protocol, client_address, client_port, server_address, server_port, report)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		logger.Warn("Failed to prepare flowstore insert: %s\n", err.Error())
		return batch[:0]
	}
	defer stmt.Close()

	for _, r := range batch {
		_, err := stmt.Exec(r.Timestamp.UnixNano()/1e6, r.Protocol, r.ClientAddress, r.ClientPort, r.ServerAddress, r.ServerPort, r.ReportJSON)
		if err != nil {
			logger.Warn("Failed to insert flow report: %s\n", err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Warn("Failed to commit flowstore batch: %s\n", err.Error())
	}
	overseer.AddCounter("flowstore_rows_written", uint64(len(batch)))
	return batch[:0]
}

// RecentReports returns the JSON blobs of the most recently stored
// reports, newest first, up to limit rows. services/restd's query
// endpoint does not read this table; it serves dispatch.RecentReports'
// in-memory buffer.
func RecentReports(limit int) ([]string, error) {
	rows, err := dbMain.Query("SELECT report FROM flow_reports ORDER BY time_stamp DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var report string
		if err := rows.Scan(&report); err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, rows.Err()
}

// cleaner monitors the size of the sqlite database and trims the
// oldest rows once the database grows to the size limit.
func cleaner() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		currentSize, pageSize, freeCount, err := loadDbStats()
		if err != nil {
			logger.Crit("Unable to load flowstore DB stats: %s\n", err.Error())
			continue
		}

		if currentSize < dbSizeLimit {
			continue
		}
		if freeCount >= (dbFREEMINIMUM / pageSize) {
			continue
		}

		logger.Info("Flowstore database starting trim operation\n")
		if _, err := dbMain.Exec("DELETE FROM flow_reports WHERE rowid IN (SELECT rowid FROM flow_reports ORDER BY time_stamp ASC LIMIT (SELECT count(*)/10 FROM flow_reports))"); err != nil {
			logger.Warn("Failed to trim flowstore: %s\n", err.Error())
			continue
		}
		runSQL("PRAGMA optimize")
	}
}

func loadDbStats() (currentSize int64, pageSize int64, freeCount int64, err error) {
	var pageCount int64
	if err = dbMain.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, 0, 0, err
	}
	if err = dbMain.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, 0, 0, err
	}
	if err = dbMain.QueryRow("PRAGMA freelist_count").Scan(&freeCount); err != nil {
		return 0, 0, 0, err
	}
	return pageSize * pageCount, pageSize, freeCount, nil
}

func runSQL(sqlStr string) {
	if _, err := dbMain.Exec(sqlStr); err != nil {
		logger.Warn("runSQL(%s) failed: %s\n", sqlStr, err.Error())
	}
}

package store

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQLDSN builds a DSN for a shared MySQL-compatible server, for
// operators who point the gateway at a central database instead of local
// SQLite.
func MySQLDSN(host string, port int, database string) string {
	return fmt.Sprintf("root@tcp(%s:%d)/%s?parseTime=true", host, port, database)
}

// OpenMySQL opens a GORM connection to a MySQL-compatible server and
// migrates the schema, for deployments that prefer a shared database over
// per-host SQLite files.
func OpenMySQL(host string, port int, database string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(MySQLDSN(host, port, database)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect to %s:%d/%s: %w", host, port, database, err)
	}
	if err := db.AutoMigrate(&TurnRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

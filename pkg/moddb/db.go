package moddb

import (
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/modvault/modvault/pkg/config"
	"github.com/modvault/modvault/pkg/moddb/modmodel"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SqliteInMemoryDSN is used by tests. Shared cache lets every connection in the pool see the same database.
const SqliteInMemoryDSN = "file::memory:?cache=shared"

func MakeDSN(c config.Configer) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.GetKey("DB_USERNAME"),
		c.GetKey("DB_PASSWORD"),
		c.GetKeyWithDefault("DB_HOST", "127.0.0.1"),
		c.GetKeyWithDefault("DB_PORT", "3306"),
		c.GetKey("DB_DATABASE"))
}

// Dialector picks the driver from DB_DRIVER. mysql is the default; sqlite (DB_PATH, or an in
// memory database) is meant for development.
func Dialector(c config.Configer) gorm.Dialector {
	if c.GetKeyWithDefault("DB_DRIVER", "mysql") == "sqlite" {
		return sqlite.Open(c.GetKeyWithDefault("DB_PATH", SqliteInMemoryDSN))
	}

	return mysql.Open(MakeDSN(c))
}

const maxDBRetries = 5

// MustConnectToDB will attempt to connect to the database maxDBRetries times. If it isn't successful
// after that number of retries then it will call log.Fatalf(), which will cause the server to exit.
// Between retry attempts it will sleep for 3 seconds.
func MustConnectToDB(c config.Configer) *gorm.DB {
	var (
		err error
		db  *gorm.DB
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	retryCount := 1
	for {
		db, err = gorm.Open(Dialector(c), gormConfig)
		switch {
		case err == nil:
			return db
		case retryCount >= maxDBRetries:
			log.Fatalf("Failed to open db (%s@%s): %s", c.GetKey("DB_DATABASE"), c.GetKeyWithDefault("DB_HOST", "127.0.0.1"), err)
		default:
			retryCount++
			time.Sleep(3 * time.Second)
		}
	}
}

// RunMigrations creates or updates the tables the upload subsystem depends on.
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(&modmodel.User{}, &modmodel.Mod{}, &modmodel.ModFile{})
}

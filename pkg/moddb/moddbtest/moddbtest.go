// Package moddbtest sets up sqlite backed databases for tests.
package moddbtest

import (
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/modvault/modvault/pkg/moddb"
	"github.com/modvault/modvault/pkg/moddb/modmodel"
	"github.com/modvault/modvault/pkg/moddb/stor"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in memory database with all migrations applied. Each call gets its own
// database so parallel tests don't see each other's rows.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name, err := uuid.GenerateUUID()
	require.NoError(t, err)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	gormLogger := logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second * 5,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		})

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger})
	require.NoErrorf(t, err, "gorm.Open failed: %s", err)

	sqlitedb, err := db.DB()
	require.NoError(t, err)

	// Set the sqlite db to 1 connection. This gets around table lock issues from
	// multiple goroutines.
	sqlitedb.SetMaxOpenConns(1)

	require.NoError(t, moddb.RunMigrations(db))

	t.Cleanup(func() {
		_ = sqlitedb.Close()
	})

	return db
}

// Fixture is a user owning one mod, plus an unrelated second user.
type Fixture struct {
	DB       *gorm.DB
	Stors    *stor.Stors
	Owner    *modmodel.User
	Stranger *modmodel.User
	Admin    *modmodel.User
	Mod      *modmodel.Mod
}

func NewFixture(t *testing.T) *Fixture {
	t.Helper()

	db := NewDB(t)
	stors := stor.NewGormStors(db)

	owner, err := stors.UserStor.CreateUser(&modmodel.User{Name: "Mod Owner", Email: "owner@example.com", ApiToken: "owner-token"})
	require.NoError(t, err)

	stranger, err := stors.UserStor.CreateUser(&modmodel.User{Name: "Stranger", Email: "stranger@example.com", ApiToken: "stranger-token"})
	require.NoError(t, err)

	admin, err := stors.UserStor.CreateUser(&modmodel.User{Name: "Admin", Email: "admin@example.com", ApiToken: "admin-token", IsAdmin: true})
	require.NoError(t, err)

	mod, err := stors.ModStor.CreateMod(&modmodel.Mod{Name: "Better Trees", OwnerID: owner.ID})
	require.NoError(t, err)

	return &Fixture{
		DB:       db,
		Stors:    stors,
		Owner:    owner,
		Stranger: stranger,
		Admin:    admin,
		Mod:      mod,
	}
}

package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var fixtureDDL = []string{
	"CREATE TABLE `organizations` (" +
		"`id` TEXT PRIMARY KEY, `type` TEXT, `name1` TEXT, `name2` TEXT, `country` TEXT," +
		"`street_name` TEXT, `house_number` TEXT, `po_box` TEXT, `postal_code` TEXT, `city_name` TEXT," +
		"`address_country` TEXT, `region` TEXT," +
		"`created_by` TEXT, `created_at` DATETIME, `updated_by` TEXT, `updated_at` DATETIME," +
		"`etag` INTEGER, `internal_note` TEXT)",
	"CREATE TABLE `country_descriptions` (`iso_code` TEXT PRIMARY KEY, `name` TEXT)",
	"CREATE TABLE `business_partner_roles` (" +
		"`business_partner_id` TEXT, `role_category` TEXT," +
		"PRIMARY KEY (`business_partner_id`, `role_category`))",
	"CREATE TABLE `organization_images` (`id` TEXT PRIMARY KEY, `image` BLOB)",
	"CREATE TABLE `person_images` (`person_id` TEXT PRIMARY KEY, `image` BLOB, `mime_type` TEXT)",
	"CREATE TABLE `administrative_divisions` (" +
		"`code_publisher` TEXT, `code_id` TEXT, `division_code` TEXT, `country_code` TEXT," +
		"`parent_code_id` TEXT, `parent_division_code` TEXT, `population` INTEGER, `area` INTEGER," +
		"PRIMARY KEY (`code_publisher`, `code_id`, `division_code`))",
}

var fixtureSeed = []string{
	"INSERT INTO `organizations` VALUES " +
		"('1', '2', 'First Org.', 'Test', 'DEU', 'Test Road', '23', NULL, '94321', 'Test City', 'DEU', 'DE-BW', 'Admin', '2016-01-20 09:21:23', NULL, NULL, 1, 'secret')," +
		"('2', '2', 'Second Org.', NULL, 'USA', 'Test Road', '45', NULL, '76321', 'Test City', 'USA', 'US-CA', 'Admin', '2016-01-20 09:21:23', NULL, NULL, 3, NULL)," +
		"('3', '2', 'Third Org.', NULL, 'DEU', 'Sesam Street', '1', NULL, '01001', 'Another City', 'DEU', 'DE-BY', 'Admin', '2016-01-20 09:21:23', 'Editor', '2016-02-01 10:00:00', 1, NULL)",
	"INSERT INTO `country_descriptions` VALUES ('DEU', 'Germany'), ('USA', 'United States of America')",
	"INSERT INTO `business_partner_roles` VALUES ('1', 'A'), ('1', 'B'), ('1', 'C'), ('2', 'A'), ('3', 'C')",
	"INSERT INTO `organization_images` VALUES ('1', X'0102')",
	"INSERT INTO `person_images` VALUES ('99', X'FFD8', 'image/jpeg')",
	"INSERT INTO `administrative_divisions` VALUES " +
		"('Eurostat', 'NUTS1', 'DE-BW', 'DEU', NULL, NULL, 10000, 35000)," +
		"('Eurostat', 'NUTS1', 'DE-BY', 'DEU', NULL, NULL, 13000, 70000)," +
		"('Eurostat', 'NUTS2', 'DE11', 'DEU', 'NUTS1', 'DE-BW', 4000, 10500)," +
		"('Eurostat', 'NUTS2', 'DE12', 'DEU', 'NUTS1', 'DE-BW', 2800, 6900)," +
		"('Eurostat', 'NUTS3', 'DE111', 'DEU', 'NUTS2', 'DE11', 600, 207)",
}

// OpenFixtureDB creates a SQLite database in t.TempDir() holding the fixture
// tables and rows, and registers cleanup.
func OpenFixtureDB(t testing.TB) *sql.DB {
	t.Helper()

	db := openSQLite(t, filepath.Join(t.TempDir(), "fixture.sqlite"))
	t.Cleanup(func() {
		_ = db.Close()
	})
	seed(t, db)
	return db
}

// FixtureDBFile creates and seeds the fixture database like OpenFixtureDB but
// closes it again and returns its path, for code that opens its own
// connection from a DSN.
func FixtureDBFile(t testing.TB) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.sqlite")
	db := openSQLite(t, path)
	defer func() {
		_ = db.Close()
	}()
	seed(t, db)
	return path
}

func openSQLite(t testing.TB, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("open fixture sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	return db
}

func seed(t testing.TB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := execAll(ctx, db, fixtureDDL); err != nil {
		t.Fatalf("create fixture tables: %v", err)
	}
	if err := execAll(ctx, db, fixtureSeed); err != nil {
		t.Fatalf("seed fixture tables: %v", err)
	}
}

func execAll(ctx context.Context, db *sql.DB, statements []string) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

package sqlstore

import "fmt"

// Driver names registered with database/sql.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// schema is idempotent: safe to run on every startup.
//
//	id    surrogate key, assigned by the store on insert
//	name  up to 100 characters, never NULL
//	age   never NULL
var schema = map[string]string{
	DriverSQLite: `
		CREATE TABLE IF NOT EXISTS persons (
			id    INTEGER      PRIMARY KEY AUTOINCREMENT,
			name  VARCHAR(100) NOT NULL,
			age   INTEGER      NOT NULL
		)`,
	DriverPostgres: `
		CREATE TABLE IF NOT EXISTS persons (
			id    SERIAL       PRIMARY KEY,
			name  VARCHAR(100) NOT NULL,
			age   INTEGER      NOT NULL
		)`,
}

func schemaFor(driver string) (string, error) {
	ddl, ok := schema[driver]
	if !ok {
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
	return ddl, nil
}

// Queries are written with ? placeholders and rebound per driver by sqlx.
// Columns are listed explicitly so Scan order never depends on the table.
const (
	qSelectAll = `SELECT id, name, age FROM persons ORDER BY id`

	qSelectByID = `SELECT id, name, age FROM persons WHERE id = ?`

	qSearchByName = `SELECT id, name, age FROM persons
		WHERE LOWER(name) LIKE ? ESCAPE '\'
		ORDER BY id`

	qInsert = `INSERT INTO persons (name, age) VALUES (?, ?) RETURNING id`

	qUpdate = `UPDATE persons SET name = ?, age = ? WHERE id = ?`

	qDelete = `DELETE FROM persons WHERE id = ?`

	qCount = `SELECT COUNT(*) FROM persons`
)

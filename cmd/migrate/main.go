// Command migrate applies or rolls back the PostgreSQL schema in the
// -migrations-dir directory (default "migrations", relative to the working
// directory), replacing the teacher's ad hoc cmd/seeder with
// golang-migrate (grounded on wisbric-nightowl's internal/platform/migrate.go
// runMigrations, the file-source + postgres-driver wiring the rest of the
// retrieved pack uses this library for).
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		postgresURL   = flag.String("postgres-url", os.Getenv("POSTGRES_URL"), "PostgreSQL connection URL")
		migrationsDir = flag.String("migrations-dir", "migrations", "Directory of .up.sql/.down.sql migration files")
		direction     = flag.String("direction", "up", "up, down, or a target version number")
	)
	flag.Parse()

	if *postgresURL == "" {
		fmt.Fprintln(os.Stderr, "error: -postgres-url (or POSTGRES_URL) is required")
		os.Exit(1)
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", *migrationsDir), *postgresURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: creating migrator: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	switch *direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		var version uint
		if _, scanErr := fmt.Sscanf(*direction, "%d", &version); scanErr != nil {
			fmt.Fprintf(os.Stderr, "error: -direction must be up, down, or a numeric version\n")
			os.Exit(1)
		}
		err = m.Migrate(version)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "error: migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("migrations applied")
}

package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"corebase/cmd/migration/versions"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func postgresDsn(uri string) string {
	parts, err := url.Parse(uri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port())
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from.")
	rollback := flag.String("rollback", "", "Migration id to roll back to. If empty, migrates to the latest version.")

	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("error loading .env file '%v': %v", *envFile, err)
		}
	}

	uri := os.Getenv("DATABASE_URI")
	if uri == "" {
		log.Fatal("DATABASE_URI env var must be specified")
	}

	db, err := gorm.Open(postgres.Open(postgresDsn(uri)), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	m := gormigrate.New(db, gormigrate.DefaultOptions, versions.Migrations())
	m.InitSchema(versions.InitSchema)

	if *rollback != "" {
		if err := m.RollbackTo(*rollback); err != nil {
			log.Fatalf("error rolling back migrations: %v", err)
		}
		slog.Info("rollback complete", "to", *rollback)
		return
	}

	if err := m.Migrate(); err != nil {
		log.Fatalf("error running migrations: %v", err)
	}
	slog.Info("migrations complete")
}

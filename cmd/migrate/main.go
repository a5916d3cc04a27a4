package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/storefront/backend/internal/infrastructure/config"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"github.com/storefront/backend/internal/infrastructure/migration"
	"github.com/storefront/backend/internal/infrastructure/persistence"
)

const defaultMigrationsPath = "migrations"

func main() {
	var (
		migrationsPath string
		logLevel       string
	)
	flag.StringVar(&migrationsPath, "path", defaultMigrationsPath, "Root of the per-driver migration directories")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync(log) }()

	migrationsPath, err = filepath.Abs(migrationsPath)
	if err != nil {
		log.Fatal("Failed to get absolute path", zap.Error(err))
	}

	// create and list only touch the filesystem
	switch command {
	case "create":
		if len(args) < 2 {
			log.Fatal("Migration name required. Usage: migrate create <name> [description]")
		}
		description := ""
		if len(args) > 2 {
			description = args[2]
		}
		files, err := migration.CreateMigration(migrationsPath, args[1], description)
		if err != nil {
			log.Fatal("Failed to create migration", zap.Error(err))
		}
		for _, mf := range files {
			log.Info("Migration created",
				zap.String("dialect", mf.Dialect),
				zap.String("up_file", mf.UpPath),
				zap.String("down_file", mf.DownPath),
			)
		}
		return
	case "list":
		for _, dialect := range migration.Dialects {
			names, err := migration.ListMigrations(migration.Dir(migrationsPath, dialect))
			if err != nil {
				log.Fatal("Failed to list migrations", zap.Error(err))
			}
			fmt.Printf("%s (%d)\n", dialect, len(names))
			for _, name := range names {
				fmt.Println("  -", name)
			}
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	if cfg.Database.Driver == config.DriverSQLite {
		if command != "up" {
			log.Fatal("Only 'up' is supported for sqlite", zap.String("command", command))
		}
		db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		if err := db.AutoMigrate(); err != nil {
			log.Fatal("Schema creation failed", zap.Error(err))
		}
		log.Info("Sqlite schema is up to date", zap.String("path", cfg.Database.Path))
		return
	}

	sqlDB, err := migration.Open(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer func() { _ = sqlDB.Close() }()

	if err := sqlDB.Ping(); err != nil {
		log.Fatal("Failed to ping database", zap.Error(err))
	}

	m, err := migration.New(sqlDB, cfg.Database.Driver, migrationsPath, log)
	if err != nil {
		log.Fatal("Failed to create migrator", zap.Error(err))
	}
	defer func() { _ = m.Close() }()

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "step":
		var n int
		n, err = strconv.Atoi(argAt(args, 1, log, "step <n>"))
		if err == nil {
			err = m.Steps(n)
		}
	case "goto":
		var v uint64
		v, err = strconv.ParseUint(argAt(args, 1, log, "goto <version>"), 10, 64)
		if err == nil {
			err = m.GoTo(uint(v))
		}
	case "force":
		var v int
		v, err = strconv.Atoi(argAt(args, 1, log, "force <version>"))
		if err == nil {
			err = m.Force(v)
		}
	case "version":
		version, dirty, verr := m.Version()
		if verr == nil {
			log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}
		err = verr
	default:
		log.Error("Unknown command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal("Migration command failed", zap.String("command", command), zap.Error(err))
	}
}

func argAt(args []string, i int, log *zap.Logger, usage string) string {
	if len(args) <= i {
		log.Fatal("Missing argument. Usage: migrate " + usage)
	}
	return args[i]
}

func printUsage() {
	fmt.Println(`Delivery service migration tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  step <n>              Apply n migrations (positive=up, negative=down)
  goto <version>        Migrate to a specific version
  version               Show current migration version
  force <version>       Force set migration version after a failed run
  create <name> [desc]  Scaffold a migration pair for every SQL dialect
  list                  List available migrations per dialect

Flags:
  -path string          Root of migrations/<driver> (default: ./migrations)
  -log-level string     Log level: debug, info, warn, error (default: info)

The database is selected with STOREFRONT_DATABASE_DRIVER and friends.
With the sqlite driver only 'up' is available; it creates tables from the models.`)
}

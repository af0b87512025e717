package main

import (
	"os"
	"strings"
	"time"

	"github.com/lexgig/lexgig-backend/internal/config"
	"github.com/lexgig/lexgig-backend/internal/migration"
	pkglogger "github.com/lexgig/lexgig-backend/pkg/logger"
	flag "github.com/spf13/pflag"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	configPath := flag.String("config", "", "config file path (default configs/config.<APP_ENV>.yaml)")
	verify := flag.Bool("verify", false, "report missing tables without migrating")
	rollback := flag.Bool("rollback", false, "drop all coordinator tables")
	yes := flag.Bool("yes", false, "confirm destructive operations")
	verbose := flag.BoolP("verbose", "v", false, "verbose SQL logging")
	flag.Parse()

	config.LoadDotEnv()
	pkglogger.InitStructured(os.Getenv("APP_ENV"))
	log := pkglogger.Component("migrate")

	path := *configPath
	if path == "" {
		path = config.Path(os.Getenv("APP_ENV"))
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("failed to load config")
	}

	logLevel := gormlogger.Warn
	if *verbose {
		logLevel = gormlogger.Info
	}

	var dialector gorm.Dialector
	if cfg.Database.Driver == "sqlite" {
		dialector = sqlite.Open(cfg.Database.GetDSN())
	} else {
		dialector = mysql.Open(cfg.Database.GetDSN())
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get underlying DB")
	}
	defer sqlDB.Close()

	switch {
	case *rollback:
		if !*yes {
			log.Fatal().Msg("rollback drops every table, pass --yes to confirm")
		}
		start := time.Now()
		if err := migration.Rollback(db); err != nil {
			log.Fatal().Err(err).Msg("rollback failed")
		}
		log.Info().Dur("elapsed", time.Since(start)).Msg("rollback complete")

	case *verify:
		if missing := migration.Verify(db); len(missing) > 0 {
			log.Error().Str("missing", strings.Join(missing, ", ")).Msg("schema incomplete")
			os.Exit(1)
		}
		log.Info().Msg("all tables present")

	default:
		start := time.Now()
		if err := migration.Run(db); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		log.Info().Dur("elapsed", time.Since(start)).Int("tables", len(migration.Models())).Msg("migration complete")
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"meetbook/internal/config"
	"meetbook/internal/database"
	"meetbook/internal/database/postgres"
	"meetbook/internal/domain"
	"meetbook/internal/models"
	"meetbook/internal/service"
	"meetbook/internal/timezone"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// SettingsFile is the organizer configuration to seed. Omitted fields keep
// their stored (or default) values.
type SettingsFile struct {
	Timezone            string                `yaml:"timezone"`
	SlotDurationMinutes int                   `yaml:"slot_duration_minutes"`
	BufferMinutes       *int                  `yaml:"buffer_minutes"`
	AdvanceBookingDays  int                   `yaml:"advance_booking_days"`
	WorkingDays         []int                 `yaml:"working_days"`
	Availability        []models.Availability `yaml:"availability"`
	BlockedDates        []string              `yaml:"blocked_dates"`
	RequireApproval     *bool                 `yaml:"require_approval"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		settingsPath = flag.String("settings", "configs/settings.yaml", "path to settings.yaml")
		configPath   = flag.String("config", "configs/config.yaml", "path to config.yaml")
	)
	flag.Parse()

	data, err := os.ReadFile(*settingsPath)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	var file SettingsFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer store.Close()

	conv := timezone.NewConverter(&logger)
	svc := service.NewSettingsService(store, conv, cfg.Scheduling.Timezone, cfg.Scheduling.MeetingTypes, &logger)

	current, err := svc.Get(ctx)
	if err != nil {
		return fmt.Errorf("load current settings: %w", err)
	}
	saved, err := svc.Update(ctx, file.apply(current))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	fmt.Printf("done: timezone=%s slot=%dm buffer=%dm horizon=%dd working_days=%v windows=%d blocked=%d\n",
		saved.Timezone, saved.SlotDurationMinutes, saved.BufferMinutes, saved.AdvanceBookingDays,
		saved.WorkingDays, len(saved.Availability), len(saved.BlockedDates))
	return nil
}

func (f SettingsFile) apply(s models.BookingSettings) models.BookingSettings {
	if f.Timezone != "" {
		s.Timezone = f.Timezone
	}
	if f.SlotDurationMinutes != 0 {
		s.SlotDurationMinutes = f.SlotDurationMinutes
	}
	if f.BufferMinutes != nil {
		s.BufferMinutes = *f.BufferMinutes
	}
	if f.AdvanceBookingDays != 0 {
		s.AdvanceBookingDays = f.AdvanceBookingDays
	}
	if f.WorkingDays != nil {
		s.WorkingDays = f.WorkingDays
	}
	if f.Availability != nil {
		s.Availability = f.Availability
	}
	if f.BlockedDates != nil {
		s.BlockedDates = f.BlockedDates
	}
	if f.RequireApproval != nil {
		s.RequireApproval = *f.RequireApproval
	}
	return s
}

func openStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pg, err := postgres.Open(ctx, cfg.Database.Postgres.DSN(), logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return pg, nil
	case config.DriverSQLite:
		db, err := database.NewDB(cfg.Database.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("driver %q has nothing to seed", cfg.Database.Driver)
	}
}

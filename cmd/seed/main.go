package main

import (
	"context"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
	"github.com/hackgods/clinic-availability-engine/internal/db"
	"github.com/hackgods/clinic-availability-engine/internal/localtime"
	"github.com/hackgods/clinic-availability-engine/internal/logging"
)

type seedConfig struct {
	PostgresDSN   string `env:"POSTGRES_DSN,required"`
	Practitioners int    `env:"SEED_PRACTITIONERS" envDefault:"20"`
	Migrate       bool   `env:"SEED_MIGRATE" envDefault:"true"`
}

var zones = []string{"Europe/Moscow", "Europe/Berlin", "America/New_York", "Asia/Almaty"}

type catalogueEntry struct {
	name     string
	minutes  int
	bufferOv *int
}

func ptr[T any](v T) *T { return &v }

var catalogue = []catalogueEntry{
	{name: "Initial consultation", minutes: 30},
	{name: "Follow-up", minutes: 20},
	{name: "Deep tissue massage", minutes: 60, bufferOv: ptr(10)},
	{name: "Facial", minutes: 45},
	{name: "Laser session", minutes: 90, bufferOv: ptr(30)},
}

func main() {
	logger := logging.New("seed", "dev")

	_ = godotenv.Load()
	var cfg seedConfig
	if err := env.Parse(&cfg); err != nil {
		logger.Error("parse environment", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{AppName: "clinic-seed", MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.Migrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migrate", "err", err)
			os.Exit(1)
		}
	}

	store := calendar.NewPgStore(pool)
	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	services, err := seedServices(ctx, store)
	if err != nil {
		logger.Error("seed services", "err", err)
		os.Exit(1)
	}
	for i := 0; i < cfg.Practitioners; i++ {
		p, err := seedPractitioner(ctx, store, faker, services)
		if err != nil {
			logger.Error("seed practitioner", "n", i, "err", err)
			os.Exit(1)
		}
		logger.Debug("practitioner seeded", "id", p.ID, "name", p.Name, "tz", p.TimeZone)
	}

	logger.Info("seed complete", "practitioners", cfg.Practitioners, "services", len(services))
}

func seedServices(ctx context.Context, store calendar.Store) ([]calendar.Service, error) {
	out := make([]calendar.Service, 0, len(catalogue))
	err := store.InTx(ctx, func(tx calendar.Tx) error {
		for _, c := range catalogue {
			s := calendar.Service{Name: c.name, DurationMinutes: c.minutes, BufferOverrideMinutes: c.bufferOv}
			if err := tx.InsertService(ctx, &s); err != nil {
				return fmt.Errorf("insert service %q: %w", c.name, err)
			}
			out = append(out, s)
		}
		return nil
	})
	return out, err
}

// seedPractitioner creates one practitioner with a weekday template, a lunch
// break, a random subset of services and, for some, a vacation next month.
func seedPractitioner(ctx context.Context, store calendar.Store, faker *gofakeit.Faker, services []calendar.Service) (*calendar.Practitioner, error) {
	p := &calendar.Practitioner{
		Name:               "Dr. " + faker.LastName(),
		TimeZone:           zones[faker.Number(0, len(zones)-1)],
		BufferMinutes:      []int{0, 5, 10, 15}[faker.Number(0, 3)],
		MinLeadMinutes:     []int{0, 60, 120, 1440}[faker.Number(0, 3)],
		GridStepMinutes:    []int{5, 10, 15, 30}[faker.Number(0, 3)],
		DefaultSlotMinutes: 30,
		Active:             true,
	}
	loc, err := p.Location()
	if err != nil {
		return nil, err
	}

	err = store.InTx(ctx, func(tx calendar.Tx) error {
		if err := tx.InsertPractitioner(ctx, p); err != nil {
			return err
		}
		for _, s := range services {
			if !faker.Bool() {
				continue
			}
			if err := tx.LinkService(ctx, calendar.ServiceLink{PractitionerID: p.ID, ServiceID: s.ID, Active: true}); err != nil {
				return err
			}
		}

		startHour := faker.Number(8, 10)
		if err := tx.InsertTemplate(ctx, &calendar.WeeklyTemplate{
			PractitionerID: p.ID,
			Weekdays:       []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
			StartMinute:    localtime.Clock(startHour * 60),
			EndMinute:      localtime.Clock((startHour + 8) * 60),
		}); err != nil {
			return err
		}

		now := time.Now().In(loc)
		lunch := time.Date(now.Year(), now.Month(), now.Day(), 13, 0, 0, 0, loc)
		if err := tx.InsertUnavailability(ctx, &calendar.Unavailability{
			PractitionerID: p.ID,
			Type:           calendar.UnavailabilityNoBookings,
			Reason:         ptr("lunch"),
			StartAt:        lunch.UTC(),
			EndAt:          lunch.Add(time.Hour).UTC(),
			Rule:           ptr("FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR"),
			TimeZone:       p.TimeZone,
		}); err != nil {
			return err
		}

		if faker.Number(1, 4) == 1 {
			from := time.Date(now.Year(), now.Month()+1, faker.Number(1, 20), 0, 0, 0, 0, loc)
			if err := tx.InsertUnavailability(ctx, &calendar.Unavailability{
				PractitionerID: p.ID,
				Type:           calendar.UnavailabilityVacation,
				Reason:         ptr(faker.City()),
				StartAt:        from.UTC(),
				EndAt:          from.AddDate(0, 0, faker.Number(3, 10)).UTC(),
				TimeZone:       p.TimeZone,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

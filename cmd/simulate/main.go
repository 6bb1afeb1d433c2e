package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/caarlos0/env/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-availability-engine/internal/db"
	"github.com/hackgods/clinic-availability-engine/internal/logging"
)

// SimConfig drives a booking storm against a running api-server. Workers race
// for the same few slots so every slot should end with exactly one winner.
type SimConfig struct {
	APIBaseURL    string        `env:"SIM_API_BASE_URL" envDefault:"http://localhost:8080"`
	Duration      time.Duration `env:"SIM_DURATION" envDefault:"30s"`
	Workers       int           `env:"SIM_WORKERS" envDefault:"10"`
	HotSlots      int           `env:"SIM_HOT_SLOTS" envDefault:"5"`
	BookingRatio  float64       `env:"SIM_BOOKING_RATIO" envDefault:"0.6"`
	DaysAhead     int           `env:"SIM_DAYS_AHEAD" envDefault:"7"`
	Practitioners int           `env:"SIM_PRACTITIONER_LIMIT" envDefault:"10"`
	PostgresDSN   string        `env:"POSTGRES_DSN,required"`
}

type target struct {
	PractitionerID uuid.UUID
	ServiceID      uuid.UUID
	Date           string
	Slots          []time.Time
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	return sum / time.Duration(len(latencies)),
		latencies[len(latencies)*50/100],
		latencies[min(len(latencies)*95/100, len(latencies)-1)],
		latencies[len(latencies)-1]
}

type Simulator struct {
	config  SimConfig
	targets []target
	client  *http.Client
	logger  *slog.Logger

	booking OperationMetrics
	slots   OperationMetrics

	mu      sync.Mutex
	winners map[string]int // practitioner/start -> successful bookings
}

func main() {
	logger := logging.New("simulate", "dev")

	_ = godotenv.Load()
	var cfg SimConfig
	if err := env.Parse(&cfg); err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	if cfg.Workers <= 0 || cfg.Duration <= 0 || cfg.HotSlots <= 0 {
		logger.Error("SIM_WORKERS, SIM_DURATION and SIM_HOT_SLOTS must be > 0")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{AppName: "clinic-simulate", MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	sim := &Simulator{
		config:  cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		winners: map[string]int{},
	}
	if err := sim.loadTargets(ctx, pool); err != nil {
		logger.Error("load targets", "err", err)
		os.Exit(1)
	}
	logger.Info("targets loaded", "count", len(sim.targets))

	sim.Run()
	sim.PrintReport()
}

// loadTargets picks linked practitioner/service pairs and asks the API for the
// first hot slots of the first day that has any.
func (s *Simulator) loadTargets(ctx context.Context, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, `
		SELECT l.practitioner_id, l.service_id
		FROM practitioner_services l
		JOIN practitioners p ON p.id = l.practitioner_id
		WHERE l.active AND p.active
		ORDER BY random()
		LIMIT $1
	`, s.config.Practitioners)
	if err != nil {
		return fmt.Errorf("query links: %w", err)
	}
	var pairs [][2]uuid.UUID
	for rows.Next() {
		var pid, sid uuid.UUID
		if err := rows.Scan(&pid, &sid); err != nil {
			rows.Close()
			return err
		}
		pairs = append(pairs, [2]uuid.UUID{pid, sid})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, pair := range pairs {
		for d := 1; d <= s.config.DaysAhead; d++ {
			date := time.Now().AddDate(0, 0, d).Format(time.DateOnly)
			slots, err := s.fetchSlots(ctx, pair[0], pair[1], date)
			if err != nil {
				return err
			}
			if len(slots) == 0 {
				continue
			}
			if len(slots) > s.config.HotSlots {
				slots = slots[:s.config.HotSlots]
			}
			s.targets = append(s.targets, target{PractitionerID: pair[0], ServiceID: pair[1], Date: date, Slots: slots})
			break
		}
	}
	if len(s.targets) == 0 {
		return fmt.Errorf("no bookable slots found; run the seed first")
	}
	return nil
}

func (s *Simulator) fetchSlots(ctx context.Context, pid, sid uuid.UUID, date string) ([]time.Time, error) {
	url := fmt.Sprintf("%s/practitioners/%s/slots?service_id=%s&date=%s", s.config.APIBaseURL, pid, sid, date)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.slots.Record(latency, false, false)
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Slots []struct {
			Start time.Time `json:"start"`
		} `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		s.slots.Record(latency, false, false)
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	s.slots.Record(latency, resp.StatusCode == http.StatusOK, false)

	out := make([]time.Time, 0, len(body.Slots))
	for _, sl := range body.Slots {
		out = append(out, sl.Start)
	}
	return out, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation", "duration", s.config.Duration, "workers", s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	faker := gofakeit.New(uint64(rng.Int63()))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		t := s.targets[rng.Intn(len(s.targets))]
		if rng.Float64() < s.config.BookingRatio {
			s.doBooking(ctx, faker, t, t.Slots[rng.Intn(len(t.Slots))])
		} else {
			_, _ = s.fetchSlots(ctx, t.PractitionerID, t.ServiceID, t.Date)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, faker *gofakeit.Faker, t target, start time.Time) {
	body, _ := json.Marshal(map[string]any{
		"practitioner_id": t.PractitionerID,
		"service_id":      t.ServiceID,
		"start":           start,
		"guest_name":      faker.Name(),
		"guest_email":     faker.Email(),
		"origin":          "operator",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/bookings", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	began := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(began)
	if err != nil {
		if ctx.Err() == nil {
			s.booking.Record(latency, false, false)
		}
		return
	}
	defer resp.Body.Close()

	success := resp.StatusCode == http.StatusCreated
	s.booking.Record(latency, success, resp.StatusCode == http.StatusConflict)
	if success {
		s.mu.Lock()
		s.winners[t.PractitionerID.String()+"/"+start.UTC().Format(time.RFC3339)]++
		s.mu.Unlock()
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Targets: %d practitioners x up to %d slots\n\n", len(s.targets), s.config.HotSlots)

	printOperationReport("Booking", &s.booking)
	printOperationReport("List slots", &s.slots)

	doubles := 0
	for key, n := range s.winners {
		if n > 1 {
			doubles++
			fmt.Printf("DOUBLE BOOKING: %s won %d times\n", key, n)
		}
	}
	fmt.Printf("Slots won: %d, double bookings: %d\n", len(s.winners), doubles)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medanta-hms/opd-queue-core/internal/config"
	"github.com/medanta-hms/opd-queue-core/internal/db"
)

// The simulator hammers the booking write path with concurrent requests
// for a handful of slot instances, then checks the invariant that slot
// numbers per (template, date) are a gapless 1..N sequence.

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	CancelRatio   float64
	ReadRatio     float64
	PatientLimit  int
	TemplateLimit int
	TargetDate    string
	PostgresDSN   string
}

type DataPool struct {
	Patients  []uuid.UUID
	Templates []templateInfo
	mu        sync.RWMutex
	bookings  []uuid.UUID
}

type templateInfo struct {
	ID       uuid.UUID
	Category string
}

func (dp *DataPool) AddBooking(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

func (dp *DataPool) GetRandomBooking() (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return uuid.Nil, false
	}
	idx := rand.Intn(len(dp.bookings))
	return dp.bookings[idx], true
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
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking      OperationMetrics
	Cancel       OperationMetrics
	Availability OperationMetrics
	ReadByID     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f cancel=%.2f read=%.2f date=%s",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.CancelRatio, cfg.ReadRatio, cfg.TargetDate)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d patients, %d templates", len(dataPool.Patients), len(dataPool.Templates))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	sim.Run()
	sim.PrintReport()

	if err := verifySlotNumbers(context.Background(), pgPool, cfg.TargetDate); err != nil {
		log.Fatalf("INVARIANT VIOLATED: %v", err)
	}
	log.Println("slot-number invariant holds: every (template, date) sequence is gapless")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	tomorrow := time.Now().AddDate(0, 0, 1).Format("2006-01-02")

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.4),
		PatientLimit:  getInt("SIM_PATIENT_LIMIT", 2000),
		TemplateLimit: getInt("SIM_TEMPLATE_LIMIT", 10),
		TargetDate:    getEnv("SIM_TARGET_DATE", tomorrow),
		PostgresDSN:   baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if _, err := time.Parse("2006-01-02", cfg.TargetDate); err != nil {
		return fmt.Errorf("SIM_TARGET_DATE must be YYYY-MM-DD")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id FROM patients LIMIT $1
	`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}

	targetDate, _ := time.Parse("2006-01-02", cfg.TargetDate)

	// A small template set concentrates contention on few lock keys.
	rows, err = pool.Query(ctx, `
		SELECT id, category FROM slot_templates
		WHERE active AND weekday = $1
		LIMIT $2
	`, int(targetDate.Weekday()), cfg.TemplateLimit)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t templateInfo
		if err := rows.Scan(&t.ID, &t.Category); err != nil {
			return nil, err
		}
		dataPool.Templates = append(dataPool.Templates, t)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run the seed tool first")
	}
	if len(dataPool.Templates) == 0 {
		return nil, fmt.Errorf("no active templates for weekday of %s", cfg.TargetDate)
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doAvailability(ctx, rng)
				} else {
					s.doReadByID(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	tmpl := s.pool.Templates[rng.Intn(len(s.pool.Templates))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()

	reqBody := map[string]string{
		"patient_id":  patientID.String(),
		"template_id": tmpl.ID.String(),
		"category":    tmpl.Category,
		"date":        s.config.TargetDate,
	}
	body, _ := json.Marshal(reqBody)

	req, _ := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+"/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusCreated {
			success = true
			var bookingResp struct {
				ID uuid.UUID `json:"id"`
			}
			bodyBytes, _ := io.ReadAll(resp.Body)
			if len(bodyBytes) > 0 {
				_ = json.Unmarshal(bodyBytes, &bookingResp)
				if bookingResp.ID != uuid.Nil {
					s.pool.AddBooking(bookingResp.ID)
				}
			}
		} else if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity {
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	bookingID, ok := s.pool.GetRandomBooking()
	if !ok {
		return
	}

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/bookings/%s/cancel", s.config.APIBaseURL, bookingID.String()),
		bytes.NewReader([]byte(`{"reason":"simulation"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Role", "staff")
	req.Header.Set("X-Actor-ID", "simulator")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			success = true
		} else if resp.StatusCode == http.StatusConflict {
			conflict = true
		}
	}

	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	tmpl := s.pool.Templates[rng.Intn(len(s.pool.Templates))]

	start := time.Now()

	url := fmt.Sprintf("%s/availability?date=%s&category=%s", s.config.APIBaseURL, s.config.TargetDate, tmpl.Category)
	req, _ := http.NewRequestWithContext(ctx, "GET", url, nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Availability.Record(latency, success, false)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	bookingID, ok := s.pool.GetRandomBooking()
	if !ok {
		return
	}

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/bookings/%s", s.config.APIBaseURL, bookingID.String()), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ReadByID.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	report := func(name string, om *OperationMetrics) {
		avg, min, max, p50, p95 := om.Stats()
		log.Printf("%-14s total=%d success=%d conflict=%d error=%d avg=%s min=%s max=%s p50=%s p95=%s",
			name, om.Total, om.Success, om.Conflict, om.Error, avg, min, max, p50, p95)
	}

	log.Println("---- simulation report ----")
	report("booking", &s.metrics.Booking)
	report("cancel", &s.metrics.Cancel)
	report("availability", &s.metrics.Availability)
	report("read_by_id", &s.metrics.ReadByID)
}

// verifySlotNumbers asserts that for every (template, date) the active
// slot numbers plus the cancelled ones form exactly 1..max with no
// duplicates: numbers are never reused or skipped.
func verifySlotNumbers(ctx context.Context, pool *pgxpool.Pool, date string) error {
	rows, err := pool.Query(ctx, `
		SELECT template_id, array_agg(slot_number ORDER BY slot_number)
		FROM bookings
		WHERE booking_date = $1
		GROUP BY template_id
	`, date)
	if err != nil {
		return fmt.Errorf("load slot numbers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var templateID uuid.UUID
		var numbers []int32
		if err := rows.Scan(&templateID, &numbers); err != nil {
			return err
		}
		for i, n := range numbers {
			if int(n) != i+1 {
				return fmt.Errorf("template %s: expected slot %d at position %d, got %d",
					templateID, i+1, i, n)
			}
		}
	}

	return rows.Err()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

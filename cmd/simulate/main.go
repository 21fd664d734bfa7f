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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxpoint/vaccine-slot-booking/internal/config"
	"github.com/vaxpoint/vaccine-slot-booking/internal/db"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	ReadRatio     float64
	UserLimit     int
	DateSlotLimit int
	VaccineLimit  int
	PostgresDSN   string
}

type DataPool struct {
	Users        []uuid.UUID
	Vaccines     []uuid.UUID
	DateSlots    []dateSlotRef
	mu           sync.RWMutex
	appointments []uuid.UUID
}

type dateSlotRef struct {
	ID       uuid.UUID
	CenterID uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment() (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	idx := rand.Intn(len(dp.appointments))
	return dp.appointments[idx], true
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
	ReadByID     OperationMetrics
	ListByUser   OperationMetrics
	ListByCenter OperationMetrics
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

	log.Printf("config: duration=%s workers=%d booking=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, int32(cfg.Workers))
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d users, %d vaccines, %d date slots",
		len(dataPool.Users), len(dataPool.Vaccines), len(dataPool.DateSlots))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	sim.Run()
	sim.PrintReport()

	// The whole point of the exercise: after hammering the API, prove the
	// occupancy invariant held in the database.
	if err := verifyInvariants(context.Background(), pgPool, dataPool); err != nil {
		log.Fatalf("INVARIANT VIOLATION: %v", err)
	}
	log.Println("occupancy invariants verified: booked <= capacity everywhere, counters match appointments")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.6),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.4),
		UserLimit:     getInt("SIM_USER_LIMIT", 4000),
		DateSlotLimit: getInt("SIM_DATE_SLOT_LIMIT", 20),
		VaccineLimit:  getInt("SIM_VACCINE_LIMIT", 10),
		PostgresDSN:   baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
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
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id FROM users LIMIT $1
	`, cfg.UserLimit)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Users = append(dataPool.Users, id)
	}

	rows, err = pool.Query(ctx, `
		SELECT id FROM vaccines LIMIT $1
	`, cfg.VaccineLimit)
	if err != nil {
		return nil, fmt.Errorf("load vaccines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Vaccines = append(dataPool.Vaccines, id)
	}

	// Keep the date-slot pool small so bookings pile onto the same days
	// and actually contend.
	rows, err = pool.Query(ctx, `
		SELECT id, center_id FROM date_slots
		WHERE status = 'active' AND slot_date > now()
		ORDER BY slot_date
		LIMIT $1
	`, cfg.DateSlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load date slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref dateSlotRef
		if err := rows.Scan(&ref.ID, &ref.CenterID); err != nil {
			return nil, err
		}
		dataPool.DateSlots = append(dataPool.DateSlots, ref)
	}

	if len(dataPool.Users) == 0 {
		return nil, fmt.Errorf("no users loaded")
	}
	if len(dataPool.Vaccines) == 0 {
		return nil, fmt.Errorf("no vaccines loaded")
	}
	if len(dataPool.DateSlots) == 0 {
		return nil, fmt.Errorf("no date slots loaded")
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
			if r < s.config.BookingRatio {
				s.doBooking(ctx, rng)
			} else {
				readOp := rng.Intn(3)
				switch readOp {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByUser(ctx, rng)
				case 2:
					s.doListByCenter(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.DateSlots[rng.Intn(len(s.pool.DateSlots))]
	userID := s.pool.Users[rng.Intn(len(s.pool.Users))]
	vaccineID := s.pool.Vaccines[rng.Intn(len(s.pool.Vaccines))]

	start := time.Now()

	reqBody := map[string]string{
		"user_id":      userID.String(),
		"vaccine_id":   vaccineID.String(),
		"center_id":    slot.CenterID.String(),
		"date_slot_id": slot.ID.String(),
	}
	body, _ := json.Marshal(reqBody)

	req, _ := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusCreated {
			success = true
			var apptResp struct {
				ID uuid.UUID `json:"id"`
			}
			bodyBytes, _ := io.ReadAll(resp.Body)
			if len(bodyBytes) > 0 {
				json.Unmarshal(bodyBytes, &apptResp)
				if apptResp.ID != uuid.Nil {
					s.pool.AddAppointment(apptResp.ID)
				}
			}
		} else if resp.StatusCode == http.StatusConflict {
			// slot_full / slot_unavailable / booking_conflict all land here;
			// every one of them is the system refusing to oversell.
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment()
	if !ok {
		return
	}

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, apptID.String()), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ReadByID.Record(latency, success, false)
}

func (s *Simulator) doListByUser(ctx context.Context, rng *rand.Rand) {
	userID := s.pool.Users[rng.Intn(len(s.pool.Users))]

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/users/%s/appointments", s.config.APIBaseURL, userID.String()), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ListByUser.Record(latency, success, false)
}

func (s *Simulator) doListByCenter(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.DateSlots[rng.Intn(len(s.pool.DateSlots))]

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/centers/%s/appointments", s.config.APIBaseURL, slot.CenterID.String()), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ListByCenter.Record(latency, success, false)
}

// verifyInvariants cross-checks the capacity ledger after the run:
// no counter above capacity, and both counter levels equal the number of
// appointments that actually reference them.
func verifyInvariants(ctx context.Context, pool *pgxpool.Pool, dataPool *DataPool) error {
	for _, slot := range dataPool.DateSlots {
		var booked, capacity, apptCount, timeSlotSum int

		err := pool.QueryRow(ctx, `
			SELECT d.booked, d.capacity,
			       (SELECT count(*) FROM appointments a WHERE a.date_slot_id = d.id),
			       COALESCE((SELECT sum(t.booked) FROM time_slots t WHERE t.date_slot_id = d.id), 0)
			FROM date_slots d
			WHERE d.id = $1
		`, slot.ID).Scan(&booked, &capacity, &apptCount, &timeSlotSum)
		if err != nil {
			return fmt.Errorf("inspect date slot %s: %w", slot.ID, err)
		}

		if booked > capacity {
			return fmt.Errorf("date slot %s oversold: booked=%d capacity=%d", slot.ID, booked, capacity)
		}
		if booked != apptCount {
			return fmt.Errorf("date slot %s counter drift: booked=%d appointments=%d", slot.ID, booked, apptCount)
		}
		if booked != timeSlotSum {
			return fmt.Errorf("date slot %s ladder drift: booked=%d sum(time_slots.booked)=%d", slot.ID, booked, timeSlotSum)
		}

		var oversold int
		err = pool.QueryRow(ctx, `
			SELECT count(*) FROM time_slots WHERE date_slot_id = $1 AND booked > capacity
		`, slot.ID).Scan(&oversold)
		if err != nil {
			return fmt.Errorf("inspect time slots for %s: %w", slot.ID, err)
		}
		if oversold > 0 {
			return fmt.Errorf("date slot %s has %d oversold time slots", slot.ID, oversold)
		}
	}

	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by User", &s.metrics.ListByUser)
	printOperationReport("List by Center", &s.metrics.ListByCenter)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Workers      int
	Slots        int
	PollTimeout  time.Duration
	PostgresDSN  string
	ClinicID     string
	Practitioner string
}

type target struct {
	Start time.Time
	End   time.Time
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

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

type Metrics struct {
	Submit   OperationMetrics // accepted for processing
	Resolved OperationMetrics // success = approved, conflict = rejected; latency is submit to outcome
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger

	mu       sync.Mutex
	requests map[uuid.UUID]submitted
}

type submitted struct {
	token       string
	submittedAt time.Time
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("prod", "info")
		bootLog.Fatal().Err(err).Msg("failed to load base config")
	}
	log := logging.Component(logging.New(baseCfg.Env, baseCfg.LogLevel), "simulate")

	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Workers:      getInt("SIM_WORKERS", 10),
		Slots:        getInt("SIM_SLOTS", 5),
		PollTimeout:  getDuration("SIM_POLL_TIMEOUT", 60*time.Second),
		PostgresDSN:  baseCfg.PostgresDSN,
		ClinicID:     os.Getenv("SIM_CLINIC_ID"),
		Practitioner: os.Getenv("SIM_PRACTITIONER_ID"),
	}
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	if cfg.ClinicID == "" || cfg.Practitioner == "" {
		cfg.ClinicID, cfg.Practitioner, err = pickPractitioner(ctx, pgPool)
		if err != nil {
			log.Fatal().Err(err).Msg("pick practitioner")
		}
	}

	sim := &Simulator{
		config:   cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
		requests: make(map[uuid.UUID]submitted),
	}

	targets, err := sim.loadTargets(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load availability")
	}
	log.Info().
		Str("clinic_id", cfg.ClinicID).
		Str("practitioner_id", cfg.Practitioner).
		Int("slots", len(targets)).
		Int("workers", cfg.Workers).
		Msg("simulation starting")

	sim.Run(ctx, targets)
	sim.AwaitOutcomes(ctx)

	overlaps, err := countOverlaps(ctx, pgPool, cfg.ClinicID, cfg.Practitioner)
	if err != nil {
		log.Error().Err(err).Msg("overlap check failed")
	}
	sim.PrintReport(len(targets), overlaps)
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Slots <= 0 {
		return fmt.Errorf("SIM_SLOTS must be > 0")
	}
	return nil
}

func pickPractitioner(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	var clinicID, practitionerID string
	err := pool.QueryRow(ctx, `
		SELECT clinic_id, id
		FROM practitioners
		WHERE public = true
		ORDER BY created_at
		LIMIT 1
	`).Scan(&clinicID, &practitionerID)
	if err != nil {
		return "", "", fmt.Errorf("no public practitioner found (run seed first): %w", err)
	}
	return clinicID, practitionerID, nil
}

// countOverlaps returns pairs of live appointments of one practitioner that
// intersect. Anything above zero is a double booking.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool, clinicID, practitionerID string) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.clinic_id = b.clinic_id
		 AND a.practitioner_id = b.practitioner_id
		 AND a.id < b.id
		 AND a.starts_at < b.ends_at
		 AND b.starts_at < a.ends_at
		WHERE a.clinic_id = $1
		  AND a.practitioner_id = $2
		  AND a.status <> 'cancelled'
		  AND b.status <> 'cancelled'
	`, clinicID, practitionerID).Scan(&n)
	return n, err
}

func (s *Simulator) loadTargets(ctx context.Context) ([]target, error) {
	from := time.Now().Add(2 * time.Hour).UTC()
	q := url.Values{}
	q.Set("clinicId", s.config.ClinicID)
	q.Set("practitionerId", s.config.Practitioner)
	q.Set("rangeStart", from.Format(time.RFC3339))
	q.Set("rangeEnd", from.Add(14*24*time.Hour).Format(time.RFC3339))

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/availability?"+q.Encode(), nil)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("availability returned %d", resp.StatusCode)
	}

	var body struct {
		Slots []target `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Slots) == 0 {
		return nil, errors.New("no open slots")
	}
	if len(body.Slots) > s.config.Slots {
		body.Slots = body.Slots[:s.config.Slots]
	}
	return body.Slots, nil
}

// Run makes every worker submit one booking for every target slot, so each
// slot sees Workers concurrent competitors.
func (s *Simulator) Run(ctx context.Context, targets []target) {
	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			token, err := s.anonymousToken(ctx)
			if err != nil {
				s.log.Error().Err(err).Int("worker", workerID).Msg("anonymous token failed")
				return
			}
			for _, t := range targets {
				s.submit(ctx, token, t)
			}
		}(i)
	}
	wg.Wait()
}

func (s *Simulator) anonymousToken(ctx context.Context) (string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/auth/anonymous", nil)
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("auth returned %d", resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Token, nil
}

func (s *Simulator) submit(ctx context.Context, token string, t target) {
	reqBody := map[string]any{
		"clinicId":       s.config.ClinicID,
		"practitionerId": s.config.Practitioner,
		"start":          t.Start.UTC().Format(time.RFC3339),
		"end":            t.End.UTC().Format(time.RFC3339),
		"patient": map[string]any{
			"firstName":   gofakeit.FirstName(),
			"lastName":    gofakeit.LastName(),
			"dateOfBirth": gofakeit.DateRange(time.Now().AddDate(-80, 0, 0), time.Now().AddDate(-18, 0, 0)).Format("2006-01-02"),
			"email":       gofakeit.Email(),
			"phone":       gofakeit.Phone(),
			"consent":     true,
		},
	}
	body, _ := json.Marshal(reqBody)

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Submit.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		s.metrics.Submit.Record(latency, false, false)
		return
	}
	var out struct {
		BookingRequestID uuid.UUID `json:"bookingRequestId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.BookingRequestID == uuid.Nil {
		s.metrics.Submit.Record(latency, false, false)
		return
	}
	s.metrics.Submit.Record(latency, true, false)

	s.mu.Lock()
	s.requests[out.BookingRequestID] = submitted{token: token, submittedAt: start}
	s.mu.Unlock()
}

// AwaitOutcomes polls every submitted request until it leaves pending or the
// poll timeout passes.
func (s *Simulator) AwaitOutcomes(ctx context.Context) {
	deadline := time.Now().Add(s.config.PollTimeout)

	s.mu.Lock()
	pending := make(map[uuid.UUID]submitted, len(s.requests))
	for id, sub := range s.requests {
		pending[id] = sub
	}
	s.mu.Unlock()

	for len(pending) > 0 && time.Now().Before(deadline) && ctx.Err() == nil {
		for id, sub := range pending {
			status, err := s.status(ctx, id, sub.token)
			if err != nil || status == "pending" {
				continue
			}
			s.metrics.Resolved.Record(time.Since(sub.submittedAt), status == "approved", status == "rejected")
			delete(pending, id)
		}
		time.Sleep(500 * time.Millisecond)
	}
	if len(pending) > 0 {
		s.log.Warn().Int("unresolved", len(pending)).Msg("poll timeout reached")
	}
}

func (s *Simulator) status(ctx context.Context, id uuid.UUID, token string) (string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/bookings/"+id.String(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status returned %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Status, nil
}

func (s *Simulator) PrintReport(slots, overlaps int) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Clinic: %s  Practitioner: %s\n", s.config.ClinicID, s.config.Practitioner)
	fmt.Printf("Slots contested: %d  Competitors per slot: %d\n\n", slots, s.config.Workers)

	total := atomic.LoadInt64(&s.metrics.Submit.Total)
	accepted := atomic.LoadInt64(&s.metrics.Submit.Success)
	avg, p50, p95 := s.metrics.Submit.Stats()
	fmt.Printf("Submissions: %d accepted / %d sent\n", accepted, total)
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond))

	approved := atomic.LoadInt64(&s.metrics.Resolved.Success)
	rejected := atomic.LoadInt64(&s.metrics.Resolved.Conflict)
	fmt.Printf("Approved: %d  Rejected: %d  Other: %d\n",
		approved, rejected, atomic.LoadInt64(&s.metrics.Resolved.Error))
	fmt.Printf("Overlapping appointment pairs: %d\n", overlaps)

	if approved > int64(slots) || overlaps > 0 {
		fmt.Println("RESULT: FAIL (double booking detected)")
		return
	}
	fmt.Println("RESULT: OK (at most one appointment per slot)")
}

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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/notify"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

var timezones = []string{
	"America/New_York",
	"America/Chicago",
	"America/Los_Angeles",
	"Europe/London",
	"Europe/Paris",
	"Asia/Tokyo",
	"Australia/Sydney",
}

var policies = []notify.Policy{notify.PolicyPractitioner, notify.PolicyClinicInbox, notify.PolicyBoth}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("prod", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.Component(logging.New(cfg.Env, cfg.LogLevel), "seed")
	log.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool, nil, log).Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	gofakeit.Seed(time.Now().UnixNano())

	clinics := getInt("SEED_CLINICS", 5)
	perClinic := getInt("SEED_PRACTITIONERS", 4)
	for i := 0; i < clinics; i++ {
		id, err := seedClinic(ctx, pool, perClinic, log)
		if err != nil {
			log.Fatal().Err(err).Msg("seed clinic")
		}
		log.Info().Str("clinic_id", id).Int("clinic", i+1).Int("of", clinics).Msg("clinic seeded")
	}

	log.Info().Msg("seed complete")
}

func seedClinic(ctx context.Context, pool *pgxpool.Pool, practitioners int, log zerolog.Logger) (string, error) {
	clinicID := "clinic-" + gofakeit.LetterN(8)
	company := gofakeit.Company()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	policy := policies[gofakeit.Number(0, len(policies)-1)]
	if _, err := tx.Exec(ctx, `
		INSERT INTO clinics (id, name, inbox_email, recipient_policy, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, clinicID, company+" Clinic", gofakeit.Email(), policy); err != nil {
		return "", fmt.Errorf("insert clinic: %w", err)
	}

	for i := 0; i < practitioners; i++ {
		if _, err := tx.Exec(ctx, `
			INSERT INTO practitioners (id, clinic_id, name, email, public, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
		`, fmt.Sprintf("%s-p%d", clinicID, i+1), clinicID, "Dr. "+gofakeit.Name(), gofakeit.Email(), i < practitioners-1); err != nil {
			return "", fmt.Errorf("insert practitioner: %w", err)
		}
	}

	cfg := fakeScheduleConfig(clinicID)
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO clinic_schedules (clinic_id, config, updated_at)
		VALUES ($1, $2, now())
	`, clinicID, raw); err != nil {
		return "", fmt.Errorf("insert schedule: %w", err)
	}

	if err := seedClosures(ctx, tx, clinicID, cfg.Timezone); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	log.Debug().Str("clinic_id", clinicID).Str("timezone", cfg.Timezone).Str("policy", string(policy)).Msg("clinic created")
	return clinicID, nil
}

func fakeScheduleConfig(clinicID string) schedule.ScheduleConfig {
	open := gofakeit.Number(7, 9)
	closeAt := gofakeit.Number(16, 19)

	weekly := schedule.WeeklyHours{}
	for d := time.Monday; d <= time.Friday; d++ {
		weekly[d] = []schedule.OpeningInterval{
			{Start: schedule.Clock(open, 0), End: schedule.Clock(12, 0)},
			{Start: schedule.Clock(13, 0), End: schedule.Clock(closeAt, 0)},
		}
	}
	if gofakeit.Bool() {
		weekly[time.Saturday] = []schedule.OpeningInterval{{Start: schedule.Clock(9, 0), End: schedule.Clock(13, 0)}}
	}

	steps := []int{15, 20, 30}
	cfg := schedule.ScheduleConfig{
		ClinicID:         clinicID,
		Timezone:         timezones[gofakeit.Number(0, len(timezones)-1)],
		SlotStepMinutes:  schedule.Minutes(steps[gofakeit.Number(0, len(steps)-1)]),
		MinNoticeMinutes: schedule.Minutes(60),
		MaxAdvanceDays:   schedule.Minutes(90),
		WeeklyHours:      weekly,
	}
	if gofakeit.Bool() {
		mode := schedule.AccessLinkOnly
		if gofakeit.Bool() {
			mode = schedule.AccessCodeUnlock
		}
		cfg.Programs = []schedule.CorporateProgram{{
			Slug:     gofakeit.LetterN(6),
			Mode:     mode,
			Weekdays: []string{schedule.WeekdayKey(time.Wednesday)},
		}}
	}
	return cfg
}

func seedClosures(ctx context.Context, tx pgx.Tx, clinicID, tz string) error {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return err
	}
	now := time.Now().In(loc)
	for i := 0; i < gofakeit.Number(0, 3); i++ {
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, gofakeit.Number(3, 60))
		if _, err := tx.Exec(ctx, `
			INSERT INTO closures (id, clinic_id, active, starts_at, ends_at, reason)
			VALUES ($1, $2, true, $3, $4, $5)
		`, uuid.New(), clinicID, day, day.AddDate(0, 0, 1), gofakeit.RandomString([]string{"staff training", "public holiday", "maintenance", "inventory"})); err != nil {
			return fmt.Errorf("insert closure: %w", err)
		}
	}
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

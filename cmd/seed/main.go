package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxpoint/vaccine-slot-booking/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         uuid PRIMARY KEY,
	full_name  text NOT NULL,
	email      text,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vaccines (
	id             uuid PRIMARY KEY,
	name           text NOT NULL,
	manufacturer   text NOT NULL,
	doses_required int  NOT NULL DEFAULT 2,
	created_at     timestamptz NOT NULL DEFAULT now(),
	updated_at     timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS centers (
	id         uuid PRIMARY KEY,
	name       text NOT NULL,
	city       text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS date_slots (
	id         uuid PRIMARY KEY,
	center_id  uuid NOT NULL REFERENCES centers(id),
	slot_date  date NOT NULL,
	capacity   int  NOT NULL CHECK (capacity > 0),
	booked     int  NOT NULL DEFAULT 0 CHECK (booked >= 0 AND booked <= capacity),
	status     text NOT NULL DEFAULT 'active',
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE (center_id, slot_date)
);

CREATE TABLE IF NOT EXISTS time_slots (
	id           uuid PRIMARY KEY,
	center_id    uuid NOT NULL REFERENCES centers(id),
	date_slot_id uuid NOT NULL REFERENCES date_slots(id),
	start_time   timestamptz NOT NULL,
	end_time     timestamptz NOT NULL CHECK (start_time < end_time),
	capacity     int  NOT NULL CHECK (capacity > 0),
	booked       int  NOT NULL DEFAULT 0 CHECK (booked >= 0 AND booked <= capacity),
	staff_id     uuid,
	created_at   timestamptz NOT NULL DEFAULT now(),
	updated_at   timestamptz NOT NULL DEFAULT now(),
	UNIQUE (date_slot_id, start_time)
);

CREATE TABLE IF NOT EXISTS appointments (
	id           uuid PRIMARY KEY,
	user_id      uuid NOT NULL REFERENCES users(id),
	center_id    uuid NOT NULL REFERENCES centers(id),
	date_slot_id uuid NOT NULL REFERENCES date_slots(id),
	time_slot_id uuid NOT NULL REFERENCES time_slots(id),
	vaccine_id   uuid NOT NULL REFERENCES vaccines(id),
	slot_date    date NOT NULL,
	start_time   timestamptz NOT NULL,
	end_time     timestamptz NOT NULL,
	status       text NOT NULL DEFAULT 'pending',
	notes        text,
	completed_at timestamptz,
	created_at   timestamptz NOT NULL DEFAULT now(),
	updated_at   timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_appointments_user ON appointments (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_appointments_center ON appointments (center_id, slot_date, status);
CREATE INDEX IF NOT EXISTS idx_time_slots_date_slot ON time_slots (date_slot_id, start_time);
`

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	log.Info("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Error("POSTGRES_DSN is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 4)
	if err != nil {
		log.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if _, err := pool.Exec(context.Background(), schema); err != nil {
		log.Error("apply schema", "error", err)
		os.Exit(1)
	}
	log.Info("schema applied")

	if err := seedVaccines(context.Background(), pool, log); err != nil {
		log.Error("seed vaccines", "error", err)
		os.Exit(1)
	}
	centerIDs, err := seedCenters(context.Background(), pool, log, 50)
	if err != nil {
		log.Error("seed centers", "error", err)
		os.Exit(1)
	}
	if err := seedUsers(context.Background(), pool, log, 9000); err != nil {
		log.Error("seed users", "error", err)
		os.Exit(1)
	}
	if err := seedDateSlots(context.Background(), pool, log, centerIDs, 14); err != nil {
		log.Error("seed date slots", "error", err)
		os.Exit(1)
	}

	log.Info("seed complete")
}

func seedVaccines(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) error {
	vaccines := []struct {
		name         string
		manufacturer string
		doses        int
	}{
		{"Covishield", "Serum Institute", 2},
		{"Covaxin", "Bharat Biotech", 2},
		{"Sputnik V", "Gamaleya", 2},
		{"Comirnaty", "Pfizer-BioNTech", 2},
		{"Spikevax", "Moderna", 2},
		{"Jcovden", "Janssen", 1},
	}

	log.Info("seeding vaccines", "count", len(vaccines))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, v := range vaccines {
		_, err := tx.Exec(ctx, `
			INSERT INTO vaccines (id, name, manufacturer, doses_required, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, uuid.New(), v.name, v.manufacturer, v.doses)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func seedCenters(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger, count int) ([]uuid.UUID, error) {
	log.Info("seeding centers", "count", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Company() + " Vaccination Center"
		city := gofakeit.City()

		_, err := tx.Exec(ctx, `
			INSERT INTO centers (id, name, city, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, city)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return ids, nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger, count int) error {
	log.Info("seeding users", "count", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, full_name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info("users seeded", "done", end, "total", count)
	}

	return nil
}

func seedDateSlots(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger, centerIDs []uuid.UUID, days int) error {
	log.Info("seeding date slots", "centers", len(centerIDs), "days", days)

	today := time.Now().UTC().Truncate(24 * time.Hour)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, centerID := range centerIDs {
		for d := 0; d < days; d++ {
			date := today.AddDate(0, 0, d+1)
			capacity := gofakeit.Number(100, 400)

			_, err := tx.Exec(ctx, `
				INSERT INTO date_slots (id, center_id, slot_date, capacity, booked, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, 0, 'active', now(), now())
			`, uuid.New(), centerID, date, capacity)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

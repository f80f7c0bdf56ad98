package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medanta-hms/opd-queue-core/internal/booking"
	"github.com/medanta-hms/opd-queue-core/internal/db"
	"github.com/medanta-hms/opd-queue-core/internal/identity"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	seedCtx := context.Background()

	serviceIDs, err := seedServices(seedCtx, pool)
	if err != nil {
		log.Fatalf("seed services: %v", err)
	}
	if err := seedTemplates(seedCtx, pool, serviceIDs); err != nil {
		log.Fatalf("seed templates: %v", err)
	}
	if err := seedPatients(seedCtx, pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedServices(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	names := []string{
		"Dermatology",
		"Cardiology",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	log.Printf("seeding %d services", len(names))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, len(names))
	for _, name := range names {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO services (id, name, active, created_at, updated_at)
			VALUES ($1, $2, true, now(), now())
		`, id, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("services seeded")
	return ids, nil
}

func seedTemplates(ctx context.Context, pool *pgxpool.Pool, serviceIDs []uuid.UUID) error {
	slots := []struct{ start, end string }{
		{"09:00", "11:00"},
		{"11:00", "13:00"},
		{"14:00", "16:00"},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	count := 0

	// General queue runs every weekday.
	for wd := 1; wd <= 5; wd++ {
		for _, s := range slots {
			_, err := tx.Exec(ctx, `
				INSERT INTO slot_templates (id, category, service_id, weekday, start_time, end_time, capacity, active, created_at, updated_at)
				VALUES ($1, 'general', NULL, $2, $3, $4, $5, true, now(), now())
			`, uuid.New(), wd, s.start, s.end, gofakeit.Number(20, 60))
			if err != nil {
				return err
			}
			count++
		}
	}

	// Each clinic gets two weekdays with a morning slot.
	for i, svcID := range serviceIDs {
		for _, wd := range []int{1 + i%5, 1 + (i+2)%5} {
			_, err := tx.Exec(ctx, `
				INSERT INTO slot_templates (id, category, service_id, weekday, start_time, end_time, capacity, active, created_at, updated_at)
				VALUES ($1, 'specialty', $2, $3, '10:00', '12:00', $4, true, now(), now())
			`, uuid.New(), svcID, wd, gofakeit.Number(5, 20))
			if err != nil {
				return err
			}
			count++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Printf("templates seeded: %d", count)
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	repo := booking.NewPgRepository(pool)
	issuer := identity.NewIssuer(identity.NewPgSequenceRepository(pool), getEnv("PATIENT_ID_PREFIX", "MH"))
	registrar := identity.NewRegistrar(issuer, repo)

	for i := 0; i < count; i++ {
		phone := gofakeit.Phone()
		if _, err := registrar.Register(ctx, gofakeit.Name(), &phone); err != nil {
			return err
		}
		if (i+1)%500 == 0 {
			log.Printf("patients seeded: %d/%d", i+1, count)
		}
	}

	log.Println("patients seeded")
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

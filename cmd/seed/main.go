package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opdqueue/token-engine/internal/db"
	"github.com/opdqueue/token-engine/internal/schedule"
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

	clinicIDs, err := seedClinics(context.Background(), pool, 5)
	if err != nil {
		log.Fatalf("seed clinics: %v", err)
	}
	if err := seedDoctors(context.Background(), pool, clinicIDs, 8); err != nil {
		log.Fatalf("seed doctors: %v", err)
	}

	log.Println("seed complete")
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d clinics", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	modes := []string{"advanced", "classic"}

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		mode := modes[i%len(modes)]
		_, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, name, token_distribution, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, gofakeit.Company()+" Clinic", mode)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, tx.Commit(ctx)
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, clinicIDs []uuid.UUID, perClinic int) error {
	log.Printf("seeding %d doctors per clinic", perClinic)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	weekdays := []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, clinicID := range clinicIDs {
		for i := 0; i < perClinic; i++ {
			weekly := make(map[string][]schedule.SessionWindow)
			for _, day := range weekdays {
				if gofakeit.Bool() && day == "saturday" {
					continue
				}
				weekly[day] = []schedule.SessionWindow{
					{From: "09:00", To: "13:00"},
					{From: "17:00", To: "20:00"},
				}
			}

			availability, err := json.Marshal(schedule.Availability{Weekly: weekly})
			if err != nil {
				return err
			}

			consulting := gofakeit.Number(2, 4) * 5 // 10-20 minutes
			name := "Dr. " + gofakeit.Name() + " (" + specialties[i%len(specialties)] + ")"

			_, err = tx.Exec(ctx, `
				INSERT INTO doctors
					(id, clinic_id, name, availability, average_consulting_time,
					 consultation_status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, 'Out', now(), now())
			`, uuid.New(), clinicID, name, availability, consulting)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uzimacare/uzimacare-backend/internal/db"
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

	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedClinics(context.Background(), pool, 25); err != nil {
		log.Fatalf("seed clinics: %v", err)
	}
	if err := seedReferrals(context.Background(), pool, 500); err != nil {
		log.Fatalf("seed referrals: %v", err)
	}

	log.Println("seed complete")
}

var kenyanTowns = []string{
	"Nairobi", "Mombasa", "Kisumu", "Nakuru", "Eldoret",
	"Thika", "Nyeri", "Machakos", "Kericho", "Kitale",
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d clinics", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		town := kenyanTowns[gofakeit.Number(0, len(kenyanTowns)-1)]
		name := fmt.Sprintf("%s %s Clinic", town, gofakeit.LastName())
		phone := fmt.Sprintf("2547%08d", gofakeit.Number(0, 99999999))

		_, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, name, facility_name, location, max_patients_per_day,
				contact_phone, contact_email, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, true, now(), now())
		`, uuid.New(), name, name+" Medical Centre", town,
			gofakeit.Number(10, 25), phone, gofakeit.Email())
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("clinics seeded")
	return nil
}

var conditionCodes = []string{
	"hypertension", "diabetes", "asthma", "tuberculosis",
	"malaria", "anaemia", "cardiac", "renal",
}

var priorities = []string{"Routine", "Routine", "Routine", "Urgent", "Emergency"}

func seedReferrals(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d referrals", count)

	const batchSize = 100

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
			patientID := fmt.Sprintf("PT-%06d", gofakeit.Number(1, 999999))
			conditions := []string{
				conditionCodes[gofakeit.Number(0, len(conditionCodes)-1)],
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO referrals (id, physician_id, patient_name, patient_id,
					medical_history, lab_results, diagnosis, conditions,
					referring_hospital, receiving_facility, priority, status,
					created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending-admin', now(), now())
			`, uuid.New(), uuid.New(), gofakeit.Name(), patientID,
				gofakeit.Sentence(12), gofakeit.Sentence(8), gofakeit.Sentence(6),
				conditions,
				kenyanTowns[gofakeit.Number(0, len(kenyanTowns)-1)]+" County Hospital",
				kenyanTowns[gofakeit.Number(0, len(kenyanTowns)-1)]+" Referral Hospital",
				priorities[gofakeit.Number(0, len(priorities)-1)])
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("referrals seeded: %d/%d", end, count)
	}

	log.Println("referrals seeded")
	return nil
}

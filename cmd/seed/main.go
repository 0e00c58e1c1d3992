package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/boxpress/boxpress/config"
	"github.com/boxpress/boxpress/pkg/database"
	"github.com/boxpress/boxpress/pkg/store"
	"github.com/boxpress/boxpress/pkg/testdata"
)

func main() {
	count := flag.Int("recipients", 500, "number of fake recipients to insert")
	withCampaign := flag.Bool("campaign", true, "create a sample draft campaign")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.NewClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	s := store.NewPostgres(db.DB)
	ctx := context.Background()

	log.Printf("Seeding %d recipients...", *count)

	recipients := testdata.GenerateSubscriberBase(*count)
	created, err := s.CreateRecipients(ctx, recipients)
	if err != nil {
		log.Fatalf("Failed to insert recipients: %v", err)
	}
	log.Printf("Inserted %d recipients (%d already existed)", created, *count-created)

	if *withCampaign {
		c := testdata.GenerateCampaign("monthly-promo", map[string]string{
			"headline":   "Your September box is here",
			"theme":      "artisan coffee",
			"promo_code": "SEPT15",
			"discount":   "15%",
		})
		if err := s.CreateCampaign(ctx, c); err != nil {
			log.Fatalf("Failed to create sample campaign: %v", err)
		}
		log.Printf("Created draft campaign %d (%s); start it via POST /api/v1/campaigns/%d/start",
			c.ID, c.Name, c.ID)
	}

	log.Println("Seeding complete")
}

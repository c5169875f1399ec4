//cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/config"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/db"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/logger"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/repository"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/transport"
)

// SeedFile is the layout of a seed YAML document.
type SeedFile struct {
	Templates []struct {
		ID      string `yaml:"id"`
		Name    string `yaml:"name"`
		Subject string `yaml:"subject"`
		Body    string `yaml:"body"`
	} `yaml:"templates"`
	Recipients []struct {
		ID     string `yaml:"id"`
		Name   string `yaml:"name"`
		Email  string `yaml:"email"`
		Course string `yaml:"course"`
	} `yaml:"recipients"`
	Campaigns []struct {
		ID         string `yaml:"id"`
		Name       string `yaml:"name"`
		TemplateID string `yaml:"template_id"`
	} `yaml:"campaigns"`
	SMTP *model.SMTPSettings `yaml:"smtp"`
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	storePassword := flag.Bool("store-password", false, "copy the relay password from the environment into the OS keyring")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, "text")

	seedFiles := flag.Args()
	if len(seedFiles) == 0 {
		seedFiles = []string{"seed/outreach.yaml"}
	}

	if err := run(context.Background(), cfg, log, seedFiles, *storePassword); err != nil {
		log.Error("seeding failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	fmt.Println("Database seeding completed successfully!")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, files []string, storePassword bool) error {
	conn, err := db.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}
	log.Info("schema applied")

	for _, file := range files {
		if err := seed(ctx, conn, file); err != nil {
			return fmt.Errorf("seed %s: %w", file, err)
		}
		fmt.Printf("Seeded: %s\n", file)
	}

	if storePassword {
		return storeRelayPassword(ctx, cfg, &repository.SettingsRepository{DB: conn}, log)
	}
	return nil
}

func seed(ctx context.Context, conn *sql.DB, file string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	var sf SeedFile
	if err := yaml.Unmarshal(content, &sf); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	templates := &repository.TemplateRepository{DB: conn}
	recipients := &repository.RecipientRepository{DB: conn}
	campaigns := &repository.CampaignRepository{DB: conn}
	settings := &repository.SettingsRepository{DB: conn}

	for _, t := range sf.Templates {
		if err := templates.Upsert(ctx, model.Template{ID: t.ID, Name: t.Name, Subject: t.Subject, Body: t.Body}); err != nil {
			return fmt.Errorf("template %s: %w", t.ID, err)
		}
	}
	for _, r := range sf.Recipients {
		if err := recipients.Upsert(ctx, model.Recipient{ID: r.ID, Name: r.Name, Email: r.Email, Course: r.Course}); err != nil {
			return fmt.Errorf("recipient %s: %w", r.ID, err)
		}
	}
	for _, c := range sf.Campaigns {
		if err := campaigns.Create(ctx, &model.Campaign{ID: c.ID, Name: c.Name, TemplateID: c.TemplateID}); err != nil {
			return fmt.Errorf("campaign %s: %w", c.ID, err)
		}
	}
	if sf.SMTP != nil {
		if err := settings.Save(ctx, *sf.SMTP); err != nil {
			return fmt.Errorf("smtp settings: %w", err)
		}
	}
	return nil
}

func storeRelayPassword(ctx context.Context, cfg *config.Config, settings *repository.SettingsRepository, log *slog.Logger) error {
	password := os.Getenv(cfg.Secrets.PasswordEnv)
	if password == "" {
		return fmt.Errorf("%s is empty", cfg.Secrets.PasswordEnv)
	}

	username := cfg.SMTP.Username
	if stored, err := settings.Get(ctx); err != nil {
		return err
	} else if stored != nil && stored.Username != "" {
		username = stored.Username
	}
	if username == "" {
		return fmt.Errorf("no relay username configured")
	}

	store := transport.NewSecretStore(cfg.Secrets.KeyringService, cfg.Secrets.PasswordEnv)
	if err := store.Store(username, password); err != nil {
		return err
	}
	log.Info("relay password stored in keyring", slog.String("service", cfg.Secrets.KeyringService))
	return nil
}

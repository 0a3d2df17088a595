package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort   string
	DatabasePath string
	FrontendURL  string

	// Secret behind token encryption and OAuth state signing. Empty means
	// calendar sync endpoints answer 503 until it is configured.
	EncryptionSecret string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	SyncSchedule   string
	SyncWindowDays int
	FetchWorkers   int
	Timezone       *time.Location

	TelegramToken  string
	TelegramChatID int64
}

func Load() (*Config, error) {
	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/daysync.db"
	}

	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = "http://localhost:3000"
	}

	tzName := os.Getenv("TIMEZONE")
	if tzName == "" {
		tzName = "UTC"
	}
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	syncSchedule := os.Getenv("SYNC_SCHEDULE")
	if syncSchedule == "" {
		syncSchedule = "*/30 * * * *"
	}

	syncWindowDays := 30
	if v := os.Getenv("SYNC_WINDOW_DAYS"); v != "" {
		syncWindowDays, err = strconv.Atoi(v)
		if err != nil || syncWindowDays < 1 {
			return nil, fmt.Errorf("SYNC_WINDOW_DAYS must be a positive number")
		}
	}

	fetchWorkers := 4
	if v := os.Getenv("FETCH_WORKERS"); v != "" {
		fetchWorkers, err = strconv.Atoi(v)
		if err != nil || fetchWorkers < 1 {
			return nil, fmt.Errorf("FETCH_WORKERS must be a positive number")
		}
	}

	var chatID int64
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		chatID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID must be a number")
		}
	}

	return &Config{
		ServerPort:         serverPort,
		DatabasePath:       dbPath,
		FrontendURL:        frontendURL,
		EncryptionSecret:   os.Getenv("CALENDAR_ENCRYPTION_KEY"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
		SyncSchedule:       syncSchedule,
		SyncWindowDays:     syncWindowDays,
		FetchWorkers:       fetchWorkers,
		Timezone:           tz,
		TelegramToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:     chatID,
	}, nil
}

package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"log"
	"os"
	"strconv"
)

type Config struct {
	endpoint      string
	dsn           string
	redisAddress  string
	logLevel      string
	env           string
	authSecretKey string
	streamLimit   int
	streamBuffer  int
	jobWorkers    int
}

func generateRandomString(length int) string {
	b := make([]byte, length)
	_, err := rand.Read(b)
	if err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

// intFromEnv возвращает значение переменной окружения name, если она задана и является числом.
func intFromEnv(name string, fallback int) int {
	value := os.Getenv(name)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("WARNING: %s=%q is not a number, using %d\n", name, value, fallback)
		return fallback
	}
	return parsed
}

func NewConfig() Config {
	var (
		endpoint      string
		dsn           string
		redisAddress  string
		logLevel      string
		env           string
		authSecretKey string
		streamLimit   int
		streamBuffer  int
		jobWorkers    int
	)

	flag.StringVar(&endpoint, "a", "localhost:8090", "address and port to run server")
	flag.StringVar(&dsn, "d", "", "data source name for database connection")
	flag.StringVar(&redisAddress, "r", "", "redis address for idempotency keys, empty disables the check")
	flag.IntVar(&streamLimit, "stream-limit", 0, "max concurrent status streams per order, 0 means unlimited")
	flag.IntVar(&streamBuffer, "stream-buffer", 16, "events buffered per status stream before a slow client is dropped")
	flag.IntVar(&jobWorkers, "job-workers", 2, "background job workers")
	flag.Parse()

	if address := os.Getenv("RUN_ADDRESS"); address != "" {
		endpoint = address
	}

	if d := os.Getenv("DATABASE_URI"); d != "" {
		dsn = d
	}

	if r := os.Getenv("REDIS_ADDRESS"); r != "" {
		redisAddress = r
	}

	if l := os.Getenv("LOG_LEVEL"); l != "" {
		logLevel = l
	} else {
		logLevel = "error"
	}

	if e := os.Getenv("ENV"); e != "" {
		env = e
	} else {
		env = "production"
	}

	if secret := os.Getenv("AUTH_SECRET_KEY"); secret != "" {
		authSecretKey = secret
	} else {
		if env == "production" {
			authSecretKey = generateRandomString(10)
			log.Printf("WARNING: AUTH_SECRET_KEY has to be defined for production environment\n")
		} else {
			authSecretKey = "development-key"
		}
	}

	streamLimit = intFromEnv("STREAM_LIMIT", streamLimit)
	streamBuffer = intFromEnv("STREAM_BUFFER", streamBuffer)
	jobWorkers = intFromEnv("JOB_WORKERS", jobWorkers)

	return Config{
		endpoint,
		dsn,
		redisAddress,
		logLevel,
		env,
		authSecretKey,
		streamLimit,
		streamBuffer,
		jobWorkers,
	}
}

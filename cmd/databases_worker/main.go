package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"corebase/control_plane/auth"
	"corebase/control_plane/engine"
	"corebase/control_plane/engine/tenantdb"
	"corebase/control_plane/queue"
	"corebase/control_plane/realtime"
	"corebase/control_plane/worker"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type workerEnv struct {
	LogDir string

	DatabaseUri       string
	TenantDatabaseUri string

	SchemaQueueUrl string

	RealtimeEndpoint string
	RealtimeToken    string
}

func loadEnvFile(envFile string) {
	slog.Info(fmt.Sprintf("loading env from file %v", envFile))
	err := godotenv.Load(envFile)
	if err != nil {
		log.Fatalf("error loading .env file '%v': %v", envFile, err)
	}
}

func loadEnv() workerEnv {
	missingEnvs := []string{}

	requiredEnv := func(key string) string {
		env := os.Getenv(key)
		if env == "" {
			missingEnvs = append(missingEnvs, key)
			slog.Error("missing required env variable", "key", key)
		}
		return env
	}

	env := workerEnv{
		LogDir: requiredEnv("LOG_DIR"),

		DatabaseUri:       requiredEnv("DATABASE_URI"),
		TenantDatabaseUri: requiredEnv("TENANT_DATABASE_URI"),

		SchemaQueueUrl: requiredEnv("SCHEMA_QUEUE_URL"),

		RealtimeEndpoint: requiredEnv("REALTIME_ENDPOINT"),
		RealtimeToken:    requiredEnv("REALTIME_TOKEN"),
	}

	if len(missingEnvs) > 0 {
		log.Fatalf("The following required env vars are missing: %s", strings.Join(missingEnvs, ", "))
	}

	return env
}

func postgresDsn(uri string) string {
	parts, err := url.Parse(uri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port())
}

func initLogging(logFile *os.File) {
	log.SetFlags(log.Lshortfile | log.Ltime | log.Ldate)
	log.SetOutput(io.MultiWriter(logFile, os.Stderr))
	slog.Info("logging initialized", "log_file", logFile.Name())
}

func initDb(dsn string) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}
	return db
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")

	flag.Parse()

	if *envFile != "" {
		loadEnvFile(*envFile)
	}
	env := loadEnv()

	err := os.MkdirAll(env.LogDir, 0777)
	if err != nil {
		log.Fatalf("error creating log dir: %v", err)
	}

	logFile, err := os.OpenFile(filepath.Join(env.LogDir, "databases_worker.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer logFile.Close()

	initLogging(logFile)

	catalogDb := initDb(postgresDsn(env.DatabaseUri))
	tenantDb := initDb(postgresDsn(env.TenantDatabaseUri))

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("error loading aws config: %v", err)
	}

	schemaJobs := queue.NewSqsQueue(sqs.NewFromConfig(awsCfg), env.SchemaQueueUrl)

	w := worker.NewWorker(
		catalogDb,
		engine.StaticResolver{Client: tenantdb.NewTenantDB(tenantDb)},
		realtime.NewGatewayClient(env.RealtimeEndpoint, env.RealtimeToken),
		auth.SystemScope(),
	)

	go schemaJobs.Run(w.Handler())

	slog.Info("databases worker started", "queue", env.SchemaQueueUrl)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("shutting down databases worker")
	schemaJobs.Stop()
}

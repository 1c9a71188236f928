package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"corebase/control_plane/auth"
	"corebase/control_plane/builds"
	"corebase/control_plane/queue"
	"corebase/control_plane/services"
	"corebase/control_plane/vcs"
	"corebase/control_plane/vcs/github"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type controlPlaneEnv struct {
	IngressHostname string
	ConsoleUrl      string
	LogDir          string
	JwtSecret       string

	DatabaseUri string

	SchemaQueueUrl string
	BuildsQueueUrl string

	VcsConfigPath    string
	GithubAppKeyPath string
	GithubToken      string
}

func optionalEnv(key string) string {
	return os.Getenv(key)
}

func loadEnvFile(envFile string) {
	slog.Info(fmt.Sprintf("loading env from file %v", envFile))
	err := godotenv.Load(envFile)
	if err != nil {
		log.Fatalf("error loading .env file '%v': %v", envFile, err)
	}
}

func loadEnv() controlPlaneEnv {
	missingEnvs := []string{}

	requiredEnv := func(key string) string {
		env := os.Getenv(key)
		if env == "" {
			missingEnvs = append(missingEnvs, key)
			slog.Error("missing required env variable", "key", key)
		}
		return env
	}

	env := controlPlaneEnv{
		IngressHostname: requiredEnv("INGRESS_HOSTNAME"),
		ConsoleUrl:      requiredEnv("CONSOLE_URL"),
		LogDir:          requiredEnv("LOG_DIR"),
		JwtSecret:       requiredEnv("JWT_SECRET"),

		DatabaseUri: requiredEnv("DATABASE_URI"),

		SchemaQueueUrl: requiredEnv("SCHEMA_QUEUE_URL"),
		BuildsQueueUrl: requiredEnv("BUILDS_QUEUE_URL"),

		VcsConfigPath:    requiredEnv("VCS_CONFIG_PATH"),
		GithubAppKeyPath: optionalEnv("GITHUB_APP_KEY_PATH"),
		GithubToken:      optionalEnv("GITHUB_TOKEN"),
	}

	if len(missingEnvs) > 0 {
		log.Fatalf("The following required env vars are missing: %s", strings.Join(missingEnvs, ", "))
	}

	if env.GithubAppKeyPath == "" && env.GithubToken == "" {
		log.Fatal("Must specify one of GITHUB_APP_KEY_PATH or GITHUB_TOKEN")
	}

	return env
}

func (env *controlPlaneEnv) postgresDsn() string {
	parts, err := url.Parse(env.DatabaseUri)
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

func initQueues(env *controlPlaneEnv) (schemaJobs, buildJobs *queue.SqsQueue) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("error loading aws config: %v", err)
	}

	client := sqs.NewFromConfig(awsCfg)

	return queue.NewSqsQueue(client, env.SchemaQueueUrl), queue.NewSqsQueue(client, env.BuildsQueueUrl)
}

func initGithub(env *controlPlaneEnv, config vcs.Config) *github.Adapter {
	var tokens github.TokenSource

	if env.GithubAppKeyPath != "" {
		keyPem, err := os.ReadFile(env.GithubAppKeyPath)
		if err != nil {
			log.Fatalf("error reading github app key '%v': %v", env.GithubAppKeyPath, err)
		}
		tokens, err = github.NewAppTokenSource(config.Github.AppId, config.Github.ApiUrl, keyPem)
		if err != nil {
			log.Fatalf("error creating github token source: %v", err)
		}
	} else {
		tokens = github.StaticTokenSource{Token: env.GithubToken}
	}

	return github.NewAdapter(config, tokens)
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8000, "Port to run server on")

	flag.Parse()

	if *envFile != "" {
		loadEnvFile(*envFile)
	}
	env := loadEnv()

	err := os.MkdirAll(env.LogDir, 0777)
	if err != nil {
		log.Fatalf("error creating log dir: %v", err)
	}

	logFile, err := os.OpenFile(filepath.Join(env.LogDir, "control_plane.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer logFile.Close()

	initLogging(logFile)

	db := initDb(env.postgresDsn())

	schemaJobs, buildJobs := initQueues(&env)

	vcsConfig, err := vcs.LoadConfig(env.VcsConfigPath)
	if err != nil {
		log.Fatalf("error loading vcs config: %v", err)
	}

	githubProvider := initGithub(&env, vcsConfig)

	platform := services.NewPlatform(db, services.PlatformArgs{
		SchemaJobs: schemaJobs,
		Providers:  map[string]vcs.Provider{githubProvider.Name(): githubProvider},
		States:     auth.NewStateTokens([]byte(env.JwtSecret)),
		Builds:     builds.NewQueueTrigger(buildJobs),
		ConsoleUrl: env.ConsoleUrl,
	})

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{env.IngressHostname},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/api/v1", platform.Routes())

	slog.Info("starting server", "port", *port)
	err = http.ListenAndServe(fmt.Sprintf(":%d", *port), r)
	if err != nil {
		log.Fatalf("error running server: %v", err)
	}
}

package services

import (
	"log"
	"net/http"
	"os"

	"corebase/control_plane/auth"
	"corebase/control_plane/builds"
	"corebase/control_plane/queue"
	"corebase/control_plane/vcs"
	"corebase/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

type Platform struct {
	projects  ProjectService
	databases DatabasesService
	vcs       VcsService

	db *gorm.DB
}

type PlatformArgs struct {
	SchemaJobs queue.Publisher
	Providers  map[string]vcs.Provider
	States     *auth.StateTokens
	Builds     builds.Trigger
	ConsoleUrl string
}

func NewPlatform(db *gorm.DB, args PlatformArgs) Platform {
	return Platform{
		projects:  ProjectService{db: db},
		databases: DatabasesService{db: db, jobs: args.SchemaJobs},
		vcs: VcsService{
			db:         db,
			providers:  args.Providers,
			states:     args.States,
			builds:     args.Builds,
			scope:      auth.SystemScope(),
			consoleUrl: args.ConsoleUrl,
		},
		db: db,
	}
}

func (p *Platform) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/projects", p.projects.Routes())
	r.Mount("/databases", p.databases.Routes())
	r.Mount("/vcs", p.vcs.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}

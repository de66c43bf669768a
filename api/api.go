package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/vocdoni/district-pipeline/identity"
	"github.com/vocdoni/district-pipeline/log"
	stg "github.com/vocdoni/district-pipeline/storage"
	"github.com/vocdoni/district-pipeline/storage/districts"
	"github.com/vocdoni/district-pipeline/vault"
)

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host      string
	Port      int
	Storage   *stg.Storage
	Districts *districts.DistrictDB
	Validator *identity.Validator
	Sealer    *vault.Sealer
}

// API type represents the API HTTP server of the submission pipeline.
type API struct {
	router    *chi.Mux
	storage   *stg.Storage
	districts *districts.DistrictDB
	validator *identity.Validator
	sealer    *vault.Sealer
}

// New creates a new API instance with the given configuration and starts the
// HTTP server.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Storage == nil {
		return nil, fmt.Errorf("missing storage instance")
	}
	if conf.Districts == nil {
		return nil, fmt.Errorf("missing district database")
	}
	if conf.Validator == nil {
		return nil, fmt.Errorf("missing claim validator")
	}
	if conf.Sealer == nil {
		return nil, fmt.Errorf("missing vault sealer")
	}
	a := &API{
		storage:   conf.Storage,
		districts: conf.Districts,
		validator: conf.Validator,
		sealer:    conf.Sealer,
	}

	// Initialize router
	a.initRouter()
	go func() {
		log.Infow("Starting API server", "host", conf.Host, "port", conf.Port)
		if err := http.ListenAndServe(fmt.Sprintf("%s:%d", conf.Host, conf.Port), a.router); err != nil {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", ParticipantsEndpoint, "method", "POST")
	a.router.Post(ParticipantsEndpoint, a.registerParticipant)
	log.Infow("register handler", "endpoint", DistrictEndpoint, "method", "GET")
	a.router.Get(DistrictEndpoint, a.districtInfo)
	log.Infow("register handler", "endpoint", DistrictProofEndpoint, "method", "GET")
	a.router.Get(DistrictProofEndpoint, a.districtProof)
	log.Infow("register handler", "endpoint", SubmissionsEndpoint, "method", "POST")
	a.router.Post(SubmissionsEndpoint, a.newSubmission)
	log.Infow("register handler", "endpoint", SubmissionEndpoint, "method", "GET")
	a.router.Get(SubmissionEndpoint, a.submissionStatus)
	log.Infow("register handler", "endpoint", SubmissionDeliveriesEndpoint, "method", "POST")
	a.router.Post(SubmissionDeliveriesEndpoint, a.requeueDelivery)
	log.Infow("register handler", "endpoint", IdentityWebhookEndpoint, "method", "POST")
	a.router.Post(IdentityWebhookEndpoint, a.identityWebhook)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	// Create the router with a basic middleware stack
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	// Register the API handlers
	a.registerHandlers()
}

package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"dolt-chroma-sync/internal/handlers"
)

// Handlers collects everything the router needs. Sync, Collections, and
// Jobs may be nil when their backends are unavailable; their routes are
// then not registered.
type Handlers struct {
	Home   http.HandlerFunc
	Health *handlers.HealthHandler

	Sync        *handlers.SyncHandler
	Collections *handlers.CollectionHandler
	Jobs        *handlers.JobHandler
}

// RegisterRoutes sets up all application routes
func RegisterRoutes(router *mux.Router, h *Handlers) {
	// Health and home
	router.Handle("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/", h.Home).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	// Sync pipelines
	if h.Sync != nil {
		sync := api.PathPrefix("/sync").Subrouter()
		sync.HandleFunc("/status", h.Sync.Status).Methods(http.MethodGet)
		sync.HandleFunc("/init", h.Sync.Initialize).Methods(http.MethodPost)
		sync.HandleFunc("/commit", h.Sync.Commit).Methods(http.MethodPost)
		sync.HandleFunc("/pull", h.Sync.Pull).Methods(http.MethodPost)
		sync.HandleFunc("/push", h.Sync.Push).Methods(http.MethodPost)
		sync.HandleFunc("/checkout", h.Sync.Checkout).Methods(http.MethodPost)
		sync.HandleFunc("/merge", h.Sync.Merge).Methods(http.MethodPost)
		sync.HandleFunc("/reset", h.Sync.Reset).Methods(http.MethodPost)
		sync.HandleFunc("/full", h.Sync.FullSync).Methods(http.MethodPost)
		sync.HandleFunc("/incremental", h.Sync.IncrementalSync).Methods(http.MethodPost)
		sync.HandleFunc("/import", h.Sync.Import).Methods(http.MethodPost)
		sync.HandleFunc("/manifest", h.Sync.ApplyManifest).Methods(http.MethodPost)
	}

	// Collections and documents
	if h.Collections != nil {
		api.HandleFunc("/collections", h.Collections.ListCollections).Methods(http.MethodGet)
		api.HandleFunc("/collections", h.Collections.CreateCollection).Methods(http.MethodPost)
		api.HandleFunc("/collections/{name}", h.Collections.GetCollection).Methods(http.MethodGet)
		api.HandleFunc("/collections/{name}", h.Collections.DeleteCollection).Methods(http.MethodDelete)
		api.HandleFunc("/collections/{name}/rename", h.Collections.RenameCollection).Methods(http.MethodPost)
		api.HandleFunc("/collections/{name}/metadata", h.Collections.UpdateCollectionMetadata).Methods(http.MethodPut)
		api.HandleFunc("/collections/{name}/documents", h.Collections.ListDocuments).Methods(http.MethodGet)
		api.HandleFunc("/collections/{name}/documents/{doc_id}", h.Collections.PutDocument).Methods(http.MethodPut)
		api.HandleFunc("/collections/{name}/documents/{doc_id}", h.Collections.GetDocument).Methods(http.MethodGet)
		api.HandleFunc("/collections/{name}/documents/{doc_id}", h.Collections.DeleteDocument).Methods(http.MethodDelete)
	}

	// Jobs and workers
	if h.Jobs != nil {
		api.HandleFunc("/jobs", h.Jobs.ListJobs).Methods(http.MethodGet)
		api.HandleFunc("/jobs/queue/depth", h.Jobs.QueueDepth).Methods(http.MethodGet)
		api.HandleFunc("/jobs/{id}", h.Jobs.GetJob).Methods(http.MethodGet)
		api.HandleFunc("/jobs/{id}", h.Jobs.DeleteJob).Methods(http.MethodDelete)
		api.HandleFunc("/workers/stats", h.Jobs.WorkerStats).Methods(http.MethodGet)
	}
}

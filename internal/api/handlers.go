/**
 * @description
 * This file contains the HTTP handlers for the ingestion-service's
 * tenant-facing API endpoints. Handlers are responsible for parsing incoming
 * requests, calling the appropriate methods on the application service, and
 * writing the HTTP response. They act as the bridge between the web layer and
 * the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/solixdb/ingestion-service/internal/app"
	"github.com/solixdb/ingestion-service/internal/domain"
	"github.com/solixdb/ingestion-service/internal/store"
	"github.com/solixdb/ingestion-service/internal/tenantdb"
)

// IngestionHandlers holds the application service that handlers will use.
type IngestionHandlers struct {
	service        *app.Service
	webhookSecrets map[domain.Cluster]string
}

// NewIngestionHandlers creates a new instance of IngestionHandlers. The
// webhookSecrets map carries the per-cluster shared secret the provider
// echoes back on inbound pushes.
func NewIngestionHandlers(service *app.Service, webhookSecrets map[domain.Cluster]string) *IngestionHandlers {
	return &IngestionHandlers{service: service, webhookSecrets: webhookSecrets}
}

// resolveTenant resolves the authenticated dashboard identity to a tenant
// record, writing the error response itself on failure.
func (h *IngestionHandlers) resolveTenant(w http.ResponseWriter, r *http.Request) (*domain.Tenant, bool) {
	email, ok := GetTenantEmail(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get tenant identity from context")
		return nil, false
	}

	tenant, err := h.service.ResolveTenant(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			h.writeError(w, http.StatusUnauthorized, "Tenant account not found")
			return nil, false
		}
		log.Printf("level=error component=api msg=\"tenant resolution failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to resolve tenant")
		return nil, false
	}
	return tenant, true
}

// CreateDatabaseHandler handles requests to attach a tenant database. The
// credentials are verified against the live database before being stored
// encrypted.
func (h *IngestionHandlers) CreateDatabaseHandler(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.resolveTenant(w, r)
	if !ok {
		return
	}

	var req domain.StoreDatabaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	conn, err := h.service.StoreDatabase(r.Context(), tenant, req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidDatabaseParams) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, tenantdb.ErrUnreachable) {
			h.writeError(w, http.StatusBadRequest, "Could not connect to the database with the provided credentials")
			return
		}
		log.Printf("level=error component=api endpoint=create_database msg=\"failed to store database connection\" tenant_id=%s err=%v", tenant.ID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to store database connection")
		return
	}

	h.writeJSON(w, http.StatusCreated, conn)
}

// AddSubscriptionHandler handles requests to configure indexing for a target
// address. The subscription is created in PENDING state; nothing is
// registered with the provider until indexing is started.
func (h *IngestionHandlers) AddSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.resolveTenant(w, r)
	if !ok {
		return
	}

	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sub, err := h.service.CreateSubscription(r.Context(), tenant, req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUnknownCluster), errors.Is(err, app.ErrInvalidCategory):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrSubscriptionLimit):
			h.writeError(w, http.StatusForbidden, "Subscription limit reached for your plan")
		case errors.Is(err, store.ErrDatabaseNotFound):
			h.writeError(w, http.StatusNotFound, "Database connection not found")
		default:
			log.Printf("level=error component=api endpoint=add_subscription msg=\"failed to create subscription\" tenant_id=%s err=%v", tenant.ID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to create subscription")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, sub)
}

// startIndexingRequest is the DTO for the start-indexing endpoint.
type startIndexingRequest struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
}

// StartIndexingHandler handles requests to activate a PENDING subscription.
// It reconciles the subscription against the cluster's shared webhook
// registration; credits are charged only when an external provider call was
// actually needed.
func (h *IngestionHandlers) StartIndexingHandler(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.resolveTenant(w, r)
	if !ok {
		return
	}

	var req startIndexingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubscriptionID == (uuid.UUID{}) {
		h.writeError(w, http.StatusBadRequest, "A valid subscription_id is required")
		return
	}

	result, err := h.service.EnsureRegistered(r.Context(), tenant.ID, req.SubscriptionID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSubscriptionNotFound), errors.Is(err, app.ErrSubscriptionNotOwned):
			// Not-owned is reported as not-found so the endpoint does not
			// leak other tenants' subscription IDs.
			h.writeError(w, http.StatusNotFound, "Subscription not found")
		case errors.Is(err, store.ErrInsufficientCredits):
			h.writeError(w, http.StatusPaymentRequired, "Insufficient credits to start indexing")
		case errors.Is(err, app.ErrAggregateContention):
			h.writeError(w, http.StatusConflict, "Registration is contended; please retry")
		case errors.Is(err, app.ErrUnknownCluster):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api endpoint=start_indexing msg=\"failed to start indexing\" tenant_id=%s subscription_id=%s err=%v", tenant.ID, req.SubscriptionID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to start indexing")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// writeJSON is a helper for writing JSON responses.
func (h *IngestionHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *IngestionHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

/**
 * @description
 * This file contains the inbound webhook receiver: the endpoint the upstream
 * data provider pushes event batches to. It authenticates the push with the
 * per-cluster shared secret (the authHeader registered alongside the
 * webhook), parses the batch, and hands each event to the ingestion service
 * for matching and enqueueing.
 *
 * Failure semantics:
 * - A missing or unrecognized secret is a hard 401; the body is not parsed.
 * - Individual malformed events in an otherwise valid batch are logged and
 *   skipped; one bad event must not block the rest of the batch.
 * - An enqueue failure returns 500 so the provider redelivers the batch.
 *   Downstream inserts are idempotent, so redelivery of partially-enqueued
 *   batches is safe.
 *
 * @dependencies
 * - crypto/hmac: Constant-time secret comparison.
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/domain: Provider event model.
 */

package api

import (
	"crypto/hmac"
	"encoding/json"
	"log"
	"net/http"

	"github.com/solixdb/ingestion-service/internal/domain"
)

// webhookResponse acknowledges a processed batch to the provider.
type webhookResponse struct {
	Processed    int `json:"processed"`
	JobsEnqueued int `json:"jobs_enqueued"`
}

// WebhookHandler receives a batch of provider events. The Authorization
// header carries the shared secret verbatim; which secret matches determines
// the cluster the batch belongs to.
func (h *IngestionHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	cluster, ok := h.authenticateWebhook(r.Header.Get("Authorization"))
	if !ok {
		log.Printf("level=warn component=webhook outcome=reject reason=invalid_secret remote=%s", r.RemoteAddr)
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var batch []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.writeError(w, http.StatusBadRequest, "Request body must be a JSON array of events")
		return
	}

	processed := 0
	jobs := 0
	for _, raw := range batch {
		var event domain.ProviderEvent
		if err := json.Unmarshal(raw, &event); err != nil || event.Signature == "" {
			log.Printf("level=warn component=webhook msg=\"skipping malformed event in batch\" cluster=%s err=%v", cluster, err)
			continue
		}

		enqueued, err := h.service.IngestEvent(r.Context(), cluster, &event, raw)
		jobs += enqueued
		if err != nil {
			// Returning 500 makes the provider redeliver the whole batch.
			log.Printf("level=error component=webhook msg=\"event ingestion failed\" cluster=%s signature=%s err=%v", cluster, event.Signature, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to process event batch")
			return
		}
		processed++
	}

	h.writeJSON(w, http.StatusOK, webhookResponse{Processed: processed, JobsEnqueued: jobs})
}

// authenticateWebhook matches the Authorization header against the configured
// per-cluster secrets. Comparison is constant-time; an empty configured
// secret never matches.
func (h *IngestionHandlers) authenticateWebhook(header string) (domain.Cluster, bool) {
	if header == "" {
		return "", false
	}
	for cluster, secret := range h.webhookSecrets {
		if secret == "" {
			continue
		}
		if hmac.Equal([]byte(header), []byte(secret)) {
			return cluster, true
		}
	}
	return "", false
}

/**
 * @description
 * This file contains the HTTP handler functions for the delivery-service.
 * Handlers parse incoming requests, call the service layer, and translate
 * domain errors into the stable status codes clients rely on to tell a
 * retryable fault from a dead link.
 *
 * Status mapping for redemption errors:
 * - invalid token        -> 404 (unknown and malformed look identical)
 * - unauthorized         -> 403
 * - order not payable    -> 402
 * - superseded           -> 409
 * - expired              -> 410
 * - limit exceeded       -> 429
 * - store unavailable    -> 503 (the only retryable kind)
 */

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kitestore/delivery-service/internal/app"
	"github.com/kitestore/delivery-service/internal/domain"
)

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service *app.Service
	logger  *slog.Logger
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// issueRequest is the issuance trigger payload sent by the order system.
type issueRequest struct {
	OrderID     uuid.UUID   `json:"order_id"`
	OrderItemID uuid.UUID   `json:"order_item_id"`
	FileIDs     []uuid.UUID `json:"file_ids"`
}

// issuedEntitlement is the issuance response shape. Tokens are returned for
// inclusion in confirmation messages; raw file URLs never leave the service.
type issuedEntitlement struct {
	Token     string    `json:"token"`
	FileID    uuid.UUID `json:"file_id"`
	ExpiresAt time.Time `json:"expires_at"`
	MaxUses   int       `json:"max_uses"`
	UsedCount int       `json:"used_count"`
}

// handleIssueEntitlements handles the internal issuance trigger invoked once
// an order's payment status transitions to completed.
func (h *Handler) handleIssueEntitlements(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrderID == uuid.Nil || req.OrderItemID == uuid.Nil {
		http.Error(w, "order_id and order_item_id are required", http.StatusBadRequest)
		return
	}

	entitlements, err := h.service.IssueForOrderItem(r.Context(), req.OrderID, req.OrderItemID, req.FileIDs)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"entitlements": toIssuedEntitlements(entitlements),
	})
}

// redeemRequest is the public redemption payload.
type redeemRequest struct {
	Token string `json:"token"`
}

// handleRedeem handles one redemption attempt. Identity is optional: an
// emailed link works without login when anonymous redemption is enabled.
func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var requesterID *string
	if userID, ok := UserFromContext(r.Context()); ok {
		requesterID = &userID
	}

	access, err := h.service.Redeem(r.Context(), req.Token, requesterID, RequestOrigin(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, access)
}

// regenerateRequest is the buyer-only regeneration payload.
type regenerateRequest struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderItemID uuid.UUID `json:"order_item_id"`
}

// handleRegenerate reissues the token set for one purchased item. The
// authenticated subject must be the buyer on the order.
func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req regenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrderID == uuid.Nil || req.OrderItemID == uuid.Nil {
		http.Error(w, "order_id and order_item_id are required", http.StatusBadRequest)
		return
	}

	entitlements, err := h.service.Regenerate(r.Context(), buyerID, req.OrderID, req.OrderItemID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"entitlements": toIssuedEntitlements(entitlements),
	})
}

// handleScanToken runs an on-demand abuse scan for support tooling.
func (h *Handler) handleScanToken(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	if tok == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	signal, err := h.service.ScanToken(r.Context(), tok, 0)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, signal)
}

// writeDomainError maps domain errors onto their stable status codes.
// Validation outcomes are expected and logged at debug at most; only
// infrastructure faults reach the error log.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidToken):
		respondWithError(w, http.StatusNotFound, "invalid_token", "download link not found")
	case errors.Is(err, domain.ErrUnauthorized):
		respondWithError(w, http.StatusForbidden, "unauthorized", "you do not have access to this download")
	case errors.Is(err, domain.ErrOrderNotPayable):
		respondWithError(w, http.StatusPaymentRequired, "order_not_payable", "order payment is not completed")
	case errors.Is(err, domain.ErrSuperseded):
		respondWithError(w, http.StatusConflict, "superseded", "this link was replaced; use the most recent one")
	case errors.Is(err, domain.ErrExpired):
		respondWithError(w, http.StatusGone, "expired", "download link has expired")
	case errors.Is(err, domain.ErrLimitExceeded):
		respondWithError(w, http.StatusTooManyRequests, "limit_exceeded", "download limit reached")
	case errors.Is(err, domain.ErrRegenerationLimitExceeded):
		respondWithError(w, http.StatusTooManyRequests, "regeneration_limit_exceeded", "this item's links can no longer be regenerated")
	case errors.Is(err, domain.ErrOrderNotFound):
		respondWithError(w, http.StatusNotFound, "order_not_found", "order or order item not found")
	case errors.Is(err, domain.ErrNoDeliverableFiles):
		respondWithError(w, http.StatusUnprocessableEntity, "no_deliverable_files", "order item has no downloadable files")
	default:
		h.logger.Error("store operation failed", "error", err)
		respondWithError(w, http.StatusServiceUnavailable, "store_unavailable", "service temporarily unavailable, retry later")
	}
}

func toIssuedEntitlements(entitlements []domain.Entitlement) []issuedEntitlement {
	out := make([]issuedEntitlement, 0, len(entitlements))
	for _, e := range entitlements {
		out = append(out, issuedEntitlement{
			Token:     e.Token,
			FileID:    e.FileID,
			ExpiresAt: e.ExpiresAt,
			MaxUses:   e.MaxUses,
			UsedCount: e.UsedCount,
		})
	}
	return out
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithError writes the machine-readable error body clients branch on.
func respondWithError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, map[string]string{
		"code":  code,
		"error": message,
	})
}

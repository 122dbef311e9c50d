package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mcastelli/vidmatch/internal/api/response"
	"github.com/mcastelli/vidmatch/pkg/models"
)

// URLSigner issues presigned upload URLs.
type URLSigner interface {
	PresignedPutURL(ctx context.Context, ref models.ObjectRef, ttl time.Duration) (string, error)
}

// NewUploadLinkHandler returns an http.HandlerFunc for POST /api/v1/uploads.
// The client uploads directly to storage with the returned URL; the bucket
// notification then drives the embedding pipeline.
func NewUploadLinkHandler(signer URLSigner, bucket string, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Key string `json:"key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		ref, err := models.NewObjectRef(bucket, req.Key)
		if err != nil || ref.IsDirectoryMarker() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"key must name a file", nil)
			return
		}

		url, err := signer.PresignedPutURL(r.Context(), ref, ttl)
		if err != nil {
			response.Error(w, http.StatusBadGateway, "STORAGE_UNAVAILABLE",
				"Could not create upload link", nil)
			return
		}

		response.Created(w, map[string]any{
			"bucket":     ref.Bucket,
			"key":        ref.Key,
			"url":        url,
			"expires_in": int(ttl.Seconds()),
		})
	}
}

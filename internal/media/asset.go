package media

import (
	"context"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/frameward/jobcore/internal/domain"
	"github.com/frameward/jobcore/internal/records"
)

// AssetHandler validates an uploaded review asset against the magic-byte
// allow-list for its declared category. A mismatch marks the record's
// fileType with an INVALID marker and never retries.
type AssetHandler struct {
	Deps
	Records AssetRecords
}

func (h *AssetHandler) Handle(ctx context.Context, payload any, _ domain.ProgressSink) error {
	p, ok := payload.(*domain.AssetPayload)
	if !ok {
		return fmt.Errorf("asset handler: unexpected payload %T", payload)
	}
	a, err := h.Records.GetAsset(ctx, p.AssetID)
	if err != nil {
		return err
	}
	if a.Status == domain.StatusReady && !p.Reprocess {
		return nil
	}
	if err := h.Records.UpdateAsset(ctx, a.ID, records.AssetUpdate{
		Status: statusPtr(domain.StatusProcessing), ProcessingError: ptr(""),
	}); err != nil {
		return err
	}

	detected, err := h.validate(ctx, a)
	if err != nil {
		var ce *domain.ContentInvalidError
		if errors.As(err, &ce) {
			marker := "INVALID"
			if ce.Detected != "" {
				marker = "INVALID - " + ce.Detected
			}
			if uerr := h.Records.UpdateAsset(ctx, a.ID, records.AssetUpdate{
				Status:          statusPtr(domain.StatusError),
				FileType:        &marker,
				ProcessingError: ptr(ce.Error()),
			}); uerr != nil {
				h.Log.Error("mark asset invalid", zap.String("asset", a.ID), zap.Error(uerr))
			}
		}
		return err
	}

	if err := h.Records.UpdateAsset(ctx, a.ID, records.AssetUpdate{
		Status:   statusPtr(domain.StatusReady),
		FileType: &detected,
	}); err != nil {
		return err
	}
	h.count(ctx, "assets_validated", 1)
	return nil
}

func (h *AssetHandler) validate(ctx context.Context, a *domain.Asset) (string, error) {
	ws, cleanup, err := h.Temp.Workspace("asset-" + a.ID)
	if err != nil {
		return "", err
	}
	defer cleanup()

	local := workspaceFile(ws, "source"+path.Ext(a.SourcePath))
	if err := h.download(ctx, a.SourcePath, local); err != nil {
		return "", err
	}
	if _, err := RequireNonEmpty(local); err != nil {
		return "", err
	}
	return ValidateCategory(local, a.Category)
}

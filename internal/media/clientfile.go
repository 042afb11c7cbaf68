package media

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/frameward/jobcore/internal/domain"
	"github.com/frameward/jobcore/internal/records"
)

// ClientFileHandler sniffs files clients attach to a project. Unlike
// review assets, client files have no declared category: an
// unrecognizable signature is tolerated with a warning rather than
// failed, since clients legitimately upload odd formats.
type ClientFileHandler struct {
	Deps
	Records ClientFileRecords
}

func (h *ClientFileHandler) Handle(ctx context.Context, payload any, _ domain.ProgressSink) error {
	p, ok := payload.(*domain.ClientFilePayload)
	if !ok {
		return fmt.Errorf("client file handler: unexpected payload %T", payload)
	}
	cf, err := h.Records.GetClientFile(ctx, p.FileID)
	if err != nil {
		return err
	}
	if cf.Status == domain.StatusReady {
		return nil
	}
	if err := h.Records.UpdateClientFile(ctx, cf.ID, records.ClientFileUpdate{
		Status: statusPtr(domain.StatusProcessing), ProcessingError: ptr(""),
	}); err != nil {
		return err
	}

	fileType, err := h.sniff(ctx, cf)
	if err != nil {
		if domain.IsContentInvalid(err) {
			reason := err.Error()
			if uerr := h.Records.UpdateClientFile(ctx, cf.ID, records.ClientFileUpdate{
				Status: statusPtr(domain.StatusError), ProcessingError: &reason,
			}); uerr != nil {
				h.Log.Error("mark client file failed", zap.String("file", cf.ID), zap.Error(uerr))
			}
		}
		return err
	}

	return h.Records.UpdateClientFile(ctx, cf.ID, records.ClientFileUpdate{
		Status:   statusPtr(domain.StatusReady),
		FileType: &fileType,
	})
}

func (h *ClientFileHandler) sniff(ctx context.Context, cf *domain.ClientFile) (string, error) {
	ws, cleanup, err := h.Temp.Workspace("clientfile-" + cf.ID)
	if err != nil {
		return "", err
	}
	defer cleanup()

	local := workspaceFile(ws, "source"+path.Ext(cf.SourcePath))
	if err := h.download(ctx, cf.SourcePath, local); err != nil {
		return "", err
	}
	if _, err := RequireNonEmpty(local); err != nil {
		return "", err
	}
	detected, err := SniffFile(local)
	if err != nil || detected == "" || strings.HasPrefix(detected, "application/octet-stream") {
		// no usable signature: keep the file, note the unknown
		h.Log.Warn("no content signature for client file",
			zap.String("file", cf.ID), zap.Error(err))
		return "unknown", nil
	}
	return detected, nil
}

package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/frameward/jobcore/internal/domain"
	"github.com/frameward/jobcore/internal/records"
)

// ProjectEmailHandler parses a raw inbound email addressed to a
// project: headers and text body onto the record, attachments uploaded
// to storage. Attachment rows are rewritten wholesale so a re-leased job
// cannot duplicate them. A structurally malformed message is
// content-invalid and never retried.
type ProjectEmailHandler struct {
	Deps
	Records ProjectEmailRecords
}

type parsedEmail struct {
	subject, from, body string
	attachments         []records.EmailAttachment
}

func (h *ProjectEmailHandler) Handle(ctx context.Context, payload any, _ domain.ProgressSink) error {
	p, ok := payload.(*domain.ProjectEmailPayload)
	if !ok {
		return fmt.Errorf("project email handler: unexpected payload %T", payload)
	}
	e, err := h.Records.GetProjectEmail(ctx, p.EmailID)
	if err != nil {
		return err
	}
	if e.Status == domain.StatusReady {
		return nil
	}
	if err := h.Records.UpdateProjectEmail(ctx, e.ID, records.ProjectEmailUpdate{
		Status: statusPtr(domain.StatusProcessing), ProcessingError: ptr(""),
	}); err != nil {
		return err
	}

	parsed, err := h.parse(ctx, e)
	if err != nil {
		if domain.IsContentInvalid(err) {
			reason := err.Error()
			if uerr := h.Records.UpdateProjectEmail(ctx, e.ID, records.ProjectEmailUpdate{
				Status: statusPtr(domain.StatusError), ProcessingError: &reason,
			}); uerr != nil {
				h.Log.Error("mark email failed", zap.String("email", e.ID), zap.Error(uerr))
			}
		}
		return err
	}

	if err := h.Records.ReplaceEmailAttachments(ctx, e.ID, parsed.attachments); err != nil {
		return err
	}
	if err := h.Records.UpdateProjectEmail(ctx, e.ID, records.ProjectEmailUpdate{
		Status:   statusPtr(domain.StatusReady),
		Subject:  &parsed.subject,
		FromAddr: &parsed.from,
		BodyText: &parsed.body,
	}); err != nil {
		return err
	}
	h.count(ctx, "emails_parsed", 1)
	return nil
}

func (h *ProjectEmailHandler) parse(ctx context.Context, e *domain.ProjectEmail) (*parsedEmail, error) {
	ws, cleanup, err := h.Temp.Workspace("email-" + e.ID)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	raw := workspaceFile(ws, "message.eml")
	if err := h.download(ctx, e.RawPath, raw); err != nil {
		return nil, err
	}
	if _, err := RequireNonEmpty(raw); err != nil {
		return nil, err
	}

	f, err := os.Open(raw)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	msg, err := mail.ReadMessage(f)
	if err != nil {
		return nil, &domain.ContentInvalidError{Reason: "unparseable email: " + err.Error()}
	}

	out := &parsedEmail{subject: msg.Header.Get("Subject")}
	if addr, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		out.from = addr.Address
	}

	ct := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		// plain message: whole body is the text
		r := transferDecoder(io.LimitReader(msg.Body, 1<<20), msg.Header.Get("Content-Transfer-Encoding"))
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read email body: %w", err)
		}
		out.body = string(body)
		return out, nil
	}

	if err := h.parseMultipart(ctx, e, multipart.NewReader(msg.Body, params["boundary"]), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *ProjectEmailHandler) parseMultipart(ctx context.Context, e *domain.ProjectEmail, mr *multipart.Reader, out *parsedEmail) error {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &domain.ContentInvalidError{Reason: "malformed multipart body: " + err.Error()}
		}

		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		filename := part.FileName()
		cte := part.Header.Get("Content-Transfer-Encoding")

		switch {
		case filename == "" && strings.HasPrefix(partType, "text/plain"):
			if out.body == "" {
				body, err := io.ReadAll(transferDecoder(io.LimitReader(part, 1<<20), cte))
				if err != nil {
					return fmt.Errorf("read text part: %w", err)
				}
				out.body = string(body)
			}
		case filename != "":
			att, err := h.storeAttachment(ctx, e, transferDecoder(part, cte), filename, partType)
			if err != nil {
				return err
			}
			out.attachments = append(out.attachments, att)
		}
		part.Close()
	}
}

func (h *ProjectEmailHandler) storeAttachment(ctx context.Context, e *domain.ProjectEmail, part io.Reader, filename, contentType string) (records.EmailAttachment, error) {
	var att records.EmailAttachment
	data, err := io.ReadAll(io.LimitReader(part, 64<<20))
	if err != nil {
		return att, fmt.Errorf("read attachment %s: %w", filename, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	// path keyed by the attachment id: two parts may share a filename
	id := uuid.NewString()
	att = records.EmailAttachment{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		Path:        fmt.Sprintf("emails/%s/attachments/%s/%s", e.ID, id, filename),
	}
	if err := h.Store.Upload(ctx, att.Path, bytes.NewReader(data), att.Size, contentType); err != nil {
		return att, err
	}
	return att, nil
}

// transferDecoder wraps r per its Content-Transfer-Encoding header.
// 7bit, 8bit and binary are identity encodings.
func transferDecoder(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

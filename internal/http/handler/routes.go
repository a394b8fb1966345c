package handler

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"docvault/internal/model"
	"docvault/internal/repository"
	"docvault/internal/scanner"
	"docvault/internal/service"
	"docvault/internal/session"
)

// Compiled in so the route works regardless of the working directory.
//
//go:embed openapi.yaml
var openapiDoc []byte

// Identity headers. Authentication happens upstream; these are trusted.
const (
	headerTenantID       = "X-Tenant-ID"
	headerUserID         = "X-User-ID"
	headerAdminScope     = "X-Admin-Scope"
	headerIdempotencyKey = "X-Idempotency-Key"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Keep handlers minimal and free of business logic.
func RegisterRoutes(app *fiber.App, db *sql.DB, sessions session.Store, engine scanner.Engine, docSvc service.DocumentService) {
	// Serve the OpenAPI document and Swagger UI
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.Send(openapiDoc)
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	})

	// Health endpoint: reports every dependency's status.
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := fiber.Map{"database": "ok", "redis": "ok", "scanner": "ok"}
		healthy := true
		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unavailable"
			healthy = false
		}
		if err := sessions.Ping(ctx); err != nil {
			checks["redis"] = "unavailable"
			healthy = false
		}
		if err := engine.Ping(ctx); err != nil {
			checks["scanner"] = "unavailable"
			healthy = false
		}

		status := fiber.StatusOK
		state := "healthy"
		if !healthy {
			status = fiber.StatusServiceUnavailable
			state = "degraded"
		}
		return c.Status(status).JSON(fiber.Map{"status": state, "checks": checks})
	})

	// Simple liveness probe
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	// Upload document endpoint (multipart/form-data, field name: file)
	app.Post("/documents", func(c *fiber.Ctx) error {
		tenantID, ownerID, err := identity(c)
		if err != nil {
			return err
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusUnprocessableEntity, "FILE_REQUIRED", "file is required")
		}
		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}

		req := service.UploadRequest{
			TenantID:         tenantID,
			OwnerID:          ownerID,
			DocumentID:       c.FormValue("document_id"),
			IdempotencyKey:   c.Get(headerIdempotencyKey),
			Filename:         fh.Filename,
			ContentType:      ct,
			Size:             fh.Size,
			Title:            c.FormValue("title"),
			Description:      c.FormValue("description"),
			Tags:             splitList(c.FormValue("tags")),
			ExpectedChecksum: c.FormValue("checksum"),
			Content:          f,
		}

		doc, err := docSvc.Upload(c.UserContext(), req)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(doc)
	})

	// List documents with tenant-scoped filters
	app.Get("/documents", func(c *fiber.Ctx) error {
		tenantID, _, err := identity(c)
		if err != nil {
			return err
		}

		limit, err := strconv.Atoi(c.Query("limit", "20"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		filter := repository.ListFilter{
			OwnerID:  c.Query("owner_id"),
			Tags:     splitList(c.Query("tags")),
			Status:   model.DocumentStatus(c.Query("status")),
			SortBy:   c.Query("sort_by"),
			SortDesc: c.Query("order") == "desc",
		}
		if v := c.Query("created_after"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_DATE", "created_after must be RFC3339")
			}
			filter.CreatedAfter = ts
		}
		if v := c.Query("created_before"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_DATE", "created_before must be RFC3339")
			}
			filter.CreatedBefore = ts
		}

		res, err := docSvc.List(c.UserContext(), tenantID, filter, repository.PageQuery{Limit: limit, Offset: offset})
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(res)
	})

	// Get document metadata, optionally streaming content
	app.Get("/documents/:id", func(c *fiber.Ctx) error {
		tenantID, _, err := identity(c)
		if err != nil {
			return err
		}

		includeContent := c.QueryBool("include_content")
		admin := c.Get(headerAdminScope) == "true"

		doc, rc, err := docSvc.Get(c.UserContext(), tenantID, c.Params("id"), includeContent, admin)
		if err != nil {
			return mapServiceError(c, err)
		}
		if rc == nil {
			return c.JSON(doc)
		}
		c.Set(fiber.HeaderContentType, doc.ContentType)
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+doc.Filename+`"`)
		c.Set("X-Checksum-SHA256", doc.Checksum)
		return c.SendStream(rc, int(doc.SizeBytes))
	})

	// Version ledger, oldest first
	app.Get("/documents/:id/versions", func(c *fiber.Ctx) error {
		tenantID, _, err := identity(c)
		if err != nil {
			return err
		}
		recs, err := docSvc.ListVersions(c.UserContext(), tenantID, c.Params("id"))
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(fiber.Map{"document_id": c.Params("id"), "versions": recs})
	})

	// Trigger a rescan. ?wait=true blocks for the result.
	app.Post("/documents/:id/scan", func(c *fiber.Ctx) error {
		tenantID, _, err := identity(c)
		if err != nil {
			return err
		}
		scanID, err := docSvc.TriggerScan(c.UserContext(), tenantID, c.Params("id"))
		if err != nil {
			return mapServiceError(c, err)
		}
		if !c.QueryBool("wait") {
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"scan_id": scanID, "status": "pending"})
		}
		res, err := docSvc.AwaitScan(c.UserContext(), scanID)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(res)
	})

	// Latest completed scan result
	app.Get("/documents/:id/scan", func(c *fiber.Ctx) error {
		tenantID, _, err := identity(c)
		if err != nil {
			return err
		}
		res, err := docSvc.LatestScan(c.UserContext(), tenantID, c.Params("id"))
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(res)
	})

	// Soft delete (idempotent)
	app.Delete("/documents/:id", func(c *fiber.Ctx) error {
		tenantID, _, err := identity(c)
		if err != nil {
			return err
		}
		if err := docSvc.Delete(c.UserContext(), tenantID, c.Params("id")); err != nil {
			return mapServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// identity reads the trusted identity headers.
func identity(c *fiber.Ctx) (tenantID, userID string, err error) {
	tenantID = c.Get(headerTenantID)
	userID = c.Get(headerUserID)
	if tenantID == "" {
		return "", "", writeError(c, fiber.StatusUnprocessableEntity, "TENANT_REQUIRED", "X-Tenant-ID header is required")
	}
	return tenantID, userID, nil
}

// mapServiceError translates the error taxonomy to HTTP statuses.
func mapServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrValidation):
		return writeError(c, fiber.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrScanNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, model.ErrFileTooLarge):
		return writeError(c, fiber.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds the configured size ceiling")
	case errors.Is(err, model.ErrIntegrityMismatch):
		return writeError(c, fiber.StatusConflict, "INTEGRITY_MISMATCH", "content digest does not match the supplied checksum")
	case errors.Is(err, model.ErrQuarantined):
		return writeError(c, fiber.StatusLocked, "QUARANTINED", "document content is quarantined")
	case errors.Is(err, model.ErrQuotaExceeded):
		return writeError(c, fiber.StatusInsufficientStorage, "QUOTA_EXCEEDED", "storage quota exceeded")
	case errors.Is(err, model.ErrBackendUnavailable):
		return writeError(c, fiber.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "storage backend unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return writeError(c, fiber.StatusGatewayTimeout, "TIMEOUT", "operation timed out")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// splitList parses a comma-separated query/form value.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package handler

import (
	"fmt"
	"mime"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"docedit/internal/http/middleware"
	"docedit/internal/model"
	"docedit/internal/service"
)

func currentUser(c *fiber.Ctx) model.User {
	u, _ := middleware.UserFrom(c)
	return u
}

// ListDocuments returns the caller's documents.
//
// @Summary List documents
// @Tags documents
// @Produce json
// @Param limit query int false "page size" default(10)
// @Param offset query int false "offset" default(0)
// @Success 200 {object} service.DocumentListResult
// @Failure 400 {object} errorPayload
// @Router /documents [get]
func ListDocuments(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.List(c.UserContext(), currentUser(c).ID, limit, offset)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// UploadDocument stores a new document from multipart field "file".
//
// @Summary Upload a document
// @Tags documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "document"
// @Param title formData string false "display title"
// @Success 201 {object} model.Document
// @Failure 400 {object} errorPayload
// @Failure 413 {object} errorPayload
// @Failure 415 {object} errorPayload
// @Router /documents [post]
func UploadDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		doc, err := svc.Upload(c.UserContext(), currentUser(c), f, fh.Filename, c.FormValue("title"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(doc)
	}
}

// GetDocument returns one document record.
//
// @Summary Get a document
// @Tags documents
// @Produce json
// @Param id path string true "document id"
// @Success 200 {object} model.Document
// @Failure 403 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Router /documents/{id} [get]
func GetDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		doc, err := svc.Get(c.UserContext(), currentUser(c).ID, id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(doc)
	}
}

// DeleteDocument removes a document owned by the caller.
//
// @Summary Delete a document
// @Tags documents
// @Param id path string true "document id"
// @Success 204
// @Failure 403 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Router /documents/{id} [delete]
func DeleteDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := svc.Delete(c.UserContext(), currentUser(c).ID, id); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// DownloadDocument streams the committed bytes of a document. The document
// server fetches from here.
//
// @Summary Download committed content
// @Tags documents
// @Produce application/octet-stream
// @Param key path string true "document key"
// @Success 200 {file} binary
// @Failure 404 {object} errorPayload
// @Router /api/documents/{key}/download [get]
func DownloadDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dl, err := svc.Open(c.UserContext(), c.Params("key"))
		if err != nil {
			return writeServiceError(c, err)
		}

		c.Set(fiber.HeaderContentType, dl.Document.FileType.ContentType())
		c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": dl.Document.Filename}))
		// fasthttp closes the body once it has been written.
		return c.SendStream(dl.Body, int(dl.Size))
	}
}

// DocumentHistory redirects to a short-lived link for an archived version.
//
// @Summary Archived version
// @Tags documents
// @Param key path string true "document key"
// @Param version path int true "version"
// @Success 307
// @Failure 404 {object} errorPayload
// @Router /api/documents/{key}/history/{version} [get]
func DocumentHistory(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		version, err := strconv.ParseInt(c.Params("version"), 10, 64)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_VERSION", fmt.Sprintf("invalid version %q", c.Params("version")))
		}
		link, err := svc.HistoryURL(c.UserContext(), c.Params("key"), version)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Redirect(link, fiber.StatusTemporaryRedirect)
	}
}

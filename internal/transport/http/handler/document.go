package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"docuchat/internal/app"
	"docuchat/internal/extract"
	"docuchat/internal/rag"
	"docuchat/internal/session"
	"docuchat/internal/store"
	"docuchat/internal/transport/http/response"
)

const maxUploadSize = 20 << 20 // 20 MB

type DocumentHandler struct {
	ingestService *app.IngestService
	registry      *session.Registry
}

func NewDocumentHandler(ingestService *app.IngestService, registry *session.Registry) *DocumentHandler {
	return &DocumentHandler{ingestService: ingestService, registry: registry}
}

// Upload accepts a multipart form with "file" and optional "name" and
// "document_id" (re-upload rebuilds that document's index).
func (h *DocumentHandler) Upload(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxUploadSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 20MB)")
		return
	}
	if !extract.SupportedExtensions[strings.ToLower(filepath.Ext(file.Filename))] {
		response.Error(c, http.StatusBadRequest, response.CodeUnsupportedFormat, "unsupported file format")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
	}

	result, err := h.ingestService.Ingest(c.Request.Context(), app.IngestInput{
		UserID:      userID,
		DocumentID:  c.PostForm("document_id"),
		Filename:    file.Filename,
		DisplayName: name,
		File:        f,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, extract.ErrUnsupportedFormat):
			response.Error(c, http.StatusBadRequest, response.CodeUnsupportedFormat, err.Error())
		case errors.Is(err, extract.ErrNoText), errors.Is(err, rag.ErrEmptyInput):
			response.Error(c, http.StatusBadRequest, response.CodeEmptyDocument, "document contains no extractable text")
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		case errors.Is(err, app.ErrBuildInProgress):
			response.Error(c, http.StatusConflict, response.CodeBuildInProgress, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ingest failed: "+err.Error())
		}
		return
	}

	response.OK(c, result)
}

func (h *DocumentHandler) List(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	docs, err := h.ingestService.ListDocuments(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	documentID := strings.TrimSpace(c.Param("id"))
	if documentID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}

	doc, err := h.ingestService.DeleteDocument(c.Request.Context(), userID, documentID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete document failed")
		}
		return
	}

	h.registry.Deactivate(userID, doc.ID)
	response.OK(c, gin.H{"deleted_document_id": doc.ID})
}

// Activate loads a document's persisted index and passages into the user's
// session, making it the target of subsequent queries.
func (h *DocumentHandler) Activate(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	documentID := strings.TrimSpace(c.Param("id"))
	if documentID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}

	if err := h.registry.Activate(c.Request.Context(), userID, documentID); err != nil {
		switch {
		case errors.Is(err, session.ErrDocumentNotFound), errors.Is(err, store.ErrNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		case errors.Is(err, store.ErrCorruptArtifact):
			response.Error(c, http.StatusInternalServerError, response.CodeCorruptArtifact, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "activate document failed")
		}
		return
	}

	response.OK(c, gin.H{"active_document_id": documentID})
}

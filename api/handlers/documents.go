package handlers

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"

	"github.com/docstack/docstack/dto"
	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/enum"
	"github.com/docstack/docstack/internal/filestore"
	"github.com/docstack/docstack/internal/tracing"
	"github.com/docstack/docstack/internal/utils"
)

// UploadDocument accepts a multipart upload and enqueues it for
// consumption. The response carries the task id for status polling.
func UploadDocument(store *filestore.Store, dispatcher interfaces.TaskDispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "UploadDocument")
		defer span.Finish()
		tracing.TagComponentRest(span)

		fileHeader, err := c.FormFile("document")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing document file"})
			return
		}

		overrides, err := overridesFromForm(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		scratchDir, err := store.ScratchDir("upload")
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stage upload"})
			return
		}
		target := filepath.Join(scratchDir, utils.SanitizeFilename(fileHeader.Filename))
		if err := c.SaveUploadedFile(fileHeader, target); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
			return
		}

		descriptor, err := dto.NewDocumentDescriptor(enum.SourceUpload, target)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		overrides.Filename = utils.Ptr(fileHeader.Filename)

		correlationID := uuid.NewString()
		taskID, err := dispatcher.SubmitTask(ctx, interfaces.TaskSpec{
			Type: dto.TaskConsumeFile,
			Payload: dto.ConsumeFilePayload{
				Document:  descriptor,
				Overrides: overrides,
			},
			CorrelationID: correlationID,
		})
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue document"})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"taskId":        taskID,
			"correlationId": correlationID,
		})
	}
}

func overridesFromForm(c *gin.Context) (dto.MetadataOverrides, error) {
	var overrides dto.MetadataOverrides

	if title := c.PostForm("title"); title != "" {
		overrides.Title = utils.Ptr(title)
	}
	if id := c.PostForm("correspondent_id"); id != "" {
		overrides.CorrespondentID = utils.Ptr(id)
	}
	if id := c.PostForm("document_type_id"); id != "" {
		overrides.DocumentTypeID = utils.Ptr(id)
	}
	if id := c.PostForm("owner_id"); id != "" {
		overrides.OwnerID = utils.Ptr(id)
	}
	if tags := c.PostForm("tag_ids"); tags != "" {
		overrides.TagIDs = strings.Split(tags, ",")
	}
	if created := c.PostForm("created"); created != "" {
		parsed, err := time.Parse(time.RFC3339, created)
		if err != nil {
			return overrides, err
		}
		overrides.Created = utils.Ptr(parsed.UTC())
	}
	if asn := c.PostForm("archive_serial_number"); asn != "" {
		parsed, err := strconv.ParseInt(asn, 10, 64)
		if err != nil {
			return overrides, err
		}
		overrides.ASN = utils.Ptr(parsed)
	}
	return overrides, nil
}

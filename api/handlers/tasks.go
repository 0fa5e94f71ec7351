package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/docstack/docstack/internal/repository"
	"github.com/docstack/docstack/internal/tracing"
)

// GetTask returns the durable status of one submitted task.
func GetTask(repos *repository.Repositories) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "GetTask")
		defer span.Finish()
		tracing.TagComponentRest(span)

		record, err := repos.TaskRecordRepository.GetByID(ctx, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// GetTaskGroup returns the join/error bookkeeping of one task group.
func GetTaskGroup(repos *repository.Repositories) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "GetTaskGroup")
		defer span.Finish()
		tracing.TagComponentRest(span)

		group, err := repos.TaskGroupRepository.GetByID(ctx, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task group"})
			return
		}
		if group == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "task group not found"})
			return
		}
		c.JSON(http.StatusOK, group)
	}
}

// ListTasks returns the most recently submitted tasks.
func ListTasks(repos *repository.Repositories) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ListTasks")
		defer span.Finish()
		tracing.TagComponentRest(span)

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		records, err := repos.TaskRecordRepository.ListRecent(ctx, limit)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tasks"})
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

// GetDocument returns one stored document's metadata.
func GetDocument(repos *repository.Repositories) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "GetDocument")
		defer span.Finish()
		tracing.TagComponentRest(span)

		doc, err := repos.DocumentRepository.GetByID(ctx, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load document"})
			return
		}
		if doc == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

// HealthCheck reports process liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

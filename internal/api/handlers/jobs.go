package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdesk/internal/api/middleware"
	"github.com/orrn/printdesk/internal/core"
)

// JobService is the lifecycle surface the HTTP layer drives.
type JobService interface {
	Submit(ctx context.Context, req core.SubmitRequest) (*core.PrintJob, error)
	Get(ctx context.Context, ownerID, jobID string) (*core.PrintJob, error)
	List(ctx context.Context, filter core.JobFilter) ([]*core.PrintJob, error)
	CreateOrder(ctx context.Context, ownerID, jobID string) (*core.OrderHandle, error)
	VerifyPayment(ctx context.Context, ownerID, orderID, paymentID, signature string) (*core.VerifyResult, error)
	FailPayment(ctx context.Context, ownerID, orderID, reason string) (*core.PrintJob, error)
	Cancel(ctx context.Context, ownerID, jobID string) (*core.PrintJob, error)
	RetryMigration(ctx context.Context, jobID string) (*core.PrintJob, error)
	Stats(ctx context.Context) (*core.QueueStats, error)
}

type JobHandler struct {
	jobs          JobService
	maxUploadSize int64
}

type CreateJobForm struct {
	PageCount     int    `form:"page_count" binding:"required,min=1"`
	Copies        int    `form:"copies"`
	PageSelection string `form:"page_selection"`
	PageSize      string `form:"page_size"`
	Orientation   string `form:"orientation"`
	ColorMode     string `form:"color_mode"`
	Duplex        bool   `form:"duplex"`
	Priority      string `form:"priority"`
}

type JobListResponse struct {
	Jobs   []*core.PrintJob `json:"jobs"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// multipartOverhead is the allowance for form fields and boundaries on top of the file.
const multipartOverhead = 1 << 20

func NewJobHandler(jobs JobService, maxUploadSize int64) *JobHandler {
	return &JobHandler{jobs: jobs, maxUploadSize: maxUploadSize}
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)
	}

	var form CreateJobForm
	if err := c.ShouldBind(&form); err != nil {
		if tooLarge(err) {
			respondError(c, core.ErrFileTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if tooLarge(err) {
			respondError(c, core.ErrFileTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing_file", Message: "A document must be uploaded in the file field"})
		return
	}

	priority, err := parsePriority(form.Priority)
	if err != nil {
		respondError(c, err)
		return
	}
	if form.Copies == 0 {
		form.Copies = 1
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_file", Message: "Failed to read uploaded file"})
		return
	}
	defer file.Close()

	job, err := h.jobs.Submit(c.Request.Context(), core.SubmitRequest{
		OwnerID:   middleware.OwnerID(c),
		FileName:  fileHeader.Filename,
		Content:   file,
		PageCount: form.PageCount,
		PrintSpec: core.PrintSpec{
			Copies:        form.Copies,
			PageSelection: form.PageSelection,
			PageSize:      form.PageSize,
			Orientation:   core.Orientation(form.Orientation),
			ColorMode:     core.ColorMode(form.ColorMode),
			Duplex:        form.Duplex,
		},
		Priority: priority,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	limit, offset := pagination(c)
	filter := core.JobFilter{
		OwnerID: middleware.OwnerID(c),
		Limit:   limit,
		Offset:  offset,
	}
	if status := c.Query("status"); status != "" {
		if !core.Status(status).Valid() {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_status", Message: fmt.Sprintf("Unknown status: %s", status)})
			return
		}
		filter.Status = core.Status(status)
	}

	jobs, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*core.PrintJob{}
	}
	c.JSON(http.StatusOK, JobListResponse{Jobs: jobs, Limit: limit, Offset: offset})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) CreateOrder(c *gin.Context) {
	order, err := h.jobs.CreateOrder(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	job, err := h.jobs.Cancel(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func parsePriority(v string) (core.Priority, error) {
	switch v {
	case "", "normal", "0":
		return core.PriorityNormal, nil
	case "high", "1":
		return core.PriorityHigh, nil
	default:
		return 0, fmt.Errorf("%w: unknown priority %q", core.ErrInvalidPrintSpec, v)
	}
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func RegisterJobRoutes(r *gin.RouterGroup, h *JobHandler) {
	r.POST("/jobs", h.CreateJob)
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:id", h.GetJob)
	r.POST("/jobs/:id/order", h.CreateOrder)
	r.POST("/jobs/:id/cancel", h.CancelJob)
}

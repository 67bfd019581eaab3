package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdesk/internal/archive"
	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/printer"
)

// PrinterService is implemented by printer.Pool. It is nil when printing is simulated.
type PrinterService interface {
	ListPrinters() []printer.Printer
	PausePrinter(ctx context.Context, name string) error
	ResumePrinter(ctx context.Context, name string) error
	CheckAllStatuses(ctx context.Context)
}

type ArchiveService interface {
	RunArchive(ctx context.Context) (int, error)
	ListArchives(ctx context.Context) ([]*archive.ArchiveFile, error)
	GetArchiveInfo(ctx context.Context, filename string) (*archive.ArchiveFile, error)
	RestoreJob(ctx context.Context, jobID string) (*core.PrintJob, error)
}

type AdminHandler struct {
	jobs     JobService
	printers PrinterService
	archives ArchiveService
}

type QueueResponse struct {
	Stats   *core.QueueStats `json:"stats"`
	Waiting []*core.PrintJob `json:"waiting"`
	Active  []*core.PrintJob `json:"active"`
}

type MigrateResponse struct {
	Job     *core.PrintJob `json:"job"`
	Message string         `json:"message"`
}

func NewAdminHandler(jobs JobService, printers PrinterService, archives ArchiveService) *AdminHandler {
	return &AdminHandler{jobs: jobs, printers: printers, archives: archives}
}

func (h *AdminHandler) ListJobs(c *gin.Context) {
	limit, offset := pagination(c)
	filter := core.JobFilter{Limit: limit, Offset: offset}
	if status := c.Query("status"); status != "" {
		if !core.Status(status).Valid() {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_status", Message: fmt.Sprintf("Unknown status: %s", status)})
			return
		}
		filter.Status = core.Status(status)
	}
	if owner := c.Query("owner_id"); owner != "" {
		filter.OwnerID = owner
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

func (h *AdminHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), "", c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *AdminHandler) CancelJob(c *gin.Context) {
	job, err := h.jobs.Cancel(c.Request.Context(), "", c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *AdminHandler) GetQueue(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := h.jobs.Stats(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	waiting, err := h.jobs.List(ctx, core.JobFilter{Status: core.StatusInQueue, Limit: 100})
	if err != nil {
		respondError(c, err)
		return
	}
	active, err := h.jobs.List(ctx, core.JobFilter{Status: core.StatusInProcess, Limit: 100})
	if err != nil {
		respondError(c, err)
		return
	}
	if waiting == nil {
		waiting = []*core.PrintJob{}
	}
	if active == nil {
		active = []*core.PrintJob{}
	}
	c.JSON(http.StatusOK, QueueResponse{Stats: stats, Waiting: waiting, Active: active})
}

func (h *AdminHandler) RetryMigration(c *gin.Context) {
	job, err := h.jobs.RetryMigration(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MigrateResponse{Job: job, Message: "Document is in durable storage"})
}

func (h *AdminHandler) ListPrinters(c *gin.Context) {
	if h.printers == nil {
		c.JSON(http.StatusOK, []printer.Printer{})
		return
	}
	c.JSON(http.StatusOK, h.printers.ListPrinters())
}

func (h *AdminHandler) RefreshPrinters(c *gin.Context) {
	if h.printers == nil {
		c.JSON(http.StatusOK, []printer.Printer{})
		return
	}
	h.printers.CheckAllStatuses(c.Request.Context())
	c.JSON(http.StatusOK, h.printers.ListPrinters())
}

func (h *AdminHandler) PausePrinter(c *gin.Context) {
	h.setPrinterPaused(c, true)
}

func (h *AdminHandler) ResumePrinter(c *gin.Context) {
	h.setPrinterPaused(c, false)
}

func (h *AdminHandler) setPrinterPaused(c *gin.Context, paused bool) {
	if h.printers == nil {
		respondError(c, printer.ErrPrinterNotFound)
		return
	}
	name := c.Param("name")
	var err error
	if paused {
		err = h.printers.PausePrinter(c.Request.Context(), name)
	} else {
		err = h.printers.ResumePrinter(c.Request.Context(), name)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "printer": name, "paused": paused})
}

func (h *AdminHandler) ListArchives(c *gin.Context) {
	archives, err := h.archives.ListArchives(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if archives == nil {
		archives = []*archive.ArchiveFile{}
	}
	c.JSON(http.StatusOK, archives)
}

func (h *AdminHandler) GetArchive(c *gin.Context) {
	info, err := h.archives.GetArchiveInfo(c.Request.Context(), c.Param("filename"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *AdminHandler) RunArchive(c *gin.Context) {
	count, err := h.archives.RunArchive(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "archived": count})
}

func (h *AdminHandler) RestoreJob(c *gin.Context) {
	job, err := h.archives.RestoreJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func RegisterAdminRoutes(r *gin.RouterGroup, h *AdminHandler) {
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:id", h.GetJob)
	r.POST("/jobs/:id/cancel", h.CancelJob)
	r.POST("/jobs/:id/migrate", h.RetryMigration)
	r.GET("/queue", h.GetQueue)

	r.GET("/printers", h.ListPrinters)
	r.POST("/printers/refresh", h.RefreshPrinters)
	r.POST("/printers/:name/pause", h.PausePrinter)
	r.POST("/printers/:name/resume", h.ResumePrinter)

	if h.archives != nil {
		r.GET("/archives", h.ListArchives)
		r.GET("/archives/:filename", h.GetArchive)
		r.POST("/archives/run", h.RunArchive)
		r.POST("/archives/jobs/:id/restore", h.RestoreJob)
	}
}

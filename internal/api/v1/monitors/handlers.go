package monitors

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"atlas-system/internal/api/types"
	"atlas-system/internal/checks"
	"atlas-system/internal/storage"
)

// Enqueuer schedules an immediate run of a monitor.
type Enqueuer interface {
	Enqueue(monitorID int64) bool
}

// Checker runs one check synchronously.
type Checker interface {
	ExecuteCheck(ctx context.Context, m *storage.Monitor) (*storage.Snapshot, error)
}

// Handler manages the monitor endpoints.
//
// Runtime state (facts, notify state, logs) is owned by the engine; the
// handler only writes configuration and asks the queue for a run after
// every change.
type Handler struct {
	storage *storage.Storage
	queue   Enqueuer
	checker Checker
	secrets encrypter

	maxRedirects int
}

// NewHandler creates a monitor handler.
func NewHandler(storage *storage.Storage, queue Enqueuer, checker Checker, secrets encrypter, maxRedirects int) *Handler {
	return &Handler{
		storage: storage,
		queue:   queue,
		checker: checker,
		secrets: secrets,

		maxRedirects: maxRedirects,
	}
}

// List handles GET /api/v1/monitors
//
// Query parameters:
//   - page (default: 1, min: 1)
//   - page_size (default: 50, max: 500)
//   - enabled (optional boolean filter)
//
// Returns:
//   - 200 OK with the paginated monitor list
//   - 400 Bad Request for invalid parameters
//   - 500 Internal Server Error on storage failure
func (h *Handler) List(c *gin.Context) {
	var pagination types.PaginationRequest
	if err := c.ShouldBindQuery(&pagination); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}
	pagination.Normalize()

	cond, args := "", []any{}
	if raw := c.Query("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			types.AbortWithError(c, types.ValidationError("enabled must be a boolean"))
			return
		}
		cond, args = "enabled = ?", []any{enabled}
	}

	repo := h.storage.Repos.Monitors
	total, err := repo.Count(c.Request.Context(), cond, args...)
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to count monitors", err))
		return
	}

	monitors, err := repo.Page(c.Request.Context(), pagination.PageSize, pagination.Offset(), cond, args...)
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to retrieve monitors", err))
		return
	}

	responses := make([]MonitorResponse, 0, len(monitors))
	for i := range monitors {
		responses = append(responses, newMonitorResponse(&monitors[i], nil))
	}

	c.JSON(http.StatusOK, types.SuccessResponseWithPagination(responses, types.NewPagination(pagination, total)))
}

// Create handles POST /api/v1/monitors
//
// Credentials are encrypted before they are stored. The new monitor is
// queued for an immediate check.
//
// Returns:
//   - 201 Created with the monitor
//   - 400 Bad Request for invalid input
//   - 500 Internal Server Error on storage failure
func (h *Handler) Create(c *gin.Context) {
	var req MonitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	m := newMonitor(h.maxRedirects)
	if err := req.apply(m, h.secrets); err != nil {
		types.AbortWithError(c, types.InternalError("failed to encrypt credentials", err))
		return
	}
	if err := storage.ValidateMonitor(m); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	if _, err := h.storage.Repos.Monitors.Create(c.Request.Context(), m); err != nil {
		types.AbortWithError(c, types.InternalError("failed to create monitor", err))
		return
	}

	log.Info().Int64("monitor_id", m.ID).Str("type", m.Type).Str("title", m.Title).Msg("Monitor created")
	h.enqueue(m)

	c.JSON(http.StatusCreated, types.SuccessResponse(newMonitorResponse(m, nil)))
}

// Get handles GET /api/v1/monitors/:id
//
// Returns:
//   - 200 OK with the monitor and its latest feed sample
//   - 400 Bad Request for an invalid ID
//   - 404 Not Found when the monitor does not exist
func (h *Handler) Get(c *gin.Context) {
	m, ok := h.monitor(c)
	if !ok {
		return
	}

	feed, err := h.storage.Gateway.LatestFeed(c.Request.Context(), m.ID)
	if err != nil && !storage.IsNotFound(err) {
		types.AbortWithError(c, types.InternalError("failed to retrieve latest feed", err))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(newMonitorResponse(m, feed)))
}

// Update handles PATCH /api/v1/monitors/:id
//
// Only the fields present in the body change. Omitted credentials keep
// their stored value.
//
// Returns:
//   - 200 OK with the updated monitor
//   - 400 Bad Request for invalid input
//   - 404 Not Found when the monitor does not exist
func (h *Handler) Update(c *gin.Context) {
	m, ok := h.monitor(c)
	if !ok {
		return
	}

	var req MonitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}
	if err := req.apply(m, h.secrets); err != nil {
		types.AbortWithError(c, types.InternalError("failed to encrypt credentials", err))
		return
	}
	if err := storage.ValidateMonitor(m); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	if err := h.storage.Repos.Monitors.Update(c.Request.Context(), m); err != nil {
		if storage.IsNotFound(err) {
			types.AbortWithError(c, types.NotFoundError("monitor"))
			return
		}
		types.AbortWithError(c, types.InternalError("failed to update monitor", err))
		return
	}

	log.Info().Int64("monitor_id", m.ID).Msg("Monitor updated")
	h.enqueue(m)

	c.JSON(http.StatusOK, types.SuccessResponse(newMonitorResponse(m, nil)))
}

// Delete handles DELETE /api/v1/monitors/:id
//
// Drives, databases, samples, logs and notify links go with the monitor.
//
// Returns:
//   - 204 No Content
//   - 404 Not Found when the monitor does not exist
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id", "monitor")
	if !ok {
		return
	}

	if err := h.storage.Gateway.DeleteMonitor(c.Request.Context(), id); err != nil {
		if storage.IsNotFound(err) {
			types.AbortWithError(c, types.NotFoundError("monitor"))
			return
		}
		types.AbortWithError(c, types.InternalError("failed to delete monitor", err))
		return
	}

	log.Info().Int64("monitor_id", id).Msg("Monitor deleted")
	c.Status(http.StatusNoContent)
}

// Run handles POST /api/v1/monitors/:id/run
//
// Returns:
//   - 202 Accepted when a run was queued or deferred behind the current one
//   - 404 Not Found when the monitor does not exist
//   - 409 Conflict when the monitor is disabled
//   - 503 Service Unavailable when the queue is full or already holds it
func (h *Handler) Run(c *gin.Context) {
	m, ok := h.monitor(c)
	if !ok {
		return
	}
	if !m.Enabled {
		types.AbortWithError(c, types.ConflictError("monitor is disabled"))
		return
	}

	if !h.queue.Enqueue(m.ID) {
		types.AbortWithError(c, types.UnavailableError("monitor is already queued or the queue is full"))
		return
	}

	c.JSON(http.StatusAccepted, types.SuccessResponse(gin.H{"monitor_id": m.ID, "queued": true}))
}

// Test handles POST /api/v1/monitors/test
//
// Runs one check synchronously against a transient monitor built from the
// body. With ?monitor_id= the stored monitor is the base and the body
// overrides it, so saved credentials can be reused. Nothing is persisted.
//
// Returns:
//   - 200 OK with the outcome; a failed check is ok=false, not an HTTP error
//   - 400 Bad Request for invalid input
//   - 404 Not Found when monitor_id does not exist
func (h *Handler) Test(c *gin.Context) {
	var req MonitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	m := newMonitor(h.maxRedirects)
	if raw := c.Query("monitor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			types.AbortWithError(c, types.ValidationError("invalid monitor ID"))
			return
		}
		stored, err := h.storage.Gateway.GetMonitor(c.Request.Context(), id)
		if err != nil {
			abortLookup(c, "monitor", err)
			return
		}
		m = stored
	}

	if err := req.apply(m, h.secrets); err != nil {
		types.AbortWithError(c, types.InternalError("failed to encrypt credentials", err))
		return
	}
	if err := storage.ValidateMonitor(m); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	start := time.Now()
	snap, err := h.checker.ExecuteCheck(c.Request.Context(), m)
	resp := TestResponse{DurationMs: time.Since(start).Milliseconds()}

	if err != nil {
		resp.Error = err.Error()
		var failure *checks.Failure
		if errors.As(err, &failure) {
			resp.Code = failure.Code
		} else {
			resp.Code = checks.DetermineErrorCode(err)
		}
		c.JSON(http.StatusOK, types.SuccessResponse(resp))
		return
	}

	resp.OK = true
	resp.Ping = snap.Feed.Ping
	resp.StatusCode = snap.Feed.StatusCode
	resp.Facts = snap.Facts
	resp.Cert = snap.Cert
	resp.Drives = len(snap.Drives)
	resp.Databases = len(snap.Databases)

	c.JSON(http.StatusOK, types.SuccessResponse(resp))
}

// Logs handles GET /api/v1/monitors/:id/logs, newest first.
func (h *Handler) Logs(c *gin.Context) {
	m, ok := h.monitor(c)
	if !ok {
		return
	}

	var pagination types.PaginationRequest
	if err := c.ShouldBindQuery(&pagination); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}
	pagination.Normalize()

	entries, total, err := h.storage.Gateway.ListLogs(c.Request.Context(), m.ID, pagination.PageSize, pagination.Offset())
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to retrieve logs", err))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponseWithPagination(entries, types.NewPagination(pagination, total)))
}

// Drives handles GET /api/v1/monitors/:id/drives
func (h *Handler) Drives(c *gin.Context) {
	m, ok := h.monitor(c)
	if !ok {
		return
	}

	drives, err := h.storage.Gateway.DrivesForMonitor(c.Request.Context(), m.ID)
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to retrieve drives", err))
		return
	}
	if drives == nil {
		drives = []storage.Drive{}
	}

	c.JSON(http.StatusOK, types.SuccessResponse(drives))
}

// UpdateDrive handles PATCH /api/v1/monitors/:id/drives/:drive_id
//
// Only notify settings are writable; sizes belong to the check.
//
// Returns:
//   - 200 OK with the drive
//   - 400 Bad Request for invalid thresholds
//   - 404 Not Found when the drive does not belong to the monitor
func (h *Handler) UpdateDrive(c *gin.Context) {
	monitorID, ok := parseID(c, "id", "monitor")
	if !ok {
		return
	}
	driveID, ok := parseID(c, "drive_id", "drive")
	if !ok {
		return
	}

	var req DriveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	ctx := c.Request.Context()
	d, err := h.storage.Repos.Drives.GetByID(ctx, driveID)
	if err != nil {
		abortLookup(c, "drive", err)
		return
	}
	if d.MonitorID != monitorID {
		types.AbortWithError(c, types.NotFoundError("drive"))
		return
	}

	req.apply(d)
	if err := storage.ValidateDrive(d); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	if err := h.storage.Repos.Drives.Update(ctx, d, driveNotifyColumns...); err != nil {
		types.AbortWithError(c, types.InternalError("failed to update drive", err))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(d))
}

// Files handles GET /api/v1/monitors/:id/files
func (h *Handler) Files(c *gin.Context) {
	m, ok := h.monitor(c)
	if !ok {
		return
	}

	files, err := h.storage.Gateway.FilesForMonitor(c.Request.Context(), m.ID)
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to retrieve database files", err))
		return
	}
	if files == nil {
		files = []storage.DatabaseFile{}
	}

	c.JSON(http.StatusOK, types.SuccessResponse(files))
}

// UpdateFile handles PATCH /api/v1/monitors/:id/files/:file_id
func (h *Handler) UpdateFile(c *gin.Context) {
	monitorID, ok := parseID(c, "id", "monitor")
	if !ok {
		return
	}
	fileID, ok := parseID(c, "file_id", "file")
	if !ok {
		return
	}

	var req FileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	ctx := c.Request.Context()
	f, err := h.fileOf(ctx, monitorID, fileID)
	if err != nil {
		abortLookup(c, "database file", err)
		return
	}

	req.apply(f)
	if err := storage.ValidateDatabaseFile(f); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	if err := h.storage.Repos.DatabaseFiles.Update(ctx, f, fileNotifyColumns...); err != nil {
		types.AbortWithError(c, types.InternalError("failed to update database file", err))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(f))
}

// NotifyLinks handles GET /api/v1/monitors/:id/notify
//
// Returns every link of the monitor and of its drives and database files.
func (h *Handler) NotifyLinks(c *gin.Context) {
	m, ok := h.monitor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	gw := h.storage.Gateway

	resp := LinksResponse{Monitor: []storage.NotifyLink{}, Drives: []storage.NotifyLink{}, Files: []storage.NotifyLink{}}

	links, err := gw.NotifyLinksFor(ctx, storage.EntityMonitor, m.ID)
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to retrieve notify links", err))
		return
	}
	resp.Monitor = append(resp.Monitor, links...)

	drives, err := gw.DrivesForMonitor(ctx, m.ID)
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to retrieve drives", err))
		return
	}
	for _, d := range drives {
		links, err := gw.NotifyLinksFor(ctx, storage.EntityDrive, d.ID)
		if err != nil {
			types.AbortWithError(c, types.InternalError("failed to retrieve notify links", err))
			return
		}
		resp.Drives = append(resp.Drives, links...)
	}

	files, err := gw.FilesForMonitor(ctx, m.ID)
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to retrieve database files", err))
		return
	}
	for _, f := range files {
		links, err := gw.NotifyLinksFor(ctx, storage.EntityFile, f.ID)
		if err != nil {
			types.AbortWithError(c, types.InternalError("failed to retrieve notify links", err))
			return
		}
		resp.Files = append(resp.Files, links...)
	}

	c.JSON(http.StatusOK, types.SuccessResponse(resp))
}

// SetMonitorLinks handles PUT /api/v1/monitors/:id/notify/:dimension
//
// Replaces the channels of one monitor dimension. An empty list unlinks
// every channel.
//
// Returns:
//   - 200 OK with the resulting links
//   - 400 Bad Request for an unknown dimension or notification
//   - 404 Not Found when the monitor does not exist
func (h *Handler) SetMonitorLinks(c *gin.Context) {
	m, ok := h.monitor(c)
	if !ok {
		return
	}
	h.setLinks(c, storage.EntityMonitor, m.ID)
}

// SetDriveLinks handles PUT /api/v1/monitors/:id/drives/:drive_id/notify/:dimension
func (h *Handler) SetDriveLinks(c *gin.Context) {
	monitorID, ok := parseID(c, "id", "monitor")
	if !ok {
		return
	}
	driveID, ok := parseID(c, "drive_id", "drive")
	if !ok {
		return
	}

	d, err := h.storage.Repos.Drives.GetByID(c.Request.Context(), driveID)
	if err != nil {
		abortLookup(c, "drive", err)
		return
	}
	if d.MonitorID != monitorID {
		types.AbortWithError(c, types.NotFoundError("drive"))
		return
	}
	h.setLinks(c, storage.EntityDrive, d.ID)
}

// SetFileLinks handles PUT /api/v1/monitors/:id/files/:file_id/notify/:dimension
func (h *Handler) SetFileLinks(c *gin.Context) {
	monitorID, ok := parseID(c, "id", "monitor")
	if !ok {
		return
	}
	fileID, ok := parseID(c, "file_id", "file")
	if !ok {
		return
	}

	f, err := h.fileOf(c.Request.Context(), monitorID, fileID)
	if err != nil {
		abortLookup(c, "database file", err)
		return
	}
	h.setLinks(c, storage.EntityFile, f.ID)
}

func (h *Handler) setLinks(c *gin.Context, kind storage.EntityKind, id int64) {
	dim := storage.Dimension(c.Param("dimension"))
	if !storage.ValidDimension(kind, dim) {
		types.AbortWithError(c, types.ValidationError("unknown notify dimension for "+string(kind)+": "+string(dim)))
		return
	}

	var req LinksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	ctx := c.Request.Context()
	for _, nid := range req.NotificationIDs {
		if _, err := h.storage.Gateway.GetNotification(ctx, nid); err != nil {
			if storage.IsNotFound(err) {
				types.AbortWithError(c, types.ValidationError("notification "+strconv.FormatInt(nid, 10)+" does not exist"))
				return
			}
			types.AbortWithError(c, types.InternalError("failed to retrieve notification", err))
			return
		}
	}

	if err := h.storage.Gateway.SetNotifyLinks(ctx, kind, id, dim, req.NotificationIDs); err != nil {
		types.AbortWithError(c, types.InternalError("failed to update notify links", err))
		return
	}

	links, err := h.storage.Repos.NotifyLinks.Where(ctx,
		"entity_kind = ? AND entity_id = ? AND dimension = ?", string(kind), id, string(dim))
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to retrieve notify links", err))
		return
	}
	if links == nil {
		links = []storage.NotifyLink{}
	}

	log.Info().
		Str("kind", string(kind)).
		Int64("id", id).
		Str("dimension", string(dim)).
		Int("channels", len(links)).
		Msg("Notify links updated")

	c.JSON(http.StatusOK, types.SuccessResponse(links))
}

// fileOf returns a database file if it belongs to the monitor.
func (h *Handler) fileOf(ctx context.Context, monitorID, fileID int64) (*storage.DatabaseFile, error) {
	files, err := h.storage.Gateway.FilesForMonitor(ctx, monitorID)
	if err != nil {
		return nil, err
	}
	for i := range files {
		if files[i].ID == fileID {
			return &files[i], nil
		}
	}
	return nil, storage.ErrNotFound
}

func (h *Handler) monitor(c *gin.Context) (*storage.Monitor, bool) {
	id, ok := parseID(c, "id", "monitor")
	if !ok {
		return nil, false
	}

	m, err := h.storage.Gateway.GetMonitor(c.Request.Context(), id)
	if err != nil {
		abortLookup(c, "monitor", err)
		return nil, false
	}
	return m, true
}

func (h *Handler) enqueue(m *storage.Monitor) {
	if m.Enabled && !h.queue.Enqueue(m.ID) {
		log.Debug().Int64("monitor_id", m.ID).Msg("Monitor run not queued")
	}
}

func parseID(c *gin.Context, param, resource string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		types.AbortWithError(c, types.ValidationError("invalid "+resource+" ID"))
		return 0, false
	}
	return id, true
}

func abortLookup(c *gin.Context, resource string, err error) {
	if storage.IsNotFound(err) {
		types.AbortWithError(c, types.NotFoundError(resource))
		return
	}
	types.AbortWithError(c, types.InternalError("failed to retrieve "+resource, err))
}

var driveNotifyColumns = []string{
	"percent_free_notify", "percent_free_notify_value", "percent_free_notify_resend_after_minutes",
	"size_free_notify", "size_free_notify_value", "size_free_notify_resend_after_minutes",
	"growth_rate_notify", "growth_rate_notify_value", "growth_rate_notify_resend_after_minutes",
	"missing_notify", "missing_notify_resend_after_minutes",
}

var fileNotifyColumns = []string{
	"percent_free_notify", "percent_free_notify_value", "percent_free_notify_resend_after_minutes",
}

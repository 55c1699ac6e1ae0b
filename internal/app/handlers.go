package app

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calendar-service/internal/calendar"
	"calendar-service/internal/conflict"
	"calendar-service/internal/domain"
	"calendar-service/internal/logging"
)

// Register mounts the API on router. Health, metrics and the OAuth callback
// stay outside of auth.
func (a *App) Register(router *gin.Engine, auth gin.HandlerFunc) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/oauth2callback", a.GoogleOAuth2CallbackHandler)

	api := router.Group("/api", auth)
	{
		appointments := api.Group("/appointments")
		{
			appointments.POST("", a.CreateAppointmentHandler)
			appointments.GET("/:id", a.GetAppointmentHandler)
			appointments.PUT("/:id", a.UpdateAppointmentHandler)
			appointments.DELETE("/:id", a.DeleteAppointmentHandler)
			appointments.POST("/:id/confirm", a.ConfirmAppointmentHandler)
			appointments.POST("/:id/classify", a.ClassifyHandler)
		}
		api.POST("/conflicts", a.ConflictsHandler)
		api.GET("/users/:id/appointments", a.ListAppointmentsHandler)
		api.GET("/calendar/google/auth", a.GoogleAuthHandler)
	}
}

// POST /api/appointments
func (a *App) CreateAppointmentHandler(c *gin.Context) {
	var req createAppointmentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, cid := identity(c)

	res, err := a.Engine.Create(c.Request.Context(), calendar.CreateRequest{
		ContextID:       cid,
		Actor:           actor,
		Appointment:     req.Appointment,
		ConflictOptions: req.ConflictOptions,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusCreated, res)
}

// GET /api/appointments/:id
func (a *App) GetAppointmentHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	actor, cid := identity(c)

	appt, err := a.Store.Get(c.Request.Context(), cid, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if _, attendee := appt.Attendee(actor); !attendee && appt.CreatedBy != actor && appt.SharedFolderOwner != actor {
		writeError(c, domain.PermissionDenied("read"))
		return
	}
	c.JSON(http.StatusOK, appt)
}

// PUT /api/appointments/:id
func (a *App) UpdateAppointmentHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateAppointmentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, cid := identity(c)

	res, err := a.Engine.Update(c.Request.Context(), calendar.UpdateRequest{
		ContextID:          cid,
		Actor:              actor,
		ID:                 id,
		Delta:              req.Delta,
		ClientLastModified: req.LastModified,
		ConflictOptions:    req.ConflictOptions,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

// DELETE /api/appointments/:id?last_modified=ISO&position=N&date=ISO
func (a *App) DeleteAppointmentHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	req := calendar.DeleteRequest{ID: id}
	req.Actor, req.ContextID = identity(c)

	var err error
	if s := c.Query("last_modified"); s != "" {
		if req.ClientLastModified, err = time.Parse(time.RFC3339, s); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid last_modified"})
			return
		}
	}
	if s := c.Query("position"); s != "" {
		if req.Position, err = strconv.Atoi(s); err != nil || req.Position < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid position"})
			return
		}
	}
	if s := c.Query("date"); s != "" {
		if req.Date, err = time.Parse(time.RFC3339, s); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date"})
			return
		}
	}

	res, err := a.Engine.Delete(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

// POST /api/appointments/:id/confirm
func (a *App) ConfirmAppointmentHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req confirmReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, cid := identity(c)

	res, err := a.Engine.Confirm(c.Request.Context(), calendar.ConfirmRequest{
		ContextID:          cid,
		Actor:              actor,
		ID:                 id,
		UserID:             req.UserID,
		Status:             req.Confirm,
		Message:            req.Message,
		ClientLastModified: req.LastModified,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

// POST /api/appointments/:id/classify
func (a *App) ClassifyHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req classifyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, cid := identity(c)

	action, err := a.Engine.Classify(c.Request.Context(), calendar.ClassifyRequest{
		ContextID: cid,
		Actor:     actor,
		ID:        id,
		Delta:     req.Delta,
		Delete:    req.Delete,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": action.Name()})
}

// POST /api/conflicts
// Runs the conflict check for a candidate without writing anything.
func (a *App) ConflictsHandler(c *gin.Context) {
	var req conflictsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.End.Before(req.Start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must not be before start"})
		return
	}
	actor, cid := identity(c)
	req.ContextID = cid

	found, err := a.Resolver.Find(c.Request.Context(), a.Store, conflict.Request{
		Candidate:    &req.Appointment,
		Actor:        actor,
		Create:       req.ID == 0,
		OverrideHard: req.OverrideHard,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if found == nil {
		found = []conflict.Candidate{}
	}
	c.JSON(http.StatusOK, gin.H{
		"conflicts": found,
		"count":     len(found),
	})
}

// GET /api/users/:id/appointments?from=ISO&to=ISO
func (a *App) ListAppointmentsHandler(c *gin.Context) {
	userID, ok := pathID(c)
	if !ok {
		return
	}
	actor, cid := identity(c)
	if userID != actor {
		writeError(c, domain.PermissionDenied("list"))
		return
	}

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to required (ISO8601)"})
		return
	}
	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}
	if !from.Before(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return
	}

	items, err := a.Listing.Get(c.Request.Context(), cid, userID, from.UTC(), to.UTC())
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []Occurrence{}
	}
	c.JSON(http.StatusOK, items)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// respond writes a mutation result. A request held back by scheduling
// conflicts answers 409 with the conflicts in the body.
func respond(c *gin.Context, status int, res *calendar.Result) {
	if !res.Written && len(res.Conflicts) > 0 {
		status = http.StatusConflict
	}
	c.JSON(status, newMutationResponse(res))
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOptimisticConflict):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrRecurrence):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	var de *domain.Error
	if errors.As(err, &de) && de.Field != "" {
		body["field"] = de.Field
	}
	if domain.Retryable(err) {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

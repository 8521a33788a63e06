package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook/internal/domain/cell"
	"github.com/GriffinCanCode/notebook/internal/domain/notebook"
	"github.com/GriffinCanCode/notebook/internal/domain/persistence"
	"github.com/GriffinCanCode/notebook/internal/execution"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebook/internal/shared/utils"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	notebook *notebook.Notebook
	key      string
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandlers creates a new handler set. key names the record used by
// export and import.
func NewHandlers(nb *notebook.Notebook, key string, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		notebook: nb,
		key:      key,
		metrics:  metrics,
		logger:   logger,
	}
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.GET("/cells", h.ListCells)
	r.POST("/cells", h.CreateCell)
	r.POST("/cells/move", h.MoveCell)
	r.GET("/cells/:id", h.GetCell)
	r.PUT("/cells/:id/code", h.UpdateCode)
	r.DELETE("/cells/:id", h.DeleteCell)
	r.POST("/cells/:id/select", h.SelectCell)
	r.POST("/cells/:id/focus", h.FocusCell)
	r.POST("/cells/:id/run", h.RunCell)

	r.POST("/selection/prev", h.SelectPrev)
	r.POST("/selection/next", h.SelectNext)
	r.POST("/focus/consume", h.ConsumeFocus)
	r.DELETE("/focus", h.ClearFocus)

	r.POST("/execution/teardown", h.Teardown)

	r.GET("/export", h.Export)
	r.POST("/import", h.Import)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "JS Notebook",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":  "healthy",
		"cells":   h.notebook.Store().Len(),
		"running": h.notebook.Host().Busy(),
		"timeout": h.notebook.Host().Timeout().String(),
	}
	if h.metrics != nil {
		resp["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// ListCells returns the whole notebook projection
func (h *Handlers) ListCells(c *gin.Context) {
	c.JSON(http.StatusOK, h.notebook.View())
}

// GetCell returns one cell
func (h *Handlers) GetCell(c *gin.Context) {
	cellID, ok := cellParam(c)
	if !ok {
		return
	}
	view, found := h.notebook.CellView(cellID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": cell.ErrCellNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

// CreateCellRequest inserts a cell
type CreateCellRequest struct {
	AfterID string `json:"after_id"`
	Code    string `json:"code"`
}

// CreateCell inserts a cell after after_id, or at the end
func (h *Handlers) CreateCell(c *gin.Context) {
	var req CreateCellRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := utils.ValidateID(req.AfterID, "after_id", false); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateCode(req.Code); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cellID := h.notebook.Store().Create(req.AfterID, req.Code)
	view, _ := h.notebook.CellView(cellID)
	c.JSON(http.StatusCreated, view)
}

// UpdateCodeRequest replaces a cell's source
type UpdateCodeRequest struct {
	Code *string `json:"code" binding:"required"`
}

// UpdateCode replaces a cell's source
func (h *Handlers) UpdateCode(c *gin.Context) {
	cellID, ok := cellParam(c)
	if !ok {
		return
	}
	var req UpdateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateCode(*req.Code); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.notebook.Store().UpdateCode(cellID, *req.Code); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cell_id": cellID})
}

// DeleteCell removes a cell
func (h *Handlers) DeleteCell(c *gin.Context) {
	cellID, ok := cellParam(c)
	if !ok {
		return
	}
	if err := h.notebook.Store().Delete(cellID); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"cell_id":     cellID,
		"selected_id": h.notebook.Store().SelectedID(),
	})
}

// MoveCellRequest reorders cells by index
type MoveCellRequest struct {
	From *int `json:"from" binding:"required"`
	To   *int `json:"to" binding:"required"`
}

// MoveCell reorders cells
func (h *Handlers) MoveCell(c *gin.Context) {
	var req MoveCellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.notebook.Store().Move(*req.From, *req.To); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.notebook.View())
}

// SelectCell makes a cell the selected one
func (h *Handlers) SelectCell(c *gin.Context) {
	cellID, ok := cellParam(c)
	if !ok {
		return
	}
	if err := h.notebook.Store().Select(cellID); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected_id": cellID})
}

// FocusCell selects a cell and requests focus for it
func (h *Handlers) FocusCell(c *gin.Context) {
	cellID, ok := cellParam(c)
	if !ok {
		return
	}
	if err := h.notebook.Store().FocusCell(cellID); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected_id": cellID, "focus": cellID})
}

// SelectPrev moves selection up
func (h *Handlers) SelectPrev(c *gin.Context) {
	moved := h.notebook.Store().SelectPrev()
	c.JSON(http.StatusOK, gin.H{"moved": moved, "selected_id": h.notebook.Store().SelectedID()})
}

// SelectNext moves selection down
func (h *Handlers) SelectNext(c *gin.Context) {
	moved := h.notebook.Store().SelectNext()
	c.JSON(http.StatusOK, gin.H{"moved": moved, "selected_id": h.notebook.Store().SelectedID()})
}

// ConsumeFocus returns and clears the pending focus request
func (h *Handlers) ConsumeFocus(c *gin.Context) {
	cellID, ok := h.notebook.Store().ConsumeFocus()
	c.JSON(http.StatusOK, gin.H{"cell_id": cellID, "ok": ok})
}

// ClearFocus drops a pending focus request without consuming it
func (h *Handlers) ClearFocus(c *gin.Context) {
	h.notebook.Store().ClearFocus()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RunCell executes a cell and responds once it has finished
func (h *Handlers) RunCell(c *gin.Context) {
	cellID, ok := cellParam(c)
	if !ok {
		return
	}

	out, err := h.notebook.RunCell(c.Request.Context(), cellID)
	if err != nil {
		view, found := h.notebook.CellView(cellID)
		resp := gin.H{"error": err.Error()}
		if found {
			resp["cell"] = view
		}
		h.logger.Debug("Run did not complete", zap.String("cell_id", cellID), zap.Error(err))
		c.JSON(errorStatus(err), resp)
		return
	}

	view, _ := h.notebook.CellView(cellID)
	c.JSON(http.StatusOK, gin.H{"outcome": out, "cell": view})
}

// Teardown abandons the live run, if any
func (h *Handlers) Teardown(c *gin.Context) {
	busy := h.notebook.Host().Busy()
	h.notebook.Host().Teardown()
	c.JSON(http.StatusOK, gin.H{"success": true, "was_running": busy})
}

// Export renders the current cells as json, yaml or toml
func (h *Handlers) Export(c *gin.Context) {
	format, err := persistence.ParseFormat(c.DefaultQuery("format", "json"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := persistence.Encode(h.notebook.Export(h.key), format)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, contentType(format), data)
}

// Import replaces every cell with the posted document
func (h *Handlers) Import(c *gin.Context) {
	format, err := persistence.ParseFormat(c.DefaultQuery("format", "json"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	body, err := readLimited(c, utils.MaxMessageSize)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	rec, err := persistence.Decode(body, format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.notebook.Import(c.Request.Context(), rec); err != nil {
		h.logger.Error("Import failed", zap.Error(err))
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.notebook.View())
}

func cellParam(c *gin.Context) (string, bool) {
	cellID := c.Param("id")
	if err := utils.ValidateID(cellID, "cell_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return cellID, true
}

// errorStatus maps domain errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, cell.ErrCellNotFound):
		return http.StatusNotFound
	case errors.Is(err, cell.ErrCellRunning),
		errors.Is(err, execution.ErrSuperseded),
		errors.Is(err, execution.ErrTornDown):
		return http.StatusConflict
	case errors.Is(err, cell.ErrIndexOutOfRange),
		errors.Is(err, persistence.ErrInvalidRecord):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

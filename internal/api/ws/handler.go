package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook/internal/domain/notebook"
	"github.com/GriffinCanCode/notebook/internal/execution"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebook/internal/shared/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// Message is a client request
type Message struct {
	Type   string `json:"type"`
	CellID string `json:"cell_id,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Handler streams notebook state over WebSocket and accepts run and edit
// requests
type Handler struct {
	notebook *notebook.Notebook
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(nb *notebook.Notebook, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{notebook: nb, metrics: metrics, logger: logger}
}

// conn serializes writes; gorilla allows one concurrent writer
type conn struct {
	ws      *websocket.Conn
	mu      sync.Mutex
	metrics *monitoring.Metrics
}

func (c *conn) send(data interface{}, msgType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(data); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordWSMessage("out", msgType)
	}
	return nil
}

func (c *conn) sendError(msg string) error {
	return c.send(gin.H{"type": "error", "message": msg}, "error")
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	ws.SetReadLimit(utils.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	out := &conn{ws: ws, metrics: h.metrics}
	if err := out.send(h.snapshot(), "cells"); err != nil {
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.push(ctx, out)
	}()
	defer wg.Wait()
	defer cancel()

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", msg.Type)
		}

		switch msg.Type {
		case "run":
			wg.Add(1)
			go func(msg Message) {
				defer wg.Done()
				h.handleRun(ctx, out, msg)
			}(msg)
		case "update_code":
			h.handleUpdateCode(out, msg)
		case "ping":
			out.send(gin.H{"type": "pong"}, "pong")
		default:
			out.sendError("unknown message type")
		}
	}
}

// push sends a fresh snapshot after store changes, coalescing bursts, and
// keeps the connection alive with pings
func (h *Handler) push(ctx context.Context, out *conn) {
	changes, unsub := h.notebook.Store().Subscribe(64)
	defer unsub()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := out.ping(); err != nil {
				return
			}
		case _, ok := <-changes:
			if !ok {
				return
			}
			drain(changes)
			if err := out.send(h.snapshot(), "cells"); err != nil {
				h.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func drain[T any](ch <-chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func (h *Handler) snapshot() gin.H {
	return gin.H{"type": "cells", "notebook": h.notebook.View()}
}

func (h *Handler) handleRun(ctx context.Context, out *conn, msg Message) {
	cellID := msg.CellID
	if cellID == "" {
		cellID = h.notebook.Store().SelectedID()
	}
	if err := utils.ValidateID(cellID, "cell_id", true); err != nil {
		out.sendError(err.Error())
		return
	}

	outcome, err := h.notebook.RunCell(ctx, cellID)
	resp := gin.H{"type": "run_result", "cell_id": cellID, "outcome": outcome}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		resp["error"] = err.Error()
		resp["superseded"] = errors.Is(err, execution.ErrSuperseded)
	}
	out.send(resp, "run_result")
}

func (h *Handler) handleUpdateCode(out *conn, msg Message) {
	if err := utils.ValidateID(msg.CellID, "cell_id", true); err != nil {
		out.sendError(err.Error())
		return
	}
	if err := utils.ValidateCode(msg.Code); err != nil {
		out.sendError(err.Error())
		return
	}
	if err := h.notebook.Store().UpdateCode(msg.CellID, msg.Code); err != nil {
		out.sendError(err.Error())
	}
}

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-booking-backend/internal/auth"
	"laundry-booking-backend/internal/model"
	"laundry-booking-backend/internal/mw"
	"laundry-booking-backend/internal/orders"
	"laundry-booking-backend/internal/store"
)

// boardPath is the cached public board; order mutations invalidate it.
const boardPath = "/api/board"

type itemsRequest struct {
	Items []model.LineItem `json:"items" binding:"required"`
}

type advanceRequest struct {
	Target model.OrderStatus `json:"target"`
	Note   string            `json:"note"`
}

func (h *Handler) invalidateBoard() {
	mw.Invalidate(h.boardCache, boardPath)
}

// visibleOrder loads the order named by :id if the caller owns it or is
// staff. Orders of other students are reported as not found.
func (h *Handler) visibleOrder(c *gin.Context) (model.Order, auth.Principal, bool) {
	p, _ := auth.PrincipalFrom(c)
	o, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return model.Order{}, p, false
	}
	if o.UserID != p.ID && !p.IsStaff() {
		respondError(c, store.ErrNotFound)
		return model.Order{}, p, false
	}
	return o, p, true
}

// CreateOrder submits a new order for the calling student.
func (h *Handler) CreateOrder(c *gin.Context) {
	var req itemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "items are required")
		return
	}
	p, _ := auth.PrincipalFrom(c)
	o, err := h.orders.Create(c.Request.Context(), p.ID, req.Items)
	if err != nil {
		respondError(c, err)
		return
	}
	h.invalidateBoard()
	c.JSON(http.StatusCreated, o)
}

// ListOrders returns the caller's orders, or every order for staff. Staff
// may filter by ?status=.
func (h *Handler) ListOrders(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	filter := orders.ListFilter{Status: model.OrderStatus(c.Query("status"))}
	if filter.Status != "" && !orders.ValidStatus(filter.Status) {
		badRequest(c, "unknown status")
		return
	}
	if !p.IsStaff() {
		filter.UserID = p.ID
	}
	list, err := h.orders.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetOrder returns one order.
func (h *Handler) GetOrder(c *gin.Context) {
	o, _, ok := h.visibleOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, o)
}

// UpdateOrderItems lets the owner change items before washing starts.
func (h *Handler) UpdateOrderItems(c *gin.Context) {
	var req itemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "items are required")
		return
	}
	o, p, ok := h.visibleOrder(c)
	if !ok {
		return
	}
	if o.UserID != p.ID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "only the owner can edit an order", "code": "forbidden"})
		return
	}
	updated, err := h.orders.UpdateItems(c.Request.Context(), o.ID, req.Items)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteOrder removes an order.
func (h *Handler) DeleteOrder(c *gin.Context) {
	found, err := h.orders.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !found {
		respondError(c, store.ErrNotFound)
		return
	}
	h.invalidateBoard()
	c.Status(http.StatusNoContent)
}

// AdvanceOrder moves an order to its next status. An optional target must
// name exactly that status.
func (h *Handler) AdvanceOrder(c *gin.Context) {
	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request")
		return
	}
	p, _ := auth.PrincipalFrom(c)
	status, err := h.orders.Transition(c.Request.Context(), orders.Transition{
		OrderID: c.Param("id"),
		Target:  req.Target,
		Note:    req.Note,
		ActorID: p.ID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.invalidateBoard()
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": status})
}

// OrderHistory returns the order's tracking records, oldest first.
func (h *Handler) OrderHistory(c *gin.Context) {
	o, _, ok := h.visibleOrder(c)
	if !ok {
		return
	}
	history, err := h.orders.History(c.Request.Context(), o.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// Board returns how many orders are in each status.
func (h *Handler) Board(c *gin.Context) {
	counts, err := h.orders.Board(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts, "statuses": orders.Statuses()})
}

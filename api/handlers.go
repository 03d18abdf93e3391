// Package api exposes the work order workflows over HTTP.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wsu/workorderpro/internal/apperr"
	"github.com/wsu/workorderpro/internal/model"
	"github.com/wsu/workorderpro/services/workorder"
)

const (
	msgRetrieved = "Work Order retrieved successfully."
	msgAdded     = "WorkOrder added successfully."
	msgUpdated   = "WorkOrder updated successfully."

	msgInvalidNumber = "Invalid WorkOrder number"
	msgInvalidBody   = "Invalid request body."
)

type handler struct {
	svc workorder.Service
}

// RegisterRoutes wires the work order endpoints under /workOrders.
func RegisterRoutes(r gin.IRouter, svc workorder.Service) {
	h := &handler{svc: svc}
	g := r.Group("/workOrders")
	g.GET("/:workOrderNumber", h.get)
	g.POST("", h.add)
	g.POST("/", h.add)
	g.PUT("/:workOrderNumber", h.update)
}

func (h *handler) get(c *gin.Context) {
	number, err := pathNumber(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	wo, err := h.svc.Get(c.Request.Context(), number)
	if err != nil {
		RespondError(c, err)
		return
	}
	respond(c, http.StatusOK, msgRetrieved, wo)
}

func (h *handler) add(c *gin.Context) {
	var wo model.WorkOrder
	if err := c.ShouldBindJSON(&wo); err != nil {
		RespondError(c, &apperr.Error{Kind: apperr.KindInvalidRequest, Message: msgInvalidBody, Err: err})
		return
	}
	saved, err := h.svc.Add(c.Request.Context(), wo)
	if err != nil {
		RespondError(c, err)
		return
	}
	respond(c, http.StatusCreated, msgAdded, saved)
}

// update replaces the stored work order with the request body. Fields the
// body omits are cleared, and an absent lineItems keeps the stored items
// while an empty list removes them all.
func (h *handler) update(c *gin.Context) {
	number, err := pathNumber(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	var wo model.WorkOrder
	if err := c.ShouldBindJSON(&wo); err != nil {
		RespondError(c, &apperr.Error{Kind: apperr.KindInvalidRequest, Message: msgInvalidBody, Err: err})
		return
	}
	saved, err := h.svc.Update(c.Request.Context(), number, wo)
	if err != nil {
		RespondError(c, err)
		return
	}
	respond(c, http.StatusOK, msgUpdated, saved)
}

func pathNumber(c *gin.Context) (int64, error) {
	n, err := strconv.ParseInt(c.Param("workOrderNumber"), 10, 64)
	if err != nil {
		return 0, &apperr.Error{Kind: apperr.KindInvalidRequest, Message: msgInvalidNumber, Err: err}
	}
	return n, nil
}

package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ashendes/petadoption-payments/internal/intake"
	"github.com/ashendes/petadoption-payments/internal/ledger"
	"github.com/ashendes/petadoption-payments/internal/metrics"
	"github.com/ashendes/petadoption-payments/internal/models"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// ServiceName labels request metrics
const ServiceName = "payment-service"

const invalidBodyMessage = "Request body must be a JSON donation request"

// Handler serves the donation endpoints
type Handler struct {
	service *Service
}

// NewHandler creates a handler for service
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// NewRouter creates a gin engine with recovery, CORS and metrics middleware
// and the donation routes registered
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), Recovery(), CORS())
	router.Use(metrics.PrometheusMiddleware(ServiceName))
	h.Register(router)
	return router
}

// Register adds the donation routes
func (h *Handler) Register(r gin.IRoutes) {
	r.OPTIONS("/process-payment", preflight)
	r.POST("/process-payment", h.processPayment)
	r.GET("/transactions/:transactionId", h.getTransaction)
}

// CORS opens the endpoints to browser callers on any origin
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type, idempotency-key")
		header.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Next()
	}
}

// Recovery turns a panic into the generic fault response
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.WithFields(log.Fields{
			"path":  c.FullPath(),
			"panic": recovered,
		}).Error("Recovered from panic while handling request")
		c.AbortWithStatusJSON(http.StatusInternalServerError, Fault(time.Now()))
	})
}

func preflight(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h *Handler) processPayment(c *gin.Context) {
	var raw models.RawPaymentRequest
	if err := c.ShouldBindJSON(&raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			if reason, ok := intake.FieldReason(typeErr.Field); ok {
				result := h.service.Reject(raw, reason)
				c.JSON(result.Status, result.Body)
				return
			}
		}
		log.WithField("error", err.Error()).Info("Malformed donation request body")
		c.JSON(http.StatusBadRequest, models.ValidationFailureResponse{
			Success: false,
			Status:  models.TransactionStatusFailed,
			Message: invalidBodyMessage,
		})
		return
	}
	if raw.IdempotencyKey == "" {
		raw.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	result := h.service.Process(c.Request.Context(), raw)
	c.JSON(result.Status, result.Body)
}

func (h *Handler) getTransaction(c *gin.Context) {
	id := c.Param("transactionId")
	txn, err := h.service.Lookup(c.Request.Context(), id)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": "Transaction not found",
		})
	case err != nil:
		log.WithFields(log.Fields{
			"transaction_id": id,
			"error":          err.Error(),
		}).Error("Failed to read transaction")
		c.JSON(http.StatusInternalServerError, Fault(time.Now()))
	default:
		c.JSON(http.StatusOK, txn)
	}
}

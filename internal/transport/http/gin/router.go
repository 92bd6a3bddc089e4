package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/yuta-hayashi/eventcap/internal/domain"
	postgresrepo "github.com/yuta-hayashi/eventcap/internal/repository/postgres"
	redisrepo "github.com/yuta-hayashi/eventcap/internal/repository/redis"
	"github.com/yuta-hayashi/eventcap/internal/service"
	"github.com/yuta-hayashi/eventcap/internal/service/admin"
	"github.com/yuta-hayashi/eventcap/internal/service/credits"
	"github.com/yuta-hayashi/eventcap/internal/service/query"
	"github.com/yuta-hayashi/eventcap/internal/service/refund"
	"github.com/yuta-hayashi/eventcap/internal/service/registration"
	"github.com/yuta-hayashi/eventcap/internal/service/reservation"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/events/:id", handleGetEvent(svcs))
	r.GET("/events/:id/availability", handleGetAvailability(svcs))
	r.GET("/events/:id/tiers", handleListTiers(svcs))

	r.POST("/events/:id/reservations", handleCreateReservation(svcs, idem))
	r.GET("/reservations/:id", handleGetReservation(svcs))
	r.DELETE("/reservations/:id", handleCancelReservation(svcs))

	r.POST("/registrations/convert", handleConvertReservation(svcs))
	r.POST("/events/:id/registrations", handleDirectRegistration(svcs))
	r.GET("/registrations/:id", handleGetRegistration(svcs))
	r.GET("/users/:id/registrations", handleListUserRegistrations(svcs))

	r.GET("/users/:id/credits", handleCreditBalance(svcs))
	r.GET("/users/:id/credits/history", handleCreditHistory(svcs))

	r.POST("/events/:id/cancellation", handleRequestCancellation(svcs))

	// Admin-API
	// TODO: add admin middleware
	adm := r.Group("/admin")
	{
		adm.POST("/events", handleCreateEvent(svcs))
		adm.POST("/events/:id/tiers", handleCreateTier(svcs))
		adm.POST("/events/:id/sub-events", handleCreateSubEvent(svcs))

		adm.GET("/refund-requests", handleListRefundRequests(svcs))
		adm.GET("/refund-requests/:id", handleGetRefundRequest(svcs))
		adm.POST("/refund-requests/:id/process", handleProcessRefundRequest(svcs))

		adm.POST("/refunds/reconcile", handleReconcileRefund(svcs))
		adm.GET("/refunds/unregistered", handleListUnregisteredRefunds(svcs))

		adm.POST("/users/:id/credits", handleGrantCredit(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Get event
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.Event
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		e, err := svcs.Query.GetEvent(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 60s
		writeJSONWithCache(c, http.StatusOK, e, "public, max-age=60", true)
	}
}

// @Summary  Get availability counters
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.EventAvailability
// @Router   /events/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		avail, err := svcs.Query.Availability(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 5s, counters go stale fast
		writeJSONWithCache(c, http.StatusOK, avail, "public, max-age=5", true)
	}
}

// @Summary  List ticket tiers
// @Param    id  path  int  true  "Event ID"
// @Success  200  {array}  domain.TicketTier
// @Router   /events/{id}/tiers [get]
func handleListTiers(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		tiers, err := svcs.Query.ListTiers(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, tiers, "public, max-age=60", true)
	}
}

// @Summary  Create reservation (idempotent)
// @Param    id  path  int  true  "Event ID"
// @Param    req body  CreateReservationRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} CreateReservationResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "sold out / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /events/{id}/reservations [post]
func handleCreateReservation(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req CreateReservationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemReserve(eventID, idemKey)

			if payload, ok, _ := idem.GetResult(
				c.Request.Context(),
				idemStorageKey,
			); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(
					http.StatusCreated,
					"application/json; charset=utf-8",
					[]byte(payload),
				)
				return
			}

			locked, err := idem.AcquireLock(
				c.Request.Context(),
				idemStorageKey,
				60*time.Second,
			)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(
					c.Request.Context(),
					idemStorageKey,
				); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(
						http.StatusCreated,
						"application/json; charset=utf-8",
						[]byte(payload),
					)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(
					http.StatusConflict,
					ErrorResponse{Error: "idempotency key in progress"},
				)
				return
			}
		}

		rsv, err := svcs.Reservation.Reserve(c.Request.Context(), reservation.ReserveInput{
			EventID:           eventID,
			TierID:            req.TierID,
			UserID:            req.UserID,
			SubEventIDs:       req.SubEventIDs,
			CreditsToUseCents: req.CreditsToUseCents,
			PaymentEmail:      req.PaymentEmail,
			TTL:               time.Duration(req.TTLSec) * time.Second,
			RateKey:           "ip:" + c.ClientIP(),
		})
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := CreateReservationResponse{
			ReservationID: rsv.ID.String(),
			EventID:       rsv.EventID,
			FinalPrice:    rsv.FinalPriceCents,
			CreditsUsed:   rsv.CreditsUsedCents,
			ExpiresAt:     rsv.ExpiresAt,
		}

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Get reservation
// @Param    id       path   string  true  "Reservation ID (uuid)"
// @Param    user_id  query  int     true  "Requesting user"
// @Success  200 {object} domain.Reservation
// @Router   /reservations/{id} [get]
func handleGetReservation(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		userID, ok := parseInt64Query(c, "user_id")
		if !ok {
			return
		}
		rsv, err := svcs.Reservation.Get(c.Request.Context(), id, userID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, rsv)
	}
}

// @Summary  Cancel reservation
// @Param    id       path   string  true  "Reservation ID (uuid)"
// @Param    user_id  query  int     true  "Requesting user"
// @Success  204
// @Failure  403 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse
// @Router   /reservations/{id} [delete]
func handleCancelReservation(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		userID, ok := parseInt64Query(c, "user_id")
		if !ok {
			return
		}
		if err := svcs.Reservation.Cancel(c.Request.Context(), id, userID); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Convert reservation into registration
// @Param    req body  ConvertReservationRequest true "payload"
// @Success  201 {object} domain.Registration
// @Failure  409 {object} ErrorResponse "expired / already finalized"
// @Router   /registrations/convert [post]
func handleConvertReservation(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConvertReservationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		rid, err := uuid.Parse(req.ReservationID)
		if err != nil {
			badRequest(c, "invalid reservation_id")
			return
		}
		reg, err := svcs.Registration.Convert(
			c.Request.Context(),
			rid,
			req.PaymentID,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, reg)
	}
}

// @Summary  Register without a reservation
// @Param    id  path  int  true  "Event ID"
// @Param    req body  DirectRegistrationRequest true "payload"
// @Success  201 {object} domain.Registration
// @Failure  409 {object} ErrorResponse "sold out / already registered"
// @Router   /events/{id}/registrations [post]
func handleDirectRegistration(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req DirectRegistrationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		reg, err := svcs.Registration.RegisterDirect(c.Request.Context(), registration.DirectInput{
			EventID:           eventID,
			TierID:            req.TierID,
			UserID:            req.UserID,
			SubEventIDs:       req.SubEventIDs,
			CreditsToUseCents: req.CreditsToUseCents,
			PaymentID:         req.PaymentID,
			PaymentEmail:      req.PaymentEmail,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, reg)
	}
}

// @Summary  Get registration
// @Param    id       path   int  true  "Registration ID"
// @Param    user_id  query  int  true  "Requesting user"
// @Success  200 {object} domain.Registration
// @Router   /registrations/{id} [get]
func handleGetRegistration(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		userID, ok := parseInt64Query(c, "user_id")
		if !ok {
			return
		}
		reg, err := svcs.Registration.Get(c.Request.Context(), id, userID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, reg)
	}
}

// @Summary  List registrations for a user
// @Param    id  path  int  true  "User ID"
// @Success  200 {array} domain.Registration
// @Router   /users/{id}/registrations [get]
func handleListUserRegistrations(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		regs, err := svcs.Registration.ListByUser(c.Request.Context(), userID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, regs)
	}
}

// @Summary  Get credit balance
// @Param    id  path  int  true  "User ID"
// @Success  200 {object} CreditBalanceResponse
// @Router   /users/{id}/credits [get]
func handleCreditBalance(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		balance, err := svcs.Credits.Balance(c.Request.Context(), userID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, CreditBalanceResponse{
			UserID:       userID,
			BalanceCents: balance,
		})
	}
}

// @Summary  Credit transaction history
// @Param    id  path  int  true  "User ID"
// @Success  200 {array} domain.CreditTransaction
// @Router   /users/{id}/credits/history [get]
func handleCreditHistory(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		history, err := svcs.Credits.History(c.Request.Context(), userID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, history)
	}
}

// @Summary  Request cancellation and refund
// @Param    id  path  int  true  "Event ID"
// @Param    req body  CancellationRequest true "payload"
// @Success  201 {object} domain.RefundRequest
// @Failure  400 {object} ErrorResponse "window closed"
// @Failure  409 {object} ErrorResponse "duplicate request"
// @Router   /events/{id}/cancellation [post]
func handleRequestCancellation(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req CancellationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		rr, err := svcs.Refund.RequestCancellation(c.Request.Context(), refund.CancellationInput{
			EventID: eventID,
			UserID:  req.UserID,
			Email:   req.Email,
			Reason:  req.Reason,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, rr)
	}
}

// @Summary  Create event
// @Param    req body  CreateEventRequest true "payload"
// @Success  201 {object} CreateEventResponse
// @Router   /admin/events [post]
func handleCreateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		date, err := parseRFC3339(req.Date)
		if err != nil {
			badRequest(c, "invalid date (RFC3339)")
			return
		}
		var deadline *time.Time
		if req.RefundDeadline != "" {
			d, err := parseRFC3339(req.RefundDeadline)
			if err != nil {
				badRequest(c, "invalid refund_deadline (RFC3339)")
				return
			}
			deadline = &d
		}
		id, err := svcs.Admin.CreateEvent(c.Request.Context(), postgresrepo.CreateEventParams{
			Name:           req.Name,
			Date:           date,
			Capacity:       req.Capacity,
			RefundDeadline: deadline,
			TieredPricing:  req.TieredPricing,
			FeeCents:       req.FeeCents,
			Currency:       req.Currency,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateEventResponse{EventID: id})
	}
}

// @Summary  Create ticket tier
// @Param    id  path  int  true  "Event ID"
// @Param    req body  CreateTierRequest true "payload"
// @Success  201 {object} CreateTierResponse
// @Router   /admin/events/{id}/tiers [post]
func handleCreateTier(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req CreateTierRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		id, err := svcs.Admin.CreateTier(c.Request.Context(), postgresrepo.CreateTierParams{
			EventID:      eventID,
			Name:         req.Name,
			PriceCents:   req.PriceCents,
			Capacity:     req.Capacity,
			DisplayOrder: req.DisplayOrder,
			SubEventIDs:  req.SubEventIDs,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateTierResponse{TierID: id})
	}
}

// @Summary  Create sub-event
// @Param    id  path  int  true  "Event ID"
// @Param    req body  CreateSubEventRequest true "payload"
// @Success  201 {object} CreateSubEventResponse
// @Router   /admin/events/{id}/sub-events [post]
func handleCreateSubEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req CreateSubEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		id, err := svcs.Admin.CreateSubEvent(
			c.Request.Context(),
			eventID,
			req.Name,
			req.PriceCents,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateSubEventResponse{SubEventID: id})
	}
}

// @Summary  List refund requests
// @Param    status  query  string  false  "pending / approved / rejected"
// @Success  200 {array} domain.RefundRequest
// @Router   /admin/refund-requests [get]
func handleListRefundRequests(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var status *domain.RefundStatus
		if s := c.Query("status"); s != "" {
			switch st := domain.RefundStatus(s); st {
			case domain.RefundPending, domain.RefundApproved, domain.RefundRejected:
				status = &st
			default:
				badRequest(c, "invalid status")
				return
			}
		}
		reqs, err := svcs.Refund.ListRequests(c.Request.Context(), status)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, reqs)
	}
}

// @Summary  Get refund request
// @Param    id  path  int  true  "Request ID"
// @Success  200 {object} domain.RefundRequest
// @Router   /admin/refund-requests/{id} [get]
func handleGetRefundRequest(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		rr, err := svcs.Refund.GetRequest(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, rr)
	}
}

// @Summary  Approve or reject a refund request
// @Param    id  path  int  true  "Request ID"
// @Param    req body  ProcessRefundRequest true "payload"
// @Success  200 {object} domain.RefundRequest
// @Failure  409 {object} ErrorResponse "already processed"
// @Failure  502 {object} ErrorResponse "gateway failure"
// @Router   /admin/refund-requests/{id}/process [post]
func handleProcessRefundRequest(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req ProcessRefundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		rr, err := svcs.Refund.Process(c.Request.Context(), refund.ProcessInput{
			RequestID: id,
			Approve:   req.Approve,
			AdminID:   req.AdminID,
			Notes:     req.Notes,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, rr)
	}
}

// @Summary  Refund a payment with no matching registration
// @Param    req body  ReconcileRefundRequest true "payload"
// @Success  200 {object} domain.UnregisteredRefund
// @Failure  409 {object} ErrorResponse "payment has a registration"
// @Router   /admin/refunds/reconcile [post]
func handleReconcileRefund(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReconcileRefundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		rec, err := svcs.Refund.ReconcileUnregistered(
			c.Request.Context(),
			req.PaymentID,
			req.Reason,
			req.ProcessedBy,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// @Summary  List unregistered refunds
// @Success  200 {array} domain.UnregisteredRefund
// @Router   /admin/refunds/unregistered [get]
func handleListUnregisteredRefunds(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := svcs.Refund.ListUnregistered(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, recs)
	}
}

// @Summary  Grant credit
// @Param    id  path  int  true  "User ID"
// @Param    req body  GrantCreditRequest true "payload"
// @Success  201 {object} domain.CreditTransaction
// @Router   /admin/users/{id}/credits [post]
func handleGrantCredit(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req GrantCreditRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		tx, err := svcs.Credits.Grant(
			c.Request.Context(),
			userID,
			req.AmountCents,
			req.Description,
			req.EventID,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, tx)
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseInt64Query(c *gin.Context, name string) (int64, bool) {
	s := c.Query(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var rl reservation.RateLimitedError
	if errors.As(err, &rl) {
		secs := int(rl.RetryAfter/time.Second) + 1
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
		return
	}

	var ge refund.GatewayError
	if errors.As(err, &ge) {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "payment gateway failure"})
		return
	}

	switch {
	// admin service
	case errors.Is(err, admin.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, admin.ErrEventConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event conflict"})
		return
	// query service
	case errors.Is(err, query.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	// reservation service
	case errors.Is(err, reservation.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, reservation.ErrTierNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket tier not found"})
		return
	case errors.Is(err, reservation.ErrReservationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "reservation not found"})
		return
	case errors.Is(err, reservation.ErrSoldOut):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "no capacity left"})
		return
	case errors.Is(err, reservation.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
		return
	case errors.Is(err, reservation.ErrAlreadyFinalized):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "reservation already finalized"})
		return
	case errors.Is(err, reservation.ErrInsufficientCredit):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "insufficient credit"})
		return
	case errors.Is(err, reservation.ErrInvalidUser):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	// registration service
	case errors.Is(err, registration.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, registration.ErrTierNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket tier not found"})
		return
	case errors.Is(err, registration.ErrReservationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "reservation not found"})
		return
	case errors.Is(err, registration.ErrReservationExpired):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "reservation expired"})
		return
	case errors.Is(err, registration.ErrAlreadyFinalized):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "reservation already finalized"})
		return
	case errors.Is(err, registration.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "already registered"})
		return
	case errors.Is(err, registration.ErrSoldOut):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "no capacity left"})
		return
	case errors.Is(err, registration.ErrInsufficientCredit):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "insufficient credit"})
		return
	case errors.Is(err, registration.ErrInvalidUser):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	case errors.Is(err, registration.ErrRegistrationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "registration not found"})
		return
	// refund service
	case errors.Is(err, refund.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, refund.ErrRegistrationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "registration not found"})
		return
	case errors.Is(err, refund.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "refund request not found"})
		return
	case errors.Is(err, refund.ErrWindowClosed):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cancellation window has closed"})
		return
	case errors.Is(err, refund.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "refund request already exists"})
		return
	case errors.Is(err, refund.ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "refund request already processed"})
		return
	case errors.Is(err, refund.ErrNoPayment):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no payment attached"})
		return
	case errors.Is(err, refund.ErrPaymentRegistered):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "payment belongs to a registration"})
		return
	case errors.Is(err, refund.ErrGatewayPaymentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "payment not found at the gateway"})
		return
	case errors.Is(err, refund.ErrInvalidUser):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	// credits service
	case errors.Is(err, credits.ErrInsufficientCredit):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "insufficient credit"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/middleware"
	"matrimony_chat/internal/service"
	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

type ProfileHandler struct {
	syncService service.ProfileSyncService
	log         logger.Logger
}

func NewProfileHandler(syncService service.ProfileSyncService, log logger.Logger) *ProfileHandler {
	return &ProfileHandler{
		syncService: syncService,
		log:         log,
	}
}

type PaymentPrefillRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SetPaymentPrefill принимает данные покупателя после успешной оплаты
func (h *ProfileHandler) SetPaymentPrefill(c *gin.Context) {
	var req PaymentPrefillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewValidationError("Invalid request body."))
		return
	}

	participantID := middleware.ParticipantID(c)
	prefill := domain.PaymentPrefill{Name: req.Name, Email: req.Email}
	if err := h.syncService.SetPending(c.Request.Context(), participantID, prefill); err != nil {
		_ = c.Error(err)
		return
	}

	h.log.Info("Payment prefill stored", "participant_id", participantID)
	c.JSON(http.StatusAccepted, gin.H{"message": "Profile sync pending"})
}

// Sync применяет отложенную синхронизацию, если пользователь уже вошел
func (h *ProfileHandler) Sync(c *gin.Context) {
	result, err := h.syncService.Apply(c.Request.Context(), middleware.ParticipantID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

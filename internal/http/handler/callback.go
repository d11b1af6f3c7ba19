package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"docedit/internal/callback"
	"docedit/internal/service"
)

// callbackResponse is the acknowledgement the document server expects.
// Error 0 means accepted.
type callbackResponse struct {
	Error   int    `json:"error"`
	Message string `json:"message,omitempty"`
}

func callbackError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(callbackResponse{Error: 1, Message: message})
}

// Callback receives document server notifications.
//
// @Summary Document server callback
// @Tags editor
// @Accept json
// @Produce json
// @Param payload body callback.Payload true "callback payload"
// @Success 200 {object} callbackResponse
// @Failure 400 {object} callbackResponse
// @Failure 404 {object} callbackResponse
// @Failure 409 {object} callbackResponse
// @Failure 500 {object} callbackResponse
// @Router /api/callback [post]
func Callback(svc service.CallbackService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := callback.Decode(c.Body())
		if err != nil {
			return callbackError(c, fiber.StatusBadRequest, "invalid callback payload")
		}

		if _, err := svc.Handle(c.UserContext(), p); err != nil {
			switch {
			case errors.Is(err, callback.ErrInvalidPayload):
				return callbackError(c, fiber.StatusBadRequest, service.FailureReason(err))
			case errors.Is(err, service.ErrNotFound):
				return callbackError(c, fiber.StatusNotFound, service.FailureReason(err))
			case errors.Is(err, service.ErrConflict):
				return callbackError(c, fiber.StatusConflict, service.FailureReason(err))
			default:
				return callbackError(c, fiber.StatusInternalServerError, service.FailureReason(err))
			}
		}
		return c.JSON(callbackResponse{Error: 0})
	}
}

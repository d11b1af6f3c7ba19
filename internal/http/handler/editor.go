package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"docedit/internal/service"
)

// EditorConfig builds the configuration the browser passes to the editor.
//
// @Summary Editor configuration
// @Tags editor
// @Produce json
// @Param id path string true "document id"
// @Param mode query string false "edit or view" Enums(edit, view)
// @Success 200 {object} service.EditorConfig
// @Failure 400 {object} errorPayload
// @Failure 401 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Router /api/config/{id} [get]
func EditorConfig(svc service.EditorService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		cfg, err := svc.BuildConfig(c.UserContext(), id, currentUser(c), c.Query("mode", service.ModeEdit))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(cfg)
	}
}

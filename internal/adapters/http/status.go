package http

import (
	"github.com/gofiber/fiber/v2"
)

// StatusHandler lists the latest run of every stage this process executed.
func StatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"stages": deps.Status.All(),
		})
	}
}

// StageStatusHandler returns the latest run of one stage.
func StageStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stage := c.Params("stage")
		st, ok := deps.Status.Get(stage)
		if !ok {
			return errNotFound(c, "no run recorded for stage "+stage)
		}
		return c.JSON(st)
	}
}

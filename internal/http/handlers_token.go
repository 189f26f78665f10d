package http

import (
	"github.com/gofiber/fiber/v2"

	"tokenmill/internal/scheduler"
	"tokenmill/internal/store"
)

// generateTokenHandler accepts a token acquisition request, creates a
// job for it, and returns the job ID immediately. The handshake runs in
// the background; callers poll /api/job/:id for the outcome.
func generateTokenHandler(c *fiber.Ctx) error {
	sched := c.Locals("scheduler").(*scheduler.Scheduler)

	var reqBody GenerateTokenRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "bad request, malformed JSON",
		})
	}

	jobID, err := sched.Submit(reqBody.Email)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "email is required",
		})
	}

	if loggerVal := c.Locals("logger"); loggerVal != nil {
		if lg, ok := loggerVal.(interface{ Info(msg string, args ...any) }); ok {
			lg.Info("job_submitted", "job_id", jobID, "email", reqBody.Email)
		}
	}

	return c.Status(fiber.StatusOK).JSON(GenerateTokenResponse{JobID: jobID})
}

// jobStatusHandler returns the current state of a job by ID.
func jobStatusHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	job, ok := st.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error: "job not found",
		})
	}

	return c.Status(fiber.StatusOK).JSON(JobResponse{
		ID:      job.ID,
		Status:  string(job.Status),
		Message: job.Message,
		Token:   job.Token,
	})
}

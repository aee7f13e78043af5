// Package web provides the REST endpoints behind the workflow editor.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/funcscan/flowdesk/pkg/events"
	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	functional *services.Functional
	execution  *services.Execution
	notifier   *services.Notifier
	scheduler  *services.Scheduler
	validator  *validator.Validate
}

func NewAPIHandlers(
	functional *services.Functional,
	execution *services.Execution,
	notifier *services.Notifier,
	scheduler *services.Scheduler,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		functional: functional,
		execution:  execution,
		notifier:   notifier,
		scheduler:  scheduler,
		validator:  validator,
	}
}

// Mount registers every route on app.
func (h *APIHandlers) Mount(app fiber.Router) {
	app.Get("/health", h.HealthCheck)

	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Get("/:id/test-cases", h.GetTestCasesByWorkflow)
	w.Post("/:id/execute", h.ExecuteWorkflow)
	w.Get("/:id/status", h.GetStatus)
	w.Get("/:id/execution-status", h.GetExecutionStatus)
	w.Post("/:id/schedule", h.ScheduleWorkflow)
	w.Delete("/:id/schedule", h.UnscheduleWorkflow)

	app.Get("/schedules", h.GetSchedules)

	tc := app.Group("/test-cases")
	tc.Post("/", h.CreateTestCase)
	tc.Put("/:id", h.UpdateTestCase)
	tc.Delete("/:id", h.DeleteTestCase)
	tc.Get("/:id/step-tests", h.GetStepTestsByTestCase)

	st := app.Group("/step-tests")
	st.Post("/", h.CreateStepTest)
	st.Put("/:id", h.UpdateStepTest)
	st.Delete("/:id", h.DeleteStepTest)

	n := app.Group("/notifications")
	n.Post("/", h.CreateNotification)
	n.Patch("/:id/read", h.MarkNotificationRead)
	n.Get("/user/:id", h.GetNotifications)
	n.Patch("/user/:id/mark-all-read", h.MarkAllNotificationsRead)
	n.Get("/user/:id/unread-count", h.GetUnreadCount)
}

func paramID(c fiber.Ctx, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}

// bind decodes and validates the JSON body into req, writing the 400 response itself.
func (h *APIHandlers) bind(c fiber.Ctx, req any) (bool, error) {
	if err := c.Bind().JSON(req); err != nil {
		return false, badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return false, badRequest(c, err.Error())
	}

	return true, nil
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.functional.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Flowdesk API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Flowdesk API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.functional.ListWorkflows(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflows)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Workflow ID must be a positive integer")
	}

	workflow, err := h.functional.GetWorkflow(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	created, err := h.functional.CreateWorkflow(c.Context(), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateWorkflow replaces title and description. The graph snapshot is only
// replaced when the body carries one.
func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Workflow ID must be a positive integer")
	}

	var req WorkflowRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	updated, err := h.functional.UpdateWorkflow(c.Context(), id, req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Workflow ID must be a positive integer")
	}

	if err := h.functional.DeleteWorkflow(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	if h.scheduler != nil {
		h.scheduler.Unschedule(id)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetTestCasesByWorkflow(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Workflow ID must be a positive integer")
	}

	testCases, err := h.functional.TestCasesByWorkflow(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(testCases)
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Workflow ID must be a positive integer")
	}

	var req ExecuteRequest
	if len(c.Body()) > 0 {
		if ok, err := h.bind(c, &req); !ok {
			return err
		}
	}

	ack, err := h.execution.Execute(c.Context(), id, req.UserID, events.TriggerManual)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ack)
}

func (h *APIHandlers) GetStatus(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Workflow ID must be a positive integer")
	}

	summary, err := h.functional.Status(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(summary)
}

func (h *APIHandlers) GetExecutionStatus(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Workflow ID must be a positive integer")
	}

	detail, err := h.functional.ExecutionStatus(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(detail)
}

func (h *APIHandlers) ScheduleWorkflow(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Workflow ID must be a positive integer")
	}

	var req ScheduleRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	if _, err := h.functional.GetWorkflow(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	schedule, err := models.NewSchedule(id, req.UserID, req.CronExpression)
	if err != nil {
		return handleServiceError(c, err)
	}

	schedule, err = h.scheduler.Schedule(schedule)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(schedule)
}

func (h *APIHandlers) UnscheduleWorkflow(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Workflow ID must be a positive integer")
	}

	if !h.scheduler.Unschedule(id) {
		return notFound(c, "schedule_not_found", "workflow has no schedule")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetSchedules(c fiber.Ctx) error {
	return c.JSON(h.scheduler.Schedules())
}

func (h *APIHandlers) CreateTestCase(c fiber.Ctx) error {
	var req TestCaseRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	if req.WorkflowID == 0 {
		return badRequest(c, "workflow_id is required")
	}

	created, err := h.functional.CreateTestCase(c.Context(), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateTestCase(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Test case ID must be a positive integer")
	}

	var req TestCaseRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	updated, err := h.functional.UpdateTestCase(c.Context(), id, req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteTestCase(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Test case ID must be a positive integer")
	}

	if err := h.functional.DeleteTestCase(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetStepTestsByTestCase(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Test case ID must be a positive integer")
	}

	steps, err := h.functional.StepTestsByTestCase(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(steps)
}

func (h *APIHandlers) CreateStepTest(c fiber.Ctx) error {
	var req StepTestRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	if req.TestCaseID == 0 {
		return badRequest(c, "test_case_id is required")
	}

	created, err := h.functional.CreateStepTest(c.Context(), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateStepTest(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Step test ID must be a positive integer")
	}

	var req StepTestRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	updated, err := h.functional.UpdateStepTest(c.Context(), id, req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteStepTest(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Step test ID must be a positive integer")
	}

	if err := h.functional.DeleteStepTest(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateNotification(c fiber.Ctx) error {
	var req NotificationRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	created, err := h.notifier.Notify(c.Context(), &models.Notification{
		Message: req.Message,
		Type:    req.Type,
		UserID:  req.UserID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetNotifications(c fiber.Ctx) error {
	userID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "User ID must be a positive integer")
	}

	list, err := h.notifier.List(c.Context(), userID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(list)
}

func (h *APIHandlers) MarkNotificationRead(c fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Notification ID must be a positive integer")
	}

	if err := h.notifier.MarkRead(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) MarkAllNotificationsRead(c fiber.Ctx) error {
	userID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "User ID must be a positive integer")
	}

	changed, err := h.notifier.MarkAllRead(c.Context(), userID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(CountResponse{Count: changed})
}

func (h *APIHandlers) GetUnreadCount(c fiber.Ctx) error {
	userID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "User ID must be a positive integer")
	}

	count, err := h.notifier.UnreadCount(c.Context(), userID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(CountResponse{Count: count})
}

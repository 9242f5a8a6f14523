// Package web provides the HTTP API for definitions, runs and events.
package web

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/registry"
	"github.com/dukex/pipewright/pkg/report"
	"github.com/dukex/pipewright/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	definitionService *services.Definition
	runService        *services.Run
	validator         *validator.Validate
	registry          *registry.Registry
}

func NewAPIHandlers(
	definitionService *services.Definition,
	runService *services.Run,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		definitionService: definitionService,
		runService:        runService,
		validator:         validator,
		registry:          registry,
	}
}

// Routes registers every endpoint on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	d := router.Group("/definitions")
	d.Get("/", h.GetDefinitions)
	d.Post("/", h.CreateDefinition)
	d.Post("/validate", h.ValidateDefinition)
	d.Get("/:id", h.GetDefinition)
	d.Put("/:id", h.ReplaceDefinition)
	d.Delete("/:id", h.DeleteDefinition)
	d.Post("/:id/runs", h.TriggerRun)
	d.Get("/:id/runs", h.GetDefinitionRuns)

	r := router.Group("/runs")
	r.Get("/:id", h.GetRun)
	r.Post("/:id/cancel", h.CancelRun)

	router.Post("/events/:kind", h.DispatchEvent)
	router.Get("/actions", h.GetActions)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	definitions, err := h.definitionService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definitions)
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	definition, err := h.definitionService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

// CreateDefinition accepts a YAML or JSON pipeline document as the body.
func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	definition, err := h.definitionService.Create(c.Context(), c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) ValidateDefinition(c fiber.Ctx) error {
	definition, err := h.definitionService.Validate(c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ValidateResponse{
		Valid:    true,
		Name:     definition.Name,
		Triggers: definition.Triggers,
		Jobs:     definition.JobNames(),
	})
}

func (h *APIHandlers) ReplaceDefinition(c fiber.Ctx) error {
	definition, err := h.definitionService.Replace(c.Context(), c.Params("id"), c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) DeleteDefinition(c fiber.Ctx) error {
	err := h.definitionService.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) TriggerRun(c fiber.Ctx) error {
	var req TriggerRunRequest

	if len(bytes.TrimSpace(c.Body())) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	rep, err := h.runService.Trigger(c.Context(), c.Params("id"), req.Data)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(NewRunResponse(rep))
}

func (h *APIHandlers) GetDefinitionRuns(c fiber.Ctx) error {
	var req ListRunsRequest

	if limit := c.Query("limit"); limit != "" {
		value, err := strconv.Atoi(limit)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		req.Limit = value
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	reports, err := h.definitionService.Runs(c.Context(), c.Params("id"), req.Limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(reports)
}

// GetRun returns the run report, provisional while the run is active. With
// format=text the report is rendered for terminals.
func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	rep, err := h.runService.Report(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if c.Query("format") == string(report.FormatText) {
		var buf bytes.Buffer
		if err := report.RenderText(&buf, rep); err != nil {
			return internalError(c, err)
		}

		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)

		return c.Send(buf.Bytes())
	}

	return c.JSON(rep)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	rep, err := h.runService.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(rep)
}

// DispatchEvent is the webhook trigger: it starts a run of every definition
// whose triggers contain the kind in the path. The JSON body, if any, becomes
// the trigger data.
func (h *APIHandlers) DispatchEvent(c fiber.Ctx) error {
	req := EventRequest{Kind: c.Params("kind")}
	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	data := map[string]any{}

	if len(bytes.TrimSpace(c.Body())) > 0 {
		if err := c.Bind().JSON(&data); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	kind := models.TriggerKind(req.Kind)

	reports, err := h.runService.Dispatch(c.Context(), kind, data)
	if err != nil && len(reports) == 0 {
		return handleServiceError(c, err)
	}

	response := DispatchResponse{Trigger: kind, Runs: make([]RunResponse, 0, len(reports))}
	for _, rep := range reports {
		response.Runs = append(response.Runs, NewRunResponse(rep))
	}

	if err != nil {
		response.Errors = []string{err.Error()}
	}

	return c.Status(fiber.StatusAccepted).JSON(response)
}

func (h *APIHandlers) GetActions(c fiber.Ctx) error {
	factories := h.registry.Actions()

	actions := make([]ActionResponse, 0, len(factories))
	for _, factory := range factories {
		actions = append(actions, NewActionResponse(factory))
	}

	return c.JSON(actions)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.definitionService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Pipewright API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Pipewright API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

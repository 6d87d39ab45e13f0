package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
	"github.com/FranciscoCL13/carga-masiva/pkg/policy"
	"github.com/FranciscoCL13/carga-masiva/pkg/stores"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error      string             `json:"error"`
	Message    string             `json:"message"`
	Code       string             `json:"code,omitempty"`
	Violations []policy.Violation `json:"violations,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the body of GET /ready.
type ReadyResponse struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message,omitempty"`
}

// UploadResponse is the body of a processed upload.
type UploadResponse struct {
	*engine.BatchReport
	Warnings []policy.Violation `json:"warnings,omitempty"`
}

// BatchListResponse is the body of GET /api/v1/batches.
type BatchListResponse struct {
	Batches []*stores.Batch `json:"batches"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// EventListResponse is the body of GET /api/v1/events.
type EventListResponse struct {
	Events []*stores.Event `json:"events"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

func (s *Server) readyCheck(c *fiber.Ctx) error {
	if err := s.svc.Ready(c.UserContext()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ReadyResponse{
			Ready:   false,
			Message: err.Error(),
		})
	}
	return c.JSON(ReadyResponse{Ready: true})
}

// upload runs the workbook in the "file" field and answers with its report.
func (s *Server) upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil || fh.Filename == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "missing_file",
			Message: "multipart field \"file\" with a workbook is required",
			Code:    engine.ErrCodeValidation,
		})
	}

	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "unreadable_file",
			Message: err.Error(),
			Code:    engine.ErrCodeBadWorkbook,
		})
	}
	defer func() { _ = f.Close() }()

	result, err := s.svc.Run(c.UserContext(), f, fh.Filename)
	if err != nil {
		return s.runError(c, err)
	}

	return c.JSON(UploadResponse{
		BatchReport: result.Report,
		Warnings:    result.Warnings,
	})
}

// runError maps a classified service error to a response.
func (s *Server) runError(c *fiber.Ctx, err error) error {
	engErr := engine.Classify(err)

	status := fiber.StatusInternalServerError
	switch engErr.Class {
	case engine.ErrorClassInput:
		status = fiber.StatusBadRequest
	case engine.ErrorClassCancelled:
		status = fiber.StatusServiceUnavailable
	}

	resp := ErrorResponse{
		Error:   string(engErr.Class),
		Message: engErr.Message,
		Code:    engErr.Code,
	}
	if v, ok := engErr.Details["violations"].([]policy.Violation); ok {
		resp.Violations = v
	}
	return c.Status(status).JSON(resp)
}

func (s *Server) listBatches(c *fiber.Ctx) error {
	journal := s.svc.Journal()
	if journal == nil {
		return fiber.NewError(fiber.StatusNotFound, "journal is not enabled")
	}

	limit, offset, err := page(c)
	if err != nil {
		return err
	}

	batches, err := journal.ListBatches(c.UserContext(), limit, offset)
	if err != nil {
		return err
	}
	if batches == nil {
		batches = []*stores.Batch{}
	}
	return c.JSON(BatchListResponse{Batches: batches, Limit: limit, Offset: offset})
}

func (s *Server) getBatch(c *fiber.Ctx) error {
	journal := s.svc.Journal()
	if journal == nil {
		return fiber.NewError(fiber.StatusNotFound, "journal is not enabled")
	}

	id := c.Params("id")
	report, err := journal.GetReport(c.UserContext(), id)
	if errors.Is(err, stores.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("batch %s not found", id))
	}
	if err != nil {
		return err
	}
	return c.JSON(report)
}

func (s *Server) listEvents(c *fiber.Ctx) error {
	journal := s.svc.Journal()
	if journal == nil {
		return fiber.NewError(fiber.StatusNotFound, "journal is not enabled")
	}

	limit, offset, err := page(c)
	if err != nil {
		return err
	}

	var batchID *string
	if id := c.Query("batch_id"); id != "" {
		batchID = &id
	}
	var level *stores.EventLevel
	if l := c.Query("level"); l != "" {
		lv := stores.EventLevel(l)
		level = &lv
	}

	events, err := journal.GetEvents(c.UserContext(), batchID, level, limit, offset)
	if err != nil {
		return err
	}
	if events == nil {
		events = []*stores.Event{}
	}
	return c.JSON(EventListResponse{Events: events})
}

// page reads the limit and offset query parameters.
func page(c *fiber.Ctx) (limit, offset int, err error) {
	limit = c.QueryInt("limit", defaultPageSize)
	offset = c.QueryInt("offset", 0)
	if limit <= 0 || limit > maxPageSize || offset < 0 {
		return 0, 0, fiber.NewError(fiber.StatusBadRequest,
			fmt.Sprintf("limit must be in 1..%d and offset non-negative", maxPageSize))
	}
	return limit, offset, nil
}

// errorHandler answers errors returned by handlers.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}

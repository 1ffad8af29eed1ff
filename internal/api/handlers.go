package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"certprint/internal/certify"
	"certprint/internal/task"
)

type documentTypeRequest struct {
	UserType     string `json:"user_type" binding:"required"`
	DocumentType string `json:"document_type" binding:"required"`
}

type documentTypeResponse struct {
	Message  string `json:"message"`
	CertName string `json:"cert_name"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Message string      `json:"message"`
	Status  task.Status `json:"status"`
	TraceID string      `json:"trace_id"`
}

type systemStatusResponse struct {
	SystemInfo certify.SystemInfo `json:"system_info"`
}

type API struct {
	service *certify.Service
}

func NewAPI(service *certify.Service) *API {
	return &API{service: service}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/document_type", a.SetDocumentType)
		api.POST("/corporate_login", a.login(task.CategoryCorporate))
		api.POST("/individual_login", a.login(task.CategoryIndividual))
		api.GET("/print_status", a.PrintStatus)
		api.GET("/clear_data", a.ClearData)
		api.GET("/system_status", a.SystemStatus)
	}
}

// SetDocumentType selects the category and document for the next login
func (a *API) SetDocumentType(c *gin.Context) {
	var req documentTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid document type request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_type and document_type are required"})
		return
	}
	name, err := a.service.SetDocumentType(task.Category(req.UserType), req.DocumentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, documentTypeResponse{
		Message:  fmt.Sprintf("document type set to %s", req.DocumentType),
		CertName: name,
	})
}

// login admits a run for the given category and returns immediately
func (a *API) login(category task.Category) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Warn().Err(err).Str("user_type", string(category)).Msg("invalid login request")
			c.JSON(http.StatusBadRequest, gin.H{"error": certify.ErrMissingCredentials.Error()})
			return
		}
		traceID, err := a.service.SubmitCredentials(category, req.Username, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, loginResponse{
			Message: "login accepted, processing in background",
			Status:  task.StatusProcessing,
			TraceID: traceID,
		})
	}
}

// PrintStatus reports 204 while processing, 410 when idle or expired and
// 200 with the outcome otherwise
func (a *API) PrintStatus(c *gin.Context) {
	info := a.service.GetStatus()
	switch info.Status {
	case task.StatusProcessing:
		c.JSON(http.StatusNoContent, info)
	case task.StatusIdle, task.StatusExpired:
		c.JSON(http.StatusGone, info)
	default:
		c.JSON(http.StatusOK, info)
	}
}

// ClearData purges the working directories and resets the task
func (a *API) ClearData(c *gin.Context) {
	if err := a.service.ClearWorkspace(); err != nil {
		if errors.Is(err, certify.ErrAlreadyProcessing) {
			respondError(c, err)
			return
		}
		log.Error().Err(err).Msg("clear workspace failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "clear data failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "extracted data and task state cleared"})
}

// SystemStatus returns the task status and the current task descriptor
func (a *API) SystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, systemStatusResponse{SystemInfo: a.service.SystemStatus()})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, certify.ErrAlreadyProcessing):
		c.JSON(http.StatusTooManyRequests, gin.H{"message": err.Error()})
	case errors.Is(err, certify.ErrInvalidCategory),
		errors.Is(err, certify.ErrUnknownDocumentType),
		errors.Is(err, certify.ErrDocumentTypeUnset),
		errors.Is(err, certify.ErrMissingCredentials):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wzhao556/docflow/internal/service/extraction"
	"github.com/wzhao556/docflow/pkg/logger"
)

type Handlers struct {
	Job *JobHandler
}

func NewHandlers(service extraction.Service, log logger.Logger) *Handlers {
	return &Handlers{
		Job: NewJobHandler(service, log),
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

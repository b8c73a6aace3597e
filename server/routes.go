package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"worker-walkthrough/service"
)

// addProjectRoutes exposes live progress polling and cancellation of active generations.
func addProjectRoutes(r *gin.Engine, progress *service.ProgressStore, generation service.GenerationService) {
	projects := r.Group("/projects/:id")

	projects.GET("/progress", func(c *gin.Context) {
		id, ok := projectID(c)
		if !ok {
			return
		}
		p, found := progress.Get(id)
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "no generation progress for project"})
			return
		}
		c.JSON(http.StatusOK, p)
	})

	projects.GET("/classification", func(c *gin.Context) {
		id, ok := projectID(c)
		if !ok {
			return
		}
		p, found := progress.Classification(id)
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "no classification progress for project"})
			return
		}
		c.JSON(http.StatusOK, p)
	})

	projects.DELETE("/generation", func(c *gin.Context) {
		id, ok := projectID(c)
		if !ok {
			return
		}
		if !generation.Cancel(id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active generation for project"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
	})
}

func projectID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return uuid.Nil, false
	}
	return id, true
}

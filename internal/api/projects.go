package api

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/domain"
)

func (s *Server) listProjects(c *gin.Context) {
	paths, err := s.persist.ListProjects()
	if err != nil {
		respondErr(c, err)
		return
	}
	projects := make([]*domain.Project, 0, len(paths))
	for _, p := range paths {
		proj, _, err := s.persist.LoadProject(p)
		if err != nil {
			continue
		}
		projects = append(projects, proj)
	}
	c.JSON(http.StatusOK, projects)
}

type createProjectRequest struct {
	Path string `json:"path" binding:"required"`
}

func (s *Server) createProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("path", err.Error()))
		return
	}

	project, sessions, err := s.persist.LoadProject(req.Path)
	if err != nil {
		respondErr(c, err)
		return
	}
	if project.RegisteredAt.IsZero() {
		project.RegisteredAt = time.Now()
	}
	if project.Name == "" {
		project.Name = filepath.Base(req.Path)
	}
	if err := s.persist.SaveProject(project, sessions); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (s *Server) deleteProject(c *gin.Context) {
	path, ok := projectPathParam(c)
	if !ok {
		return
	}
	if err := s.persist.DeleteProject(path); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

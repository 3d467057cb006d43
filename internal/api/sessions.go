package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/orka/internal/common/apperr"
)

func (s *Server) listSessions(c *gin.Context) {
	path, ok := projectPathParam(c)
	if !ok {
		return
	}
	sessions, err := s.sessions.ListForProject(path)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

type createSessionRequest struct {
	Name string `json:"name"`
}

func (s *Server) createSession(c *gin.Context) {
	path, ok := projectPathParam(c)
	if !ok {
		return
	}
	var req createSessionRequest
	_ = c.ShouldBindJSON(&req)

	sess, err := s.sessions.CreateSession(c.Request.Context(), path, req.Name)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) resumeSession(c *gin.Context) {
	path, ok := projectPathParam(c)
	if !ok {
		return
	}
	sess, err := s.sessions.ResumeSession(c.Request.Context(), path, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) detachSession(c *gin.Context) {
	if err := s.sessions.DetachSession(c.Request.Context(), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) closeSession(c *gin.Context) {
	if err := s.sessions.CloseSession(c.Request.Context(), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createForkRequest struct {
	Name           string `json:"name" binding:"required"`
	ParentBranchID string `json:"parentBranchId" binding:"required"`
	Vertical       bool   `json:"vertical"`
}

func (s *Server) createFork(c *gin.Context) {
	var req createForkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("body", err.Error()))
		return
	}
	branch, err := s.sessions.CreateFork(c.Request.Context(), c.Param("id"), req.ParentBranchID, req.Name, req.Vertical)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, branch)
}

func (s *Server) mergeFork(c *gin.Context) {
	if err := s.sessions.MergeFork(c.Request.Context(), c.Param("id"), c.Param("branchId")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type exportForkRequest struct {
	Name string `json:"name"`
}

func (s *Server) exportFork(c *gin.Context) {
	var req exportForkRequest
	_ = c.ShouldBindJSON(&req)

	path, err := s.sessions.ExportFork(c.Request.Context(), c.Param("id"), c.Param("branchId"), req.Name)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (s *Server) closeFork(c *gin.Context) {
	if err := s.sessions.CloseFork(c.Request.Context(), c.Param("id"), c.Param("branchId")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type selectBranchRequest struct {
	BranchID string `json:"branchId" binding:"required"`
}

func (s *Server) selectBranch(c *gin.Context) {
	var req selectBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("branchId", err.Error()))
		return
	}
	if err := s.sessions.SelectBranch(c.Request.Context(), c.Param("id"), req.BranchID); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) activeBranch(c *gin.Context) {
	branchID, err := s.sessions.ActiveBranch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branchId": branchID})
}

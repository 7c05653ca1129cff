package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studiocore/control-plane/pkg/apperr"
	"github.com/studiocore/control-plane/pkg/jobs"
)

func jobsActor(c *gin.Context) jobs.Actor {
	p := currentPrincipal(c)
	return jobs.Actor{UserID: p.UserID, IsAdmin: p.IsAdmin()}
}

func (s *Server) handleSubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.BadRequest("invalid request body: %v", err))
		return
	}

	j, err := s.jobsSvc.Submit(c.Request.Context(), jobs.SubmitInput{
		UserID:           currentPrincipal(c).UserID,
		Kind:             req.Kind,
		Priority:         req.Priority,
		RequiredTags:     req.RequiredTags,
		Params:           req.Params,
		ScheduledStartAt: req.ScheduledStartAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, j)
}

func (s *Server) handleListJobs(c *gin.Context) {
	limit := queryInt(c, "limit", 0)
	offset := queryInt(c, "offset", 0)

	list, err := s.jobsSvc.List(c.Request.Context(), jobsActor(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

func (s *Server) handleGetJob(c *gin.Context) {
	id, err := pathInt64(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	j, err := s.jobsSvc.Get(c.Request.Context(), jobsActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Server) handleJobTransitions(c *gin.Context) {
	id, err := pathInt64(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	list, err := s.jobsSvc.Transitions(c.Request.Context(), jobsActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": list})
}

// transitionOp is the shape shared by Service.Cancel/Pause/Resume.
type transitionOp func(ctx context.Context, actor jobs.Actor, id int64, reason string) (jobs.Job, error)

// handleCancelJob returns 204 on success, unlike pause/resume which
// echo the job's new state back to the caller.
func (s *Server) handleCancelJob(c *gin.Context) {
	id, err := pathInt64(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req transitionReasonRequest
	_ = c.ShouldBindJSON(&req) // body is optional for this endpoint

	if _, err := s.jobsSvc.Cancel(c.Request.Context(), jobsActor(c), id, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePauseJob(c *gin.Context) {
	s.transitionJob(c, s.jobsSvc.Pause)
}

func (s *Server) handleResumeJob(c *gin.Context) {
	s.transitionJob(c, s.jobsSvc.Resume)
}

// transitionJob shares the parse-body/call/respond shape across pause
// and resume, which differ only in which Service method they call.
func (s *Server) transitionJob(c *gin.Context, op transitionOp) {
	id, err := pathInt64(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req transitionReasonRequest
	_ = c.ShouldBindJSON(&req) // body is optional for these endpoints

	j, err := op(c.Request.Context(), jobsActor(c), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Server) handleRetryJob(c *gin.Context) {
	id, err := pathInt64(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	j, err := s.jobsSvc.Retry(c.Request.Context(), jobsActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, j)
}

func (s *Server) handleQueueView(c *gin.Context) {
	view, err := s.jobsSvc.QueueView(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/CamberLoid/TrustlessSwap/internal/events"
	"github.com/CamberLoid/TrustlessSwap/internal/restfulpayload"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Handle GET /v1/transaction/:uuid
func (s *Server) HandlerTransactionGet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		returnFailure(c, s.log, badRequest(fmt.Errorf("uuid parse failed: %w", err)))
		return
	}

	rec, err := s.ledger.Transaction(c.Request.Context(), id)
	if err != nil {
		returnFailure(c, s.log, err)
		return
	}

	c.JSON(http.StatusOK, restfulpayload.TransactionResp{
		Status:      restfulpayload.StatusOK,
		Transaction: rec,
	})
}

// Handle GET /v1/events?user=&kind=&since=&limit=
func (s *Server) HandlerEvents(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		returnFailure(c, s.log, badRequest(err))
		return
	}

	evs, err := s.ledger.Events(c.Request.Context(), f)
	if err != nil {
		returnFailure(c, s.log, err)
		return
	}
	if evs == nil {
		evs = []events.Event{}
	}

	c.JSON(http.StatusOK, restfulpayload.EventsResp{
		Status: restfulpayload.StatusOK,
		Events: evs,
	})
}

func parseFilter(c *gin.Context) (f events.Filter, err error) {
	if s := c.Query("user"); s != "" {
		addr, err := users.ParseAddress(s)
		if err != nil {
			return f, err
		}
		f.User = &addr
	}
	if s := c.Query("kind"); s != "" {
		f.Kind = events.Kind(s)
		if !f.Kind.Valid() {
			return f, fmt.Errorf("unknown event kind %q", s)
		}
	}
	if s := c.Query("since"); s != "" {
		if f.SinceSeq, err = strconv.ParseUint(s, 10, 64); err != nil {
			return f, fmt.Errorf("invalid since: %w", err)
		}
	}

	f.Limit = defaultEventLimit
	if s := c.Query("limit"); s != "" {
		if f.Limit, err = strconv.Atoi(s); err != nil || f.Limit <= 0 {
			return f, fmt.Errorf("invalid limit %q", s)
		}
		if f.Limit > maxEventLimit {
			f.Limit = maxEventLimit
		}
	}
	return f, nil
}

package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gammarips/overnightedge/internal/models"
	"github.com/gammarips/overnightedge/internal/signals"
	"github.com/gammarips/overnightedge/internal/tools"
	"github.com/gin-gonic/gin"
)

// maxBodySize bounds tool call argument bodies.
const maxBodySize = 64 * 1024

var statusByCode = map[string]int{
	signals.CodeInvalidArgument:  http.StatusBadRequest,
	signals.CodeUpgradeRequired:  http.StatusForbidden,
	signals.CodeNotFound:         http.StatusNotFound,
	tools.CodeUnknownTool:        http.StatusNotFound,
	signals.CodeStoreUnavailable: http.StatusServiceUnavailable,
}

func callerFrom(c *gin.Context) signals.Caller {
	return signals.Caller{Tier: models.ParseTier(c.GetHeader(TierHeader))}
}

func (s *Server) respond(c *gin.Context, res tools.Result) {
	status := http.StatusOK
	if res.IsError() {
		status = http.StatusInternalServerError
		if code, ok := statusByCode[res.Code]; ok {
			status = code
		}
	}
	c.JSON(status, res.Body)
}

func (s *Server) call(c *gin.Context, name string, args map[string]any) {
	s.respond(c, s.dispatcher.Call(c.Request.Context(), callerFrom(c), name, args))
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	var stores any = []any{}
	if s.health != nil {
		if !s.health.Healthy() {
			status = "degraded"
		}
		stores = s.health.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "stores": stores})
}

func (s *Server) handleReady(c *gin.Context) {
	if s.health != nil && !s.health.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func (s *Server) handleListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": tools.Definitions()})
}

func (s *Server) handleCallTool(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize+1))
	if err != nil || len(body) > maxBodySize {
		c.JSON(http.StatusBadRequest, &signals.Error{Code: signals.CodeInvalidArgument, Message: "request body too large or unreadable"})
		return
	}

	args := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&args); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, &signals.Error{Code: signals.CodeInvalidArgument, Message: "arguments must be a JSON object"})
			return
		}
	}
	s.call(c, c.Param("name"), args)
}

// queryArgs copies the named query parameters that are present into tool arguments.
func queryArgs(c *gin.Context, keys ...string) map[string]any {
	args := map[string]any{}
	for _, k := range keys {
		if v, ok := c.GetQuery(k); ok {
			args[k] = v
		}
	}
	return args
}

func (s *Server) handleSignals(c *gin.Context) {
	s.call(c, tools.GetOvernightSignals, queryArgs(c, "direction", "min_score", "limit", "date"))
}

func (s *Server) handleSignalDetail(c *gin.Context) {
	args := queryArgs(c, "date")
	args["ticker"] = c.Param("ticker")
	s.call(c, tools.GetSignalDetail, args)
}

func (s *Server) handleMovers(c *gin.Context) {
	s.call(c, tools.GetTopMovers, queryArgs(c, "count"))
}

func (s *Server) handleThemes(c *gin.Context) {
	s.call(c, tools.GetMarketThemes, queryArgs(c, "date"))
}

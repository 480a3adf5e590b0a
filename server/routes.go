package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaymesh/gateway/model"
	"github.com/relaymesh/gateway/relay/format"
)

// RegisterRoutes mounts the §6.1 wire surface on engine.
func (s *Server) RegisterRoutes(engine *gin.Engine) {
	engine.POST("/v1/messages", s.handleClaude)
	engine.POST("/v1/chat/completions", s.handleOpenAI)
	engine.POST("/v1/completions", s.handleOpenAI)
	engine.POST("/v1beta/models/:modelAction", s.handleGemini)
	engine.GET("/v1/models", s.handleModels)
}

func (s *Server) handleClaude(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		writeError(c, format.ClaudeChat, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	dialect, _, derr := format.DetectWithQuery(c.Request.Header, c.Request.URL.Path, c.Request.URL.RawQuery)
	if derr != nil {
		dialect = format.ClaudeChat
	}
	s.dispatch(c, dispatchInput{
		dialect:        dialect,
		globalModel:    modelFromBody(body),
		stream:         isStreamRequested(body, ""),
		body:           body,
		metadataUserID: extractMetadataUserID(body),
	})
}

func (s *Server) handleOpenAI(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		writeError(c, format.OpenAIChat, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	dialect, _, derr := format.DetectWithQuery(c.Request.Header, c.Request.URL.Path, c.Request.URL.RawQuery)
	if derr != nil {
		dialect = format.OpenAIChat
	}
	s.dispatch(c, dispatchInput{
		dialect:        dialect,
		globalModel:    modelFromBody(body),
		stream:         isStreamRequested(body, ""),
		body:           body,
		metadataUserID: extractMetadataUserID(body),
	})
}

func (s *Server) handleGemini(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		writeError(c, format.GeminiChat, http.StatusBadRequest, "INVALID_ARGUMENT", "failed to read request body")
		return
	}
	modelName, action := splitGeminiModelAction(c.Param("modelAction"))
	dialect, _, derr := format.DetectWithQuery(c.Request.Header, c.Request.URL.Path, c.Request.URL.RawQuery)
	if derr != nil {
		dialect = format.GeminiChat
	}
	s.dispatch(c, dispatchInput{
		dialect:        dialect,
		globalModel:    modelName,
		stream:         isStreamRequested(body, action),
		body:           body,
		metadataUserID: extractMetadataUserID(body),
	})
}

// handleModels serves the union of enabled models (§6.1: "/v1/models is served for all three,
// returning the union of models visible to the authenticated key"). Per-key visibility scoping
// requires the tenant/ACL layer this build doesn't carry (see DESIGN.md), so every enabled
// GlobalModel is currently listed.
func (s *Server) handleModels(c *gin.Context) {
	var models []model.GlobalModel
	if err := model.DB.Where("enabled = ?", true).Find(&models).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "failed to list models", "type": "internal_error"}})
		return
	}
	data := make([]gin.H, 0, len(models))
	for _, m := range models {
		data = append(data, gin.H{
			"id":       m.Name,
			"object":   "model",
			"owned_by": "gateway",
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// Package server implements the gateway's wire surface (§6.1): the three bit-compatible dialect
// endpoints and the shared /v1/models listing, all funneled through the same admit -> plan ->
// execute pipeline built from the Candidate Builder, Scheduler, Pool Manager, Executor, and Usage
// Recorder.
package server

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/relaymesh/gateway/common"
	"github.com/relaymesh/gateway/common/config"
	"github.com/relaymesh/gateway/common/dispatcherr"
	"github.com/relaymesh/gateway/common/graceful"
	"github.com/relaymesh/gateway/common/helper"
	"github.com/relaymesh/gateway/common/logger"
	"github.com/relaymesh/gateway/model"
	"github.com/relaymesh/gateway/monitor"
	"github.com/relaymesh/gateway/relay/candidate"
	"github.com/relaymesh/gateway/relay/executor"
	"github.com/relaymesh/gateway/relay/format"
	"github.com/relaymesh/gateway/relay/pool"
	"github.com/relaymesh/gateway/relay/scheduler"
)

// Server wires the dispatch-path components behind the three dialect handlers. There is no
// tenant/auth layer in this build (the admin/login surface is out of scope, see DESIGN.md), so
// every request is planned with a nil AccessPolicy ("all providers/endpoints visible") and
// tenant id 0.
type Server struct {
	Executor *executor.Executor
	Pool     *pool.Manager
	Mode     scheduler.Mode
}

// New constructs a Server from the process-wide dispatch components built at startup.
func New(exec *executor.Executor, poolMgr *pool.Manager) *Server {
	mode := scheduler.ProviderFirst
	if scheduler.Mode(config.SchedulerMode) == scheduler.GlobalKeyFirst {
		mode = scheduler.GlobalKeyFirst
	}
	return &Server{Executor: exec, Pool: poolMgr, Mode: mode}
}

// poolConfig resolves the Pool Manager config from the environment defaults; it carries no
// request-specific state.
func (s *Server) poolConfig() pool.Config {
	return pool.ConfigFromEnv(nil)
}

// fingerprint hashes the first 4KB of body, the "prefix of the request" the cache-affinity hint
// (§9 Open Question) is keyed on.
func fingerprint(body []byte) string {
	n := len(body)
	if n > 4096 {
		n = 4096
	}
	sum := sha256.Sum256(body[:n])
	return hex.EncodeToString(sum[:8])
}

// dispatchInput is the dialect-independent shape every handler extracts from its request before
// handing off to the shared dispatch pipeline.
type dispatchInput struct {
	dialect        format.Dialect
	globalModel    string
	stream         bool
	body           []byte
	metadataUserID string
}

// dispatch runs the admit -> plan -> execute pipeline shared by every dialect handler, and writes
// either the streamed upstream response or a dialect-formatted error body to c.
func (s *Server) dispatch(c *gin.Context, in dispatchInput) {
	defer graceful.BeginRequest()()
	start := time.Now()
	ctx := c.Request.Context()
	requestID := helper.GenRequestID()
	cfg := s.poolConfig()

	candidates, err := candidate.Build(model.DB, in.globalModel, nil)
	if err != nil {
		logger.Logger.Error("candidate build failed", zap.String("request_id", requestID), zap.Error(err))
		writeError(c, in.dialect, http.StatusInternalServerError, "internal", "failed to resolve candidates")
		return
	}
	usable := candidate.Usable(candidates)
	if len(usable) == 0 {
		writeError(c, in.dialect, http.StatusNotFound, "model_not_found", "no provider can serve model "+in.globalModel)
		return
	}

	fp := fingerprint(in.body)
	_, maskedSession, sessErr := s.Pool.AdmitSession(ctx, in.globalModel, in.metadataUserID, cfg)
	if sessErr != nil {
		var classified *dispatcherr.Error
		if dispatcherr.As(sessErr, &classified) && classified.Kind == dispatcherr.Concurrency {
			writeError(c, in.dialect, http.StatusTooManyRequests, "concurrency_limit", sessErr.Error())
			return
		}
		logger.Logger.Warn("session admission failed", zap.String("request_id", requestID), zap.Error(sessErr))
	}

	ordered, _ := scheduler.Plan(ctx, s.Pool, candidates, s.Mode, maskedSession, fp, 0, cfg)
	if len(ordered) == 0 {
		writeError(c, in.dialect, http.StatusServiceUnavailable, "no_healthy_candidates", "every candidate for "+in.globalModel+" is unschedulable")
		return
	}

	tiers := resolveTiers(in.globalModel)
	first := ordered[0]

	if err := s.Executor.Recorder.Admit(requestID, 0, first.Key.Id, first.Provider.Id, first.Endpoint.Id,
		in.globalModel, in.body, ""); err != nil {
		logger.Logger.Error("usage admission failed", zap.String("request_id", requestID), zap.Error(err))
		writeError(c, in.dialect, http.StatusInternalServerError, "internal", "failed to admit request")
		return
	}

	req := executor.Request{
		RequestID:          requestID,
		ClientDialect:      in.dialect,
		Body:               in.body,
		Stream:             in.stream,
		SessionUUID:        maskedSession,
		RequestFingerprint: fp,
		GlobalModelName:    in.globalModel,
		Tiers:              tiers,
	}

	outcome := s.Executor.Execute(ctx, req, c.Writer, ordered, cfg)

	status := "success"
	if !outcome.Success {
		status = "failure"
	}
	monitor.DispatchDurationSeconds.WithLabelValues(string(in.dialect), status).Observe(time.Since(start).Seconds())

	if outcome.Success || outcome.BytesForwarded {
		return
	}

	statusCode := http.StatusBadGateway
	category := "upstream_error"
	if outcome.Err != nil {
		if outcome.Err.StatusCode > 0 {
			statusCode = outcome.Err.StatusCode
		}
		category = outcome.Err.Kind.String()
	}
	writeError(c, in.dialect, statusCode, category, "request failed across every candidate")
}

// resolveTiers loads the GlobalModel's pricing ladder. A missing or disabled catalog entry is not
// itself fatal to dispatch (the Candidate Builder resolves serving capability from Model rows,
// not GlobalModel), so an absent row simply yields empty tiers, which the Billing Engine resolves
// via its ratio-table fallback (§4.10).
func resolveTiers(globalModel string) []model.PricingTier {
	var gm model.GlobalModel
	if err := model.DB.Where("name = ?", globalModel).First(&gm).Error; err != nil {
		return nil
	}
	tiers, err := gm.LoadTiers()
	if err != nil {
		logger.Logger.Warn("failed to decode tiered pricing", zap.String("model", globalModel), zap.Error(err))
		return nil
	}
	return tiers
}

// extractMetadataUserID looks for a caller-supplied end-user/session marker under the two shapes
// the accepted dialects use: Claude/Gemini's "metadata.user_id" and OpenAI's top-level "user".
func extractMetadataUserID(body []byte) string {
	if v := gjson.GetBytes(body, "metadata.user_id"); v.Exists() {
		return v.String()
	}
	if v := gjson.GetBytes(body, "user"); v.Exists() {
		return v.String()
	}
	return ""
}

func isStreamRequested(body []byte, pathSuffix string) bool {
	if pathSuffix == "streamGenerateContent" {
		return true
	}
	return gjson.GetBytes(body, "stream").Bool()
}

func modelFromBody(body []byte) string {
	return gjson.GetBytes(body, "model").String()
}

func splitGeminiModelAction(raw string) (modelName, action string) {
	idx := strings.LastIndexByte(raw, ':')
	if idx < 0 {
		return raw, ""
	}
	return raw[:idx], raw[idx+1:]
}

// readBody caches and returns the raw request body via common.GetRequestBody so later dialect
// conversion/logging steps can still read it.
func readBody(c *gin.Context) ([]byte, error) {
	return common.GetRequestBody(c)
}

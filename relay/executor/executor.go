// Package executor implements the Executor (§4.8): the sequential per-request candidate attempt
// loop. For each candidate in the order the Scheduler and Pool Manager produced, it converts the
// request to the candidate's dialect if needed, issues the upstream HTTP call, classifies any
// failure, drives the Pool Manager's success/error feedback hooks, and on success streams the
// response back to the client while the Response Parser accumulates billable tokens.
package executor

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/relaymesh/gateway/common/client"
	"github.com/relaymesh/gateway/common/config"
	"github.com/relaymesh/gateway/common/dispatcherr"
	"github.com/relaymesh/gateway/common/logger"
	"github.com/relaymesh/gateway/credential"
	"github.com/relaymesh/gateway/model"
	"github.com/relaymesh/gateway/monitor"
	"github.com/relaymesh/gateway/relay/billing"
	"github.com/relaymesh/gateway/relay/candidate"
	"github.com/relaymesh/gateway/relay/format"
	"github.com/relaymesh/gateway/relay/pool"
	"github.com/relaymesh/gateway/relay/sseparser"
	"github.com/relaymesh/gateway/relay/usage"
)

// Request is everything the Executor needs about the inbound call, independent of which
// candidate ends up serving it.
type Request struct {
	RequestID          string
	ClientDialect      format.Dialect
	Body               []byte
	Stream             bool
	SessionUUID        string
	RequestFingerprint string
	GlobalModelName    string
	Tiers              []model.PricingTier
	ScopeIDs           map[string]int
	YearMonth          string
}

// Outcome is the terminal result of Execute: either a classified failure (after every candidate
// was exhausted, or a client-fatal response from the first one that returned it) or a successful
// dispatch recording which candidate served the request.
type Outcome struct {
	Success        bool
	BytesForwarded bool
	Candidate      candidate.Candidate
	Snapshot       billing.BillingSnapshot
	Err            *dispatcherr.Error
}

// Executor wires the Format Registry, Pool Manager, and Usage Recorder around one HTTP client.
type Executor struct {
	Client   *http.Client
	Registry *format.Registry
	Pool     *pool.Manager
	Recorder *usage.Recorder
	Engine   *billing.Engine
}

// New constructs an Executor that sends upstream calls through client.HTTPClient (built by
// client.Init from the relay proxy/timeout settings), or through a plain http.Client when
// client.Init has not run.
func New(registry *format.Registry, poolMgr *pool.Manager, recorder *usage.Recorder) *Executor {
	httpClient := client.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Executor{
		Client:   httpClient,
		Registry: registry,
		Pool:     poolMgr,
		Recorder: recorder,
		Engine:   billing.New(),
	}
}

// providerDialect maps a Provider's wire kind to a Dialect, carrying over the client's chat/cli
// variant so a CLI request keeps its CLI envelope when the provider's family matches.
func providerDialect(kind model.ProviderKind, clientVariant format.Variant) format.Dialect {
	variant := format.VariantChat
	if clientVariant == format.VariantCli {
		variant = format.VariantCli
	}
	var family format.Family
	switch kind {
	case model.ProviderKindClaude, model.ProviderKindBedrock:
		family = format.Claude
	case model.ProviderKindGemini, model.ProviderKindVertexAI:
		family = format.Gemini
	default:
		family = format.OpenAI
	}
	return format.Dialect(string(family) + ":" + string(variant))
}

// Execute tries candidates in order, writing the winning upstream response to w as bytes arrive
// (before any store access, so TTFB reflects wire time only per §4.9 step 1), and returns once
// the request has been either served or definitively failed.
func (e *Executor) Execute(ctx context.Context, req Request, w io.Writer, candidates []candidate.Candidate, cfg pool.Config) Outcome {
	var lastErr *dispatcherr.Error

	for idx, c := range candidates {
		if c.SkipReason != "" {
			continue
		}

		target := providerDialect(c.Provider.Kind, req.ClientDialect.Variant())

		upstreamBody, err := e.convert(req.ClientDialect, target, req.Body)
		if err != nil {
			lastErr = dispatcherr.New(dispatcherr.ServerFatal, 0, err)
			e.recordAttempt(req.RequestID, idx, c, model.CandidateAttemptFailed, 0, "conversion_error")
			continue
		}

		httpReq, err := e.buildRequest(ctx, c, target, upstreamBody, cfg.NormalizeCacheControl)
		if err != nil {
			lastErr = dispatcherr.New(dispatcherr.ServerFatal, 0, err)
			e.recordAttempt(req.RequestID, idx, c, model.CandidateAttemptFailed, 0, "build_request_error")
			continue
		}

		result, attemptErr := e.attempt(ctx, req, c, target, httpReq, w)
		if attemptErr == nil {
			e.recordAttempt(req.RequestID, idx, c, model.CandidateAttemptSuccess, result.statusCode, "")
			if e.Pool != nil {
				e.Pool.OnSuccess(ctx, c.Provider.Id, c.Key.Id, req.SessionUUID, result.tokensUsed(), cfg)
			}
			snapshot := e.settle(req, c, result)
			return Outcome{Success: true, BytesForwarded: result.bytesForwarded, Candidate: c, Snapshot: snapshot}
		}

		var classified *dispatcherr.Error
		if !dispatcherr.As(attemptErr, &classified) {
			classified = dispatcherr.New(dispatcherr.RetryableTransient, 0, attemptErr)
		}
		lastErr = classified

		if classified.Kind == dispatcherr.Cancelled {
			e.recordAttempt(req.RequestID, idx, c, model.CandidateAttemptCancelled, classified.StatusCode, "cancelled")
			e.settleCancelled(req, c, result)
			return Outcome{Success: false, BytesForwarded: result.bytesForwarded, Candidate: c, Err: classified}
		}

		e.recordAttempt(req.RequestID, idx, c, model.CandidateAttemptFailed, classified.StatusCode, classified.Kind.String())

		if e.Pool != nil {
			e.Pool.OnError(ctx, c.Key.Id, classified.StatusCode, result.retryAfter, result.body, cfg)
		}

		if !classified.Kind.Retryable() {
			if e.Recorder != nil {
				_, _ = e.Recorder.Void(req.RequestID, model.RequestStatusFailed, classified.StatusCode, classified.Kind.String())
			}
			return Outcome{Success: false, Candidate: c, Err: classified}
		}
	}

	if lastErr == nil {
		lastErr = dispatcherr.New(dispatcherr.RetryableTransient, 0, errors.New("no schedulable candidates"))
	}
	if e.Recorder != nil {
		_, _ = e.Recorder.Void(req.RequestID, model.RequestStatusFailed, lastErr.StatusCode, lastErr.Kind.String())
	}
	return Outcome{Success: false, Err: lastErr}
}

// convert rewrites req's body from the client's dialect into the candidate's, when they differ
// at the vendor-family level the Format Registry distinguishes. Same-family chat/cli pairs need
// no conversion -- only envelope sanitation, applied in buildRequest.
func (e *Executor) convert(clientDialect, target format.Dialect, body []byte) ([]byte, error) {
	if clientDialect.Family() == target.Family() || e.Registry == nil {
		return body, nil
	}
	conv, ok := e.Registry.Converter(chatDialect(clientDialect), chatDialect(target))
	if !ok {
		return nil, errors.Errorf("no admissible converter %s -> %s", clientDialect, target)
	}
	return conv.ConvertRequest(body)
}

// chatDialect collapses a :cli dialect to its :chat counterpart, since the converter matrix is
// only registered for the chat-variant pairs (cli/chat share the same wire body shape).
func chatDialect(d format.Dialect) format.Dialect {
	switch d.Family() {
	case format.Claude:
		return format.ClaudeChat
	case format.OpenAI:
		return format.OpenAIChat
	case format.Gemini:
		return format.GeminiChat
	default:
		return d
	}
}

func (e *Executor) buildRequest(ctx context.Context, c candidate.Candidate, target format.Dialect, body []byte, normalizeCacheControl bool) (*http.Request, error) {
	if target.Family() == format.Claude && target.Variant() == format.VariantCli {
		sanitized, err := format.SanitizeClaudeCLIEnvelope(body, normalizeCacheControl)
		if err == nil {
			body = sanitized
		}
	}

	url := c.Endpoint.BaseURL + format.DefaultPath(target)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build upstream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	secret, err := credential.Decrypt(c.Key.EncryptedSecret)
	if err != nil {
		return nil, errors.Wrapf(err, "decrypt secret for key %d", c.Key.Id)
	}
	headerName, scheme := format.AuthHeader(target)
	switch scheme {
	case format.SchemeBearer:
		httpReq.Header.Set(headerName, "Bearer "+secret)
	case format.SchemeHeader:
		httpReq.Header.Set(headerName, secret)
	}
	return httpReq, nil
}

// attemptResult carries everything classify/settle need about one upstream round trip.
type attemptResult struct {
	statusCode     int
	retryAfter     time.Duration
	body           string
	bytesForwarded bool
	dims           billing.Dimensions
}

func (r attemptResult) tokensUsed() int64 {
	return r.dims.InputTokens + r.dims.OutputTokens
}

func (e *Executor) attempt(ctx context.Context, req Request, c candidate.Candidate, target format.Dialect, httpReq *http.Request, w io.Writer) (attemptResult, error) {
	firstByteTimeout := time.Duration(config.ExecutorStreamFirstByteTimeoutSec) * time.Second
	requestTimeout := time.Duration(config.ExecutorRequestTimeoutSec) * time.Second

	attemptCtx := ctx
	var cancel context.CancelFunc
	if !req.Stream && requestTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}
	httpReq = httpReq.WithContext(attemptCtx)

	resp, err := e.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return attemptResult{}, dispatcherr.New(dispatcherr.Cancelled, 0, err)
		}
		return attemptResult{}, dispatcherr.New(dispatcherr.RetryableTransient, 0, errors.Wrap(err, "upstream call failed"))
	}
	defer resp.Body.Close()

	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return attemptResult{statusCode: resp.StatusCode, retryAfter: retryAfter, body: string(body)},
			dispatcherr.New(dispatcherr.ClassifyStatus(resp.StatusCode), resp.StatusCode, errors.Errorf("upstream status %d", resp.StatusCode))
	}

	parser := sseparser.New(target)
	result := attemptResult{statusCode: resp.StatusCode}
	buf := make([]byte, 32*1024)
	deadline := time.Now().Add(firstByteTimeout)
	anyBytes := false

	for {
		if firstByteTimeout > 0 && !anyBytes && time.Now().After(deadline) {
			if e.Pool != nil {
				e.Pool.RecordStreamTimeout(ctx, c.Key.Id, config.ExecutorStreamTimeoutThreshold,
					time.Duration(config.ExecutorStreamTimeoutWindowSec)*time.Second, pool.ConfigFromEnv(nil))
			}
			return result, dispatcherr.New(dispatcherr.RetryableTransient, 504, errors.New("stream first-byte timeout"))
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			anyBytes = true
			if _, werr := w.Write(buf[:n]); werr == nil {
				if e.Recorder != nil && !result.bytesForwarded {
					_ = e.Recorder.MarkStreaming(req.RequestID)
				}
				result.bytesForwarded = true
			}
			for _, chunk := range parser.Feed(buf[:n]) {
				accumulate(&result.dims, chunk)
			}
			deadline = time.Now().Add(firstByteTimeout)
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			if ctx.Err() != nil {
				return result, dispatcherr.New(dispatcherr.Cancelled, 0, readErr)
			}
			return result, dispatcherr.New(dispatcherr.RetryableTransient, 0, errors.Wrap(readErr, "stream read failed"))
		}
	}

	if parser.IsEmptyStream(anyBytes) {
		return result, dispatcherr.New(dispatcherr.RetryableTransient, 502, errors.New("empty upstream stream"))
	}
	return result, nil
}

func accumulate(dims *billing.Dimensions, chunk sseparser.ParsedChunk) {
	dims.InputTokens += chunk.InputTokens
	dims.OutputTokens += chunk.OutputTokens
	dims.CacheCreationTokens += chunk.CacheCreationTokens + chunk.CacheCreationEphemeral5mTokens + chunk.CacheCreationEphemeral1hTokens
	dims.CacheReadTokens += chunk.CacheReadTokens
}

func (e *Executor) settle(req Request, c candidate.Candidate, result attemptResult) billing.BillingSnapshot {
	if e.Recorder == nil {
		return billing.BillingSnapshot{}
	}
	result.dims.RequestCount = 1
	key := c.Key
	s := usage.Settlement{
		RequestID:         req.RequestID,
		RequestStatus:     model.RequestStatusCompleted,
		Dimensions:        result.dims,
		Tiers:             req.Tiers,
		Key:               &key,
		ModelNameFallback: req.GlobalModelName,
		ScopeIDs:          req.ScopeIDs,
		YearMonth:         req.YearMonth,
	}
	_, err := e.Recorder.Settle(s)
	if err != nil {
		logger.Logger.Warn("failed to settle usage", zap.String("request_id", req.RequestID), zap.Error(err))
		return billing.BillingSnapshot{}
	}
	return e.Engine.Evaluate(s.Tiers, s.Dimensions, s.Key, s.ModelNameFallback)
}

func (e *Executor) settleCancelled(req Request, c candidate.Candidate, result attemptResult) {
	if e.Recorder == nil {
		return
	}
	if result.bytesForwarded {
		result.dims.RequestCount = 1
		key := c.Key
		_, err := e.Recorder.Settle(usage.Settlement{
			RequestID:         req.RequestID,
			RequestStatus:     model.RequestStatusCancelled,
			Dimensions:        result.dims,
			Tiers:             req.Tiers,
			Key:               &key,
			ModelNameFallback: req.GlobalModelName,
			ScopeIDs:          req.ScopeIDs,
			YearMonth:         req.YearMonth,
		})
		if err != nil {
			logger.Logger.Warn("failed to settle cancelled usage", zap.String("request_id", req.RequestID), zap.Error(err))
		}
		return
	}
	_, err := e.Recorder.Void(req.RequestID, model.RequestStatusCancelled, 0, "client_disconnect")
	if err != nil {
		logger.Logger.Warn("failed to void cancelled usage", zap.String("request_id", req.RequestID), zap.Error(err))
	}
}

// recordAttempt persists one CandidateAttempt row. A failure to write it is logged, not
// propagated -- losing an attempt-audit row must never fail the request it describes.
func (e *Executor) recordAttempt(requestID string, index int, c candidate.Candidate, status model.CandidateAttemptStatus, statusCode int, category string) {
	row := &model.CandidateAttempt{
		RequestID:      requestID,
		CandidateIndex: index,
		ProviderID:     c.Provider.Id,
		EndpointID:     c.Endpoint.Id,
		KeyID:          c.Key.Id,
		Status:         status,
		StatusCode:     statusCode,
		ErrorCategory:  category,
	}
	if err := model.DB.Create(row).Error; err != nil {
		logger.Logger.Warn("failed to record candidate attempt",
			zap.String("request_id", requestID), zap.Int("candidate_index", index), zap.Error(err))
	}
	monitor.ExecutorAttempts.WithLabelValues(c.Provider.Name, string(status)).Inc()
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

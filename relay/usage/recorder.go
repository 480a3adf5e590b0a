// Package usage implements the Usage Recorder (§4.11): the two-axis PendingUsage state machine
// driven through admit, streaming, and finalize transitions, plus the batch recorder used when
// many pending rows must be settled from a durable in-memory queue.
package usage

import (
	"context"

	"github.com/Laisky/errors/v2"
	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/gateway/common/config"
	"github.com/relaymesh/gateway/model"
	"github.com/relaymesh/gateway/monitor"
	"github.com/relaymesh/gateway/relay/billing"
)

// Recorder drives PendingUsage rows through admit → streaming → finalize, computing each
// settlement's BillingSnapshot via the Billing Engine before persisting it.
type Recorder struct {
	engine *billing.Engine
}

// New constructs a Recorder bound to the given Billing Engine.
func New(engine *billing.Engine) *Recorder {
	if engine == nil {
		engine = billing.New()
	}
	return &Recorder{engine: engine}
}

// Admit creates the PendingUsage row for a request the moment it is accepted, before any
// candidate has been tried, so a crash mid-dispatch still leaves a recoverable record.
func (r *Recorder) Admit(requestID string, tenantID, keyID, providerID, endpointID int, globalModelName string, requestBody []byte, requestHeaders string) error {
	row := &model.PendingUsage{
		RequestID:       requestID,
		TenantID:        tenantID,
		KeyID:           keyID,
		ProviderID:      providerID,
		EndpointID:      endpointID,
		GlobalModelName: globalModelName,
		RequestStatus:   model.RequestStatusPending,
		BillingStatus:   model.BillingStatusPending,
		RequestBody:     requestBody,
		RequestHeaders:  requestHeaders,
	}
	if err := model.DB.Create(row).Error; err != nil {
		return errors.Wrapf(err, "admit pending usage %q", requestID)
	}
	return nil
}

// MarkStreaming transitions request_status to streaming on the first forwarded byte (§4.9 step
// 3), independent of the billing axis, which stays pending until finalize.
func (r *Recorder) MarkStreaming(requestID string) error {
	tx := model.DB.Model(&model.PendingUsage{}).
		Where("request_id = ? AND billing_status = ?", requestID, model.BillingStatusPending).
		Update("request_status", model.RequestStatusStreaming)
	if tx.Error != nil {
		return errors.Wrapf(tx.Error, "mark usage %q streaming", requestID)
	}
	return nil
}

// Settlement is the input to one finalize-with-billing call: the observed dimensions, the
// resolved pricing tiers, and the key whose rate_multiplier/free-tier flag scales the result.
type Settlement struct {
	RequestID         string
	RequestStatus     model.RequestStatus
	Dimensions        billing.Dimensions
	Tiers             []model.PricingTier
	Key               *model.Key
	ModelNameFallback string
	// ScopeIDs/YearMonth drive the monthly counter compound-aggregation; a zero-value YearMonth
	// skips aggregation (used by tests that only care about the PendingUsage row).
	ScopeIDs  map[string]int
	YearMonth string
}

// prepared is the pure (no DB I/O) result of evaluating one Settlement's BillingSnapshot, so the
// batch recorder's fan-out phase never touches the database.
type prepared struct {
	settlement Settlement
	snapshot   billing.BillingSnapshot
	snapshotJSON string
}

func (r *Recorder) prepare(s Settlement) (prepared, error) {
	snap := r.engine.Evaluate(s.Tiers, s.Dimensions, s.Key, s.ModelNameFallback)
	snapJSON, err := model.MarshalBillingSnapshot(snap)
	if err != nil {
		monitor.BillingErrors.WithLabelValues("marshal_snapshot").Inc()
		return prepared{}, err
	}
	return prepared{settlement: s, snapshot: snap, snapshotJSON: snapJSON}, nil
}

// Settle evaluates and finalizes a single request as settled (billing_status=settled), then
// compound-aggregates its actual cost into the monthly counters.
func (r *Recorder) Settle(s Settlement) (model.FinalizeResult, error) {
	p, err := r.prepare(s)
	if err != nil {
		return model.FinalizeResult{}, err
	}
	return r.commit(p)
}

func (r *Recorder) commit(p prepared) (model.FinalizeResult, error) {
	s := p.settlement
	result, err := model.FinalizeSettled(
		s.RequestID, s.RequestStatus,
		s.Dimensions.InputTokens, s.Dimensions.OutputTokens,
		s.Dimensions.CacheCreationTokens, s.Dimensions.CacheReadTokens,
		p.snapshot.TotalCost, p.snapshot.ActualTotalCost, p.snapshotJSON,
	)
	if err != nil {
		return model.FinalizeResult{}, err
	}
	if result.Won && s.YearMonth != "" && len(s.ScopeIDs) > 0 {
		if err := model.ApplyMonthlyDelta(s.YearMonth, s.ScopeIDs, p.snapshot.ActualTotalCost); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Void finalizes a request with no billable outcome: every candidate failed, or the client
// disconnected before any byte was forwarded.
func (r *Recorder) Void(requestID string, reqStatus model.RequestStatus, statusCode int, errorCategory string) (model.FinalizeResult, error) {
	return model.FinalizeVoid(requestID, reqStatus, statusCode, errorCategory)
}

// SettleBatch fans the pure prepare phase out across config.BillingRecorderConcurrency workers,
// then commits the results one at a time, each with its own writes. The commits are not wrapped
// in one transaction: an error part-way leaves the earlier items committed.
func (r *Recorder) SettleBatch(ctx context.Context, items []Settlement) ([]model.FinalizeResult, error) {
	prep := make([]prepared, len(items))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrencyLimit())
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}
			p, err := r.prepare(item)
			if err != nil {
				return errors.Wrapf(err, "prepare settlement %q", item.RequestID)
			}
			prep[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]model.FinalizeResult, len(prep))
	for i, p := range prep {
		result, err := r.commit(p)
		if err != nil {
			return nil, errors.Wrapf(err, "commit settlement %q", p.settlement.RequestID)
		}
		results[i] = result
	}
	return results, nil
}

func concurrencyLimit() int {
	if config.BillingRecorderConcurrency <= 0 {
		return 50
	}
	return config.BillingRecorderConcurrency
}

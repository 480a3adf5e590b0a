package model

import (
	"encoding/json"
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"
)

// RequestIDMaxLen bounds the request_id column so it stays indexable across supported backends.
const RequestIDMaxLen = 64

// RequestStatus is the first of the Usage row's two orthogonal state axes (§4.11): what happened
// to the upstream call itself, independent of whether it was ever billed.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusStreaming RequestStatus = "streaming"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusFailed    RequestStatus = "failed"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// BillingStatus is the second orthogonal axis: whether settlement against the Billing Engine has
// happened yet, and how. Only a `pending` row may be claimed for finalization, and exactly one
// finalize call may win the race.
type BillingStatus string

const (
	BillingStatusPending BillingStatus = "pending"
	BillingStatusSettled BillingStatus = "settled"
	BillingStatusVoid    BillingStatus = "void"
)

// PendingUsage is the mandatory persisted entity (§6.3): admitted the moment a request is
// accepted, updated by the Stream Tracker as the upstream call progresses, and finalized exactly
// once by the Usage Recorder. request_metadata.billing_snapshot carries the BillingSnapshot JSON
// for audit once settled.
type PendingUsage struct {
	Id              int    `json:"id" gorm:"primaryKey"`
	RequestID       string `json:"request_id" gorm:"size:64;uniqueIndex"`
	TenantID        int    `json:"tenant_id" gorm:"index"`
	KeyID           int    `json:"key_id" gorm:"index"`
	ProviderID      int    `json:"provider_id" gorm:"index"`
	EndpointID      int    `json:"endpoint_id" gorm:"index"`
	GlobalModelName string `json:"global_model_name" gorm:"size:128"`

	RequestStatus RequestStatus `json:"request_status" gorm:"size:16;index"`
	BillingStatus BillingStatus `json:"billing_status" gorm:"size:16;index"`

	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`

	TotalCostUSD       float64 `json:"total_cost_usd"`
	ActualTotalCostUSD float64 `json:"actual_total_cost_usd"`

	StatusCode    int    `json:"status_code"`
	ErrorCategory string `json:"error_category" gorm:"size:64"`

	// BillingSnapshotJSON is request_metadata.billing_snapshot: the full BillingSnapshot,
	// persisted verbatim for the replay invariant (§7) once settled.
	BillingSnapshotJSON string `json:"billing_snapshot" gorm:"type:text"`

	// RequestBody/ResponseBody hold the raw bodies until the retention sweep's detail cutoff;
	// BodyCompressed marks that they now hold gzip data instead of plaintext. RequestHeaders is
	// cleared independently at the header cutoff.
	RequestBody     []byte `json:"-" gorm:"type:blob"`
	ResponseBody    []byte `json:"-" gorm:"type:blob"`
	RequestHeaders  string `json:"-" gorm:"type:text"`
	BodyCompressed  bool   `json:"-"`

	FinalizedAt *time.Time `json:"finalized_at"`
	CreatedAt   time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName overrides gorm's pluralization so the column layout matches the ledger's own naming.
func (PendingUsage) TableName() string { return "pending_usages" }

// CandidateAttemptStatus mirrors the Candidate entity's status enum (§3): one row per dispatch
// attempt, persisted by the Executor as it works through a request's candidate list.
type CandidateAttemptStatus string

const (
	CandidateAttemptPending   CandidateAttemptStatus = "pending"
	CandidateAttemptStreaming CandidateAttemptStatus = "streaming"
	CandidateAttemptSuccess   CandidateAttemptStatus = "success"
	CandidateAttemptFailed    CandidateAttemptStatus = "failed"
	CandidateAttemptSkipped   CandidateAttemptStatus = "skipped"
	CandidateAttemptCancelled CandidateAttemptStatus = "cancelled"
)

// CandidateAttempt is the persisted per-attempt outcome §6.3 requires ("Candidate rows persist
// per-attempt outcome"), keyed by (request_id, candidate_index, retry_index).
type CandidateAttempt struct {
	Id            int                    `json:"id" gorm:"primaryKey"`
	RequestID     string                 `json:"request_id" gorm:"size:64;index:idx_candidate_attempt,unique"`
	CandidateIndex int                   `json:"candidate_index" gorm:"index:idx_candidate_attempt,unique"`
	RetryIndex    int                    `json:"retry_index" gorm:"index:idx_candidate_attempt,unique"`
	ProviderID    int                    `json:"provider_id"`
	EndpointID    int                    `json:"endpoint_id"`
	KeyID         int                    `json:"key_id"`
	Status        CandidateAttemptStatus `json:"status" gorm:"size:16"`
	StatusCode    int                    `json:"status_code"`
	ErrorCategory string                 `json:"error_category" gorm:"size:64"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func (CandidateAttempt) TableName() string { return "candidate_attempts" }

// FinalizeResult reports whether a finalize* call actually transitioned the row, distinguishing
// a genuine first finalize from a duplicate call racing against (or arriving after) one that
// already won.
type FinalizeResult struct {
	Won   bool
	Usage PendingUsage
}

// finalize performs the §4.11 conditional `WHERE billing_status='pending'` transition shared by
// every finalize* entry point, returning whether this call won the race.
func finalize(requestID string, newBillingStatus BillingStatus, mutate func(*PendingUsage)) (FinalizeResult, error) {
	var result FinalizeResult
	err := DB.Transaction(func(tx *gorm.DB) error {
		var row PendingUsage
		if err := tx.Where("request_id = ?", requestID).First(&row).Error; err != nil {
			return errors.Wrapf(err, "load pending usage %q", requestID)
		}
		if row.BillingStatus != BillingStatusPending {
			result = FinalizeResult{Won: false, Usage: row}
			return nil
		}
		mutate(&row)
		row.BillingStatus = newBillingStatus
		now := nowFn()
		row.FinalizedAt = &now

		tx2 := tx.Model(&PendingUsage{}).
			Where("request_id = ? AND billing_status = ?", requestID, BillingStatusPending).
			Updates(map[string]any{
				"request_status":          row.RequestStatus,
				"billing_status":          row.BillingStatus,
				"input_tokens":            row.InputTokens,
				"output_tokens":           row.OutputTokens,
				"cache_creation_tokens":   row.CacheCreationTokens,
				"cache_read_tokens":       row.CacheReadTokens,
				"total_cost_usd":          row.TotalCostUSD,
				"actual_total_cost_usd":   row.ActualTotalCostUSD,
				"status_code":             row.StatusCode,
				"error_category":          row.ErrorCategory,
				"billing_snapshot_json":   row.BillingSnapshotJSON,
				"finalized_at":            row.FinalizedAt,
			})
		if tx2.Error != nil {
			return errors.Wrap(tx2.Error, "finalize pending usage")
		}
		result = FinalizeResult{Won: tx2.RowsAffected > 0, Usage: row}
		return nil
	})
	if err != nil {
		return FinalizeResult{}, err
	}
	return result, nil
}

// nowFn is indirected so tests can pin finalized_at without depending on wall-clock time.
var nowFn = time.Now

// FinalizeSettled transitions a pending row to request_status=completed (or cancelled, if the
// caller observed a client disconnect after bytes were forwarded) and billing_status=settled,
// recording the final token counts and cost. Duplicate calls are no-ops that report Won=false.
func FinalizeSettled(requestID string, reqStatus RequestStatus, input, output, cacheCreate, cacheRead int64, totalCost, actualCost float64, snapshotJSON string) (FinalizeResult, error) {
	return finalize(requestID, BillingStatusSettled, func(row *PendingUsage) {
		row.RequestStatus = reqStatus
		row.InputTokens = input
		row.OutputTokens = output
		row.CacheCreationTokens = cacheCreate
		row.CacheReadTokens = cacheRead
		row.TotalCostUSD = totalCost
		row.ActualTotalCostUSD = actualCost
		row.BillingSnapshotJSON = snapshotJSON
	})
}

// FinalizeVoid transitions a pending row to billing_status=void with zeroed cost, per the
// invariant that a void row always has total_cost_usd = 0. Used when no client byte was ever
// forwarded (cancellation before first byte, or a request that failed every candidate).
func FinalizeVoid(requestID string, reqStatus RequestStatus, statusCode int, errorCategory string) (FinalizeResult, error) {
	return finalize(requestID, BillingStatusVoid, func(row *PendingUsage) {
		row.RequestStatus = reqStatus
		row.TotalCostUSD = 0
		row.ActualTotalCostUSD = 0
		row.StatusCode = statusCode
		row.ErrorCategory = errorCategory
	})
}

// FinalizeSubmitted settles an asynchronous job-style request (e.g. a video generation task) that
// completes with only a submission acknowledgement; billing is deferred to a later
// UpdateSettledBilling call once the job's real cost is known, but the row still leaves `pending`
// so a crash mid-submission cannot double count it.
func FinalizeSubmitted(requestID string) (FinalizeResult, error) {
	return finalize(requestID, BillingStatusSettled, func(row *PendingUsage) {
		row.RequestStatus = RequestStatusCompleted
	})
}

// UpdateSettledBilling amends the cost of an already-settled row, for asynchronous tasks whose
// real cost is only known after FinalizeSubmitted already ran. It is a no-op if the row is not
// currently settled.
func UpdateSettledBilling(requestID string, totalCost, actualCost float64, snapshotJSON string) error {
	tx := DB.Model(&PendingUsage{}).
		Where("request_id = ? AND billing_status = ?", requestID, BillingStatusSettled).
		Updates(map[string]any{
			"total_cost_usd":        totalCost,
			"actual_total_cost_usd": actualCost,
			"billing_snapshot_json": snapshotJSON,
		})
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "update settled billing")
	}
	return nil
}

// VoidSettled forcibly zeros the cost of a settled row (e.g. an async task that ultimately
// failed after submission was already billed optimistically).
func VoidSettled(requestID string) error {
	tx := DB.Model(&PendingUsage{}).
		Where("request_id = ? AND billing_status = ?", requestID, BillingStatusSettled).
		Updates(map[string]any{
			"billing_status":        BillingStatusVoid,
			"total_cost_usd":        0,
			"actual_total_cost_usd": 0,
		})
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "void settled usage")
	}
	return nil
}

// MarshalBillingSnapshot is a small helper so callers in relay/usage don't import encoding/json
// just to stash a snapshot on the row.
func MarshalBillingSnapshot(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "marshal billing snapshot")
	}
	return string(b), nil
}

// MonthlyUsageCounter compound-aggregates settled cost per (scope_type, scope_id, year_month).
// scope_type is one of "user", "key", "provider"; updates across the three scopes for one
// request must be issued in that order (§4.11) to avoid deadlocking against concurrent updates
// to the same rows from other requests.
type MonthlyUsageCounter struct {
	Id        int     `json:"id" gorm:"primaryKey"`
	ScopeType string  `json:"scope_type" gorm:"size:16;uniqueIndex:idx_monthly_scope"`
	ScopeID   int     `json:"scope_id" gorm:"uniqueIndex:idx_monthly_scope"`
	YearMonth string  `json:"year_month" gorm:"size:7;uniqueIndex:idx_monthly_scope"`
	UsedUSD   float64 `json:"used_usd"`
}

func (MonthlyUsageCounter) TableName() string { return "monthly_usage_counters" }

// scopeOrder fixes the deadlock-avoiding update order the spec requires: user, then key, then
// provider.
var scopeOrder = []string{"user", "key", "provider"}

// ApplyMonthlyDelta issues one atomic `used_usd = used_usd + delta` UPSERT per (scopeType,
// scopeID) in scopeIDs, in the fixed user→key→provider order, regardless of the order the caller
// populated the map in.
func ApplyMonthlyDelta(yearMonth string, scopeIDs map[string]int, delta float64) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		for _, scopeType := range scopeOrder {
			id, ok := scopeIDs[scopeType]
			if !ok {
				continue
			}
			row := MonthlyUsageCounter{ScopeType: scopeType, ScopeID: id, YearMonth: yearMonth}
			res := tx.Where("scope_type = ? AND scope_id = ? AND year_month = ?", scopeType, id, yearMonth).
				Updates(map[string]any{"used_usd": gorm.Expr("used_usd + ?", delta)})
			if res.Error != nil {
				return errors.Wrapf(res.Error, "bump monthly counter %s/%d", scopeType, id)
			}
			if res.RowsAffected == 0 {
				row.UsedUSD = delta
				if err := tx.Create(&row).Error; err != nil {
					return errors.Wrapf(err, "create monthly counter %s/%d", scopeType, id)
				}
			}
		}
		return nil
	})
}

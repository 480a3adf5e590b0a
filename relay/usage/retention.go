package usage

import (
	"bytes"
	"compress/gzip"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/relaymesh/gateway/common/config"
	"github.com/relaymesh/gateway/common/logger"
	"github.com/relaymesh/gateway/model"
)

// now is indirected so retention sweeps are deterministic under test.
var now = time.Now

// RunRetentionSweep applies the §4.11 body/header retention policy in four independent passes,
// each bounded to config.RetentionBatchSize rows so one sweep step never holds a long-running
// transaction: compress aging bodies, clear long-compressed bodies, clear aging headers, then
// delete rows past the log retention cutoff entirely.
func RunRetentionSweep() error {
	if err := compressAgingBodies(); err != nil {
		return err
	}
	if err := clearCompressedBodies(); err != nil {
		return err
	}
	if err := clearAgingHeaders(); err != nil {
		return err
	}
	return deleteExpiredRows()
}

// compressAgingBodies gzips request_body/response_body for rows older than
// config.RetentionDetailDays that are not already compressed. Compression is idempotent: rows
// with BodyCompressed=true are excluded from the query, so a retried sweep skips them outright.
func compressAgingBodies() error {
	cutoff := now().AddDate(0, 0, -config.RetentionDetailDays)

	var rows []model.PendingUsage
	if err := model.DB.
		Where("created_at < ? AND body_compressed = ? AND (request_body IS NOT NULL OR response_body IS NOT NULL)", cutoff, false).
		Limit(config.RetentionBatchSize).
		Find(&rows).Error; err != nil {
		return errors.Wrap(err, "scan rows for body compression")
	}

	for _, row := range rows {
		reqGz, err := gzipBytes(row.RequestBody)
		if err != nil {
			return errors.Wrapf(err, "compress request body for %q", row.RequestID)
		}
		respGz, err := gzipBytes(row.ResponseBody)
		if err != nil {
			return errors.Wrapf(err, "compress response body for %q", row.RequestID)
		}
		tx := model.DB.Model(&model.PendingUsage{}).
			Where("id = ? AND body_compressed = ?", row.Id, false).
			Updates(map[string]any{
				"request_body":    reqGz,
				"response_body":   respGz,
				"body_compressed": true,
			})
		if tx.Error != nil {
			return errors.Wrapf(tx.Error, "persist compressed body for %q", row.RequestID)
		}
	}
	if len(rows) > 0 {
		logger.Logger.Info("compressed aging usage bodies", zap.Int("count", len(rows)))
	}
	return nil
}

// clearCompressedBodies drops the compressed body columns for rows past
// config.RetentionCompressedDays, leaving only the billing-relevant columns.
func clearCompressedBodies() error {
	cutoff := now().AddDate(0, 0, -config.RetentionCompressedDays)
	tx := model.DB.Model(&model.PendingUsage{}).
		Where("created_at < ? AND (request_body IS NOT NULL OR response_body IS NOT NULL)", cutoff).
		Limit(config.RetentionBatchSize).
		Updates(map[string]any{"request_body": nil, "response_body": nil})
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "clear compressed usage bodies")
	}
	if tx.RowsAffected > 0 {
		logger.Logger.Info("cleared compressed usage bodies", zap.Int64("count", tx.RowsAffected))
	}
	return nil
}

// clearAgingHeaders clears request_headers on an axis independent of body retention, per
// config.RetentionHeaderDays.
func clearAgingHeaders() error {
	cutoff := now().AddDate(0, 0, -config.RetentionHeaderDays)
	tx := model.DB.Model(&model.PendingUsage{}).
		Where("created_at < ? AND request_headers <> ?", cutoff, "").
		Limit(config.RetentionBatchSize).
		Update("request_headers", "")
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "clear aging usage headers")
	}
	if tx.RowsAffected > 0 {
		logger.Logger.Info("cleared aging usage headers", zap.Int64("count", tx.RowsAffected))
	}
	return nil
}

// deleteExpiredRows removes usage rows past config.RetentionLogDays entirely, in fixed-size
// batches so a single sweep step never locks the table for an unbounded stretch.
func deleteExpiredRows() error {
	cutoff := now().AddDate(0, 0, -config.RetentionLogDays)
	tx := model.DB.
		Where("created_at < ?", cutoff).
		Limit(config.RetentionBatchSize).
		Delete(&model.PendingUsage{})
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "delete expired usage rows")
	}
	if tx.RowsAffected > 0 {
		logger.Logger.Info("deleted expired usage rows", zap.Int64("count", tx.RowsAffected))
	}
	return nil
}

func gzipBytes(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package capture

import (
	"context"

	"go.uber.org/multierr"

	dbpkg "github.com/angelmondragon/fulfillment-engine/pkg/db"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

// Scan is the reconciliation loop: every delivered sub order whose retry is
// due and that nobody holds a lease on gets a capture attempt.
func (s *service) Scan(ctx context.Context, limit int) (ScanResult, error) {
	if limit <= 0 {
		limit = defaultScanLimit
	}
	var result ScanResult
	now := s.now()
	ids, err := s.repo.ListDue(ctx, now, now.Add(-s.lease), limit)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due captures")
	}
	result.Due = len(ids)

	var errs error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, multierr.Append(errs, err)
		}
		res, err := s.Capture(ctx, id)
		switch {
		case err == nil && (res.Outcome == OutcomeCaptured || res.Outcome == OutcomeAlreadyCaptured):
			result.Captured++
		case err == nil:
			result.Failed++
		case dbpkg.IsTransitionConflict(err):
			// claimed elsewhere or moved on since the listing
			result.Skipped++
		default:
			errs = multierr.Append(errs, err)
		}
	}
	if result.Due > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"due":      result.Due,
			"captured": result.Captured,
			"failed":   result.Failed,
			"skipped":  result.Skipped,
		}), "capture scan finished")
	}
	return result, errs
}

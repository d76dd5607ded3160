// Package consistency reconciles policy-restricted reads with the owned read path.
//
// The restricted path is authoritative for roles but may miss rows right after a write
// or when a policy is misconfigured. The owned path answers only "rows owned by X" and
// its results are always re-filtered by owner id here, so it can recover the caller's
// own rows without ever widening visibility to anyone else's.
package consistency

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Outcome describes which paths produced a Read result.
type Outcome string

const (
	// OutcomeRestricted means the restricted path answered alone
	OutcomeRestricted Outcome = "restricted"
	// OutcomeFallbackMerged means owned rows were merged into an empty restricted result
	OutcomeFallbackMerged Outcome = "fallback_merged"
	// OutcomeFallbackOnly means the restricted path failed and owned rows were used
	OutcomeFallbackOnly Outcome = "fallback_only"
)

// Source describes one dual-path read.
type Source[T any] struct {
	// Name labels the read in logs and metrics
	Name string

	Restricted func(ctx context.Context) ([]T, error)
	// CountOwned is the cheap owner check deciding whether an empty restricted
	// result is suspicious.
	CountOwned func(ctx context.Context) (int, error)
	Owned      func(ctx context.Context) ([]T, error)

	Key   func(T) uuid.UUID
	Owner func(T) uuid.UUID
}

// Read runs the restricted path and falls back to the owned path when it fails or
// returns nothing while ownerID owns at least one row. Owned rows not owned by ownerID
// are discarded. Rows present on both paths keep the restricted version.
func Read[T any](ctx context.Context, ownerID uuid.UUID, src Source[T]) ([]T, Outcome, error) {
	rows, restrictedErr := src.Restricted(ctx)
	if restrictedErr == nil {
		if len(rows) > 0 {
			return rows, OutcomeRestricted, nil
		}

		count, err := src.CountOwned(ctx)
		if err == nil && count == 0 {
			return rows, OutcomeRestricted, nil
		}
		if err != nil {
			log.Debug().Err(err).Str("read", src.Name).Msg("Owned count failed, reading owned path")
		}
	} else {
		log.Warn().
			Err(restrictedErr).
			Str("read", src.Name).
			Str("identity_id", ownerID.String()).
			Msg("Restricted read failed, trying owned path")
	}

	ownedRows, err := src.Owned(ctx)
	if err != nil {
		if restrictedErr != nil {
			return nil, "", restrictedErr
		}
		return nil, "", err
	}

	merged := Merge(rows, FilterOwned(ownedRows, ownerID, src.Owner), src.Key)

	outcome := OutcomeFallbackMerged
	if restrictedErr != nil {
		outcome = OutcomeFallbackOnly
	}
	log.Info().
		Str("read", src.Name).
		Str("identity_id", ownerID.String()).
		Str("outcome", string(outcome)).
		Int("rows", len(merged)).
		Msg("Recovered rows through owned path")

	return merged, outcome, nil
}

// FilterOwned keeps the rows whose owner is ownerID.
func FilterOwned[T any](rows []T, ownerID uuid.UUID, owner func(T) uuid.UUID) []T {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if owner(row) == ownerID {
			out = append(out, row)
		}
	}
	if dropped := len(rows) - len(out); dropped > 0 {
		log.Warn().
			Int("dropped", dropped).
			Str("identity_id", ownerID.String()).
			Msg("Owned path returned rows of another owner")
	}
	return out
}

// Merge appends the fallback rows whose key is not already in primary.
func Merge[T any](primary, fallback []T, key func(T) uuid.UUID) []T {
	seen := make(map[uuid.UUID]struct{}, len(primary)+len(fallback))
	out := make([]T, 0, len(primary)+len(fallback))
	for _, row := range primary {
		k := key(row)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	for _, row := range fallback {
		k := key(row)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	return out
}

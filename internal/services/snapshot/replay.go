package snapshot

import (
	"math"
	"sort"

	"VolSurface/internal/domain/models"
)

// Replay orders snapshots by timestamp and pairs each with its diff against the
// previous frame. The input slice is left untouched. Snapshots of another ticker than
// the first are rejected with ErrTickerMismatch.
func Replay(snaps []*models.Snapshot) ([]models.ReplayFrame, error) {
	ordered := make([]*models.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if err := Validate(s); err != nil {
			return nil, err
		}
		ordered = append(ordered, s)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })

	frames := make([]models.ReplayFrame, 0, len(ordered))
	for i, s := range ordered {
		f := models.ReplayFrame{Index: i, Snapshot: s}
		if i > 0 {
			d, err := Diff(ordered[i-1], s)
			if err != nil {
				return nil, err
			}
			f.Diff = d
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// TermStructure picks, for every expiry, the point of type t closest to moneyness 1.
// Equal distances resolve to the lower strike.
func TermStructure(s *models.VolatilitySurface, t models.OptionType) []models.TermPoint {
	out := []models.TermPoint{}
	if s.IsEmpty() {
		return out
	}
	for _, exp := range s.Expiries {
		best := -1
		bestDist := math.Inf(1)
		slice := s.Slice(exp)
		for i, p := range slice {
			if p.Type != t {
				continue
			}
			if dist := math.Abs(p.Moneyness - 1); dist < bestDist {
				best, bestDist = i, dist
			}
		}
		if best < 0 {
			continue
		}
		p := slice[best]
		out = append(out, models.TermPoint{
			Expiry:       p.Expiry,
			TimeToExpiry: p.TimeToExpiry,
			Strike:       p.Strike,
			ImpliedVol:   p.ImpliedVol,
		})
	}
	return out
}

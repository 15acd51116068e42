package exchange

import (
	"fmt"
)

// VerifySymmetry cross-checks the patterns of every rank of one key, as
// built independently by each rank. patterns[r] must be rank r's pattern.
//
// It checks that every rank's send list for a peer is exactly the peer's
// receive list for that rank, and that the tags of all ranks together cover
// the global tag list once.
func VerifySymmetry(patterns []*Pattern) error {
	n := len(patterns)
	if n == 0 {
		return nil
	}
	key := patterns[0].Key
	if key.DistributionMap.NProcs() != n {
		return fmt.Errorf("got %d patterns for %d ranks", n, key.DistributionMap.NProcs())
	}
	for r, p := range patterns {
		if p.Rank != r {
			return fmt.Errorf("pattern %d belongs to rank %d", r, p.Rank)
		}
		if !p.Key.Equal(key) {
			return fmt.Errorf("rank %d: pattern built for a different key", r)
		}
		if err := p.Verify(); err != nil {
			return fmt.Errorf("rank %d: %w", r, err)
		}
	}

	// Correspondence - send[p][q] matches recv[q][p] tag for tag
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			if p == q {
				continue
			}
			snd := patterns[p].SndTags[q]
			rcv := patterns[q].RcvTags[p]
			if len(snd) != len(rcv) {
				return fmt.Errorf("length mismatch: send[%d][%d]=%d, recv[%d][%d]=%d",
					p, q, len(snd), q, p, len(rcv))
			}
			for k := range snd {
				if snd[k] != rcv[k] {
					return fmt.Errorf("tag %d mismatch: send[%d][%d]=%v, recv[%d][%d]=%v",
						k, p, q, snd[k], q, p, rcv[k])
				}
			}
			if patterns[p].SndVols[q] != patterns[q].RcvVols[p] {
				return fmt.Errorf("volume mismatch: send[%d][%d]=%d, recv[%d][%d]=%d",
					p, q, patterns[p].SndVols[q], q, p, patterns[q].RcvVols[p])
			}
		}
	}

	// Conservation - local plus received tags account for every global tag
	total := 0
	for _, p := range patterns {
		total += len(p.LocTags)
		for _, tags := range p.RcvTags {
			total += len(tags)
		}
	}
	global, err := GlobalTags(key, patterns[0].Geometry)
	if err != nil {
		return err
	}
	if total != len(global) {
		return fmt.Errorf("conservation error: %d tags across ranks, %d globally", total, len(global))
	}
	return nil
}

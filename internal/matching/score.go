// Package matching implements the request pool, compatibility search
// and match lifecycle: open requests are paired by score, both sides
// must agree before a meeting is provisioned, and a pairing that falls
// apart excludes the two users from each other and returns both
// requests to the pool.
package matching

import (
	"github.com/studistern/tutor-roulette/internal/model"
	"github.com/studistern/tutor-roulette/internal/repository"
)

// Score rates the compatibility of two profiles.  Every pair starts at
// 1; a shared region adds 5 and a shared gender adds 3.  The result is
// a pure function of the two attribute comparisons.
func Score(a, b model.Profile) int {
	score := 1
	if a.Region == b.Region {
		score += 5
	}
	if a.Gender == b.Gender {
		score += 3
	}
	return score
}

// BestCandidate returns the index of the highest-scoring candidate for
// the searcher, or -1 when the slice is empty.  Candidates arrive
// ordered by creation time (oldest first, id as the final key), and
// only a strictly higher score displaces the current best, so equal
// scores resolve to the earliest-created candidate.
func BestCandidate(searcher model.Profile, cands []repository.Candidate) int {
	best := -1
	bestScore := 0
	for i, c := range cands {
		if s := Score(searcher, c.Profile); s > bestScore {
			best = i
			bestScore = s
		}
	}
	return best
}

package matching

import (
	"testing"

	"github.com/studistern/tutor-roulette/internal/model"
	"github.com/studistern/tutor-roulette/internal/repository"
)

func TestScore(t *testing.T) {
	searcher := model.Profile{Region: "BY", Gender: "FEMALE"}

	cases := []struct {
		name string
		cand model.Profile
		want int
	}{
		{"full overlap", model.Profile{Region: "BY", Gender: "FEMALE"}, 9},
		{"region only", model.Profile{Region: "BY", Gender: "MALE"}, 6},
		{"gender only", model.Profile{Region: "BW", Gender: "FEMALE"}, 4},
		{"no overlap", model.Profile{Region: "BW", Gender: "MALE"}, 1},
	}
	for _, tc := range cases {
		if got := Score(searcher, tc.cand); got != tc.want {
			t.Fatalf("%s: Score = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestScoreIsSymmetric(t *testing.T) {
	a := model.Profile{Region: "BY", Gender: "FEMALE"}
	b := model.Profile{Region: "BY", Gender: "MALE"}
	if Score(a, b) != Score(b, a) {
		t.Fatalf("Score not symmetric: %d vs %d", Score(a, b), Score(b, a))
	}
}

func TestBestCandidatePicksHighestScore(t *testing.T) {
	searcher := model.Profile{Region: "BY", Gender: "FEMALE"}
	cands := []repository.Candidate{
		{Request: model.Request{ID: 1}, Profile: model.Profile{Region: "BW", Gender: "MALE"}},   // 1
		{Request: model.Request{ID: 2}, Profile: model.Profile{Region: "BY", Gender: "FEMALE"}}, // 9
		{Request: model.Request{ID: 3}, Profile: model.Profile{Region: "BY", Gender: "MALE"}},   // 6
	}
	if got := BestCandidate(searcher, cands); got != 1 {
		t.Fatalf("BestCandidate = %d, want 1", got)
	}
}

func TestBestCandidateTieKeepsEarliest(t *testing.T) {
	// Candidates arrive ordered by creation time; on equal scores the
	// earlier entry must win.
	searcher := model.Profile{Region: "BY", Gender: "FEMALE"}
	cands := []repository.Candidate{
		{Request: model.Request{ID: 10}, Profile: model.Profile{Region: "BY", Gender: "MALE"}},
		{Request: model.Request{ID: 11}, Profile: model.Profile{Region: "BY", Gender: "MALE"}},
	}
	if got := BestCandidate(searcher, cands); got != 0 {
		t.Fatalf("BestCandidate = %d, want 0 (earliest of equal scores)", got)
	}
}

func TestBestCandidateEmpty(t *testing.T) {
	if got := BestCandidate(model.Profile{}, nil); got != -1 {
		t.Fatalf("BestCandidate on empty slice = %d, want -1", got)
	}
}

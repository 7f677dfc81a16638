package pipeline

import (
	"testing"

	"mdbackup/internal/model"
)

func TestResolveProfileWorkerCounts(t *testing.T) {
	cases := []struct {
		profile   model.CPUProfile
		cores     int
		wantHash  int
		wantCopy  int
		wantHertz float64
	}{
		{model.ProfileEco, 16, 1, 1, 1},
		{model.ProfileBalanced, 16, 4, 2, 5},
		{model.ProfileBalanced, 2, 1, 2, 5},
		{model.ProfileFast, 16, 12, 2, 5},
		{model.ProfileFast, 1, 1, 2, 5},
		{model.ProfileMax, 16, 15, 4, 5},
		{model.ProfileMax, 1, 1, 4, 5},
	}
	for _, tc := range cases {
		got := resolveProfile(tc.profile, tc.cores)
		if got.HashWorkers != tc.wantHash || got.CopyWorkers != tc.wantCopy || got.CadenceHz != tc.wantHertz {
			t.Errorf("%s on %d cores: got %+v, want hash=%d copy=%d hz=%v",
				tc.profile, tc.cores, got, tc.wantHash, tc.wantCopy, tc.wantHertz)
		}
	}
}

func TestResolveProfileNeverReturnsZeroWorkers(t *testing.T) {
	for _, p := range []model.CPUProfile{model.ProfileEco, model.ProfileBalanced, model.ProfileFast, model.ProfileMax} {
		for cores := 0; cores <= 4; cores++ {
			got := resolveProfile(p, cores)
			if got.HashWorkers < 1 || got.CopyWorkers < 1 {
				t.Errorf("%s on %d cores resolved to %+v", p, cores, got)
			}
		}
	}
}

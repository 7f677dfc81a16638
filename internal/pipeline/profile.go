package pipeline

import (
	"runtime"

	"mdbackup/internal/model"
)

// ProfileSpec is the worker-count and UI-cadence tuning a CPU profile
// resolves to on this machine.
type ProfileSpec struct {
	HashWorkers int
	CopyWorkers int
	CadenceHz   float64
}

// ResolveProfile maps a CPU profile to concrete worker counts:
//
//	Eco       1 hasher, 1 copier, 1 Hz
//	Balanced  max(1, cores/4) hashers, 2 copiers, 5 Hz
//	Fast      ~0.75 x cores hashers, 2 copiers, 5 Hz
//	Max       cores-1 hashers, 4 copiers, 5 Hz
func ResolveProfile(p model.CPUProfile) ProfileSpec {
	return resolveProfile(p, runtime.NumCPU())
}

func resolveProfile(p model.CPUProfile, cores int) ProfileSpec {
	if cores < 1 {
		cores = 1
	}
	switch p {
	case model.ProfileEco:
		return ProfileSpec{HashWorkers: 1, CopyWorkers: 1, CadenceHz: 1}
	case model.ProfileFast:
		n := cores * 3 / 4
		if n < 1 {
			n = 1
		}
		return ProfileSpec{HashWorkers: n, CopyWorkers: 2, CadenceHz: 5}
	case model.ProfileMax:
		n := cores - 1
		if n < 1 {
			n = 1
		}
		return ProfileSpec{HashWorkers: n, CopyWorkers: 4, CadenceHz: 5}
	default: // Balanced
		n := cores / 4
		if n < 1 {
			n = 1
		}
		return ProfileSpec{HashWorkers: n, CopyWorkers: 2, CadenceHz: 5}
	}
}

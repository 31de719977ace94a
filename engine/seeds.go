package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand/v2"
	"sort"
)

// PlanSeeds returns exactly fanOut seeds. Explicit seeds come first in the
// caller's order; the rest derive from an anchor so the same explicit seeds
// always yield the same plan.
func PlanSeeds(req *GenerationRequest, fanOut int, deterministic bool) []int64 {
	seeds := make([]int64, fanOut)
	n := copy(seeds, req.Seeds)
	if n == fanOut {
		return seeds
	}

	var anchor uint64
	switch {
	case n > 0:
		anchor = uint64(req.Seeds[0])
	case deterministic:
		anchor = Fingerprint(req)
	default:
		anchor = rand.Uint64()
	}
	for i := n; i < fanOut; i++ {
		seeds[i] = int64(splitmix64(anchor+uint64(i)) & MaxSeed)
	}
	return seeds
}

// splitmix64 is the SplitMix64 output function.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Fingerprint hashes the image bytes and every knob that shapes the output.
func Fingerprint(req *GenerationRequest) uint64 {
	h := sha256.New()
	writeBytes := func(b []byte) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}
	writeFloat := func(f float64) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], math.Float64bits(f))
		h.Write(n[:])
	}

	writeBytes(req.Image)
	names := make([]string, 0, len(req.SecondaryImage))
	for name := range req.SecondaryImage {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeBytes([]byte(name))
		writeBytes(req.SecondaryImage[name])
	}
	for _, s := range []string{req.RoomType, req.FurnitureStyle, req.WallColor, req.FlooringMaterial} {
		writeBytes([]byte(s))
	}
	writeFloat(req.ConditioningWeight)
	writeFloat(req.ImageStrength)
	writeFloat(float64(req.Steps))
	writeFloat(req.GuidanceScale)
	writeFloat(float64(req.Resolution.Width))
	writeFloat(float64(req.Resolution.Height))

	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

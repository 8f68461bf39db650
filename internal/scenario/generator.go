package scenario

import (
	"fmt"
	"math"
	"math/rand"
)

// genFunc produces one stream value at logical time t (seconds). Functions
// are resolved at load time into typed closures; the scenario file stays
// plain YAML with no embedded interpreter.
type genFunc func(t float64, rng *rand.Rand) float64

// resolveFunction binds a generator function name and its arguments.
// Every function is deterministic given the stream's seeded RNG, which is
// what makes whole scenario runs reproducible.
func resolveFunction(name string, args map[string]float64) (genFunc, error) {
	arg := func(key string, def float64) float64 {
		if v, ok := args[key]; ok {
			return v
		}
		return def
	}

	switch name {
	case "sineWave":
		center := arg("center", 0)
		amplitude := arg("amplitude", 1)
		freq := arg("frequency_hz", 0.1)
		return func(t float64, _ *rand.Rand) float64 {
			return center + amplitude*math.Sin(2*math.Pi*freq*t)
		}, nil

	case "gaussianNoise":
		mean := arg("mean", 0)
		stddev := arg("stddev", 1)
		clampMin, hasMin := args["clamp_min"]
		clampMax, hasMax := args["clamp_max"]
		return func(_ float64, rng *rand.Rand) float64 {
			v := mean + rng.NormFloat64()*stddev
			if hasMin && v < clampMin {
				v = clampMin
			}
			if hasMax && v > clampMax {
				v = clampMax
			}
			return v
		}, nil

	case "randomWalk":
		value := arg("start", 0)
		maxStep := arg("max_step", 1)
		return func(_ float64, rng *rand.Rand) float64 {
			value += (rng.Float64()*2 - 1) * maxStep
			return value
		}, nil

	case "constant", "":
		value := arg("value", 0)
		return func(_ float64, _ *rand.Rand) float64 {
			return value
		}, nil
	}
	return nil, fmt.Errorf("scenario: unknown generator function %q", name)
}

// wrap360 folds any angle into [0, 360).
func wrap360(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// angleDelta is the shortest signed rotation from 'from' to 'to', in
// (-180, 180].
func angleDelta(from, to float64) float64 {
	d := math.Mod(to-from, 360)
	if d > 180 {
		d -= 360
	}
	if d <= -180 {
		d += 360
	}
	return d
}

package models

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// FiboLevel is a retracement or extension ratio between two swing legs.
type FiboLevel float64

const (
	Fibo062  FiboLevel = 0.0625
	Fibo125  FiboLevel = 0.125
	Fibo250  FiboLevel = 0.25
	Fibo333  FiboLevel = 0.333
	Fibo375  FiboLevel = 0.375
	Fibo500  FiboLevel = 0.5
	Fibo625  FiboLevel = 0.625
	Fibo666  FiboLevel = 0.666
	Fibo750  FiboLevel = 0.75
	Fibo875  FiboLevel = 0.875
	Fibo937  FiboLevel = 0.9375
	Fibo1000 FiboLevel = 1
	Fibo1062 FiboLevel = 1.0625
	Fibo1125 FiboLevel = 1.125
	Fibo1250 FiboLevel = 1.25
	Fibo1333 FiboLevel = 1.333
	Fibo1375 FiboLevel = 1.375
	Fibo1500 FiboLevel = 1.5
	Fibo1625 FiboLevel = 1.625
	Fibo1666 FiboLevel = 1.666
	Fibo1750 FiboLevel = 1.75
	Fibo1875 FiboLevel = 1.875
	Fibo1937 FiboLevel = 1.9375
	Fibo2000 FiboLevel = 2
)

// FiboLevels lists every level, ascending.
var FiboLevels = []FiboLevel{
	Fibo062, Fibo125, Fibo250, Fibo333, Fibo375, Fibo500, Fibo625, Fibo666,
	Fibo750, Fibo875, Fibo937, Fibo1000, Fibo1062, Fibo1125, Fibo1250,
	Fibo1333, Fibo1375, Fibo1500, Fibo1625, Fibo1666, Fibo1750, Fibo1875,
	Fibo1937, Fibo2000,
}

// Named level sets, each ascending.
var fiboSets = map[string][]FiboLevel{
	"all":          FiboLevels,
	"retracement":  FiboLevels[:12],
	"based":        {Fibo062, Fibo125, Fibo250, Fibo333, Fibo500, Fibo666, Fibo750, Fibo875, Fibo937, Fibo1000},
	"common":       {Fibo250, Fibo333, Fibo500, Fibo666, Fibo750, Fibo1000, Fibo1250, Fibo1333, Fibo1500, Fibo1666, Fibo1750, Fibo2000},
	"common_based": {Fibo250, Fibo333, Fibo500, Fibo666, Fibo750, Fibo1000},
}

// FiboSet returns the named level set: all, retracement (levels up to 1),
// based, common or common_based. An empty name means all.
func FiboSet(name string) ([]FiboLevel, error) {
	if name == "" {
		name = "all"
	}
	levels, ok := fiboSets[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown fibo level set %q", name)
	}
	return levels, nil
}

// MatchFibo returns the first of levels within maxErr of ratio.
func MatchFibo(ratio, maxErr float64, levels []FiboLevel) (FiboLevel, bool) {
	for _, l := range levels {
		if math.Abs(ratio-float64(l)) <= maxErr {
			return l, true
		}
	}
	return 0, false
}

// FiboGrid returns the based levels repeated at every whole offset up to max,
// ascending.
func FiboGrid(max float64) []float64 {
	based := fiboSets["based"]
	var out []float64
	for offset := 0; float64(offset) < math.Ceil(max); offset++ {
		for _, l := range based {
			if v := float64(l) + float64(offset); v <= max {
				out = append(out, v)
			}
		}
	}
	sort.Float64s(out)
	return out
}

func (l FiboLevel) String() string {
	return strconv.FormatFloat(float64(l), 'f', -1, 64)
}

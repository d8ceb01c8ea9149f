// Package policy は報酬額の抽選と日次上限の判定ロジックを提供する。
// 乱数源は差し替え可能にし、テストでは決定的に検証できるようにする。
package policy

import (
	"fmt"
	"math/rand/v2"
	"strconv"
)

// Drawer は報酬額の抽選を行う。
type Drawer struct {
	signMin     int
	signMax     int
	options     []int
	weights     []float64
	totalWeight float64

	intN  func(n int) int // [0, n) の一様乱数
	float func() float64  // [0.0, 1.0) の一様乱数
}

// NewDrawer はDrawerを生成する。
// optionsとweightsは同じ長さで、weightsは非負かつ合計が正でなければならない。
// weightsは正規化済みである必要はない。
func NewDrawer(signMin, signMax int, options []int, weights []float64) (*Drawer, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("lottery options must not be empty")
	}
	if len(options) != len(weights) {
		return nil, fmt.Errorf("lottery options and weights length mismatch: %d != %d", len(options), len(weights))
	}
	total := 0.0
	for i, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("lottery weight must not be negative: weights[%d] = %v", i, w)
		}
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("lottery weights must sum to a positive value: %v", total)
	}
	if signMin > signMax {
		return nil, fmt.Errorf("sign reward range inverted: min %d > max %d", signMin, signMax)
	}
	return &Drawer{
		signMin:     signMin,
		signMax:     signMax,
		options:     options,
		weights:     weights,
		totalWeight: total,
		intN:        rand.IntN,
		float:       rand.Float64,
	}, nil
}

// SignReward は[signMin, signMax]の一様乱数で報酬額を決定する。
func (d *Drawer) SignReward() int {
	if d.signMin == d.signMax {
		return d.signMin
	}
	return d.signMin + d.intN(d.signMax-d.signMin+1)
}

// LotteryPrize は重み付き抽選で賞金額を決定する。
// 各選択肢は weight_i / sum(weights) の確率で選ばれる。乱数を重み合計で
// スケールし、累積重みを走査して初めて下回った区間の額を返す。
// 浮動小数の丸めで端数が残った場合は最後の選択肢に落とす。
func (d *Drawer) LotteryPrize() int {
	r := d.float() * d.totalWeight
	cumulative := 0.0
	for i, w := range d.weights {
		cumulative += w
		if r < cumulative {
			return d.options[i]
		}
	}
	return d.options[len(d.options)-1]
}

// RedemptionLabel は賞金額に対応する引き換えラベルを返す。
func RedemptionLabel(prize int) string {
	return "DIRECT_" + strconv.Itoa(prize) + "$"
}

// RemainingAttempts は当日の残り抽選可能回数を返す。負にはならない。
func RemainingAttempts(used, baseLimit, purchased int) int {
	remaining := baseLimit + purchased - used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HasSufficientBalance は残高がコストを賄えるかを返す。
func HasSufficientBalance(availableUnits int64, cost int) bool {
	return availableUnits >= int64(cost)
}

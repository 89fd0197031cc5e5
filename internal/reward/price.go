package reward

import (
	"crypto/md5"
	"math"
	"math/big"
	"time"
)

// Sell price factor bounds.
const (
	minDateFactor  = 0.7
	dateFactorSpan = 0.7
	minPriceFactor = 0.7
	maxPriceFactor = 2.0
	luckyPriceGain = 0.2
)

// DateFactor returns the market factor for day, in [0.7, 1.4). Every
// process derives the same factor for the same calendar day.
func DateFactor(day time.Time) float64 {
	sum := md5.Sum([]byte(day.Format(time.DateOnly)))
	h := new(big.Int).SetBytes(sum[:])
	bucket := new(big.Int).Mod(h, big.NewInt(10000)).Int64()
	return minDateFactor + float64(bucket)/10000*dateFactorSpan
}

// PriceFactor returns the sell price factor for day and a lucky number.
// A lucky number of 0 means none. The result is clamped to [0.7, 2.0]
// and rounded to two decimals.
func PriceFactor(day time.Time, lucky int) float64 {
	f := DateFactor(day)
	if lucky > 0 {
		f += f * float64(lucky) / 100 * luckyPriceGain
	}
	f = min(max(f, minPriceFactor), maxPriceFactor)
	return math.Round(f*100) / 100
}

// SellValue returns the currency paid for quantity units at factor.
func SellValue(price, quantity int64, factor float64) int64 {
	return int64(float64(price*quantity) * factor)
}

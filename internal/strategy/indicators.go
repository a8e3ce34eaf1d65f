package strategy

import "math"

// emaSeries returns the exponential moving average with alpha = 2/(span+1),
// seeded from the first value.
func emaSeries(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// macdSeries returns the MACD line (EMA12-EMA26) and its EMA9 signal line.
func macdSeries(closes []float64) (macd, signal []float64) {
	fast := emaSeries(closes, 12)
	slow := emaSeries(closes, 26)
	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = fast[i] - slow[i]
	}
	signal = emaSeries(macd, 9)
	return macd, signal
}

// rsiSeries computes RSI using simple rolling means of gains and losses.
// Entries before one full period are NaN.
func rsiSeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(closes) <= period {
		return out
	}
	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}
	for i := period; i < len(closes); i++ {
		var gainSum, lossSum float64
		for j := i - period + 1; j <= i; j++ {
			gainSum += gains[j]
			lossSum += losses[j]
		}
		avgGain := gainSum / float64(period)
		avgLoss := lossSum / float64(period)
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// stochRSISeries scales RSI into its rolling min/max range (0..100) and
// returns the series with its 3-period rolling-mean signal line.
func stochRSISeries(closes []float64, period int) (stoch, signal []float64) {
	rsi := rsiSeries(closes, period)
	stoch = make([]float64, len(closes))
	signal = make([]float64, len(closes))
	for i := range stoch {
		stoch[i] = math.NaN()
		signal[i] = math.NaN()
	}
	for i := range rsi {
		if i < period {
			continue
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		valid := true
		for j := i - period + 1; j <= i; j++ {
			if j < 0 || math.IsNaN(rsi[j]) {
				valid = false
				break
			}
			lo = math.Min(lo, rsi[j])
			hi = math.Max(hi, rsi[j])
		}
		if !valid || hi == lo {
			continue
		}
		stoch[i] = (rsi[i] - lo) / (hi - lo) * 100
	}
	for i := 2; i < len(stoch); i++ {
		if math.IsNaN(stoch[i]) || math.IsNaN(stoch[i-1]) || math.IsNaN(stoch[i-2]) {
			continue
		}
		signal[i] = (stoch[i] + stoch[i-1] + stoch[i-2]) / 3
	}
	return stoch, signal
}

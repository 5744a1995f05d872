package engine

import (
	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/shopspring/decimal"
)

// candleBucket collects the candles opened at one time and the ticks still
// to be released for them.
type candleBucket struct {
	candles []*model.Candle
	ticks   []*model.Execution
}

func (e *Engine) processCandle(candle *model.Candle, out *model.Batch) error {
	key := candle.OpenTime.UnixNano()
	bucket, ok := e.candles.Get(key)
	if !ok {
		bucket = &candleBucket{}
		e.candles.Set(key, bucket)
	}
	bucket.candles = append(bucket.candles, candle)

	ticks := CandleTicks(candle, e.volumeStep())
	if len(ticks) == 0 {
		return nil
	}
	bucket.ticks = append(bucket.ticks, ticks[1:]...)
	return e.processExecution(ticks[0], out)
}

// CandleTicks splits a candle into up to four ticks (open, high, low, close)
// in the order the prices were most likely visited. Each of the first three
// carries a quarter of the volume rounded to volumeStep, the close takes the rest.
func CandleTicks(candle *model.Candle, volumeStep decimal.Decimal) []*model.Execution {
	one := decimal.NewFromInt(1)
	total := candle.TotalVolume
	vol := total.Div(decimal.NewFromInt(4))
	if volumeStep.IsPositive() {
		vol = vol.Div(volumeStep).Round(0).Mul(volumeStep)
	}
	uptrend := candle.Close.GreaterThanOrEqual(candle.Open)
	trend := model.SideSell
	if uptrend {
		trend = model.SideBuy
	}

	tick := func(side model.Side, price, volume decimal.Decimal) *model.Execution {
		if !volume.IsPositive() || !price.IsPositive() {
			return nil
		}
		return &model.Execution{
			Header:      model.Header{LocalTime: candle.LocalTime, ServerTime: candle.OpenTime},
			SecurityID:  candle.SecurityID,
			DataType:    model.DataTypeTicks,
			TradePrice:  decimal.NewNullDecimal(price),
			TradeVolume: decimal.NewNullDecimal(volume),
			OriginSide:  model.SideRef(side),
		}
	}

	var o, h, l, c *model.Execution
	flat := candle.Open.Equal(candle.Close) && candle.Low.Equal(candle.High) && candle.Open.Equal(candle.Low)
	switch {
	case flat || total.Equal(one):
		o = tick(model.SideBuy, candle.Open, total)
	case total.Equal(decimal.NewFromInt(2)):
		h = tick(model.SideBuy, candle.High, one)
		l = tick(model.SideSell, candle.Low, one)
	case total.Equal(decimal.NewFromInt(3)):
		o = tick(trend, candle.Open, one)
		h = tick(model.SideBuy, candle.High, one)
		l = tick(model.SideSell, candle.Low, one)
	default:
		o = tick(trend, candle.Open, vol)
		h = tick(model.SideBuy, candle.High, vol)
		l = tick(model.SideSell, candle.Low, vol)
		c = tick(trend, candle.Close, total.Sub(vol.Mul(decimal.NewFromInt(3))))
	}

	order := []*model.Execution{o, h, l, c}
	if candle.Close.GreaterThan(candle.Open) {
		order = []*model.Execution{o, l, h, c}
	}
	ticks := make([]*model.Execution, 0, len(order))
	for _, t := range order {
		if t != nil {
			ticks = append(ticks, t)
		}
	}
	return ticks
}

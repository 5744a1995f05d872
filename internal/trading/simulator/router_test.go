package simulator

import (
	"testing"
	"time"

	"github.com/Aidin1998/pincex_sim/internal/trading/config"
	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/Aidin1998/pincex_sim/pkg/errors"
	"github.com/Aidin1998/pincex_sim/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

var (
	sber = model.SecurityID{Code: "SBER", Board: "TQBR"}
	gazp = model.SecurityID{Code: "GAZP", Board: "TQBR"}
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testSettings() config.Settings {
	s := config.DefaultSettings()
	s.IncreaseDepthVolume = false
	s.PriceLimitOffset = decimal.Zero
	return s
}

type RouterSuite struct {
	suite.Suite
	settings  config.Settings
	collector *metrics.Collector
	router    *Router
	t0        time.Time
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.settings = testSettings()
	s.t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.build()
}

func (s *RouterSuite) build() {
	s.collector = metrics.NewCollector(prometheus.NewRegistry())
	r, err := New(s.settings, zaptest.NewLogger(s.T()), s.collector)
	s.Require().NoError(err)
	s.router = r
	s.process(&model.Reset{Header: s.at(0)})
	s.process(&model.Connect{Header: s.at(0)})
	s.process(&model.SecurityDefinition{Header: s.at(0), SecurityID: sber, PriceStep: d("0.5"), VolumeStep: d("1")})
}

func (s *RouterSuite) at(offset time.Duration) model.Header {
	t := s.t0.Add(offset)
	return model.Header{LocalTime: t, ServerTime: t}
}

func (s *RouterSuite) process(msg model.Message) model.Batch {
	return s.router.Process(msg)
}

func (s *RouterSuite) register(id model.SecurityID, tx int64, pf string, side model.Side, price, volume string) model.Batch {
	return s.process(&model.OrderRegister{
		Header: s.at(0), SecurityID: id, TransactionID: tx, Side: side,
		Price: d(price), Volume: d(volume), PortfolioName: pf,
	})
}

func (s *RouterSuite) setMoney(pf, money string) {
	s.process((&model.PositionChange{Header: s.at(0), PortfolioName: pf, SecurityID: model.MoneyID}).
		Add(model.PositionBeginValue, d(money)))
}

func reports(out model.Batch) []*model.Execution {
	var res []*model.Execution
	for _, m := range out {
		if e, ok := m.(*model.Execution); ok && e.HasOrderInfo {
			res = append(res, e)
		}
	}
	return res
}

func ofKind(out model.Batch, kind model.Kind) []model.Message {
	var res []model.Message
	for _, m := range out {
		if m.Kind() == kind {
			res = append(res, m)
		}
	}
	return res
}

func (s *RouterSuite) TestResetAndConnect() {
	out := s.process(&model.Reset{Header: s.at(0)})
	s.Require().Len(out, 1)
	s.Equal(model.KindReset, out[0].Kind())
	s.Empty(s.router.Engines())
	s.Empty(s.router.Ledgers())
	s.Zero(s.router.Processed())

	out = s.process(&model.Connect{Header: s.at(0)})
	s.Require().Len(out, 1)
	s.Equal(model.KindConnect, out[0].Kind())
	s.Require().Len(s.router.Ledgers(), 1)
	s.Equal("Simulator", s.router.Ledgers()[0].Name())
	s.Equal(int64(1), s.router.Processed())
}

func (s *RouterSuite) TestIDsRestartFromInitialValues() {
	s.settings.InitialOrderID = 1000
	s.build()

	out := s.register(sber, 1, "", model.SideBuy, "100", "1")
	s.Equal(int64(1001), reports(out)[0].OrderID)

	s.process(&model.Reset{Header: s.at(0)})
	out = s.register(sber, 1, "", model.SideBuy, "100", "1")
	s.Equal(int64(1001), reports(out)[0].OrderID)
}

func (s *RouterSuite) TestEmptyPortfolioUsesDefault() {
	out := s.register(sber, 1, "", model.SideBuy, "100", "5")

	rs := reports(out)
	s.Require().Len(rs, 1)
	s.Equal("Simulator", rs[0].PortfolioName)
	s.Equal(model.OrderStateActive, rs[0].OrderState)
	s.Len(s.router.Engines()[0].ActiveOrders(), 1)
}

func (s *RouterSuite) TestPriceAndVolumeStepValidation() {
	out := s.register(sber, 1, "P", model.SideBuy, "100.3", "5")
	rs := reports(out)
	s.Require().Len(rs, 1)
	s.Equal(model.OrderStateFailed, rs[0].OrderState)
	s.Equal(errors.KindInvalidOrder, rs[0].Error.Kind)
	s.Equal("price", rs[0].Error.Fields[0].Field)

	out = s.register(sber, 2, "P", model.SideBuy, "100.5", "2.5")
	rs = reports(out)
	s.Require().Len(rs, 1)
	s.Equal(model.OrderStateFailed, rs[0].OrderState)
	s.Equal("volume", rs[0].Error.Fields[0].Field)

	out = s.register(sber, 3, "P", model.SideBuy, "100.5", "0")
	s.Equal(model.OrderStateFailed, reports(out)[0].OrderState)

	out = s.register(sber, 4, "P", model.SideBuy, "100.5", "3")
	s.Equal(model.OrderStateActive, reports(out)[0].OrderState)
}

func (s *RouterSuite) TestInferredStepDoesNotRejectOrders() {
	s.process(&model.Execution{
		Header: s.at(0), SecurityID: gazp, DataType: model.DataTypeTicks,
		TradePrice: decimal.NewNullDecimal(d("100")), TradeVolume: decimal.NewNullDecimal(d("1")),
	})
	out := s.register(gazp, 1, "P", model.SideBuy, "90.25", "1")
	s.Equal(model.OrderStateActive, reports(out)[0].OrderState)
}

func (s *RouterSuite) TestVolumeBounds() {
	s.process(&model.SecurityDefinition{Header: s.at(0), SecurityID: gazp, MinVolume: d("2"), MaxVolume: d("10")})

	for _, tc := range []struct {
		volume string
		state  model.OrderState
	}{{"1", model.OrderStateFailed}, {"2", model.OrderStateActive}, {"11", model.OrderStateFailed}} {
		out := s.register(gazp, 1, "P", model.SideBuy, "50", tc.volume)
		s.Equal(tc.state, reports(out)[0].OrderState, "volume %s", tc.volume)
	}
}

func (s *RouterSuite) TestBasketIsNotTradable() {
	s.process(&model.SecurityDefinition{Header: s.at(0), SecurityID: gazp, BasketCode: "IDX"})
	out := s.register(gazp, 1, "P", model.SideBuy, "50", "1")
	s.Equal(errors.KindNonTradable, reports(out)[0].Error.Kind)
}

func (s *RouterSuite) TestStoppedBoardRejectsCommands() {
	s.settings.CheckTradingState = true
	s.build()

	out := s.process(&model.BoardState{Header: s.at(0), Board: "TQBR", State: model.SessionPaused})
	s.Len(ofKind(out, model.KindBoardState), 1)

	out = s.register(sber, 1, "P", model.SideBuy, "100", "1")
	rs := reports(out)
	s.Require().Len(rs, 1)
	s.Equal(model.OrderStateFailed, rs[0].OrderState)
	s.Equal(errors.KindMarketClosed, rs[0].Error.Kind)
	s.Equal(int64(1), rs[0].OriginalTransactionID)

	out = s.process(&model.OrderCancel{Header: s.at(0), SecurityID: sber, TransactionID: 2, OriginalTransactionID: 1})
	s.True(reports(out)[0].IsCancellation)

	s.process(&model.BoardState{Header: s.at(0), Board: "TQBR", State: model.SessionStarted})
	out = s.register(sber, 3, "P", model.SideBuy, "100", "1")
	s.Equal(model.OrderStateActive, reports(out)[0].OrderState)

	s.process(&model.BoardState{Header: s.at(0), State: model.SessionEnded})
	out = s.register(sber, 4, "P", model.SideBuy, "100", "1")
	s.Equal(model.OrderStateFailed, reports(out)[0].OrderState)
}

func (s *RouterSuite) TestTradingPeriods() {
	s.settings.CheckTradingState = true
	s.build()
	s.process(&model.BoardDefinition{Header: s.at(0), Code: "TQBR", Periods: []model.TradingPeriod{{From: "10:30", Till: "18:45"}}})

	out := s.register(sber, 1, "P", model.SideBuy, "100", "1")
	s.Equal(errors.KindMarketClosed, reports(out)[0].Error.Kind)

	out = s.process(&model.OrderRegister{
		Header: s.at(time.Hour), SecurityID: sber, TransactionID: 2, Side: model.SideBuy,
		Price: d("100"), Volume: d("1"), PortfolioName: "P",
	})
	s.Equal(model.OrderStateActive, reports(out)[0].OrderState)
}

func (s *RouterSuite) TestSecurityStoppedByLevel1() {
	s.settings.CheckTradingState = true
	s.build()
	s.process(&model.Level1{Header: s.at(0), SecurityID: sber, State: model.SecurityStopped})

	out := s.register(sber, 1, "P", model.SideBuy, "100", "1")
	s.Equal(errors.KindSecurityStopped, reports(out)[0].Error.Kind)
}

func (s *RouterSuite) TestPriceLimitsRejectOutOfBandOrders() {
	s.settings.PriceLimitOffset = d("40")
	s.build()

	out := s.process(&model.Execution{
		Header: s.at(0), SecurityID: sber, DataType: model.DataTypeTicks,
		TradePrice: decimal.NewNullDecimal(d("100")), TradeVolume: decimal.NewNullDecimal(d("1")),
	})
	limits := ofKind(out, model.KindLevel1)
	s.Require().Len(limits, 1)
	maxPrice, ok := limits[0].(*model.Level1).Get(model.Level1MaxPrice)
	s.Require().True(ok)
	s.True(maxPrice.Equal(d("140")))

	out = s.register(sber, 1, "P", model.SideBuy, "150", "1")
	s.Equal(errors.KindInvalidOrder, reports(out)[0].Error.Kind)
	out = s.register(sber, 2, "P", model.SideBuy, "50", "1")
	s.Equal(errors.KindInvalidOrder, reports(out)[0].Error.Kind)
	out = s.register(sber, 3, "P", model.SideBuy, "95", "1")
	s.Equal(model.OrderStateActive, reports(out)[0].OrderState)
}

func (s *RouterSuite) TestMarginGating() {
	s.settings.CheckMoney = true
	s.build()
	s.setMoney("P", "500")
	s.process((&model.Level1{Header: s.at(0), SecurityID: sber}).Set(model.Level1MarginBuy, d("100")))

	out := s.register(sber, 1, "P", model.SideBuy, "100", "10")
	rs := reports(out)
	s.Require().Len(rs, 1)
	s.Equal(model.OrderStateFailed, rs[0].OrderState)
	s.Equal(errors.KindInsufficientFunds, rs[0].Error.Kind)
	s.Contains(rs[0].Error.Message, "shortfall 500")

	out = s.register(sber, 2, "P", model.SideBuy, "100", "5")
	s.Equal(model.OrderStateActive, reports(out)[0].OrderState)
}

func (s *RouterSuite) TestMarginChangeRecomputesBlockedMoney() {
	s.setMoney("P", "10000")
	s.register(sber, 1, "P", model.SideBuy, "100", "10")

	out := s.process((&model.Level1{Header: s.at(0), SecurityID: sber}).Set(model.Level1MarginBuy, d("50")))
	changes := ofKind(out, model.KindPositionChange)
	s.Require().Len(changes, 1)
	blocked, ok := changes[0].(*model.PositionChange).Get(model.PositionBlockedValue)
	s.Require().True(ok)
	s.True(blocked.Equal(d("500")))

	out = s.process((&model.Level1{Header: s.at(0), SecurityID: sber}).Set(model.Level1MarginBuy, d("50")))
	s.Empty(ofKind(out, model.KindPositionChange))
}

func (s *RouterSuite) TestFillUpdatesPortfolio() {
	s.setMoney("P", "10000")
	s.process(&model.OrderBookSnapshot{
		Header: s.at(0), SecurityID: sber,
		Bids:   []model.Quote{{Price: d("99"), Volume: d("10")}},
		Asks:   []model.Quote{{Price: d("101"), Volume: d("10")}},
	})

	out := s.register(sber, 1, "P", model.SideBuy, "102", "5")

	var fills []*model.Execution
	for _, m := range out {
		if e, ok := m.(*model.Execution); ok && e.HasTradeInfo {
			fills = append(fills, e)
		}
	}
	s.Require().Len(fills, 1)
	s.True(fills[0].TradePrice.Decimal.Equal(d("101")))

	var ledgerNames []string
	for _, l := range s.router.Ledgers() {
		ledgerNames = append(ledgerNames, l.Name())
	}
	s.Equal([]string{"Simulator", "P"}, ledgerNames)

	positions := s.router.Ledgers()[1].Snapshot()
	s.Require().Len(positions, 1)
	s.True(positions[0].Current.Equal(d("5")))
	s.True(positions[0].AveragePrice.Equal(d("101")))
	s.True(positions[0].TotalBids.IsZero())

	s.Equal(float64(1), testutil.ToFloat64(s.collector.Fills.WithLabelValues("buy")))
}

func (s *RouterSuite) TestStructuralErrorBecomesErrorReport() {
	out := s.process(&model.Execution{Header: s.at(0), SecurityID: sber, DataType: model.DataTypeTicks})

	s.Require().Len(out, 1)
	report, ok := out[0].(*model.ErrorReport)
	s.Require().True(ok)
	s.Equal(model.KindExecution, report.InputKind)
	s.Equal(float64(1), testutil.ToFloat64(s.collector.StructuralErrors))

	out = s.register(sber, 1, "P", model.SideBuy, "100", "1")
	s.Equal(model.OrderStateActive, reports(out)[0].OrderState)
}

func (s *RouterSuite) TestGroupCancelAcrossSecurities() {
	s.register(sber, 1, "P", model.SideBuy, "100", "1")
	s.register(gazp, 2, "P", model.SideBuy, "50", "1")
	s.register(gazp, 3, "Q", model.SideBuy, "50", "1")

	out := s.process(&model.OrderGroupCancel{Header: s.at(0), TransactionID: 4, PortfolioName: "P"})
	rs := reports(out)
	s.Require().Len(rs, 2)
	for _, r := range rs {
		s.Equal(model.OrderStateDone, r.OrderState)
		s.Equal("P", r.PortfolioName)
	}

	out = s.process(&model.OrderStatusRequest{Header: s.at(0), TransactionID: 5})
	s.Len(reports(out), 1)
	s.Equal(model.KindSubscriptionOnline, out[len(out)-1].Kind())
}

func (s *RouterSuite) TestOrderStatusWithoutMatchStillGoesOnline() {
	s.register(sber, 1, "P", model.SideBuy, "100", "1")

	out := s.process(&model.OrderStatusRequest{Header: s.at(0), TransactionID: 7, OrderID: 999})
	s.Require().Len(out, 1)
	online, ok := out[0].(*model.SubscriptionOnline)
	s.Require().True(ok)
	s.Equal(int64(7), online.OriginalTransactionID)

	out = s.process(&model.OrderStatusRequest{Header: s.at(0), TransactionID: 8, PortfolioName: "nobody"})
	s.Require().Len(out, 1)
	s.Equal(model.KindSubscriptionOnline, out[0].Kind())
}

func (s *RouterSuite) TestPortfolioLookup() {
	s.setMoney("P", "1000")
	s.register(sber, 1, "P", model.SideBuy, "100", "1")

	out := s.process(&model.PortfolioLookup{Header: s.at(0), TransactionID: 9})

	infos := ofKind(out, model.KindPortfolioInfo)
	s.Require().Len(infos, 2)
	s.Equal("Simulator", infos[0].(*model.PortfolioInfo).PortfolioName)
	s.Equal("P", infos[1].(*model.PortfolioInfo).PortfolioName)
	s.Equal(model.KindSubscriptionFinished, out[len(out)-1].Kind())

	out = s.process(&model.PortfolioLookup{Header: s.at(0), TransactionID: 10, PortfolioName: "missing"})
	s.Len(out, 2)
}

func (s *RouterSuite) TestMarketDataSubscriptionIsAcknowledged() {
	out := s.process(&model.MarketDataSubscription{
		Header: s.at(0), SecurityID: sber, TransactionID: 7, DataType: model.MarketDataDepth, IsSubscribe: true,
	})
	acks := ofKind(out, model.KindSubscriptionResponse)
	s.Require().Len(acks, 1)
	s.Equal(int64(7), acks[0].(*model.SubscriptionResponse).OriginalTransactionID)

	out = s.register(sber, 1, "P", model.SideBuy, "100", "1")
	s.Len(ofKind(out, model.KindOrderBookSnapshot), 1)
}

func (s *RouterSuite) TestPeriodicPnLRecalculation() {
	s.settings.PortfolioRecalcInterval = time.Minute
	s.build()

	out := s.process(&model.TimeTick{Header: s.at(30 * time.Second)})
	s.Empty(ofKind(out, model.KindPositionChange))

	out = s.process(&model.TimeTick{Header: s.at(2 * time.Minute)})
	changes := ofKind(out, model.KindPositionChange)
	s.Require().Len(changes, 1)
	s.Equal("Simulator", changes[0].(*model.PositionChange).PortfolioName)
}

func (s *RouterSuite) TestOutputBuffering() {
	s.settings.BufferTime = time.Second
	s.build()
	held := s.router.Flush()
	s.Require().Len(held, 1)
	s.Equal(model.KindConnect, held[0].Kind())

	out := s.process(&model.BoardState{Header: s.at(500 * time.Millisecond), Board: "A", State: model.SessionStarted})
	s.Empty(out)
	out = s.process(&model.BoardState{Header: s.at(900 * time.Millisecond), Board: "B", State: model.SessionStarted})
	s.Empty(out)
	out = s.process(&model.BoardState{Header: s.at(1500 * time.Millisecond), Board: "C", State: model.SessionStarted})
	s.Len(out, 3)

	s.process(&model.BoardState{Header: s.at(1600 * time.Millisecond), Board: "D", State: model.SessionStarted})
	s.Len(s.router.Flush(), 1)
	s.Empty(s.router.Flush())
}

func (s *RouterSuite) TestUnknownKindsAreEchoed() {
	msg := &model.PortfolioInfo{Header: s.at(0), PortfolioName: "P"}
	out := s.process(msg)
	s.Require().Len(out, 1)
	s.Same(msg, out[0])
}

func TestReplayIsDeterministic(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	at := func(offset time.Duration) model.Header {
		return model.Header{LocalTime: t0.Add(offset), ServerTime: t0.Add(offset)}
	}
	script := func() []model.Message {
		return []model.Message{
			&model.Reset{Header: at(0)},
			&model.Connect{Header: at(0)},
			(&model.PositionChange{Header: at(0), PortfolioName: "P", SecurityID: model.MoneyID}).
				Add(model.PositionBeginValue, d("100000")),
			&model.OrderBookSnapshot{
				Header: at(time.Second), SecurityID: sber,
				Bids: []model.Quote{{Price: d("90"), Volume: d("10")}},
				Asks: []model.Quote{{Price: d("110"), Volume: d("10")}},
			},
			&model.Execution{
				Header: at(2 * time.Second), SecurityID: sber, DataType: model.DataTypeTicks,
				TradePrice: decimal.NewNullDecimal(d("100")),
			},
			&model.OrderRegister{
				Header: at(3 * time.Second), SecurityID: sber, TransactionID: 1, Side: model.SideBuy,
				Price: d("105"), Volume: d("30"), PortfolioName: "P",
			},
			&model.OrderBookSnapshot{
				Header: at(4 * time.Second), SecurityID: sber,
				Bids: []model.Quote{{Price: d("95"), Volume: d("20")}, {Price: d("94"), Volume: d("5")}},
				Asks: []model.Quote{{Price: d("97"), Volume: d("12")}},
			},
			&model.Candle{
				Header: at(5 * time.Second), SecurityID: gazp, OpenTime: t0.Add(5 * time.Second),
				Open: d("50"), High: d("55"), Low: d("48"), Close: d("52"), TotalVolume: d("40"),
			},
			&model.TimeTick{Header: at(time.Minute)},
			&model.PortfolioLookup{Header: at(time.Minute), TransactionID: 2},
		}
	}

	settings := config.DefaultSettings()
	settings.RandomSeed = 99
	settings.SpreadSize = 3

	run := func(r *Router) []model.Message {
		var out []model.Message
		for _, msg := range script() {
			out = append(out, r.Process(msg)...)
		}
		return out
	}

	r1, err := New(settings, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	r2, err := New(settings, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	first := run(r1)
	assert.NotEmpty(t, ofKind(first, model.KindExecution))
	assert.Empty(t, ofKind(first, model.KindErrorReport))
	assert.Equal(t, first, run(r2))
	assert.Equal(t, first, run(r1))
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	settings := config.DefaultSettings()
	settings.Failing = 150
	_, err := New(settings, zaptest.NewLogger(t), nil)
	require.Error(t, err)
}

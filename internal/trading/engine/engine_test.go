package engine

import (
	"testing"
	"time"

	"github.com/Aidin1998/pincex_sim/internal/trading/config"
	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/Aidin1998/pincex_sim/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

var sec = model.SecurityID{Code: "SBER", Board: "TQBR"}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeLedger struct {
	reserved decimal.Decimal
	released decimal.Decimal
	trades   []*model.Execution
}

func (l *fakeLedger) ProcessOrder(order *model.Execution, cancelBalance *decimal.Decimal, _ *model.Batch) decimal.NullDecimal {
	if cancelBalance == nil {
		l.reserved = l.reserved.Add(order.OrderVolume)
	} else {
		l.released = l.released.Add(*cancelBalance)
	}
	return decimal.NullDecimal{}
}

func (l *fakeLedger) ProcessTrade(_ model.Side, trade *model.Execution, _ *model.Batch) {
	l.trades = append(l.trades, trade)
}

type fakeHost struct {
	orderID, tradeID int64
	ledgers          map[string]*fakeLedger
	reject           *errors.Error
	level1           []*model.Level1
}

func newFakeHost() *fakeHost {
	return &fakeHost{ledgers: make(map[string]*fakeLedger)}
}

func (h *fakeHost) NextOrderID() int64 { h.orderID++; return h.orderID }
func (h *fakeHost) NextTradeID() int64 { h.tradeID++; return h.tradeID }

func (h *fakeHost) Ledger(name string) Ledger { return h.ledger(name) }

func (h *fakeHost) ledger(name string) *fakeLedger {
	l, ok := h.ledgers[name]
	if !ok {
		l = &fakeLedger{}
		h.ledgers[name] = l
	}
	return l
}

func (h *fakeHost) CheckRegistration(*model.Execution, *model.SecurityDefinition) *errors.Error {
	return h.reject
}

func (h *fakeHost) UpdateLevel1(msg *model.Level1, out *model.Batch) {
	h.level1 = append(h.level1, msg)
	out.Add(msg)
}

func (h *fakeHost) MarginPrice(model.SecurityID, model.Side) (decimal.Decimal, bool) {
	return decimal.Zero, false
}

func (h *fakeHost) Board(string) *model.BoardDefinition { return nil }

func testSettings() config.Settings {
	s := config.DefaultSettings()
	s.IncreaseDepthVolume = false
	s.PriceLimitOffset = decimal.Zero
	return s
}

type EngineSuite struct {
	suite.Suite
	settings config.Settings
	host     *fakeHost
	engine   *Engine
	t0       time.Time
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.settings = testSettings()
	s.t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.reset()
}

func (s *EngineSuite) reset() {
	s.host = newFakeHost()
	e, err := New(sec, s.host, s.settings, zaptest.NewLogger(s.T()), 42)
	s.Require().NoError(err)
	s.engine = e
	s.process(&model.SecurityDefinition{Header: s.at(0), SecurityID: sec, PriceStep: d("1"), VolumeStep: d("1")})
}

func (s *EngineSuite) at(offset time.Duration) model.Header {
	t := s.t0.Add(offset)
	return model.Header{LocalTime: t, ServerTime: t}
}

func (s *EngineSuite) process(msg model.Message) model.Batch {
	var out model.Batch
	s.Require().NoError(s.engine.Process(msg, &out))
	s.Require().NoError(s.engine.Book().Verify())
	return out
}

func (s *EngineSuite) register(tx int64, pf string, side model.Side, price, volume string, tif model.TimeInForce) model.Batch {
	return s.process(&model.OrderRegister{
		Header:        s.at(0),
		SecurityID:    sec,
		TransactionID: tx,
		Side:          side,
		OrderType:     model.OrderTypeLimit,
		TimeInForce:   tif,
		Price:         d(price),
		Volume:        d(volume),
		PortfolioName: pf,
	})
}

func (s *EngineSuite) orderLog(side model.Side, price, volume string) model.Batch {
	return s.process(&model.Execution{
		Header:       s.at(0),
		SecurityID:   sec,
		DataType:     model.DataTypeOrderLog,
		HasOrderInfo: true,
		Side:         side,
		OrderPrice:   d(price),
		OrderVolume:  d(volume),
	})
}

func (s *EngineSuite) tick(offset time.Duration, price, volume string) model.Batch {
	return s.process(&model.Execution{
		Header:      s.at(offset),
		SecurityID:  sec,
		DataType:    model.DataTypeTicks,
		TradePrice:  decimal.NewNullDecimal(d(price)),
		TradeVolume: decimal.NewNullDecimal(d(volume)),
	})
}

func orderReports(out model.Batch) []*model.Execution {
	var res []*model.Execution
	for _, m := range out {
		if e, ok := m.(*model.Execution); ok && e.HasOrderInfo && e.DataType == model.DataTypeTransactions {
			res = append(res, e)
		}
	}
	return res
}

func trades(out model.Batch, pf string) []*model.Execution {
	var res []*model.Execution
	for _, m := range out {
		if e, ok := m.(*model.Execution); ok && e.HasTradeInfo && e.PortfolioName == pf {
			res = append(res, e)
		}
	}
	return res
}

func quotes(qs []model.Quote) map[string]string {
	m := make(map[string]string, len(qs))
	for _, q := range qs {
		m[q.Price.String()] = q.Volume.String()
	}
	return m
}

func (s *EngineSuite) TestRestingOrderIsAcknowledgedActive() {
	out := s.register(1, "X", model.SideBuy, "100", "5", "")

	reports := orderReports(out)
	s.Require().Len(reports, 1)
	s.Equal(model.OrderStateActive, reports[0].OrderState)
	s.Equal(int64(1), reports[0].OrderID)
	s.Equal(int64(1), reports[0].OriginalTransactionID)
	s.True(reports[0].Balance.Decimal.Equal(d("5")))

	s.Equal(map[string]string{"100": "5"}, quotes(s.engine.Book().Bids.Snapshot()))
	s.True(s.host.ledger("X").reserved.Equal(d("5")))
}

func (s *EngineSuite) TestPriceTimePriority() {
	s.register(1, "A", model.SideSell, "101", "5", "")
	s.register(2, "B", model.SideSell, "101", "5", "")
	s.register(3, "C", model.SideSell, "100", "5", "")

	out := s.register(4, "D", model.SideBuy, "102", "12", "")

	fills := trades(out, "D")
	s.Require().Len(fills, 3)
	for i, want := range []struct{ price, volume string }{{"100", "5"}, {"101", "5"}, {"101", "2"}} {
		s.True(fills[i].TradePrice.Decimal.Equal(d(want.price)), "fill %d price", i)
		s.True(fills[i].TradeVolume.Decimal.Equal(d(want.volume)), "fill %d volume", i)
		s.False(fills[i].IsMaker)
	}

	var makers []string
	for _, m := range out {
		if e, ok := m.(*model.Execution); ok && e.HasTradeInfo && e.IsMaker {
			makers = append(makers, e.PortfolioName)
		}
	}
	s.Equal([]string{"C", "A", "B"}, makers)

	reports := orderReports(out)
	last := reports[len(reports)-1]
	s.Equal(int64(4), last.OriginalTransactionID)
	s.Equal(model.OrderStateDone, last.OrderState)

	active := s.engine.ActiveOrders()
	s.Require().Len(active, 1)
	s.Equal("B", active[0].PortfolioName)
	s.True(active[0].Balance.Decimal.Equal(d("3")))
	s.Equal(map[string]string{"101": "3"}, quotes(s.engine.Book().Asks.Snapshot()))
}

func (s *EngineSuite) TestEqualPriceNeedsMatchOnTouch() {
	s.orderLog(model.SideSell, "100", "5")
	out := s.register(1, "X", model.SideBuy, "100", "5", "")
	s.Empty(trades(out, "X"))

	s.settings.MatchOnTouch = true
	s.reset()
	s.orderLog(model.SideSell, "100", "5")
	out = s.register(1, "X", model.SideBuy, "100", "5", "")
	s.Len(trades(out, "X"), 1)
}

func (s *EngineSuite) TestFillOrKillLeavesBookUntouched() {
	s.orderLog(model.SideSell, "100", "5")

	out := s.register(1, "X", model.SideBuy, "101", "10", model.TimeInForceMatchOrCancel)

	s.Empty(trades(out, "X"))
	reports := orderReports(out)
	s.Require().Len(reports, 2)
	s.Equal(model.OrderStateActive, reports[0].OrderState)
	s.Equal(model.OrderStateDone, reports[1].OrderState)
	s.True(reports[1].Balance.Decimal.Equal(d("10")))

	s.Equal(map[string]string{"100": "5"}, quotes(s.engine.Book().Asks.Snapshot()))
	s.Empty(s.engine.Book().Bids.Snapshot())
	s.True(s.host.ledger("X").released.Equal(d("10")))
}

func (s *EngineSuite) TestFillOrKillFillsCompletely() {
	s.orderLog(model.SideSell, "100", "4")
	s.orderLog(model.SideSell, "101", "6")

	out := s.register(1, "X", model.SideBuy, "102", "10", model.TimeInForceMatchOrCancel)

	s.Len(trades(out, "X"), 2)
	reports := orderReports(out)
	s.Equal(model.OrderStateDone, reports[len(reports)-1].OrderState)
	s.True(reports[len(reports)-1].Balance.Decimal.IsZero())
	s.Empty(s.engine.Book().Asks.Snapshot())
}

func (s *EngineSuite) TestImmediateOrCancelKeepsPartialFill() {
	s.orderLog(model.SideSell, "100", "6")

	out := s.register(1, "X", model.SideBuy, "101", "10", model.TimeInForceCancelBalance)

	fills := trades(out, "X")
	s.Require().Len(fills, 1)
	s.True(fills[0].TradeVolume.Decimal.Equal(d("6")))

	reports := orderReports(out)
	last := reports[len(reports)-1]
	s.Equal(model.OrderStateDone, last.OrderState)
	s.True(last.Balance.Decimal.Equal(d("4")))
	s.Empty(s.engine.Book().Bids.Snapshot())
	s.Empty(s.engine.ActiveOrders())
	s.True(s.host.ledger("X").released.Equal(d("4")))
}

func (s *EngineSuite) TestMarketOrderRemainderIsCancelled() {
	s.orderLog(model.SideSell, "100", "3")

	out := s.process(&model.OrderRegister{
		Header: s.at(0), SecurityID: sec, TransactionID: 1, Side: model.SideBuy,
		OrderType: model.OrderTypeMarket, Volume: d("5"), PortfolioName: "X",
	})

	s.Len(trades(out, "X"), 1)
	reports := orderReports(out)
	last := reports[len(reports)-1]
	s.Equal(model.OrderStateDone, last.OrderState)
	s.True(last.Balance.Decimal.Equal(d("2")))
	s.Empty(s.engine.ActiveOrders())
	s.True(s.host.ledger("X").released.Equal(d("2")))
}

func (s *EngineSuite) TestCrossTradeStopsMatching() {
	s.register(1, "P", model.SideSell, "100", "5", "")

	out := s.register(2, "P", model.SideBuy, "101", "5", "")

	s.Empty(trades(out, "P"))
	reports := orderReports(out)
	s.Require().Len(reports, 2)
	s.Equal(model.OrderStateDone, reports[1].OrderState)
	s.Equal(int64(2), reports[1].OriginalTransactionID)

	s.Equal(map[string]string{"100": "5"}, quotes(s.engine.Book().Asks.Snapshot()))
	s.Empty(s.engine.Book().Bids.Snapshot())
	s.True(s.host.ledger("P").released.Equal(d("5")))
}

func (s *EngineSuite) TestCrossTradeAddsItsOwnDoneReport() {
	s.orderLog(model.SideSell, "100", "2")
	s.register(1, "P", model.SideSell, "100", "5", "")

	out := s.register(2, "P", model.SideBuy, "101", "5", model.TimeInForceCancelBalance)

	fills := trades(out, "P")
	s.Require().Len(fills, 1)
	s.True(fills[0].TradeVolume.Decimal.Equal(d("2")))

	reports := orderReports(out)
	s.Require().Len(reports, 3)
	s.Equal(model.OrderStateActive, reports[0].OrderState)
	for _, r := range reports[1:] {
		s.Equal(model.OrderStateDone, r.OrderState)
		s.Equal(int64(2), r.OriginalTransactionID)
		s.True(r.Balance.Decimal.Equal(d("3")))
	}

	s.Equal(map[string]string{"100": "5"}, quotes(s.engine.Book().Asks.Snapshot()))
	s.True(s.host.ledger("P").released.Equal(d("3")))
}

func (s *EngineSuite) TestFillOrKillStoppedByCrossTrade() {
	s.register(1, "P", model.SideSell, "100", "5", "")

	out := s.register(2, "P", model.SideBuy, "101", "5", model.TimeInForceMatchOrCancel)

	s.Empty(trades(out, "P"))
	reports := orderReports(out)
	s.Require().Len(reports, 3)
	s.Equal(model.OrderStateDone, reports[1].OrderState)
	s.Equal(model.OrderStateDone, reports[2].OrderState)
	s.Equal(map[string]string{"100": "5"}, quotes(s.engine.Book().Asks.Snapshot()))
}

func (s *EngineSuite) TestLatencyDelaysAcceptance() {
	s.settings.Latency = 500 * time.Millisecond
	s.reset()

	out := s.register(1, "X", model.SideBuy, "100", "5", "")
	s.Empty(orderReports(out))
	s.Equal(1, s.engine.PendingCount())

	out = s.process(&model.TimeTick{Header: s.at(499 * time.Millisecond)})
	s.Empty(orderReports(out))

	out = s.process(&model.TimeTick{Header: s.at(500 * time.Millisecond)})
	reports := orderReports(out)
	s.Require().Len(reports, 1)
	s.Equal(model.OrderStateActive, reports[0].OrderState)
	s.Equal(s.t0.Add(500*time.Millisecond), reports[0].LocalTime)
	s.Zero(s.engine.PendingCount())
}

func (s *EngineSuite) TestInjectedFailure() {
	s.settings.Failing = 100
	s.reset()

	out := s.register(1, "X", model.SideBuy, "100", "5", "")

	reports := orderReports(out)
	s.Require().Len(reports, 1)
	s.Equal(model.OrderStateFailed, reports[0].OrderState)
	s.True(errors.Is(reports[0].Error, errors.ErrInjectedFailure))
	s.True(reports[0].Balance.Decimal.Equal(d("5")))
	s.Empty(s.engine.ActiveOrders())
}

func (s *EngineSuite) TestHostRejection() {
	s.host.reject = errors.ErrMarketClosed.Explain("board closed")

	out := s.register(1, "X", model.SideBuy, "100", "5", "")

	reports := orderReports(out)
	s.Require().Len(reports, 1)
	s.Equal(model.OrderStateFailed, reports[0].OrderState)
	s.Equal(errors.KindMarketClosed, reports[0].Error.Kind)
	s.Empty(s.engine.Book().Bids.Snapshot())
}

func (s *EngineSuite) TestCancel() {
	s.register(1, "X", model.SideBuy, "100", "5", "")

	out := s.process(&model.OrderCancel{Header: s.at(0), SecurityID: sec, TransactionID: 2, OriginalTransactionID: 1, PortfolioName: "X"})

	reports := orderReports(out)
	s.Require().Len(reports, 1)
	s.Equal(model.OrderStateDone, reports[0].OrderState)
	s.True(reports[0].IsCancellation)
	s.Equal(int64(1), reports[0].OriginalTransactionID)
	s.Empty(s.engine.Book().Bids.Snapshot())
	s.True(s.host.ledger("X").released.Equal(d("5")))

	out = s.process(&model.OrderCancel{Header: s.at(0), SecurityID: sec, TransactionID: 3, OriginalTransactionID: 1, PortfolioName: "X"})
	reports = orderReports(out)
	s.Require().Len(reports, 1)
	s.Equal(model.OrderStateFailed, reports[0].OrderState)
	s.Equal(errors.KindOrderNotFound, reports[0].Error.Kind)
}

func (s *EngineSuite) TestReplaceInheritsBalance() {
	s.register(1, "X", model.SideBuy, "100", "5", "")

	out := s.process(&model.OrderReplace{
		Header: s.at(0), SecurityID: sec, TransactionID: 2, OriginalTransactionID: 1,
		Side: model.SideBuy, Price: d("99"), PortfolioName: "X",
	})

	reports := orderReports(out)
	s.Require().Len(reports, 2)
	s.Equal(model.OrderStateDone, reports[0].OrderState)
	s.Equal(int64(1), reports[0].OriginalTransactionID)
	s.Equal(model.OrderStateActive, reports[1].OrderState)
	s.Equal(int64(2), reports[1].OriginalTransactionID)
	s.True(reports[1].Balance.Decimal.Equal(d("5")))
	s.Equal(map[string]string{"99": "5"}, quotes(s.engine.Book().Bids.Snapshot()))
}

func (s *EngineSuite) TestReplaceUnknownOrderFailsBothHalves() {
	out := s.process(&model.OrderReplace{
		Header: s.at(0), SecurityID: sec, TransactionID: 7, OriginalTransactionID: 3,
		Side: model.SideBuy, Price: d("99"), Volume: d("1"), PortfolioName: "X",
	})

	reports := orderReports(out)
	s.Require().Len(reports, 2)
	for _, r := range reports {
		s.Equal(model.OrderStateFailed, r.OrderState)
		s.Equal(int64(7), r.OriginalTransactionID)
	}
	s.True(reports[0].IsCancellation)
	s.False(reports[1].IsCancellation)
}

func (s *EngineSuite) TestOrderLogFillsRestingOrderAsMaker() {
	s.register(1, "X", model.SideBuy, "100", "5", "")

	out := s.orderLog(model.SideSell, "99", "3")

	fills := trades(out, "X")
	s.Require().Len(fills, 1)
	s.True(fills[0].IsMaker)
	s.True(fills[0].TradePrice.Decimal.Equal(d("100")))
	s.True(fills[0].TradeVolume.Decimal.Equal(d("3")))

	reports := orderReports(out)
	s.Require().Len(reports, 1)
	s.Equal(model.OrderStateActive, reports[0].OrderState)
	s.True(reports[0].Balance.Decimal.Equal(d("2")))

	s.Equal(map[string]string{"100": "2"}, quotes(s.engine.Book().Bids.Snapshot()))
	s.Empty(s.engine.Book().Asks.Snapshot())
}

func (s *EngineSuite) TestOrderLogCancellationRemovesSyntheticVolume() {
	s.orderLog(model.SideBuy, "100", "5")
	s.process(&model.Execution{
		Header: s.at(0), SecurityID: sec, DataType: model.DataTypeOrderLog, HasOrderInfo: true,
		Side: model.SideBuy, OrderPrice: d("100"), OrderVolume: d("3"), IsCancellation: true,
	})
	s.Equal(map[string]string{"100": "2"}, quotes(s.engine.Book().Bids.Snapshot()))
}

func (s *EngineSuite) TestIncreaseDepthVolume() {
	s.settings.IncreaseDepthVolume = true
	s.reset()
	s.orderLog(model.SideSell, "100", "5")

	out := s.register(1, "X", model.SideBuy, "102", "10", "")

	var total decimal.Decimal
	for _, f := range trades(out, "X") {
		total = total.Add(f.TradeVolume.Decimal)
	}
	s.True(total.Equal(d("10")))
	s.Equal(map[string]string{"101": "5"}, quotes(s.engine.Book().Asks.Snapshot()))
}

func (s *EngineSuite) TestExpiryReleasesOrder() {
	expiry := s.t0
	s.process(&model.OrderRegister{
		Header: s.at(0), SecurityID: sec, TransactionID: 1, Side: model.SideBuy,
		Price: d("100"), Volume: d("5"), PortfolioName: "X", ExpiryDate: &expiry,
	})

	out := s.process(&model.TimeTick{Header: s.at(time.Hour)})
	s.Empty(orderReports(out))

	out = s.process(&model.TimeTick{Header: s.at(14 * time.Hour)})
	reports := orderReports(out)
	s.Require().Len(reports, 1)
	s.Equal(model.OrderStateDone, reports[0].OrderState)
	s.Empty(s.engine.ActiveOrders())
	s.Empty(s.engine.Book().Bids.Snapshot())
	s.True(s.host.ledger("X").released.Equal(d("5")))
}

func (s *EngineSuite) TestGroupCancelAndStatus() {
	s.register(1, "X", model.SideBuy, "99", "1", "")
	s.register(2, "X", model.SideBuy, "98", "1", "")
	s.register(3, "Y", model.SideBuy, "97", "1", "")

	out := s.process(&model.OrderStatusRequest{Header: s.at(0), TransactionID: 10, PortfolioName: "x"})
	s.Len(out, 2)
	for _, m := range out {
		s.Equal(int64(10), m.(*model.Execution).OriginalTransactionID)
	}

	out = s.process(&model.OrderStatusRequest{Header: s.at(0), TransactionID: 11, OrderID: 3})
	s.Require().Len(out, 1)
	s.Equal("Y", out[0].(*model.Execution).PortfolioName)

	out = s.process(&model.OrderStatusRequest{Header: s.at(0), TransactionID: 13, OrderID: 99})
	s.Empty(out)

	out = s.process(&model.OrderGroupCancel{Header: s.at(0), TransactionID: 12, PortfolioName: "X"})
	s.Len(orderReports(out), 2)
	active := s.engine.ActiveOrders()
	s.Require().Len(active, 1)
	s.Equal("Y", active[0].PortfolioName)
}

func (s *EngineSuite) TestBookDiffReconcilesSyntheticLevels() {
	s.process(&model.OrderBookSnapshot{
		Header: s.at(0), SecurityID: sec,
		Bids: []model.Quote{{Price: d("99"), Volume: d("10")}, {Price: d("98"), Volume: d("5")}},
		Asks: []model.Quote{{Price: d("101"), Volume: d("7")}},
	})
	s.register(1, "X", model.SideBuy, "98", "2", "")

	s.process(&model.OrderBookSnapshot{
		Header: s.at(time.Second), SecurityID: sec,
		Bids: []model.Quote{{Price: d("99"), Volume: d("4")}, {Price: d("97"), Volume: d("3")}},
		Asks: []model.Quote{{Price: d("100"), Volume: d("6")}, {Price: d("101"), Volume: d("7")}},
	})

	s.Equal(map[string]string{"99": "4", "98": "2", "97": "3"}, quotes(s.engine.Book().Bids.Snapshot()))
	s.Equal(map[string]string{"100": "6", "101": "7"}, quotes(s.engine.Book().Asks.Snapshot()))
	s.Len(s.engine.ActiveOrders(), 1)
}

func (s *EngineSuite) TestBookDiffConservesVolume() {
	q := func(price, volume string) model.Quote { return model.Quote{Price: d(price), Volume: d(volume)} }
	type order struct{ price, volume string }

	cases := []struct {
		name      string
		initial   []model.Quote
		user      []order
		snapshots [][]model.Quote
		want      map[string]string
	}{
		{
			name:      "user order at a snapshot price",
			initial:   []model.Quote{q("99", "10"), q("98", "5")},
			user:      []order{{"99", "5"}},
			snapshots: [][]model.Quote{{q("99", "10"), q("98", "5")}},
			want:      map[string]string{"99": "10", "98": "5"},
		},
		{
			name:      "repeated identical snapshots",
			initial:   []model.Quote{q("99", "10"), q("98", "5")},
			user:      []order{{"99", "5"}, {"98", "2"}},
			snapshots: [][]model.Quote{{q("99", "10"), q("98", "5")}, {q("99", "10"), q("98", "5")}, {q("99", "10"), q("98", "5")}},
			want:      map[string]string{"99": "10", "98": "5"},
		},
		{
			name:      "snapshot below the resting user volume",
			initial:   []model.Quote{q("99", "10")},
			user:      []order{{"99", "15"}},
			snapshots: [][]model.Quote{{q("99", "4")}, {q("99", "4")}},
			want:      map[string]string{"99": "15"},
		},
		{
			name:      "snapshot grows over the user order",
			initial:   []model.Quote{q("99", "10")},
			user:      []order{{"99", "5"}},
			snapshots: [][]model.Quote{{q("99", "20")}},
			want:      map[string]string{"99": "20"},
		},
		{
			name:      "user price gone from the snapshot",
			initial:   []model.Quote{q("99", "10"), q("98", "5")},
			user:      []order{{"98", "2"}},
			snapshots: [][]model.Quote{{q("99", "10"), q("97", "3")}},
			want:      map[string]string{"99": "10", "98": "2", "97": "3"},
		},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.reset()
			asks := []model.Quote{q("101", "10")}
			s.process(&model.OrderBookSnapshot{Header: s.at(0), SecurityID: sec, Bids: tc.initial, Asks: asks})
			for i, o := range tc.user {
				s.register(int64(i+1), "X", model.SideBuy, o.price, o.volume, "")
			}

			for i, bids := range tc.snapshots {
				out := s.process(&model.OrderBookSnapshot{Header: s.at(time.Duration(i+1) * time.Second), SecurityID: sec, Bids: bids, Asks: asks})
				s.Empty(trades(out, "X"))
				s.Equal(tc.want, quotes(s.engine.Book().Bids.Snapshot()), "snapshot %d", i+1)
				s.Equal(map[string]string{"101": "10"}, quotes(s.engine.Book().Asks.Snapshot()))
			}

			active := s.engine.ActiveOrders()
			s.Require().Len(active, len(tc.user))
			for i, o := range active {
				s.Equal(model.OrderStateActive, o.OrderState)
				s.True(o.GetBalance().Equal(d(tc.user[i].volume)), "order %d balance %s", o.TransactionID, o.GetBalance())
			}
		})
	}
}

func (s *EngineSuite) TestDepthSubscriptionEmitsOwnBook() {
	s.process(&model.MarketDataSubscription{Header: s.at(0), SecurityID: sec, TransactionID: 5, DataType: model.MarketDataDepth, IsSubscribe: true})

	out := s.register(1, "X", model.SideBuy, "100", "5", "")
	var snapshot *model.OrderBookSnapshot
	for _, m := range out {
		if b, ok := m.(*model.OrderBookSnapshot); ok {
			snapshot = b
		}
	}
	s.Require().NotNil(snapshot)
	s.Equal(map[string]string{"100": "5"}, quotes(snapshot.Bids))

	s.process(&model.MarketDataSubscription{Header: s.at(0), SecurityID: sec, OriginalTransactionID: 5, DataType: model.MarketDataDepth})
	out = s.register(2, "X", model.SideBuy, "99", "5", "")
	for _, m := range out {
		s.NotEqual(model.KindOrderBookSnapshot, m.Kind())
	}
}

func TestTickInference(t *testing.T) {
	e, err := New(sec, newFakeHost(), testSettings(), zaptest.NewLogger(t), 1)
	require.NoError(t, err)
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tick := func(price, volume string) {
		var out model.Batch
		require.NoError(t, e.Process(&model.Execution{
			Header:      model.Header{LocalTime: t0, ServerTime: t0},
			SecurityID:  sec,
			DataType:    model.DataTypeTicks,
			TradePrice:  decimal.NewNullDecimal(d(price)),
			TradeVolume: decimal.NewNullDecimal(d(volume)),
		}, &out))
		require.NoError(t, e.Book().Verify())
	}

	tick("100", "3")
	assert.True(t, e.Definition().PriceStep.Equal(d("1")))
	assert.Equal(t, map[string]string{"100": "3"}, quotes(e.Book().Asks.Snapshot()))
	assert.Equal(t, map[string]string{"98": "3"}, quotes(e.Book().Bids.Snapshot()))

	tick("97", "4")
	assert.Equal(t, map[string]string{"97": "4"}, quotes(e.Book().Bids.Snapshot()))
	assert.Equal(t, map[string]string{"99": "4", "100": "3"}, quotes(e.Book().Asks.Snapshot()))
}

func TestTickInsideSpreadFillsGaps(t *testing.T) {
	run := func(seed int64) ([]model.Quote, []model.Quote) {
		e, err := New(sec, newFakeHost(), testSettings(), zaptest.NewLogger(t), seed)
		require.NoError(t, err)
		t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		var out model.Batch
		require.NoError(t, e.Process(&model.OrderBookSnapshot{
			Header: model.Header{LocalTime: t0, ServerTime: t0}, SecurityID: sec,
			Bids: []model.Quote{{Price: d("90"), Volume: d("10")}},
			Asks: []model.Quote{{Price: d("110"), Volume: d("10")}},
		}, &out))
		require.NoError(t, e.Process(&model.Execution{
			Header: model.Header{LocalTime: t0, ServerTime: t0}, SecurityID: sec,
			DataType: model.DataTypeTicks, TradePrice: decimal.NewNullDecimal(d("100")),
		}, &out))
		require.NoError(t, e.Book().Verify())
		return e.Book().Bids.Snapshot(), e.Book().Asks.Snapshot()
	}

	bids, asks := run(7)
	require.Len(t, asks, 5)
	require.Len(t, bids, 5)
	for i, price := range []string{"102", "104", "106", "108", "110"} {
		assert.True(t, asks[i].Price.Equal(d(price)), "ask %d", i)
	}
	for i, price := range []string{"98", "96", "94", "92", "90"} {
		assert.True(t, bids[i].Price.Equal(d(price)), "bid %d", i)
	}
	for _, q := range append(bids[:4:4], asks[:4]...) {
		assert.True(t, q.Volume.GreaterThanOrEqual(d("10")) && q.Volume.LessThan(d("100")), "volume %s", q.Volume)
	}

	bids2, asks2 := run(7)
	assert.Equal(t, bids, bids2)
	assert.Equal(t, asks, asks2)
}

func TestPriceLimitsOncePerDay(t *testing.T) {
	settings := testSettings()
	settings.PriceLimitOffset = d("40")
	host := newFakeHost()
	e, err := New(sec, host, settings, zaptest.NewLogger(t), 1)
	require.NoError(t, err)
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, at := range []time.Time{t0, t0.Add(time.Hour), t0.AddDate(0, 0, 1)} {
		var out model.Batch
		require.NoError(t, e.Process(&model.Execution{
			Header: model.Header{LocalTime: at, ServerTime: at}, SecurityID: sec,
			DataType: model.DataTypeTicks, TradePrice: decimal.NewNullDecimal(d("100")),
		}, &out))
	}

	require.Len(t, host.level1, 2)
	minPrice, _ := host.level1[0].Get(model.Level1MinPrice)
	maxPrice, _ := host.level1[0].Get(model.Level1MaxPrice)
	assert.True(t, minPrice.Equal(d("60")))
	assert.True(t, maxPrice.Equal(d("140")))
}

func TestCandleTicks(t *testing.T) {
	candle := &model.Candle{
		SecurityID: sec, OpenTime: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Open: d("100"), High: d("105"), Low: d("95"), Close: d("102"), TotalVolume: d("8"),
	}
	ticks := CandleTicks(candle, d("1"))
	require.Len(t, ticks, 4)

	want := []struct {
		price string
		side  model.Side
	}{{"100", model.SideBuy}, {"95", model.SideSell}, {"105", model.SideBuy}, {"102", model.SideBuy}}
	for i, w := range want {
		assert.True(t, ticks[i].TradePrice.Decimal.Equal(d(w.price)), "tick %d", i)
		assert.Equal(t, w.side, *ticks[i].OriginSide, "tick %d", i)
		assert.True(t, ticks[i].TradeVolume.Decimal.Equal(d("2")), "tick %d", i)
		assert.Equal(t, candle.OpenTime, ticks[i].ServerTime)
	}

	candle.TotalVolume = d("6")
	assert.Len(t, CandleTicks(candle, d("1")), 3)

	candle.TotalVolume = d("1")
	assert.Len(t, CandleTicks(candle, d("1")), 1)
}

func TestCandleReleasedAfterOpenTime(t *testing.T) {
	e, err := New(sec, newFakeHost(), testSettings(), zaptest.NewLogger(t), 1)
	require.NoError(t, err)
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	var out model.Batch
	require.NoError(t, e.Process(&model.Candle{
		Header: model.Header{LocalTime: t0, ServerTime: t0}, SecurityID: sec, OpenTime: t0,
		Open: d("100"), High: d("105"), Low: d("95"), Close: d("102"), TotalVolume: d("8"),
	}, &out))
	for _, m := range out {
		assert.NotEqual(t, model.KindCandle, m.Kind())
	}

	out = nil
	require.NoError(t, e.Process(&model.TimeTick{Header: model.Header{LocalTime: t0.Add(time.Minute)}}, &out))
	kinds := make([]model.Kind, 0, len(out))
	for _, m := range out {
		kinds = append(kinds, m.Kind())
	}
	assert.Contains(t, kinds, model.KindTimeTick)
	assert.Equal(t, model.KindCandle, kinds[len(kinds)-1])
	require.NoError(t, e.Book().Verify())
}

func TestStepOfAndShrinkPrice(t *testing.T) {
	assert.True(t, stepOf(d("101.50")).Equal(d("0.1")))
	assert.True(t, stepOf(d("100")).Equal(d("1")))
	assert.True(t, stepOf(d("0.005")).Equal(d("0.001")))

	assert.True(t, ShrinkPrice(d("60.004"), d("0.01")).Equal(d("60")))
	assert.True(t, ShrinkPrice(d("60.005"), d("0.01")).Equal(d("60.01")))
	assert.True(t, ShrinkPrice(d("61"), d("5")).Equal(d("60")))
}

func TestUnsupportedMessage(t *testing.T) {
	e, err := New(sec, newFakeHost(), testSettings(), zaptest.NewLogger(t), 1)
	require.NoError(t, err)
	var out model.Batch
	err = e.Process(&model.Reset{}, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInternal))
}

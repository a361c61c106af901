package bot

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/pkg/utils"
)

// DiscoveredPosition - позиция, найденная на бирже
type DiscoveredPosition struct {
	Exchange      string
	Symbol        string
	Side          models.PositionSide
	Size          float64
	EntryPrice    float64
	UnrealizedPnl float64
}

// discoverOpenPositions параллельно опрашивает биржи
// Ошибка одной биржи не мешает остальным
func (m *PositionMonitor) discoverOpenPositions(ctx context.Context) ([]DiscoveredPosition, []error) {
	var (
		positions []DiscoveredPosition
		errs      []error
		mu        sync.Mutex
		wg        sync.WaitGroup
	)

	for name, gw := range m.gateways {
		wg.Add(1)
		go func(exchName string, ex exchange.Exchange) {
			defer wg.Done()

			reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
			defer cancel()

			open, err := ex.GetOpenPositions(reqCtx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", exchName, err))
				return
			}
			for _, pos := range open {
				if pos.Size <= 0 || pos.EntryPrice <= 0 {
					continue
				}
				positions = append(positions, DiscoveredPosition{
					Exchange:      exchName,
					Symbol:        pos.Symbol,
					Side:          pos.Side,
					Size:          pos.Size,
					EntryPrice:    pos.EntryPrice,
					UnrealizedPnl: pos.UnrealizedPnl,
				})
			}
		}(name, gw.Exchange())
	}

	wg.Wait()

	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Exchange != positions[j].Exchange {
			return positions[i].Exchange < positions[j].Exchange
		}
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions, errs
}

// LoadExisting импортирует открытые позиции бирж при старте
//
// Время открытия неизвестно, поэтому позиции считаются открытыми MaxAge назад:
// выход по времени закроет их на первом тике монитора, если раньше не
// сработают TP/SL.
func (m *PositionMonitor) LoadExisting(ctx context.Context) int {
	found, errs := m.discoverOpenPositions(ctx)
	for _, err := range errs {
		m.log.Warn("failed to load open positions", utils.Err(err))
		m.notifier.Send(fmt.Sprintf("⚠️ Failed to load positions: %v", err))
	}

	openedAt := m.now().Add(-m.cfg.Exit.MaxAge)
	for _, d := range found {
		pos := m.book.Open(models.Position{
			Exchange:   d.Exchange,
			Symbol:     d.Symbol,
			Side:       d.Side,
			EntryPrice: d.EntryPrice,
			Size:       d.Size,
			OpenedAt:   openedAt,
			Recovered:  true,
		})

		m.log.Warn("recovered open position",
			utils.PositionID(pos.ID), utils.Exchange(d.Exchange), utils.Symbol(d.Symbol),
			utils.Side(string(d.Side)), utils.Volume(d.Size), utils.Price(d.EntryPrice),
			utils.PNL(d.UnrealizedPnl))
		m.notifier.Send(fmt.Sprintf("♻️ Recovered %s %s on %s: size %.6f entry %.6f, PnL %.2f USDT",
			d.Side, d.Symbol, d.Exchange, d.Size, d.EntryPrice, d.UnrealizedPnl))
	}

	m.risk.SetPositions(m.book.Count())
	return len(found)
}

// VerifyPositions сравнивает нетто позиции таблицы с позициями бирж
// Возвращает описания расхождений
func (m *PositionMonitor) VerifyPositions(ctx context.Context) ([]string, error) {
	found, errs := m.discoverOpenPositions(ctx)
	if len(errs) > 0 {
		return nil, errs[0]
	}

	signed := func(side models.PositionSide, size float64) float64 {
		if side == models.SideShort {
			return -size
		}
		return size
	}

	local := make(map[string]float64)
	for _, p := range m.book.Snapshot() {
		local[models.PairKey(p.Exchange, p.Symbol)] += signed(p.Side, p.Size)
	}
	remote := make(map[string]float64)
	for _, d := range found {
		remote[models.PairKey(d.Exchange, d.Symbol)] += signed(d.Side, d.Size)
	}

	keys := make(map[string]struct{}, len(local)+len(remote))
	for k := range local {
		keys[k] = struct{}{}
	}
	for k := range remote {
		keys[k] = struct{}{}
	}

	var out []string
	for k := range keys {
		if math.Abs(local[k]-remote[k]) > 1e-9 {
			out = append(out, fmt.Sprintf("%s: local %.6f, exchange %.6f", k, local[k], remote[k]))
		}
	}
	sort.Strings(out)
	return out, nil
}

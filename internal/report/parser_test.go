package report

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"market-trend-alerts/internal/market"
)

const sampleReport = `🎪 Рынок
Дерево: 96,342,449🪵
📉Купить/продать: 8.31/6.80💰
Камень: 12,004🪨
📈Купить/продать: 4.10/3.55💰
Лошади: 🐴
Купить/продать: 41.00/37.20💰`

func TestParseReport(t *testing.T) {
	now := time.Now()
	obs, err := Parse(sampleReport, now, now)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(obs) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(obs))
	}

	wood := obs[0]
	if wood.Resource != market.Wood {
		t.Fatalf("first entry should be wood, got %s", wood.Resource)
	}
	if !wood.Buy.Equal(decimal.NewFromFloat(8.31)) || !wood.Sell.Equal(decimal.NewFromFloat(6.80)) {
		t.Fatalf("wood prices wrong: %s/%s", wood.Buy, wood.Sell)
	}
	if wood.Quantity != 96342449 {
		t.Fatalf("wood quantity wrong: %d", wood.Quantity)
	}
	if !wood.ObservedAt.Equal(now) {
		t.Fatal("observations must carry the message timestamp")
	}

	horses := obs[2]
	if horses.Resource != market.Horses || horses.Quantity != 0 {
		t.Fatalf("horses entry wrong: %s qty=%d", horses.Resource, horses.Quantity)
	}
}

func TestParseRejectsNonReport(t *testing.T) {
	now := time.Now()
	if _, err := Parse("Привет, как дела?", now, now); !errors.Is(err, ErrNotMarketReport) {
		t.Fatalf("expected ErrNotMarketReport, got %v", err)
	}
}

func TestParseRejectsStaleReport(t *testing.T) {
	now := time.Now()
	if _, err := Parse(sampleReport, now.Add(-2*time.Hour), now); !errors.Is(err, ErrStaleReport) {
		t.Fatalf("expected ErrStaleReport, got %v", err)
	}
}

func TestParseHeaderWithoutPrices(t *testing.T) {
	now := time.Now()
	if _, err := Parse("🎪 Рынок\nничего полезного", now, now); !errors.Is(err, ErrNoResources) {
		t.Fatalf("expected ErrNoResources, got %v", err)
	}
}

func TestParseOrphanPriceLineIgnored(t *testing.T) {
	now := time.Now()
	text := "🎪 Рынок\nКупить/продать: 1.00/0.90💰\nДерево: 10🪵\nКупить/продать: 8.00/7.00💰"
	obs, err := Parse(text, now, now)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(obs) != 1 || obs[0].Resource != market.Wood {
		t.Fatalf("only the wood pair should parse, got %v", obs)
	}
}

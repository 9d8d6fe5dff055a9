package report

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market-trend-alerts/internal/market"
)

// Header marks a forwarded market report.
const Header = "🎪 Рынок"

// MaxAge rejects reports forwarded long after they were produced; stale
// prices would poison the trend window.
const MaxAge = time.Hour

var (
	// ErrNotMarketReport means the text does not carry the market header.
	ErrNotMarketReport = errors.New("report: not a market report")
	// ErrStaleReport means the report is older than MaxAge.
	ErrStaleReport = errors.New("report: message older than one hour")
	// ErrNoResources means the header was present but no price line parsed.
	ErrNoResources = errors.New("report: no resource prices recognised")
)

var (
	// "Дерево: 96,342,449🪵"
	resourceLine = regexp.MustCompile(`^(.+?):\s*([0-9,]*)\s*(🪵|🪨|🍞|🐴)$`)
	// "📉Купить/продать: 8.31/6.80💰"
	priceLine = regexp.MustCompile(`(?:[📈📉]?\s*)?Купить/продать:\s*([0-9.]+)\s*/\s*([0-9.]+)\s*💰`)
)

// IsMarketReport reports whether the text looks like a forwarded market
// message worth parsing.
func IsMarketReport(text string) bool {
	return strings.Contains(text, Header)
}

// Parse turns a forwarded market report into an observation batch stamped
// with sentAt. The format interleaves a resource line with a price line:
//
//	Дерево: 96,342,449🪵
//	📉Купить/продать: 8.31/6.80💰
//
// Lines that match neither pattern are skipped.
func Parse(text string, sentAt time.Time, now time.Time) ([]market.Observation, error) {
	if !IsMarketReport(text) {
		return nil, ErrNotMarketReport
	}
	if now.Sub(sentAt) > MaxAge {
		return nil, ErrStaleReport
	}

	var (
		observations []market.Observation
		current      market.Resource
		quantity     int64
		haveResource bool
	)

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || line == Header {
			continue
		}

		if m := resourceLine.FindStringSubmatch(line); m != nil {
			resource, ok := market.ResourceByEmoji(m[3])
			if !ok {
				resource, ok = market.ResourceByTitle(strings.TrimSpace(m[1]))
			}
			if !ok {
				haveResource = false
				continue
			}
			current = resource
			quantity = parseQuantity(m[2])
			haveResource = true
			continue
		}

		if m := priceLine.FindStringSubmatch(line); m != nil && haveResource {
			buy, errBuy := decimal.NewFromString(m[1])
			sell, errSell := decimal.NewFromString(m[2])
			if errBuy != nil || errSell != nil {
				haveResource = false
				continue
			}
			observations = append(observations, market.Observation{
				Resource:   current,
				Buy:        buy,
				Sell:       sell,
				Quantity:   quantity,
				ObservedAt: sentAt,
			})
			haveResource = false
		}
	}

	if len(observations) == 0 {
		return nil, ErrNoResources
	}
	return observations, nil
}

func parseQuantity(raw string) int64 {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return 0
	}
	qty, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0
	}
	return qty
}

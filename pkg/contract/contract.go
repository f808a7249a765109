// Package contract maps ticker strings to gateway instruments and back.
package contract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gregtusar/twsbridge/pkg/models"
	"github.com/shopspring/decimal"
)

var ErrInvalidSymbolFormat = errors.New("invalid symbol format")

const (
	DefaultExchange   = "SMART"
	DefaultCurrency   = "USD"
	optionMultiplier  = "100"
	occRootWidth      = 6
	occStrikeExponent = -3
)

// ROOT YYMMDD C|P STRIKE*1000
var occPattern = regexp.MustCompile(`^([A-Z]{1,6})(\d{6})([CP])(\d{8})$`)

// ToInstrument decodes an equity ticker or an OCC option symbol.
func ToInstrument(symbol string) (models.Instrument, error) {
	s := strings.ToUpper(stripSpace(symbol))
	if s == "" {
		return models.Instrument{}, fmt.Errorf("%w: empty symbol", ErrInvalidSymbolFormat)
	}

	if !strings.ContainsFunc(s, unicode.IsDigit) {
		return models.Instrument{
			Symbol:   s,
			SecType:  models.AssetTypeEquity,
			Exchange: DefaultExchange,
			Currency: DefaultCurrency,
		}, nil
	}

	m := occPattern.FindStringSubmatch(s)
	if m == nil {
		return models.Instrument{}, fmt.Errorf("%w: %q is not an OCC option symbol", ErrInvalidSymbolFormat, symbol)
	}
	root, date, right, strikeDigits := m[1], m[2], m[3], m[4]

	if _, err := time.Parse("060102", date); err != nil {
		return models.Instrument{}, fmt.Errorf("%w: bad expiry %q in %q", ErrInvalidSymbolFormat, date, symbol)
	}
	thousandths, err := strconv.ParseInt(strikeDigits, 10, 64)
	if err != nil {
		return models.Instrument{}, fmt.Errorf("%w: bad strike %q in %q", ErrInvalidSymbolFormat, strikeDigits, symbol)
	}

	return models.Instrument{
		Symbol:      root,
		SecType:     models.AssetTypeOption,
		Exchange:    DefaultExchange,
		Currency:    DefaultCurrency,
		Expiry:      "20" + date,
		Right:       right,
		Strike:      decimal.New(thousandths, occStrikeExponent),
		Multiplier:  optionMultiplier,
		LocalSymbol: fmt.Sprintf("%-*s%s%s%s", occRootWidth, root, date, right, strikeDigits),
	}, nil
}

// FromInstrument is the inverse of ToInstrument, used to reconcile contracts
// echoed by the gateway with local state.
func FromInstrument(inst models.Instrument) string {
	if inst.SecType != models.AssetTypeOption {
		return strings.ToUpper(stripSpace(inst.Symbol))
	}
	if inst.LocalSymbol != "" {
		return strings.ToUpper(stripSpace(inst.LocalSymbol))
	}

	expiry := inst.Expiry
	if len(expiry) == 8 {
		expiry = expiry[2:]
	}
	strike := inst.Strike.Shift(-occStrikeExponent).IntPart()
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(inst.Symbol), expiry, inst.Right, strike)
}

// ParseSymbols splits a comma separated list, dropping blanks.
func ParseSymbols(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

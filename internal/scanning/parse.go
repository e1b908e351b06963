package scanning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// dateFormats are tried in order when the model does not follow the ISO format
var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ValidationError reports every way an analysis payload failed to match the
// expected receipt shape.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid receipt data: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// rawReceipt mirrors the JSON payload with pointers so absent fields can be told apart from zero values
type rawReceipt struct {
	Merchant    *string          `json:"merchant"`
	Date        *string          `json:"date"`
	TotalAmount *json.RawMessage `json:"totalAmount"`
	Items       *[]rawItem       `json:"items"`
}

type rawItem struct {
	Name     *string          `json:"name"`
	Quantity *float64         `json:"quantity"`
	Price    *json.RawMessage `json:"price"`
}

// extractJSONObject strips markdown fences and any chatter around the first JSON object
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// parseReceiptJSON parses and validates the text payload returned by an analysis backend
func parseReceiptJSON(text string) (*ReceiptData, error) {
	obj, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var raw rawReceipt
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &ValidationError{Problems: []string{
				fmt.Sprintf("%s: expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value),
			}}
		}
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("unmarshaling json: %w", err)
		}
		// decimal fields report their own errors for malformed numbers
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	return validate(raw)
}

func validate(raw rawReceipt) (*ReceiptData, error) {
	verr := &ValidationError{}
	data := &ReceiptData{}

	if raw.Merchant == nil {
		verr.add("merchant: missing")
	} else {
		data.Merchant = strings.TrimSpace(*raw.Merchant)
		if data.Merchant == "" {
			verr.add("merchant: empty")
		}
	}

	if raw.Date != nil {
		data.Date = parseDate(*raw.Date)
	}

	if raw.TotalAmount == nil {
		verr.add("totalAmount: missing")
	} else if total, ok := jsonNumber(*raw.TotalAmount); !ok {
		verr.add("totalAmount: must be a number")
	} else if total.IsNegative() {
		verr.add("totalAmount: negative")
	} else {
		data.TotalAmount = total.Round(2)
	}

	if raw.Items == nil {
		verr.add("items: missing")
	} else {
		data.Items = make([]Item, 0, len(*raw.Items))
		for i, ri := range *raw.Items {
			item := Item{Quantity: 1}
			if ri.Name == nil || strings.TrimSpace(*ri.Name) == "" {
				verr.add("items[%d].name: missing", i)
			} else {
				item.Name = strings.TrimSpace(*ri.Name)
			}
			if ri.Quantity != nil {
				q := *ri.Quantity
				if q < 1 || q > math.MaxInt32 || q != math.Trunc(q) {
					verr.add("items[%d].quantity: must be a positive whole number", i)
				} else {
					item.Quantity = int(q)
				}
			}
			if ri.Price == nil {
				verr.add("items[%d].price: missing", i)
			} else if price, ok := jsonNumber(*ri.Price); !ok {
				verr.add("items[%d].price: must be a number", i)
			} else if price.IsNegative() {
				verr.add("items[%d].price: negative", i)
			} else {
				item.Price = price.Round(2)
			}
			data.Items = append(data.Items, item)
		}
	}

	if len(verr.Problems) > 0 {
		return nil, verr
	}
	return data, nil
}

// jsonNumber accepts only a bare JSON number literal; quoted amounts are rejected
func jsonNumber(raw json.RawMessage) (decimal.Decimal, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return decimal.Decimal{}, false
	}
	n, ok := v.(json.Number)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// parseDate returns nil when the value is blank or in no known format
func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, format := range dateFormats {
		if d, err := time.Parse(format, value); err == nil {
			return &d
		}
	}
	return nil
}

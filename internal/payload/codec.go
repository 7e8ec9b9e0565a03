package payload

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrVariantMismatch is returned when a payload does not match the schema of its data type.
var ErrVariantMismatch = errors.New("payload: variant does not match data type")

// ErrUnknownDataType is returned for data types without a schema.
var ErrUnknownDataType = errors.New("payload: unknown data type")

// Check verifies that p is the variant stored for dataType.
func Check(dataType string, p Payload) error {
	want, ok := KindFor(dataType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDataType, dataType)
	}
	if p == nil {
		return fmt.Errorf("%w: nil payload for %s", ErrVariantMismatch, dataType)
	}
	if got := p.Kind(); got != want {
		return fmt.Errorf("%w: %s carries %s", ErrVariantMismatch, dataType, got)
	}
	return nil
}

// Encode serializes p for storage under dataType.
func Encode(dataType string, p Payload) ([]byte, error) {
	if errCheck := Check(dataType, p); errCheck != nil {
		return nil, errCheck
	}
	if s, ok := p.(Sentiment); ok {
		p = s.Normalize()
	}
	raw, errMarshal := json.Marshal(p)
	if errMarshal != nil {
		return nil, fmt.Errorf("payload: encode %s: %w", dataType, errMarshal)
	}
	return raw, nil
}

// Decode parses raw into the variant for dataType.
func Decode(dataType string, raw []byte) (Payload, error) {
	kind, ok := KindFor(dataType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataType, dataType)
	}
	switch kind {
	case KindInsiderTrades:
		return decodeInto[InsiderTrades](dataType, raw)
	case KindInstitutionalHoldings:
		return decodeInto[InstitutionalHoldings](dataType, raw)
	case KindEarningsCalendar:
		return decodeInto[EarningsCalendar](dataType, raw)
	case KindEarningsAnalysis:
		return decodeInto[EarningsAnalysis](dataType, raw)
	case KindSentiment:
		out, err := decodeInto[Sentiment](dataType, raw)
		if err != nil {
			return nil, err
		}
		return out.(Sentiment).Normalize(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataType, dataType)
	}
}

func decodeInto[T Payload](dataType string, raw []byte) (Payload, error) {
	var out T
	if errUnmarshal := json.Unmarshal(raw, &out); errUnmarshal != nil {
		return nil, fmt.Errorf("payload: decode %s: %w", dataType, errUnmarshal)
	}
	return out, nil
}

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Year is a 1-based degree year. It decodes from either a JSON number or a
// numeric JSON string, since clients and upstream disagree on the type.
type Year int

func (y *Year) UnmarshalJSON(data []byte) error {
	n, err := decodeNumber(data)
	if err != nil {
		return fmt.Errorf("year: %w", err)
	}
	*y = Year(int(n))
	return nil
}

// Credits is a CFU value, decoded leniently like Year.
type Credits float64

func (c *Credits) UnmarshalJSON(data []byte) error {
	n, err := decodeNumber(data)
	if err != nil {
		return fmt.Errorf("cfu: %w", err)
	}
	*c = Credits(n)
	return nil
}

func decodeNumber(data []byte) (float64, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return 0, nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, err
	}
	return f, nil
}

package bank

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// DecodeToneBank parses and validates a tone bank. Wave references are
// checked against wb when it is non-nil.
func DecodeToneBank(data []byte, wb *WaveBank) (*ToneBank, error) {
	var tb ToneBank
	if err := decode(data, &tb); err != nil {
		return nil, err
	}
	if err := ValidateTones(&tb, wb); err != nil {
		return nil, err
	}
	return &tb, nil
}

// DecodeWaveBank parses and validates a wave bank.
func DecodeWaveBank(data []byte) (*WaveBank, error) {
	var wb WaveBank
	if err := decode(data, &wb); err != nil {
		return nil, err
	}
	if err := ValidateWaves(&wb); err != nil {
		return nil, err
	}
	return &wb, nil
}

func DecodePhrase(data []byte) (*Phrase, error) {
	var p Phrase
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := ValidatePhrase(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func DecodeSong(data []byte) (*Song, error) {
	var s Song
	if err := decode(data, &s); err != nil {
		return nil, err
	}
	if err := ValidateSong(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func decode(data []byte, v any) error {
	if err := checkDuplicateKeys(data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// checkDuplicateKeys walks the document and reports the first object key
// that appears twice. encoding/json would silently keep the last one.
func checkDuplicateKeys(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var c collector
	if err := walk(dec, "", &c); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return c.err()
}

func walk(dec *json.Decoder, path string, c *collector) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch delim {
	case '{':
		seen := map[string]bool{}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			key := tok.(string)
			child := join(path, key)
			if seen[key] {
				c.add(child, "duplicate key")
			}
			seen[key] = true
			if err := walk(dec, child, c); err != nil {
				return err
			}
		}
	case '[':
		for i := 0; dec.More(); i++ {
			if err := walk(dec, join(path, strconv.Itoa(i)), c); err != nil {
				return err
			}
		}
	}
	_, err = dec.Token()
	return err
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

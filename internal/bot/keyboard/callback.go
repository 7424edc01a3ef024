// Package keyboard renders inline keyboards and encodes the callback payloads
// they carry. Callback data is `unique` or `unique:data`, capped at the
// Telegram 64-byte limit.
package keyboard

import (
	"errors"
	"fmt"
	"strings"
)

const (
	callbackSeparator  = ":"
	callbackLimitBytes = 64
)

// EncodeCallback packs a callback identifier and optional payload.
func EncodeCallback(unique, data string) (string, error) {
	payload := unique
	if data != "" {
		payload = unique + callbackSeparator + data
	}

	if len(payload) > callbackLimitBytes {
		return "", fmt.Errorf("callback data exceeds %d byte limit: got %d", callbackLimitBytes, len(payload))
	}

	return payload, nil
}

// DecodeCallback splits callback data back into identifier and payload.
func DecodeCallback(callbackData string) (unique, data string, err error) {
	if callbackData == "" {
		return "", "", errors.New("callback data is empty")
	}

	unique, data, _ = strings.Cut(callbackData, callbackSeparator)
	return unique, data, nil
}

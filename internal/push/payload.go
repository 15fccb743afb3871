// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package push

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/spaolacci/murmur3"

	"github.com/tomtom215/splitsync/internal/models"
)

// maxPayloadSize bounds a decompressed notification payload.
const maxPayloadSize = 16 << 20

// defaultDelayInterval spreads memberships fetches when the notification
// does not carry an interval.
const defaultDelayInterval = 60000 // ms

// ErrPayloadTooLarge is returned when a payload decompresses past maxPayloadSize.
var ErrPayloadTooLarge = errors.New("push: payload too large")

// decodePayload base64-decodes data and decompresses it.
func decodePayload(data string, c models.Compression) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 payload: %w", err)
	}

	var r io.ReadCloser
	switch c {
	case models.CompressionNone:
		return raw, nil
	case models.CompressionGzip:
		r, err = gzip.NewReader(bytes.NewReader(raw))
	case models.CompressionZlib:
		r, err = zlib.NewReader(bytes.NewReader(raw))
	default:
		return nil, fmt.Errorf("unknown payload compression %d", c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed payload: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	if len(out) > maxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	return out, nil
}

// decodeSplit decodes the split definition of a SPLIT_UPDATE notification.
func decodeSplit(n *models.SplitUpdate) (*models.Split, error) {
	raw, err := decodePayload(n.Data, n.Compression)
	if err != nil {
		return nil, err
	}
	var split models.Split
	if err := json.Unmarshal(raw, &split); err != nil {
		return nil, fmt.Errorf("failed to decode split payload: %w", err)
	}
	return &split, nil
}

// hashList accepts hashed keys encoded either as JSON numbers or strings.
type hashList []string

func (l *hashList) UnmarshalJSON(b []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, strings.Trim(string(item), `"`))
	}
	*l = out
	return nil
}

// keyList is the payload of a KEY_LIST memberships update: hashed keys
// added to and removed from the segment.
type keyList struct {
	Added   hashList `json:"a"`
	Removed hashList `json:"r"`
}

func decodeKeyList(n *models.MembershipsUpdate) (*keyList, error) {
	raw, err := decodePayload(n.Data, n.Compression)
	if err != nil {
		return nil, err
	}
	var kl keyList
	if err := json.Unmarshal(raw, &kl); err != nil {
		return nil, fmt.Errorf("failed to decode key list: %w", err)
	}
	return &kl, nil
}

// keyHash is the 64-bit hash identifying a user key in memberships payloads:
// the first half of its MurmurHash3 x64 128-bit hash.
type keyHash uint64

func hashKey(key string) keyHash {
	h1, _ := murmur3.Sum128WithSeed([]byte(key), 0)
	return keyHash(h1)
}

// dec is the decimal form used by key lists.
func (h keyHash) dec() string {
	return strconv.FormatUint(uint64(h), 10)
}

// inBitmap reports whether the key is flagged in a BOUNDED_FETCH_REQUEST
// bitmap. The index is the low 32 bits of the hash modulo the bitmap size.
func (h keyHash) inBitmap(bitmap []byte) bool {
	if len(bitmap) == 0 {
		return false
	}
	index := uint32(h) % uint32(len(bitmap)*8)
	return bitmap[index/8]&(1<<(index%8)) != 0
}

// membershipDelay spreads fetches of many clients over the notification
// interval. A zero hash algorithm disables the delay.
func membershipDelay(n *models.MembershipsUpdate, key string) time.Duration {
	if n.Algorithm == 0 {
		return 0
	}
	interval := n.Interval
	if interval <= 0 {
		interval = defaultDelayInterval
	}
	return time.Duration(int64(murmur3.Sum32WithSeed([]byte(key), n.HashSeed))%interval) * time.Millisecond
}

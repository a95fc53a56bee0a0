package storage

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/Abhiram-108/minitrello/domain"
)

var errBadToken = errors.New("malformed page token")

// encodePageToken packs the continuation keys into an opaque URL-safe token.
func encodePageToken(partitionKey, rowKey *string) string {
	if partitionKey == nil || rowKey == nil {
		return ""
	}
	if len(*partitionKey) == 0 || len(*rowKey) == 0 {
		return ""
	}
	pk := []byte(*partitionKey)
	rk := []byte(*rowKey)
	data := make([]byte, 8+len(pk)+len(rk))
	binary.BigEndian.PutUint32(data[0:4], uint32(len(pk)))
	binary.BigEndian.PutUint32(data[4:8], uint32(len(rk)))
	copy(data[8:], pk)
	copy(data[8+len(pk):], rk)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodePageToken(token string) (string, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", errBadToken
	}
	if len(data) < 8 {
		return "", "", errBadToken
	}
	pkLen := int(binary.BigEndian.Uint32(data[0:4]))
	rkLen := int(binary.BigEndian.Uint32(data[4:8]))
	if pkLen == 0 || rkLen == 0 || len(data) != 8+pkLen+rkLen {
		return "", "", errBadToken
	}
	return string(data[8 : 8+pkLen]), string(data[8+pkLen:]), nil
}

func sortCards(cards []domain.Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Position != cards[j].Position {
			return cards[i].Position < cards[j].Position
		}
		return cards[i].ID < cards[j].ID
	})
}

func sortLists(lists []domain.List) {
	sort.SliceStable(lists, func(i, j int) bool {
		if lists[i].Position != lists[j].Position {
			return lists[i].Position < lists[j].Position
		}
		return lists[i].ID < lists[j].ID
	})
}

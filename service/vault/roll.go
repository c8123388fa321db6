package vault

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Item rarities in ascending order of scarcity.
const (
	RarityCommon    = "common"
	RarityRare      = "rare"
	RarityEpic      = "epic"
	RarityLegendary = "legendary"
)

// rarityWeights is the fixed roll distribution in basis points.
var rarityWeights = []struct {
	rarity string
	weight uint64 // out of 10000
}{
	{RarityCommon, 5000},
	{RarityRare, 3000},
	{RarityEpic, 1500},
	{RarityLegendary, 500},
}

// itemPoolSize is the number of distinct item ids per rarity tier.
const itemPoolSize = 100

// RolledItem is the pre-committed result of a gacha roll.
type RolledItem struct {
	ItemID int    `json:"item_id"`
	Rarity string `json:"rarity"`
}

// rollItem draws a random rarity from the fixed weighted distribution and
// a uniform item id within that rarity's pool. Both draws come from a
// cryptographically strong source so the outcome cannot be predicted or
// biased by the caller.
func rollItem() (RolledItem, error) {
	roll, err := randUint64n(10000)
	if err != nil {
		return RolledItem{}, fmt.Errorf("failed to draw rarity: %w", err)
	}

	rarity := rarityWeights[len(rarityWeights)-1].rarity
	var cumulative uint64
	for _, entry := range rarityWeights {
		cumulative += entry.weight
		if roll < cumulative {
			rarity = entry.rarity
			break
		}
	}

	itemRoll, err := randUint64n(itemPoolSize)
	if err != nil {
		return RolledItem{}, fmt.Errorf("failed to draw item: %w", err)
	}

	return RolledItem{
		ItemID: int(itemRoll) + 1,
		Rarity: rarity,
	}, nil
}

// randUint64n returns a uniform random value in [0, n) from crypto/rand,
// using rejection sampling to avoid modulo bias.
func randUint64n(n uint64) (uint64, error) {
	limit := (^uint64(0)) - (^uint64(0))%n
	for {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint64(buf[:])
		if v < limit {
			return v % n, nil
		}
	}
}

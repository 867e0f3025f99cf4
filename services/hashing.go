package services

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

type domainKey [32]byte

// Domain separation keys for the keyed BLAKE3 uses below. Changing one changes
// every value derived in that domain.
var (
	oracleWordsDomain = domainKey{
		'f', 'i', 't', 'n', 'e', 's', 's', '.', 'o', 'r', 'a', 'c', 'l', 'e', '.',
		'w', 'o', 'r', 'd', 's', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
	messageIDDomain = domainKey{
		'f', 'i', 't', 'n', 'e', 's', 's', '.', 'c', 'c', 'i', 'p', '.',
		'm', 'e', 's', 's', 'a', 'g', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
	bonusWalkDomain = domainKey{
		'f', 'i', 't', 'n', 'e', 's', 's', '.', 'b', 'o', 'n', 'u', 's', '.',
		'w', 'a', 'l', 'k', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

func keyedSum(key domainKey, parts ...[]byte) [32]byte {
	// NewKeyed only fails on a key that is not 32 bytes long.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("services: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		hasher.Write(lenBuf[:])
		hasher.Write(p)
	}
	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}

func u64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// DeriveRandomWords expands (seed, requestID) into n pseudo-random words.
// Anyone holding the seed can recompute and check the words for a request.
func DeriveRandomWords(seed []byte, requestID string, n int) []uint64 {
	words := make([]uint64, n)
	for i := range words {
		sum := keyedSum(oracleWordsDomain, seed, []byte(requestID), u64Bytes(uint64(i)))
		words[i] = binary.BigEndian.Uint64(sum[:8])
	}
	return words
}

// deriveMessageID names an outbound message. The nonce keeps ids unique when the
// same payload is sent twice.
func deriveMessageID(source, destination uint64, nonce string, payload []byte) string {
	sum := keyedSum(messageIDDomain, u64Bytes(source), u64Bytes(destination), []byte(nonce), payload)
	return "0x" + hex.EncodeToString(sum[:])
}

// walkSeed mixes the update time, the scheduler nonce and the region id. This
// only feeds a gamification bonus; it is not a secure random source.
func walkSeed(unixSeconds int64, nonce uint64, regionID string) uint64 {
	sum := keyedSum(bonusWalkDomain, u64Bytes(uint64(unixSeconds)), u64Bytes(nonce), []byte(regionID))
	return binary.BigEndian.Uint64(sum[:8])
}

// services/codec.go
package services

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Core Deterministic Encoding: the same snapshot always yields the same bytes,
// which keeps message ids stable across retries of an identical send.
var (
	wireEncMode cbor.EncMode
	wireDecMode cbor.DecMode
)

func init() {
	var err error
	wireEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("services: CBOR encoder initialization failed: " + err.Error())
	}
	wireDecMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("services: CBOR decoder initialization failed: " + err.Error())
	}
}

// ScoreUpdatePayload is the body of a cross-chain score message.
type ScoreUpdatePayload struct {
	ExternalUserID      string `cbor:"1,keyasint"`
	TotalReps           int64  `cbor:"2,keyasint"`
	AverageFormAccuracy int64  `cbor:"3,keyasint"`
	BestStreak          int64  `cbor:"4,keyasint"`
	SessionsCompleted   int64  `cbor:"5,keyasint"`
	Timestamp           int64  `cbor:"6,keyasint"` // unix seconds at send time
}

// Envelope wraps a payload for transports that carry no routing metadata of their own.
type Envelope struct {
	MessageID     string `cbor:"1,keyasint"`
	SourceChain   uint64 `cbor:"2,keyasint"`
	DestChain     uint64 `cbor:"3,keyasint"`
	ComputeBudget uint64 `cbor:"4,keyasint"`
	Payload       []byte `cbor:"5,keyasint"`
}

func EncodeScoreUpdate(p ScoreUpdatePayload) ([]byte, error) {
	return wireEncMode.Marshal(p)
}

// DecodeScoreUpdate rejects anything that is not a well-formed payload for a named user.
func DecodeScoreUpdate(data []byte) (ScoreUpdatePayload, error) {
	var p ScoreUpdatePayload
	if len(data) == 0 {
		return p, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if err := wireDecMode.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.ExternalUserID == "" {
		return p, fmt.Errorf("%w: missing user", ErrMalformedPayload)
	}
	if p.TotalReps < 0 || p.AverageFormAccuracy < 0 || p.BestStreak < 0 || p.SessionsCompleted < 0 {
		return p, fmt.Errorf("%w: negative counter", ErrMalformedPayload)
	}
	return p, nil
}

func encodeEnvelope(env Envelope) ([]byte, error) {
	return wireEncMode.Marshal(env)
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := wireDecMode.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: envelope: %v", ErrMalformedPayload, err)
	}
	if env.MessageID == "" {
		return env, fmt.Errorf("%w: envelope without message id", ErrMalformedPayload)
	}
	return env, nil
}

// services/transport.go
package services

import (
	"context"
)

// CrossChainTransport is the outbound half of a cross-chain channel. Delivery is
// at-least-once: the receiving side dedups by message id.
type CrossChainTransport interface {
	EstimateFee(ctx context.Context, destination uint64, payload []byte, computeBudget uint64) (uint64, error)
	Send(ctx context.Context, destination uint64, payload []byte, computeBudget uint64) (messageID string, err error)
}

// InboundMessage is one delivery from a remote chain.
type InboundMessage struct {
	SourceChain uint64 `json:"source_chain"`
	MessageID   string `json:"message_id"`
	Payload     []byte `json:"payload"`
}

// InboundHandler consumes deliveries; CrossChainSync implements it.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg InboundMessage) error
}

// FeeSchedule prices a delivery by payload size and compute budget.
type FeeSchedule struct {
	BaseFee        uint64 `yaml:"base_fee" json:"base_fee"`
	PerByteFee     uint64 `yaml:"per_byte_fee" json:"per_byte_fee"`
	PerComputeUnit uint64 `yaml:"per_compute_unit" json:"per_compute_unit"`
}

func (f FeeSchedule) Fee(payloadLen int, computeBudget uint64) uint64 {
	return f.BaseFee + f.PerByteFee*uint64(payloadLen) + f.PerComputeUnit*computeBudget
}

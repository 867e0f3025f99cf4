package models

import (
	"fmt"
	"strings"
)

// ServiceKind is the closed set of services the hub can dispatch to.
type ServiceKind int

const (
	ServiceChallenge ServiceKind = iota + 1
	ServiceBonus
	ServiceCrossChainSync
)

// AllServiceKinds in dispatch order.
var AllServiceKinds = []ServiceKind{ServiceChallenge, ServiceBonus, ServiceCrossChainSync}

func (k ServiceKind) String() string {
	switch k {
	case ServiceChallenge:
		return "challenge"
	case ServiceBonus:
		return "bonus"
	case ServiceCrossChainSync:
		return "crosschain"
	default:
		return fmt.Sprintf("service(%d)", int(k))
	}
}

func ParseServiceKind(s string) (ServiceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "challenge":
		return ServiceChallenge, nil
	case "bonus":
		return ServiceBonus, nil
	case "crosschain", "cross_chain", "crosschain_sync":
		return ServiceCrossChainSync, nil
	}
	return 0, fmt.Errorf("unknown service kind %q", s)
}

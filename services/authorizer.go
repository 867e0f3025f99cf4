package services

import "strings"

// Authorizer gates every administrative entry point behind a single operator identity.
type Authorizer struct {
	OperatorID string
}

func NewAuthorizer(operatorID string) Authorizer {
	return Authorizer{OperatorID: strings.TrimSpace(operatorID)}
}

// Authorize fails unless caller is the configured operator. An unconfigured
// authorizer rejects everyone.
func (a Authorizer) Authorize(caller string) error {
	if a.OperatorID == "" || strings.TrimSpace(caller) != a.OperatorID {
		return ErrUnauthorized
	}
	return nil
}

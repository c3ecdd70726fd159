package exception

import "errors"

// Policy engine errors
var (
	ErrPolicyUnknownID   = errors.New("policy: unknown policy id")
	ErrPolicyDuplicateID = errors.New("policy: duplicate policy id")
)

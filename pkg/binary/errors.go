// 文件: pkg/binary/errors.go
package binary

import "errors"

var (
	ErrWagerNotFound     = errors.New("wager not found")
	ErrAlreadySettled    = errors.New("wager already settled")
	ErrInvalidWager      = errors.New("invalid wager")
	ErrRationaleRequired = errors.New("manual ruling requires a rationale")
)
